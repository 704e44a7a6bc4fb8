package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dronehire/realtime-service/internal/auth"
	"github.com/dronehire/realtime-service/internal/config"
	"github.com/dronehire/realtime-service/internal/domain"
	"github.com/dronehire/realtime-service/internal/handler"
	"github.com/dronehire/realtime-service/internal/hub"
	"github.com/dronehire/realtime-service/internal/presence"
	"github.com/dronehire/realtime-service/internal/relay"
	"github.com/dronehire/realtime-service/internal/repository"
	"github.com/dronehire/realtime-service/internal/service"
	"github.com/dronehire/realtime-service/pkg/database"
	"github.com/dronehire/realtime-service/pkg/jwt"
	pkglog "github.com/dronehire/realtime-service/pkg/log"
	"github.com/dronehire/realtime-service/pkg/middleware"
	"github.com/dronehire/realtime-service/pkg/pubsub"
	"github.com/dronehire/realtime-service/pkg/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	instanceID := cfg.Server.InstanceID
	if instanceID == "" {
		instanceID = defaultInstanceID()
	}

	// Initialize structured logger
	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty || cfg.Log.Level == "debug",
		ServiceName: "realtime-service",
		InstanceID:  instanceID,
	})
	logger := pkglog.L()

	// Connect to database using GORM
	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close(db)

	if cfg.Database.AutoMigrate {
		if err := database.AutoMigrate(db, domain.Models()...); err != nil {
			logger.Fatal().Err(err).Msg("failed to auto-migrate")
		}
		logger.Info().Msg("database migration completed")
	}
	store := repository.NewGormStore(db)

	// Shared Redis client for relay and presence
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		logger.Fatal().Err(err).Str("address", cfg.Redis.Address).Msg("failed to connect to redis")
	}
	pingCancel()
	logger.Info().Str("address", cfg.Redis.Address).Msg("redis connected")

	ps, err := newRelayTransport(cfg.Relay, rdb, instanceID)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Relay.Driver).Msg("failed to initialize relay transport")
	}
	defer ps.Close()

	var dir presence.Directory
	if cfg.Presence.Enabled {
		dir = presence.NewRedisDirectory(rdb, cfg.Presence, instanceID)
	}

	validator, err := newValidator(cfg.Auth, store)
	if err != nil {
		logger.Fatal().Err(err).Str("mode", cfg.Auth.Mode).Msg("failed to initialize auth")
	}

	// Initialize Hub
	wsHub := hub.NewHub(cfg.WebSocket)
	go wsHub.Run()

	rel := relay.New(ps, wsHub, instanceID, cfg.Realtime.RelayDedupWindow)
	svc := service.NewService(wsHub, store, validator, rel, dir, cfg.Realtime)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start realtime service")
	}
	go rel.Run(ctx)

	// Setup Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))

	var attachments service.AttachmentService
	if cfg.Attachments.Enabled {
		files, err := storage.New(ctx, cfg.Attachments.Storage)
		if err != nil {
			logger.Fatal().Err(err).Str("driver", cfg.Attachments.Storage.Driver).Msg("failed to initialize attachment storage")
		}
		attachments = service.NewAttachments(svc, files, cfg.Attachments)
	}

	authMiddleware := middleware.NewAuthMiddleware(auth.NewTokenValidator(validator))
	handler.NewWSHandler(wsHub, svc, cfg.Server.AllowedOrigins).RegisterRoutes(r)
	handler.NewHTTPHandler(svc, attachments, wsHub, authMiddleware).RegisterRoutes(r)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", addr).
			Str("db_driver", cfg.Database.Driver).
			Str("relay_driver", cfg.Relay.Driver).
			Str("auth_mode", cfg.Auth.Mode).
			Bool("presence", cfg.Presence.Enabled).
			Bool("attachments", cfg.Attachments.Enabled).
			Msg("realtime-service starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down realtime-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server forced to shutdown")
	}
	svc.Stop()
	wsHub.Stop()
	cancel()

	select {
	case <-rel.Done():
	case <-shutdownCtx.Done():
		logger.Warn().Msg("relay did not stop before shutdown timeout")
	}

	logger.Info().Msg("realtime-service stopped")
}

// newRelayTransport picks the cross-process transport. The redis driver
// reuses the shared client; kafka gets a consumer group per instance so
// every process sees every event.
func newRelayTransport(cfg pubsub.Config, rdb *redis.Client, instanceID string) (pubsub.PubSub, error) {
	switch cfg.Driver {
	case "kafka":
		cfg.Kafka.GroupID = "realtime-" + instanceID
		return pubsub.NewPubSub(cfg)
	case "redis", "":
		return pubsub.NewRedisPubSubFromClient(rdb, cfg.Redis.BufferSize), nil
	default:
		return nil, fmt.Errorf("unsupported relay driver: %s", cfg.Driver)
	}
}

func newValidator(cfg config.AuthConfig, store repository.ParticipantRepository) (auth.Validator, error) {
	switch cfg.Mode {
	case config.AuthModeJWT:
		manager, err := jwt.NewManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTExpiry)
		if err != nil {
			return nil, err
		}
		return auth.NewJWTValidator(manager), nil
	case config.AuthModeSession, "":
		return auth.NewSessionValidator(store), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "realtime"
	}
	return host + "-" + uuid.New().String()[:8]
}
