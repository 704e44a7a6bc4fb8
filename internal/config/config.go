package config

import (
	"fmt"
	"strings"
	"time"

	pkgconfig "github.com/dronehire/realtime-service/pkg/config"
	"github.com/dronehire/realtime-service/pkg/database"
	"github.com/dronehire/realtime-service/pkg/log"
	"github.com/dronehire/realtime-service/pkg/pubsub"
	"github.com/dronehire/realtime-service/pkg/storage"
	"github.com/spf13/viper"
)

// Auth modes.
const (
	AuthModeSession = "session"
	AuthModeJWT     = "jwt"
)

type Config struct {
	Server      ServerConfig
	WebSocket   WebSocketConfig
	Database    database.Config
	Redis       RedisConfig
	Relay       pubsub.Config
	Presence    PresenceConfig
	Auth        AuthConfig
	Realtime    RealtimeConfig
	Attachments AttachmentConfig
	Log         log.Config
}

type ServerConfig struct {
	Host            string
	Port            int
	InstanceID      string        `mapstructure:"instance_id"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBufferSize int           `mapstructure:"send_buffer_size"`
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type PresenceConfig struct {
	Enabled           bool
	Prefix            string
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	KeyTTL            time.Duration `mapstructure:"key_ttl"`
}

type AuthConfig struct {
	Mode      string
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTIssuer string        `mapstructure:"jwt_issuer"`
	JWTExpiry time.Duration `mapstructure:"jwt_expiry"`
}

type AttachmentConfig struct {
	Enabled       bool
	MaxUploadSize int64         `mapstructure:"max_upload_size"`
	URLExpiry     time.Duration `mapstructure:"url_expiry"`
	Storage       storage.Config
}

type RealtimeConfig struct {
	OperationTimeout         time.Duration `mapstructure:"operation_timeout"`
	RecentMessageLimit       int           `mapstructure:"recent_message_limit"`
	PendingNotificationLimit int           `mapstructure:"pending_notification_limit"`
	HistoryMaxLimit          int           `mapstructure:"history_max_limit"`
	RelayDedupWindow         int           `mapstructure:"relay_dedup_window"`
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper applies defaults and env bindings to v and decodes it.
func FromViper(v *viper.Viper) (*Config, error) {
	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.instance_id", "")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 8192)
	v.SetDefault("websocket.send_buffer_size", 256)
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "drone_rental")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.file_path", "realtime.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.conn_max_lifetime", 30)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("relay.driver", "redis")
	v.SetDefault("relay.redis.pool_size", 10)
	v.SetDefault("relay.redis.read_timeout", "3s")
	v.SetDefault("relay.redis.write_timeout", "3s")
	v.SetDefault("relay.redis.buffer_size", 256)
	v.SetDefault("relay.kafka.brokers", "localhost:9092")
	v.SetDefault("relay.kafka.group_id", "realtime")
	v.SetDefault("relay.kafka.partitions", 4)
	v.SetDefault("presence.enabled", true)
	v.SetDefault("presence.prefix", "realtime:presence")
	v.SetDefault("presence.heartbeat_interval", "10s")
	v.SetDefault("presence.key_ttl", "30s")
	v.SetDefault("auth.mode", AuthModeSession)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_issuer", "drone-rental")
	v.SetDefault("auth.jwt_expiry", "24h")
	v.SetDefault("realtime.operation_timeout", "5s")
	v.SetDefault("realtime.recent_message_limit", 50)
	v.SetDefault("realtime.pending_notification_limit", 50)
	v.SetDefault("realtime.history_max_limit", 200)
	v.SetDefault("realtime.relay_dedup_window", 1024)
	v.SetDefault("attachments.enabled", true)
	v.SetDefault("attachments.max_upload_size", 10<<20)
	v.SetDefault("attachments.url_expiry", "15m")
	v.SetDefault("attachments.storage.driver", "local")
	v.SetDefault("attachments.storage.local.base_path", "./data/attachments")
	v.SetDefault("attachments.storage.s3.region", "us-east-1")
	v.SetDefault("attachments.storage.s3.use_path_style", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "realtime-service")

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.instance_id", "INSTANCE_ID")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("relay.driver", "RELAY_DRIVER")
	v.BindEnv("relay.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("auth.mode", "AUTH_MODE")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("attachments.storage.driver", "STORAGE_DRIVER")
	v.BindEnv("attachments.storage.s3.endpoint", "S3_ENDPOINT")
	v.BindEnv("attachments.storage.s3.bucket", "S3_BUCKET")
	v.BindEnv("attachments.storage.s3.access_key_id", "S3_ACCESS_KEY_ID")
	v.BindEnv("attachments.storage.s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// Parse durations
	cfg.Server.ShutdownTimeout = parseDuration(v, "server.shutdown_timeout", 10*time.Second)
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Presence.HeartbeatInterval = parseDuration(v, "presence.heartbeat_interval", 10*time.Second)
	cfg.Presence.KeyTTL = parseDuration(v, "presence.key_ttl", 30*time.Second)
	cfg.Auth.JWTExpiry = parseDuration(v, "auth.jwt_expiry", 24*time.Hour)
	cfg.Realtime.OperationTimeout = parseDuration(v, "realtime.operation_timeout", 5*time.Second)
	cfg.Attachments.URLExpiry = parseDuration(v, "attachments.url_expiry", 15*time.Minute)
	cfg.Relay.Redis.ReadTimeout = parseDuration(v, "relay.redis.read_timeout", 3*time.Second)
	cfg.Relay.Redis.WriteTimeout = parseDuration(v, "relay.redis.write_timeout", 3*time.Second)

	// The redis relay shares the main Redis connection settings.
	cfg.Relay.Redis.Address = cfg.Redis.Address
	cfg.Relay.Redis.Password = cfg.Redis.Password
	cfg.Relay.Redis.DB = cfg.Redis.DB

	cfg.Auth.Mode = strings.ToLower(cfg.Auth.Mode)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Auth.Mode {
	case AuthModeSession:
	case AuthModeJWT:
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required when auth.mode is %q", AuthModeJWT)
		}
	default:
		return fmt.Errorf("unsupported auth.mode: %q", c.Auth.Mode)
	}
	if c.Realtime.RecentMessageLimit <= 0 {
		return fmt.Errorf("realtime.recent_message_limit must be positive")
	}
	if c.WebSocket.SendBufferSize <= 0 {
		c.WebSocket.SendBufferSize = 256
	}
	return nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
