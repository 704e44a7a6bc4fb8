package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dronehire/realtime-service/internal/domain"
	"github.com/dronehire/realtime-service/internal/hub"
	"github.com/dronehire/realtime-service/internal/service"
	"github.com/dronehire/realtime-service/pkg/log"
)

const connectedMessage = "Connected to realtime server"

type WSHandler struct {
	hub      *hub.Hub
	service  service.RealtimeService
	upgrader websocket.Upgrader
}

// NewWSHandler creates the websocket endpoint. An empty or "*" origin list
// accepts any origin.
func NewWSHandler(h *hub.Hub, svc service.RealtimeService, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		hub:     h,
		service: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	l := log.Ctx(c.Request.Context())

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), h.hub, conn)
	connLogger := l.With().Str(log.FieldConnectionID, client.ID).Logger()

	client.SetDisconnectHandler(func(cl *hub.Client) {
		ctx := log.WithLogger(context.Background(), h.clientLogger(connLogger, cl))
		if err := h.service.HandleDisconnect(ctx, cl); err != nil {
			lg := log.Ctx(ctx)
			lg.Warn().Err(err).Msg("disconnect cleanup failed")
		}
	})
	h.hub.Register(client)

	client.SendMessage(&domain.ConnectionMessage{
		Type:         domain.MsgTypeConnection,
		ConnectionID: client.ID,
		Message:      connectedMessage,
		Timestamp:    time.Now().UnixMilli(),
	})
	connLogger.Info().Msg("websocket connected")

	go client.WritePump()
	go client.ReadPump(func(cl *hub.Client, raw []byte) {
		h.handleMessage(h.clientLogger(connLogger, cl), cl, raw)
	})
}

// clientLogger adds the participant id once the connection has authenticated.
func (h *WSHandler) clientLogger(base zerolog.Logger, c *hub.Client) zerolog.Logger {
	if id := c.Session.GetUserID(); id != 0 {
		return base.With().Int64(log.FieldUserID, id).Logger()
	}
	return base
}

func (h *WSHandler) handleMessage(logger zerolog.Logger, client *hub.Client, raw []byte) {
	ctx := log.WithLogger(context.Background(), logger)

	msg, err := domain.DecodeInbound(raw)
	if err != nil {
		text := "Invalid message format"
		if errors.Is(err, domain.ErrUnknownType) {
			text = "Unknown message type"
		}
		logger.Debug().Err(err).Msg("rejected inbound frame")
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeInvalidFormat, text))
		return
	}

	ctx = log.WithFields(ctx, log.FieldEventType, msg.MessageType())
	if err := h.service.Dispatch(ctx, client, msg); err != nil {
		l := log.Ctx(ctx)
		l.Info().Err(err).Msg("operation rejected")
	}
}

func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/realtime/ws", h.HandleWebSocket)
}
