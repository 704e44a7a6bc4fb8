package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dronehire/realtime-service/internal/domain"
	"github.com/dronehire/realtime-service/internal/hub"
	"github.com/dronehire/realtime-service/internal/service"
	"github.com/dronehire/realtime-service/pkg/log"
	"github.com/dronehire/realtime-service/pkg/middleware"
	"github.com/dronehire/realtime-service/pkg/response"
)

type HTTPHandler struct {
	query       service.QueryService
	attachments service.AttachmentService
	hub         *hub.Hub
	auth        *middleware.AuthMiddleware
}

// NewHTTPHandler creates the REST handler. A nil attachments service leaves
// the attachment routes unregistered.
func NewHTTPHandler(query service.QueryService, attachments service.AttachmentService, h *hub.Hub, auth *middleware.AuthMiddleware) *HTTPHandler {
	return &HTTPHandler{
		query:       query,
		attachments: attachments,
		hub:         h,
		auth:        auth,
	}
}

func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	api.Use(h.auth.RequireAuth())
	{
		api.GET("/bookings/:booking_id/messages", h.GetMessages)
		api.GET("/bookings/:booking_id/tracking", h.GetTracking)
		api.GET("/notifications", h.GetNotifications)
		if h.attachments != nil {
			api.POST("/bookings/:booking_id/attachments", h.UploadAttachment)
			api.GET("/bookings/:booking_id/attachments/:name", h.GetAttachment)
		}
	}

	r.GET("/health", h.HealthCheck)
}

func (h *HTTPHandler) GetMessages(c *gin.Context) {
	caller, bookingID, limit, ok := h.bookingRequest(c)
	if !ok {
		return
	}

	messages, err := h.query.BookingMessages(c.Request.Context(), caller, bookingID, limit)
	if err != nil {
		h.queryError(c, err, "failed to get messages")
		return
	}
	if messages == nil {
		messages = []*domain.ChatMessage{}
	}
	response.List(c, messages, len(messages))
}

func (h *HTTPHandler) GetTracking(c *gin.Context) {
	caller, bookingID, limit, ok := h.bookingRequest(c)
	if !ok {
		return
	}

	points, err := h.query.BookingTracking(c.Request.Context(), caller, bookingID, limit)
	if err != nil {
		h.queryError(c, err, "failed to get tracking")
		return
	}
	if points == nil {
		points = []*domain.TrackingPoint{}
	}
	response.List(c, points, len(points))
}

func (h *HTTPHandler) GetNotifications(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		response.Unauthorized(c, "missing caller identity")
		return
	}
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	unreadOnly, err := strconv.ParseBool(c.DefaultQuery("unread_only", "false"))
	if err != nil {
		response.BadRequest(c, "unread_only must be a boolean")
		return
	}

	notes, err := h.query.Notifications(c.Request.Context(), caller, unreadOnly, limit)
	if err != nil {
		h.queryError(c, err, "failed to get notifications")
		return
	}
	if notes == nil {
		notes = []*domain.Notification{}
	}
	response.List(c, notes, len(notes))
}

func (h *HTTPHandler) UploadAttachment(c *gin.Context) {
	caller, bookingID, ok := h.bookingCaller(c)
	if !ok {
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "file is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.BadRequest(c, "failed to read upload")
		return
	}
	defer f.Close()

	att, err := h.attachments.Upload(c.Request.Context(), caller, bookingID, fh.Filename, fh.Header.Get("Content-Type"), fh.Size, f)
	if err != nil {
		if errors.Is(err, service.ErrAttachmentTooLarge) {
			response.Error(c, http.StatusRequestEntityTooLarge, "TOO_LARGE", "attachment exceeds the upload limit")
			return
		}
		h.queryError(c, err, "failed to store attachment")
		return
	}
	response.Created(c, att)
}

func (h *HTTPHandler) GetAttachment(c *gin.Context) {
	caller, bookingID, ok := h.bookingCaller(c)
	if !ok {
		return
	}

	rc, info, url, err := h.attachments.Open(c.Request.Context(), caller, bookingID, c.Param("name"))
	if err != nil {
		if errors.Is(err, service.ErrAttachmentNotFound) {
			response.NotFound(c, "attachment not found")
			return
		}
		h.queryError(c, err, "failed to read attachment")
		return
	}
	if url != "" {
		c.Redirect(http.StatusFound, url)
		return
	}
	defer rc.Close()

	c.DataFromReader(http.StatusOK, info.Size, info.ContentType, rc, nil)
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": h.hub.ConnectionCount(),
		"rooms":       h.hub.RoomCount(),
	})
}

// bookingCaller reads the caller and booking id shared by the booking
// routes, answering the request itself when either is invalid.
func (h *HTTPHandler) bookingCaller(c *gin.Context) (*domain.Participant, int64, bool) {
	caller, ok := callerFrom(c)
	if !ok {
		response.Unauthorized(c, "missing caller identity")
		return nil, 0, false
	}

	bookingID, err := strconv.ParseInt(c.Param("booking_id"), 10, 64)
	if err != nil || bookingID <= 0 {
		response.BadRequest(c, "booking_id must be a positive integer")
		return nil, 0, false
	}
	return caller, bookingID, true
}

func (h *HTTPHandler) bookingRequest(c *gin.Context) (*domain.Participant, int64, int, bool) {
	caller, bookingID, ok := h.bookingCaller(c)
	if !ok {
		return nil, 0, 0, false
	}

	limit, ok := limitParam(c)
	if !ok {
		return nil, 0, 0, false
	}
	return caller, bookingID, limit, true
}

// limitParam parses ?limit=. Zero means the service default.
func limitParam(c *gin.Context) (int, bool) {
	limitStr := c.Query("limit")
	if limitStr == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 1 {
		response.BadRequest(c, "limit must be a positive integer")
		return 0, false
	}
	return limit, true
}

func callerFrom(c *gin.Context) (*domain.Participant, bool) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		return nil, false
	}
	return &domain.Participant{
		ID:   identity.UserID,
		Name: identity.Name,
		Role: domain.ParseRole(identity.Role),
	}, true
}

func (h *HTTPHandler) queryError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, service.ErrAccessDenied):
		response.Forbidden(c, "you do not have access to this booking")
	case errors.Is(err, service.ErrBookingNotFound):
		response.NotFound(c, "booking not found")
	case errors.Is(err, context.DeadlineExceeded):
		response.Unavailable(c, message)
	default:
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Msg(message)
		response.InternalError(c, message)
	}
}
