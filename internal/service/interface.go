package service

import (
	"context"
	"errors"
	"io"

	"github.com/dronehire/realtime-service/internal/domain"
	"github.com/dronehire/realtime-service/internal/hub"
	"github.com/dronehire/realtime-service/pkg/storage"
)

var (
	ErrAccessDenied    = errors.New("access denied")
	ErrBookingNotFound = errors.New("booking not found")
	ErrSuperseded      = errors.New("connection superseded")
)

// RealtimeService handles decoded client frames for one connection at a time.
type RealtimeService interface {
	// Dispatch routes a decoded frame to its handler. Failures are reported
	// to the client as error frames and returned for logging.
	Dispatch(ctx context.Context, client *hub.Client, msg domain.Inbound) error
	HandleAuth(ctx context.Context, client *hub.Client, token string) error
	HandleJoinBooking(ctx context.Context, client *hub.Client, bookingID int64) error
	HandleLeaveBooking(ctx context.Context, client *hub.Client, bookingID int64) error
	HandleSendMessage(ctx context.Context, client *hub.Client, msg *domain.SendMessageMessage) error
	HandleLocationUpdate(ctx context.Context, client *hub.Client, msg *domain.LocationUpdateMessage) error
	HandleStatusUpdate(ctx context.Context, client *hub.Client, msg *domain.StatusUpdateMessage) error
	HandleMarkRead(ctx context.Context, client *hub.Client, messageIDs []int64) error
	HandleDisconnect(ctx context.Context, client *hub.Client) error
	Start(ctx context.Context) error
	Stop() error
}

// QueryService serves the read-only HTTP API.
type QueryService interface {
	BookingMessages(ctx context.Context, caller *domain.Participant, bookingID int64, limit int) ([]*domain.ChatMessage, error)
	BookingTracking(ctx context.Context, caller *domain.Participant, bookingID int64, limit int) ([]*domain.TrackingPoint, error)
	Notifications(ctx context.Context, caller *domain.Participant, unreadOnly bool, limit int) ([]*domain.Notification, error)
}

// AttachmentService stores and serves booking chat files.
type AttachmentService interface {
	Upload(ctx context.Context, caller *domain.Participant, bookingID int64, filename, contentType string, size int64, r io.Reader) (*domain.Attachment, error)
	Open(ctx context.Context, caller *domain.Participant, bookingID int64, name string) (io.ReadCloser, *storage.ObjectInfo, string, error)
}

// Publisher relays a frame to the other realtime processes.
type Publisher interface {
	Publish(ctx context.Context, eventType string, bookingID int64, frame interface{}, recipients []int64) error
	// PublishDirect relays frame to recipients only, never to the room.
	PublishDirect(ctx context.Context, eventType string, bookingID int64, frame interface{}, recipients []int64) error
}

var (
	_ RealtimeService   = (*Service)(nil)
	_ QueryService      = (*Service)(nil)
	_ AttachmentService = (*Attachments)(nil)
)
