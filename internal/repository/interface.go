package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dronehire/realtime-service/internal/domain"
)

var (
	ErrNotFound = errors.New("record not found")
)

// ParticipantRepository resolves identities from the web backend's tables.
type ParticipantRepository interface {
	GetParticipantBySessionToken(ctx context.Context, token string, now time.Time) (*domain.Participant, error)
	GetParticipant(ctx context.Context, id int64) (*domain.Participant, error)
}

// BookingRepository reads bookings and writes their status field.
type BookingRepository interface {
	GetBooking(ctx context.Context, id int64) (*domain.Booking, error)
	UpdateBookingStatus(ctx context.Context, id int64, status string) error
}

// MessageRepository persists chat messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg *domain.ChatMessage) error
	// RecentMessages returns up to limit latest messages, oldest first.
	RecentMessages(ctx context.Context, bookingID int64, limit int) ([]*domain.ChatMessage, error)
	// MarkMessagesRead sets the read flag on ids not sent by readerID. A
	// non-zero ownerID limits the update to bookings that user owns.
	MarkMessagesRead(ctx context.Context, ids []int64, readerID, ownerID int64) (int64, error)
}

// TrackingRepository persists append-only telemetry.
type TrackingRepository interface {
	CreateTrackingPoint(ctx context.Context, p *domain.TrackingPoint) error
	// LatestTrackingPoint returns ErrNotFound when the booking has no points.
	LatestTrackingPoint(ctx context.Context, bookingID int64) (*domain.TrackingPoint, error)
	// RecentTrackingPoints returns up to limit points, newest first.
	RecentTrackingPoints(ctx context.Context, bookingID int64, limit int) ([]*domain.TrackingPoint, error)
}

// NotificationRepository persists notifications queued for participants.
type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *domain.Notification) error
	PendingNotifications(ctx context.Context, userID int64, limit int) ([]*domain.Notification, error)
	MarkNotificationsPushed(ctx context.Context, ids []int64) error
	ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]*domain.Notification, error)
}

// OnlineStatusRepository maintains the per-participant online row.
type OnlineStatusRepository interface {
	SetOnlineStatus(ctx context.Context, userID int64, online bool, connectionID string) error
}

// Store is the full persistence surface used by the realtime service.
type Store interface {
	ParticipantRepository
	BookingRepository
	MessageRepository
	TrackingRepository
	NotificationRepository
	OnlineStatusRepository
}
