package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dronehire/realtime-service/internal/domain"
	"github.com/dronehire/realtime-service/pkg/log"
)

// GormStore implements Store using GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-based store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// GetParticipantBySessionToken resolves an unexpired session token to its user.
func (s *GormStore) GetParticipantBySessionToken(ctx context.Context, token string, now time.Time) (*domain.Participant, error) {
	var user domain.UserModel
	err := s.db.WithContext(ctx).
		Joins("JOIN user_sessions ON user_sessions.user_id = users.id").
		Where("user_sessions.session_token = ? AND user_sessions.expires_at > ?", token, now).
		Take(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("failed to look up session")
		return nil, err
	}
	return user.ToParticipant(), nil
}

// GetParticipant retrieves a user by ID.
func (s *GormStore) GetParticipant(ctx context.Context, id int64) (*domain.Participant, error) {
	var user domain.UserModel
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return user.ToParticipant(), nil
}

// GetBooking retrieves a booking by ID.
func (s *GormStore) GetBooking(ctx context.Context, id int64) (*domain.Booking, error) {
	var model domain.BookingModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		l := log.Ctx(ctx)
		l.Error().Err(err).Int64(log.FieldBookingID, id).Msg("failed to get booking")
		return nil, err
	}
	return model.ToDomain(), nil
}

// UpdateBookingStatus sets the status column of a booking.
func (s *GormStore) UpdateBookingStatus(ctx context.Context, id int64, status string) error {
	result := s.db.WithContext(ctx).
		Model(&domain.BookingModel{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		l := log.Ctx(ctx)
		l.Error().Err(result.Error).Int64(log.FieldBookingID, id).Msg("failed to update booking status")
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateMessage inserts a chat message and fills in its ID and timestamps.
func (s *GormStore) CreateMessage(ctx context.Context, msg *domain.ChatMessage) error {
	model := domain.ChatMessageToModel(msg)
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Int64(log.FieldBookingID, msg.BookingID).Msg("failed to create message")
		return err
	}
	msg.ID = model.ID
	msg.CreatedAt = model.CreatedAt
	msg.UpdatedAt = model.UpdatedAt
	return nil
}

// RecentMessages returns the latest messages of a booking in ascending order.
func (s *GormStore) RecentMessages(ctx context.Context, bookingID int64, limit int) ([]*domain.ChatMessage, error) {
	if limit < 1 {
		limit = 50
	}

	var models []domain.ChatMessageModel
	err := s.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Int64(log.FieldBookingID, bookingID).Msg("failed to load recent messages")
		return nil, err
	}

	messages := make([]*domain.ChatMessage, len(models))
	senders := make([]int64, 0, len(models))
	for i := range models {
		// reverse into ascending order
		messages[len(models)-1-i] = models[i].ToDomain()
		senders = append(senders, models[i].SenderID)
	}

	names, err := s.userNames(ctx, senders)
	if err != nil {
		return nil, err
	}
	for _, m := range messages {
		m.SenderName = names[m.SenderID]
	}
	return messages, nil
}

func (s *GormStore) userNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	names := make(map[int64]string)
	if len(ids) == 0 {
		return names, nil
	}

	var users []domain.UserModel
	if err := s.db.WithContext(ctx).Select("id", "name").Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		names[u.ID] = u.Name
	}
	return names, nil
}

// MarkMessagesRead flags messages as read, skipping the reader's own.
func (s *GormStore) MarkMessagesRead(ctx context.Context, ids []int64, readerID, ownerID int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := s.db.WithContext(ctx).
		Model(&domain.ChatMessageModel{}).
		Where("id IN ?", ids).
		Where("sender_id <> ?", readerID)
	if ownerID != 0 {
		owned := s.db.Model(&domain.BookingModel{}).Select("id").Where("user_id = ?", ownerID)
		query = query.Where("booking_id IN (?)", owned)
	}

	result := query.Update("is_read", true)
	if result.Error != nil {
		l := log.Ctx(ctx)
		l.Error().Err(result.Error).Msg("failed to mark messages read")
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// CreateTrackingPoint appends a telemetry sample.
func (s *GormStore) CreateTrackingPoint(ctx context.Context, p *domain.TrackingPoint) error {
	if p.RecordedAt.IsZero() {
		p.RecordedAt = time.Now()
	}
	model := domain.TrackingPointToModel(p)
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Int64(log.FieldBookingID, p.BookingID).Msg("failed to create tracking point")
		return err
	}
	p.ID = model.ID
	return nil
}

// LatestTrackingPoint returns the most recently written point for a booking.
func (s *GormStore) LatestTrackingPoint(ctx context.Context, bookingID int64) (*domain.TrackingPoint, error) {
	var model domain.TrackingPointModel
	err := s.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("timestamp DESC").Order("id DESC").
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		l := log.Ctx(ctx)
		l.Error().Err(err).Int64(log.FieldBookingID, bookingID).Msg("failed to load latest tracking point")
		return nil, err
	}
	return model.ToDomain(), nil
}

// RecentTrackingPoints returns the latest points for a booking, newest first.
func (s *GormStore) RecentTrackingPoints(ctx context.Context, bookingID int64, limit int) ([]*domain.TrackingPoint, error) {
	if limit < 1 {
		limit = 100
	}

	var models []domain.TrackingPointModel
	err := s.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("timestamp DESC").Order("id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	points := make([]*domain.TrackingPoint, len(models))
	for i := range models {
		points[i] = models[i].ToDomain()
	}
	return points, nil
}

// CreateNotification queues a notification for a participant.
func (s *GormStore) CreateNotification(ctx context.Context, n *domain.Notification) error {
	model := domain.NotificationToModel(n)
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Int64(log.FieldUserID, n.UserID).Msg("failed to create notification")
		return err
	}
	n.ID = model.ID
	n.CreatedAt = model.CreatedAt
	return nil
}

// PendingNotifications returns notifications not yet pushed to a live client, oldest first.
func (s *GormStore) PendingNotifications(ctx context.Context, userID int64, limit int) ([]*domain.Notification, error) {
	if limit < 1 {
		limit = 50
	}

	var models []domain.NotificationModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_pushed = ?", userID, false).
		Order("created_at ASC").Order("id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Int64(log.FieldUserID, userID).Msg("failed to load pending notifications")
		return nil, err
	}
	return notificationsToDomain(models), nil
}

// MarkNotificationsPushed sets the pushed flag on the given notifications.
func (s *GormStore) MarkNotificationsPushed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&domain.NotificationModel{}).
		Where("id IN ?", ids).
		Update("is_pushed", true).Error
}

// ListNotifications returns a participant's notifications, newest first.
func (s *GormStore) ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]*domain.Notification, error) {
	if limit < 1 {
		limit = 50
	}

	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("is_read = ?", false)
	}

	var models []domain.NotificationModel
	if err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	return notificationsToDomain(models), nil
}

func notificationsToDomain(models []domain.NotificationModel) []*domain.Notification {
	out := make([]*domain.Notification, len(models))
	for i := range models {
		out[i] = models[i].ToDomain()
	}
	return out
}

// SetOnlineStatus upserts the online-status row for a participant.
func (s *GormStore) SetOnlineStatus(ctx context.Context, userID int64, online bool, connectionID string) error {
	row := domain.OnlineStatusModel{
		UserID:   userID,
		IsOnline: online,
		SocketID: connectionID,
		LastSeen: time.Now(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_online", "socket_id", "last_seen"}),
	}).Create(&row).Error
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Int64(log.FieldUserID, userID).Msg("failed to set online status")
	}
	return err
}
