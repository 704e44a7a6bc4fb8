package service

import (
	"context"

	"github.com/dronehire/realtime-service/internal/domain"
)

func (s *Service) BookingMessages(ctx context.Context, caller *domain.Participant, bookingID int64, limit int) ([]*domain.ChatMessage, error) {
	if _, err := s.accessibleBooking(ctx, caller, bookingID); err != nil {
		return nil, err
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	return s.store.RecentMessages(opCtx, bookingID, s.clampLimit(limit, s.cfg.RecentMessageLimit))
}

func (s *Service) BookingTracking(ctx context.Context, caller *domain.Participant, bookingID int64, limit int) ([]*domain.TrackingPoint, error) {
	if _, err := s.accessibleBooking(ctx, caller, bookingID); err != nil {
		return nil, err
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	return s.store.RecentTrackingPoints(opCtx, bookingID, s.clampLimit(limit, s.cfg.RecentMessageLimit))
}

func (s *Service) Notifications(ctx context.Context, caller *domain.Participant, unreadOnly bool, limit int) ([]*domain.Notification, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	return s.store.ListNotifications(opCtx, caller.ID, unreadOnly, s.clampLimit(limit, s.cfg.PendingNotificationLimit))
}

func (s *Service) clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > s.cfg.HistoryMaxLimit {
		return s.cfg.HistoryMaxLimit
	}
	return limit
}
