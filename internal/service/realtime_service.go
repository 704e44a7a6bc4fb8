package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/dronehire/realtime-service/internal/audit"
	"github.com/dronehire/realtime-service/internal/auth"
	"github.com/dronehire/realtime-service/internal/config"
	"github.com/dronehire/realtime-service/internal/domain"
	"github.com/dronehire/realtime-service/internal/hub"
	"github.com/dronehire/realtime-service/internal/presence"
	"github.com/dronehire/realtime-service/internal/repository"
	"github.com/dronehire/realtime-service/pkg/log"
	"github.com/dronehire/realtime-service/pkg/pubsub"
)

const notificationPreviewLen = 100

type Service struct {
	hub       *hub.Hub
	store     repository.Store
	validator auth.Validator
	relay     Publisher
	presence  presence.Directory
	cfg       config.RealtimeConfig
	bookings  singleflight.Group
	now       func() time.Time
}

// NewService wires the router to its collaborators. A nil directory
// means no other process can hold connections.
func NewService(
	h *hub.Hub,
	store repository.Store,
	validator auth.Validator,
	relay Publisher,
	dir presence.Directory,
	cfg config.RealtimeConfig,
) *Service {
	if dir == nil {
		dir = presence.Nop{}
	}
	if cfg.RecentMessageLimit <= 0 {
		cfg.RecentMessageLimit = 50
	}
	if cfg.PendingNotificationLimit <= 0 {
		cfg.PendingNotificationLimit = 50
	}
	if cfg.HistoryMaxLimit <= 0 {
		cfg.HistoryMaxLimit = 200
	}
	return &Service{
		hub:       h,
		store:     store,
		validator: validator,
		relay:     relay,
		presence:  dir,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (s *Service) Dispatch(ctx context.Context, c *hub.Client, msg domain.Inbound) error {
	switch m := msg.(type) {
	case *domain.PingMessage:
		return c.SendMessage(&domain.PongMessage{Type: domain.MsgTypePong, Timestamp: s.now().UnixMilli()})
	case *domain.AuthMessage:
		return s.HandleAuth(ctx, c, m.Token)
	}

	if !c.Session.IsAuthenticated() {
		return s.reject(c, domain.ErrCodeAuthRequired, "Authenticate before sending "+msg.MessageType(), nil)
	}
	// A connection replaced by a newer one for the same participant must
	// re-authenticate before it acts again; rooms belong to the live one.
	if p := c.Session.Participant(); !s.hub.IsRegistered(p.ID, c) {
		return s.reject(c, domain.ErrCodeAuthRequired, "Connection was replaced by a newer login, authenticate again", ErrSuperseded)
	}

	switch m := msg.(type) {
	case *domain.BookingMessage:
		if m.Type == domain.MsgTypeLeaveBooking {
			return s.HandleLeaveBooking(ctx, c, m.BookingID)
		}
		return s.HandleJoinBooking(ctx, c, m.BookingID)
	case *domain.SendMessageMessage:
		return s.HandleSendMessage(ctx, c, m)
	case *domain.LocationUpdateMessage:
		return s.HandleLocationUpdate(ctx, c, m)
	case *domain.StatusUpdateMessage:
		return s.HandleStatusUpdate(ctx, c, m)
	case *domain.MarkReadMessage:
		return s.HandleMarkRead(ctx, c, m.MessageIDs)
	default:
		return s.reject(c, domain.ErrCodeInvalidFormat, "Unknown message type", nil)
	}
}

func (s *Service) HandleAuth(ctx context.Context, c *hub.Client, token string) error {
	l := log.Ctx(ctx)

	opCtx, cancel := s.opContext(ctx)
	p, err := s.validator.Validate(opCtx, token)
	cancel()
	if err != nil {
		audit.LogWithDetail(ctx, audit.ActionAuthFailed, 0, err.Error(), "authentication failed")
		if auth.IsRejection(err) {
			return s.reject(c, domain.ErrCodeAuthFailed, "Invalid or expired token", err)
		}
		return s.reject(c, domain.FailedCode(domain.MsgTypeAuth), "Authentication is temporarily unavailable", err)
	}

	// Re-auth as someone else releases the old identity first.
	if prev := c.Session.Participant(); prev != nil && prev.ID != p.ID {
		s.detach(ctx, c, prev)
	}
	c.Session.Authenticate(p)

	if replaced := s.hub.RegisterParticipant(p.ID, c); replaced != nil {
		// A reconnect inherits the room the superseded connection was in.
		if b := replaced.Session.CurrentBooking(); b != 0 && s.hub.IsMember(b, p.ID) {
			c.Session.JoinBooking(b)
		}
		l.Info().Int64(log.FieldUserID, p.ID).Str("superseded", replaced.ID).Msg("participant reconnected")
	}

	opCtx, cancel = s.opContext(ctx)
	defer cancel()

	if err := s.store.SetOnlineStatus(opCtx, p.ID, true, c.ID); err != nil {
		l.Warn().Err(err).Int64(log.FieldUserID, p.ID).Msg("failed to mark participant online")
	}
	if err := s.presence.Register(opCtx, p.ID); err != nil {
		l.Warn().Err(err).Int64(log.FieldUserID, p.ID).Msg("failed to register presence")
	}

	if err := c.SendMessage(&domain.AuthSuccessMessage{Type: domain.MsgTypeAuthSuccess, User: p}); err != nil {
		return err
	}
	audit.Log(ctx, audit.ActionAuth, p.ID, "participant authenticated")

	s.pushPending(opCtx, c, p.ID)
	return nil
}

// pushPending delivers unpushed notifications as one frame and marks them pushed.
func (s *Service) pushPending(ctx context.Context, c *hub.Client, userID int64) {
	l := log.Ctx(ctx)

	pending, err := s.store.PendingNotifications(ctx, userID, s.cfg.PendingNotificationLimit)
	if err != nil {
		l.Warn().Err(err).Int64(log.FieldUserID, userID).Msg("failed to load pending notifications")
		return
	}
	if len(pending) == 0 {
		return
	}

	if err := c.SendMessage(&domain.PendingNotificationsMessage{
		Type:          domain.MsgTypePendingNotifications,
		Notifications: pending,
		Count:         len(pending),
	}); err != nil {
		return
	}

	ids := make([]int64, len(pending))
	for i, n := range pending {
		ids[i] = n.ID
	}
	if err := s.store.MarkNotificationsPushed(ctx, ids); err != nil {
		l.Warn().Err(err).Int64(log.FieldUserID, userID).Msg("failed to mark notifications pushed")
	}
}

func (s *Service) HandleJoinBooking(ctx context.Context, c *hub.Client, bookingID int64) error {
	p := c.Session.Participant()
	op := domain.MsgTypeJoinBooking

	booking, err := s.accessibleBooking(ctx, p, bookingID)
	if err != nil {
		return s.rejectBooking(ctx, c, op, p, bookingID, err)
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	var (
		messages []*domain.ChatMessage
		latest   *domain.TrackingPoint
	)
	g, gctx := errgroup.WithContext(opCtx)
	g.Go(func() error {
		var err error
		messages, err = s.store.RecentMessages(gctx, bookingID, s.cfg.RecentMessageLimit)
		return err
	})
	g.Go(func() error {
		point, err := s.store.LatestTrackingPoint(gctx, bookingID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		latest = point
		return err
	})
	if err := g.Wait(); err != nil {
		return s.reject(c, domain.FailedCode(op), "Failed to load booking room", err)
	}

	if current := c.Session.CurrentBooking(); current != 0 && current != bookingID {
		s.leaveRoom(ctx, p, current)
	}

	alreadyMember := s.hub.IsMember(bookingID, p.ID)
	s.hub.Join(bookingID, p.ID)
	c.Session.JoinBooking(bookingID)

	c.SendMessage(&domain.JoinedBookingMessage{
		Type:          domain.MsgTypeJoinedBooking,
		BookingID:     bookingID,
		BookingStatus: booking.Status,
	})
	if !alreadyMember {
		s.broadcast(ctx, bookingID, s.presenceFrame(domain.MsgTypeUserJoined, bookingID, p), p.ID)
	}
	if messages == nil {
		messages = []*domain.ChatMessage{}
	}
	c.SendMessage(&domain.RecentMessagesMessage{
		Type:      domain.MsgTypeRecentMessages,
		BookingID: bookingID,
		Messages:  messages,
	})
	if latest != nil {
		c.SendMessage(&domain.TrackingMessage{
			Type:      domain.MsgTypeCurrentTracking,
			BookingID: bookingID,
			Tracking:  latest,
		})
	}

	audit.LogBooking(ctx, audit.ActionJoinBooking, p.ID, bookingID, "joined booking room")
	return nil
}

func (s *Service) HandleLeaveBooking(ctx context.Context, c *hub.Client, bookingID int64) error {
	p := c.Session.Participant()

	if c.Session.IsInBooking(bookingID) {
		s.leaveRoom(ctx, p, bookingID)
		c.Session.LeaveBooking()
		audit.LogBooking(ctx, audit.ActionLeaveBooking, p.ID, bookingID, "left booking room")
	}

	return c.SendMessage(&domain.LeftBookingMessage{Type: domain.MsgTypeLeftBooking, BookingID: bookingID})
}

// leaveRoom removes p from a room and tells the remaining members.
func (s *Service) leaveRoom(ctx context.Context, p *domain.Participant, bookingID int64) {
	if s.hub.Leave(bookingID, p.ID) {
		s.broadcast(ctx, bookingID, s.presenceFrame(domain.MsgTypeUserLeft, bookingID, p), p.ID)
	}
}

func (s *Service) HandleSendMessage(ctx context.Context, c *hub.Client, m *domain.SendMessageMessage) error {
	p := c.Session.Participant()
	op := domain.MsgTypeSendMessage

	if !c.Session.IsInBooking(m.BookingID) {
		return s.reject(c, domain.ErrCodeAccessDenied, "Join the booking before sending messages", ErrAccessDenied)
	}
	booking, err := s.accessibleBooking(ctx, p, m.BookingID)
	if err != nil {
		return s.rejectBooking(ctx, c, op, p, m.BookingID, err)
	}

	msg := &domain.ChatMessage{
		BookingID:   m.BookingID,
		SenderID:    p.ID,
		SenderRole:  p.Role,
		SenderName:  p.Name,
		MessageType: m.Kind,
		Content:     m.Content,
		Metadata:    m.Metadata,
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.store.CreateMessage(opCtx, msg); err != nil {
		return s.reject(c, domain.FailedCode(op), "Failed to send message", err)
	}

	frame := &domain.NewMessageMessage{Type: domain.MsgTypeNewMessage, Message: msg}
	s.broadcast(ctx, m.BookingID, frame, 0)

	var remote []int64
	for _, party := range booking.Parties() {
		if party == p.ID {
			continue
		}
		if _, ok := s.hub.Lookup(party); ok {
			if !s.hub.IsMember(m.BookingID, party) {
				s.hub.SendTo(party, frame)
			}
			continue
		}
		if s.onlineElsewhere(opCtx, party) {
			remote = append(remote, party)
			continue
		}
		s.notify(opCtx, &domain.Notification{
			UserID:  party,
			Type:    domain.NotificationChatMessage,
			Title:   "New message from " + p.Name,
			Message: preview(msg.Content),
			Data: map[string]interface{}{
				"booking_id": m.BookingID,
				"message_id": msg.ID,
				"sender_id":  p.ID,
			},
		})
	}

	audit.LogBooking(ctx, audit.ActionSendMessage, p.ID, m.BookingID, "message sent")

	if err := s.relay.Publish(opCtx, pubsub.EventNewMessage, m.BookingID, frame, remote); err != nil {
		return s.reject(c, domain.FailedCode(op), "Message saved but could not reach other servers", err)
	}
	return nil
}

func (s *Service) HandleLocationUpdate(ctx context.Context, c *hub.Client, m *domain.LocationUpdateMessage) error {
	p := c.Session.Participant()
	op := domain.MsgTypeLocationUpdate

	if !p.Role.IsStaff() {
		audit.LogBooking(ctx, audit.ActionAccessDenied, p.ID, m.BookingID, "customer attempted location update")
		return s.reject(c, domain.ErrCodeAccessDenied, "Only operators can send location updates", ErrAccessDenied)
	}
	if _, err := s.accessibleBooking(ctx, p, m.BookingID); err != nil {
		return s.rejectBooking(ctx, c, op, p, m.BookingID, err)
	}

	point := &domain.TrackingPoint{
		BookingID:      m.BookingID,
		OperatorID:     p.ID,
		Latitude:       *m.Latitude,
		Longitude:      *m.Longitude,
		Altitude:       m.Altitude,
		Speed:          m.Speed,
		BatteryLevel:   m.BatteryLevel,
		SignalStrength: m.SignalStrength,
		Status:         m.Status,
		RecordedAt:     s.now(),
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.store.CreateTrackingPoint(opCtx, point); err != nil {
		return s.reject(c, domain.FailedCode(op), "Failed to record location", err)
	}

	frame := &domain.TrackingMessage{Type: domain.MsgTypeLocationUpdate, BookingID: m.BookingID, Tracking: point}
	s.broadcast(ctx, m.BookingID, frame, 0)

	audit.LogBooking(ctx, audit.ActionLocationUpdate, p.ID, m.BookingID, "location recorded")

	if err := s.relay.Publish(opCtx, pubsub.EventLocationUpdate, m.BookingID, frame, nil); err != nil {
		return s.reject(c, domain.FailedCode(op), "Location saved but could not reach other servers", err)
	}
	return nil
}

func (s *Service) HandleStatusUpdate(ctx context.Context, c *hub.Client, m *domain.StatusUpdateMessage) error {
	p := c.Session.Participant()
	op := domain.MsgTypeStatusUpdate

	if !p.Role.IsStaff() {
		audit.LogBooking(ctx, audit.ActionAccessDenied, p.ID, m.BookingID, "customer attempted status update")
		return s.reject(c, domain.ErrCodeAccessDenied, "Only operators can update booking status", ErrAccessDenied)
	}
	booking, err := s.accessibleBooking(ctx, p, m.BookingID)
	if err != nil {
		return s.rejectBooking(ctx, c, op, p, m.BookingID, err)
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.store.UpdateBookingStatus(opCtx, m.BookingID, m.Status); err != nil {
		return s.reject(c, domain.FailedCode(op), "Failed to update booking status", err)
	}
	s.bookings.Forget(bookingKey(m.BookingID))

	now := s.now()
	frame := &domain.StatusUpdateOut{
		Type:      domain.MsgTypeStatusUpdate,
		BookingID: m.BookingID,
		Status:    m.Status,
		Message:   m.Message,
		UpdatedBy: p.ID,
		Timestamp: now.UnixMilli(),
	}
	s.broadcast(ctx, m.BookingID, frame, 0)

	text := m.Message
	if text == "" {
		text = fmt.Sprintf("Your booking #%d is now %s", m.BookingID, m.Status)
	}
	n := &domain.Notification{
		UserID:  booking.UserID,
		Type:    domain.NotificationStatusUpdate,
		Title:   "Booking status updated",
		Message: text,
		Data: map[string]interface{}{
			"booking_id": m.BookingID,
			"status":     m.Status,
		},
	}
	if s.notify(opCtx, n) {
		s.pushNotification(opCtx, m.BookingID, n)
	}

	audit.LogWithDetail(ctx, audit.ActionStatusUpdate, p.ID, m.Status, "booking status updated")

	if err := s.relay.Publish(opCtx, pubsub.EventStatusUpdate, m.BookingID, frame, nil); err != nil {
		return s.reject(c, domain.FailedCode(op), "Status saved but could not reach other servers", err)
	}
	return nil
}

// pushNotification delivers a stored notification to its recipient if they
// are connected here or to another process, and marks it pushed on success.
func (s *Service) pushNotification(ctx context.Context, bookingID int64, n *domain.Notification) {
	l := log.Ctx(ctx)
	frame := &domain.NotificationMessage{Type: domain.MsgTypeNotification, Notification: n}

	pushed := false
	if _, local := s.hub.Lookup(n.UserID); local {
		pushed, _ = s.hub.SendTo(n.UserID, frame)
	} else if s.onlineElsewhere(ctx, n.UserID) {
		if err := s.relay.PublishDirect(ctx, pubsub.EventNotification, bookingID, frame, []int64{n.UserID}); err != nil {
			l.Warn().Err(err).Int64(log.FieldUserID, n.UserID).Msg("failed to relay notification")
		} else {
			pushed = true
		}
	}
	if !pushed {
		return
	}

	n.IsPushed = true
	if err := s.store.MarkNotificationsPushed(ctx, []int64{n.ID}); err != nil {
		l.Warn().Err(err).Int64("notification_id", n.ID).Msg("failed to mark notification pushed")
	}
}

func (s *Service) HandleMarkRead(ctx context.Context, c *hub.Client, messageIDs []int64) error {
	p := c.Session.Participant()

	var ownerID int64
	if !p.Role.IsStaff() {
		ownerID = p.ID
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	n, err := s.store.MarkMessagesRead(opCtx, messageIDs, p.ID, ownerID)
	if err != nil {
		return s.reject(c, domain.FailedCode(domain.MsgTypeMarkRead), "Failed to mark messages read", err)
	}

	audit.LogWithDetail(ctx, audit.ActionMarkRead, p.ID, strconv.FormatInt(n, 10), "messages marked read")
	return c.SendMessage(&domain.MessagesMarkedReadMessage{
		Type:       domain.MsgTypeMessagesMarkedRead,
		MessageIDs: messageIDs,
	})
}

// HandleDisconnect cleans up after a closed connection. Only the connection
// currently registered for its participant is cleaned up; a superseded one
// leaves the registry and rooms to its replacement.
func (s *Service) HandleDisconnect(ctx context.Context, c *hub.Client) error {
	p := c.Session.Participant()
	if p == nil {
		return nil
	}
	if !s.hub.IsRegistered(p.ID, c) {
		l := log.Ctx(ctx)
		l.Debug().Int64(log.FieldUserID, p.ID).Msg("superseded connection closed")
		return nil
	}

	s.detach(ctx, c, p)
	audit.Log(ctx, audit.ActionDisconnect, p.ID, "participant disconnected")
	return nil
}

// detach releases everything p holds through c: its room, its registry
// entry, its online row and its presence key.
func (s *Service) detach(ctx context.Context, c *hub.Client, p *domain.Participant) {
	l := log.Ctx(ctx)

	if b := c.Session.LeaveBooking(); b != 0 {
		s.leaveRoom(ctx, p, b)
	}
	if !s.hub.RemoveParticipant(p.ID, c) {
		return
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.store.SetOnlineStatus(opCtx, p.ID, false, c.ID); err != nil {
		l.Warn().Err(err).Int64(log.FieldUserID, p.ID).Msg("failed to mark participant offline")
	}
	if err := s.presence.Deregister(opCtx, p.ID); err != nil {
		l.Warn().Err(err).Int64(log.FieldUserID, p.ID).Msg("failed to deregister presence")
	}
}

func (s *Service) Start(ctx context.Context) error {
	if err := s.presence.StartHeartbeat(ctx); err != nil {
		return fmt.Errorf("failed to start presence heartbeat: %w", err)
	}
	l := log.L()
	l.Info().Msg("realtime service started")
	return nil
}

func (s *Service) Stop() error {
	s.presence.StopHeartbeat()
	return nil
}

// accessibleBooking loads a booking and checks that p is a party to it.
// Concurrent lookups of the same booking share one store call.
func (s *Service) accessibleBooking(ctx context.Context, p *domain.Participant, bookingID int64) (*domain.Booking, error) {
	v, err, _ := s.bookings.Do(bookingKey(bookingID), func() (interface{}, error) {
		// shared by every waiter, so one caller's cancellation must not fail the rest
		opCtx, cancel := s.opContext(context.WithoutCancel(ctx))
		defer cancel()
		return s.store.GetBooking(opCtx, bookingID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	booking := v.(*domain.Booking)
	if !booking.CanAccess(p) {
		return nil, ErrAccessDenied
	}
	return booking, nil
}

func bookingKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// rejectBooking maps an accessibleBooking error to the wire taxonomy.
func (s *Service) rejectBooking(ctx context.Context, c *hub.Client, op string, p *domain.Participant, bookingID int64, err error) error {
	switch {
	case errors.Is(err, ErrBookingNotFound):
		return s.reject(c, domain.ErrCodeAccessDenied, "Booking not found", err)
	case errors.Is(err, ErrAccessDenied):
		audit.LogBooking(ctx, audit.ActionAccessDenied, p.ID, bookingID, "not a party to booking")
		return s.reject(c, domain.ErrCodeAccessDenied, "You do not have access to this booking", err)
	default:
		return s.reject(c, domain.FailedCode(op), "Failed to load booking", err)
	}
}

// reject sends an error frame and returns cause (or a generic error) for logging.
func (s *Service) reject(c *hub.Client, code, message string, cause error) error {
	c.SendMessage(domain.NewErrorMessage(code, message))
	if cause == nil {
		return errors.New(code)
	}
	return fmt.Errorf("%s: %w", code, cause)
}

func (s *Service) broadcast(ctx context.Context, bookingID int64, frame interface{}, exclude int64) {
	if _, err := s.hub.Broadcast(bookingID, frame, exclude); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Int64(log.FieldBookingID, bookingID).Msg("failed to encode broadcast")
	}
}

func (s *Service) presenceFrame(msgType string, bookingID int64, p *domain.Participant) *domain.UserPresenceMessage {
	return &domain.UserPresenceMessage{
		Type:      msgType,
		BookingID: bookingID,
		UserID:    p.ID,
		UserName:  p.Name,
		UserRole:  p.Role,
		Timestamp: s.now().UnixMilli(),
	}
}

// onlineElsewhere asks the presence directory. A failed lookup counts as
// offline so the participant still gets a notification.
func (s *Service) onlineElsewhere(ctx context.Context, userID int64) bool {
	online, err := s.presence.IsOnline(ctx, userID)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Int64(log.FieldUserID, userID).Msg("presence lookup failed")
		return false
	}
	return online
}

// notify persists n and reports whether it was stored.
func (s *Service) notify(ctx context.Context, n *domain.Notification) bool {
	if err := s.store.CreateNotification(ctx, n); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Int64(log.FieldUserID, n.UserID).Str("type", n.Type).Msg("failed to create notification")
		return false
	}
	return true
}

func (s *Service) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.OperationTimeout)
}

func preview(content string) string {
	if utf8.RuneCountInString(content) <= notificationPreviewLen {
		return content
	}
	r := []rune(content)
	return string(r[:notificationPreviewLen]) + "..."
}
