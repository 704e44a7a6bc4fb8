package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dronehire/realtime-service/internal/auth"
	"github.com/dronehire/realtime-service/internal/domain"
	"github.com/dronehire/realtime-service/internal/repository"
)

var errStoreDown = errors.New("store unavailable")

type markReadCall struct {
	ids      []int64
	readerID int64
	ownerID  int64
}

// memStore is an in-memory repository.Store. Setting fail[method] makes
// that method return errStoreDown; block[method] makes it wait for ctx.
type memStore struct {
	mu            sync.Mutex
	bookings      map[int64]*domain.Booking
	messages      []*domain.ChatMessage
	points        []*domain.TrackingPoint
	notifications []*domain.Notification
	online        map[int64]bool
	markRead      []markReadCall
	bookingLoads  int
	fail          map[string]bool
	block         map[string]bool
	nextID        int64
}

func newMemStore() *memStore {
	return &memStore{
		bookings: map[int64]*domain.Booking{
			42: {ID: 42, UserID: 1, OperatorID: 2, Status: "confirmed"},
			43: {ID: 43, UserID: 1, Status: "pending"},
		},
		online: map[int64]bool{},
		fail:   map[string]bool{},
		block:  map[string]bool{},
	}
}

func (s *memStore) check(ctx context.Context, method string) error {
	s.mu.Lock()
	fail, block := s.fail[method], s.block[method]
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if fail {
		return errStoreDown
	}
	return nil
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) GetParticipantBySessionToken(ctx context.Context, token string, now time.Time) (*domain.Participant, error) {
	return nil, repository.ErrNotFound
}

func (s *memStore) GetParticipant(ctx context.Context, id int64) (*domain.Participant, error) {
	return nil, repository.ErrNotFound
}

func (s *memStore) GetBooking(ctx context.Context, id int64) (*domain.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.check(ctx, "GetBooking"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookingLoads++
	b, ok := s.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *memStore) UpdateBookingStatus(ctx context.Context, id int64, status string) error {
	if err := s.check(ctx, "UpdateBookingStatus"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return repository.ErrNotFound
	}
	b.Status = status
	return nil
}

func (s *memStore) CreateMessage(ctx context.Context, msg *domain.ChatMessage) error {
	if err := s.check(ctx, "CreateMessage"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.ID = s.id()
	msg.CreatedAt = time.Now()
	msg.UpdatedAt = msg.CreatedAt
	s.messages = append(s.messages, msg)
	return nil
}

func (s *memStore) RecentMessages(ctx context.Context, bookingID int64, limit int) ([]*domain.ChatMessage, error) {
	if err := s.check(ctx, "RecentMessages"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.ChatMessage
	for _, m := range s.messages {
		if m.BookingID == bookingID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memStore) MarkMessagesRead(ctx context.Context, ids []int64, readerID, ownerID int64) (int64, error) {
	if err := s.check(ctx, "MarkMessagesRead"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markRead = append(s.markRead, markReadCall{ids: ids, readerID: readerID, ownerID: ownerID})
	var n int64
	for _, m := range s.messages {
		if m.SenderID == readerID {
			continue
		}
		if ownerID != 0 && s.bookings[m.BookingID].UserID != ownerID {
			continue
		}
		for _, id := range ids {
			if m.ID == id {
				m.IsRead = true
				n++
			}
		}
	}
	return n, nil
}

func (s *memStore) CreateTrackingPoint(ctx context.Context, p *domain.TrackingPoint) error {
	if err := s.check(ctx, "CreateTrackingPoint"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.id()
	s.points = append(s.points, p)
	return nil
}

func (s *memStore) LatestTrackingPoint(ctx context.Context, bookingID int64) (*domain.TrackingPoint, error) {
	if err := s.check(ctx, "LatestTrackingPoint"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.points) - 1; i >= 0; i-- {
		if s.points[i].BookingID == bookingID {
			return s.points[i], nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memStore) RecentTrackingPoints(ctx context.Context, bookingID int64, limit int) ([]*domain.TrackingPoint, error) {
	if err := s.check(ctx, "RecentTrackingPoints"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.TrackingPoint
	for i := len(s.points) - 1; i >= 0 && len(out) < limit; i-- {
		if s.points[i].BookingID == bookingID {
			out = append(out, s.points[i])
		}
	}
	return out, nil
}

func (s *memStore) CreateNotification(ctx context.Context, n *domain.Notification) error {
	if err := s.check(ctx, "CreateNotification"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n.ID = s.id()
	n.CreatedAt = time.Now()
	cp := *n
	s.notifications = append(s.notifications, &cp)
	return nil
}

func (s *memStore) PendingNotifications(ctx context.Context, userID int64, limit int) ([]*domain.Notification, error) {
	if err := s.check(ctx, "PendingNotifications"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Notification
	for _, n := range s.notifications {
		if n.UserID == userID && !n.IsPushed && len(out) < limit {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) MarkNotificationsPushed(ctx context.Context, ids []int64) error {
	if err := s.check(ctx, "MarkNotificationsPushed"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notifications {
		for _, id := range ids {
			if n.ID == id {
				n.IsPushed = true
			}
		}
	}
	return nil
}

func (s *memStore) ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]*domain.Notification, error) {
	if err := s.check(ctx, "ListNotifications"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Notification
	for i := len(s.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		n := s.notifications[i]
		if n.UserID == userID && (!unreadOnly || !n.IsRead) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *memStore) SetOnlineStatus(ctx context.Context, userID int64, online bool, connectionID string) error {
	if err := s.check(ctx, "SetOnlineStatus"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[userID] = online
	return nil
}

func (s *memStore) notificationsFor(userID int64) []*domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Notification
	for _, n := range s.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

func (s *memStore) isOnline(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[userID]
}

// tokenValidator maps fixed tokens to participants.
type tokenValidator struct {
	tokens map[string]*domain.Participant
	err    error
}

func (v *tokenValidator) Validate(_ context.Context, token string) (*domain.Participant, error) {
	if v.err != nil {
		return nil, v.err
	}
	p, ok := v.tokens[token]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	cp := *p
	return &cp, nil
}

type published struct {
	eventType  string
	bookingID  int64
	recipients []int64
	direct     bool
}

type recordingRelay struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (r *recordingRelay) Publish(_ context.Context, eventType string, bookingID int64, _ interface{}, recipients []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, published{eventType: eventType, bookingID: bookingID, recipients: recipients})
	return nil
}

func (r *recordingRelay) PublishDirect(_ context.Context, eventType string, bookingID int64, _ interface{}, recipients []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, published{eventType: eventType, bookingID: bookingID, recipients: recipients, direct: true})
	return nil
}

func (r *recordingRelay) published() []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]published(nil), r.events...)
}

// memDirectory is a presence.Directory backed by a set. remote marks
// participants connected to another process.
type memDirectory struct {
	mu     sync.Mutex
	local  map[int64]bool
	remote map[int64]bool
}

func newMemDirectory() *memDirectory {
	return &memDirectory{local: map[int64]bool{}, remote: map[int64]bool{}}
}

func (d *memDirectory) Register(_ context.Context, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.local[id] = true
	return nil
}

func (d *memDirectory) Deregister(_ context.Context, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.local, id)
	return nil
}

func (d *memDirectory) IsOnline(_ context.Context, id int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.local[id] || d.remote[id], nil
}

func (d *memDirectory) StartHeartbeat(context.Context) error { return nil }
func (d *memDirectory) StopHeartbeat() {}

func (d *memDirectory) registered() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ids []int64
	for id := range d.local {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
