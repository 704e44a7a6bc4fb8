package domain

import (
	"sync"
	"time"
)

// Session is the per-connection state: who the connection belongs to and
// which booking room it currently sits in.
type Session struct {
	ID               string
	participant      *Participant
	authenticated    bool
	currentBookingID int64
	CreatedAt        time.Time
	LastActiveAt     time.Time
	mu               sync.RWMutex
}

func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// Authenticate binds the session to p. It returns the identity that was
// previously bound, if any.
func (s *Session) Authenticate(p *Participant) *Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.participant
	cp := *p
	s.participant = &cp
	s.authenticated = true
	s.LastActiveAt = time.Now()
	return prev
}

func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// Participant returns a copy of the bound identity, or nil before auth.
func (s *Session) Participant() *Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.participant == nil {
		return nil
	}
	cp := *s.participant
	return &cp
}

func (s *Session) GetUserID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.participant == nil {
		return 0
	}
	return s.participant.ID
}

func (s *Session) JoinBooking(bookingID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentBookingID = bookingID
	s.LastActiveAt = time.Now()
}

// LeaveBooking clears the current room and returns the one left, or 0.
func (s *Session) LeaveBooking() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.currentBookingID
	s.currentBookingID = 0
	s.LastActiveAt = time.Now()
	return prev
}

func (s *Session) CurrentBooking() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentBookingID
}

func (s *Session) IsInBooking(bookingID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentBookingID != 0 && s.currentBookingID == bookingID
}

func (s *Session) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActiveAt = time.Now()
}
