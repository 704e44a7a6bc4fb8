package relay

import (
	"context"
	"crypto/rand"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	pkglog "github.com/dronehire/realtime-service/pkg/log"
	"github.com/dronehire/realtime-service/pkg/pubsub"
)

const (
	defaultDedupWindow = 1024
	reconnectDelay     = 2 * time.Second
)

// Deliverer hands relayed frames to local connections.
type Deliverer interface {
	BroadcastRaw(bookingID int64, data []byte, exclude int64) int
	SendRawTo(participantID int64, data []byte) bool
	IsMember(bookingID, participantID int64) bool
}

// Relay fans booking events out to the other realtime processes and
// delivers their events to this process's connections.
type Relay struct {
	ps         pubsub.PubSub
	deliverer  Deliverer
	instanceID string
	seen       *seenSet
	doneCh     chan struct{}
}

// New creates a relay. dedupWindow bounds how many recent event ids are
// remembered for duplicate suppression.
func New(ps pubsub.PubSub, deliverer Deliverer, instanceID string, dedupWindow int) *Relay {
	if dedupWindow <= 0 {
		dedupWindow = defaultDedupWindow
	}
	return &Relay{
		ps:         ps,
		deliverer:  deliverer,
		instanceID: instanceID,
		seen:       newSeenSet(dedupWindow),
		doneCh:     make(chan struct{}),
	}
}

// Publish relays frame, already sent to local room members, to every other
// process. recipients lists participants that must get the frame even when
// they are not in the room.
func (r *Relay) Publish(ctx context.Context, eventType string, bookingID int64, frame interface{}, recipients []int64) error {
	return r.publish(ctx, eventType, bookingID, frame, recipients, false)
}

// PublishDirect relays frame to recipients connected to other processes
// without broadcasting it to the room.
func (r *Relay) PublishDirect(ctx context.Context, eventType string, bookingID int64, frame interface{}, recipients []int64) error {
	if len(recipients) == 0 {
		return nil
	}
	return r.publish(ctx, eventType, bookingID, frame, recipients, true)
}

func (r *Relay) publish(ctx context.Context, eventType string, bookingID int64, frame interface{}, recipients []int64, direct bool) error {
	event, err := pubsub.NewEvent(eventType, strconv.FormatInt(bookingID, 10), frame)
	if err != nil {
		return fmt.Errorf("failed to encode relay event: %w", err)
	}

	id, err := ulid.New(ulid.Timestamp(event.Timestamp), rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate event id: %w", err)
	}
	event.ID = id.String()
	event.Origin = r.instanceID
	event.Recipients = recipients
	event.Direct = direct

	if err := r.ps.Publish(ctx, pubsub.BookingChannel(bookingID), event); err != nil {
		return fmt.Errorf("failed to publish relay event: %w", err)
	}

	l := pkglog.Ctx(ctx)
	l.Debug().
		Str(pkglog.FieldEventType, eventType).
		Int64(pkglog.FieldBookingID, bookingID).
		Str("event_id", event.ID).
		Msg("relay event published")
	return nil
}

// Done returns a channel that is closed when Run() exits.
func (r *Relay) Done() <-chan struct{} { return r.doneCh }

// Run subscribes to every booking channel and delivers remote events until
// ctx is done. The subscription is re-established after a delay whenever it
// fails or ends.
func (r *Relay) Run(ctx context.Context) {
	defer close(r.doneCh)
	l := pkglog.L()

	for {
		err := r.runSubscription(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			l.Warn().Err(err).Msg("relay subscription error, reconnecting in 2s")
		} else {
			l.Warn().Msg("relay subscription closed, reconnecting in 2s")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (r *Relay) runSubscription(ctx context.Context) error {
	events, err := r.ps.SubscribePattern(ctx, pubsub.PatternBookingEvents)
	if err != nil {
		return err
	}

	l := pkglog.L()
	l.Info().Str("pattern", pubsub.PatternBookingEvents).Msg("relay subscribed")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			r.handleEvent(event)
		}
	}
}

// handleEvent delivers a remote event locally. It reports whether the event
// was accepted, i.e. not ours and not seen before.
func (r *Relay) handleEvent(event *pubsub.Event) bool {
	l := pkglog.L()

	if event.Origin == r.instanceID {
		return false
	}
	if event.ID != "" && !r.seen.add(event.ID) {
		l.Debug().Str("event_id", event.ID).Msg("relay: duplicate event dropped")
		return false
	}

	bookingID, err := strconv.ParseInt(event.RoomID, 10, 64)
	if err != nil || bookingID <= 0 {
		l.Warn().Str("room_id", event.RoomID).Msg("relay: invalid booking id")
		return false
	}
	var head frameHead
	if err := event.UnmarshalPayload(&head); err != nil || head.Type == "" {
		l.Warn().Str("event_id", event.ID).Msg("relay: invalid payload")
		return false
	}

	delivered := 0
	if !event.Direct {
		delivered = r.deliverer.BroadcastRaw(bookingID, event.Payload, 0)
	}
	for _, pid := range event.Recipients {
		// room members already got the broadcast
		if !event.Direct && r.deliverer.IsMember(bookingID, pid) {
			continue
		}
		if r.deliverer.SendRawTo(pid, event.Payload) {
			delivered++
		}
	}

	l.Debug().
		Str(pkglog.FieldEventType, event.Type).
		Int64(pkglog.FieldBookingID, bookingID).
		Int("delivered", delivered).
		Msg("relay event delivered")
	return true
}

// frameHead is the part of a relayed frame every client frame carries.
type frameHead struct {
	Type string `json:"type"`
}

// seenSet remembers the last n ids in insertion order.
type seenSet struct {
	ids  map[string]struct{}
	ring []string
	next int
	mu   sync.Mutex
}

func newSeenSet(n int) *seenSet {
	return &seenSet{
		ids:  make(map[string]struct{}, n),
		ring: make([]string, n),
	}
}

// add records id and reports whether it was new.
func (s *seenSet) add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; ok {
		return false
	}
	if old := s.ring[s.next]; old != "" {
		delete(s.ids, old)
	}
	s.ring[s.next] = id
	s.ids[id] = struct{}{}
	s.next = (s.next + 1) % len(s.ring)
	return true
}
