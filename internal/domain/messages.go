package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// WebSocket message types from client.
const (
	MsgTypeAuth           = "auth"
	MsgTypePing           = "ping"
	MsgTypeJoinBooking    = "join_booking"
	MsgTypeLeaveBooking   = "leave_booking"
	MsgTypeSendMessage    = "send_message"
	MsgTypeLocationUpdate = "location_update"
	MsgTypeStatusUpdate   = "status_update"
	MsgTypeMarkRead       = "mark_read"
)

// WebSocket message types to client.
const (
	MsgTypeConnection           = "connection"
	MsgTypeAuthSuccess          = "auth_success"
	MsgTypePendingNotifications = "pending_notifications"
	MsgTypeJoinedBooking        = "joined_booking"
	MsgTypeLeftBooking          = "left_booking"
	MsgTypeUserJoined           = "user_joined"
	MsgTypeUserLeft             = "user_left"
	MsgTypeRecentMessages       = "recent_messages"
	MsgTypeCurrentTracking      = "current_tracking"
	MsgTypeNewMessage           = "new_message"
	MsgTypeMessagesMarkedRead   = "messages_marked_read"
	MsgTypeNotification         = "notification"
	MsgTypePong                 = "pong"
	MsgTypeError                = "error"
)

// Error codes
const (
	ErrCodeInvalidFormat = "invalid_message_format"
	ErrCodeAuthRequired  = "authentication_required"
	ErrCodeAuthFailed    = "authentication_failed"
	ErrCodeAccessDenied  = "access_denied"
)

// FailedCode is the error code for a downstream failure during op, e.g. send_message_failed.
func FailedCode(op string) string {
	return op + "_failed"
}

var (
	// ErrInvalidFrame marks any inbound frame that cannot be decoded or is missing fields.
	ErrInvalidFrame = errors.New("invalid message format")
	// ErrUnknownType marks a well-formed frame with an unrecognised type.
	ErrUnknownType = errors.New("unknown message type")
)

// BaseMessage is the base structure for all WebSocket messages.
type BaseMessage struct {
	Type string `json:"type"`
}

// Inbound is a decoded client frame.
type Inbound interface {
	MessageType() string
}

// MessageType implements Inbound.
func (m BaseMessage) MessageType() string { return m.Type }

// Client -> Server messages

type AuthMessage struct {
	BaseMessage
	Token string `json:"token"`
}

type PingMessage struct {
	BaseMessage
}

// BookingMessage is used by join_booking and leave_booking.
type BookingMessage struct {
	BaseMessage
	BookingID int64 `json:"booking_id"`
}

type SendMessageMessage struct {
	BaseMessage
	BookingID int64                  `json:"booking_id"`
	Content   string                 `json:"content"`
	Kind      MessageType            `json:"message_type"`
	Metadata  map[string]interface{} `json:"metadata"`
}

type LocationUpdateMessage struct {
	BaseMessage
	BookingID      int64        `json:"booking_id"`
	Latitude       *float64     `json:"latitude"`
	Longitude      *float64     `json:"longitude"`
	Altitude       *float64     `json:"altitude"`
	Speed          *float64     `json:"speed"`
	BatteryLevel   *int         `json:"battery_level"`
	SignalStrength *int         `json:"signal_strength"`
	Status         FlightStatus `json:"status"`
}

type StatusUpdateMessage struct {
	BaseMessage
	BookingID int64  `json:"booking_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

type MarkReadMessage struct {
	BaseMessage
	MessageIDs []int64 `json:"message_ids"`
}

// DecodeInbound parses a raw client frame into its typed message and checks
// the fields each type requires. It has no side effects.
func DecodeInbound(raw []byte) (Inbound, error) {
	var base BaseMessage
	if err := json.Unmarshal(raw, &base); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	var msg Inbound
	switch base.Type {
	case MsgTypeAuth:
		msg = &AuthMessage{}
	case MsgTypePing:
		return &PingMessage{BaseMessage: base}, nil
	case MsgTypeJoinBooking, MsgTypeLeaveBooking:
		msg = &BookingMessage{}
	case MsgTypeSendMessage:
		msg = &SendMessageMessage{}
	case MsgTypeLocationUpdate:
		msg = &LocationUpdateMessage{}
	case MsgTypeStatusUpdate:
		msg = &StatusUpdateMessage{}
	case MsgTypeMarkRead:
		msg = &MarkReadMessage{}
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrInvalidFrame)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, base.Type)
	}

	if err := json.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if err := validate(msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return msg, nil
}

func validate(msg Inbound) error {
	switch m := msg.(type) {
	case *BookingMessage:
		return requireBooking(m.BookingID)

	case *SendMessageMessage:
		if err := requireBooking(m.BookingID); err != nil {
			return err
		}
		if strings.TrimSpace(m.Content) == "" {
			return errors.New("content is required")
		}
		if m.Kind == "" {
			m.Kind = MessageTypeText
		}
		if !m.Kind.Valid() {
			return fmt.Errorf("unsupported message_type %q", m.Kind)
		}

	case *LocationUpdateMessage:
		if err := requireBooking(m.BookingID); err != nil {
			return err
		}
		if m.Latitude == nil || m.Longitude == nil {
			return errors.New("latitude and longitude are required")
		}
		if *m.Latitude < -90 || *m.Latitude > 90 || *m.Longitude < -180 || *m.Longitude > 180 {
			return errors.New("coordinates out of range")
		}
		if !m.Status.Valid() {
			return fmt.Errorf("unsupported status %q", m.Status)
		}

	case *StatusUpdateMessage:
		if err := requireBooking(m.BookingID); err != nil {
			return err
		}
		if strings.TrimSpace(m.Status) == "" {
			return errors.New("status is required")
		}

	case *MarkReadMessage:
		if m.MessageIDs == nil {
			return errors.New("message_ids is required")
		}
	}
	return nil
}

func requireBooking(id int64) error {
	if id <= 0 {
		return errors.New("booking_id is required")
	}
	return nil
}

// Server -> Client messages

type ConnectionMessage struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
	Message      string `json:"message"`
	Timestamp    int64  `json:"timestamp"`
}

type AuthSuccessMessage struct {
	Type string       `json:"type"`
	User *Participant `json:"user"`
}

type PendingNotificationsMessage struct {
	Type          string          `json:"type"`
	Notifications []*Notification `json:"notifications"`
	Count         int             `json:"count"`
}

type JoinedBookingMessage struct {
	Type          string `json:"type"`
	BookingID     int64  `json:"booking_id"`
	BookingStatus string `json:"booking_status"`
}

type LeftBookingMessage struct {
	Type      string `json:"type"`
	BookingID int64  `json:"booking_id"`
}

// UserPresenceMessage is sent as user_joined and user_left.
type UserPresenceMessage struct {
	Type      string `json:"type"`
	BookingID int64  `json:"booking_id"`
	UserID    int64  `json:"user_id"`
	UserName  string `json:"user_name"`
	UserRole  Role   `json:"user_role"`
	Timestamp int64  `json:"timestamp"`
}

type RecentMessagesMessage struct {
	Type      string         `json:"type"`
	BookingID int64          `json:"booking_id"`
	Messages  []*ChatMessage `json:"messages"`
}

// TrackingMessage is sent as current_tracking and location_update.
type TrackingMessage struct {
	Type      string         `json:"type"`
	BookingID int64          `json:"booking_id"`
	Tracking  *TrackingPoint `json:"tracking"`
}

type NewMessageMessage struct {
	Type    string       `json:"type"`
	Message *ChatMessage `json:"message"`
}

type StatusUpdateOut struct {
	Type      string `json:"type"`
	BookingID int64  `json:"booking_id"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	UpdatedBy int64  `json:"updated_by"`
	Timestamp int64  `json:"timestamp"`
}

type MessagesMarkedReadMessage struct {
	Type       string  `json:"type"`
	MessageIDs []int64 `json:"message_ids"`
}

type NotificationMessage struct {
	Type         string        `json:"type"`
	Notification *Notification `json:"notification"`
}

type PongMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	}
}
