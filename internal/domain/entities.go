package domain

import "time"

// MessageType classifies chat content.
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeFile     MessageType = "file"
	MessageTypeLocation MessageType = "location"
	MessageTypeSystem   MessageType = "system"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeLocation, MessageTypeSystem:
		return true
	}
	return false
}

// FlightStatus is the drone state reported with a tracking point.
type FlightStatus string

const (
	FlightPreparing FlightStatus = "preparing"
	FlightTakeoff   FlightStatus = "takeoff"
	FlightFlying    FlightStatus = "flying"
	FlightRecording FlightStatus = "recording"
	FlightReturning FlightStatus = "returning"
	FlightLanded    FlightStatus = "landed"
)

// Valid reports whether s is a known flight status.
func (s FlightStatus) Valid() bool {
	switch s {
	case FlightPreparing, FlightTakeoff, FlightFlying, FlightRecording, FlightReturning, FlightLanded:
		return true
	}
	return false
}

// Notification types created by this service.
const (
	NotificationChatMessage  = "chat_message"
	NotificationStatusUpdate = "status_update"
)

// ChatMessage is a persisted message in a booking room.
type ChatMessage struct {
	ID          int64                  `json:"id"`
	BookingID   int64                  `json:"booking_id"`
	SenderID    int64                  `json:"sender_id"`
	SenderRole  Role                   `json:"sender_type"`
	SenderName  string                 `json:"sender_name,omitempty"`
	MessageType MessageType            `json:"message_type"`
	Content     string                 `json:"content"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	IsRead      bool                   `json:"is_read"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// TrackingPoint is one immutable telemetry sample for a booking's flight.
type TrackingPoint struct {
	ID             int64        `json:"id"`
	BookingID      int64        `json:"booking_id"`
	OperatorID     int64        `json:"operator_id"`
	Latitude       float64      `json:"latitude"`
	Longitude      float64      `json:"longitude"`
	Altitude       *float64     `json:"altitude,omitempty"`
	Speed          *float64     `json:"speed,omitempty"`
	BatteryLevel   *int         `json:"battery_level,omitempty"`
	SignalStrength *int         `json:"signal_strength,omitempty"`
	Status         FlightStatus `json:"status"`
	RecordedAt     time.Time    `json:"timestamp"`
}

// Notification is a durable message queued for a participant.
type Notification struct {
	ID        int64                  `json:"id"`
	UserID    int64                  `json:"user_id"`
	Type      string                 `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	IsRead    bool                   `json:"is_read"`
	IsPushed  bool                   `json:"is_pushed"`
	CreatedAt time.Time              `json:"created_at"`
}

// Attachment is a file uploaded to a booking's chat. Clients send it on as
// the metadata of an image or file message.
type Attachment struct {
	BookingID   int64       `json:"booking_id"`
	Name        string      `json:"name"`
	ContentType string      `json:"content_type"`
	Size        int64       `json:"size"`
	MessageType MessageType `json:"message_type"`
	URL         string      `json:"url"`
	UploadedBy  int64       `json:"uploaded_by"`
	UploadedAt  time.Time   `json:"uploaded_at"`
}
