package domain

import (
	"time"

	"github.com/dronehire/realtime-service/pkg/database"
)

// UserModel maps the web backend's users table (read-only here).
type UserModel struct {
	ID    int64  `gorm:"primaryKey;autoIncrement"`
	Name  string `gorm:"type:varchar(100);not null"`
	Email string `gorm:"type:varchar(150);uniqueIndex"`
	Role  string `gorm:"type:varchar(20);not null;default:'user'"`
}

func (UserModel) TableName() string { return "users" }

// ToParticipant converts a user row to a Participant.
func (m *UserModel) ToParticipant() *Participant {
	return &Participant{ID: m.ID, Name: m.Name, Role: ParseRole(m.Role)}
}

// SessionModel maps login sessions issued by the web backend.
type SessionModel struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	UserID       int64     `gorm:"index;not null"`
	SessionToken string    `gorm:"type:varchar(128);uniqueIndex;not null"`
	ExpiresAt    time.Time `gorm:"index;not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

func (SessionModel) TableName() string { return "user_sessions" }

// BookingModel maps the bookings table. Only status is written here.
type BookingModel struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	UserID     int64     `gorm:"index;not null"`
	OperatorID *int64    `gorm:"index"`
	Status     string    `gorm:"type:varchar(30);index;not null;default:'pending'"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

func (BookingModel) TableName() string { return "bookings" }

// ToDomain converts BookingModel to domain Booking.
func (m *BookingModel) ToDomain() *Booking {
	b := &Booking{ID: m.ID, UserID: m.UserID, Status: m.Status}
	if m.OperatorID != nil {
		b.OperatorID = *m.OperatorID
	}
	return b
}

// ChatMessageModel is the GORM model for chat_messages.
type ChatMessageModel struct {
	ID          int64            `gorm:"primaryKey;autoIncrement"`
	BookingID   int64            `gorm:"index:idx_chat_booking_created,priority:1;not null"`
	SenderID    int64            `gorm:"index;not null"`
	SenderType  string           `gorm:"type:varchar(20);not null"`
	MessageType string           `gorm:"type:varchar(20);not null;default:'text'"`
	Message     string           `gorm:"type:text;not null"`
	Metadata    database.JSONMap `gorm:"type:text"`
	IsRead      bool             `gorm:"index;not null;default:false"`
	CreatedAt   time.Time        `gorm:"index:idx_chat_booking_created,priority:2;autoCreateTime"`
	UpdatedAt   time.Time        `gorm:"autoUpdateTime"`
}

func (ChatMessageModel) TableName() string { return "chat_messages" }

// ToDomain converts ChatMessageModel to domain ChatMessage.
func (m *ChatMessageModel) ToDomain() *ChatMessage {
	return &ChatMessage{
		ID:          m.ID,
		BookingID:   m.BookingID,
		SenderID:    m.SenderID,
		SenderRole:  ParseRole(m.SenderType),
		MessageType: MessageType(m.MessageType),
		Content:     m.Message,
		Metadata:    map[string]interface{}(m.Metadata),
		IsRead:      m.IsRead,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// ChatMessageToModel converts domain ChatMessage to ChatMessageModel.
func ChatMessageToModel(msg *ChatMessage) *ChatMessageModel {
	return &ChatMessageModel{
		ID:          msg.ID,
		BookingID:   msg.BookingID,
		SenderID:    msg.SenderID,
		SenderType:  string(msg.SenderRole),
		MessageType: string(msg.MessageType),
		Message:     msg.Content,
		Metadata:    database.JSONMap(msg.Metadata),
		IsRead:      msg.IsRead,
		CreatedAt:   msg.CreatedAt,
		UpdatedAt:   msg.UpdatedAt,
	}
}

// TrackingPointModel is the GORM model for drone_tracking. Rows are append-only.
type TrackingPointModel struct {
	ID             int64    `gorm:"primaryKey;autoIncrement"`
	BookingID      int64    `gorm:"index:idx_tracking_booking_recorded,priority:1;not null"`
	OperatorID     int64    `gorm:"index;not null"`
	Latitude       float64  `gorm:"type:decimal(10,8);not null"`
	Longitude      float64  `gorm:"type:decimal(11,8);not null"`
	Altitude       *float64 `gorm:"type:decimal(8,2)"`
	Speed          *float64 `gorm:"type:decimal(6,2)"`
	BatteryLevel   *int
	SignalStrength *int
	Status         string    `gorm:"type:varchar(20);not null"`
	RecordedAt     time.Time `gorm:"column:timestamp;index:idx_tracking_booking_recorded,priority:2;not null"`
}

func (TrackingPointModel) TableName() string { return "drone_tracking" }

// ToDomain converts TrackingPointModel to domain TrackingPoint.
func (m *TrackingPointModel) ToDomain() *TrackingPoint {
	return &TrackingPoint{
		ID:             m.ID,
		BookingID:      m.BookingID,
		OperatorID:     m.OperatorID,
		Latitude:       m.Latitude,
		Longitude:      m.Longitude,
		Altitude:       m.Altitude,
		Speed:          m.Speed,
		BatteryLevel:   m.BatteryLevel,
		SignalStrength: m.SignalStrength,
		Status:         FlightStatus(m.Status),
		RecordedAt:     m.RecordedAt,
	}
}

// TrackingPointToModel converts domain TrackingPoint to TrackingPointModel.
func TrackingPointToModel(p *TrackingPoint) *TrackingPointModel {
	return &TrackingPointModel{
		ID:             p.ID,
		BookingID:      p.BookingID,
		OperatorID:     p.OperatorID,
		Latitude:       p.Latitude,
		Longitude:      p.Longitude,
		Altitude:       p.Altitude,
		Speed:          p.Speed,
		BatteryLevel:   p.BatteryLevel,
		SignalStrength: p.SignalStrength,
		Status:         string(p.Status),
		RecordedAt:     p.RecordedAt,
	}
}

// NotificationModel is the GORM model for notifications.
type NotificationModel struct {
	ID        int64            `gorm:"primaryKey;autoIncrement"`
	UserID    int64            `gorm:"index:idx_notification_user_pushed,priority:1;not null"`
	Type      string           `gorm:"type:varchar(50);not null"`
	Title     string           `gorm:"type:varchar(200);not null"`
	Message   string           `gorm:"type:text"`
	Data      database.JSONMap `gorm:"type:text"`
	IsRead    bool             `gorm:"not null;default:false"`
	IsPushed  bool             `gorm:"index:idx_notification_user_pushed,priority:2;not null;default:false"`
	CreatedAt time.Time        `gorm:"autoCreateTime"`
}

func (NotificationModel) TableName() string { return "notifications" }

// ToDomain converts NotificationModel to domain Notification.
func (m *NotificationModel) ToDomain() *Notification {
	return &Notification{
		ID:        m.ID,
		UserID:    m.UserID,
		Type:      m.Type,
		Title:     m.Title,
		Message:   m.Message,
		Data:      map[string]interface{}(m.Data),
		IsRead:    m.IsRead,
		IsPushed:  m.IsPushed,
		CreatedAt: m.CreatedAt,
	}
}

// NotificationToModel converts domain Notification to NotificationModel.
func NotificationToModel(n *Notification) *NotificationModel {
	return &NotificationModel{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Data:      database.JSONMap(n.Data),
		IsRead:    n.IsRead,
		IsPushed:  n.IsPushed,
		CreatedAt: n.CreatedAt,
	}
}

// OnlineStatusModel is one row per participant read by the web dashboard.
type OnlineStatusModel struct {
	UserID   int64     `gorm:"primaryKey;autoIncrement:false"`
	IsOnline bool      `gorm:"not null;default:false"`
	SocketID string    `gorm:"type:varchar(64)"`
	LastSeen time.Time `gorm:"not null"`
}

func (OnlineStatusModel) TableName() string { return "user_online_status" }

// Models lists every table touched by this service, for dev auto-migration.
func Models() []interface{} {
	return []interface{}{
		&UserModel{},
		&SessionModel{},
		&BookingModel{},
		&ChatMessageModel{},
		&TrackingPointModel{},
		&NotificationModel{},
		&OnlineStatusModel{},
	}
}
