package pubsub

import "fmt"

// Channel naming conventions for booking room fan-out.
const (
	ChannelBookingEvents = "realtime:booking:%d:events"

	// PatternBookingEvents matches every booking channel.
	PatternBookingEvents = "realtime:booking:*:events"
)

// Event types relayed between realtime instances.
const (
	EventNewMessage     = "new_message"
	EventLocationUpdate = "location_update"
	EventStatusUpdate   = "status_update"
	EventNotification   = "notification"
)

// BookingChannel returns the fan-out channel for a booking room.
func BookingChannel(bookingID int64) string {
	return fmt.Sprintf(ChannelBookingEvents, bookingID)
}
