package audit

import (
	"context"

	"github.com/dronehire/realtime-service/pkg/log"
)

// Audit actions for the realtime service.
const (
	ActionAuth           = "realtime.auth"
	ActionAuthFailed     = "realtime.auth_failed"
	ActionJoinBooking    = "realtime.join_booking"
	ActionLeaveBooking   = "realtime.leave_booking"
	ActionSendMessage    = "realtime.send_message"
	ActionLocationUpdate = "realtime.location_update"
	ActionStatusUpdate   = "realtime.status_update"
	ActionMarkRead       = "realtime.mark_read"
	ActionAccessDenied   = "realtime.access_denied"
	ActionDisconnect     = "realtime.disconnect"
	ActionUploadFile     = "realtime.upload_attachment"
)

// Field constants for audit entries.
const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action string, userID int64, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Int64(log.FieldUserID, userID).
		Msg(msg)
}

// LogBooking emits an audit entry about an action on a booking.
func LogBooking(ctx context.Context, action string, userID, bookingID int64, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Int64(log.FieldUserID, userID).
		Int64(FieldTargetID, bookingID).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action string, userID int64, detail string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Int64(log.FieldUserID, userID).
		Str(FieldDetail, detail).
		Msg(msg)
}
