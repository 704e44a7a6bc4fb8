package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{name: "auth", raw: `{"type":"auth","token":"abc"}`, want: MsgTypeAuth},
		{name: "ping", raw: `{"type":"ping"}`, want: MsgTypePing},
		{name: "join", raw: `{"type":"join_booking","booking_id":42}`, want: MsgTypeJoinBooking},
		{name: "leave", raw: `{"type":"leave_booking","booking_id":42}`, want: MsgTypeLeaveBooking},
		{name: "send", raw: `{"type":"send_message","booking_id":42,"content":"hi"}`, want: MsgTypeSendMessage},
		{name: "location", raw: `{"type":"location_update","booking_id":42,"latitude":28.61,"longitude":77.2,"status":"flying"}`, want: MsgTypeLocationUpdate},
		{name: "status", raw: `{"type":"status_update","booking_id":42,"status":"in_progress"}`, want: MsgTypeStatusUpdate},
		{name: "mark read", raw: `{"type":"mark_read","message_ids":[1,2]}`, want: MsgTypeMarkRead},

		{name: "not json", raw: `{type:`, wantErr: ErrInvalidFrame},
		{name: "missing type", raw: `{"booking_id":1}`, wantErr: ErrInvalidFrame},
		{name: "unknown type", raw: `{"type":"teleport"}`, wantErr: ErrUnknownType},
		{name: "join without booking", raw: `{"type":"join_booking"}`, wantErr: ErrInvalidFrame},
		{name: "booking id wrong type", raw: `{"type":"join_booking","booking_id":"42"}`, wantErr: ErrInvalidFrame},
		{name: "empty content", raw: `{"type":"send_message","booking_id":42,"content":"  "}`, wantErr: ErrInvalidFrame},
		{name: "bad message type", raw: `{"type":"send_message","booking_id":42,"content":"x","message_type":"video"}`, wantErr: ErrInvalidFrame},
		{name: "missing latitude", raw: `{"type":"location_update","booking_id":42,"longitude":77.2,"status":"flying"}`, wantErr: ErrInvalidFrame},
		{name: "latitude out of range", raw: `{"type":"location_update","booking_id":42,"latitude":91,"longitude":77.2,"status":"flying"}`, wantErr: ErrInvalidFrame},
		{name: "longitude out of range", raw: `{"type":"location_update","booking_id":42,"latitude":28,"longitude":-180.5,"status":"flying"}`, wantErr: ErrInvalidFrame},
		{name: "bad flight status", raw: `{"type":"location_update","booking_id":42,"latitude":28,"longitude":77,"status":"hovering"}`, wantErr: ErrInvalidFrame},
		{name: "empty status", raw: `{"type":"status_update","booking_id":42}`, wantErr: ErrInvalidFrame},
		{name: "mark read without ids", raw: `{"type":"mark_read"}`, wantErr: ErrInvalidFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeInbound([]byte(tt.raw))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, msg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.MessageType())
		})
	}
}

func TestDecodeInboundSendMessageDefaultsToText(t *testing.T) {
	msg, err := DecodeInbound([]byte(`{"type":"send_message","booking_id":7,"content":"hello","metadata":{"k":"v"}}`))
	require.NoError(t, err)

	send, ok := msg.(*SendMessageMessage)
	require.True(t, ok)
	assert.Equal(t, int64(7), send.BookingID)
	assert.Equal(t, MessageTypeText, send.Kind)
	assert.Equal(t, "v", send.Metadata["k"])
}

func TestDecodeInboundLocationOptionalFields(t *testing.T) {
	msg, err := DecodeInbound([]byte(`{"type":"location_update","booking_id":42,"latitude":-90,"longitude":180,"altitude":120.5,"battery_level":80,"status":"landed"}`))
	require.NoError(t, err)

	loc := msg.(*LocationUpdateMessage)
	require.NotNil(t, loc.Altitude)
	assert.Equal(t, 120.5, *loc.Altitude)
	require.NotNil(t, loc.BatteryLevel)
	assert.Equal(t, 80, *loc.BatteryLevel)
	assert.Nil(t, loc.Speed)
	assert.Nil(t, loc.SignalStrength)
}

func TestErrorMessageShape(t *testing.T) {
	data, err := json.Marshal(NewErrorMessage(ErrCodeAccessDenied, "not a party to this booking"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","code":"access_denied","message":"not a party to this booking"}`, string(data))
	assert.Equal(t, "send_message_failed", FailedCode(MsgTypeSendMessage))
}
