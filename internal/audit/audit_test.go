package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dronehire/realtime-service/pkg/log"
)

func TestLogBookingFields(t *testing.T) {
	var buf bytes.Buffer
	ctx := log.WithLogger(context.Background(), log.New(log.Config{Level: "debug"}, &buf))

	LogBooking(ctx, ActionJoinBooking, 7, 42, "joined booking")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, log.LogTypeAudit, entry[log.FieldLogType])
	assert.Equal(t, ActionJoinBooking, entry[FieldAction])
	assert.Equal(t, float64(7), entry[log.FieldUserID])
	assert.Equal(t, float64(42), entry[FieldTargetID])
	assert.Equal(t, "joined booking", entry["message"])
}
