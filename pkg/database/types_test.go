package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONMapScan(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
		want  JSONMap
	}{
		{name: "nil", input: nil, want: nil},
		{name: "empty string", input: "", want: nil},
		{name: "json null", input: []byte("null"), want: nil},
		{name: "object bytes", input: []byte(`{"file_name":"survey.jpg"}`), want: JSONMap{"file_name": "survey.jpg"}},
		{name: "object string", input: `{"size":42}`, want: JSONMap{"size": float64(42)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m JSONMap
			require.NoError(t, m.Scan(tt.input))
			assert.Equal(t, tt.want, m)
		})
	}
}

func TestJSONMapScanRejectsUnknownType(t *testing.T) {
	var m JSONMap
	assert.Error(t, m.Scan(42))
	assert.Error(t, m.Scan([]byte(`[1,2]`)))
}

func TestJSONMapValue(t *testing.T) {
	v, err := JSONMap(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = JSONMap{"booking": "42"}.Value()
	require.NoError(t, err)
	assert.Equal(t, `{"booking":"42"}`, v)
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(&Config{Driver: "oracle"})
	assert.Error(t, err)
}
