package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeChecksum(t *testing.T) {
	data := []byte("test data for checksum validation")
	checksum := ComputeChecksum(data)

	assert.Equal(t, checksum, ComputeChecksum(data))
	assert.True(t, ValidateChecksum(data, checksum))
	assert.False(t, ValidateChecksum(data, checksum+1))

	corrupted := append([]byte{}, data...)
	corrupted[0] ^= 0xFF
	assert.False(t, ValidateChecksum(corrupted, checksum))
}

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"simple", []byte("hello world")},
		{"binary", []byte{0x00, 0x01, 0x02, 0x03, 0xFF}},
		{"large", make([]byte, 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := Frame(tt.data)
			assert.Len(t, frame, len(tt.data)+frameOverhead)

			payload, err := Unframe(frame)
			require.NoError(t, err)
			assert.Equal(t, tt.data, payload)
		})
	}
}

func TestUnframeRejectsDamage(t *testing.T) {
	frame := Frame([]byte("transaction"))

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"flipped payload byte", func(b []byte) []byte { b[9] ^= 0x01; return b }},
		{"bad magic", func(b []byte) []byte { b[0] ^= 0x01; return b }},
		{"truncated", func(b []byte) []byte { return b[:len(b)-1] }},
		{"too short", func(b []byte) []byte { return b[:5] }},
		{"trailing garbage", func(b []byte) []byte { return append(b, 0) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			damaged := tt.mutate(append([]byte{}, frame...))
			_, err := Unframe(damaged)
			assert.Error(t, err)
		})
	}
}
