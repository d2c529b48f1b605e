package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      *IndexError
		wantGRPC codes.Code
		wantHTTP int
	}{
		{name: "configuration", err: Configuration("no columns"), wantGRPC: codes.InvalidArgument, wantHTTP: http.StatusBadRequest},
		{name: "out of range", err: OutOfRange("price", 12.5), wantGRPC: codes.OutOfRange, wantHTTP: http.StatusBadRequest},
		{name: "revision not found", err: RevisionNotFound("t1", 4), wantGRPC: codes.NotFound, wantHTTP: http.StatusNotFound},
		{name: "concurrent commit", err: ConcurrentCommit("t1", 3, 4), wantGRPC: codes.Aborted, wantHTTP: http.StatusConflict},
		{name: "inconsistent state", err: InconsistentState("orphan cube"), wantGRPC: codes.FailedPrecondition, wantHTTP: http.StatusInternalServerError},
		{name: "corrupted", err: CorruptedData("bad crc", nil), wantGRPC: codes.DataLoss, wantHTTP: http.StatusInternalServerError},
		{name: "unavailable", err: Unavailable("redis down", nil), wantGRPC: codes.Unavailable, wantHTTP: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantGRPC, tt.err.ToGRPCStatus().Code())
			assert.Equal(t, tt.wantHTTP, tt.err.HTTPStatus())
		})
	}
}

func TestGetCodeUnwraps(t *testing.T) {
	base := ConcurrentCommit("orders", 7, 8)
	wrapped := fmt.Errorf("save batch: %w", base)

	assert.Equal(t, ErrCodeConcurrentCommit, GetCode(wrapped))
	assert.True(t, IsConcurrentCommit(wrapped))
	assert.True(t, IsIndexError(wrapped))
	assert.False(t, IsOutOfRange(wrapped))

	assert.Equal(t, ErrCodeInternal, GetCode(fmt.Errorf("plain")))
	assert.Equal(t, ErrCodeOK, GetCode(nil))
}

func TestDetails(t *testing.T) {
	err := OutOfRange("price", 42.0)
	require.Contains(t, err.Details, "column")
	assert.Equal(t, "price", err.Details["column"])
	assert.Equal(t, 42.0, err.Details["value"])
	assert.Contains(t, err.Error(), "price")
	assert.Equal(t, "OutOfRangeError", err.Code.String())
}

func TestCause(t *testing.T) {
	cause := fmt.Errorf("disk gone")
	err := LogFailed("append transaction", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "append transaction: disk gone", err.Error())
}
