package diskmanager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/otree/internal/errors"
)

const gb = uint64(1) << 30

// withUsage builds a manager over a fake 100 GB filesystem
func withUsage(t *testing.T, availableGB uint64) *DiskManager {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	cfg.CheckInterval = time.Hour
	dm, err := NewDiskManager(cfg, zap.NewNop())
	require.NoError(t, err)
	dm.statfs = func(string) (uint64, uint64, error) { return 100 * gb, availableGB * gb, nil }
	require.NoError(t, dm.ForceCheck())
	return dm
}

func TestCheckBeforeWrite(t *testing.T) {
	tests := []struct {
		name      string
		available uint64
		estimate  uint64
		wantCode  errors.ErrorCode
	}{
		{"plenty of space", 50, 10 * gb, errors.ErrCodeOK},
		{"does not fit", 50, 60 * gb, errors.ErrCodeResourceExhausted},
		{"throttled small save", 8, 100 << 20, errors.ErrCodeOK},
		{"throttled large save", 8, 2 * gb, errors.ErrCodeResourceExhausted},
		{"circuit broken", 3, 1, errors.ErrCodeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dm := withUsage(t, tt.available)
			err := dm.CheckBeforeWrite(tt.estimate)
			if tt.wantCode == errors.ErrCodeOK {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errors.GetCode(err))
		})
	}
}

func TestStateTransitions(t *testing.T) {
	dm := withUsage(t, 3)
	assert.True(t, dm.GetDiskUsage().IsCircuitBroken)

	dm.statfs = func(string) (uint64, uint64, error) { return 100 * gb, 40 * gb, nil }
	require.NoError(t, dm.ForceCheck())

	usage := dm.GetDiskUsage()
	assert.False(t, usage.IsCircuitBroken)
	assert.False(t, usage.IsThrottled)
	assert.InDelta(t, 60.0, usage.UsagePercent, 0.001)
}

func TestRequiresDataDir(t *testing.T) {
	_, err := NewDiskManager(&DiskManagerConfig{}, zap.NewNop())
	assert.Error(t, err)
}
