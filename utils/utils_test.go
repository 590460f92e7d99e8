package utils

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		wantErr bool
	}{
		{"integer", "10", false},
		{"fractional", "0.000001", false},
		{"zero", "0", false},
		{"empty", "", true},
		{"negative", "-1", true},
		{"not a number", "ten", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAmount(tt.amount)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBaseUnitConversion(t *testing.T) {
	base, err := ToBaseUnits("1.5", 6)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_500_000), base)

	assert.Equal(t, "1.5", FromBaseUnits(base, 6))
	assert.Equal(t, "0.0000000000015", FromBaseUnits(base, 18))
}

func TestPreImageAndHashLock(t *testing.T) {
	preImage, err := GeneratePreImage()
	require.NoError(t, err)
	assert.Len(t, preImage, 2+64)

	other, err := GeneratePreImage()
	require.NoError(t, err)
	assert.NotEqual(t, preImage, other)

	lock, err := HashLockOf(preImage)
	require.NoError(t, err)
	assert.Len(t, lock, 2+64)

	again, err := HashLockOf(preImage)
	require.NoError(t, err)
	assert.Equal(t, lock, again)

	_, err = HashLockOf("not-hex")
	assert.Error(t, err)
}

func TestIsZeroResolver(t *testing.T) {
	assert.True(t, IsZeroResolver(ZeroResolver))
	assert.True(t, IsZeroResolver("0x00"))
	assert.False(t, IsZeroResolver(""))
	assert.False(t, IsZeroResolver("0x"))
	assert.False(t, IsZeroResolver("0x01"))

	preImage, err := GeneratePreImage()
	require.NoError(t, err)
	assert.False(t, IsZeroResolver(preImage))
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), 3, time.Millisecond, func() (string, error) {
		calls++
		if calls < 3 {
			return "", fmt.Errorf("attempt %d failed", calls)
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

func TestRetryReturnsLastError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Retry(context.Background(), 2, time.Millisecond, func() (int, error) {
		return 0, boom
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "all 2 attempts failed")
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Retry(ctx, 5, time.Minute, func() (int, error) {
		calls++
		return 0, errors.New("nope")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
