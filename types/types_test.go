package types

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()

	assert.Equal(t, 30*time.Second, cfg.DefaultTimeout)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 300*time.Second, cfg.MirrorTimeout)
	assert.Equal(t, "0.01", cfg.MinRouterGasReserve)

	// Explicit values survive.
	cfg = Config{MirrorTimeout: time.Minute}.WithDefaults()
	assert.Equal(t, time.Minute, cfg.MirrorTimeout)
}

func TestTransferStatusTerminal(t *testing.T) {
	assert.True(t, StatusComplete.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusError.Terminal())
	assert.False(t, StatusIdle.Terminal())
	assert.False(t, StatusAwaitingMirror.Terminal())
}

func TestRouterConfigLookups(t *testing.T) {
	rc := RouterConfig{
		RouterID:        "router-1",
		SupportedChains: []ChainID{137, 8453},
		AllowedSwaps: []SwapPair{
			{FromChainID: 137, FromAssetID: "0xAbC", ToChainID: 8453, ToAssetID: "0xDeF", Rate: "2"},
		},
	}

	assert.True(t, rc.SupportsChain(137))
	assert.False(t, rc.SupportsChain(1))

	// Asset comparison is case-insensitive.
	swap, ok := rc.FindSwap(137, "0xabc", 8453, "0xdef")
	require.True(t, ok)
	assert.Equal(t, "2", swap.Rate)

	_, ok = rc.FindSwap(8453, "0xdef", 137, "0xabc")
	assert.False(t, ok)
}

func TestSwapPairRateDecimal(t *testing.T) {
	assert.Equal(t, "1", SwapPair{}.RateDecimal().String())
	assert.Equal(t, "1", SwapPair{Rate: "bogus"}.RateDecimal().String())
	assert.Equal(t, "0.5", SwapPair{Rate: "0.5"}.RateDecimal().String())
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("rpc failed")
	err := NewError(ErrCodeNetwork, "could not reach chain", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "could not reach chain")

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, ErrCodeNetwork, terr.Code)
}

func TestCallbacksEmitStateIsNilSafe(t *testing.T) {
	var cb *Callbacks
	cb.EmitState(StatusComplete, "")

	(&Callbacks{}).EmitState(StatusComplete, "")

	fired := ""
	cb = &Callbacks{OnStateChanged: func(s TransferStatus, detail string) { fired = string(s) }}
	cb.EmitState(StatusError, "boom")
	assert.Equal(t, "ERROR", fired)
}

func TestSessionClearPreImage(t *testing.T) {
	s := &TransferSession{PreImage: "0xsecret", HashLock: "0xlock"}
	s.ClearPreImage()
	assert.Empty(t, s.PreImage)
	assert.Equal(t, "0xlock", s.HashLock)
}
