package crosschain

import (
	"time"

	"github.com/hopline/crosschain/chain"
	"github.com/hopline/crosschain/logger"
	"github.com/hopline/crosschain/metrics"
)

type Option func(*CrossChain)

func WithLogger(l logger.Logger) Option {
	return func(c *CrossChain) {
		c.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(c *CrossChain) {
		c.metrics = r
	}
}

// WithClock overrides the wall clock used for quote expiry checks and
// latency measurements.
func WithClock(now func() time.Time) Option {
	return func(c *CrossChain) {
		c.clock = now
	}
}

// WithChainReader injects a pre-built chain reader, bypassing the RPC dial
// that AddChain performs.
func WithChainReader(r chain.Reader) Option {
	return func(c *CrossChain) {
		c.readers[r.ChainID()] = r
	}
}
