// Package deposit detects net-new on-chain value arriving at the sender-side
// channel address.
package deposit

import (
	"context"
	"math/big"
	"time"

	"github.com/hopline/crosschain/chain"
	"github.com/hopline/crosschain/logger"
)

// Watcher polls a channel address for balance increases. It is the only
// polling construct in the orchestrator; everything else is event driven.
type Watcher struct {
	interval time.Duration
	log      logger.Logger
}

func NewWatcher(interval time.Duration, log logger.Logger) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Watcher{interval: interval, log: log}
}

// Watch polls the channel address on a fixed interval and reports the first
// balance increase over the floor, then stops (single-shot per watch
// session). A poll below the floor lowers the floor, so funds swept out do
// not trigger a false detection later. Transient read errors are logged and
// skipped; the watcher only stops on detection or when the context is
// cancelled.
func (w *Watcher) Watch(ctx context.Context, reader chain.Reader, channelAddress, assetID string, onIncrease func(delta *big.Int)) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var floor *big.Int
	for {
		balance, err := reader.GetDepositedBalance(ctx, channelAddress, assetID)
		if err != nil {
			w.log.Warn("deposit poll failed, skipping", map[string]any{
				"chainId": reader.ChainID(),
				"channel": channelAddress,
				"error":   err.Error(),
			})
		} else {
			switch {
			case floor == nil:
				floor = balance
			case balance.Cmp(floor) < 0:
				// Funds were swept out from under us; lower the floor so the
				// next deposit is measured against the new base.
				floor = balance
			case balance.Cmp(floor) > 0:
				delta := new(big.Int).Sub(balance, floor)
				w.log.Info("deposit detected", map[string]any{
					"chainId": reader.ChainID(),
					"channel": channelAddress,
					"assetId": assetID,
					"delta":   delta.String(),
				})
				onIncrease(delta)
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
