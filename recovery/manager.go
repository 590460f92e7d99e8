// Package recovery cancels abandoned or hanging transfers and supports
// manual asset recovery.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hopline/crosschain/channel"
	"github.com/hopline/crosschain/events"
	"github.com/hopline/crosschain/logger"
	"github.com/hopline/crosschain/transfer"
	"github.com/hopline/crosschain/types"
	"github.com/hopline/crosschain/utils"
)

// MsgNothingToRecover is the explicit outcome when manual recovery finds an
// empty balance.
const MsgNothingToRecover = "no balance found to recover"

// Manager runs the startup sweep, the standing orphan guard and manual
// recovery.
type Manager struct {
	svc channel.Service
	cfg types.Config
	log logger.Logger
	// activeID returns the currently active cross-chain transfer id, empty
	// when none. The guard treats any other routing id as orphaned.
	activeID func() string
}

func NewManager(svc channel.Service, cfg types.Config, log logger.Logger, activeID func() string) *Manager {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if activeID == nil {
		activeID = func() string { return "" }
	}
	return &Manager{svc: svc, cfg: cfg, log: log, activeID: activeID}
}

// SweepOnStartup prunes transfers left hanging by a previous run. It first
// cancels router-originated hash-locked transfers on the recipient-side
// channel where this client is the responder, then waits for any pending
// sender-side hash-locked transfers to reach a cancelled state. Sender
// transfers still active after the long timeout are a fatal setup error.
func (m *Manager) SweepOnStartup(ctx context.Context, sender, recipient *types.ChannelHandle) error {
	recs, err := m.svc.GetActiveTransfers(ctx, recipient.ChainID, recipient.ChannelAddress)
	if err != nil {
		return types.NewError(types.ErrCodeStorage, "Error in getActiveTransfers", err)
	}

	for _, rec := range recs {
		if rec.Responder != recipient.Participant || !rec.HasForwardingMeta || !rec.HashLocked() {
			continue
		}
		// A failure to cancel one transfer is reported but does not stop the
		// sweep.
		if cerr := m.cancelWithSenderWait(ctx, sender, recipient, rec); cerr != nil {
			m.log.Error("failed to cancel hanging recipient transfer", map[string]any{
				"transferId": rec.TransferID,
				"routingId":  rec.RoutingID,
				"error":      cerr.Error(),
			})
		}
	}

	return m.waitForSenderCancellations(ctx, sender)
}

func (m *Manager) waitForSenderCancellations(ctx context.Context, sender *types.ChannelHandle) error {
	// Subscribe before reading the active set, so a cancellation landing
	// between the read and the wait is buffered rather than lost.
	sub := m.svc.Events().Subscribe(channel.EventTransferResolved)
	defer sub.Close()

	pending, err := m.svc.GetActiveTransfers(ctx, sender.ChainID, sender.ChannelAddress)
	if err != nil {
		return types.NewError(types.ErrCodeStorage, "Error in getActiveTransfers", err)
	}

	outstanding := make(map[string]bool)
	for _, rec := range pending {
		if rec.HashLocked() {
			outstanding[rec.TransferID] = true
		}
	}

	timer := time.NewTimer(m.cfg.SweepTimeout)
	defer timer.Stop()
	for len(outstanding) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			m.log.Warn("sender transfers not cancelled within sweep timeout", map[string]any{
				"remaining": len(outstanding),
			})
			outstanding = nil
		case evt := <-sub.C():
			payload, ok := evt.Payload.(channel.TransferResolvedPayload)
			if ok && payload.ChainID == sender.ChainID && utils.IsZeroResolver(payload.Resolver) {
				delete(outstanding, payload.TransferID)
			}
		}
	}

	// Re-check: anything still hash-locked on the sender channel blocks a
	// new session from starting safely.
	remaining, err := m.svc.GetActiveTransfers(ctx, sender.ChainID, sender.ChannelAddress)
	if err != nil {
		return types.NewError(types.ErrCodeStorage, "Error in getActiveTransfers", err)
	}
	for _, rec := range remaining {
		if rec.HashLocked() {
			return types.NewError(types.ErrCodeHangingTransfers, "hanging sender transfers", nil)
		}
	}
	return nil
}

// Guard starts the standing watch for orphaned recipient-side transfers:
// router-originated transfers addressed to this client whose routing id does
// not match the active session. Each is cancelled with the zero resolver.
// The guard stops when the context is cancelled.
func (m *Manager) Guard(ctx context.Context, sender, recipient *types.ChannelHandle) {
	sub := m.svc.Events().Subscribe(channel.EventTransferCreated)

	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-sub.C():
				payload, ok := evt.Payload.(channel.TransferCreatedPayload)
				if !ok || payload.ChainID != recipient.ChainID || payload.ChannelAddress != recipient.ChannelAddress {
					continue
				}
				rec := payload.Transfer
				if rec.Responder != recipient.Participant || !rec.HasForwardingMeta || !rec.HashLocked() {
					continue
				}
				if rec.RoutingID == m.activeID() {
					continue
				}

				m.log.Warn("cancelling orphaned transfer", map[string]any{
					"transferId": rec.TransferID,
					"routingId":  rec.RoutingID,
				})
				if err := m.cancelWithSenderWait(ctx, sender, recipient, rec); err != nil {
					m.log.Error("failed to cancel orphaned transfer", map[string]any{
						"transferId": rec.TransferID,
						"error":      err.Error(),
					})
				}
			}
		}
	}()
}

// cancelWithSenderWait resolves a recipient-side transfer with the zero
// resolver, then waits for the matching sender-side cancellation event.
func (m *Manager) cancelWithSenderWait(ctx context.Context, sender, recipient *types.ChannelHandle, rec types.ActiveTransferRecord) error {
	sub := m.svc.Events().Subscribe(channel.EventTransferResolved)
	defer sub.Close()

	err := m.svc.ResolveTransfer(ctx, channel.ResolveTransferParams{
		ChainID:        recipient.ChainID,
		ChannelAddress: recipient.ChannelAddress,
		TransferID:     rec.TransferID,
		RoutingID:      rec.RoutingID,
		Resolver:       utils.ZeroResolver,
	})
	if err != nil {
		return fmt.Errorf("zero-resolver resolution failed: %w", err)
	}

	_, err = events.WaitOn(ctx, sub, m.cfg.DefaultTimeout, func(e events.Event) bool {
		payload, ok := e.Payload.(channel.TransferResolvedPayload)
		return ok && payload.ChainID == sender.ChainID && payload.RoutingID == rec.RoutingID &&
			utils.IsZeroResolver(payload.Resolver)
	})
	if err != nil {
		return fmt.Errorf("sender-side cancellation not observed: %w", err)
	}
	return nil
}

// RecoverResult reports a manual recovery attempt.
type RecoverResult struct {
	Recovered bool
	Amount    string
	TxHash    string
	Message   string
}

// RecoverBalance reconciles any deposit for the asset into the channel and,
// if the resulting balance is non-zero, withdraws it in full to the
// destination address. A zero balance is an explicit outcome, not a silent
// success.
func (m *Manager) RecoverBalance(ctx context.Context, handle *types.ChannelHandle, assetID, destination string, w *transfer.Withdrawer) (*RecoverResult, error) {
	if err := m.svc.ReconcileDeposit(ctx, handle.ChainID, handle.ChannelAddress, assetID); err != nil {
		return nil, types.NewError(types.ErrCodeTransfer, "Error in reconcileDeposit", err)
	}

	balance, err := m.svc.GetChannelBalance(ctx, handle.ChainID, handle.ChannelAddress, assetID, handle.Participant)
	if err != nil {
		return nil, types.NewError(types.ErrCodeTransfer, "Error in getChannelBalance", err)
	}

	amount, err := decimal.NewFromString(balance)
	if err != nil {
		return nil, types.NewError(types.ErrCodeTransfer, "channel balance is not a decimal", err)
	}
	if amount.IsZero() {
		return &RecoverResult{Recovered: false, Message: MsgNothingToRecover}, nil
	}

	result, err := w.Execute(ctx, transfer.WithdrawRequest{
		ChainID:        handle.ChainID,
		ChannelAddress: handle.ChannelAddress,
		AssetID:        assetID,
		Amount:         balance,
		Recipient:      destination,
	})
	if err != nil {
		return nil, err
	}

	return &RecoverResult{
		Recovered: true,
		Amount:    result.Amount,
		TxHash:    result.TxHash,
	}, nil
}
