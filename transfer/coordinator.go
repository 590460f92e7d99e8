// Package transfer drives the end-to-end hashlock transfer protocol across
// both channel legs, and executes the final withdrawal.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	uuid "github.com/hashicorp/go-uuid"
	"github.com/shopspring/decimal"

	"github.com/hopline/crosschain/chain"
	"github.com/hopline/crosschain/channel"
	"github.com/hopline/crosschain/events"
	"github.com/hopline/crosschain/logger"
	"github.com/hopline/crosschain/metrics"
	"github.com/hopline/crosschain/quote"
	"github.com/hopline/crosschain/types"
	"github.com/hopline/crosschain/utils"
)

// MsgCancelled is surfaced when either leg resolves with the zero resolver.
const MsgCancelled = "Transfer was cancelled"

// Params describes one cross-chain transfer.
type Params struct {
	// Amount is the sender-side amount, a decimal string in human units.
	Amount    string
	Swap      types.SwapPair
	Sender    *types.ChannelHandle
	Recipient *types.ChannelHandle
	// WithdrawalAddress receives the recipient-side funds.
	WithdrawalAddress string
	TransferQuote     *types.Quote
	WithdrawalQuote   *types.Quote
	// PreVerifiedBalance skips the router capacity re-check when the amount
	// originated from an already verified existing balance.
	PreVerifiedBalance bool
	CallTo             string
	CallData           string
	CallDataHook       func(ctx context.Context) (string, error)
	Callbacks          *types.Callbacks
}

// Result reports a completed transfer.
type Result struct {
	CrossChainTransferID string
	TxHash               string
	Amount               string
}

// Coordinator owns the active transfer session and walks it through the
// protocol state machine. At most one session may be in flight per channel
// pair.
type Coordinator struct {
	svc        channel.Service
	readers    map[types.ChainID]chain.Reader
	est        *quote.Estimator
	withdrawer *Withdrawer
	cfg        types.Config
	log        logger.Logger
	rec        metrics.Recorder
	now        func() time.Time

	mu     sync.Mutex
	active *types.TransferSession
}

func NewCoordinator(svc channel.Service, readers map[types.ChainID]chain.Reader, est *quote.Estimator, withdrawer *Withdrawer, cfg types.Config, log logger.Logger, rec metrics.Recorder) *Coordinator {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Coordinator{
		svc:        svc,
		readers:    readers,
		est:        est,
		withdrawer: withdrawer,
		cfg:        cfg,
		log:        log,
		rec:        rec,
		now:        time.Now,
	}
}

// SetClock overrides the coordinator's clock, for tests.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// ActiveID returns the active session's cross-chain transfer id, or empty.
// The recovery guard compares orphan candidates against this value.
func (c *Coordinator) ActiveID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ""
	}
	return c.active.ID
}

// ActiveSession returns the active session, or nil. On error the session is
// left in place so recovery tooling can inspect its id and preimage.
func (c *Coordinator) ActiveSession() *types.TransferSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Reset discards the active session. Callers use it after manual recovery of
// a failed transfer.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = nil
}

// Execute runs the full protocol: reconcile deposit, create the sender-side
// conditional transfer, await the router's mirror, resolve both legs and
// withdraw. It blocks until the session reaches a terminal state.
func (c *Coordinator) Execute(ctx context.Context, p Params) (*Result, error) {
	session, err := c.begin(p)
	if err != nil {
		return nil, err
	}

	bus := c.svc.Events()

	// RECONCILING
	c.setStatus(session, p.Callbacks, types.StatusReconciling, "")
	if err := c.reconcile(ctx, session, p); err != nil {
		return nil, c.fail(session, p.Callbacks, err)
	}

	// Subscribe before the conditional transfer is submitted so a mirror or
	// cancellation arriving immediately after creation cannot slip past.
	mirrorSub := bus.Subscribe(channel.EventTransferCreated)
	cancelSub := bus.Subscribe(channel.EventTransferResolved)

	// CREATING_SENDER_TRANSFER
	c.setStatus(session, p.Callbacks, types.StatusCreatingSenderTransfer, "")
	if err := c.createSenderTransfer(ctx, session, p); err != nil {
		mirrorSub.Close()
		cancelSub.Close()
		return nil, c.fail(session, p.Callbacks, err)
	}

	// AWAITING_MIRROR: race the router's mirrored transfer against a
	// sender-side cancellation.
	c.setStatus(session, p.Callbacks, types.StatusAwaitingMirror, "")
	mirror, err := c.awaitMirror(ctx, session, p, mirrorSub, cancelSub)
	if err != nil {
		return nil, c.fail(session, p.Callbacks, err)
	}

	// The sender-side resolution follows the secret reveal, so its
	// subscription must predate the reveal.
	senderResolvedSub := bus.Subscribe(channel.EventTransferResolved)

	// RESOLVING_RECIPIENT
	c.setStatus(session, p.Callbacks, types.StatusResolvingRecipient, "")
	if err := c.resolveRecipient(ctx, session, p, mirror); err != nil {
		senderResolvedSub.Close()
		return nil, c.fail(session, p.Callbacks, err)
	}
	if p.Callbacks != nil && p.Callbacks.OnTransferred != nil {
		p.Callbacks.OnTransferred()
	}

	// AWAITING_SENDER_RESOLUTION: best effort. The recipient-side funds are
	// already resolved, so a timeout here must not fail the session.
	c.setStatus(session, p.Callbacks, types.StatusAwaitingSenderResolution, "")
	c.awaitSenderResolution(ctx, senderResolvedSub, session)

	// WITHDRAWING
	c.setStatus(session, p.Callbacks, types.StatusWithdrawing, "")
	result, err := c.withdraw(ctx, session, p)
	if err != nil {
		return nil, c.fail(session, p.Callbacks, err)
	}
	if p.Callbacks != nil && p.Callbacks.OnWithdrawn != nil {
		p.Callbacks.OnWithdrawn(result.TxHash, result.Amount)
	}

	// COMPLETE: terminal success, session data may be discarded.
	c.setStatus(session, p.Callbacks, types.StatusComplete, "")
	c.Reset()

	return &Result{
		CrossChainTransferID: session.ID,
		TxHash:               result.TxHash,
		Amount:               result.Amount,
	}, nil
}

func (c *Coordinator) begin(p Params) (*types.TransferSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil && !c.active.Status.Terminal() {
		return nil, types.NewError(types.ErrCodeInFlight,
			"another transfer is already in flight for this channel pair", nil)
	}

	id, err := uuid.GenerateUUID()
	if err != nil {
		return nil, types.NewError(types.ErrCodeTransfer, "failed to generate transfer id", err)
	}

	session := &types.TransferSession{
		ID:               id,
		Amount:           p.Amount,
		SenderChainID:    p.Sender.ChainID,
		SenderAssetID:    p.Swap.FromAssetID,
		RecipientChainID: p.Recipient.ChainID,
		RecipientAssetID: p.Swap.ToAssetID,
		WithdrawalAddr:   p.WithdrawalAddress,
		Status:           types.StatusIdle,
		CreatedAt:        c.now(),
	}
	c.active = session
	return session, nil
}

func (c *Coordinator) reconcile(ctx context.Context, session *types.TransferSession, p Params) error {
	start := c.now()
	if err := c.svc.ReconcileDeposit(ctx, p.Sender.ChainID, p.Sender.ChannelAddress, p.Swap.FromAssetID); err != nil {
		return types.NewError(types.ErrCodeTransfer, "Error in reconcileDeposit", err)
	}
	c.observe("reconcileDeposit", p.Sender.ChainID, start)

	if p.PreVerifiedBalance {
		return nil
	}
	return c.verifyRouterCapacity(ctx, session, p)
}

// verifyRouterCapacity checks the router can cover the exchanged amount on
// the recipient side, combining its off-chain channel balance with its
// on-chain balance.
func (c *Coordinator) verifyRouterCapacity(ctx context.Context, session *types.TransferSession, p Params) error {
	amount, err := decimal.NewFromString(p.Amount)
	if err != nil {
		return types.NewError(types.ErrCodeTransfer, quote.MsgInvalidAmount, err)
	}
	needed := amount.Mul(p.Swap.RateDecimal())

	offchain, err := c.svc.GetChannelBalance(ctx, p.Recipient.ChainID, p.Recipient.ChannelAddress, p.Swap.ToAssetID, p.Recipient.Counterparty)
	if err != nil {
		return types.NewError(types.ErrCodeTransfer, "Error in getChannelBalance", err)
	}
	capacity, err := decimal.NewFromString(offchain)
	if err != nil {
		return types.NewError(types.ErrCodeTransfer, "router channel balance is not a decimal", err)
	}

	if reader, ok := c.readers[p.Recipient.ChainID]; ok {
		onchain, rerr := reader.GetTokenBalance(ctx, p.Recipient.Counterparty, p.Swap.ToAssetID)
		if rerr != nil {
			c.log.Warn("could not read router on-chain balance", map[string]any{"error": rerr.Error()})
		} else {
			decimals, derr := reader.GetDecimals(ctx, p.Swap.ToAssetID)
			if derr != nil {
				decimals = 18
			}
			if onchainDec, perr := decimal.NewFromString(utils.FromBaseUnits(onchain, decimals)); perr == nil {
				capacity = capacity.Add(onchainDec)
			}
		}
	}

	if capacity.LessThan(needed) {
		return types.NewError(types.ErrCodeRouterCapacity,
			fmt.Sprintf("router has insufficient capacity on recipient chain: %s < %s", capacity.String(), needed.String()), nil)
	}
	return nil
}

func (c *Coordinator) createSenderTransfer(ctx context.Context, session *types.TransferSession, p Params) error {
	preImage, err := utils.GeneratePreImage()
	if err != nil {
		return types.NewError(types.ErrCodeTransfer, "failed to generate preimage", err)
	}
	hashLock, err := utils.HashLockOf(preImage)
	if err != nil {
		return types.NewError(types.ErrCodeTransfer, "failed to derive hashlock", err)
	}
	session.PreImage = preImage
	session.HashLock = hashLock

	q := p.TransferQuote
	if q != nil {
		if verr := c.est.ValidateForTransfer(q, quote.Expectation{
			Amount:           p.Amount,
			AssetID:          p.Swap.FromAssetID,
			ChainID:          p.Sender.ChainID,
			RecipientChainID: p.Recipient.ChainID,
			RecipientAssetID: p.Swap.ToAssetID,
		}); verr != nil {
			// An invalid or stale quote is discarded, not fatal: the transfer
			// is created unquoted.
			c.log.Warn("discarding invalid transfer quote", map[string]any{"reason": verr.Error()})
			q = nil
		}
	}

	start := c.now()
	_, err = c.svc.ConditionalTransfer(ctx, channel.ConditionalTransferParams{
		ChainID:          p.Sender.ChainID,
		ChannelAddress:   p.Sender.ChannelAddress,
		Amount:           p.Amount,
		AssetID:          p.Swap.FromAssetID,
		HashLock:         hashLock,
		RoutingID:        session.ID,
		Recipient:        p.Recipient.Participant,
		RecipientChainID: p.Recipient.ChainID,
		RecipientAssetID: p.Swap.ToAssetID,
		Quote:            q,
		Meta: map[string]any{
			"crossChainTransferId": session.ID,
		},
	})
	if err != nil {
		return types.NewError(types.ErrCodeTransfer, "Error in createFromAssetTransfer", err)
	}
	c.observe("createFromAssetTransfer", p.Sender.ChainID, start)
	return nil
}

type raceOutcome struct {
	kind string
	evt  events.Event
	err  error
}

// awaitMirror races two event waits: the router creating the mirrored
// transfer on the recipient-side channel, versus the sender-side transfer
// being resolved with the zero resolver. The first to resolve wins; the
// loser's wait is released by cancelling the race context. Both
// subscriptions are consumed and closed here.
func (c *Coordinator) awaitMirror(ctx context.Context, session *types.TransferSession, p Params, mirrorSub, cancelSub *events.Subscription) (*channel.TransferCreatedPayload, error) {
	defer mirrorSub.Close()
	defer cancelSub.Close()

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make(chan raceOutcome, 2)

	go func() {
		evt, err := events.WaitOn(raceCtx, mirrorSub, c.cfg.MirrorTimeout, func(e events.Event) bool {
			payload, ok := e.Payload.(channel.TransferCreatedPayload)
			return ok && payload.ChainID == p.Recipient.ChainID && payload.Transfer.RoutingID == session.ID
		})
		outcomes <- raceOutcome{kind: "mirror", evt: evt, err: err}
	}()

	go func() {
		evt, err := events.WaitOn(raceCtx, cancelSub, c.cfg.MirrorTimeout, func(e events.Event) bool {
			payload, ok := e.Payload.(channel.TransferResolvedPayload)
			return ok && payload.ChainID == p.Sender.ChainID && payload.RoutingID == session.ID &&
				utils.IsZeroResolver(payload.Resolver)
		})
		outcomes <- raceOutcome{kind: "senderCancelled", evt: evt, err: err}
	}()

	out := <-outcomes
	cancel()

	if out.err != nil {
		if errors.Is(out.err, events.ErrWaitTimeout) {
			// The bus drops events under pressure, so check the service
			// directly before declaring the mirror missing.
			if rec, lerr := c.svc.GetTransferByRoutingID(ctx, p.Recipient.ChainID, session.ID); lerr == nil &&
				rec != nil && rec.ChannelAddress != p.Sender.ChannelAddress {
				return &channel.TransferCreatedPayload{
					ChainID:        p.Recipient.ChainID,
					ChannelAddress: rec.ChannelAddress,
					Transfer:       *rec,
				}, nil
			}
			return nil, types.NewError(types.ErrCodeTimeout,
				"did not receive transfer from the router in time: retry, or recover the funds", nil)
		}
		return nil, types.NewError(types.ErrCodeTransfer, "error awaiting mirrored transfer", out.err)
	}

	if out.kind == "senderCancelled" {
		return nil, types.NewError(types.ErrCodeCancelled, MsgCancelled, nil)
	}

	payload := out.evt.Payload.(channel.TransferCreatedPayload)
	if utils.IsZeroResolver(payload.Resolver) {
		// The mirror arrived already cancelled.
		return nil, types.NewError(types.ErrCodeCancelled, MsgCancelled, nil)
	}
	return &payload, nil
}

func (c *Coordinator) resolveRecipient(ctx context.Context, session *types.TransferSession, p Params, mirror *channel.TransferCreatedPayload) error {
	start := c.now()
	err := c.svc.ResolveTransfer(ctx, channel.ResolveTransferParams{
		ChainID:        p.Recipient.ChainID,
		ChannelAddress: mirror.ChannelAddress,
		TransferID:     mirror.Transfer.TransferID,
		RoutingID:      session.ID,
		Resolver:       session.PreImage,
	})
	if err != nil {
		return types.NewError(types.ErrCodeTransfer, "Error in resolveToAssetTransfer", err)
	}

	// The secret has been revealed; it is never needed again.
	session.ClearPreImage()
	c.observe("resolveToAssetTransfer", p.Recipient.ChainID, start)
	return nil
}

func (c *Coordinator) awaitSenderResolution(ctx context.Context, sub *events.Subscription, session *types.TransferSession) {
	defer sub.Close()

	_, err := events.WaitOn(ctx, sub, c.cfg.SenderResolveTimeout, func(e events.Event) bool {
		payload, ok := e.Payload.(channel.TransferResolvedPayload)
		return ok && payload.ChainID == session.SenderChainID && payload.RoutingID == session.ID &&
			!utils.IsZeroResolver(payload.Resolver)
	})
	if err != nil {
		c.log.Warn("timed out waiting for sender-side resolution, continuing to withdrawal", map[string]any{
			"crossChainTransferId": session.ID,
			"error":                err.Error(),
		})
	}
}

func (c *Coordinator) withdraw(ctx context.Context, session *types.TransferSession, p Params) (*channel.WithdrawResult, error) {
	balance, err := c.svc.GetChannelBalance(ctx, p.Recipient.ChainID, p.Recipient.ChannelAddress, p.Swap.ToAssetID, p.Recipient.Participant)
	if err != nil {
		return nil, types.NewError(types.ErrCodeTransfer, "Error in getChannelBalance", err)
	}

	return c.withdrawer.Execute(ctx, WithdrawRequest{
		ChainID:        p.Recipient.ChainID,
		ChannelAddress: p.Recipient.ChannelAddress,
		AssetID:        p.Swap.ToAssetID,
		Amount:         balance,
		Recipient:      p.WithdrawalAddress,
		Quote:          p.WithdrawalQuote,
		CallTo:         p.CallTo,
		CallData:       p.CallData,
		CallDataHook:   p.CallDataHook,
		OnRevert: func(rerr error) {
			if p.Callbacks != nil {
				p.Callbacks.EmitState(types.StatusError, rerr.Error())
			}
		},
	})
}

func (c *Coordinator) setStatus(session *types.TransferSession, cb *types.Callbacks, status types.TransferStatus, detail string) {
	session.Status = status
	c.rec.IncCounter(string(status), map[string]string{"chain": fmt.Sprintf("%d", session.SenderChainID)})
	c.log.Debug("transfer state changed", map[string]any{
		"crossChainTransferId": session.ID,
		"status":               string(status),
	})
	cb.EmitState(status, detail)
}

// fail marks the session failed but leaves it in place: recovery tooling
// needs the id and preimage.
func (c *Coordinator) fail(session *types.TransferSession, cb *types.Callbacks, err error) error {
	status := types.StatusError
	var terr *types.Error
	if errors.As(err, &terr) && terr.Code == types.ErrCodeCancelled {
		status = types.StatusCancelled
	}

	session.Status = status
	session.Err = err
	c.log.Error("transfer failed", map[string]any{
		"crossChainTransferId": session.ID,
		"status":               string(status),
		"error":                err.Error(),
	})
	cb.EmitState(status, err.Error())
	return err
}

func (c *Coordinator) observe(operation string, chainID types.ChainID, start time.Time) {
	c.rec.ObserveLatency(operation, c.now().Sub(start), map[string]string{"chain": fmt.Sprintf("%d", chainID)})
}
