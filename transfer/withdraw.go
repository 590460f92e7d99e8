package transfer

import (
	"context"
	"time"

	"github.com/hopline/crosschain/chain"
	"github.com/hopline/crosschain/channel"
	"github.com/hopline/crosschain/logger"
	"github.com/hopline/crosschain/quote"
	"github.com/hopline/crosschain/types"
)

const confirmTimeout = 5 * time.Minute

// WithdrawRequest describes one withdrawal from a channel to an external
// address.
type WithdrawRequest struct {
	ChainID        types.ChainID
	ChannelAddress string
	AssetID        string
	Amount         string
	Recipient      string
	// Quote is validated before use; an invalid quote is discarded and the
	// withdrawal proceeds unquoted.
	Quote  *types.Quote
	CallTo string
	// CallData is the fallback when CallDataHook fails.
	CallData string
	// CallDataHook generates auxiliary call data just before submission.
	CallDataHook func(ctx context.Context) (string, error)
	// OnRevert receives the asynchronous error raised when the withdrawal
	// transaction reverts on chain after the nominal call succeeded.
	OnRevert func(err error)
}

// Withdrawer submits withdrawals and confirms their on-chain settlement.
type Withdrawer struct {
	svc     channel.Service
	readers map[types.ChainID]chain.Reader
	est     *quote.Estimator
	log     logger.Logger
}

func NewWithdrawer(svc channel.Service, readers map[types.ChainID]chain.Reader, est *quote.Estimator, log logger.Logger) *Withdrawer {
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Withdrawer{svc: svc, readers: readers, est: est, log: log}
}

// Execute submits the withdrawal. The returned result always carries a
// transaction hash; a success response without one is a hard error.
func (w *Withdrawer) Execute(ctx context.Context, req WithdrawRequest) (*channel.WithdrawResult, error) {
	q := req.Quote
	if q != nil {
		if err := w.est.ValidateForWithdrawal(q, quote.Expectation{
			Amount:    req.Amount,
			AssetID:   req.AssetID,
			ChainID:   req.ChainID,
			Recipient: req.Recipient,
		}); err != nil {
			w.log.Warn("discarding invalid withdrawal quote", map[string]any{"reason": err.Error()})
			q = nil
		}
	}

	callData := req.CallData
	if req.CallDataHook != nil {
		generated, err := req.CallDataHook(ctx)
		if err != nil {
			w.log.Warn("call data hook failed, using supplied call data", map[string]any{"error": err.Error()})
		} else {
			callData = generated
		}
	}

	result, err := w.svc.Withdraw(ctx, channel.WithdrawParams{
		ChainID:        req.ChainID,
		ChannelAddress: req.ChannelAddress,
		AssetID:        req.AssetID,
		Amount:         req.Amount,
		Recipient:      req.Recipient,
		Quote:          q,
		CallTo:         req.CallTo,
		CallData:       callData,
	})
	if err != nil {
		return nil, types.NewError(types.ErrCodeTransfer, "Error in withdraw", err)
	}
	if result.TxHash == "" {
		return nil, types.NewError(types.ErrCodeTransfer, "withdrawal succeeded without a transaction hash", nil)
	}

	w.confirmAsync(req, result.TxHash)

	return result, nil
}

// confirmAsync asks the chain reader, fire-and-forget, to confirm the
// transaction did not revert. A revert surfaces through OnRevert even though
// the nominal withdrawal call already succeeded.
func (w *Withdrawer) confirmAsync(req WithdrawRequest, txHash string) {
	reader, ok := w.readers[req.ChainID]
	if !ok {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), confirmTimeout)
		defer cancel()

		if err := reader.ConfirmTransaction(ctx, txHash); err != nil {
			w.log.Error("withdrawal transaction failed on chain", map[string]any{
				"txHash": txHash,
				"error":  err.Error(),
			})
			if req.OnRevert != nil {
				req.OnRevert(types.NewError(types.ErrCodeTransfer, "withdrawal transaction reverted", err))
			}
		}
	}()
}
