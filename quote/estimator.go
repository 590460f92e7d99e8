// Package quote requests and validates router fee quotes and computes
// sender/recipient amounts for a transfer.
package quote

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hopline/crosschain/channel"
	"github.com/hopline/crosschain/types"
)

// User-facing estimation errors. These are recoverable: the caller surfaces
// them for re-entry and the session is not aborted.
const (
	MsgInvalidAmount      = "Invalid amount"
	MsgZeroAmount         = "Transfer amount cannot be 0"
	MsgNotEnoughForFees   = "Not enough amount to pay fees"
	MsgExceedsUserBalance = "Transfer amount exceeds user balance"
)

// Request describes one estimation. Amounts are decimal strings in human
// units.
type Request struct {
	Amount string
	// RecipientExact solves for "recipient receives exactly Amount" by
	// working backward through the exchange rate.
	RecipientExact bool
	// UserBalance, when non-empty, caps the sender amount.
	UserBalance string

	Swap             types.SwapPair
	SenderChannel    *types.ChannelHandle
	RecipientChannel *types.ChannelHandle
	// WithdrawalRecipient, when non-empty, adds the second fee-bearing hop
	// (the final withdrawal) to the estimate.
	WithdrawalRecipient string
}

// Result carries the computed amounts alongside any recoverable error. Fee
// and quote are populated for display even when Err is set.
type Result struct {
	SenderAmount    string
	RecipientAmount string
	TotalFee        string
	TransferQuote   *types.Quote
	WithdrawalQuote *types.Quote
	Err             error
}

// Estimator computes transfer estimates against the channel service.
type Estimator struct {
	svc     channel.Service
	skew    time.Duration
	timeout time.Duration
	now     func() time.Time
}

func NewEstimator(svc channel.Service, skew, timeout time.Duration) *Estimator {
	return &Estimator{
		svc:     svc,
		skew:    skew,
		timeout: timeout,
		now:     time.Now,
	}
}

// SetClock overrides the estimator's clock, for tests.
func (e *Estimator) SetClock(now func() time.Time) {
	e.now = now
}

// Estimate computes sender amount, recipient amount and total fee for a
// transfer. Deterministic for fixed inputs and a fixed quote response.
func (e *Estimator) Estimate(ctx context.Context, req Request) Result {
	if req.Amount == "" {
		return Result{}
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return Result{Err: types.NewError(types.ErrCodeQuote, MsgInvalidAmount, nil)}
	}
	if amount.IsZero() {
		return Result{
			SenderAmount: "0",
			Err:          types.NewError(types.ErrCodeQuote, MsgZeroAmount, nil),
		}
	}

	// The rate is router-advertised data; a zero or negative rate would make
	// the inversion below divide by zero.
	rate := req.Swap.RateDecimal()
	if !rate.IsPositive() {
		return Result{Err: types.NewError(types.ErrCodeUnsupportedRoute, "swap rate must be positive", nil)}
	}

	// In exact-recipient mode the requested amount is what the recipient must
	// receive; estimate the sender-side amount by inverting the rate.
	senderAmount := amount
	if req.RecipientExact {
		senderAmount = amount.Div(rate)
	}

	estCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	totalFee := decimal.Zero

	transferQuote, err := e.svc.GetTransferQuote(estCtx, channel.QuoteRequest{
		Amount:           senderAmount.String(),
		AssetID:          req.Swap.FromAssetID,
		ChainID:          req.Swap.FromChainID,
		RecipientChainID: req.Swap.ToChainID,
		RecipientAssetID: req.Swap.ToAssetID,
	})
	if err != nil {
		return Result{Err: types.NewError(types.ErrCodeQuote, "Error in getTransferQuote", err)}
	}
	fee, ferr := decimal.NewFromString(transferQuote.Fee)
	if ferr != nil {
		return Result{Err: types.NewError(types.ErrCodeQuote, "transfer quote fee is not a decimal", ferr)}
	}
	totalFee = totalFee.Add(fee)

	var withdrawalQuote *types.Quote
	if req.WithdrawalRecipient != "" {
		withdrawalQuote, err = e.svc.GetWithdrawalQuote(estCtx, channel.QuoteRequest{
			Amount:    senderAmount.Sub(totalFee).Mul(rate).String(),
			AssetID:   req.Swap.ToAssetID,
			ChainID:   req.Swap.ToChainID,
			Recipient: req.WithdrawalRecipient,
		})
		if err != nil {
			return Result{Err: types.NewError(types.ErrCodeQuote, "Error in getWithdrawalQuote", err)}
		}
		wfee, werr := decimal.NewFromString(withdrawalQuote.Fee)
		if werr != nil {
			return Result{Err: types.NewError(types.ErrCodeQuote, "withdrawal quote fee is not a decimal", werr)}
		}
		totalFee = totalFee.Add(wfee)
	}

	var recipientAmount decimal.Decimal
	if req.RecipientExact {
		// Solve forward from the desired receipt amount.
		recipientAmount = amount
		senderAmount = amount.Div(rate).Add(totalFee)
	} else {
		recipientAmount = senderAmount.Sub(totalFee).Mul(rate)
	}

	result := Result{
		SenderAmount:    senderAmount.String(),
		RecipientAmount: recipientAmount.String(),
		TotalFee:        totalFee.String(),
		TransferQuote:   transferQuote,
		WithdrawalQuote: withdrawalQuote,
	}

	if senderAmount.LessThanOrEqual(totalFee) {
		result.Err = types.NewError(types.ErrCodeQuote, MsgNotEnoughForFees, nil)
		return result
	}

	if req.UserBalance != "" {
		balance, berr := decimal.NewFromString(req.UserBalance)
		if berr == nil && senderAmount.GreaterThan(balance) {
			result.Err = types.NewError(types.ErrCodeQuote, MsgExceedsUserBalance, nil)
			return result
		}
	}

	return result
}

// ValidateForTransfer validates a quote against a pending conditional
// transfer.
func (e *Estimator) ValidateForTransfer(q *types.Quote, expect Expectation) error {
	expect.Kind = types.QuoteKindTransfer
	return ValidateQuote(q, expect, e.skew, e.now())
}

// ValidateForWithdrawal validates a quote against a pending withdrawal.
func (e *Estimator) ValidateForWithdrawal(q *types.Quote, expect Expectation) error {
	expect.Kind = types.QuoteKindWithdrawal
	return ValidateQuote(q, expect, e.skew, e.now())
}
