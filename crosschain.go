// Package crosschain orchestrates client-side cross-chain transfers over a
// pair of state channels: it detects deposits, quotes fees, runs the
// hashlocked transfer protocol against a routing counterparty and withdraws
// the proceeds to an external address.
package crosschain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/hopline/crosschain/chain"
	"github.com/hopline/crosschain/channel"
	"github.com/hopline/crosschain/deposit"
	"github.com/hopline/crosschain/logger"
	"github.com/hopline/crosschain/metrics"
	"github.com/hopline/crosschain/quote"
	"github.com/hopline/crosschain/recovery"
	"github.com/hopline/crosschain/session"
	"github.com/hopline/crosschain/transfer"
	"github.com/hopline/crosschain/types"
	"github.com/hopline/crosschain/utils"
)

// CrossChain is the main struct that provides all orchestration functionality.
type CrossChain struct {
	svc     channel.Service
	cfg     types.Config
	logger  logger.Logger
	metrics metrics.Recorder
	clock   func() time.Time
	readers map[types.ChainID]chain.Reader

	estimator   *quote.Estimator
	withdrawer  *transfer.Withdrawer
	coordinator *transfer.Coordinator
	sessions    *session.Manager
	recovery    *recovery.Manager
	watcher     *deposit.Watcher

	pair        *session.Pair
	guardCancel context.CancelFunc
}

// New creates a CrossChain instance on top of a channel service. The service
// owns all channel state and signing; this library only orchestrates.
func New(svc channel.Service, cfg types.Config, opts ...Option) *CrossChain {
	cfg = cfg.WithDefaults()

	c := &CrossChain{
		svc:     svc,
		cfg:     cfg,
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
		clock:   time.Now,
		readers: make(map[types.ChainID]chain.Reader),
	}
	if cfg.LogLevel != "" {
		c.logger = logger.NewZapLogger(cfg.LogLevel)
	}
	if cfg.EnableMetrics {
		c.metrics = metrics.NewPrometheusRecorder()
	}

	for _, opt := range opts {
		opt(c)
	}

	c.estimator = quote.NewEstimator(svc, cfg.QuoteExpirySkew, cfg.DefaultTimeout)
	c.estimator.SetClock(c.clock)
	c.withdrawer = transfer.NewWithdrawer(svc, c.readers, c.estimator, c.component("withdraw"))
	c.coordinator = transfer.NewCoordinator(svc, c.readers, c.estimator, c.withdrawer, cfg, c.component("transfer"), c.metrics)
	c.coordinator.SetClock(c.clock)
	c.sessions = session.NewManager(svc, c.readers, cfg, c.component("session"))
	c.recovery = recovery.NewManager(svc, cfg, c.component("recovery"), c.coordinator.ActiveID)
	c.watcher = deposit.NewWatcher(cfg.PollInterval, c.component("deposit"))

	return c
}

// NewWithDefaults creates a CrossChain instance with default configuration.
func NewWithDefaults(svc channel.Service) *CrossChain {
	return New(svc, types.Config{})
}

// AddChain registers an EVM chain by dialing its RPC endpoint. Chains must be
// added before Connect so the session manager can verify router balances.
func (c *CrossChain) AddChain(chainID types.ChainID, rpcURL string) error {
	reader, err := chain.NewEVMReader(chainID, rpcURL)
	if err != nil {
		return types.NewError(types.ErrCodeNetwork,
			fmt.Sprintf("failed to add chain %d", chainID), err)
	}
	c.readers[chainID] = reader
	return nil
}

// Connect establishes both channel legs with the router, sweeps transfers
// left hanging by a previous run and starts the standing orphan guard. It
// must succeed before deposits can be watched or transfers started.
func (c *CrossChain) Connect(ctx context.Context, params session.ConnectParams) (*session.Pair, error) {
	pair, err := c.sessions.Connect(ctx, params)
	if err != nil {
		return nil, err
	}

	if err := c.recovery.SweepOnStartup(ctx, pair.Sender, pair.Recipient); err != nil {
		return nil, err
	}

	// Reconnecting replaces the session; stop the guard watching the old one.
	if c.guardCancel != nil {
		c.guardCancel()
	}

	guardCtx, cancel := context.WithCancel(context.Background())
	c.recovery.Guard(guardCtx, pair.Sender, pair.Recipient)

	c.pair = pair
	c.guardCancel = cancel
	return pair, nil
}

// WatchDeposits polls the sender-side channel address until the first net
// balance increase, reported in human units through the return value and the
// optional OnDepositDetected callback. Callers re-invoke it after each
// detected deposit.
func (c *CrossChain) WatchDeposits(ctx context.Context, cb *types.Callbacks) (string, error) {
	pair, err := c.connected()
	if err != nil {
		return "", err
	}
	reader, ok := c.readers[pair.Sender.ChainID]
	if !ok {
		return "", types.NewError(types.ErrCodeConfig,
			fmt.Sprintf("no chain reader registered for chain %d", pair.Sender.ChainID), nil)
	}

	assetID := pair.Swap.FromAssetID
	decimals, err := reader.GetDecimals(ctx, assetID)
	if err != nil {
		decimals = 18
	}

	var detected string
	err = c.watcher.Watch(ctx, reader, pair.Sender.ChannelAddress, assetID, func(delta *big.Int) {
		detected = utils.FromBaseUnits(delta, decimals)
		if cb != nil && cb.OnDepositDetected != nil {
			cb.OnDepositDetected(detected)
		}
	})
	if err != nil {
		return "", err
	}
	return detected, nil
}

// Estimate computes sender amount, recipient amount and total fees for a
// prospective transfer. Route fields left unset are filled from the
// connected session.
func (c *CrossChain) Estimate(ctx context.Context, req quote.Request) quote.Result {
	if c.pair != nil {
		if req.Swap == (types.SwapPair{}) {
			req.Swap = c.pair.Swap
		}
		if req.SenderChannel == nil {
			req.SenderChannel = c.pair.Sender
		}
		if req.RecipientChannel == nil {
			req.RecipientChannel = c.pair.Recipient
		}
	}
	return c.estimator.Estimate(ctx, req)
}

// TransferParams configures one cross-chain transfer started via
// StartTransfer. The route itself comes from the connected session.
type TransferParams struct {
	Amount             string
	WithdrawalAddress  string
	TransferQuote      *types.Quote
	WithdrawalQuote    *types.Quote
	PreVerifiedBalance bool
	CallTo             string
	CallData           string
	CallDataHook       func(ctx context.Context) (string, error)
	Callbacks          *types.Callbacks
}

// StartTransfer runs the full transfer protocol end to end and blocks until
// the session reaches a terminal state.
func (c *CrossChain) StartTransfer(ctx context.Context, params TransferParams) (*transfer.Result, error) {
	pair, err := c.connected()
	if err != nil {
		return nil, err
	}

	return c.coordinator.Execute(ctx, transfer.Params{
		Amount:             params.Amount,
		Swap:               pair.Swap,
		Sender:             pair.Sender,
		Recipient:          pair.Recipient,
		WithdrawalAddress:  params.WithdrawalAddress,
		TransferQuote:      params.TransferQuote,
		WithdrawalQuote:    params.WithdrawalQuote,
		PreVerifiedBalance: params.PreVerifiedBalance,
		CallTo:             params.CallTo,
		CallData:           params.CallData,
		CallDataHook:       params.CallDataHook,
		Callbacks:          params.Callbacks,
	})
}

// Recover reconciles and withdraws any balance stranded on the channel leg
// for the given chain, then clears the failed session so a new transfer can
// start. A zero balance is reported in the result, not as an error.
func (c *CrossChain) Recover(ctx context.Context, chainID types.ChainID, destination string) (*recovery.RecoverResult, error) {
	pair, err := c.connected()
	if err != nil {
		return nil, err
	}

	handle := pair.Sender
	assetID := pair.Swap.FromAssetID
	if chainID == pair.Recipient.ChainID {
		handle = pair.Recipient
		assetID = pair.Swap.ToAssetID
	} else if chainID != pair.Sender.ChainID {
		return nil, types.NewError(types.ErrCodeWrongChain,
			fmt.Sprintf("chain %d is not part of the connected session", chainID), nil)
	}

	result, err := c.recovery.RecoverBalance(ctx, handle, assetID, destination, c.withdrawer)
	if err != nil {
		return nil, err
	}
	c.coordinator.Reset()
	return result, nil
}

// ActiveSession returns the in-flight or failed transfer session, or nil.
func (c *CrossChain) ActiveSession() *types.TransferSession {
	return c.coordinator.ActiveSession()
}

// Close stops the orphan guard. The channel service is owned by the caller
// and is not closed here.
func (c *CrossChain) Close() {
	if c.guardCancel != nil {
		c.guardCancel()
		c.guardCancel = nil
	}
}

// component scopes the injected logger to one subsystem.
func (c *CrossChain) component(name string) logger.Logger {
	return c.logger.With(map[string]any{"component": name})
}

func (c *CrossChain) connected() (*session.Pair, error) {
	if c.pair == nil {
		return nil, types.NewError(types.ErrCodeSetup, "not connected: call Connect first", nil)
	}
	return c.pair, nil
}

// Version information
const (
	Version         = "1.0.0"
	ProtocolVersion = 1
)
