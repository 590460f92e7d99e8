// Package session establishes the two channel legs and verifies the router
// can actually serve the requested route.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hopline/crosschain/chain"
	"github.com/hopline/crosschain/channel"
	"github.com/hopline/crosschain/logger"
	"github.com/hopline/crosschain/types"
	"github.com/hopline/crosschain/utils"
)

// ConnectParams describes the session to establish.
type ConnectParams struct {
	RouterID         string
	SenderChainID    types.ChainID
	SenderAssetID    string
	RecipientChainID types.ChainID
	RecipientAssetID string
}

// Pair is the established session: both channel legs plus the verified route.
type Pair struct {
	Sender    *types.ChannelHandle
	Recipient *types.ChannelHandle
	Router    types.RouterConfig
	Swap      types.SwapPair
}

// Manager drives session establishment. It persists nothing itself; durable
// state is the channel service's responsibility.
type Manager struct {
	svc     channel.Service
	readers map[types.ChainID]chain.Reader
	cfg     types.Config
	log     logger.Logger
}

func NewManager(svc channel.Service, readers map[types.ChainID]chain.Reader, cfg types.Config, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Manager{svc: svc, readers: readers, cfg: cfg, log: log}
}

// Connect establishes both channel legs, then verifies the router supports
// the route and holds a minimum gas reserve on the destination chain.
func (m *Manager) Connect(ctx context.Context, params ConnectParams) (*Pair, error) {
	sender, err := m.connectLeg(ctx, params.SenderChainID, params.RouterID)
	if err != nil {
		return nil, err
	}

	recipient, err := m.connectLeg(ctx, params.RecipientChainID, params.RouterID)
	if err != nil {
		return nil, err
	}

	routerCfg, err := m.svc.GetRouterConfig(ctx, params.RouterID)
	if err != nil {
		return nil, types.NewError(types.ErrCodeSetup, "Error in getRouterConfig", err)
	}

	if !routerCfg.SupportsChain(params.SenderChainID) || !routerCfg.SupportsChain(params.RecipientChainID) {
		return nil, types.NewError(types.ErrCodeUnsupportedRoute,
			fmt.Sprintf("router %s does not support chains %d -> %d", params.RouterID, params.SenderChainID, params.RecipientChainID), nil)
	}

	swap, ok := routerCfg.FindSwap(params.SenderChainID, params.SenderAssetID, params.RecipientChainID, params.RecipientAssetID)
	if !ok {
		return nil, types.NewError(types.ErrCodeUnsupportedRoute,
			"swap conversion is not supported by the router", nil)
	}
	if !swap.RateDecimal().IsPositive() {
		return nil, types.NewError(types.ErrCodeUnsupportedRoute,
			"router advertises a non-positive swap rate", nil)
	}

	if err := m.verifyRouterGas(ctx, recipient); err != nil {
		return nil, err
	}

	m.log.Info("session established", map[string]any{
		"router":         params.RouterID,
		"senderChain":    params.SenderChainID,
		"recipientChain": params.RecipientChainID,
	})

	return &Pair{
		Sender:    sender,
		Recipient: recipient,
		Router:    *routerCfg,
		Swap:      swap,
	}, nil
}

// connectLeg attempts a fresh setup and, on "channel already exists",
// switches to the restore path: fetch the channel by participant pair and,
// if the leg is missing, issue a counterparty-driven restore before retrying
// setup. Any other setup error is fatal.
func (m *Manager) connectLeg(ctx context.Context, chainID types.ChainID, routerID string) (*types.ChannelHandle, error) {
	setup := channel.SetupParams{ChainID: chainID, Counterparty: routerID}

	handle, err := m.svc.Setup(ctx, setup)
	if err == nil {
		return handle, nil
	}
	if !errors.Is(err, channel.ErrChannelAlreadyExists) {
		return nil, types.NewError(types.ErrCodeSetup,
			fmt.Sprintf("channel setup failed on chain %d", chainID), err)
	}

	handle, ferr := m.svc.GetStateChannelByParticipants(ctx, chainID, routerID)
	if ferr == nil && handle != nil {
		return handle, nil
	}

	m.log.Info("channel leg missing, requesting restore", map[string]any{"chainId": chainID})
	if rerr := m.svc.RestoreState(ctx, channel.RestoreParams{ChainID: chainID, Counterparty: routerID}); rerr != nil {
		return nil, types.NewError(types.ErrCodeSetup,
			fmt.Sprintf("channel restore failed on chain %d", chainID), rerr)
	}

	handle, err = m.svc.Setup(ctx, setup)
	if err != nil {
		return nil, types.NewError(types.ErrCodeSetup,
			fmt.Sprintf("channel setup failed after restore on chain %d", chainID), err)
	}
	return handle, nil
}

// verifyRouterGas checks the router holds at least the configured native
// reserve on the destination chain, so it can submit the mirrored transfer.
func (m *Manager) verifyRouterGas(ctx context.Context, recipient *types.ChannelHandle) error {
	reader, ok := m.readers[recipient.ChainID]
	if !ok {
		return types.NewError(types.ErrCodeSetup,
			fmt.Sprintf("no chain reader registered for chain %d", recipient.ChainID), nil)
	}

	balance, err := reader.GetBalance(ctx, recipient.Counterparty)
	if err != nil {
		return types.NewError(types.ErrCodeSetup, "failed to read router gas balance", err)
	}

	reserve, err := decimal.NewFromString(m.cfg.MinRouterGasReserve)
	if err != nil {
		return types.NewError(types.ErrCodeConfig, "invalid minRouterGasReserve", err)
	}

	have, err := decimal.NewFromString(utils.FromBaseUnits(balance, 18))
	if err != nil {
		return types.NewError(types.ErrCodeSetup, "failed to parse router gas balance", err)
	}

	if have.LessThan(reserve) {
		return types.NewError(types.ErrCodeRouterGas,
			fmt.Sprintf("router has insufficient gas on destination chain %d: %s < %s",
				recipient.ChainID, have.String(), reserve.String()), nil)
	}
	return nil
}
