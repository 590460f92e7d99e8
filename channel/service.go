// Package channel defines the port to the channel network runtime. The
// orchestrator talks only to this interface; it never signs updates or
// persists channel state itself.
package channel

import (
	"context"
	"errors"

	"github.com/hopline/crosschain/events"
	"github.com/hopline/crosschain/types"
)

// ErrChannelAlreadyExists is the setup failure that switches the session
// manager to its restore path.
var ErrChannelAlreadyExists = errors.New("channel already exists")

// SetupParams requests a fresh channel with the counterparty on one chain.
type SetupParams struct {
	ChainID      types.ChainID
	Counterparty string
	TimeoutSec   int64
}

// RestoreParams requests a counterparty-driven state restore for one leg.
type RestoreParams struct {
	ChainID      types.ChainID
	Counterparty string
}

// ConditionalTransferParams creates a hash-locked transfer on one channel.
type ConditionalTransferParams struct {
	ChainID        types.ChainID
	ChannelAddress string
	// Amount is a decimal string in human units.
	Amount  string
	AssetID string
	// HashLock commits to the preimage that resolves the transfer.
	HashLock string
	// RoutingID correlates the two legs of one cross-chain transfer.
	RoutingID        string
	Recipient        string
	RecipientChainID types.ChainID
	RecipientAssetID string
	// Quote is nil for unquoted transfers.
	Quote *types.Quote
	Meta  map[string]any
}

// ConditionalTransferResult identifies the transfer that was created.
type ConditionalTransferResult struct {
	TransferID     string
	RoutingID      string
	ChannelAddress string
}

// ResolveTransferParams resolves a hash-locked transfer. A zero resolver
// cancels it.
type ResolveTransferParams struct {
	ChainID        types.ChainID
	ChannelAddress string
	TransferID     string
	RoutingID      string
	Resolver       string
}

// WithdrawParams submits a withdrawal from the channel to an external address.
type WithdrawParams struct {
	ChainID        types.ChainID
	ChannelAddress string
	AssetID        string
	// Amount is a decimal string in human units.
	Amount    string
	Recipient string
	// Quote is nil for unquoted withdrawals.
	Quote    *types.Quote
	CallTo   string
	CallData string
}

// WithdrawResult reports the submitted withdrawal.
type WithdrawResult struct {
	TxHash string
	Amount string
}

// QuoteRequest asks the router to commit to a fee for a transfer or
// withdrawal.
type QuoteRequest struct {
	Amount           string
	AssetID          string
	ChainID          types.ChainID
	RecipientChainID types.ChainID
	RecipientAssetID string
	Recipient        string
}

// Service is the request/response surface of the channel network runtime.
// Every call returns either a result or a structured error; callers never
// assume success.
type Service interface {
	// Setup initializes a fresh channel session with the counterparty.
	// Returns ErrChannelAlreadyExists (possibly wrapped) when one exists.
	Setup(ctx context.Context, params SetupParams) (*types.ChannelHandle, error)

	// RestoreState asks the counterparty to restore a channel leg.
	RestoreState(ctx context.Context, params RestoreParams) error

	GetStateChannelByParticipants(ctx context.Context, chainID types.ChainID, counterparty string) (*types.ChannelHandle, error)

	GetActiveTransfers(ctx context.Context, chainID types.ChainID, channelAddress string) ([]types.ActiveTransferRecord, error)

	GetTransferByRoutingID(ctx context.Context, chainID types.ChainID, routingID string) (*types.ActiveTransferRecord, error)

	ConditionalTransfer(ctx context.Context, params ConditionalTransferParams) (*ConditionalTransferResult, error)

	ResolveTransfer(ctx context.Context, params ResolveTransferParams) error

	// ReconcileDeposit pulls an on-chain deposit into the channel's off-chain
	// ledger.
	ReconcileDeposit(ctx context.Context, chainID types.ChainID, channelAddress, assetID string) error

	Withdraw(ctx context.Context, params WithdrawParams) (*WithdrawResult, error)

	GetTransferQuote(ctx context.Context, req QuoteRequest) (*types.Quote, error)

	GetWithdrawalQuote(ctx context.Context, req QuoteRequest) (*types.Quote, error)

	GetRouterConfig(ctx context.Context, routerID string) (*types.RouterConfig, error)

	// GetChannelBalance returns a participant's off-chain balance for an
	// asset, as a decimal string in human units.
	GetChannelBalance(ctx context.Context, chainID types.ChainID, channelAddress, assetID, participant string) (string, error)

	// Events is the bus the service publishes channel events on.
	Events() *events.Bus
}
