package channel

import (
	"github.com/hopline/crosschain/events"
	"github.com/hopline/crosschain/types"
)

// Event names published by the channel service.
const (
	EventTransferCreated    events.Name = "CONDITIONAL_TRANSFER_CREATED"
	EventTransferResolved   events.Name = "CONDITIONAL_TRANSFER_RESOLVED"
	EventDepositReconciled  events.Name = "DEPOSIT_RECONCILED"
	EventWithdrawalResolved events.Name = "WITHDRAWAL_RESOLVED"
)

// TransferCreatedPayload accompanies EventTransferCreated.
type TransferCreatedPayload struct {
	ChainID        types.ChainID
	ChannelAddress string
	Transfer       types.ActiveTransferRecord
	// Resolver is non-empty when the transfer arrived already resolved; an
	// all-zero value marks a cancelled mirror.
	Resolver string
}

// TransferResolvedPayload accompanies EventTransferResolved.
type TransferResolvedPayload struct {
	ChainID        types.ChainID
	ChannelAddress string
	TransferID     string
	RoutingID      string
	Resolver       string
}

// DepositReconciledPayload accompanies EventDepositReconciled.
type DepositReconciledPayload struct {
	ChainID        types.ChainID
	ChannelAddress string
	AssetID        string
	Balance        string
}

// WithdrawalResolvedPayload accompanies EventWithdrawalResolved.
type WithdrawalResolvedPayload struct {
	ChainID        types.ChainID
	ChannelAddress string
	AssetID        string
	Amount         string
	TxHash         string
}
