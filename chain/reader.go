// Package chain provides read-only access to the underlying chains: balances,
// contract deployment checks and transaction receipts.
package chain

import (
	"context"
	"math/big"

	"github.com/hopline/crosschain/types"
)

// Receipt is the subset of a transaction receipt the orchestrator needs.
type Receipt struct {
	TxHash      string
	Status      uint64
	BlockNumber uint64
}

// Succeeded reports whether the transaction did not revert.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == 1
}

// Reader is the per-chain read interface. Implementations never mutate chain
// state.
type Reader interface {
	ChainID() types.ChainID

	// GetBalance returns the native balance of an address in base units.
	GetBalance(ctx context.Context, address string) (*big.Int, error)

	// GetTokenBalance returns an ERC20 balance in base units. The zero asset
	// id routes to GetBalance.
	GetTokenBalance(ctx context.Context, address, assetID string) (*big.Int, error)

	// GetDepositedBalance returns the total balance attributable to a channel
	// address for the given asset, falling back to a plain balance query when
	// the channel contract has not been deployed yet.
	GetDepositedBalance(ctx context.Context, channelAddress, assetID string) (*big.Int, error)

	// GetDecimals returns the asset's decimals; 18 for the native asset.
	GetDecimals(ctx context.Context, assetID string) (uint8, error)

	// GetCode returns the contract code at an address, empty when none is
	// deployed.
	GetCode(ctx context.Context, address string) ([]byte, error)

	// GetTransactionReceipt returns the receipt for a mined transaction, or
	// nil when it is not yet mined.
	GetTransactionReceipt(ctx context.Context, txHash string) (*Receipt, error)

	// ConfirmTransaction polls until the transaction is mined and errors if
	// the receipt reports a revert.
	ConfirmTransaction(ctx context.Context, txHash string) error
}
