package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/hopline/crosschain/types"
)

const erc20ABIJSON = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

const channelABIJSON = `[
	{"constant":true,"inputs":[{"name":"assetId","type":"address"}],"name":"getTotalDepositsAlice","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

const receiptPollInterval = 2 * time.Second

var _ Reader = (*EVMReader)(nil)

// EVMReader implements Reader over a JSON-RPC endpoint.
type EVMReader struct {
	chainID    types.ChainID
	rpcURL     string
	client     *ethclient.Client
	tokenABI   abi.ABI
	channelABI abi.ABI
}

func NewEVMReader(chainID types.ChainID, rpcURL string) (*EVMReader, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC for chain %d: %w", chainID, err)
	}

	tokenABI, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}

	channelABI, err := abi.JSON(strings.NewReader(channelABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse channel abi: %w", err)
	}

	return &EVMReader{
		chainID:    chainID,
		rpcURL:     rpcURL,
		client:     client,
		tokenABI:   tokenABI,
		channelABI: channelABI,
	}, nil
}

func (r *EVMReader) ChainID() types.ChainID {
	return r.chainID
}

func (r *EVMReader) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid address %q", address)
	}
	return r.client.BalanceAt(ctx, common.HexToAddress(address), nil)
}

func (r *EVMReader) GetTokenBalance(ctx context.Context, address, assetID string) (*big.Int, error) {
	if strings.EqualFold(assetID, types.AddressZero) {
		return r.GetBalance(ctx, address)
	}

	data, err := r.tokenABI.Pack("balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}

	token := common.HexToAddress(assetID)
	out, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf call: %w", err)
	}

	results, err := r.tokenABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	balance, ok := results[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", results[0])
	}
	return balance, nil
}

func (r *EVMReader) GetDepositedBalance(ctx context.Context, channelAddress, assetID string) (*big.Int, error) {
	code, err := r.GetCode(ctx, channelAddress)
	if err != nil {
		return nil, err
	}

	// Channel contract not deployed yet: the channel's funds are just the
	// address balance.
	if len(code) == 0 {
		return r.GetTokenBalance(ctx, channelAddress, assetID)
	}

	data, err := r.channelABI.Pack("getTotalDepositsAlice", common.HexToAddress(assetID))
	if err != nil {
		return nil, fmt.Errorf("pack getTotalDepositsAlice: %w", err)
	}

	contract := common.HexToAddress(channelAddress)
	out, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("getTotalDepositsAlice call: %w", err)
	}

	results, err := r.channelABI.Unpack("getTotalDepositsAlice", out)
	if err != nil {
		return nil, fmt.Errorf("unpack getTotalDepositsAlice: %w", err)
	}
	deposited, ok := results[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected getTotalDepositsAlice result type %T", results[0])
	}
	return deposited, nil
}

func (r *EVMReader) GetDecimals(ctx context.Context, assetID string) (uint8, error) {
	if strings.EqualFold(assetID, types.AddressZero) {
		return 18, nil
	}

	data, err := r.tokenABI.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("pack decimals: %w", err)
	}

	token := common.HexToAddress(assetID)
	out, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("decimals call: %w", err)
	}

	results, err := r.tokenABI.Unpack("decimals", out)
	if err != nil {
		return 0, fmt.Errorf("unpack decimals: %w", err)
	}
	decimals, ok := results[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals result type %T", results[0])
	}
	return decimals, nil
}

func (r *EVMReader) GetCode(ctx context.Context, address string) ([]byte, error) {
	return r.client.CodeAt(ctx, common.HexToAddress(address), nil)
}

func (r *EVMReader) GetTransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	receipt, err := r.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &Receipt{
		TxHash:      receipt.TxHash.Hex(),
		Status:      receipt.Status,
		BlockNumber: receipt.BlockNumber.Uint64(),
	}, nil
}

// ConfirmTransaction polls until the transaction is mined or the context is
// cancelled.
func (r *EVMReader) ConfirmTransaction(ctx context.Context, txHash string) error {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := r.GetTransactionReceipt(ctx, txHash)
		if err != nil {
			return err
		}
		if receipt != nil {
			if !receipt.Succeeded() {
				return fmt.Errorf("transaction %s reverted", txHash)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
