package transfer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hopline/crosschain/chain"
	"github.com/hopline/crosschain/channel"
	"github.com/hopline/crosschain/channel/mock"
	"github.com/hopline/crosschain/quote"
	"github.com/hopline/crosschain/transfer"
	"github.com/hopline/crosschain/types"
)

func newWithdrawer(svc *mock.Service, reader chain.Reader) *transfer.Withdrawer {
	cfg := types.Config{}.WithDefaults()
	est := quote.NewEstimator(svc, cfg.QuoteExpirySkew, cfg.DefaultTimeout)
	readers := map[types.ChainID]chain.Reader{recipientChain: reader}
	return transfer.NewWithdrawer(svc, readers, est, nil)
}

func withdrawRequest() transfer.WithdrawRequest {
	return transfer.WithdrawRequest{
		ChainID:        recipientChain,
		ChannelAddress: recipientHandle.ChannelAddress,
		AssetID:        swap.ToAssetID,
		Amount:         "0.9",
		Recipient:      "0xdead",
	}
}

func TestWithdrawReturnsTxHash(t *testing.T) {
	svc := mock.NewService()
	w := newWithdrawer(svc, &testReader{id: recipientChain})

	result, err := w.Execute(context.Background(), withdrawRequest())

	require.NoError(t, err)
	assert.Equal(t, "0xwithdrawtx", result.TxHash)
	assert.Equal(t, "0.9", result.Amount)
}

func TestWithdrawServiceFailure(t *testing.T) {
	svc := mock.NewService()
	svc.FailNext("withdraw", errors.New("channel frozen"))
	w := newWithdrawer(svc, &testReader{id: recipientChain})

	_, err := w.Execute(context.Background(), withdrawRequest())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Error in withdraw")
}

func TestWithdrawMissingTxHashIsFatal(t *testing.T) {
	svc := mock.NewService()
	svc.SetWithdrawResult(&channel.WithdrawResult{TxHash: "", Amount: "0.9"})
	w := newWithdrawer(svc, &testReader{id: recipientChain})

	_, err := w.Execute(context.Background(), withdrawRequest())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "without a transaction hash")
}

func TestWithdrawHookFailureFallsBack(t *testing.T) {
	svc := mock.NewService()
	w := newWithdrawer(svc, &testReader{id: recipientChain})

	req := withdrawRequest()
	req.CallData = "0xfallback"
	req.CallDataHook = func(ctx context.Context) (string, error) {
		return "", errors.New("hook exploded")
	}

	result, err := w.Execute(context.Background(), req)

	require.NoError(t, err)
	assert.NotEmpty(t, result.TxHash)
}

func TestWithdrawDiscardsInvalidQuote(t *testing.T) {
	svc := mock.NewService()
	w := newWithdrawer(svc, &testReader{id: recipientChain})

	req := withdrawRequest()
	req.Quote = &types.Quote{
		Kind:      types.QuoteKindWithdrawal,
		Amount:    "0.9",
		Fee:       "0.1",
		AssetID:   swap.ToAssetID,
		ChainID:   recipientChain,
		Recipient: "0xdead",
		Expiry:    time.Now().Add(-time.Minute).UnixMilli(), // stale
		Signature: "0xsig",
	}

	result, err := w.Execute(context.Background(), req)

	require.NoError(t, err)
	assert.NotEmpty(t, result.TxHash)
}

func TestWithdrawRevertSurfacesThroughCallback(t *testing.T) {
	svc := mock.NewService()
	w := newWithdrawer(svc, &testReader{id: recipientChain, confirmErr: errors.New("reverted")})

	reverted := make(chan error, 1)
	req := withdrawRequest()
	req.OnRevert = func(err error) {
		reverted <- err
	}

	_, err := w.Execute(context.Background(), req)
	require.NoError(t, err)

	select {
	case rerr := <-reverted:
		assert.Contains(t, rerr.Error(), "withdrawal transaction reverted")
	case <-time.After(2 * time.Second):
		t.Fatal("revert was never reported")
	}
}
