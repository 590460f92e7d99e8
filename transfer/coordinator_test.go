package transfer_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
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
	"github.com/hopline/crosschain/utils"
)

const (
	senderChain    = types.ChainID(137)
	recipientChain = types.ChainID(8453)
)

var (
	senderHandle = &types.ChannelHandle{
		ChainID:        senderChain,
		ChannelAddress: "0xsenderchannel",
		Participant:    "0xme",
		Counterparty:   "0xrouter",
	}
	recipientHandle = &types.ChannelHandle{
		ChainID:        recipientChain,
		ChannelAddress: "0xrecipientchannel",
		Participant:    "0xme",
		Counterparty:   "0xrouter",
	}
	swap = types.SwapPair{
		FromChainID: senderChain,
		FromAssetID: "0xfrom",
		ToChainID:   recipientChain,
		ToAssetID:   "0xto",
		Rate:        "1",
	}
)

// testReader is a chain.Reader stub with scriptable confirmation behavior.
type testReader struct {
	id         types.ChainID
	confirmErr error
}

func (r *testReader) ChainID() types.ChainID { return r.id }

func (r *testReader) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	return new(big.Int).SetUint64(1e18), nil
}

func (r *testReader) GetTokenBalance(ctx context.Context, address, assetID string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (r *testReader) GetDepositedBalance(ctx context.Context, channelAddress, assetID string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (r *testReader) GetDecimals(ctx context.Context, assetID string) (uint8, error) {
	return 18, nil
}

func (r *testReader) GetCode(ctx context.Context, address string) ([]byte, error) {
	return nil, nil
}

func (r *testReader) GetTransactionReceipt(ctx context.Context, txHash string) (*chain.Receipt, error) {
	return &chain.Receipt{TxHash: txHash, Status: 1, BlockNumber: 1}, nil
}

func (r *testReader) ConfirmTransaction(ctx context.Context, txHash string) error {
	return r.confirmErr
}

type fixture struct {
	svc   *mock.Service
	coord *transfer.Coordinator
}

func newFixture(t *testing.T, cfg types.Config) *fixture {
	t.Helper()

	svc := mock.NewService()
	cfg = cfg.WithDefaults()
	readers := map[types.ChainID]chain.Reader{
		senderChain:    &testReader{id: senderChain},
		recipientChain: &testReader{id: recipientChain},
	}
	est := quote.NewEstimator(svc, cfg.QuoteExpirySkew, cfg.DefaultTimeout)
	w := transfer.NewWithdrawer(svc, readers, est, nil)
	coord := transfer.NewCoordinator(svc, readers, est, w, cfg, nil, nil)

	// Router has off-chain capacity on the recipient side.
	svc.SetChannelBalance(recipientHandle.ChannelAddress, swap.ToAssetID, recipientHandle.Counterparty, "5")

	return &fixture{svc: svc, coord: coord}
}

func baseParams() transfer.Params {
	return transfer.Params{
		Amount:            "1",
		Swap:              swap,
		Sender:            senderHandle,
		Recipient:         recipientHandle,
		WithdrawalAddress: "0xdead",
	}
}

// playRouter mirrors the sender-side transfer onto the recipient channel and
// claims the sender leg once the secret is revealed. The revealed resolver is
// sent on the returned channel.
func (f *fixture) playRouter(t *testing.T) <-chan string {
	t.Helper()
	revealed := make(chan string, 1)

	created := f.svc.Events().Subscribe(channel.EventTransferCreated)
	resolved := f.svc.Events().Subscribe(channel.EventTransferResolved)

	go func() {
		defer created.Close()
		defer resolved.Close()

		var senderTransferID string
		for {
			select {
			case evt := <-created.C():
				p := evt.Payload.(channel.TransferCreatedPayload)
				if p.ChainID != senderChain {
					continue
				}
				senderTransferID = p.Transfer.TransferID
				f.svc.SimulateTransferCreated(channel.TransferCreatedPayload{
					ChainID:        recipientChain,
					ChannelAddress: recipientHandle.ChannelAddress,
					Transfer: types.ActiveTransferRecord{
						TransferID:        "0xmirror0001",
						RoutingID:         p.Transfer.RoutingID,
						Initiator:         recipientHandle.Counterparty,
						Responder:         recipientHandle.Participant,
						HashLock:          p.Transfer.HashLock,
						HasForwardingMeta: true,
					},
				})

			case evt := <-resolved.C():
				p := evt.Payload.(channel.TransferResolvedPayload)
				if p.ChainID != recipientChain || utils.IsZeroResolver(p.Resolver) {
					continue
				}
				revealed <- p.Resolver
				f.svc.SetChannelBalance(recipientHandle.ChannelAddress, swap.ToAssetID, recipientHandle.Participant, "0.9")
				f.svc.SimulateTransferResolved(channel.TransferResolvedPayload{
					ChainID:        senderChain,
					ChannelAddress: senderHandle.ChannelAddress,
					TransferID:     senderTransferID,
					RoutingID:      p.RoutingID,
					Resolver:       p.Resolver,
				})
				return

			case <-time.After(5 * time.Second):
				return
			}
		}
	}()

	return revealed
}

func TestExecuteHappyPath(t *testing.T) {
	f := newFixture(t, types.Config{})
	revealed := f.playRouter(t)

	var mu sync.Mutex
	var states []types.TransferStatus
	params := baseParams()
	params.Callbacks = &types.Callbacks{
		OnStateChanged: func(status types.TransferStatus, detail string) {
			mu.Lock()
			states = append(states, status)
			mu.Unlock()
		},
	}

	result, err := f.coord.Execute(context.Background(), params)

	require.NoError(t, err)
	assert.NotEmpty(t, result.CrossChainTransferID)
	assert.Equal(t, "0xwithdrawtx", result.TxHash)
	assert.Equal(t, "0.9", result.Amount)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []types.TransferStatus{
		types.StatusReconciling,
		types.StatusCreatingSenderTransfer,
		types.StatusAwaitingMirror,
		types.StatusResolvingRecipient,
		types.StatusAwaitingSenderResolution,
		types.StatusWithdrawing,
		types.StatusComplete,
	}, states)

	// The secret revealed to the router must commit to the hashlock, and the
	// session slot must be free again.
	assert.Nil(t, f.coord.ActiveSession())
	select {
	case resolver := <-revealed:
		assert.False(t, utils.IsZeroResolver(resolver))
	default:
		t.Fatal("router never saw the secret")
	}
}

func TestExecuteSecretMatchesHashLock(t *testing.T) {
	f := newFixture(t, types.Config{})

	created := f.svc.Events().Subscribe(channel.EventTransferCreated)
	defer created.Close()
	revealed := f.playRouter(t)

	_, err := f.coord.Execute(context.Background(), baseParams())
	require.NoError(t, err)

	evt := <-created.C()
	hashLock := evt.Payload.(channel.TransferCreatedPayload).Transfer.HashLock
	resolver := <-revealed

	derived, err := utils.HashLockOf(resolver)
	require.NoError(t, err)
	assert.Equal(t, hashLock, derived)
}

func TestExecuteMirrorTimeout(t *testing.T) {
	f := newFixture(t, types.Config{MirrorTimeout: 100 * time.Millisecond})

	_, err := f.coord.Execute(context.Background(), baseParams())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not receive transfer")
	var terr *types.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, types.ErrCodeTimeout, terr.Code)

	// The session survives for recovery, with the failure attached.
	session := f.coord.ActiveSession()
	require.NotNil(t, session)
	assert.Equal(t, types.StatusError, session.Status)
	assert.Error(t, session.Err)
	assert.NotContains(t, f.svc.Calls(), "withdraw")
}

func TestExecuteCancelledMirror(t *testing.T) {
	f := newFixture(t, types.Config{MirrorTimeout: 2 * time.Second})

	// The router mirrors the transfer already resolved with the zero
	// resolver, declining to forward.
	created := f.svc.Events().Subscribe(channel.EventTransferCreated)
	go func() {
		defer created.Close()
		for evt := range created.C() {
			p := evt.Payload.(channel.TransferCreatedPayload)
			if p.ChainID != senderChain {
				continue
			}
			f.svc.SimulateTransferCreated(channel.TransferCreatedPayload{
				ChainID:        recipientChain,
				ChannelAddress: recipientHandle.ChannelAddress,
				Transfer: types.ActiveTransferRecord{
					TransferID:        "0xmirror0001",
					RoutingID:         p.Transfer.RoutingID,
					Responder:         recipientHandle.Participant,
					HashLock:          p.Transfer.HashLock,
					HasForwardingMeta: true,
				},
				Resolver: utils.ZeroResolver,
			})
			return
		}
	}()

	_, err := f.coord.Execute(context.Background(), baseParams())

	require.Error(t, err)
	assert.Contains(t, err.Error(), transfer.MsgCancelled)

	session := f.coord.ActiveSession()
	require.NotNil(t, session)
	assert.Equal(t, types.StatusCancelled, session.Status)
	assert.NotContains(t, f.svc.Calls(), "withdraw")
}

func TestExecuteSenderCancellation(t *testing.T) {
	f := newFixture(t, types.Config{MirrorTimeout: 2 * time.Second})

	// The router cancels the sender leg outright instead of mirroring.
	created := f.svc.Events().Subscribe(channel.EventTransferCreated)
	go func() {
		defer created.Close()
		for evt := range created.C() {
			p := evt.Payload.(channel.TransferCreatedPayload)
			if p.ChainID != senderChain {
				continue
			}
			f.svc.SimulateTransferResolved(channel.TransferResolvedPayload{
				ChainID:        senderChain,
				ChannelAddress: senderHandle.ChannelAddress,
				TransferID:     p.Transfer.TransferID,
				RoutingID:      p.Transfer.RoutingID,
				Resolver:       utils.ZeroResolver,
			})
			return
		}
	}()

	_, err := f.coord.Execute(context.Background(), baseParams())

	require.Error(t, err)
	assert.Contains(t, err.Error(), transfer.MsgCancelled)
	assert.Equal(t, types.StatusCancelled, f.coord.ActiveSession().Status)
}

func TestExecuteRejectsConcurrentTransfer(t *testing.T) {
	f := newFixture(t, types.Config{MirrorTimeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	go func() {
		params := baseParams()
		params.Callbacks = &types.Callbacks{
			OnStateChanged: func(status types.TransferStatus, detail string) {
				if status == types.StatusAwaitingMirror {
					close(started)
				}
			},
		}
		_, _ = f.coord.Execute(ctx, params)
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first transfer never reached the mirror wait")
	}

	_, err := f.coord.Execute(ctx, baseParams())

	var terr *types.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, types.ErrCodeInFlight, terr.Code)
}

func TestExecuteReconcileFailure(t *testing.T) {
	f := newFixture(t, types.Config{})
	f.svc.FailNext("reconcileDeposit", errors.New("service offline"))

	_, err := f.coord.Execute(context.Background(), baseParams())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Error in reconcileDeposit")
	assert.Equal(t, types.StatusError, f.coord.ActiveSession().Status)
}

func TestExecuteCreateTransferFailure(t *testing.T) {
	f := newFixture(t, types.Config{})
	f.svc.FailNext("conditionalTransfer", errors.New("channel closed"))

	_, err := f.coord.Execute(context.Background(), baseParams())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Error in createFromAssetTransfer")
}

func TestExecuteInsufficientRouterCapacity(t *testing.T) {
	f := newFixture(t, types.Config{})
	// Drop the router's off-chain balance below the transfer amount.
	f.svc.SetChannelBalance(recipientHandle.ChannelAddress, swap.ToAssetID, recipientHandle.Counterparty, "0.5")

	_, err := f.coord.Execute(context.Background(), baseParams())

	var terr *types.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, types.ErrCodeRouterCapacity, terr.Code)
	assert.NotContains(t, f.svc.Calls(), "conditionalTransfer")
}

func TestExecuteDiscardsInvalidQuote(t *testing.T) {
	f := newFixture(t, types.Config{})
	f.playRouter(t)

	params := baseParams()
	params.TransferQuote = &types.Quote{
		Kind:      types.QuoteKindTransfer,
		Amount:    "1",
		Fee:       "0.1",
		AssetID:   swap.FromAssetID,
		ChainID:   senderChain,
		Expiry:    time.Now().Add(-time.Minute).UnixMilli(), // stale
		Signature: "0xsig",
	}

	result, err := f.coord.Execute(context.Background(), params)

	// A stale quote is dropped, never fatal.
	require.NoError(t, err)
	assert.NotEmpty(t, result.TxHash)
}

func TestExecuteClearsPreImageAfterReveal(t *testing.T) {
	f := newFixture(t, types.Config{})
	f.playRouter(t)

	var sessionAtWithdraw *types.TransferSession
	params := baseParams()
	params.Callbacks = &types.Callbacks{
		OnStateChanged: func(status types.TransferStatus, detail string) {
			if status == types.StatusWithdrawing {
				sessionAtWithdraw = f.coord.ActiveSession()
			}
		},
	}

	_, err := f.coord.Execute(context.Background(), params)

	require.NoError(t, err)
	require.NotNil(t, sessionAtWithdraw)
	assert.Empty(t, sessionAtWithdraw.PreImage)
	assert.NotEmpty(t, sessionAtWithdraw.HashLock)
}
