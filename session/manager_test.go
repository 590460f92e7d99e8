package session

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hopline/crosschain/chain"
	"github.com/hopline/crosschain/channel"
	"github.com/hopline/crosschain/channel/mock"
	"github.com/hopline/crosschain/types"
)

const (
	senderChain    = types.ChainID(137)
	recipientChain = types.ChainID(8453)
)

// gasReader reports a fixed native balance for every address.
type gasReader struct {
	id     types.ChainID
	native *big.Int
}

func (r *gasReader) ChainID() types.ChainID { return r.id }

func (r *gasReader) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	return new(big.Int).Set(r.native), nil
}

func (r *gasReader) GetTokenBalance(ctx context.Context, address, assetID string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (r *gasReader) GetDepositedBalance(ctx context.Context, channelAddress, assetID string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (r *gasReader) GetDecimals(ctx context.Context, assetID string) (uint8, error) {
	return 18, nil
}

func (r *gasReader) GetCode(ctx context.Context, address string) ([]byte, error) {
	return nil, nil
}

func (r *gasReader) GetTransactionReceipt(ctx context.Context, txHash string) (*chain.Receipt, error) {
	return nil, nil
}

func (r *gasReader) ConfirmTransaction(ctx context.Context, txHash string) error {
	return nil
}

func oneEther() *big.Int {
	return new(big.Int).SetUint64(1e18)
}

func routerConfig() *types.RouterConfig {
	return &types.RouterConfig{
		RouterID:        "router-1",
		SupportedChains: []types.ChainID{senderChain, recipientChain},
		AllowedSwaps: []types.SwapPair{
			{FromChainID: senderChain, FromAssetID: "0xfrom", ToChainID: recipientChain, ToAssetID: "0xto", Rate: "1"},
		},
	}
}

func connectParams() ConnectParams {
	return ConnectParams{
		RouterID:         "router-1",
		SenderChainID:    senderChain,
		SenderAssetID:    "0xfrom",
		RecipientChainID: recipientChain,
		RecipientAssetID: "0xto",
	}
}

func newManager(svc *mock.Service, recipientGas *big.Int) *Manager {
	readers := map[types.ChainID]chain.Reader{
		senderChain:    &gasReader{id: senderChain, native: oneEther()},
		recipientChain: &gasReader{id: recipientChain, native: recipientGas},
	}
	return NewManager(svc, readers, types.Config{}.WithDefaults(), nil)
}

func TestConnectEstablishesBothLegs(t *testing.T) {
	svc := mock.NewService()
	svc.SetRouterConfig(routerConfig())
	m := newManager(svc, oneEther())

	pair, err := m.Connect(context.Background(), connectParams())

	require.NoError(t, err)
	assert.Equal(t, senderChain, pair.Sender.ChainID)
	assert.Equal(t, recipientChain, pair.Recipient.ChainID)
	assert.Equal(t, "0xfrom", pair.Swap.FromAssetID)
	assert.Equal(t, "router-1", pair.Router.RouterID)
}

func TestConnectReusesExistingChannel(t *testing.T) {
	svc := mock.NewService()
	svc.SetRouterConfig(routerConfig())
	existing := &types.ChannelHandle{
		ChainID:        senderChain,
		ChannelAddress: "0xexisting",
		Participant:    "mock-participant",
		Counterparty:   "router-1",
	}
	svc.SetChannel(existing)
	svc.FailNext("setup", channel.ErrChannelAlreadyExists)
	m := newManager(svc, oneEther())

	pair, err := m.Connect(context.Background(), connectParams())

	require.NoError(t, err)
	assert.Equal(t, "0xexisting", pair.Sender.ChannelAddress)
}

func TestConnectRestoresMissingLeg(t *testing.T) {
	svc := mock.NewService()
	svc.SetRouterConfig(routerConfig())
	// The service claims the channel exists but cannot produce it, so the
	// manager must ask for a counterparty-driven restore and retry.
	svc.FailNext("setup", channel.ErrChannelAlreadyExists)
	m := newManager(svc, oneEther())

	pair, err := m.Connect(context.Background(), connectParams())

	require.NoError(t, err)
	assert.NotNil(t, pair.Sender)
	assert.Contains(t, svc.Calls(), "restoreState")
}

func TestConnectFatalSetupError(t *testing.T) {
	svc := mock.NewService()
	svc.SetRouterConfig(routerConfig())
	svc.FailNext("setup", errors.New("signer unavailable"))
	m := newManager(svc, oneEther())

	_, err := m.Connect(context.Background(), connectParams())

	var terr *types.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, types.ErrCodeSetup, terr.Code)
}

func TestConnectRejectsUnsupportedChain(t *testing.T) {
	svc := mock.NewService()
	rc := routerConfig()
	rc.SupportedChains = []types.ChainID{senderChain}
	svc.SetRouterConfig(rc)
	m := newManager(svc, oneEther())

	_, err := m.Connect(context.Background(), connectParams())

	var terr *types.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, types.ErrCodeUnsupportedRoute, terr.Code)
}

func TestConnectRejectsUnsupportedSwap(t *testing.T) {
	svc := mock.NewService()
	rc := routerConfig()
	rc.AllowedSwaps = nil
	svc.SetRouterConfig(rc)
	m := newManager(svc, oneEther())

	_, err := m.Connect(context.Background(), connectParams())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "swap conversion is not supported by the router")
}

func TestConnectRejectsZeroRateSwap(t *testing.T) {
	svc := mock.NewService()
	rc := routerConfig()
	rc.AllowedSwaps[0].Rate = "0"
	svc.SetRouterConfig(rc)
	m := newManager(svc, oneEther())

	_, err := m.Connect(context.Background(), connectParams())

	var terr *types.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, types.ErrCodeUnsupportedRoute, terr.Code)
	assert.Contains(t, err.Error(), "non-positive swap rate")
}

func TestConnectRejectsRouterWithoutGas(t *testing.T) {
	svc := mock.NewService()
	svc.SetRouterConfig(routerConfig())
	// 0.001 native, below the 0.01 default reserve.
	m := newManager(svc, new(big.Int).SetUint64(1e15))

	_, err := m.Connect(context.Background(), connectParams())

	var terr *types.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, types.ErrCodeRouterGas, terr.Code)
	assert.Contains(t, err.Error(), "router has insufficient gas")
}

func TestConnectRouterConfigFailure(t *testing.T) {
	svc := mock.NewService()
	svc.FailNext("getRouterConfig", errors.New("router offline"))
	m := newManager(svc, oneEther())

	_, err := m.Connect(context.Background(), connectParams())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Error in getRouterConfig")
}
