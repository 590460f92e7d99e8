// Package mock implements channel.Service in memory with controllable
// behavior, for tests and demos.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/hopline/crosschain/channel"
	"github.com/hopline/crosschain/events"
	"github.com/hopline/crosschain/types"
)

var _ channel.Service = (*Service)(nil)

// Service is an in-memory channel service. Tests script failures with
// FailNext and drive the router's side of the protocol with the Simulate
// helpers.
type Service struct {
	mu sync.Mutex

	bus      *events.Bus
	channels map[types.ChainID]*types.ChannelHandle
	// active transfers per channel address
	active map[string][]types.ActiveTransferRecord
	// off-chain balances keyed by channelAddress|assetID|participant
	balances map[string]string

	routerConfig    *types.RouterConfig
	transferQuote   *types.Quote
	withdrawalQuote *types.Quote
	withdrawResult  *channel.WithdrawResult

	// failures holds scripted one-shot errors keyed by operation name.
	failures map[string]error
	calls    []string
	nextID   int
}

func NewService() *Service {
	return &Service{
		bus:      events.NewBus(),
		channels: make(map[types.ChainID]*types.ChannelHandle),
		active:   make(map[string][]types.ActiveTransferRecord),
		balances: make(map[string]string),
		failures: make(map[string]error),
	}
}

// --- scripting helpers ---

// SetChannel registers the channel handle returned for a chain.
func (s *Service) SetChannel(h *types.ChannelHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[h.ChainID] = h
}

func (s *Service) SetRouterConfig(rc *types.RouterConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routerConfig = rc
}

func (s *Service) SetChannelBalance(channelAddress, assetID, participant, balance string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[balanceKey(channelAddress, assetID, participant)] = balance
}

func (s *Service) SetTransferQuote(q *types.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transferQuote = q
}

func (s *Service) SetWithdrawalQuote(q *types.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.withdrawalQuote = q
}

func (s *Service) SetWithdrawResult(r *channel.WithdrawResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.withdrawResult = r
}

// FailNext makes the next call to the named operation return err.
func (s *Service) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// Calls returns the operation names invoked so far, in order.
func (s *Service) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// AddActiveTransfer seeds a pre-existing transfer, e.g. one left hanging by a
// previous run.
func (s *Service) AddActiveTransfer(channelAddress string, rec types.ActiveTransferRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ChannelAddress = channelAddress
	s.active[channelAddress] = append(s.active[channelAddress], rec)
}

// SimulateTransferCreated publishes a transfer-created event as the router
// would, registering the transfer as active.
func (s *Service) SimulateTransferCreated(p channel.TransferCreatedPayload) {
	s.mu.Lock()
	p.Transfer.ChannelAddress = p.ChannelAddress
	s.active[p.ChannelAddress] = append(s.active[p.ChannelAddress], p.Transfer)
	s.mu.Unlock()

	s.bus.Publish(events.Event{Name: channel.EventTransferCreated, Payload: p})
}

// SimulateTransferResolved publishes a transfer-resolved event as the router
// would, dropping the transfer from the active set.
func (s *Service) SimulateTransferResolved(p channel.TransferResolvedPayload) {
	s.mu.Lock()
	s.removeActiveLocked(p.ChannelAddress, p.TransferID)
	s.mu.Unlock()

	s.bus.Publish(events.Event{Name: channel.EventTransferResolved, Payload: p})
}

// --- channel.Service ---

func (s *Service) Setup(ctx context.Context, params channel.SetupParams) (*types.ChannelHandle, error) {
	if err := s.begin("setup"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.channels[params.ChainID]; ok {
		return h, nil
	}

	h := &types.ChannelHandle{
		ChainID:        params.ChainID,
		ChannelAddress: fmt.Sprintf("0xchannel%d", params.ChainID),
		Participant:    "mock-participant",
		Counterparty:   params.Counterparty,
	}
	s.channels[params.ChainID] = h
	return h, nil
}

func (s *Service) RestoreState(ctx context.Context, params channel.RestoreParams) error {
	return s.begin("restoreState")
}

func (s *Service) GetStateChannelByParticipants(ctx context.Context, chainID types.ChainID, counterparty string) (*types.ChannelHandle, error) {
	if err := s.begin("getStateChannelByParticipants"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[chainID], nil
}

func (s *Service) GetActiveTransfers(ctx context.Context, chainID types.ChainID, channelAddress string) ([]types.ActiveTransferRecord, error) {
	if err := s.begin("getActiveTransfers"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.ActiveTransferRecord, len(s.active[channelAddress]))
	copy(out, s.active[channelAddress])
	return out, nil
}

func (s *Service) GetTransferByRoutingID(ctx context.Context, chainID types.ChainID, routingID string) (*types.ActiveTransferRecord, error) {
	if err := s.begin("getTransferByRoutingId"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, list := range s.active {
		for _, rec := range list {
			if rec.RoutingID == routingID {
				found := rec
				return &found, nil
			}
		}
	}
	return nil, nil
}

func (s *Service) ConditionalTransfer(ctx context.Context, params channel.ConditionalTransferParams) (*channel.ConditionalTransferResult, error) {
	if err := s.begin("conditionalTransfer"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.nextID++
	transferID := fmt.Sprintf("0xtransfer%04d", s.nextID)
	rec := types.ActiveTransferRecord{
		TransferID:     transferID,
		ChannelAddress: params.ChannelAddress,
		RoutingID:      params.RoutingID,
		Initiator:      "mock-participant",
		Responder:      params.Recipient,
		HashLock:       params.HashLock,
	}
	s.active[params.ChannelAddress] = append(s.active[params.ChannelAddress], rec)
	s.mu.Unlock()

	s.bus.Publish(events.Event{Name: channel.EventTransferCreated, Payload: channel.TransferCreatedPayload{
		ChainID:        params.ChainID,
		ChannelAddress: params.ChannelAddress,
		Transfer:       rec,
	}})

	return &channel.ConditionalTransferResult{
		TransferID:     transferID,
		RoutingID:      params.RoutingID,
		ChannelAddress: params.ChannelAddress,
	}, nil
}

func (s *Service) ResolveTransfer(ctx context.Context, params channel.ResolveTransferParams) error {
	if err := s.begin("resolveTransfer"); err != nil {
		return err
	}

	s.mu.Lock()
	s.removeActiveLocked(params.ChannelAddress, params.TransferID)
	s.mu.Unlock()

	s.bus.Publish(events.Event{Name: channel.EventTransferResolved, Payload: channel.TransferResolvedPayload{
		ChainID:        params.ChainID,
		ChannelAddress: params.ChannelAddress,
		TransferID:     params.TransferID,
		RoutingID:      params.RoutingID,
		Resolver:       params.Resolver,
	}})
	return nil
}

func (s *Service) ReconcileDeposit(ctx context.Context, chainID types.ChainID, channelAddress, assetID string) error {
	if err := s.begin("reconcileDeposit"); err != nil {
		return err
	}

	s.bus.Publish(events.Event{Name: channel.EventDepositReconciled, Payload: channel.DepositReconciledPayload{
		ChainID:        chainID,
		ChannelAddress: channelAddress,
		AssetID:        assetID,
	}})
	return nil
}

func (s *Service) Withdraw(ctx context.Context, params channel.WithdrawParams) (*channel.WithdrawResult, error) {
	if err := s.begin("withdraw"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	result := s.withdrawResult
	s.mu.Unlock()

	if result == nil {
		result = &channel.WithdrawResult{
			TxHash: "0xwithdrawtx",
			Amount: params.Amount,
		}
	}

	s.bus.Publish(events.Event{Name: channel.EventWithdrawalResolved, Payload: channel.WithdrawalResolvedPayload{
		ChainID:        params.ChainID,
		ChannelAddress: params.ChannelAddress,
		AssetID:        params.AssetID,
		Amount:         result.Amount,
		TxHash:         result.TxHash,
	}})
	return result, nil
}

func (s *Service) GetTransferQuote(ctx context.Context, req channel.QuoteRequest) (*types.Quote, error) {
	if err := s.begin("getTransferQuote"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transferQuote == nil {
		return nil, fmt.Errorf("no transfer quote configured")
	}
	q := *s.transferQuote
	return &q, nil
}

func (s *Service) GetWithdrawalQuote(ctx context.Context, req channel.QuoteRequest) (*types.Quote, error) {
	if err := s.begin("getWithdrawalQuote"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.withdrawalQuote == nil {
		return nil, fmt.Errorf("no withdrawal quote configured")
	}
	q := *s.withdrawalQuote
	return &q, nil
}

func (s *Service) GetRouterConfig(ctx context.Context, routerID string) (*types.RouterConfig, error) {
	if err := s.begin("getRouterConfig"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.routerConfig == nil {
		return nil, fmt.Errorf("no router config configured")
	}
	rc := *s.routerConfig
	return &rc, nil
}

func (s *Service) GetChannelBalance(ctx context.Context, chainID types.ChainID, channelAddress, assetID, participant string) (string, error) {
	if err := s.begin("getChannelBalance"); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	bal, ok := s.balances[balanceKey(channelAddress, assetID, participant)]
	if !ok {
		return "0", nil
	}
	return bal, nil
}

func (s *Service) Events() *events.Bus {
	return s.bus
}

// begin records the call and consumes any scripted failure for the op.
func (s *Service) begin(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, op)
	if err, ok := s.failures[op]; ok {
		delete(s.failures, op)
		return err
	}
	return nil
}

func (s *Service) removeActiveLocked(channelAddress, transferID string) {
	list := s.active[channelAddress]
	for i, rec := range list {
		if rec.TransferID == transferID {
			s.active[channelAddress] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func balanceKey(channelAddress, assetID, participant string) string {
	return channelAddress + "|" + assetID + "|" + participant
}
