// Package types defines the shared data model of the cross-chain transfer
// orchestrator: channel handles, quotes, transfer sessions and configuration.
package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ChainID identifies an EVM chain by its numeric id.
type ChainID int64

// AddressZero is the asset id used for a chain's native asset.
const AddressZero = "0x0000000000000000000000000000000000000000"

// ChannelHandle is an opaque reference to one established channel on one chain.
// It is owned by the session manager and never mutated outside the channel service.
type ChannelHandle struct {
	ChainID        ChainID  `json:"chainId"`
	ChannelAddress string   `json:"channelAddress"`
	Participant    string   `json:"participant"`
	Counterparty   string   `json:"counterparty"`
	Assets         []string `json:"assets,omitempty"`
}

// QuoteKind distinguishes transfer quotes from withdrawal quotes.
type QuoteKind string

const (
	QuoteKindTransfer   QuoteKind = "transfer"
	QuoteKindWithdrawal QuoteKind = "withdrawal"
)

// Quote is a signed, time-boxed fee commitment from the router. Quotes are
// single-use and immutable: consumed by the transfer coordinator or discarded.
// Amounts are decimal strings in human units.
type Quote struct {
	Kind             QuoteKind `json:"kind"`
	Amount           string    `json:"amount" validate:"required"`
	Fee              string    `json:"fee" validate:"required"`
	AssetID          string    `json:"assetId" validate:"required"`
	ChainID          ChainID   `json:"chainId" validate:"required"`
	RecipientChainID ChainID   `json:"recipientChainId,omitempty"`
	RecipientAssetID string    `json:"recipientAssetId,omitempty"`
	Recipient        string    `json:"recipient,omitempty"`
	// Expiry is epoch milliseconds.
	Expiry    int64  `json:"expiry" validate:"required"`
	Signature string `json:"signature" validate:"required"`
}

// TransferStatus is the coordinator's state machine position for a session.
type TransferStatus string

const (
	StatusIdle                     TransferStatus = "IDLE"
	StatusReconciling              TransferStatus = "RECONCILING"
	StatusCreatingSenderTransfer   TransferStatus = "CREATING_SENDER_TRANSFER"
	StatusAwaitingMirror           TransferStatus = "AWAITING_MIRROR"
	StatusResolvingRecipient       TransferStatus = "RESOLVING_RECIPIENT"
	StatusAwaitingSenderResolution TransferStatus = "AWAITING_SENDER_RESOLUTION"
	StatusWithdrawing              TransferStatus = "WITHDRAWING"
	StatusComplete                 TransferStatus = "COMPLETE"
	StatusCancelled                TransferStatus = "CANCELLED"
	StatusError                    TransferStatus = "ERROR"
)

// Terminal reports whether no further transition can occur from the status.
func (s TransferStatus) Terminal() bool {
	return s == StatusComplete || s == StatusCancelled || s == StatusError
}

// TransferSession is the unit of work for one cross-chain move. It is the only
// orchestrator-local mutable state that spans awaited calls; the coordinator
// holds the active session in a single owned slot.
type TransferSession struct {
	ID               string         `json:"crossChainTransferId"`
	PreImage         string         `json:"-"`
	HashLock         string         `json:"hashLock"`
	Amount           string         `json:"amount"`
	SenderChainID    ChainID        `json:"senderChainId"`
	SenderAssetID    string         `json:"senderAssetId"`
	RecipientChainID ChainID        `json:"recipientChainId"`
	RecipientAssetID string         `json:"recipientAssetId"`
	WithdrawalAddr   string         `json:"withdrawalAddress"`
	Status           TransferStatus `json:"status"`
	Err              error          `json:"-"`
	CreatedAt        time.Time      `json:"createdAt"`
}

// ClearPreImage wipes the secret once it has been revealed. Revealing it a
// second time is never required.
func (s *TransferSession) ClearPreImage() {
	s.PreImage = ""
}

// ActiveTransferRecord is a read-only snapshot of a transfer known to the
// channel service, used by the recovery manager to find work.
type ActiveTransferRecord struct {
	TransferID        string `json:"transferId"`
	ChannelAddress    string `json:"channelAddress"`
	RoutingID         string `json:"routingId"`
	Initiator         string `json:"initiator"`
	Responder         string `json:"responder"`
	HashLock          string `json:"hashLock,omitempty"`
	HasForwardingMeta bool   `json:"hasForwardingMeta"`
}

// HashLocked reports whether the record carries a hashlock condition.
func (r ActiveTransferRecord) HashLocked() bool {
	return r.HashLock != ""
}

// SwapPair describes one conversion the router supports.
type SwapPair struct {
	FromChainID ChainID `json:"fromChainId"`
	FromAssetID string  `json:"fromAssetId"`
	ToChainID   ChainID `json:"toChainId"`
	ToAssetID   string  `json:"toAssetId"`
	Rate        string  `json:"rate"`
}

// RouterConfig is the router's advertised capability set.
type RouterConfig struct {
	RouterID        string     `json:"routerId"`
	SupportedChains []ChainID  `json:"supportedChains"`
	AllowedSwaps    []SwapPair `json:"allowedSwaps"`
}

// SupportsChain reports whether the router advertises the chain.
func (rc RouterConfig) SupportsChain(id ChainID) bool {
	for _, c := range rc.SupportedChains {
		if c == id {
			return true
		}
	}
	return false
}

// FindSwap returns the swap pair for the given route, if advertised.
func (rc RouterConfig) FindSwap(fromChain ChainID, fromAsset string, toChain ChainID, toAsset string) (SwapPair, bool) {
	for _, s := range rc.AllowedSwaps {
		if s.FromChainID == fromChain && equalAsset(s.FromAssetID, fromAsset) &&
			s.ToChainID == toChain && equalAsset(s.ToAssetID, toAsset) {
			return s, true
		}
	}
	return SwapPair{}, false
}

// RateDecimal parses the pair's exchange rate, defaulting to 1 when unset.
func (s SwapPair) RateDecimal() decimal.Decimal {
	if s.Rate == "" {
		return decimal.NewFromInt(1)
	}
	d, err := decimal.NewFromString(s.Rate)
	if err != nil {
		return decimal.NewFromInt(1)
	}
	return d
}

// Callbacks are the caller-facing notifications. All fields are optional.
type Callbacks struct {
	OnStateChanged    func(status TransferStatus, detail string)
	OnDepositDetected func(amount string)
	OnTransferred     func()
	OnWithdrawn       func(txHash string, amount string)
}

// EmitState invokes OnStateChanged when set.
func (c *Callbacks) EmitState(status TransferStatus, detail string) {
	if c != nil && c.OnStateChanged != nil {
		c.OnStateChanged(status, detail)
	}
}

// Config contains global configuration for the orchestrator.
type Config struct {
	DefaultTimeout time.Duration `json:"defaultTimeout,omitempty"`
	// PollInterval is the deposit watcher's fixed polling interval.
	PollInterval time.Duration `json:"pollInterval,omitempty"`
	// MirrorTimeout bounds the wait for the router's mirrored transfer. It is
	// long because the router may need an on-chain transaction.
	MirrorTimeout time.Duration `json:"mirrorTimeout,omitempty"`
	// SenderResolveTimeout bounds the best-effort wait for the router to
	// resolve the sender-side transfer.
	SenderResolveTimeout time.Duration `json:"senderResolveTimeout,omitempty"`
	// SweepTimeout bounds the startup wait for leftover sender transfers to
	// reach a cancelled state.
	SweepTimeout time.Duration `json:"sweepTimeout,omitempty"`
	// QuoteExpirySkew is the clock tolerance applied when checking quote expiry.
	QuoteExpirySkew time.Duration `json:"quoteExpirySkew,omitempty"`
	RetryCount      int           `json:"retryCount,omitempty"`
	RetryDelay      time.Duration `json:"retryDelay,omitempty"`
	// MinRouterGasReserve is the minimum native balance (human units) the
	// router must hold on the destination chain.
	MinRouterGasReserve string `json:"minRouterGasReserve,omitempty"`
	LogLevel            string `json:"logLevel,omitempty"`
	EnableMetrics       bool   `json:"enableMetrics,omitempty"`
}

// WithDefaults fills unset fields with their defaults.
func (c Config) WithDefaults() Config {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.MirrorTimeout <= 0 {
		c.MirrorTimeout = 300 * time.Second
	}
	if c.SenderResolveTimeout <= 0 {
		c.SenderResolveTimeout = 45 * time.Second
	}
	if c.SweepTimeout <= 0 {
		c.SweepTimeout = 300 * time.Second
	}
	if c.QuoteExpirySkew <= 0 {
		c.QuoteExpirySkew = 5 * time.Second
	}
	if c.RetryCount <= 0 {
		c.RetryCount = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.MinRouterGasReserve == "" {
		c.MinRouterGasReserve = "0.01"
	}
	return c
}

// Asset ids are hex addresses; comparison is case-insensitive.
func equalAsset(a, b string) bool {
	return strings.EqualFold(a, b)
}
