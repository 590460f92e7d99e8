package types

// Error is the structured error type surfaced by the orchestrator. The code is
// a stable category the UI layer can branch on; the message is human readable.
type Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Cause   error       `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError builds an Error with an optional cause.
func NewError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Common error codes
const (
	// Setup errors - fatal to session start.
	ErrCodeSetup            = "SETUP_FAILED"
	ErrCodeUnsupportedRoute = "UNSUPPORTED_ROUTE"
	ErrCodeRouterGas        = "INSUFFICIENT_ROUTER_GAS"
	ErrCodeRouterCapacity   = "INSUFFICIENT_ROUTER_CAPACITY"
	ErrCodeHangingTransfers = "HANGING_SENDER_TRANSFERS"

	// Quote errors - recoverable, surfaced for re-entry.
	ErrCodeQuote = "QUOTE_ERROR"

	// Transfer errors.
	ErrCodeTransfer  = "TRANSFER_FAILED"
	ErrCodeCancelled = "TRANSFER_CANCELLED"
	ErrCodeTimeout   = "TIMEOUT"
	ErrCodeInFlight  = "TRANSFER_IN_FLIGHT"

	// Network/environment errors.
	ErrCodeWrongChain = "WRONG_CHAIN"
	ErrCodeStorage    = "STORAGE_ACCESS"
	ErrCodeNetwork    = "NETWORK_ERROR"
	ErrCodeConfig     = "CONFIG_ERROR"
)
