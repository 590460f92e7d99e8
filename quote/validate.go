package quote

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/hopline/crosschain/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Expectation is what a quote must match to be usable for the transfer or
// withdrawal about to be created.
type Expectation struct {
	Kind             types.QuoteKind
	Amount           string
	AssetID          string
	ChainID          types.ChainID
	RecipientChainID types.ChainID
	RecipientAssetID string
	Recipient        string
}

// ValidateQuote checks a quote against the live parameters. An error means
// the quote must be discarded; callers proceed unquoted rather than aborting.
func ValidateQuote(q *types.Quote, expect Expectation, skew time.Duration, now time.Time) error {
	if q == nil {
		return fmt.Errorf("no quote supplied")
	}

	if err := validate.Struct(q); err != nil {
		return fmt.Errorf("quote is missing required fields: %w", err)
	}

	if expect.Kind != "" && q.Kind != expect.Kind {
		return fmt.Errorf("quote kind %q does not match %q", q.Kind, expect.Kind)
	}

	amount, err := decimal.NewFromString(q.Amount)
	if err != nil {
		return fmt.Errorf("quote amount is not a decimal: %w", err)
	}
	fee, err := decimal.NewFromString(q.Fee)
	if err != nil {
		return fmt.Errorf("quote fee is not a decimal: %w", err)
	}

	if expect.Amount != "" {
		expected, err := decimal.NewFromString(expect.Amount)
		if err != nil {
			return fmt.Errorf("expected amount is not a decimal: %w", err)
		}
		if !amount.Equal(expected) {
			return fmt.Errorf("quote amount %s does not match transfer amount %s", q.Amount, expect.Amount)
		}
	}

	if expect.AssetID != "" && !strings.EqualFold(q.AssetID, expect.AssetID) {
		return fmt.Errorf("quote asset %s does not match %s", q.AssetID, expect.AssetID)
	}

	if expect.ChainID != 0 && q.ChainID != expect.ChainID {
		return fmt.Errorf("quote chain %d does not match %d", q.ChainID, expect.ChainID)
	}

	if expect.RecipientChainID != 0 && q.RecipientChainID != expect.RecipientChainID {
		return fmt.Errorf("quote recipient chain %d does not match %d", q.RecipientChainID, expect.RecipientChainID)
	}

	if expect.RecipientAssetID != "" && !strings.EqualFold(q.RecipientAssetID, expect.RecipientAssetID) {
		return fmt.Errorf("quote recipient asset %s does not match %s", q.RecipientAssetID, expect.RecipientAssetID)
	}

	if expect.Recipient != "" && !strings.EqualFold(q.Recipient, expect.Recipient) {
		return fmt.Errorf("quote recipient %s does not match %s", q.Recipient, expect.Recipient)
	}

	if fee.GreaterThan(amount) {
		return fmt.Errorf("quote fee %s exceeds amount %s", q.Fee, q.Amount)
	}

	expiry := time.UnixMilli(q.Expiry)
	if !now.Add(skew).Before(expiry) {
		return fmt.Errorf("quote expired at %s", expiry.UTC().Format(time.RFC3339))
	}

	return nil
}
