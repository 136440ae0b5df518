// Package platform holds the ledger-wide platform configuration: the owner
// who receives fees and the fee percentage applied at distribution time.
package platform

import (
	"github.com/roach88/pulse/internal/ledger"
)

// MaxFeePercent is the highest platform fee the ledger accepts.
const MaxFeePercent = 10

// Config is the platform configuration of one ledger.
type Config struct {
	Owner      ledger.Participant `json:"owner"`
	FeePercent int                `json:"fee_percent"`
}

// ValidateFee checks pct against [0, MaxFeePercent].
func ValidateFee(pct int) error {
	if pct < 0 {
		return ledger.Errorf(ledger.ErrCodeInvalidArgument, "fee %d is negative", pct)
	}
	if pct > MaxFeePercent {
		return ledger.Errorf(ledger.ErrCodeInvalidArgument, "fee too high: %d > %d", pct, MaxFeePercent)
	}
	return nil
}

// New validates and builds the configuration written by ledger initialization.
func New(owner ledger.Participant, feePercent int) (Config, error) {
	if !owner.Valid() {
		return Config{}, ledger.Errorf(ledger.ErrCodeInvalidArgument, "owner is required")
	}
	if err := ValidateFee(feePercent); err != nil {
		return Config{}, err
	}
	return Config{Owner: owner, FeePercent: feePercent}, nil
}

// Fee returns the platform's share of pool at the configured percentage.
// Integer division truncates toward zero.
func (c Config) Fee(pool ledger.Amount) ledger.Amount {
	return Fee(pool, c.FeePercent)
}

// Fee returns pool * pct / 100 without overflowing for any pool and pct in
// [0, MaxFeePercent].
func Fee(pool ledger.Amount, pct int) ledger.Amount {
	p := ledger.Amount(pct)
	return (pool/100)*p + (pool%100)*p/100
}
