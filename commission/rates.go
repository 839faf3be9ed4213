/*
rates.go - Commission rate configuration

PURPOSE:
  Holds the two fractional rates the allocation calculator runs on:
  the overall commission rate and the connector sub-rate. The connector
  rate is an inner share of the overall rate (subtractive semantics):

    connector reward = base x connectorRate
    agency reward    = base x (overallRate - connectorRate)

  An earlier design treated the two rates as independent, which let the
  combined payout exceed the configured total. That variant is
  deliberately not supported: Validate rejects connectorRate > overallRate.

SNAPSHOTS:
  Every transaction stores the RateConfig in effect at finalization.
  Changing rates later never recalculates past transactions.

SEE ALSO:
  - split.go: consumes RateConfig
  - store.go: Settings persistence
*/
package commission

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RATE CONFIG
// =============================================================================

// RateConfig is the singleton pair of fractional rates, mutable only by
// the operator.
type RateConfig struct {
	// OverallRate is the combined partner share of the base amount,
	// in [0,1]. Example: 0.15 means partners split 15%.
	OverallRate decimal.Decimal

	// ConnectorRate is the connector's share, in [0,1], and must not
	// exceed OverallRate. The agency receives the residual.
	ConnectorRate decimal.Decimal
}

var one = decimal.NewFromInt(1)

// Validate enforces range and ordering of the two rates.
func (rc RateConfig) Validate() error {
	if rc.OverallRate.IsNegative() || rc.OverallRate.GreaterThan(one) {
		return fmt.Errorf("overall rate %s out of [0,1]: %w", rc.OverallRate, ErrInvalidRateConfiguration)
	}
	if rc.ConnectorRate.IsNegative() || rc.ConnectorRate.GreaterThan(one) {
		return fmt.Errorf("connector rate %s out of [0,1]: %w", rc.ConnectorRate, ErrInvalidRateConfiguration)
	}
	if rc.ConnectorRate.GreaterThan(rc.OverallRate) {
		return fmt.Errorf("connector rate %s exceeds overall rate %s: %w",
			rc.ConnectorRate, rc.OverallRate, ErrInvalidRateConfiguration)
	}
	return nil
}

// AgencyRate is the agency's residual share: overall minus connector.
func (rc RateConfig) AgencyRate() decimal.Decimal {
	return rc.OverallRate.Sub(rc.ConnectorRate)
}

// =============================================================================
// SETTINGS - Singleton system configuration
// =============================================================================

// Settings is the persisted singleton: payout threshold plus rates.
type Settings struct {
	MinPayoutJPY int64
	Rates        RateConfig
}

// DefaultSettings returns the stock configuration: 5,000 yen minimum
// payout, 15% overall with a 5% connector sub-rate.
func DefaultSettings() Settings {
	return Settings{
		MinPayoutJPY: 5000,
		Rates: RateConfig{
			OverallRate:   decimal.NewFromFloat(0.15),
			ConnectorRate: decimal.NewFromFloat(0.05),
		},
	}
}
