/*
split.go - The allocation calculator

PURPOSE:
  Pure function mapping (base amount, rates) to the three-way split:
  connector reward, agency reward, platform remainder.

ALGORITHM:
  connector = floor(base x connectorRate)
  agency    = floor(base x (overallRate - connectorRate))
  platform  = base - connector - agency

  The platform share is never computed independently: it is always the
  exact remainder, so the three amounts sum to the base by construction
  and floor-rounding loss is absorbed by the platform, never a partner.

EXAMPLE:
  base=100,000 overall=0.15 connector=0.05
    -> connector=5,000 agency=10,000 platform=85,000

  base=333 overall=0.15 connector=0.05
    -> connector=floor(16.65)=16 agency=floor(33.3)=33 platform=284

No side effects, deterministic, safe to call concurrently.

SEE ALSO:
  - rates.go: RateConfig validation
*/
package commission

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Split is the three-way division of a base amount. All values are
// non-negative integer yen and sum exactly to the input base.
type Split struct {
	ConnectorJPY int64
	AgencyJPY    int64
	PlatformJPY  int64
}

// Total returns the sum of the three shares.
func (s Split) Total() int64 {
	return s.ConnectorJPY + s.AgencyJPY + s.PlatformJPY
}

// ComputeSplit divides baseJPY between connector, agency, and platform.
// Fails with ErrInvalidAmount for a negative base and with
// ErrInvalidRateConfiguration when the rates violate their precondition.
func ComputeSplit(baseJPY int64, rates RateConfig) (Split, error) {
	if baseJPY < 0 {
		return Split{}, fmt.Errorf("base amount %d is negative: %w", baseJPY, ErrInvalidAmount)
	}
	if err := rates.Validate(); err != nil {
		return Split{}, err
	}

	base := decimal.NewFromInt(baseJPY)
	connector := base.Mul(rates.ConnectorRate).Floor().IntPart()
	agency := base.Mul(rates.AgencyRate()).Floor().IntPart()

	// Exact remainder; clamped to zero as a guard, though the floor
	// arithmetic above cannot push the partner total past the base.
	platform := baseJPY - connector - agency
	if platform < 0 {
		platform = 0
	}

	return Split{
		ConnectorJPY: connector,
		AgencyJPY:    agency,
		PlatformJPY:  platform,
	}, nil
}
