package commission_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnavi/commission-engine/commission"
)

func rates(overall, connector string) commission.RateConfig {
	return commission.RateConfig{
		OverallRate:   decimal.RequireFromString(overall),
		ConnectorRate: decimal.RequireFromString(connector),
	}
}

// =============================================================================
// SPLIT CALCULATOR TESTS
// =============================================================================

func TestComputeSplit_ReferenceExample(t *testing.T) {
	// GIVEN: 100,000 yen base at 15% overall / 5% connector
	// THEN: connector 5,000 / agency 10,000 / platform 85,000

	split, err := commission.ComputeSplit(100_000, rates("0.15", "0.05"))
	require.NoError(t, err)

	assert.Equal(t, int64(5_000), split.ConnectorJPY)
	assert.Equal(t, int64(10_000), split.AgencyJPY)
	assert.Equal(t, int64(85_000), split.PlatformJPY)
	assert.Equal(t, int64(100_000), split.Total())
}

func TestComputeSplit_FloorRoundingGoesToPlatform(t *testing.T) {
	// GIVEN: 333 yen base at 15%/5%, where both partner shares round down
	// THEN: connector floor(16.65)=16, agency floor(33.3)=33, platform
	//       absorbs the remainder exactly

	split, err := commission.ComputeSplit(333, rates("0.15", "0.05"))
	require.NoError(t, err)

	assert.Equal(t, int64(16), split.ConnectorJPY)
	assert.Equal(t, int64(33), split.AgencyJPY)
	assert.Equal(t, int64(284), split.PlatformJPY)
	assert.Equal(t, int64(333), split.Total())
}

func TestComputeSplit_SumInvariantAcrossBases(t *testing.T) {
	// The three shares must sum to the base for any input.
	cfg := rates("0.15", "0.05")

	for _, base := range []int64{0, 1, 2, 99, 100, 333, 4_999, 5_000, 123_456_789} {
		split, err := commission.ComputeSplit(base, cfg)
		require.NoError(t, err)

		assert.Equal(t, base, split.Total(), "base %d", base)
		assert.GreaterOrEqual(t, split.ConnectorJPY, int64(0))
		assert.GreaterOrEqual(t, split.AgencyJPY, int64(0))
		assert.GreaterOrEqual(t, split.PlatformJPY, int64(0))
	}
}

func TestComputeSplit_MonotonicInBase(t *testing.T) {
	// Growing the base under fixed rates never shrinks a share. The
	// partner amounts are floors of linear functions, so they hold this
	// yen by yen. The platform remainder can give back a single yen on
	// the exact step where both partner floors tick together (19 -> 20
	// at 15%/5%: platform 18 -> 17), so it is checked across coarser
	// increases, where the remainder growth dominates the rounding.
	cfg := rates("0.15", "0.05")

	prev, err := commission.ComputeSplit(0, cfg)
	require.NoError(t, err)
	for base := int64(1); base <= 2_000; base++ {
		split, err := commission.ComputeSplit(base, cfg)
		require.NoError(t, err)

		assert.GreaterOrEqual(t, split.ConnectorJPY, prev.ConnectorJPY, "base %d", base)
		assert.GreaterOrEqual(t, split.AgencyJPY, prev.AgencyJPY, "base %d", base)
		prev = split
	}

	prev, err = commission.ComputeSplit(0, cfg)
	require.NoError(t, err)
	for _, base := range []int64{100, 333, 4_999, 99_999, 123_456_789} {
		split, err := commission.ComputeSplit(base, cfg)
		require.NoError(t, err)

		assert.GreaterOrEqual(t, split.ConnectorJPY, prev.ConnectorJPY, "base %d", base)
		assert.GreaterOrEqual(t, split.AgencyJPY, prev.AgencyJPY, "base %d", base)
		assert.GreaterOrEqual(t, split.PlatformJPY, prev.PlatformJPY, "base %d", base)
		prev = split
	}
}

func TestComputeSplit_ZeroBase(t *testing.T) {
	split, err := commission.ComputeSplit(0, rates("0.15", "0.05"))
	require.NoError(t, err)
	assert.Equal(t, commission.Split{}, split)
}

func TestComputeSplit_ConnectorEqualsOverall(t *testing.T) {
	// Connector rate at the overall ceiling leaves the agency with zero.
	split, err := commission.ComputeSplit(10_000, rates("0.15", "0.15"))
	require.NoError(t, err)

	assert.Equal(t, int64(1_500), split.ConnectorJPY)
	assert.Equal(t, int64(0), split.AgencyJPY)
	assert.Equal(t, int64(8_500), split.PlatformJPY)
}

func TestComputeSplit_FullRate(t *testing.T) {
	// overall=1.0 pays everything out; platform keeps zero.
	split, err := commission.ComputeSplit(10_000, rates("1", "0.4"))
	require.NoError(t, err)

	assert.Equal(t, int64(4_000), split.ConnectorJPY)
	assert.Equal(t, int64(6_000), split.AgencyJPY)
	assert.Equal(t, int64(0), split.PlatformJPY)
}

func TestComputeSplit_NegativeBaseRejected(t *testing.T) {
	_, err := commission.ComputeSplit(-1, rates("0.15", "0.05"))
	assert.ErrorIs(t, err, commission.ErrInvalidAmount)
}

// =============================================================================
// RATE VALIDATION TESTS
// =============================================================================

func TestRateConfig_Validate(t *testing.T) {
	cases := []struct {
		name      string
		overall   string
		connector string
		wantErr   bool
	}{
		{"defaults", "0.15", "0.05", false},
		{"zero rates", "0", "0", false},
		{"connector equals overall", "0.2", "0.2", false},
		{"full overall", "1", "0.5", false},
		{"connector above overall", "0.15", "0.2", true},
		{"negative overall", "-0.1", "0", true},
		{"negative connector", "0.15", "-0.01", true},
		{"overall above one", "1.01", "0.05", true},
		{"connector above one", "1", "1.01", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := rates(tc.overall, tc.connector).Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, commission.ErrInvalidRateConfiguration)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRateConfig_AgencyRateIsResidual(t *testing.T) {
	cfg := rates("0.15", "0.05")
	assert.True(t, cfg.AgencyRate().Equal(decimal.RequireFromString("0.10")),
		"agency rate should be overall minus connector, got %s", cfg.AgencyRate())
}

func TestDefaultSettings(t *testing.T) {
	s := commission.DefaultSettings()
	assert.Equal(t, int64(5000), s.MinPayoutJPY)
	assert.NoError(t, s.Rates.Validate())
	assert.True(t, s.Rates.OverallRate.Equal(decimal.RequireFromString("0.15")))
	assert.True(t, s.Rates.ConnectorRate.Equal(decimal.RequireFromString("0.05")))
}
