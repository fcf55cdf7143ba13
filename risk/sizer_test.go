package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ksiaz/liquidation-trading-sub004/config"
)

func TestSizeFloorThenCeiling(t *testing.T) {
	cfg := config.DefaultRiskConfig()
	sizer, err := NewSizer(cfg,
		map[string]decimal.Decimal{"cascade_exhaustion": decimal.NewFromFloat(0.5)},
		map[Regime]decimal.Decimal{RegimeExpansion: decimal.NewFromFloat(0.75)},
	)
	require.NoError(t, err)

	result, err := sizer.Size(SizingRequest{
		Capital:    decimal.NewFromInt(10000),
		EntryPrice: decimal.NewFromInt(50000),
		StopPrice:  decimal.NewFromInt(49500),
		Regime:     RegimeExpansion,
		EventType:  "cascade_exhaustion",
	})
	require.NoError(t, err)

	// 1% * 0.75 * 0.5 = 0.375%, above the 0.3% floor so no scale-up.
	require.True(t, result.RiskFraction.Equal(decimal.NewFromFloat(0.00375)), "got %s", result.RiskFraction)
	require.True(t, result.RiskAmount.Equal(decimal.NewFromFloat(37.5)), "got %s", result.RiskAmount)
	require.InDelta(t, 0.075, result.PositionSize.InexactFloat64(), 1e-9)
}

func TestSizeFloorScalesUpWithoutCeilingReapplying(t *testing.T) {
	cfg := config.DefaultRiskConfig()
	cfg.RiskFloor = 0.01
	cfg.RiskCeiling = 0.02
	sizer, err := NewSizer(cfg, nil, map[Regime]decimal.Decimal{RegimeExpansion: decimal.NewFromFloat(0.75)})
	require.NoError(t, err)

	result, err := sizer.Size(SizingRequest{
		Capital:    decimal.NewFromInt(10000),
		EntryPrice: decimal.NewFromInt(50000),
		StopPrice:  decimal.NewFromInt(49500),
		Regime:     RegimeExpansion,
	})
	require.NoError(t, err)
	require.True(t, result.RiskFraction.Equal(decimal.NewFromFloat(0.01)), "floor should scale up to 1%% without the ceiling re-capping, got %s", result.RiskFraction)
}

func TestSizeRegimeDisabledAlwaysZeroesRiskFraction(t *testing.T) {
	cfg := config.DefaultRiskConfig()
	sizer, err := NewSizer(cfg, nil, nil)
	require.NoError(t, err)

	result, err := sizer.Size(SizingRequest{
		Capital: decimal.NewFromInt(10000), EntryPrice: decimal.NewFromInt(100), StopPrice: decimal.NewFromInt(99),
		Regime: RegimeDisabled,
	})
	require.NoError(t, err)
	require.True(t, result.RiskFraction.IsZero())
}

func TestSizeRejectsNonPositiveCapitalAndZeroStopDistance(t *testing.T) {
	cfg := config.DefaultRiskConfig()
	sizer, err := NewSizer(cfg, nil, nil)
	require.NoError(t, err)

	_, err = sizer.Size(SizingRequest{Capital: decimal.Zero, EntryPrice: decimal.NewFromInt(100), StopPrice: decimal.NewFromInt(99), Regime: RegimeSideways})
	require.Error(t, err)

	_, err = sizer.Size(SizingRequest{Capital: decimal.NewFromInt(100), EntryPrice: decimal.NewFromInt(100), StopPrice: decimal.NewFromInt(100), Regime: RegimeSideways})
	require.Error(t, err)
}

func TestDynamicRiskFractionFollowsWinLossStreaks(t *testing.T) {
	cfg := config.DefaultRiskConfig()
	sizer, err := NewSizer(cfg, nil, nil)
	require.NoError(t, err)

	require.True(t, sizer.riskFraction().Equal(decimal.NewFromFloat(cfg.DefaultRiskFraction)))

	sizer.RecordTrade(decimal.NewFromInt(10))
	sizer.RecordTrade(decimal.NewFromInt(10))
	sizer.RecordTrade(decimal.NewFromInt(10))
	require.True(t, sizer.riskFraction().Equal(decimal.NewFromFloat(0.0125)), "3 wins -> 1.25%%")

	sizer.RecordTrade(decimal.NewFromInt(10))
	sizer.RecordTrade(decimal.NewFromInt(10))
	require.True(t, sizer.riskFraction().Equal(decimal.NewFromFloat(0.015)), "5 wins -> 1.5%%")

	sizer.RecordTrade(decimal.NewFromInt(-10))
	require.True(t, sizer.riskFraction().Equal(decimal.NewFromFloat(cfg.DefaultRiskFraction)), "1 loss resets to default")

	sizer.RecordTrade(decimal.NewFromInt(-10))
	require.True(t, sizer.riskFraction().Equal(decimal.NewFromFloat(0.0075)), "2 losses -> 0.75%%")

	sizer.RecordTrade(decimal.NewFromInt(-10))
	sizer.RecordTrade(decimal.NewFromInt(-10))
	require.True(t, sizer.riskFraction().Equal(decimal.NewFromFloat(0.005)), "4 losses -> 0.5%%")
}

func TestKellySizeClampsToMaxRisk(t *testing.T) {
	cfg := config.DefaultRiskConfig()
	cfg.KellyFraction = 1.0 // disable the fractional scaling so the clamp is what is under test
	sizer, err := NewSizer(cfg, nil, nil)
	require.NoError(t, err)

	// p=0.9, b=avg_win/avg_loss=3 -> f=(0.9*3-0.1)/3 = 0.8667, clamps to the 2% ceiling.
	result, err := sizer.KellySize(decimal.NewFromInt(10000), decimal.NewFromFloat(0.9), decimal.NewFromInt(30), decimal.NewFromInt(10))
	require.NoError(t, err)
	require.True(t, result.RiskFraction.Equal(decimal.NewFromFloat(cfg.RiskCeiling)))
}

func TestKellySizeRejectsZeroAverageLoss(t *testing.T) {
	cfg := config.DefaultRiskConfig()
	sizer, err := NewSizer(cfg, nil, nil)
	require.NoError(t, err)

	_, err = sizer.KellySize(decimal.NewFromInt(10000), decimal.NewFromFloat(0.5), decimal.NewFromInt(10), decimal.Zero)
	require.Error(t, err)
}
