package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ksiaz/liquidation-trading-sub004/config"
)

func TestCheckRejectsCorrelatedExposureWithExactAdjustedSize(t *testing.T) {
	cfg := config.DefaultRiskConfig()
	cfg.MaxConcurrentPositions = 10 // isolate the exposure checks from the concurrency limit
	checker, err := NewLimitsChecker(cfg)
	require.NoError(t, err)

	checker.AddPosition(OpenPosition{Symbol: "ETH", Value: decimal.NewFromInt(500)})
	checker.SetCorrelation("BTC", "ETH", decimal.NewFromFloat(0.85))

	capital := decimal.NewFromInt(10000)
	result := checker.Check(capital, OpenPosition{Symbol: "BTC", Value: decimal.NewFromInt(600)})

	require.False(t, result.Approved)
	require.Equal(t, "CORRELATED_EXPOSURE_EXCEEDED", result.Reason)
	require.True(t, result.AdjustedSize.Equal(decimal.NewFromInt(200)), "got %s", result.AdjustedSize)
}

func TestCheckApprovesWithinAllLimits(t *testing.T) {
	cfg := config.DefaultRiskConfig()
	checker, err := NewLimitsChecker(cfg)
	require.NoError(t, err)

	capital := decimal.NewFromInt(10000)
	result := checker.Check(capital, OpenPosition{Symbol: "BTC", Value: decimal.NewFromInt(100), StopDistanceFrac: decimal.NewFromFloat(0.01)})
	require.True(t, result.Approved)
}

func TestCheckRejectsMaxConcurrentPositions(t *testing.T) {
	cfg := config.DefaultRiskConfig() // default max concurrent = 1
	checker, err := NewLimitsChecker(cfg)
	require.NoError(t, err)

	checker.AddPosition(OpenPosition{Symbol: "ETH", Value: decimal.NewFromInt(100)})
	capital := decimal.NewFromInt(10000)
	result := checker.Check(capital, OpenPosition{Symbol: "BTC", Value: decimal.NewFromInt(50)})
	require.False(t, result.Approved)
	require.Equal(t, "MAX_CONCURRENT_POSITIONS_EXCEEDED", result.Reason)
}

func TestCheckRejectsPortfolioHeatExceeded(t *testing.T) {
	cfg := config.DefaultRiskConfig()
	cfg.MaxConcurrentPositions = 10
	cfg.MaxPerSymbolPctOfCapital = 1.0
	cfg.MaxAggregatePctOfCapital = 1.0
	cfg.MaxCorrelatedPctOfCapital = 1.0
	// value 2000 * stop-distance-frac 0.1 = heat 200, which is 2% of capital,
	// below the default 10% cap on its own but the check must still fire
	// once the cap is tightened below that.
	cfg.MaxPortfolioHeat = 0.01
	checker, err := NewLimitsChecker(cfg)
	require.NoError(t, err)

	capital := decimal.NewFromInt(10000)
	result := checker.Check(capital, OpenPosition{Symbol: "BTC", Value: decimal.NewFromInt(2000), StopDistanceFrac: decimal.NewFromFloat(0.1)})
	require.False(t, result.Approved)
	require.Equal(t, "PORTFOLIO_HEAT_EXCEEDED", result.Reason)
}

func TestDropPositionFreesExposure(t *testing.T) {
	cfg := config.DefaultRiskConfig()
	cfg.MaxConcurrentPositions = 1
	checker, err := NewLimitsChecker(cfg)
	require.NoError(t, err)

	checker.AddPosition(OpenPosition{Symbol: "ETH", Value: decimal.NewFromInt(100)})
	checker.DropPosition("ETH")

	capital := decimal.NewFromInt(10000)
	result := checker.Check(capital, OpenPosition{Symbol: "BTC", Value: decimal.NewFromInt(50)})
	require.True(t, result.Approved)
}
