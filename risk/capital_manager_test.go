package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ksiaz/liquidation-trading-sub004/config"
)

func newTestCapitalManager(t *testing.T) *CapitalManager {
	t.Helper()
	cm, err := NewCapitalManager("test-account", config.DefaultRiskConfig(), decimal.NewFromInt(10000), nil,
		map[Regime]decimal.Decimal{RegimeExpansion: decimal.NewFromFloat(0.75)})
	require.NoError(t, err)
	return cm
}

func TestValidateTradeRegimeDisabledAlwaysRejects(t *testing.T) {
	cm := newTestCapitalManager(t)
	approval := cm.ValidateTrade(TradeRequest{Symbol: "BTC", EntryPrice: decimal.NewFromInt(100), StopPrice: decimal.NewFromInt(99), Regime: RegimeDisabled})
	require.Equal(t, DecisionRejected, approval.Decision)
	require.Contains(t, approval.Reasons, "REGIME_DISABLED")
}

func TestValidateTradeRejectsInDailyCooldownState(t *testing.T) {
	cm := newTestCapitalManager(t)
	for i := 0; i < 10; i++ {
		cm.RecordTradeResult(decimal.NewFromInt(-50), "BTC")
	}
	require.Equal(t, StateDailyCooldown, cm.Drawdown().State())

	approval := cm.ValidateTrade(TradeRequest{Symbol: "BTC", EntryPrice: decimal.NewFromInt(100), StopPrice: decimal.NewFromInt(99), Regime: RegimeSideways})
	require.Equal(t, DecisionRejected, approval.Decision)
}

func TestValidateTradeRejectsInvalidPriceInputs(t *testing.T) {
	cm := newTestCapitalManager(t)
	approval := cm.ValidateTrade(TradeRequest{Symbol: "BTC", EntryPrice: decimal.Zero, StopPrice: decimal.NewFromInt(99), Regime: RegimeSideways})
	require.Equal(t, DecisionRejected, approval.Decision)
	require.Contains(t, approval.Reasons, "INVALID_PRICE_INPUTS")
}

func TestValidateTradeApprovesAndRecordTradeResultFreesExposure(t *testing.T) {
	cm := newTestCapitalManager(t)
	approval := cm.ValidateTrade(TradeRequest{
		Symbol: "BTC", EntryPrice: decimal.NewFromInt(50000), StopPrice: decimal.NewFromInt(49500), Regime: RegimeExpansion,
	})
	require.Equal(t, DecisionApproved, approval.Decision)
	require.True(t, approval.Size.IsPositive())

	// Concurrency is capped at the default of 1; a second symbol must be
	// rejected until the first is dropped by record_trade_result.
	second := cm.ValidateTrade(TradeRequest{Symbol: "ETH", EntryPrice: decimal.NewFromInt(3000), StopPrice: decimal.NewFromInt(2970), Regime: RegimeExpansion})
	require.Equal(t, DecisionRejected, second.Decision)

	cm.RecordTradeResult(decimal.NewFromInt(10), "BTC")
	third := cm.ValidateTrade(TradeRequest{Symbol: "ETH", EntryPrice: decimal.NewFromInt(3000), StopPrice: decimal.NewFromInt(2970), Regime: RegimeExpansion})
	require.Equal(t, DecisionApproved, third.Decision)
}
