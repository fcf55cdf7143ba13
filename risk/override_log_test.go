package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ksiaz/liquidation-trading-sub004/config"
)

func TestForceResetDrawdownAuditsPriorState(t *testing.T) {
	logdb, err := OpenOverrideLog(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { logdb.Close() })

	cm, err := NewCapitalManager("acct-1", config.DefaultRiskConfig(), decimal.NewFromInt(10000), nil, nil)
	require.NoError(t, err)
	cm.WithOverrideLog(logdb)

	for i := 0; i < 10; i++ {
		cm.RecordTradeResult(decimal.NewFromInt(-50), "BTC")
	}
	require.Equal(t, StateDailyCooldown, cm.Drawdown().State())

	require.NoError(t, cm.ForceResetDrawdown("ops-oncall", 1234))
	require.Equal(t, StateNormal, cm.Drawdown().State())

	entries, err := logdb.ForAccount("acct-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "ops-oncall", entries[0].Operator)
	require.Equal(t, StateDailyCooldown, entries[0].PriorState)
	require.Equal(t, ReasonConsecutiveLosses, entries[0].PriorReason)
}
