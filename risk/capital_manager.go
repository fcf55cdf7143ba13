package risk

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ksiaz/liquidation-trading-sub004/config"
	"github.com/ksiaz/liquidation-trading-sub004/metrics"
)

// Decision is the outcome enum carried by every TradeApproval (§6 Downstream
// produced, trade-approval objects).
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
)

// TradeRequest is the input to validate_trade.
type TradeRequest struct {
	Symbol            string
	EntryPrice        decimal.Decimal
	StopPrice         decimal.Decimal
	CurrentVolatility decimal.Decimal
	BaselineVolatility decimal.Decimal
	Regime            Regime
	EventType         string
}

// TradeApproval is what validate_trade returns: always non-nil, the
// Decision field tells the caller whether it was approved.
type TradeApproval struct {
	Decision     Decision
	Size         decimal.Decimal
	Notional     decimal.Decimal
	RiskAmount   decimal.Decimal
	RiskFraction decimal.Decimal
	Reasons      []string
	Detail       map[string]interface{}
}

func rejected(reason string, detail map[string]interface{}) TradeApproval {
	if detail == nil {
		detail = map[string]interface{}{}
	}
	metrics.IncRiskRejection(reason)
	return TradeApproval{Decision: DecisionRejected, Reasons: []string{reason}, Detail: detail}
}

// CapitalManager is the facade composing the sizer, limits checker and
// drawdown tracker into validate_trade/record_trade_result (§4.H.4). Each
// trading account owns its own instance; no state is shared across
// instances (§5 Shared resources).
type CapitalManager struct {
	// mu guards every field below and is held for the full duration of
	// ValidateTrade/RecordTradeResult/ForceResetDrawdown (§5 Shared
	// resources: record_trade_result invokes drawdown checks that may
	// re-query sizer state). Go's sync.Mutex has no recursive variant, so
	// the reentrancy the spec calls for is achieved the idiomatic-Go way
	// instead: the lock is acquired once at each public entry point and
	// every internal call beneath it operates on already-held state,
	// never re-entering through another CapitalManager method.
	mu sync.Mutex

	account     string
	capital     decimal.Decimal
	sizer       *Sizer
	limits      *LimitsChecker
	drawdown    *DrawdownTracker
	degradation *DegradationManager
	overrideLog *OverrideLog
}

// WithOverrideLog attaches an audit trail for administrative drawdown
// overrides (§4.H.3's force-override hook). Optional: a CapitalManager
// with no log still force-resets, it just has nothing to audit to.
func (cm *CapitalManager) WithOverrideLog(l *OverrideLog) *CapitalManager {
	cm.overrideLog = l
	return cm
}

// ForceResetDrawdown is the administrative override entry point: it
// audits the prior state/reason to the override log (when attached) before
// delegating to the drawdown tracker's own reset.
func (cm *CapitalManager) ForceResetDrawdown(operator string, ts int64) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	priorState, priorReason := cm.drawdown.State(), cm.drawdown.Reason()
	if cm.overrideLog != nil {
		if err := cm.overrideLog.Record(cm.account, operator, priorState, priorReason, ts); err != nil {
			return err
		}
	}
	cm.drawdown.ForceReset(operator)
	metrics.SetDrawdownState(cm.account, drawdownStateCode(cm.drawdown.State()))
	return nil
}

// NewCapitalManager constructs a CapitalManager for one trading account
// starting with the given capital. account identifies the account in
// metrics and logs only; no state is shared across instances (§5 Shared
// resources).
func NewCapitalManager(account string, cfg config.RiskConfig, startingCapital decimal.Decimal, eventMultipliers map[string]decimal.Decimal, regimeScalars map[Regime]decimal.Decimal) (*CapitalManager, error) {
	sizer, err := NewSizer(cfg, eventMultipliers, regimeScalars)
	if err != nil {
		return nil, err
	}
	limits, err := NewLimitsChecker(cfg)
	if err != nil {
		return nil, err
	}
	drawdown, err := NewDrawdownTracker(cfg, startingCapital)
	if err != nil {
		return nil, err
	}
	degradation := NewDegradationManager(cfg.DegradationMinDwellCycles)
	return &CapitalManager{
		account: account, capital: startingCapital, sizer: sizer, limits: limits,
		drawdown: drawdown, degradation: degradation,
	}, nil
}

func (cm *CapitalManager) Drawdown() *DrawdownTracker       { return cm.drawdown }
func (cm *CapitalManager) Limits() *LimitsChecker           { return cm.limits }
func (cm *CapitalManager) Sizer() *Sizer                    { return cm.sizer }
func (cm *CapitalManager) Degradation() *DegradationManager { return cm.degradation }

// ValidateTrade runs the eight-step pipeline from §4.H.4, with the
// degradation gate from §4.H.5 inserted ahead of it.
func (cm *CapitalManager) ValidateTrade(req TradeRequest) TradeApproval {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	// Step 1: circuit breaker / degradation gate. A breaker tripped to
	// EMERGENCY or SHUTDOWN blocks trading outright (§4.H.5, §7 Safety);
	// REDUCED still flows through to the drawdown/sizer pipeline below.
	level := cm.degradation.Evaluate()
	if level == DegradationEmergency || level == DegradationShutdown {
		return rejected("DEGRADATION_"+string(level), map[string]interface{}{"level": string(level)})
	}

	// Step 2: drawdown gate.
	if !cm.drawdown.Allowed() {
		return rejected("DRAWDOWN_"+string(cm.drawdown.State()), map[string]interface{}{
			"state": string(cm.drawdown.State()), "reason": string(cm.drawdown.Reason()),
		})
	}

	// Step 3: disabled regime always rejects.
	if req.Regime == RegimeDisabled {
		return rejected("REGIME_DISABLED", nil)
	}

	// Step 4: price validity.
	if !req.EntryPrice.IsPositive() || !req.StopPrice.IsPositive() || req.EntryPrice.Equal(req.StopPrice) {
		return rejected("INVALID_PRICE_INPUTS", nil)
	}

	// Step 5: base size from the sizer, scaled by the drawdown size
	// multiplier.
	sizing, err := cm.sizer.Size(SizingRequest{
		Capital: cm.capital, EntryPrice: req.EntryPrice, StopPrice: req.StopPrice,
		CurrentVolatility: req.CurrentVolatility, BaselineVolatility: req.BaselineVolatility,
		Regime: req.Regime, EventType: req.EventType, Symbol: req.Symbol,
	})
	if err != nil {
		return rejected("SIZER_ERROR", map[string]interface{}{"error": err.Error()})
	}
	multiplier := cm.drawdown.SizeMultiplier()
	size := sizing.PositionSize.Mul(multiplier)
	riskAmount := sizing.RiskAmount.Mul(multiplier)

	// Step 6: non-positive size rejects.
	if !size.IsPositive() {
		return rejected("ZERO_SIZE_AFTER_DRAWDOWN_SCALING", map[string]interface{}{"multiplier": multiplier.String()})
	}

	notional := size.Mul(req.EntryPrice)
	stopDistanceFrac := req.EntryPrice.Sub(req.StopPrice).Abs().Div(req.EntryPrice)

	// Step 7: limits checker, with adjusted-size fallback.
	check := cm.limits.Check(cm.capital, OpenPosition{Symbol: req.Symbol, Value: notional, StopDistanceFrac: stopDistanceFrac})
	reasons := []string{}
	if !check.Approved {
		if check.AdjustedSize.IsPositive() {
			notional = check.AdjustedSize
			size = notional.Div(req.EntryPrice)
			riskAmount = size.Mul(req.EntryPrice.Sub(req.StopPrice).Abs())
			reasons = append(reasons, "size adjusted: "+check.Reason)
		} else {
			return rejected(check.Reason, map[string]interface{}{"adjusted_size": check.AdjustedSize.String()})
		}
	}

	cm.limits.AddPosition(OpenPosition{Symbol: req.Symbol, Value: notional, StopDistanceFrac: stopDistanceFrac})

	// Step 8: approval.
	return TradeApproval{
		Decision:     DecisionApproved,
		Size:         size,
		Notional:     notional,
		RiskAmount:   riskAmount,
		RiskFraction: sizing.RiskFraction,
		Reasons:      reasons,
		Detail:       map[string]interface{}{},
	}
}

// RecordTradeResult updates capital, forwards to the drawdown tracker,
// updates sizer streaks and drops the position from the limits checker
// (§4.H.4).
func (cm *CapitalManager) RecordTradeResult(pnl decimal.Decimal, symbol string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.capital = cm.capital.Add(pnl)
	cm.drawdown.RecordTrade(pnl)
	cm.sizer.RecordTrade(pnl)
	cm.limits.DropPosition(symbol)
	metrics.SetDrawdownState(cm.account, drawdownStateCode(cm.drawdown.State()))
}

func drawdownStateCode(s DrawdownState) int {
	switch s {
	case StateNormal:
		return 0
	case StateWarning:
		return 1
	case StateReducedRisk:
		return 2
	case StateDailyCooldown:
		return 3
	case StateWeeklyCooldown:
		return 4
	case StateMaximumDrawdown:
		return 5
	default:
		return -1
	}
}
