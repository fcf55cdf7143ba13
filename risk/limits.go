package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ksiaz/liquidation-trading-sub004/config"
)

// OpenPosition is one currently-held position as tracked by the limits
// checker, used for aggregate, correlated-exposure and portfolio-heat math.
type OpenPosition struct {
	Symbol            string
	Value             decimal.Decimal // notional value
	StopDistanceFrac  decimal.Decimal // |entry-stop|/entry, used for portfolio heat
}

// LimitsCheckResult is the outcome of checking a proposed position against
// every limit.
type LimitsCheckResult struct {
	Approved     bool
	Reason       string
	AdjustedSize decimal.Decimal // only set when Approved is false and a smaller size would pass
}

// LimitsChecker implements §4.H.2: per-symbol, aggregate, correlated,
// concurrency and portfolio-heat limits against a capital figure and a set
// of currently open positions.
type LimitsChecker struct {
	cfg         config.RiskConfig
	positions   map[string]OpenPosition
	correlation map[[2]string]decimal.Decimal // symmetric; look up both orderings
}

// NewLimitsChecker constructs a LimitsChecker.
func NewLimitsChecker(cfg config.RiskConfig) (*LimitsChecker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("risk: new limits checker: %w", err)
	}
	return &LimitsChecker{
		cfg:         cfg,
		positions:   make(map[string]OpenPosition),
		correlation: make(map[[2]string]decimal.Decimal),
	}, nil
}

// SetCorrelation records the correlation coefficient between two symbols.
func (l *LimitsChecker) SetCorrelation(a, b string, corr decimal.Decimal) {
	l.correlation[[2]string{a, b}] = corr
	l.correlation[[2]string{b, a}] = corr
}

// AddPosition records a newly opened position so later checks see it as
// existing exposure.
func (l *LimitsChecker) AddPosition(pos OpenPosition) {
	l.positions[pos.Symbol] = pos
}

// DropPosition removes a closed position from tracked exposure.
func (l *LimitsChecker) DropPosition(symbol string) {
	delete(l.positions, symbol)
}

func (l *LimitsChecker) aggregateValue() decimal.Decimal {
	total := decimal.Zero
	for _, p := range l.positions {
		total = total.Add(p.Value)
	}
	return total
}

func (l *LimitsChecker) correlatedValue(symbol string) decimal.Decimal {
	total := decimal.Zero
	threshold := decimal.NewFromFloat(l.cfg.CorrelationThreshold)
	for sym, p := range l.positions {
		if sym == symbol {
			continue
		}
		corr, ok := l.correlation[[2]string{symbol, sym}]
		if ok && corr.GreaterThanOrEqual(threshold) {
			total = total.Add(p.Value)
		}
	}
	return total
}

func (l *LimitsChecker) portfolioHeat(extra OpenPosition, includeExtra bool) decimal.Decimal {
	heat := decimal.Zero
	for _, p := range l.positions {
		heat = heat.Add(p.Value.Mul(p.StopDistanceFrac))
	}
	if includeExtra {
		heat = heat.Add(extra.Value.Mul(extra.StopDistanceFrac))
	}
	return heat
}

// Check validates a proposed position against every limit (§4.H.2). On
// failure it also returns the maximum size that would pass all checks,
// computed as the minimum of the per-symbol, aggregate and correlated
// headrooms, as the spec's worked scenario 6 demonstrates.
func (l *LimitsChecker) Check(capital decimal.Decimal, proposed OpenPosition) LimitsCheckResult {
	if len(l.positions) >= l.cfg.MaxConcurrentPositions {
		if _, exists := l.positions[proposed.Symbol]; !exists {
			return LimitsCheckResult{Approved: false, Reason: "MAX_CONCURRENT_POSITIONS_EXCEEDED"}
		}
	}

	perSymbolMax := capital.Mul(decimal.NewFromFloat(l.cfg.MaxPerSymbolPctOfCapital))
	aggregateMax := capital.Mul(decimal.NewFromFloat(l.cfg.MaxAggregatePctOfCapital))
	correlatedMax := capital.Mul(decimal.NewFromFloat(l.cfg.MaxCorrelatedPctOfCapital))

	perSymbolHeadroom := perSymbolMax
	aggregateHeadroom := aggregateMax.Sub(l.aggregateValue())
	correlatedHeadroom := correlatedMax.Sub(l.correlatedValue(proposed.Symbol))

	type violation struct {
		reason   string
		headroom decimal.Decimal
	}
	var violated []violation
	if proposed.Value.GreaterThan(perSymbolMax) {
		violated = append(violated, violation{"PER_SYMBOL_LIMIT_EXCEEDED", perSymbolHeadroom})
	}
	if l.aggregateValue().Add(proposed.Value).GreaterThan(aggregateMax) {
		violated = append(violated, violation{"AGGREGATE_EXPOSURE_EXCEEDED", aggregateHeadroom})
	}
	if l.correlatedValue(proposed.Symbol).Add(proposed.Value).GreaterThan(correlatedMax) {
		violated = append(violated, violation{"CORRELATED_EXPOSURE_EXCEEDED", correlatedHeadroom})
	}

	// When more than one size-based limit is breached at once, report the
	// one whose headroom is tightest: that is also the binding constraint
	// on the adjusted size returned below.
	if len(violated) > 0 {
		tightest := violated[0]
		for _, v := range violated[1:] {
			if v.headroom.LessThan(tightest.headroom) {
				tightest = v
			}
		}
		return capped(perSymbolHeadroom, aggregateHeadroom, correlatedHeadroom, tightest.reason)
	}

	heatMax := capital.Mul(decimal.NewFromFloat(l.cfg.MaxPortfolioHeat))
	if l.portfolioHeat(proposed, true).GreaterThan(heatMax) {
		return capped(perSymbolHeadroom, aggregateHeadroom, correlatedHeadroom, "PORTFOLIO_HEAT_EXCEEDED")
	}

	return LimitsCheckResult{Approved: true}
}

func capped(perSymbol, aggregate, correlated decimal.Decimal, reason string) LimitsCheckResult {
	adjusted := minDecimal(perSymbol, minDecimal(aggregate, correlated))
	if adjusted.IsNegative() {
		adjusted = decimal.Zero
	}
	return LimitsCheckResult{Approved: false, Reason: reason, AdjustedSize: adjusted}
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
