// Package risk implements the risk envelope (spec component H): a position
// sizer, a risk limits checker, a drawdown state machine, a capital manager
// facade composing the three, and supporting circuit breakers.
//
// Grounded on SynapseStrike/trader/auto_trader.go's enforceMaxPositions,
// enforcePositionValueRatio and enforceMinPositionSize, which already cap a
// proposed position against a handful of fixed ratios in a fixed order; this
// package generalizes that same floor-then-ceiling, check-then-cap shape
// into a standalone, dynamically configured component. Money math uses
// shopspring/decimal throughout, the teacher's declared dependency for
// exactly this purpose.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ksiaz/liquidation-trading-sub004/config"
	"github.com/ksiaz/liquidation-trading-sub004/logx"
)

var log = logx.Named("risk")

// Regime is the market regime a sizing request is made under.
type Regime string

const (
	RegimeSideways  Regime = "sideways"
	RegimeExpansion Regime = "expansion"
	RegimeDisabled  Regime = "disabled"
)

// SizingRequest carries every input to the position sizer.
type SizingRequest struct {
	Capital           decimal.Decimal
	EntryPrice        decimal.Decimal
	StopPrice         decimal.Decimal
	CurrentVolatility decimal.Decimal // zero means "unknown", skips the volatility scalar
	BaselineVolatility decimal.Decimal
	Regime            Regime
	EventType         string
	Symbol            string
}

// SizingResult is the sizer's output.
type SizingResult struct {
	RiskFraction decimal.Decimal
	RiskAmount   decimal.Decimal
	PositionSize decimal.Decimal // in units of the underlying, i.e. risk_amount / |entry-stop|
}

// Sizer implements §4.H.1: base risk-fraction sizing with volatility, event
// and regime scalars, a dynamic streak-driven risk fraction, and
// floor-then-ceiling capping.
type Sizer struct {
	cfg   config.RiskConfig
	event map[string]decimal.Decimal // event-type multiplier, default 1.0
	regime map[Regime]decimal.Decimal // regime scalar, disabled -> 0

	consecutiveWins   int
	consecutiveLosses int

	avgWin  decimal.Decimal
	avgLoss decimal.Decimal
	winRate decimal.Decimal
}

// NewSizer constructs a Sizer. eventMultipliers and regimeScalars may be nil;
// missing regime entries default to 1.0 except RegimeDisabled which is
// always 0 regardless of what is supplied.
func NewSizer(cfg config.RiskConfig, eventMultipliers map[string]decimal.Decimal, regimeScalars map[Regime]decimal.Decimal) (*Sizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("risk: new sizer: %w", err)
	}
	if eventMultipliers == nil {
		eventMultipliers = map[string]decimal.Decimal{}
	}
	if regimeScalars == nil {
		regimeScalars = map[Regime]decimal.Decimal{}
	}
	regimeScalars[RegimeDisabled] = decimal.Zero
	return &Sizer{cfg: cfg, event: eventMultipliers, regime: regimeScalars}, nil
}

// RecordTrade updates the win/loss streak the dynamic risk fraction reacts
// to, and a running average win/loss (avgWin/avgLoss). KellySize does not
// read these averages; it takes win rate and averages as arguments.
func (s *Sizer) RecordTrade(pnl decimal.Decimal) {
	if pnl.IsPositive() {
		s.consecutiveWins++
		s.consecutiveLosses = 0
		if s.avgWin.IsZero() {
			s.avgWin = pnl
		} else {
			s.avgWin = s.avgWin.Add(pnl).Div(decimal.NewFromInt(2))
		}
	} else if pnl.IsNegative() {
		s.consecutiveLosses++
		s.consecutiveWins = 0
		loss := pnl.Abs()
		if s.avgLoss.IsZero() {
			s.avgLoss = loss
		} else {
			s.avgLoss = s.avgLoss.Add(loss).Div(decimal.NewFromInt(2))
		}
	}
}

// riskFraction computes the dynamic risk fraction from recorded streaks
// (§4.H.1 Dynamic risk-fraction adjustment).
func (s *Sizer) riskFraction() decimal.Decimal {
	switch {
	case s.consecutiveWins >= s.cfg.WinStreakFor150Pct:
		return decimal.NewFromFloat(0.015)
	case s.consecutiveWins >= s.cfg.WinStreakFor125Pct:
		return decimal.NewFromFloat(0.0125)
	case s.consecutiveLosses >= s.cfg.LossStreakFor50Pct:
		return decimal.NewFromFloat(0.005)
	case s.consecutiveLosses >= s.cfg.LossStreakFor75Pct:
		return decimal.NewFromFloat(0.0075)
	case s.consecutiveLosses >= s.cfg.LossResetAfter:
		return decimal.NewFromFloat(s.cfg.DefaultRiskFraction)
	default:
		return decimal.NewFromFloat(s.cfg.DefaultRiskFraction)
	}
}

// Size computes a position size per §4.H.1: base formula, volatility/event/
// regime scalars, then floor-then-ceiling capping on the resulting risk
// fraction.
func (s *Sizer) Size(req SizingRequest) (SizingResult, error) {
	if !req.Capital.IsPositive() {
		return SizingResult{}, fmt.Errorf("risk: sizer: capital must be positive")
	}
	stopDistance := req.EntryPrice.Sub(req.StopPrice).Abs()
	if !stopDistance.IsPositive() {
		return SizingResult{}, fmt.Errorf("risk: sizer: stop distance must be positive")
	}

	fraction := s.riskFraction()

	if !req.CurrentVolatility.IsZero() && req.BaselineVolatility.IsPositive() {
		scalar := req.BaselineVolatility.Div(req.CurrentVolatility)
		scalar = clampDecimal(scalar, decimal.NewFromFloat(0.5), decimal.NewFromFloat(2.0))
		fraction = fraction.Mul(scalar)
	}

	eventMult, ok := s.event[req.EventType]
	if !ok {
		eventMult = decimal.NewFromInt(1)
	}
	fraction = fraction.Mul(eventMult)

	regimeScalar, ok := s.regime[req.Regime]
	if !ok {
		if req.Regime == RegimeDisabled {
			regimeScalar = decimal.Zero
		} else {
			regimeScalar = decimal.NewFromInt(1)
		}
	}
	fraction = fraction.Mul(regimeScalar)

	floor := decimal.NewFromFloat(s.cfg.RiskFloor)
	ceiling := decimal.NewFromFloat(s.cfg.RiskCeiling)
	if fraction.IsPositive() && fraction.LessThan(floor) {
		fraction = floor
	}
	if fraction.GreaterThan(ceiling) {
		fraction = ceiling
	}

	riskAmount := req.Capital.Mul(fraction)
	positionSize := riskAmount.Div(stopDistance)

	return SizingResult{RiskFraction: fraction, RiskAmount: riskAmount, PositionSize: positionSize}, nil
}

// KellySize computes the fractional-Kelly alternative sizing (§4.H.1 Kelly
// alternative): f = (p*b - q)/b, scaled by the fractional-Kelly multiplier
// and clamped to [0, max risk].
func (s *Sizer) KellySize(capital, winRate, avgWin, avgLoss decimal.Decimal) (SizingResult, error) {
	if !capital.IsPositive() {
		return SizingResult{}, fmt.Errorf("risk: kelly: capital must be positive")
	}
	if !avgLoss.IsPositive() {
		return SizingResult{}, fmt.Errorf("risk: kelly: average loss must be positive")
	}
	b := avgWin.Div(avgLoss)
	p := winRate
	q := decimal.NewFromInt(1).Sub(p)
	f := p.Mul(b).Sub(q).Div(b)
	f = f.Mul(decimal.NewFromFloat(s.cfg.KellyFraction))
	f = clampDecimal(f, decimal.Zero, decimal.NewFromFloat(s.cfg.RiskCeiling))

	riskAmount := capital.Mul(f)
	return SizingResult{RiskFraction: f, RiskAmount: riskAmount}, nil
}

func clampDecimal(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
