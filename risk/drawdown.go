package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ksiaz/liquidation-trading-sub004/config"
)

// DrawdownState is the single source of truth for "is trading allowed".
type DrawdownState string

const (
	StateNormal           DrawdownState = "NORMAL"
	StateWarning          DrawdownState = "WARNING"
	StateDailyCooldown    DrawdownState = "DAILY_COOLDOWN"
	StateWeeklyCooldown   DrawdownState = "WEEKLY_COOLDOWN"
	StateReducedRisk      DrawdownState = "REDUCED_RISK"
	StateMaximumDrawdown  DrawdownState = "MAXIMUM_DRAWDOWN"
)

// CooldownReason distinguishes the two conditions that can put the tracker
// into DAILY_COOLDOWN, since only one of them is cleared by the calendar.
type CooldownReason string

const (
	ReasonNone              CooldownReason = ""
	ReasonDailyLoss         CooldownReason = "daily loss"
	ReasonConsecutiveLosses CooldownReason = "consecutive losses"
)

// DrawdownTracker implements §4.H.3: daily/weekly anchors, consecutive
// win/loss streaks, peak capital, and the state machine built on top of
// them.
type DrawdownTracker struct {
	cfg config.RiskConfig

	state  DrawdownState
	reason CooldownReason

	dailyAnchor  decimal.Decimal
	weeklyAnchor decimal.Decimal
	peakCapital  decimal.Decimal
	capital      decimal.Decimal

	consecutiveWins   int
	consecutiveLosses int
	recoveryWins      int
}

// NewDrawdownTracker constructs a tracker anchored at startingCapital.
func NewDrawdownTracker(cfg config.RiskConfig, startingCapital decimal.Decimal) (*DrawdownTracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("risk: new drawdown tracker: %w", err)
	}
	if !startingCapital.IsPositive() {
		return nil, fmt.Errorf("risk: new drawdown tracker: starting capital must be positive")
	}
	return &DrawdownTracker{
		cfg:          cfg,
		state:        StateNormal,
		dailyAnchor:  startingCapital,
		weeklyAnchor: startingCapital,
		peakCapital:  startingCapital,
		capital:      startingCapital,
	}, nil
}

func (d *DrawdownTracker) State() DrawdownState   { return d.state }
func (d *DrawdownTracker) Reason() CooldownReason { return d.reason }

// Allowed reports whether validate_trade may proceed (§4.H.4 step 1).
func (d *DrawdownTracker) Allowed() bool {
	return d.state != StateDailyCooldown && d.state != StateWeeklyCooldown
}

// SizeMultiplier is exposed to the capital manager (§4.H.3): 1.0 in
// NORMAL/WARNING, 0.5 in REDUCED_RISK, 0.25 in MAXIMUM_DRAWDOWN, 0 in either
// cooldown.
func (d *DrawdownTracker) SizeMultiplier() decimal.Decimal {
	switch d.state {
	case StateReducedRisk:
		return decimal.NewFromFloat(0.5)
	case StateMaximumDrawdown:
		return decimal.NewFromFloat(0.25)
	case StateDailyCooldown, StateWeeklyCooldown:
		return decimal.Zero
	default:
		return decimal.NewFromInt(1)
	}
}

func (d *DrawdownTracker) dailyLossPct() decimal.Decimal {
	if !d.dailyAnchor.IsPositive() {
		return decimal.Zero
	}
	return d.dailyAnchor.Sub(d.capital).Div(d.dailyAnchor)
}

func (d *DrawdownTracker) weeklyLossPct() decimal.Decimal {
	if !d.weeklyAnchor.IsPositive() {
		return decimal.Zero
	}
	return d.weeklyAnchor.Sub(d.capital).Div(d.weeklyAnchor)
}

func (d *DrawdownTracker) drawdownFromPeakPct() decimal.Decimal {
	if !d.peakCapital.IsPositive() {
		return decimal.Zero
	}
	return d.peakCapital.Sub(d.capital).Div(d.peakCapital)
}

// RecordTrade updates capital and streaks from a trade's pnl, then
// re-evaluates the state machine.
func (d *DrawdownTracker) RecordTrade(pnl decimal.Decimal) {
	d.capital = d.capital.Add(pnl)
	if d.capital.GreaterThan(d.peakCapital) {
		d.peakCapital = d.capital
	}

	if pnl.IsPositive() {
		d.consecutiveWins++
		d.consecutiveLosses = 0
		if d.state == StateReducedRisk {
			d.recoveryWins++
		}
		if d.state == StateDailyCooldown && d.reason == ReasonConsecutiveLosses {
			d.state = StateNormal
			d.reason = ReasonNone
		}
	} else if pnl.IsNegative() {
		d.consecutiveLosses++
		d.consecutiveWins = 0
		d.recoveryWins = 0
	}

	d.evaluate()
}

// evaluate runs the state machine transitions from §4.H.3 against current
// anchors, streaks and peak capital. MAXIMUM_DRAWDOWN takes precedence over
// every other state, in both directions.
func (d *DrawdownTracker) evaluate() {
	drawdown := d.drawdownFromPeakPct()
	maxDD := decimal.NewFromFloat(d.cfg.MaxDrawdownPct)
	recoveryDD := decimal.NewFromFloat(d.cfg.MaxDrawdownRecoveryPct)

	if d.state == StateMaximumDrawdown {
		if drawdown.LessThan(recoveryDD) {
			d.state = StateNormal
			d.reason = ReasonNone
		}
		return
	}
	if drawdown.GreaterThan(maxDD) {
		d.state = StateMaximumDrawdown
		d.reason = ReasonNone
		return
	}

	// Cooldowns persist until explicitly cleared by reset_daily/reset_weekly
	// or a winning trade, never silently by re-evaluation.
	if d.state == StateDailyCooldown || d.state == StateWeeklyCooldown {
		return
	}

	// Reduced-risk persists until recovery wins are met, but can still
	// escalate to a daily cooldown if losses keep mounting (§4.H.3:
	// consecutive losses >= 10 always forces DAILY_COOLDOWN).
	if d.state == StateReducedRisk {
		if d.consecutiveLosses >= d.cfg.ConsecutiveLossHalt {
			d.state = StateDailyCooldown
			d.reason = ReasonConsecutiveLosses
			return
		}
		if d.recoveryWins >= d.cfg.RecoveryWinsRequired {
			d.state = StateNormal
			d.reason = ReasonNone
		}
		return
	}

	dailyLoss := d.dailyLossPct()
	weeklyLoss := d.weeklyLossPct()

	if d.consecutiveLosses >= d.cfg.ConsecutiveLossHalt {
		d.state = StateDailyCooldown
		d.reason = ReasonConsecutiveLosses
		return
	}
	if dailyLoss.GreaterThan(decimal.NewFromFloat(d.cfg.DailyCooldownLossPct)) {
		d.state = StateDailyCooldown
		d.reason = ReasonDailyLoss
		return
	}
	if weeklyLoss.GreaterThan(decimal.NewFromFloat(d.cfg.WeeklyCooldownLossPct)) {
		d.state = StateWeeklyCooldown
		d.reason = ReasonNone
		return
	}
	if d.consecutiveLosses >= d.cfg.ReducedRiskLossStreak {
		d.state = StateReducedRisk
		d.reason = ReasonNone
		d.recoveryWins = 0
		return
	}
	if dailyLoss.GreaterThan(decimal.NewFromFloat(d.cfg.WarningDailyLossPct)) ||
		weeklyLoss.GreaterThan(decimal.NewFromFloat(d.cfg.WarningWeeklyLossPct)) ||
		d.consecutiveLosses >= d.cfg.WarningConsecutiveLosses {
		d.state = StateWarning
		d.reason = ReasonNone
		return
	}

	d.state = StateNormal
	d.reason = ReasonNone
}

// ResetDaily exits DAILY_COOLDOWN only when its reason is "daily loss"
// (§4.H.3 Recovery contracts). Cooldowns whose reason is "consecutive
// losses" require a winning trade instead; calling reset_daily on that
// state is logged as a no-op warning, not silently ignored.
func (d *DrawdownTracker) ResetDaily() {
	d.dailyAnchor = d.capital
	if d.state != StateDailyCooldown {
		return
	}
	if d.reason == ReasonDailyLoss {
		d.state = StateNormal
		d.reason = ReasonNone
		return
	}
	log.Warnf("reset_daily called while in DAILY_COOLDOWN for consecutive losses; state unchanged, a winning trade is required")
}

// ResetWeekly always exits WEEKLY_COOLDOWN, logging if consecutive-loss
// conditions still hold (§4.H.3 Recovery contracts).
func (d *DrawdownTracker) ResetWeekly() {
	d.weeklyAnchor = d.capital
	if d.state == StateWeeklyCooldown {
		d.state = StateNormal
		d.reason = ReasonNone
	}
	if d.consecutiveLosses >= d.cfg.WarningConsecutiveLosses {
		log.Warnf("reset_weekly cleared WEEKLY_COOLDOWN but %d consecutive losses remain outstanding", d.consecutiveLosses)
	}
}

// ForceReset is the administrative override hook for manual intervention;
// every call is logged (§4.H.3 Recovery contracts).
func (d *DrawdownTracker) ForceReset(operator string) {
	log.WithFields(map[string]interface{}{"operator": operator, "prior_state": string(d.state), "prior_reason": string(d.reason)}).
		Infof("drawdown tracker force-reset by operator")
	d.state = StateNormal
	d.reason = ReasonNone
	d.consecutiveLosses = 0
	d.recoveryWins = 0
}
