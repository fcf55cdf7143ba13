// Package cascade implements the per-coin liquidation-cascade momentum
// state machine (spec component C): an event-driven classifier of cascade
// phase over a rolling 60-second buffer, using volatility-free rate and
// acceleration thresholds rather than fixed price cutoffs.
//
// Grounded on the bounded rolling-window/eviction idiom in
// poorman-SynapseStrike/market/data.go (technical-indicator history
// buffers); the state machine itself and its thresholds are specified
// directly by spec.md §4.C — there is no teacher analogue for OI-rate
// regime classification.
package cascade

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ksiaz/liquidation-trading-sub004/config"
	"github.com/ksiaz/liquidation-trading-sub004/logx"
	"github.com/ksiaz/liquidation-trading-sub004/metrics"
)

var log = logx.Named("cascade")

// Phase is a cascade's classified momentum state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAccelerating
	PhaseSteady
	PhaseDeceleratingUnconfirmed
	PhaseDeceleratingConfirmed
	PhaseExhausted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAccelerating:
		return "accelerating"
	case PhaseSteady:
		return "steady"
	case PhaseDeceleratingUnconfirmed:
		return "decelerating_unconfirmed"
	case PhaseDeceleratingConfirmed:
		return "decelerating_confirmed"
	case PhaseExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Event is a single open-interest observation for a coin.
type Event struct {
	Timestamp     time.Time
	OIChangePct   float64 // signed; negative is a drop
	IsSignificant bool    // drop exceeds the configured single-step threshold
}

// AbsorptionConfirmer is the one-direction dependency cascade has on the
// absorption tracker (§9 "cyclic structures": observation owns its
// sub-trackers, never the reverse). Whether a Tracker is constructed with
// a non-nil confirmer is a construction-time decision (§9 "silence is not
// safety") — it is never swapped per event.
type AbsorptionConfirmer interface {
	Confirmed(coin string) bool
}

// Observation is the per-event output of Process.
type Observation struct {
	Coin                string
	Phase               Phase
	Rate1s              float64
	Rate5s              float64
	Rate30s             float64
	Acceleration        float64
	HasCascadeStart     bool
	CascadeStart        time.Time
	CumulativeOIDropped float64
	PeakRate            float64
	LiqSignals5s        int
	LiqSignals30s       int
}

// Tracker is the per-coin state machine. One Tracker per coin; safe for
// concurrent use, though spec §5 only requires in-order delivery within a
// single coin's buffer.
type Tracker struct {
	coin       string
	cfg        config.CascadeConfig
	absorption AbsorptionConfirmer

	mu         sync.Mutex
	events     []Event
	liqSignals []time.Time

	phase    Phase
	hasStart bool
	start    time.Time
	cumDrop  float64
	peakRate float64

	hasLastDrop bool
	lastDrop    time.Time
}

// NewTracker constructs a tracker for coin. absorption may be nil; per
// §4.C's coupling note, a nil confirmer permanently disables the
// EXHAUSTED state for this tracker.
func NewTracker(coin string, cfg config.CascadeConfig, absorption AbsorptionConfirmer) (*Tracker, error) {
	if coin == "" {
		return nil, fmt.Errorf("cascade: coin must not be empty")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("cascade: %w", err)
	}
	return &Tracker{coin: coin, cfg: cfg, absorption: absorption, phase: PhaseIdle}, nil
}

// RecordLiquidationSignal feeds a liquidation-detection timestamp into the
// 5s/30s signal-count windows (§3's liquidation-signal counts).
func (t *Tracker) RecordLiquidationSignal(ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.liqSignals = append(t.liqSignals, ts)
	t.trimLiqSignals(ts)
}

func (t *Tracker) trimLiqSignals(now time.Time) {
	cutoff := now.Add(-30 * time.Second)
	i := 0
	for i < len(t.liqSignals) && t.liqSignals[i].Before(cutoff) {
		i++
	}
	t.liqSignals = t.liqSignals[i:]
}

// Process advances the state machine with one event and returns the
// resulting observation. Observations are not persisted by this package
// (§3: "produced on every event; not persisted by the core").
func (t *Tracker) Process(e Event) Observation {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.events = append(t.events, e)
	t.evictOld(e.Timestamp)

	rate1s := t.rate(e.Timestamp, 1*time.Second)
	rate5s := t.rate(e.Timestamp, 5*time.Second)
	rate30s := t.rate(e.Timestamp, 30*time.Second)
	priorRate5s := t.rateBetween(e.Timestamp.Add(-10*time.Second), e.Timestamp.Add(-5*time.Second))
	acceleration := (rate5s - priorRate5s) / 5.0

	isDrop := e.OIChangePct < 0
	if isDrop {
		if !t.hasStart && (t.phase == PhaseIdle || t.phase == PhaseExhausted) {
			t.start = e.Timestamp
			t.hasStart = true
			t.cumDrop = 0
			t.peakRate = 0
		}
		t.hasLastDrop = true
		t.lastDrop = e.Timestamp
	}
	if t.hasStart {
		if isDrop {
			t.cumDrop += -e.OIChangePct
		}
		if math.Abs(rate5s) > t.peakRate {
			t.peakRate = math.Abs(rate5s)
		}
	}

	t.transition(rate5s, acceleration, e.Timestamp)

	if t.hasLastDrop && e.Timestamp.Sub(t.lastDrop) > t.cfg.BufferWindow {
		// Every OI-drop event has fallen out of the buffer: the degenerate
		// reset described in §4.C's coupling note for trackers with no
		// attached absorption confirmer.
		t.phase = PhaseIdle
		t.hasStart = false
		t.hasLastDrop = false
		t.cumDrop = 0
		t.peakRate = 0
	}
	metrics.SetCascadePhase(t.coin, int(t.phase))

	return Observation{
		Coin: t.coin, Phase: t.phase, Rate1s: rate1s, Rate5s: rate5s, Rate30s: rate30s,
		Acceleration: acceleration, HasCascadeStart: t.hasStart, CascadeStart: t.start,
		CumulativeOIDropped: t.cumDrop, PeakRate: t.peakRate,
		LiqSignals5s:  t.countLiqSignals(e.Timestamp, 5*time.Second),
		LiqSignals30s: t.countLiqSignals(e.Timestamp, 30*time.Second),
	}
}

func (t *Tracker) transition(rate5s, acceleration float64, now time.Time) {
	switch t.phase {
	case PhaseIdle:
		if math.Abs(rate5s) >= t.cfg.IdleRateThreshold && acceleration < -t.cfg.AccelerationThreshold {
			t.phase = PhaseAccelerating
		}
	case PhaseAccelerating:
		if math.Abs(acceleration) <= t.cfg.AccelerationThreshold {
			t.phase = PhaseSteady
		}
	case PhaseSteady:
		if acceleration > t.cfg.AccelerationThreshold {
			t.phase = t.enterDecelerating()
		}
	case PhaseDeceleratingUnconfirmed, PhaseDeceleratingConfirmed:
		t.phase = t.enterDecelerating()
	case PhaseExhausted:
		t.phase = PhaseIdle
		return
	}

	if t.phase == PhaseAccelerating || t.phase == PhaseSteady ||
		t.phase == PhaseDeceleratingUnconfirmed || t.phase == PhaseDeceleratingConfirmed {
		silentLongEnough := !t.hasLastDrop || now.Sub(t.lastDrop) > t.cfg.ExhaustionSilence
		if math.Abs(rate5s) < t.cfg.IdleRateThreshold && silentLongEnough && t.phase == PhaseDeceleratingConfirmed {
			t.phase = PhaseExhausted
			t.hasStart = false
			t.cumDrop = 0
			t.peakRate = 0
			log.WithFields(map[string]interface{}{"coin": t.coin}).Infof("cascade exhausted (absorption-confirmed)")
		}
	}
}

func (t *Tracker) enterDecelerating() Phase {
	if t.absorption != nil && t.absorption.Confirmed(t.coin) {
		return PhaseDeceleratingConfirmed
	}
	return PhaseDeceleratingUnconfirmed
}

func (t *Tracker) evictOld(now time.Time) {
	cutoff := now.Add(-t.cfg.BufferWindow)
	i := 0
	for i < len(t.events) && t.events[i].Timestamp.Before(cutoff) {
		i++
	}
	t.events = t.events[i:]
}

func (t *Tracker) rate(now time.Time, window time.Duration) float64 {
	return t.sumSince(now, window) / window.Seconds()
}

func (t *Tracker) sumSince(now time.Time, window time.Duration) float64 {
	cutoff := now.Add(-window)
	sum := 0.0
	for _, ev := range t.events {
		if ev.Timestamp.After(cutoff) && !ev.Timestamp.After(now) {
			sum += ev.OIChangePct
		}
	}
	return sum
}

func (t *Tracker) rateBetween(from, to time.Time) float64 {
	sum := 0.0
	for _, ev := range t.events {
		if ev.Timestamp.After(from) && !ev.Timestamp.After(to) {
			sum += ev.OIChangePct
		}
	}
	window := to.Sub(from).Seconds()
	if window <= 0 {
		return 0
	}
	return sum / window
}

func (t *Tracker) countLiqSignals(now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	n := 0
	for _, ts := range t.liqSignals {
		if ts.After(cutoff) && !ts.After(now) {
			n++
		}
	}
	return n
}

// Phase returns the tracker's current phase without advancing it.
func (t *Tracker) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}
