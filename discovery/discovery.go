// Package discovery implements threshold discovery and validation (spec
// component F): grid search, ROC analysis, a sensitivity analyzer, an
// out-of-sample validator, and walk-forward validation.
//
// No teacher analogue exists for this machinery; implemented directly from
// spec.md §4.F. Result persistence reuses the thresholdstore package.
package discovery

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/ksiaz/liquidation-trading-sub004/config"
)

// trace is the field-heavy debug logger for this package's walk-forward
// runner, kept on logrus rather than zerolog: this is the one place in the
// repo whose output the operator wants as structured fields dumped
// wholesale during a long offline run, not the low-allocation event log
// the rest of the tree uses.
var trace = logrus.WithField("component", "discovery")

// Candidate is one evaluated point in a grid or walk-forward search.
type Candidate struct {
	Value   float64
	Trades  int
	Wins    int
	Losses  int
	PnL     float64
	Sharpe  float64
}

// Score implements score = win_rate · sqrt(trades) · max(0, sharpe).
func (c Candidate) Score() float64 {
	if c.Trades == 0 {
		return 0
	}
	winRate := float64(c.Wins) / float64(c.Trades)
	return winRate * math.Sqrt(float64(c.Trades)) * math.Max(0, c.Sharpe)
}

// EvaluateFunc evaluates one candidate value.
type EvaluateFunc func(value float64) Candidate

// GridResult is the outcome of a grid search.
type GridResult struct {
	Best          Candidate
	SensitivityMap map[float64]float64 // value -> score, over the ±20% band around Best.Value
}

// GridSearch enumerates [lo, hi] inclusive at step, filters candidates below
// minTrades, and selects the one maximizing Score (§4.F Grid Search).
func GridSearch(cfg config.DiscoveryConfig, lo, hi, step float64, eval EvaluateFunc) (GridResult, error) {
	if step <= 0 || hi < lo {
		return GridResult{}, fmt.Errorf("discovery: invalid grid range lo=%v hi=%v step=%v", lo, hi, step)
	}

	var all []Candidate
	for v := lo; v <= hi+1e-9; v += step {
		all = append(all, eval(v))
	}

	filtered := make([]Candidate, 0, len(all))
	for _, c := range all {
		if c.Trades >= cfg.MinTrades {
			filtered = append(filtered, c)
		}
	}
	// Empty candidate sets after filtering fall back to the unfiltered set (§4.F Errors).
	if len(filtered) == 0 {
		filtered = all
	}
	if len(filtered) == 0 {
		return GridResult{}, fmt.Errorf("discovery: no candidates produced for range")
	}

	best := filtered[0]
	for _, c := range filtered[1:] {
		if c.Score() > best.Score() {
			best = c
		}
	}

	band := cfg.SensitivityBand
	sensitivity := make(map[float64]float64)
	bandLo, bandHi := best.Value*(1-band), best.Value*(1+band)
	for _, c := range all {
		if c.Value >= bandLo && c.Value <= bandHi {
			sensitivity[c.Value] = c.Score()
		}
	}

	return GridResult{Best: best, SensitivityMap: sensitivity}, nil
}

// ROCPoint is one threshold's classifier performance.
type ROCPoint struct {
	Threshold float64
	TPR       float64
	FPR       float64
}

// ROCEvaluateFunc evaluates one threshold, returning (TPR, FPR).
type ROCEvaluateFunc func(threshold float64) (tpr, fpr float64)

// ROCResult is the chosen threshold and its Youden's J.
type ROCResult struct {
	Threshold float64
	TPR       float64
	FPR       float64
	YoudenJ   float64
}

// SelectByROC selects the threshold maximizing Youden's J = TPR - FPR
// (§4.F ROC Analysis).
func SelectByROC(thresholds []float64, eval ROCEvaluateFunc) (ROCResult, error) {
	if len(thresholds) == 0 {
		return ROCResult{}, fmt.Errorf("discovery: empty threshold family")
	}
	var best ROCResult
	bestJ := math.Inf(-1)
	for _, th := range thresholds {
		tpr, fpr := eval(th)
		j := tpr - fpr
		if j > bestJ {
			bestJ = j
			best = ROCResult{Threshold: th, TPR: tpr, FPR: fpr, YoudenJ: j}
		}
	}
	return best, nil
}

// SensitivityVerdict is the result of a robustness analysis.
type SensitivityVerdict struct {
	Robust bool
	Reason string
	Min    float64
	Max    float64
}

// AnalyzeSensitivity finds the min/max score within ±10% of optimum and
// reports robustness iff (optimum - min)/optimum <= tolerance (§4.F
// Sensitivity Analyzer).
func AnalyzeSensitivity(cfg config.DiscoveryConfig, optimum float64, sensitivityMap map[float64]float64) SensitivityVerdict {
	optimalScore, ok := sensitivityMap[optimum]
	if !ok {
		return SensitivityVerdict{Robust: false, Reason: "missing_optimum"}
	}
	if optimalScore == 0 {
		return SensitivityVerdict{Robust: false, Reason: "zero_score"}
	}

	band := 0.10
	lo, hi := optimum*(1-band), optimum*(1+band)
	min, max := math.Inf(1), math.Inf(-1)
	found := false
	for v, score := range sensitivityMap {
		if v < lo || v > hi {
			continue
		}
		found = true
		if score < min {
			min = score
		}
		if score > max {
			max = score
		}
	}
	if !found {
		return SensitivityVerdict{Robust: false, Reason: "empty_neighborhood"}
	}

	degradation := (optimalScore - min) / optimalScore
	robust := degradation <= cfg.SensitivityTolerance
	reason := ""
	if !robust {
		reason = "degradation_exceeds_tolerance"
	}
	return SensitivityVerdict{Robust: robust, Reason: reason, Min: min, Max: max}
}

// OOSVerdict is the result of out-of-sample validation.
type OOSVerdict struct {
	Robust      bool
	Degradation float64
}

// ValidateOutOfSample computes degradation = (in.sharpe - out.sharpe) /
// in.sharpe and reports robust iff degradation <= max (default 20%); if
// in.sharpe is zero, robust iff out.sharpe is non-negative (§4.F OOS
// Validator).
func ValidateOutOfSample(cfg config.DiscoveryConfig, inSample, outSample Candidate) OOSVerdict {
	if inSample.Sharpe == 0 {
		return OOSVerdict{Robust: outSample.Sharpe >= 0, Degradation: 0}
	}
	degradation := (inSample.Sharpe - outSample.Sharpe) / inSample.Sharpe
	return OOSVerdict{Robust: degradation <= cfg.OOSMaxDegradation, Degradation: degradation}
}

// DayEvent is one evaluation event tagged with its day offset from the
// start of a walk-forward range.
type DayEvent struct {
	DayOffset int
}

// WalkForwardWindow is one slide of the walk-forward validator.
type WalkForwardWindow struct {
	WindowStartDay int
	WindowEndDay   int
	StepStartDay   int
	StepEndDay     int
	InSample       Candidate
	OutOfSample    Candidate
}

// OptimizeFunc returns the best candidate for events within [startDay, endDay).
type OptimizeFunc func(startDay, endDay int) Candidate

// WalkForward slides a (windowSize, stepSize) pair across [0, totalDays),
// optimizing on each window and evaluating the chosen value on the
// following step (§4.F Walk-Forward). Skips if insufficient days remain.
func WalkForward(cfg config.DiscoveryConfig, totalDays int, optimize OptimizeFunc, evaluate OptimizeFunc) []WalkForwardWindow {
	windowSize := cfg.WalkForwardWindowDays
	stepSize := cfg.WalkForwardStepDays
	if windowSize <= 0 || stepSize <= 0 {
		return nil
	}

	var windows []WalkForwardWindow
	for start := 0; start+windowSize+stepSize <= totalDays; start += stepSize {
		windowEnd := start + windowSize
		stepEnd := windowEnd + stepSize
		window := WalkForwardWindow{
			WindowStartDay: start, WindowEndDay: windowEnd,
			StepStartDay: windowEnd, StepEndDay: stepEnd,
			InSample:    optimize(start, windowEnd),
			OutOfSample: evaluate(windowEnd, stepEnd),
		}
		trace.WithFields(logrus.Fields{
			"window_start": window.WindowStartDay, "window_end": window.WindowEndDay,
			"step_start": window.StepStartDay, "step_end": window.StepEndDay,
			"in_sample_value": window.InSample.Value, "in_sample_score": window.InSample.Score(),
			"out_of_sample_value": window.OutOfSample.Value, "out_of_sample_score": window.OutOfSample.Score(),
		}).Debug("walk-forward window evaluated")
		windows = append(windows, window)
	}
	return windows
}
