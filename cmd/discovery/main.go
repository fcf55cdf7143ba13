// Command discovery is the offline threshold-discovery runner: it replays
// a coin's stored liquidation/mark history through the cascade labeler,
// grid-searches the OI-drop-percentage threshold that best separates
// continuation cascades from reversals, checks the winner's sensitivity
// and out-of-sample robustness, and persists it as a new version in the
// threshold store: status validated when both checks pass, hypothesis
// otherwise, for an operator to promote to active.
package main

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/ksiaz/liquidation-trading-sub004/config"
	"github.com/ksiaz/liquidation-trading-sub004/discovery"
	"github.com/ksiaz/liquidation-trading-sub004/labeler"
	"github.com/ksiaz/liquidation-trading-sub004/logx"
	"github.com/ksiaz/liquidation-trading-sub004/metrics"
	"github.com/ksiaz/liquidation-trading-sub004/rawstore"
	"github.com/ksiaz/liquidation-trading-sub004/thresholdstore"
)

var log = logx.Named("discovery-runner")

func main() {
	config.LoadDotEnv(".env")
	metrics.Init()

	coin := envOr("DISCOVERY_COIN", "BTC")
	dbPath := envOr("DISCOVERY_DB_PATH", "collector.db")
	thresholdDBPath := envOr("DISCOVERY_THRESHOLD_DB_PATH", "thresholds.db")
	lookbackDays := envOrInt("DISCOVERY_LOOKBACK_DAYS", 30)

	store, err := rawstore.Open(dbPath)
	if err != nil {
		log.Errorf("open raw store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	thresholds, err := thresholdstore.Open(thresholdDBPath)
	if err != nil {
		log.Errorf("open threshold store: %v", err)
		os.Exit(1)
	}
	defer thresholds.Close()

	lbl, err := labeler.New(store, config.DefaultLabelerConfig())
	if err != nil {
		log.Errorf("construct labeler: %v", err)
		os.Exit(1)
	}

	end := time.Now().UnixNano()
	start := time.Now().Add(-time.Duration(lookbackDays) * 24 * time.Hour).UnixNano()

	labels, err := lbl.Run(coin, start, end)
	if err != nil {
		log.Errorf("label cascades for %s: %v", coin, err)
		os.Exit(1)
	}
	if len(labels) == 0 {
		log.Warnf("no labeled cascades for %s in the last %d days, nothing to discover", coin, lookbackDays)
		return
	}
	log.Infof("labeled %d cascades for %s over %d days", len(labels), coin, lookbackDays)

	cutoff := len(labels) * 7 / 10 // 70/30 in-sample/out-of-sample split, oldest-first
	inSample, outSample := labels[:cutoff], labels[cutoff:]
	if len(inSample) == 0 || len(outSample) == 0 {
		log.Warnf("too few cascades (%d) to split in/out of sample, skipping this run", len(labels))
		return
	}

	dcfg := config.DefaultDiscoveryConfig()
	gridResult, err := discovery.GridSearch(dcfg, 1, 30, 1, evaluator(inSample))
	if err != nil {
		log.Errorf("grid search: %v", err)
		os.Exit(1)
	}
	log.Infof("grid search picked OI-drop threshold %.1f%% (score=%.3f, trades=%d)",
		gridResult.Best.Value, gridResult.Best.Score(), gridResult.Best.Trades)

	sensitivity := discovery.AnalyzeSensitivity(dcfg, gridResult.Best.Value, gridResult.SensitivityMap)
	if !sensitivity.Robust {
		log.Warnf("threshold %.1f%% failed sensitivity analysis: %s", gridResult.Best.Value, sensitivity.Reason)
	}

	oosCandidate := evaluator(outSample)(gridResult.Best.Value)
	oosVerdict := discovery.ValidateOutOfSample(dcfg, gridResult.Best, oosCandidate)
	if !oosVerdict.Robust {
		log.Warnf("threshold %.1f%% failed out-of-sample validation, degradation=%.2f", gridResult.Best.Value, oosVerdict.Degradation)
	}

	status := thresholdstore.StatusHypothesis
	if sensitivity.Robust && oosVerdict.Robust {
		status = thresholdstore.StatusValidated
	}

	id, err := thresholds.Save(thresholdstore.Config{
		Name:            fmt.Sprintf("oi_drop_pct.%s", coin),
		Value:           gridResult.Best.Value,
		Method:          thresholdstore.MethodGrid,
		Rationale:       fmt.Sprintf("grid search over %d in-sample cascades, score=%.3f", len(inSample), gridResult.Best.Score()),
		InSampleMetrics: fmt.Sprintf(`{"trades":%d,"wins":%d,"losses":%d,"sharpe":%.3f}`, gridResult.Best.Trades, gridResult.Best.Wins, gridResult.Best.Losses, gridResult.Best.Sharpe),
		OOSMetrics:      fmt.Sprintf(`{"trades":%d,"wins":%d,"losses":%d,"sharpe":%.3f,"degradation":%.3f}`, oosCandidate.Trades, oosCandidate.Wins, oosCandidate.Losses, oosCandidate.Sharpe, oosVerdict.Degradation),
		Status:          status,
		SensitivityMin:  sensitivity.Min,
		SensitivityMax:  sensitivity.Max,
		Robust:          sensitivity.Robust && oosVerdict.Robust,
		ReviewDate:      time.Now().Add(30 * 24 * time.Hour).UnixNano(),
		RegimeTag:       "default",
		CreatedAtNS:     time.Now().UnixNano(),
	})
	if err != nil {
		log.Errorf("persist threshold: %v", err)
		os.Exit(1)
	}
	log.Infof("saved threshold version %d for oi_drop_pct.%s, status=%s", id, coin, status)
}

// evaluator builds a discovery.EvaluateFunc over a slice of already-labeled
// cascades: a cascade is a simulated "trade" at value iff its observed
// OI-drop percentage met or exceeded the candidate threshold, won iff the
// cascade continued in the labeler's direction, lost iff it reversed;
// neutral/unknown outcomes are excluded as neither confirming nor
// refuting the threshold.
func evaluator(labels []labeler.Label) discovery.EvaluateFunc {
	return func(value float64) discovery.Candidate {
		c := discovery.Candidate{Value: value}
		var pnls []float64
		for _, l := range labels {
			dropPct, err := strconv.ParseFloat(l.OIDropPct, 64)
			if err != nil || dropPct < value {
				continue
			}
			switch l.Outcome {
			case labeler.OutcomeContinuation:
				c.Wins++
				c.Trades++
				pnls = append(pnls, 1)
			case labeler.OutcomeReversal:
				c.Losses++
				c.Trades++
				pnls = append(pnls, -1)
			}
		}
		c.PnL = sum(pnls)
		c.Sharpe = sharpe(pnls)
		return c
	}
}

func sum(xs []float64) float64 {
	var total float64
	for _, x := range xs {
		total += x
	}
	return total
}

func sharpe(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := sum(xs) / float64(len(xs))
	var variance float64
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	variance /= float64(len(xs) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
