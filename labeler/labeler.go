// Package labeler implements the post-hoc cascade labeler and wave
// detector (spec component E): replays open-interest and liquidation
// history out of the raw store to produce labeled cascades with wave
// decomposition and an outcome classification.
//
// No teacher analogue exists for post-hoc replay labeling; the algorithm
// is implemented directly from spec.md §4.E. Store access reuses
// rawstore's query shapes (OIHistory, LiquidationsInWindow, NearestMark).
package labeler

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/ksiaz/liquidation-trading-sub004/config"
	"github.com/ksiaz/liquidation-trading-sub004/logx"
	"github.com/ksiaz/liquidation-trading-sub004/rawstore"
)

var log = logx.Named("labeler")

// Outcome is the post-cascade price-behavior classification.
type Outcome string

const (
	OutcomeReversal     Outcome = "reversal"
	OutcomeContinuation Outcome = "continuation"
	OutcomeNeutral      Outcome = "neutral"
	OutcomeUnknown      Outcome = "unknown"
)

// Wave is a burst of liquidations within a cascade, separated from
// neighboring waves by a gap exceeding the configured wave gap.
type Wave struct {
	StartTS int64 `json:"start_ts"`
	EndTS   int64 `json:"end_ts"`
	Count   int   `json:"count"`
}

// Label is one detected cascade.
type Label struct {
	Coin             string
	StartTS          int64
	EndTS            int64
	OIDropPct        string
	LiquidationCount int
	Waves            []Wave
	PriceAtStart     string
	PriceAtEnd       string
	PriceAtPostMove  string
	Outcome          Outcome
}

// Labeler runs the cascade-labeling algorithm against a raw store.
type Labeler struct {
	store *rawstore.Store
	cfg   config.LabelerConfig
}

func New(store *rawstore.Store, cfg config.LabelerConfig) (*Labeler, error) {
	if store == nil {
		return nil, fmt.Errorf("labeler: store must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("labeler: %w", err)
	}
	return &Labeler{store: store, cfg: cfg}, nil
}

// Run executes the algorithm for coin over [start, end] and persists every
// labeled cascade it finds, returning them in detection order.
func (l *Labeler) Run(coin string, start, end int64) ([]Label, error) {
	snapshots, err := l.store.OIHistory(coin, start, end)
	if err != nil {
		return nil, fmt.Errorf("labeler: oi history: %w", err)
	}

	var labels []Label
	lookAheadNS := l.cfg.LookAhead.Nanoseconds()
	i := 0
	for i < len(snapshots) {
		oiAtI, err := parseFloat(snapshots[i].Value)
		if err != nil || oiAtI == 0 {
			i++
			continue
		}

		j := -1
		for k := i + 1; k < len(snapshots) && snapshots[k].Timestamp-snapshots[i].Timestamp <= lookAheadNS; k++ {
			oiAtK, err := parseFloat(snapshots[k].Value)
			if err != nil {
				continue
			}
			dropPct := (oiAtI - oiAtK) / oiAtI * 100
			if dropPct >= l.cfg.OIDropThresholdPct {
				j = k
				break
			}
		}
		if j == -1 {
			i++
			continue
		}

		tI, tJ := snapshots[i].Timestamp, snapshots[j].Timestamp
		liqs, err := l.store.LiquidationsInWindow(tI, tJ, coin)
		if err != nil {
			return nil, fmt.Errorf("labeler: liquidations in window: %w", err)
		}
		if len(liqs) < l.cfg.MinLiquidations {
			i = j + 1
			continue
		}

		oiAtJ, _ := parseFloat(snapshots[j].Value)
		dropPct := (oiAtI - oiAtJ) / oiAtI * 100

		waves := detectWaves(liqs, l.cfg.WaveGap)

		tolNS := l.cfg.MarkTolerance.Nanoseconds()
		markStart, _, _ := l.store.NearestMark(coin, tI, tolNS)
		markEnd, _, _ := l.store.NearestMark(coin, tJ, tolNS)
		markPost, _, _ := l.store.NearestMark(coin, tJ+l.cfg.PostMoveWindow.Nanoseconds(), tolNS)

		label := Label{
			Coin: coin, StartTS: tI, EndTS: tJ,
			OIDropPct:        strconv.FormatFloat(dropPct, 'f', -1, 64),
			LiquidationCount: len(liqs),
			Waves:            waves,
			PriceAtStart:     markStart.Value,
			PriceAtEnd:       markEnd.Value,
			PriceAtPostMove:  markPost.Value,
		}
		label.Outcome = classifyOutcome(markStart.Value, markEnd.Value, markPost.Value, l.cfg.NeutralThresholdPct)

		if err := l.persist(label); err != nil {
			return nil, err
		}
		labels = append(labels, label)
		log.WithFields(map[string]interface{}{"coin": coin, "start_ts": tI, "end_ts": tJ, "liquidations": len(liqs)}).Infof("cascade labeled")

		i = j + 1 // mark tI..tJ as processed by skipping past j
	}
	return labels, nil
}

func (l *Labeler) persist(label Label) error {
	wavesJSON, err := json.Marshal(label.Waves)
	if err != nil {
		return fmt.Errorf("labeler: marshal waves: %w", err)
	}
	_, err = l.store.WriteLabeledCascade(rawstore.LabeledCascade{
		Coin: label.Coin, StartTS: label.StartTS, EndTS: label.EndTS,
		OIDropPct: label.OIDropPct, LiquidationCount: label.LiquidationCount,
		WaveCount: len(label.Waves), WavesJSON: string(wavesJSON),
		PriceAtStart: label.PriceAtStart, PriceAtEnd: label.PriceAtEnd, PriceAtPostMove: label.PriceAtPostMove,
		Outcome: string(label.Outcome),
	})
	if err != nil {
		return fmt.Errorf("labeler: persist: %w", err)
	}
	return nil
}

// detectWaves sorts liquidations by time and opens a new wave whenever the
// gap from the previous liquidation exceeds gap (§4.E step 6).
func detectWaves(liqs []rawstore.LiquidationEvent, gap time.Duration) []Wave {
	if len(liqs) == 0 {
		return nil
	}
	sorted := append([]rawstore.LiquidationEvent(nil), liqs...)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].DetectionTS < sorted[b].DetectionTS })

	gapNS := gap.Nanoseconds()
	waves := []Wave{{StartTS: sorted[0].DetectionTS, EndTS: sorted[0].DetectionTS, Count: 1}}
	for _, liq := range sorted[1:] {
		cur := &waves[len(waves)-1]
		if liq.DetectionTS-cur.EndTS > gapNS {
			waves = append(waves, Wave{StartTS: liq.DetectionTS, EndTS: liq.DetectionTS, Count: 1})
			continue
		}
		cur.EndTS = liq.DetectionTS
		cur.Count++
	}
	return waves
}

func classifyOutcome(startStr, endStr, postStr string, neutralThresholdPct float64) Outcome {
	start, errS := parseFloat(startStr)
	end, errE := parseFloat(endStr)
	post, errP := parseFloat(postStr)
	if errS != nil || errE != nil || errP != nil || start == 0 || end == 0 {
		return OutcomeUnknown
	}

	deltaC := end - start
	deltaP := post - end

	threshold := math.Abs(start) * neutralThresholdPct / 100
	if math.Abs(deltaP) < threshold {
		return OutcomeNeutral
	}
	opposes := (deltaC > 0 && deltaP < 0) || (deltaC < 0 && deltaP > 0)
	if opposes {
		return OutcomeReversal
	}
	return OutcomeContinuation
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	return strconv.ParseFloat(s, 64)
}
