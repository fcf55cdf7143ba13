// Package absorption implements the regime-adaptive, percentile-based
// absorption confirmation tracker (spec component D): given a trade and
// orderbook event stream per coin, it derives a short adaptive window and
// evaluates four independent confirmation signals against bounded rolling
// percentile histories.
//
// Grounded on the same bounded rolling-window/eviction idiom as the cascade
// tracker (poorman-SynapseStrike/market/data.go's indicator-history
// buffers); the regime/percentile formulas themselves have no teacher
// analogue and are implemented directly from spec.md §4.D.
package absorption

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ksiaz/liquidation-trading-sub004/config"
	"github.com/ksiaz/liquidation-trading-sub004/metrics"
)

// Phase is the absorption-confirmation strength for a coin.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseWeak
	PhaseModerate
	PhaseStrong
)

func (p Phase) String() string {
	switch p {
	case PhaseNone:
		return "none"
	case PhaseWeak:
		return "weak"
	case PhaseModerate:
		return "moderate"
	case PhaseStrong:
		return "strong"
	default:
		return "unknown"
	}
}

// Trade is one observed fill.
type Trade struct {
	Timestamp time.Time
	Price     float64
	Volume    float64
	IsSell    bool
}

// OrderbookSample is one observed top-of-book snapshot.
type OrderbookSample struct {
	Timestamp    time.Time
	TotalBidSize float64
	TotalAskSize float64
	Mid          float64
	Spread       float64
}

// AbsorptionEvent is an explicit consumed-liquidity event: size consumed at
// a given price-movement percent.
type AbsorptionEvent struct {
	Timestamp     time.Time
	ConsumedSize  float64
	PriceMovePct  float64
}

// RefillEvent is an explicit added-liquidity event.
type RefillEvent struct {
	Timestamp time.Time
	AddedSize float64
}

// RegimeContext is the per-coin derived regime, computed over the
// configured lookback (default 30s).
type RegimeContext struct {
	PriceRangeBps float64
	ATRProxy      float64
	MedianTradeSize float64
	TotalVolume   float64
	TradeRate     float64 // trades/second
	AvgSpreadBps  float64
	SpreadStdDevBps float64
	Window        time.Duration
}

// Observation is the per-query output.
type Observation struct {
	Coin                 string
	Phase                Phase
	AbsorptionRatio       float64
	AbsorptionPercentile  float64
	AbsorptionSignal      bool
	ReplenishmentRatio    float64
	ReplenishmentSignal   bool
	AggressorFailureSignal bool
	DeltaSlope            float64
	DeltaDivergenceSignal bool
	SignalCount           int
	Regime                RegimeContext
}

// Tracker accumulates trade/orderbook/absorption/refill events per coin and
// answers confirmation queries. One Tracker instance covers every coin it
// has seen events for; Confirmed(coin) implements cascade.AbsorptionConfirmer.
type Tracker struct {
	cfg config.AbsorptionConfig

	mu    sync.Mutex
	coins map[string]*coinState
}

type coinState struct {
	trades     []Trade
	books      []OrderbookSample
	absorptions []AbsorptionEvent
	refills    []RefillEvent

	ratioHistory []float64
	sellVolHistory []float64
}

// NewTracker constructs an absorption tracker.
func NewTracker(cfg config.AbsorptionConfig) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("absorption: %w", err)
	}
	return &Tracker{cfg: cfg, coins: make(map[string]*coinState)}, nil
}

func (t *Tracker) state(coin string) *coinState {
	cs, ok := t.coins[coin]
	if !ok {
		cs = &coinState{}
		t.coins[coin] = cs
	}
	return cs
}

// RecordTrade ingests one trade.
func (t *Tracker) RecordTrade(coin string, tr Trade) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cs := t.state(coin)
	cs.trades = append(cs.trades, tr)
	cs.trades = trimTrades(cs.trades, tr.Timestamp.Add(-t.cfg.Lookback))
}

// RecordOrderbook ingests one orderbook sample.
func (t *Tracker) RecordOrderbook(coin string, ob OrderbookSample) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cs := t.state(coin)
	cs.books = append(cs.books, ob)
	cutoff := ob.Timestamp.Add(-t.cfg.Lookback)
	i := 0
	for i < len(cs.books) && cs.books[i].Timestamp.Before(cutoff) {
		i++
	}
	cs.books = cs.books[i:]
}

// RecordAbsorption ingests one explicit absorption event.
func (t *Tracker) RecordAbsorption(coin string, ev AbsorptionEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cs := t.state(coin)
	cs.absorptions = append(cs.absorptions, ev)
	cutoff := ev.Timestamp.Add(-t.cfg.Lookback)
	i := 0
	for i < len(cs.absorptions) && cs.absorptions[i].Timestamp.Before(cutoff) {
		i++
	}
	cs.absorptions = cs.absorptions[i:]
}

// RecordRefill ingests one explicit refill event.
func (t *Tracker) RecordRefill(coin string, ev RefillEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cs := t.state(coin)
	cs.refills = append(cs.refills, ev)
	cutoff := ev.Timestamp.Add(-t.cfg.Lookback)
	i := 0
	for i < len(cs.refills) && cs.refills[i].Timestamp.Before(cutoff) {
		i++
	}
	cs.refills = cs.refills[i:]
}

func trimTrades(trades []Trade, cutoff time.Time) []Trade {
	i := 0
	for i < len(trades) && trades[i].Timestamp.Before(cutoff) {
		i++
	}
	return trades[i:]
}

// Evaluate computes the current Observation for coin at time now.
func (t *Tracker) Evaluate(coin string, now time.Time) Observation {
	t.mu.Lock()
	defer t.mu.Unlock()
	cs := t.state(coin)

	regime := t.regimeContext(cs, now)
	windowStart := now.Add(-regime.Window)

	windowTrades := tradesSince(cs.trades, windowStart, now)
	if len(windowTrades) == 0 {
		metrics.SetAbsorptionSignalCount(coin, 0)
		return Observation{Coin: coin, Phase: PhaseNone, Regime: regime}
	}

	absRatio, absPct, absSignal := t.absorptionRatioSignal(cs, windowTrades, regime, windowStart, now)
	replRatio, replSignal := t.replenishmentSignal(cs, windowStart, now)
	sellVolPctile := t.sellVolumePercentile(cs, windowTrades)
	aggressorSignal := t.aggressorFailureSignal(windowTrades, regime, sellVolPctile)
	deltaSlope, deltaSignal := t.deltaDivergenceSignal(windowTrades, sellVolPctile)

	count := 0
	if absSignal {
		count++
	}
	if replSignal {
		count++
	}
	if aggressorSignal {
		count++
	}
	if deltaSignal {
		count++
	}

	var phase Phase
	switch {
	case count >= 3:
		phase = PhaseStrong
	case count == 2:
		phase = PhaseModerate
	case count == 1:
		phase = PhaseWeak
	default:
		phase = PhaseNone
	}

	metrics.SetAbsorptionSignalCount(coin, count)

	return Observation{
		Coin: coin, Phase: phase,
		AbsorptionRatio: absRatio, AbsorptionPercentile: absPct, AbsorptionSignal: absSignal,
		ReplenishmentRatio: replRatio, ReplenishmentSignal: replSignal,
		AggressorFailureSignal: aggressorSignal,
		DeltaSlope:             deltaSlope, DeltaDivergenceSignal: deltaSignal,
		SignalCount: count, Regime: regime,
	}
}

// Confirmed implements cascade.AbsorptionConfirmer: a cascade is
// "absorption-confirmed" when phase is at least moderate (§4.C coupling).
func (t *Tracker) Confirmed(coin string) bool {
	t.mu.Lock()
	now := latestTimestamp(t.state(coin))
	t.mu.Unlock()
	obs := t.Evaluate(coin, now)
	return obs.Phase == PhaseModerate || obs.Phase == PhaseStrong
}

func latestTimestamp(cs *coinState) time.Time {
	var latest time.Time
	for _, tr := range cs.trades {
		if tr.Timestamp.After(latest) {
			latest = tr.Timestamp
		}
	}
	for _, ob := range cs.books {
		if ob.Timestamp.After(latest) {
			latest = ob.Timestamp
		}
	}
	return latest
}

func (t *Tracker) regimeContext(cs *coinState, now time.Time) RegimeContext {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, tr := range cs.trades {
		if tr.Price < lo {
			lo = tr.Price
		}
		if tr.Price > hi {
			hi = tr.Price
		}
	}
	var priceRangeBps float64
	mid := midPrice(cs)
	if len(cs.trades) > 0 && mid > 0 {
		priceRangeBps = (hi - lo) / mid * 10000
	}
	atrProxy := priceRangeBps / t.cfg.Lookback.Seconds()

	sizes := make([]float64, 0, len(cs.trades))
	totalVol := 0.0
	for _, tr := range cs.trades {
		sizes = append(sizes, tr.Volume)
		totalVol += tr.Volume
	}
	medianSize := median(sizes)
	tradeRate := float64(len(cs.trades)) / t.cfg.Lookback.Seconds()

	var spreads []float64
	for _, ob := range cs.books {
		if ob.Mid > 0 {
			spreads = append(spreads, ob.Spread/ob.Mid*10000)
		}
	}
	avgSpread, stdSpread := meanStdDev(spreads)

	window := t.cfg.NoTradeWindow
	if len(cs.trades) > 0 && tradeRate > 0 {
		w := time.Duration(t.cfg.WindowNumerator/tradeRate*float64(time.Second))
		window = clampDuration(w, t.cfg.MinWindow, t.cfg.MaxWindow)
	}

	return RegimeContext{
		PriceRangeBps: priceRangeBps, ATRProxy: atrProxy,
		MedianTradeSize: medianSize, TotalVolume: totalVol, TradeRate: tradeRate,
		AvgSpreadBps: avgSpread, SpreadStdDevBps: stdSpread, Window: window,
	}
}

func midPrice(cs *coinState) float64 {
	if len(cs.books) > 0 {
		return cs.books[len(cs.books)-1].Mid
	}
	if len(cs.trades) > 0 {
		return cs.trades[len(cs.trades)-1].Price
	}
	return 0
}

func (t *Tracker) absorptionRatioSignal(cs *coinState, windowTrades []Trade, regime RegimeContext, from, to time.Time) (ratio, percentile float64, signal bool) {
	consumed := 0.0
	for _, ev := range cs.absorptions {
		if inWindow(ev.Timestamp, from, to) {
			consumed += ev.ConsumedSize
		}
	}

	avgSpread := 0.0
	eventCount := 0
	totalMove := 0.0
	for _, ev := range cs.absorptions {
		if inWindow(ev.Timestamp, from, to) {
			totalMove += math.Abs(ev.PriceMovePct)
			eventCount++
		}
	}
	if len(cs.books) > 0 {
		avgSpread = cs.books[len(cs.books)-1].Spread / 2
	}
	denom := math.Max(totalMove+avgSpread*float64(eventCount), 1e-9)

	rawRatio := consumed / denom
	volFactor := regime.PriceRangeBps / 100
	if volFactor <= 0 {
		volFactor = 1
	}
	ratio = rawRatio / volFactor

	cs.ratioHistory = append(cs.ratioHistory, ratio)
	if len(cs.ratioHistory) > t.cfg.HistorySize {
		cs.ratioHistory = cs.ratioHistory[len(cs.ratioHistory)-t.cfg.HistorySize:]
	}

	percentile = percentileOf(cs.ratioHistory, ratio, t.cfg.MinHistoryForPercentile, t.cfg.NeutralPercentile)
	signal = percentile >= t.cfg.RatioPercentile
	return ratio, percentile, signal
}

func (t *Tracker) replenishmentSignal(cs *coinState, from, to time.Time) (ratio float64, signal bool) {
	consumed, refilled := 0.0, 0.0
	for _, ev := range cs.absorptions {
		if inWindow(ev.Timestamp, from, to) {
			consumed += ev.ConsumedSize
		}
	}
	for _, ev := range cs.refills {
		if inWindow(ev.Timestamp, from, to) {
			refilled += ev.AddedSize
		}
	}
	if consumed == 0 {
		return 0, false
	}
	ratio = refilled / consumed
	return ratio, ratio >= t.cfg.ReplenishmentMinRatio
}

func (t *Tracker) sellVolumePercentile(cs *coinState, windowTrades []Trade) float64 {
	sellVol := 0.0
	for _, tr := range windowTrades {
		if tr.IsSell {
			sellVol += tr.Volume
		}
	}
	cs.sellVolHistory = append(cs.sellVolHistory, sellVol)
	if len(cs.sellVolHistory) > t.cfg.HistorySize {
		cs.sellVolHistory = cs.sellVolHistory[len(cs.sellVolHistory)-t.cfg.HistorySize:]
	}
	return percentileOf(cs.sellVolHistory, sellVol, t.cfg.MinHistoryForPercentile, t.cfg.NeutralPercentile)
}

func (t *Tracker) aggressorFailureSignal(windowTrades []Trade, regime RegimeContext, sellVolPctile float64) bool {
	lo, hi := math.Inf(1), math.Inf(-1)
	hasSell := false
	for _, tr := range windowTrades {
		if !tr.IsSell {
			continue
		}
		hasSell = true
		if tr.Price < lo {
			lo = tr.Price
		}
		if tr.Price > hi {
			hi = tr.Price
		}
	}
	if !hasSell {
		return false
	}
	mid := (lo + hi) / 2
	var sellRangeBps float64
	if mid > 0 {
		sellRangeBps = (hi - lo) / mid * 10000
	}
	expectedRange := regime.ATRProxy * regime.Window.Seconds()
	if expectedRange <= 0 {
		return false
	}
	ratio := sellRangeBps / expectedRange
	return ratio < t.cfg.AggressorRangeMax && sellVolPctile >= t.cfg.SellVolumePercentile
}

func (t *Tracker) deltaDivergenceSignal(windowTrades []Trade, sellVolPctile float64) (slope float64, signal bool) {
	if len(windowTrades) < 2 {
		return 0, false
	}
	mid := windowTrades[0].Timestamp.Add(windowTrades[len(windowTrades)-1].Timestamp.Sub(windowTrades[0].Timestamp) / 2)

	firstDelta, secondDelta, totalVolume := 0.0, 0.0, 0.0
	for _, tr := range windowTrades {
		signed := tr.Volume
		if tr.IsSell {
			signed = -signed
		}
		totalVolume += tr.Volume
		if tr.Timestamp.Before(mid) {
			firstDelta += signed
		} else {
			secondDelta += signed
		}
	}
	if totalVolume == 0 {
		return 0, false
	}
	slope = (secondDelta - firstDelta) / totalVolume
	signal = math.Abs(slope) <= t.cfg.DeltaSlopeTolerance && sellVolPctile >= t.cfg.SellVolumePercentile
	return slope, signal
}

func tradesSince(trades []Trade, from, to time.Time) []Trade {
	out := make([]Trade, 0, len(trades))
	for _, tr := range trades {
		if inWindow(tr.Timestamp, from, to) {
			out = append(out, tr)
		}
	}
	return out
}

func inWindow(ts, from, to time.Time) bool {
	return ts.After(from) && !ts.After(to)
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func meanStdDev(xs []float64) (mean, stddev float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))
	variance := 0.0
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	variance /= float64(len(xs))
	return mean, math.Sqrt(variance)
}

// percentileOf returns the percentile rank (0-100) of value within history.
// With fewer than minHistory entries, returns the neutral percentile
// (§4.D edge case).
func percentileOf(history []float64, value float64, minHistory int, neutral float64) float64 {
	if len(history) < minHistory {
		return neutral
	}
	below := 0
	for _, h := range history {
		if h <= value {
			below++
		}
	}
	return float64(below) / float64(len(history)) * 100
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
