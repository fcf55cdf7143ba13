// Package metrics exposes Prometheus instrumentation for the platform.
// It mirrors the registration and update style of the codebase this
// repository grew from: a dedicated registry (never the global default),
// namespaced vectors, and small mutex-guarded update helpers rather than
// scattering *prometheus.GaugeVec references through business logic.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "liqguard"

var (
	mu       sync.Mutex
	Registry = prometheus.NewRegistry()

	pollCycleDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "poller",
		Name:      "poll_cycle_duration_seconds",
		Help:      "Duration of a completed poll cycle.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tier"})

	walletsPerTier = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "poller",
		Name:      "wallets_per_tier",
		Help:      "Current wallet population by tier.",
	}, []string{"tier"})

	liquidationsDetected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "poller",
		Name:      "liquidations_detected_total",
		Help:      "Liquidation events derived from position-disappearance diffs.",
	}, []string{"coin"})

	apiErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "poller",
		Name:      "api_errors_total",
		Help:      "Exchange adapter errors encountered while polling.",
	}, []string{"tier"})

	cascadePhase = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cascade",
		Name:      "phase",
		Help:      "Current cascade phase per coin, as an enum code.",
	}, []string{"coin"})

	absorptionSignalCount = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "absorption",
		Name:      "active_signal_count",
		Help:      "Number of active absorption confirmation signals per coin.",
	}, []string{"coin"})

	riskRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "trade_rejections_total",
		Help:      "Trades rejected by the capital manager, by reason.",
	}, []string{"reason"})

	drawdownState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "drawdown_state",
		Help:      "Current drawdown tracker state, as an enum code.",
	}, []string{"account"})

	breakerTrips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "breaker_trips_total",
		Help:      "Circuit breaker trip events by breaker name.",
	}, []string{"breaker"})

	rawStoreWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "writes_total",
		Help:      "Append-only raw store writes by table.",
	}, []string{"table"})
)

// Init registers every collector with Registry. Safe to call once at
// process startup; a second call is a no-op guarded by AlreadyRegistered.
func Init() {
	mu.Lock()
	defer mu.Unlock()
	for _, c := range []prometheus.Collector{
		pollCycleDuration, walletsPerTier, liquidationsDetected, apiErrors,
		cascadePhase, absorptionSignalCount, riskRejections, drawdownState,
		breakerTrips, rawStoreWrites,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := Registry.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
}

func RecordPollCycle(tier string, seconds float64) {
	mu.Lock()
	defer mu.Unlock()
	pollCycleDuration.WithLabelValues(tier).Observe(seconds)
}

func SetWalletsPerTier(tier string, n int) {
	mu.Lock()
	defer mu.Unlock()
	walletsPerTier.WithLabelValues(tier).Set(float64(n))
}

func IncLiquidation(coin string) {
	mu.Lock()
	defer mu.Unlock()
	liquidationsDetected.WithLabelValues(coin).Inc()
}

func IncAPIError(tier string) {
	mu.Lock()
	defer mu.Unlock()
	apiErrors.WithLabelValues(tier).Inc()
}

func SetCascadePhase(coin string, phaseCode int) {
	mu.Lock()
	defer mu.Unlock()
	cascadePhase.WithLabelValues(coin).Set(float64(phaseCode))
}

func SetAbsorptionSignalCount(coin string, n int) {
	mu.Lock()
	defer mu.Unlock()
	absorptionSignalCount.WithLabelValues(coin).Set(float64(n))
}

func IncRiskRejection(reason string) {
	mu.Lock()
	defer mu.Unlock()
	riskRejections.WithLabelValues(reason).Inc()
}

func SetDrawdownState(account string, stateCode int) {
	mu.Lock()
	defer mu.Unlock()
	drawdownState.WithLabelValues(account).Set(float64(stateCode))
}

func IncBreakerTrip(name string) {
	mu.Lock()
	defer mu.Unlock()
	breakerTrips.WithLabelValues(name).Inc()
}

func IncRawStoreWrite(table string) {
	mu.Lock()
	defer mu.Unlock()
	rawStoreWrites.WithLabelValues(table).Inc()
}
