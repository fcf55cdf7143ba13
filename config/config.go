// Package config defines the per-component configuration records used
// across the repository. Every config enumerates its recognized options
// explicitly; constructors that consume a config reject unknown or invalid
// values at construction time, not at first use.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads a local .env file if present. Absence is not an error;
// runners may also inject configuration purely through the process
// environment or through the structs in this package.
func LoadDotEnv(path string) {
	_ = godotenv.Load(path)
}

// PollerConfig configures the tiered wallet poller (§4.B).
type PollerConfig struct {
	Tier1MinValueUSD float64       // default 10_000_000
	Tier2MinValueUSD float64       // default 1_000_000
	Tier3MinValueUSD float64       // minimum retained value, default 100_000
	Tier1Interval     time.Duration // default 5s
	Tier2Interval     time.Duration // default 30s
	Tier3Interval     time.Duration // default 300s
	DemoteAfterEmpty  int           // consecutive empty polls, default 10
	RequestBudgetPerMinute int      // default 1000
	DiscoveryInterval time.Duration // default 5m
	DiscoveryMinNotionalUSD float64 // default 50_000
	DiscoveryCoins    []string
	DemoteErrorThreshold int        // consecutive errors before one-tier demotion, default 5
}

// DefaultPollerConfig returns the defaults stated in §4.B.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Tier1MinValueUSD:        10_000_000,
		Tier2MinValueUSD:        1_000_000,
		Tier3MinValueUSD:        100_000,
		Tier1Interval:           5 * time.Second,
		Tier2Interval:           30 * time.Second,
		Tier3Interval:           300 * time.Second,
		DemoteAfterEmpty:        10,
		RequestBudgetPerMinute:  1000,
		DiscoveryInterval:       5 * time.Minute,
		DiscoveryMinNotionalUSD: 50_000,
		DemoteErrorThreshold:    5,
	}
}

// Validate rejects an invalid poller config at construction time.
func (c PollerConfig) Validate() error {
	if c.Tier1MinValueUSD <= c.Tier2MinValueUSD || c.Tier2MinValueUSD <= c.Tier3MinValueUSD {
		return fmt.Errorf("poller config: tier thresholds must be strictly decreasing tier1>tier2>tier3")
	}
	if c.Tier1Interval <= 0 || c.Tier2Interval <= 0 || c.Tier3Interval <= 0 {
		return fmt.Errorf("poller config: tier intervals must be positive")
	}
	if c.RequestBudgetPerMinute <= 0 {
		return fmt.Errorf("poller config: request budget must be positive")
	}
	if c.DemoteAfterEmpty <= 0 {
		return fmt.Errorf("poller config: demote-after-empty must be positive")
	}
	return nil
}

// CascadeConfig configures the cascade momentum tracker (§4.C).
type CascadeConfig struct {
	BufferWindow          time.Duration // default 60s
	IdleRateThreshold     float64       // |rate_5s| default 0.05 (%/s)
	AccelerationThreshold float64       // default 0.005 (%/s^2)
	ExhaustionSilence     time.Duration // default 10s
	SignificantDropPct    float64       // default 0.1 (% per step)
}

func DefaultCascadeConfig() CascadeConfig {
	return CascadeConfig{
		BufferWindow:          60 * time.Second,
		IdleRateThreshold:     0.05,
		AccelerationThreshold: 0.005,
		ExhaustionSilence:     10 * time.Second,
		SignificantDropPct:    0.1,
	}
}

func (c CascadeConfig) Validate() error {
	if c.BufferWindow <= 0 || c.ExhaustionSilence <= 0 {
		return fmt.Errorf("cascade config: durations must be positive")
	}
	if c.AccelerationThreshold <= 0 {
		return fmt.Errorf("cascade config: acceleration threshold must be positive")
	}
	return nil
}

// AbsorptionConfig configures the regime-adaptive absorption tracker (§4.D).
type AbsorptionConfig struct {
	Lookback                time.Duration // default 30s
	RatioPercentile          float64       // default 70
	ReplenishmentMinRatio    float64       // default 0.30
	AggressorRangeMax        float64       // default 0.5
	SellVolumePercentile     float64       // default 60
	DeltaSlopeTolerance      float64       // default 0.15
	HistorySize              int           // default 100
	MinHistoryForPercentile  int           // default 5
	NeutralPercentile        float64       // default 50
	MinWindow                time.Duration // default 2s
	MaxWindow                time.Duration // default 15s
	NoTradeWindow            time.Duration // default 15s
	WindowNumerator          float64       // default 50 (trades), used in clamp(50/rate,...)
}

func DefaultAbsorptionConfig() AbsorptionConfig {
	return AbsorptionConfig{
		Lookback:                30 * time.Second,
		RatioPercentile:         70,
		ReplenishmentMinRatio:   0.30,
		AggressorRangeMax:       0.5,
		SellVolumePercentile:    60,
		DeltaSlopeTolerance:     0.15,
		HistorySize:             100,
		MinHistoryForPercentile: 5,
		NeutralPercentile:       50,
		MinWindow:               2 * time.Second,
		MaxWindow:               15 * time.Second,
		NoTradeWindow:           15 * time.Second,
		WindowNumerator:         50,
	}
}

func (c AbsorptionConfig) Validate() error {
	if c.HistorySize <= 0 {
		return fmt.Errorf("absorption config: history size must be positive")
	}
	if c.MinWindow <= 0 || c.MaxWindow <= c.MinWindow {
		return fmt.Errorf("absorption config: window bounds invalid")
	}
	return nil
}

// LabelerConfig configures the cascade labeler & wave detector (§4.E).
type LabelerConfig struct {
	LookAhead          time.Duration // default 60s
	OIDropThresholdPct float64       // default 10
	MinLiquidations    int           // default 2
	WaveGap            time.Duration // default 30s
	MarkTolerance      time.Duration // default 5s
	PostMoveWindow     time.Duration // default 5m
	NeutralThresholdPct float64      // default 0.5
}

func DefaultLabelerConfig() LabelerConfig {
	return LabelerConfig{
		LookAhead:           60 * time.Second,
		OIDropThresholdPct:  10,
		MinLiquidations:     2,
		WaveGap:             30 * time.Second,
		MarkTolerance:       5 * time.Second,
		PostMoveWindow:      5 * time.Minute,
		NeutralThresholdPct: 0.5,
	}
}

func (c LabelerConfig) Validate() error {
	if c.LookAhead <= 0 || c.WaveGap <= 0 || c.MarkTolerance <= 0 || c.PostMoveWindow <= 0 {
		return fmt.Errorf("labeler config: durations must be positive")
	}
	if c.MinLiquidations < 1 {
		return fmt.Errorf("labeler config: min liquidations must be at least 1")
	}
	return nil
}

// DiscoveryConfig configures threshold discovery & validation (§4.F).
type DiscoveryConfig struct {
	MinTrades             int     // default 20
	SensitivityBand        float64 // default 0.20 (±20%)
	SensitivityTolerance   float64 // default 0.10
	OOSMaxDegradation      float64 // default 0.20
	WalkForwardWindowDays  int
	WalkForwardStepDays    int
}

func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		MinTrades:            20,
		SensitivityBand:      0.20,
		SensitivityTolerance: 0.10,
		OOSMaxDegradation:    0.20,
		WalkForwardWindowDays: 30,
		WalkForwardStepDays:   7,
	}
}

func (c DiscoveryConfig) Validate() error {
	if c.MinTrades < 0 {
		return fmt.Errorf("discovery config: min trades must be non-negative")
	}
	if c.SensitivityTolerance <= 0 || c.OOSMaxDegradation <= 0 {
		return fmt.Errorf("discovery config: tolerances must be positive")
	}
	return nil
}

// RiskConfig configures the whole §4.H risk envelope for one trading account.
type RiskConfig struct {
	// Position sizer
	DefaultRiskFraction float64 // default 0.01
	RiskFloor           float64 // default 0.003
	RiskCeiling         float64 // default 0.02
	WinStreakFor125Pct  int     // default 3
	WinStreakFor150Pct  int     // default 5
	LossResetAfter      int     // default 1
	LossStreakFor75Pct  int     // default 2
	LossStreakFor50Pct  int     // default 4
	KellyFraction       float64 // default 0.10

	// Limits checker
	MaxPerSymbolPctOfCapital   float64 // default 0.05
	MaxAggregatePctOfCapital   float64 // default 0.10
	MaxCorrelatedPctOfCapital  float64 // default 0.07
	CorrelationThreshold       float64 // default 0.70
	MaxConcurrentPositions     int     // default 1
	MaxPortfolioHeat           float64 // default 0.10

	// Drawdown tracker
	WarningDailyLossPct      float64 // default 0.02
	WarningWeeklyLossPct     float64 // default 0.05
	WarningConsecutiveLosses int     // default 3
	DailyCooldownLossPct     float64 // default 0.03
	WeeklyCooldownLossPct    float64 // default 0.07
	ReducedRiskLossStreak    int     // default 5
	RecoveryWinsRequired     int     // default 2
	ConsecutiveLossHalt      int     // default 10
	MaxDrawdownPct           float64 // default 0.25
	MaxDrawdownRecoveryPct   float64 // default 0.15

	// Circuit breakers / degradation
	DegradationMinDwellCycles int // default 3
}

func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		DefaultRiskFraction:       0.01,
		RiskFloor:                 0.003,
		RiskCeiling:               0.02,
		WinStreakFor125Pct:        3,
		WinStreakFor150Pct:        5,
		LossResetAfter:            1,
		LossStreakFor75Pct:        2,
		LossStreakFor50Pct:        4,
		KellyFraction:             0.10,
		MaxPerSymbolPctOfCapital:  0.05,
		MaxAggregatePctOfCapital:  0.10,
		MaxCorrelatedPctOfCapital: 0.07,
		CorrelationThreshold:      0.70,
		MaxConcurrentPositions:    1,
		MaxPortfolioHeat:          0.10,
		WarningDailyLossPct:       0.02,
		WarningWeeklyLossPct:      0.05,
		WarningConsecutiveLosses:  3,
		DailyCooldownLossPct:      0.03,
		WeeklyCooldownLossPct:     0.07,
		ReducedRiskLossStreak:     5,
		RecoveryWinsRequired:      2,
		ConsecutiveLossHalt:       10,
		MaxDrawdownPct:            0.25,
		MaxDrawdownRecoveryPct:    0.15,
		DegradationMinDwellCycles: 3,
	}
}

func (c RiskConfig) Validate() error {
	if c.RiskFloor <= 0 || c.RiskCeiling <= c.RiskFloor {
		return fmt.Errorf("risk config: risk ceiling must exceed risk floor, both positive")
	}
	if c.MaxConcurrentPositions <= 0 {
		return fmt.Errorf("risk config: max concurrent positions must be positive")
	}
	if c.MaxDrawdownRecoveryPct >= c.MaxDrawdownPct {
		return fmt.Errorf("risk config: drawdown recovery threshold must be below the trip threshold")
	}
	if c.DegradationMinDwellCycles <= 0 {
		return fmt.Errorf("risk config: degradation min dwell cycles must be positive")
	}
	return nil
}
