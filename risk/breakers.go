package risk

import (
	"fmt"

	"github.com/ksiaz/liquidation-trading-sub004/metrics"
)

// BreakerName identifies one of the four independent circuit breakers
// (§4.H.5).
type BreakerName string

const (
	BreakerRapidLoss          BreakerName = "rapid_loss"
	BreakerAbnormalPrice      BreakerName = "abnormal_price"
	BreakerStrategyMalfunction BreakerName = "strategy_malfunction"
	BreakerResourceExhaustion BreakerName = "resource_exhaustion"
)

// Breaker is one trip/reset switch with an optional manual-reset
// requirement.
type Breaker struct {
	Name                BreakerName
	ManualResetRequired bool
	tripped             bool
	tripReason          string
}

// NewBreaker constructs a Breaker in the untripped state.
func NewBreaker(name BreakerName, manualResetRequired bool) *Breaker {
	return &Breaker{Name: name, ManualResetRequired: manualResetRequired}
}

func (b *Breaker) Tripped() bool { return b.tripped }

// Trip trips the breaker, logging the reason (§7 Propagation policy:
// operator-visible events are logged).
func (b *Breaker) Trip(reason string) {
	if b.tripped {
		return
	}
	b.tripped = true
	b.tripReason = reason
	metrics.IncBreakerTrip(string(b.Name))
	log.WithFields(map[string]interface{}{"breaker": string(b.Name), "reason": reason}).Infof("circuit breaker tripped")
}

// Reset clears the breaker. Reset fails (returns an error) on a breaker
// whose ManualResetRequired is set; use ManualReset instead.
func (b *Breaker) Reset() error {
	if b.ManualResetRequired {
		return fmt.Errorf("risk: breaker %s requires manual reset", b.Name)
	}
	b.clear()
	return nil
}

// ManualReset clears the breaker regardless of ManualResetRequired,
// representing an operator-initiated override.
func (b *Breaker) ManualReset(operator string) {
	log.WithFields(map[string]interface{}{"breaker": string(b.Name), "operator": operator}).Infof("circuit breaker manually reset")
	b.clear()
}

func (b *Breaker) clear() {
	b.tripped = false
	b.tripReason = ""
}

// DegradationLevel is the aggregate operating level derived from the set of
// currently-tripped breakers.
type DegradationLevel string

const (
	DegradationNormal    DegradationLevel = "NORMAL"
	DegradationReduced   DegradationLevel = "REDUCED"
	DegradationEmergency DegradationLevel = "EMERGENCY"
	DegradationShutdown  DegradationLevel = "SHUTDOWN"
)

// DegradationManager maps the union of tripped breakers to an operating
// level, holding a minimum dwell time at each level and requiring an
// explicit manual reset to leave SHUTDOWN (§4.H.5).
type DegradationManager struct {
	rapidLoss          *Breaker
	abnormalPrice      *Breaker
	strategyMalfunction *Breaker
	resourceExhaustion *Breaker

	level            DegradationLevel
	cyclesAtLevel    int
	minDwellCycles   int
	shutdownManual   bool
}

// NewDegradationManager constructs a manager owning the four breakers.
// minDwellCycles is the minimum number of Evaluate calls spent at a level
// before it may change again.
func NewDegradationManager(minDwellCycles int) *DegradationManager {
	return &DegradationManager{
		rapidLoss:           NewBreaker(BreakerRapidLoss, false),
		abnormalPrice:       NewBreaker(BreakerAbnormalPrice, false),
		strategyMalfunction: NewBreaker(BreakerStrategyMalfunction, true),
		resourceExhaustion:  NewBreaker(BreakerResourceExhaustion, true),
		level:               DegradationNormal,
		minDwellCycles:      minDwellCycles,
	}
}

func (m *DegradationManager) RapidLoss() *Breaker           { return m.rapidLoss }
func (m *DegradationManager) AbnormalPrice() *Breaker       { return m.abnormalPrice }
func (m *DegradationManager) StrategyMalfunction() *Breaker { return m.strategyMalfunction }
func (m *DegradationManager) ResourceExhaustion() *Breaker  { return m.resourceExhaustion }
func (m *DegradationManager) Level() DegradationLevel       { return m.level }

// Evaluate recomputes the degradation level from the union of tripped
// breakers, honoring minimum dwell time and SHUTDOWN's manual-reset gate.
func (m *DegradationManager) Evaluate() DegradationLevel {
	m.cyclesAtLevel++

	if m.level == DegradationShutdown && !m.shutdownManual {
		return m.level
	}

	target := m.target()
	if target == m.level {
		return m.level
	}
	if m.cyclesAtLevel < m.minDwellCycles {
		return m.level
	}

	m.transitionTo(target)
	return m.level
}

func (m *DegradationManager) target() DegradationLevel {
	switch {
	case m.resourceExhaustion.Tripped() && m.strategyMalfunction.Tripped():
		return DegradationShutdown
	case m.strategyMalfunction.Tripped() || m.resourceExhaustion.Tripped():
		return DegradationEmergency
	case m.rapidLoss.Tripped() || m.abnormalPrice.Tripped():
		return DegradationReduced
	default:
		return DegradationNormal
	}
}

func (m *DegradationManager) transitionTo(level DegradationLevel) {
	log.WithFields(map[string]interface{}{"from": string(m.level), "to": string(level)}).Infof("degradation level transition")
	m.level = level
	m.cyclesAtLevel = 0
	if level == DegradationShutdown {
		m.shutdownManual = false
	}
}

// ManualResetShutdown is the opt-in manual-reset requirement for leaving
// SHUTDOWN; Evaluate will not move off SHUTDOWN until this is called.
func (m *DegradationManager) ManualResetShutdown(operator string) {
	log.WithFields(map[string]interface{}{"operator": operator}).Infof("shutdown manually cleared for re-evaluation")
	m.shutdownManual = true
}
