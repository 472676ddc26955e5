package models

import "time"

// IndicatorSet is the incremental indicator state snapshot emitted once per
// fused tick. RSIReady is false during the RSI warm-up; Ready is false until
// every indicator has seen its full period. Callers must treat a not-ready
// reading as "no reading", never as a neutral value.
type IndicatorSet struct {
	RSI            float64
	RSIReady       bool
	EMAFast        float64
	EMASlow        float64
	BollingerUpper float64
	BollingerMid   float64
	BollingerLower float64
	SampleCount    int
	Ready          bool
}

// Direction is the advised trade direction.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionHold Direction = "HOLD"
)

// ValidDirection reports whether d is one of the enumerated directions.
func ValidDirection(d Direction) bool {
	switch d {
	case DirectionBuy, DirectionSell, DirectionHold:
		return true
	}
	return false
}

// Signal is an inference-produced trade candidate. Immutable once created;
// at most one signal is pending human approval at any time.
type Signal struct {
	ID         string
	Snapshot   MarketSnapshot
	Indicators IndicatorSet
	Direction  Direction
	Confidence float64
	Rationale  string
	CreatedAt  time.Time
}

// Outcome is the terminal result of a signal's approval lifecycle.
type Outcome string

const (
	OutcomeApproved Outcome = "APPROVED"
	OutcomeRejected Outcome = "REJECTED"
	OutcomeExpired  Outcome = "EXPIRED"
)

// Decision is the single terminal record produced for a signal. Exactly one
// decision exists per signal id.
type Decision struct {
	SignalID   string
	Instrument string
	Direction  Direction
	Confidence float64
	Rationale  string
	LocalPrice float64
	RSI        float64
	Outcome    Outcome
	ResolvedAt time.Time
}
