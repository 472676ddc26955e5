package models

import "time"

// PriceSample is one locally captured price reading. Samples are immutable;
// ordering and deduplication happen at the feed boundary, not here.
type PriceSample struct {
	Instrument string
	Timestamp  time.Time
	Price      float64
}

// ReferencePoint is one point of an externally sourced price series.
type ReferencePoint struct {
	Timestamp time.Time
	Price     float64
}

// ReferenceSeries is a contextual price series fetched from the reference
// provider. It is replaced wholesale on refetch and never mutated in place.
// Stale marks a series that outlived its freshness window but is still the
// best data available (remote refetch failed).
type ReferenceSeries struct {
	Instrument string
	FetchedAt  time.Time
	Points     []ReferencePoint
	Stale      bool
}

// Empty reports whether the series carries no usable points.
func (s *ReferenceSeries) Empty() bool {
	return s == nil || len(s.Points) == 0
}

// DivergenceLevel classifies the absolute delta between the local and the
// reference price.
type DivergenceLevel string

const (
	DivergenceMatch       DivergenceLevel = "MATCH"
	DivergenceModerate    DivergenceLevel = "MODERATE"
	DivergenceSignificant DivergenceLevel = "SIGNIFICANT"
)

// MarketSnapshot is the fused view of one sample against the reference
// series. Created once per fusion cycle, immutable afterwards.
type MarketSnapshot struct {
	Instrument      string
	Timestamp       time.Time
	LocalPrice      float64
	ReferencePrice  float64
	Divergence      float64
	DivergenceLevel DivergenceLevel
	// Degraded is set when no reference point could be evaluated (empty or
	// all-newer series) and the snapshot runs on the local price alone.
	Degraded bool
	// StaleReference is set when the series used was past its freshness
	// window.
	StaleReference bool
}

// MacroTrend is the coarse direction of the recent price window.
type MacroTrend string

const (
	TrendUp   MacroTrend = "UP"
	TrendDown MacroTrend = "DOWN"
	TrendFlat MacroTrend = "FLAT"
)
