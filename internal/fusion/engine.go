package fusion

import (
	"sort"

	"FuseGate/internal/domain/models"
)

const (
	// Default divergence thresholds in instrument units.
	DefaultMatchThreshold    = 0.01
	DefaultModerateThreshold = 0.05
)

// Engine reconciles one captured sample with the cached reference series
// into a MarketSnapshot. Stateless across calls apart from the thresholds;
// inputs are never mutated.
type Engine struct {
	matchThreshold    float64
	moderateThreshold float64
}

// Option configures Engine.
type Option func(*Engine)

// WithThresholds overrides the divergence classification thresholds.
func WithThresholds(match, moderate float64) Option {
	return func(e *Engine) {
		if match > 0 {
			e.matchThreshold = match
		}
		if moderate > match {
			e.moderateThreshold = moderate
		}
	}
}

// NewEngine creates a fusion engine with default thresholds.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		matchThreshold:    DefaultMatchThreshold,
		moderateThreshold: DefaultModerateThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Fuse builds the snapshot for sample against series. The reference point is
// the one closest to, and not after, the sample timestamp. When the series
// is empty or every point is newer than the sample, the snapshot degrades to
// local-only: referencePrice = localPrice, level MATCH. Degradation is a
// valid state, not an error.
func (e *Engine) Fuse(sample *models.PriceSample, series *models.ReferenceSeries) *models.MarketSnapshot {
	snap := &models.MarketSnapshot{
		Instrument: sample.Instrument,
		Timestamp:  sample.Timestamp,
		LocalPrice: sample.Price,
	}

	ref, ok := referenceAt(series, sample)
	if !ok {
		snap.ReferencePrice = sample.Price
		snap.DivergenceLevel = models.DivergenceMatch
		snap.Degraded = true
		if series != nil {
			snap.StaleReference = series.Stale
		}
		return snap
	}

	snap.ReferencePrice = ref.Price
	snap.Divergence = abs(sample.Price - ref.Price)
	snap.DivergenceLevel = e.Classify(snap.Divergence)
	snap.StaleReference = series.Stale
	return snap
}

// Classify maps an absolute price delta to a divergence level.
func (e *Engine) Classify(delta float64) models.DivergenceLevel {
	switch {
	case delta <= e.matchThreshold:
		return models.DivergenceMatch
	case delta <= e.moderateThreshold:
		return models.DivergenceModerate
	default:
		return models.DivergenceSignificant
	}
}

// referenceAt finds the latest point at or before the sample timestamp.
func referenceAt(series *models.ReferenceSeries, sample *models.PriceSample) (models.ReferencePoint, bool) {
	if series.Empty() {
		return models.ReferencePoint{}, false
	}
	pts := series.Points
	// first index strictly after the sample
	i := sort.Search(len(pts), func(i int) bool {
		return pts[i].Timestamp.After(sample.Timestamp)
	})
	if i == 0 {
		return models.ReferencePoint{}, false
	}
	return pts[i-1], true
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
