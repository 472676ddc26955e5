package fusion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FuseGate/internal/domain/models"
)

func sampleAt(t time.Time, price float64) *models.PriceSample {
	return &models.PriceSample{Instrument: "EURUSD", Timestamp: t, Price: price}
}

func TestClassify(t *testing.T) {
	e := NewEngine()

	tests := []struct {
		delta float64
		want  models.DivergenceLevel
	}{
		{0.0, models.DivergenceMatch},
		{0.01, models.DivergenceMatch},
		{0.011, models.DivergenceModerate},
		{0.05, models.DivergenceModerate},
		{0.051, models.DivergenceSignificant},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.Classify(tt.delta), "delta=%v", tt.delta)
	}
}

func TestFusePicksClosestPointNotAfterSample(t *testing.T) {
	e := NewEngine()
	base := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

	series := &models.ReferenceSeries{
		Instrument: "EURUSD",
		FetchedAt:  base,
		Points: []models.ReferencePoint{
			{Timestamp: base.Add(-30 * time.Second), Price: 1.1890},
			{Timestamp: base.Add(-10 * time.Second), Price: 1.1905},
			{Timestamp: base.Add(20 * time.Second), Price: 1.1950},
		},
	}

	snap := e.Fuse(sampleAt(base, 1.1900), series)

	require.False(t, snap.Degraded)
	assert.Equal(t, 1.1900, snap.LocalPrice)
	assert.Equal(t, 1.1905, snap.ReferencePrice)
	assert.InDelta(t, 0.0005, snap.Divergence, 1e-9)
	assert.Equal(t, models.DivergenceMatch, snap.DivergenceLevel)
}

func TestFuseDegradesOnEmptySeries(t *testing.T) {
	e := NewEngine()
	now := time.Now()

	for _, series := range []*models.ReferenceSeries{
		nil,
		{Instrument: "EURUSD"},
	} {
		snap := e.Fuse(sampleAt(now, 1.2000), series)
		assert.True(t, snap.Degraded)
		assert.Equal(t, 1.2000, snap.ReferencePrice)
		assert.Equal(t, models.DivergenceMatch, snap.DivergenceLevel)
		assert.Zero(t, snap.Divergence)
	}
}

func TestFuseDegradesWhenAllPointsNewer(t *testing.T) {
	e := NewEngine()
	now := time.Now()

	series := &models.ReferenceSeries{
		Instrument: "EURUSD",
		Points: []models.ReferencePoint{
			{Timestamp: now.Add(time.Minute), Price: 1.30},
		},
	}
	snap := e.Fuse(sampleAt(now, 1.25), series)
	assert.True(t, snap.Degraded)
	assert.Equal(t, 1.25, snap.ReferencePrice)
}

func TestFusePreservesSampleOrder(t *testing.T) {
	e := NewEngine()
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	series := &models.ReferenceSeries{
		Instrument: "EURUSD",
		Points:     []models.ReferencePoint{{Timestamp: base.Add(-time.Minute), Price: 1.19}},
	}

	var prev time.Time
	for i := 0; i < 50; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		snap := e.Fuse(sampleAt(ts, 1.19+float64(i)*0.0001), series)
		require.False(t, snap.Timestamp.Before(prev), "snapshot order broken at %d", i)
		prev = snap.Timestamp
	}
}

func TestFuseCarriesStaleFlag(t *testing.T) {
	e := NewEngine()
	now := time.Now()
	series := &models.ReferenceSeries{
		Instrument: "EURUSD",
		Stale:      true,
		Points:     []models.ReferencePoint{{Timestamp: now.Add(-time.Minute), Price: 1.19}},
	}
	snap := e.Fuse(sampleAt(now, 1.19), series)
	assert.True(t, snap.StaleReference)
}

func TestFuseScenario(t *testing.T) {
	// sample 10:00:00 @ 1.1900 against cached point 09:59:50 @ 1.1905
	e := NewEngine()
	ts := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	series := &models.ReferenceSeries{
		Instrument: "EURUSD",
		Points:     []models.ReferencePoint{{Timestamp: ts.Add(-10 * time.Second), Price: 1.1905}},
	}
	snap := e.Fuse(sampleAt(ts, 1.1900), series)
	assert.Equal(t, 1.1900, snap.LocalPrice)
	assert.Equal(t, 1.1905, snap.ReferencePrice)
	assert.InDelta(t, 0.0005, snap.Divergence, 1e-9)
	assert.Equal(t, models.DivergenceMatch, snap.DivergenceLevel)
}
