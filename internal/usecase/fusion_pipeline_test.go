package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FuseGate/internal/domain/models"
	"FuseGate/internal/fusion"
	"FuseGate/internal/gate"
	"FuseGate/internal/service/refdata"
	"FuseGate/pkg/logger"
)

type fakeMetrics struct {
	mu    sync.Mutex
	drops map[string]int
}

func newFakeMetrics() *fakeMetrics { return &fakeMetrics{drops: make(map[string]int)} }

func (m *fakeMetrics) RecordSample(string, float64)                    {}
func (m *fakeMetrics) RecordDivergence(string, models.DivergenceLevel) {}
func (m *fakeMetrics) RecordSignal(string, models.Direction)           {}
func (m *fakeMetrics) RecordDecision(string, models.Outcome)           {}
func (m *fakeMetrics) RecordError(string)                              {}
func (m *fakeMetrics) RecordLatency(string, float64)                   {}

func (m *fakeMetrics) RecordDrop(reason string) {
	m.mu.Lock()
	m.drops[reason]++
	m.mu.Unlock()
}

func (m *fakeMetrics) dropCount(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drops[reason]
}

type fakeRefSource struct {
	failing bool
}

func (f *fakeRefSource) Fetch(ctx context.Context, instrument string, asOf time.Time) (*models.ReferenceSeries, error) {
	if f.failing {
		return nil, errors.New("provider down")
	}
	return &models.ReferenceSeries{
		Instrument: instrument,
		FetchedAt:  time.Now(),
		Points:     []models.ReferencePoint{{Timestamp: asOf.Add(-time.Second), Price: 1.1905}},
	}, nil
}

type fakeAdvisor struct {
	mu         sync.Mutex
	calls      int32
	direction  models.Direction
	confidence float64
	err        error
}

func (f *fakeAdvisor) Advise(ctx context.Context, snapshot models.MarketSnapshot, indicators models.IndicatorSet, trend models.MacroTrend) (*models.Signal, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &models.Signal{
		ID:         uuid.NewString(),
		Snapshot:   snapshot,
		Indicators: indicators,
		Direction:  f.direction,
		Confidence: f.confidence,
		Rationale:  "test advice",
		CreatedAt:  time.Now(),
	}, nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "console", Output: "stderr"})
	require.NoError(t, err)
	return l
}

func newPipeline(t *testing.T, advisor *fakeAdvisor, source *fakeRefSource) (*FusionPipeline, *gate.Gate, *fakeMetrics) {
	t.Helper()
	log := testLogger(t)
	metrics := newFakeMetrics()
	g := gate.New(log, gate.WithTTL(time.Minute))
	p := NewFusionPipeline(
		refdata.NewCache(source, log, refdata.WithStaleness(time.Hour)),
		fusion.NewEngine(),
		advisor,
		g,
		metrics,
		log,
	)
	return p, g, metrics
}

func feed(t *testing.T, p *FusionPipeline, instrument string, n int) {
	t.Helper()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < n; i++ {
		err := p.Process(context.Background(), &models.PriceSample{
			Instrument: instrument,
			Timestamp:  base.Add(time.Duration(i) * time.Second),
			Price:      1.19 + float64(i%5)*0.0001,
		})
		require.NoError(t, err)
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestNoInferenceDuringWarmup(t *testing.T) {
	advisor := &fakeAdvisor{direction: models.DirectionBuy, confidence: 0.9}
	p, _, _ := newPipeline(t, advisor, &fakeRefSource{})

	feed(t, p, "EURUSD", 15)
	time.Sleep(100 * time.Millisecond)

	assert.EqualValues(t, 0, atomic.LoadInt32(&advisor.calls),
		"advisor must not run before every indicator is warm")
}

func TestReadyIndicatorsTriggerSubmission(t *testing.T) {
	advisor := &fakeAdvisor{direction: models.DirectionBuy, confidence: 0.9}
	p, g, _ := newPipeline(t, advisor, &fakeRefSource{})

	feed(t, p, "EURUSD", 25)

	waitFor(t, func() bool { return g.CurrentState() == gate.StatePending },
		"ready indicators never produced a pending signal")

	pending, _, ok := g.Pending()
	require.True(t, ok)
	assert.Equal(t, models.DirectionBuy, pending.Direction)
	assert.Equal(t, "EURUSD", pending.Snapshot.Instrument)
}

func TestHoldAdviceNotSubmitted(t *testing.T) {
	advisor := &fakeAdvisor{direction: models.DirectionHold, confidence: 0.9}
	p, g, metrics := newPipeline(t, advisor, &fakeRefSource{})

	feed(t, p, "EURUSD", 25)
	waitFor(t, func() bool { return atomic.LoadInt32(&advisor.calls) > 0 },
		"advisor never invoked")
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, gate.StateIdle, g.CurrentState())
	assert.GreaterOrEqual(t, metrics.dropCount("hold_signal"), 1)
}

func TestLowConfidenceDropped(t *testing.T) {
	advisor := &fakeAdvisor{direction: models.DirectionBuy, confidence: 0.3}
	log := testLogger(t)
	metrics := newFakeMetrics()
	g := gate.New(log, gate.WithTTL(time.Minute))
	p := NewFusionPipeline(
		refdata.NewCache(&fakeRefSource{}, log, refdata.WithStaleness(time.Hour)),
		fusion.NewEngine(),
		advisor,
		g,
		metrics,
		log,
		WithMinConfidence(0.6),
	)

	feed(t, p, "EURUSD", 25)
	waitFor(t, func() bool { return metrics.dropCount("low_confidence") > 0 },
		"low confidence advice was not dropped")
	assert.Equal(t, gate.StateIdle, g.CurrentState())
}

func TestReferenceOutageDegradesNotFails(t *testing.T) {
	advisor := &fakeAdvisor{direction: models.DirectionBuy, confidence: 0.9}
	p, _, _ := newPipeline(t, advisor, &fakeRefSource{failing: true})

	feed(t, p, "EURUSD", 5)

	indicators, _, ok := p.Indicators("EURUSD")
	require.True(t, ok)
	assert.Equal(t, 5, indicators.SampleCount,
		"degraded cycles still feed the indicators from the local price")
}

func TestInferenceFailureSkipsCycle(t *testing.T) {
	advisor := &fakeAdvisor{err: errors.New("inference down")}
	p, g, _ := newPipeline(t, advisor, &fakeRefSource{})

	feed(t, p, "EURUSD", 25)
	waitFor(t, func() bool { return atomic.LoadInt32(&advisor.calls) > 0 },
		"advisor never invoked")
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, gate.StateIdle, g.CurrentState())
}

func TestIndicatorsUnknownInstrument(t *testing.T) {
	p, _, _ := newPipeline(t, &fakeAdvisor{direction: models.DirectionHold}, &fakeRefSource{})
	_, _, ok := p.Indicators("GBPUSD")
	assert.False(t, ok)
}

func TestResetIndicators(t *testing.T) {
	advisor := &fakeAdvisor{direction: models.DirectionHold, confidence: 0.5}
	p, _, _ := newPipeline(t, advisor, &fakeRefSource{})

	feed(t, p, "EURUSD", 10)
	p.ResetIndicators("EURUSD")

	indicators, _, ok := p.Indicators("EURUSD")
	require.True(t, ok)
	assert.Equal(t, 0, indicators.SampleCount)
}
