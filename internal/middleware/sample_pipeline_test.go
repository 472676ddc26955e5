package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FuseGate/internal/domain/models"
)

type recordingProc struct {
	mu      sync.Mutex
	samples []*models.PriceSample
	fail    bool
}

func (r *recordingProc) Process(ctx context.Context, s *models.PriceSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("downstream down")
	}
	r.samples = append(r.samples, s)
	return nil
}

func (r *recordingProc) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

type nopMetrics struct {
	mu    sync.Mutex
	drops map[string]int
}

func newNopMetrics() *nopMetrics { return &nopMetrics{drops: make(map[string]int)} }

func (m *nopMetrics) RecordSample(string, float64)                    {}
func (m *nopMetrics) RecordDivergence(string, models.DivergenceLevel) {}
func (m *nopMetrics) RecordSignal(string, models.Direction)           {}
func (m *nopMetrics) RecordDecision(string, models.Outcome)           {}
func (m *nopMetrics) RecordError(string)                              {}
func (m *nopMetrics) RecordLatency(string, float64)                   {}

func (m *nopMetrics) RecordDrop(reason string) {
	m.mu.Lock()
	m.drops[reason]++
	m.mu.Unlock()
}

func (m *nopMetrics) dropCount(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drops[reason]
}

func sample(instrument string, ts time.Time, price float64) *models.PriceSample {
	return &models.PriceSample{Instrument: instrument, Timestamp: ts, Price: price}
}

func TestProcessForwardsValidSamples(t *testing.T) {
	proc := &recordingProc{}
	p := NewSamplePipeline(proc, newNopMetrics(), WithMaxRPS(0))

	base := time.Now()
	for i := 0; i < 5; i++ {
		err := p.Process(context.Background(), sample("EURUSD", base.Add(time.Duration(i)*time.Second), 1.19))
		require.NoError(t, err)
	}
	assert.Equal(t, 5, proc.count())
}

func TestProcessRejectsInvalid(t *testing.T) {
	proc := &recordingProc{}
	p := NewSamplePipeline(proc, newNopMetrics())

	cases := []*models.PriceSample{
		nil,
		sample("", time.Now(), 1.19),
		sample("EURUSD", time.Time{}, 1.19),
		sample("EURUSD", time.Now(), 0),
		sample("EURUSD", time.Now(), -1),
	}
	for _, s := range cases {
		assert.Error(t, p.Process(context.Background(), s))
	}
	assert.Equal(t, 0, proc.count())
}

func TestProcessDropsOutOfOrderAndDuplicates(t *testing.T) {
	proc := &recordingProc{}
	metrics := newNopMetrics()
	p := NewSamplePipeline(proc, metrics, WithMaxRPS(0))

	base := time.Now()
	require.NoError(t, p.Process(context.Background(), sample("EURUSD", base, 1.19)))
	require.NoError(t, p.Process(context.Background(), sample("EURUSD", base, 1.20)))                      // duplicate ts
	require.NoError(t, p.Process(context.Background(), sample("EURUSD", base.Add(-time.Second), 1.18)))    // behind watermark
	require.NoError(t, p.Process(context.Background(), sample("EURUSD", base.Add(time.Second), 1.21)))     // in order
	require.NoError(t, p.Process(context.Background(), sample("GBPUSD", base.Add(-time.Minute), 1.2600))) // other instrument unaffected

	assert.Equal(t, 3, proc.count())
	assert.Equal(t, 2, metrics.dropCount("out_of_order"))
}

func TestProcessThrottlesPerInstrument(t *testing.T) {
	proc := &recordingProc{}
	metrics := newNopMetrics()
	p := NewSamplePipeline(proc, metrics, WithMaxRPS(1))

	base := time.Now()
	require.NoError(t, p.Process(context.Background(), sample("EURUSD", base, 1.19)))
	require.NoError(t, p.Process(context.Background(), sample("EURUSD", base.Add(time.Millisecond), 1.20)))

	assert.Equal(t, 1, proc.count(), "second sample inside the window is throttled")
	assert.Equal(t, 1, metrics.dropCount("throttle"))
}

func TestDownstreamFailureBuffersAndFlushes(t *testing.T) {
	proc := &recordingProc{fail: true}
	metrics := newNopMetrics()
	p := NewSamplePipeline(proc, metrics, WithMaxRPS(0), WithBufferSize(10))
	p.Start(context.Background())
	defer p.Stop()

	err := p.Process(context.Background(), sample("EURUSD", time.Now(), 1.19))
	require.Error(t, err)

	proc.mu.Lock()
	proc.fail = false
	proc.mu.Unlock()

	deadline := time.Now().Add(3 * time.Second)
	for proc.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	assert.Equal(t, 1, proc.count(), "buffered sample flushed once downstream recovers")
}

func TestBufferOverflowIsAccountedDrop(t *testing.T) {
	proc := &recordingProc{fail: true}
	metrics := newNopMetrics()
	p := NewSamplePipeline(proc, metrics, WithMaxRPS(0), WithBufferSize(1))

	base := time.Now()
	_ = p.Process(context.Background(), sample("EURUSD", base, 1.19))
	_ = p.Process(context.Background(), sample("EURUSD", base.Add(time.Second), 1.20))

	assert.Equal(t, 1, metrics.dropCount("pipeline_buffer"))
}
