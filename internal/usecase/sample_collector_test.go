package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FuseGate/internal/domain/models"
	mid "FuseGate/internal/middleware"
)

// fakeStream mimics the websocket feed's channel lifecycle: a terminal read
// error is delivered on the error channel and then both channels close.
type fakeStream struct {
	mu         sync.Mutex
	readCalls  int
	reconnects int
	connected  bool

	samples   chan *models.PriceSample
	errs      chan error
	genClosed bool
}

func (f *fakeStream) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeStream) Subscribe(ctx context.Context) error { return nil }

func (f *fakeStream) Reconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	f.connected = true
	return nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.closeGenLocked()
	return nil
}

func (f *fakeStream) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeStream) Read(ctx context.Context) (<-chan *models.PriceSample, <-chan error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCalls++
	f.samples = make(chan *models.PriceSample, 8)
	f.errs = make(chan error, 1)
	f.genClosed = false
	return f.samples, f.errs
}

// emit waits for the current channel generation; the collector calls Read
// from its consume goroutine, so the channels may not exist yet.
func (f *fakeStream) emit(s *models.PriceSample) {
	for {
		f.mu.Lock()
		ch := f.samples
		open := ch != nil && !f.genClosed
		f.mu.Unlock()
		if open {
			ch <- s
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func (f *fakeStream) failRead(err error) {
	for {
		f.mu.Lock()
		if f.samples != nil && !f.genClosed {
			f.errs <- err
			f.closeGenLocked()
			f.mu.Unlock()
			return
		}
		f.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
}

func (f *fakeStream) closeGenLocked() {
	if f.samples != nil && !f.genClosed {
		close(f.errs)
		close(f.samples)
		f.genClosed = true
	}
}

func (f *fakeStream) stats() (reads, reconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readCalls, f.reconnects
}

func streamSample(instrument string, ts time.Time, price float64) *models.PriceSample {
	return &models.PriceSample{Instrument: instrument, Timestamp: ts, Price: price}
}

func newCollector(t *testing.T, stream *fakeStream, opts ...CollectorOption) (*SampleCollector, *FusionPipeline, *fakeMetrics) {
	t.Helper()
	advisor := &fakeAdvisor{direction: models.DirectionHold, confidence: 0.5}
	pipeline, _, metrics := newPipeline(t, advisor, &fakeRefSource{})
	pipe := mid.NewSamplePipeline(pipeline, metrics, mid.WithMaxRPS(1000))
	collector := NewSampleCollector(stream, pipe, pipeline, metrics, testLogger(t), opts...)
	collector.reconnectWait = 10 * time.Millisecond
	return collector, pipeline, metrics
}

func TestCollectorRereadsAfterFeedError(t *testing.T) {
	stream := &fakeStream{}
	collector, pipeline, _ := newCollector(t, stream)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, collector.Start(ctx))
	defer func() { _ = collector.Shutdown(context.Background()) }()

	base := time.Now().Add(-time.Minute)
	stream.emit(streamSample("EURUSD", base, 1.1900))
	waitFor(t, func() bool {
		set, _, ok := pipeline.Indicators("EURUSD")
		return ok && set.SampleCount == 1
	}, "first sample never reached the pipeline")

	// terminal read error: channels close exactly like the websocket feed
	stream.failRead(fmt.Errorf("read: connection reset"))

	waitFor(t, func() bool {
		reads, reconnects := stream.stats()
		return reconnects >= 1 && reads >= 2
	}, "collector never re-read the stream after reconnecting")

	// samples on the fresh channels must flow again
	stream.emit(streamSample("EURUSD", base.Add(time.Second), 1.1901))
	waitFor(t, func() bool {
		set, _, ok := pipeline.Indicators("EURUSD")
		return ok && set.SampleCount == 2
	}, "reconnected feed delivered no samples")
}

func TestCollectorReconnectRetriesUntilSuccess(t *testing.T) {
	stream := &failingReconnectStream{fakeStream: &fakeStream{}, failures: 2}
	advisor := &fakeAdvisor{direction: models.DirectionHold, confidence: 0.5}
	pipeline, _, metrics := newPipeline(t, advisor, &fakeRefSource{})
	pipe := mid.NewSamplePipeline(pipeline, metrics)
	collector := NewSampleCollector(stream, pipe, pipeline, metrics, testLogger(t))
	collector.reconnectWait = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, collector.Start(ctx))
	defer func() { _ = collector.Shutdown(context.Background()) }()

	stream.failRead(fmt.Errorf("read: broken pipe"))

	waitFor(t, func() bool {
		reads, reconnects := stream.stats()
		return reconnects >= 3 && reads >= 2
	}, "collector gave up before reconnect succeeded")
}

// failingReconnectStream fails the first n Reconnect calls.
type failingReconnectStream struct {
	*fakeStream
	failures int
}

func (f *failingReconnectStream) Reconnect(ctx context.Context) error {
	f.mu.Lock()
	f.reconnects++
	remaining := f.failures
	if remaining > 0 {
		f.failures--
	}
	f.mu.Unlock()
	if remaining > 0 {
		return fmt.Errorf("dial: connection refused")
	}
	return f.fakeStream.Connect(ctx)
}

func TestCollectorStagnationWatchdog(t *testing.T) {
	stream := &fakeStream{}
	collector, pipeline, _ := newCollector(t, stream,
		WithStagnationTimeout(90*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, collector.Start(ctx))
	defer func() { _ = collector.Shutdown(context.Background()) }()

	stream.emit(streamSample("EURUSD", time.Now().Add(-time.Minute), 1.1900))
	waitFor(t, func() bool {
		set, _, ok := pipeline.Indicators("EURUSD")
		return ok && set.SampleCount == 1
	}, "sample never reached the pipeline")

	// feed goes silent; the watchdog must kick the stream and the consume
	// loop must bring up a fresh read
	waitFor(t, func() bool {
		reads, reconnects := stream.stats()
		return reconnects >= 1 && reads >= 2
	}, "stagnant feed was never reconnected")

	waitFor(t, func() bool {
		set, _, ok := pipeline.Indicators("EURUSD")
		return ok && set.SampleCount == 0
	}, "indicator state survived the stagnation reset")
}

func TestCollectorShutdownStopsReconnecting(t *testing.T) {
	stream := &fakeStream{}
	collector, _, _ := newCollector(t, stream)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, collector.Start(ctx))

	require.NoError(t, collector.Shutdown(context.Background()))
	time.Sleep(50 * time.Millisecond)

	_, reconnects := stream.stats()
	assert.Zero(t, reconnects, "shutdown must not trigger a reconnect")
	assert.False(t, stream.IsConnected())
}
