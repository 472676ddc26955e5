package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"FuseGate/internal/domain/models"
	domrepo "FuseGate/internal/domain/repository"
)

// Proc is the minimal downstream interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, s *models.PriceSample) error
}

// SamplePipeline sits between the capture feed and the fusion stage. It
// validates samples, drops duplicates and out-of-order timestamps per
// instrument, throttles bursts, and buffers when downstream is unavailable.
// Every drop is accounted through metrics; nothing disappears silently.
type SamplePipeline struct {
	proc    Proc
	metrics domrepo.Metrics
	maxRPS  int
	bufSize int
	bufCh   chan *models.PriceSample
	stopCh  chan struct{}
	started bool
	mu      sync.Mutex

	// per-instrument admission state
	lastAccepted map[string]time.Time // throttle window
	lastSampleTS map[string]time.Time // ordering watermark
}

type PipelineOption func(*SamplePipeline)

// WithMaxRPS sets the max accepted samples per second per instrument.
func WithMaxRPS(n int) PipelineOption {
	return func(p *SamplePipeline) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the buffer capacity used when downstream fails.
func WithBufferSize(n int) PipelineOption {
	return func(p *SamplePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// NewSamplePipeline creates a pipeline in front of proc.
func NewSamplePipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *SamplePipeline {
	p := &SamplePipeline{
		proc:         proc,
		metrics:      metrics,
		maxRPS:       20,
		bufSize:      1000,
		stopCh:       make(chan struct{}),
		lastAccepted: make(map[string]time.Time),
		lastSampleTS: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.PriceSample, p.bufSize)
	return p
}

// Start launches background flushing of buffered samples.
func (p *SamplePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-p.stopCh:
				return
			case s := <-p.bufCh:
				if s == nil {
					continue
				}
				if err := p.proc.Process(ctx, s); err != nil {
					if backoff < 2*time.Second {
						backoff *= 2
					}
					p.metrics.RecordError("pipeline_flush")
					time.Sleep(backoff)
					// requeue if space; drop otherwise
					select {
					case p.bufCh <- s:
					default:
						p.metrics.RecordDrop("pipeline_buffer")
					}
				} else {
					backoff = 50 * time.Millisecond
				}
			}
		}
	}()
}

// Stop stops the background flushing.
func (p *SamplePipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
}

// Process admits one sample: validate, order-check, throttle, forward.
// Downstream failures buffer the sample for the background flusher.
func (p *SamplePipeline) Process(ctx context.Context, s *models.PriceSample) error {
	start := time.Now()
	if err := validateSample(s); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}

	p.mu.Lock()
	if !p.inOrder(s) {
		p.mu.Unlock()
		p.metrics.RecordDrop("out_of_order")
		return nil
	}
	if !p.allow(s.Instrument, start) {
		p.mu.Unlock()
		p.metrics.RecordDrop("throttle")
		return nil
	}
	p.lastSampleTS[s.Instrument] = s.Timestamp
	p.mu.Unlock()

	p.metrics.RecordSample(s.Instrument, s.Price)

	if err := p.proc.Process(ctx, s); err != nil {
		p.metrics.RecordError("pipeline_process")
		select {
		case p.bufCh <- s:
		default:
			p.metrics.RecordDrop("pipeline_buffer")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

func validateSample(s *models.PriceSample) error {
	if s == nil {
		return fmt.Errorf("sample nil")
	}
	if s.Instrument == "" {
		return fmt.Errorf("instrument empty")
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("timestamp invalid")
	}
	if s.Price <= 0 {
		return fmt.Errorf("price not positive")
	}
	return nil
}

// inOrder rejects samples at or behind the instrument's watermark. An equal
// timestamp counts as a replay, not a revision: the first arrival has already
// been forwarded downstream by the time the duplicate shows up, so the later
// value is dropped. Caller holds p.mu.
func (p *SamplePipeline) inOrder(s *models.PriceSample) bool {
	last, ok := p.lastSampleTS[s.Instrument]
	if !ok {
		return true
	}
	return s.Timestamp.After(last)
}

// allow enforces at most maxRPS accepted samples per second per instrument.
// Caller holds p.mu.
func (p *SamplePipeline) allow(instrument string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	last := p.lastAccepted[instrument]
	if !last.IsZero() && now.Sub(last) < time.Second/time.Duration(p.maxRPS) {
		return false
	}
	p.lastAccepted[instrument] = now
	return true
}
