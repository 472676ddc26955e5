package usecase

import (
	"context"
	"sync"
	"time"

	drepo "FuseGate/internal/domain/repository"
	mid "FuseGate/internal/middleware"
	"FuseGate/pkg/logger"
)

// SampleCollector consumes the capture feed and pushes samples through the
// admission pipeline. The consume loop owns the feed lifecycle: whenever the
// stream's read loop dies it reconnects and calls Read again for fresh
// channels. A stagnation watchdog force-closes a silent feed to trigger that
// same path, then resets the affected indicator state: a long gap makes the
// accumulated series meaningless.
type SampleCollector struct {
	stream  drepo.SampleStream
	pipe    *mid.SamplePipeline
	fusion  *FusionPipeline
	metrics drepo.Metrics
	log     *logger.Logger

	stagnation    time.Duration
	reconnectWait time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once

	mu          sync.Mutex
	lastSample  time.Time
	instruments map[string]struct{}
}

// CollectorOption configures SampleCollector.
type CollectorOption func(*SampleCollector)

// WithStagnationTimeout sets the silence window before a forced reconnect.
func WithStagnationTimeout(d time.Duration) CollectorOption {
	return func(c *SampleCollector) {
		if d > 0 {
			c.stagnation = d
		}
	}
}

// NewSampleCollector creates a collector over stream.
func NewSampleCollector(
	stream drepo.SampleStream,
	pipe *mid.SamplePipeline,
	fusion *FusionPipeline,
	metrics drepo.Metrics,
	log *logger.Logger,
	opts ...CollectorOption,
) *SampleCollector {
	c := &SampleCollector{
		stream:        stream,
		pipe:          pipe,
		fusion:        fusion,
		metrics:       metrics,
		log:           log,
		stagnation:    90 * time.Second,
		reconnectWait: time.Second,
		stopCh:        make(chan struct{}),
		instruments:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsConnected reports feed connectivity.
func (c *SampleCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

// Start connects, subscribes and launches the consume and watchdog loops.
func (c *SampleCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	c.pipe.Start(ctx)

	c.mu.Lock()
	c.lastSample = time.Now()
	c.mu.Unlock()

	go c.consume(ctx)
	go c.watchdog(ctx)
	return nil
}

// consume drains the stream. A delivered error or a closed channel means the
// stream's read loop has terminated, so both are followed by a reconnect and
// a fresh Read; the old channels are replaced, never selected on again.
func (c *SampleCollector) consume(ctx context.Context) {
	sampleCh, errCh := c.stream.Read(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case err, ok := <-errCh:
			if ok && err != nil {
				c.metrics.RecordError("stream")
				c.log.Warn("feed error, reconnecting", logger.Error(err))
			}
			if !c.reconnect(ctx) {
				return
			}
			sampleCh, errCh = c.stream.Read(ctx)
		case s, ok := <-sampleCh:
			if !ok {
				if !c.reconnect(ctx) {
					return
				}
				sampleCh, errCh = c.stream.Read(ctx)
				continue
			}
			if s == nil {
				continue
			}
			c.mu.Lock()
			c.lastSample = time.Now()
			c.instruments[s.Instrument] = struct{}{}
			c.mu.Unlock()
			_ = c.pipe.Process(ctx, s)
		}
	}
}

// reconnect retries until the stream is back or the collector stops.
func (c *SampleCollector) reconnect(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-c.stopCh:
			return false
		default:
		}
		if err := c.stream.Reconnect(ctx); err != nil {
			c.metrics.RecordError("reconnect")
			c.log.Error("feed reconnect failed", logger.Error(err))
			select {
			case <-ctx.Done():
				return false
			case <-c.stopCh:
				return false
			case <-time.After(c.reconnectWait):
			}
			continue
		}
		c.mu.Lock()
		c.lastSample = time.Now()
		c.mu.Unlock()
		return true
	}
}

// watchdog force-closes the stream after a silent feed window. Closing kills
// the read loop, which routes the consume loop through its reconnect path.
func (c *SampleCollector) watchdog(ctx context.Context) {
	ticker := time.NewTicker(c.stagnation / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			silent := time.Since(c.lastSample)
			instruments := make([]string, 0, len(c.instruments))
			for inst := range c.instruments {
				instruments = append(instruments, inst)
			}
			c.mu.Unlock()

			if silent < c.stagnation {
				continue
			}
			c.metrics.RecordError("feed_stagnation")
			c.log.Warn("feed stagnant, forcing reconnect",
				logger.Duration("silent", silent))
			_ = c.stream.Close()
			for _, inst := range instruments {
				c.fusion.ResetIndicators(inst)
			}
			c.mu.Lock()
			c.lastSample = time.Now()
			c.mu.Unlock()
		}
	}
}

// Shutdown stops the loops, the pipeline and the feed.
func (c *SampleCollector) Shutdown(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.pipe.Stop()
	return c.stream.Close()
}
