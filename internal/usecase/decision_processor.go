package usecase

import (
	"context"
	"fmt"
	"time"

	"FuseGate/internal/domain/models"
	drepo "FuseGate/internal/domain/repository"
	"FuseGate/pkg/logger"
)

// DecisionProcessor journals resolved decisions to the configured backend.
type DecisionProcessor struct {
	pub     drepo.DecisionPublisher
	store   drepo.DecisionStorage
	metrics drepo.Metrics
	log     *logger.Logger
	backend string
	done    chan struct{}
}

// NewDecisionProcessor creates a DecisionProcessor instance.
func NewDecisionProcessor(
	pub drepo.DecisionPublisher,
	store drepo.DecisionStorage,
	metrics drepo.Metrics,
	log *logger.Logger,
	backend string,
) *DecisionProcessor {
	return &DecisionProcessor{
		pub:     pub,
		store:   store,
		metrics: metrics,
		log:     log,
		backend: backend,
		done:    make(chan struct{}),
	}
}

// Process journals a single decision to the configured backend.
func (p *DecisionProcessor) Process(ctx context.Context, d *models.Decision) error {
	if d == nil {
		return fmt.Errorf("decision is nil")
	}

	start := time.Now()
	var err error

	switch p.backend {
	case "kafka":
		err = p.pub.Publish(ctx, d)
	case "clickhouse":
		err = p.store.Store(ctx, d)
	default:
		err = fmt.Errorf("unknown backend: %s", p.backend)
	}

	if err != nil {
		p.metrics.RecordError("journal")
		return fmt.Errorf("journal decision: %w", err)
	}

	p.metrics.RecordDecision(d.Instrument, d.Outcome)
	p.metrics.RecordLatency("journal", time.Since(start).Seconds())
	return nil
}

// Run drains the decision channel until it closes. Journal failures are
// logged and retried once; a decision lost after that is recorded as an
// error, never silently swallowed.
func (p *DecisionProcessor) Run(ctx context.Context, decisions <-chan *models.Decision) {
	defer close(p.done)
	for d := range decisions {
		if err := p.Process(ctx, d); err != nil {
			p.log.Error("journal write failed, retrying once",
				logger.String("signal_id", d.SignalID), logger.Error(err))
			if err := p.Process(ctx, d); err != nil {
				p.metrics.RecordError("journal_lost")
				p.log.Error("decision lost",
					logger.String("signal_id", d.SignalID), logger.Error(err))
			}
		}
	}
}

// Wait blocks until Run has drained the channel.
func (p *DecisionProcessor) Wait() {
	<-p.done
}

// Query reads journaled decisions back. Only the clickhouse backend is
// queryable; the kafka backend is an append-only stream.
func (p *DecisionProcessor) Query(ctx context.Context, instrument string, from, to time.Time, limit int) ([]*models.Decision, error) {
	if p.store == nil {
		return nil, fmt.Errorf("backend %s is not queryable", p.backend)
	}
	return p.store.Query(ctx, instrument, from, to, limit)
}

// Health reports journal backend health.
func (p *DecisionProcessor) Health(ctx context.Context) error {
	if p.store != nil {
		return p.store.Health(ctx)
	}
	return nil
}

// Close closes underlying resources if available.
func (p *DecisionProcessor) Close() {
	if p.pub != nil {
		_ = p.pub.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
}
