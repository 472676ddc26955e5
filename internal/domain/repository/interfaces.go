package repository

import (
	"context"
	"time"

	"FuseGate/internal/domain/models"
)

// SampleStream yields locally captured price samples. Implementations push
// into the returned channel and must never block the producer: on
// backpressure they drop and account for it. A delivered error means the
// read loop behind the channels has terminated and both channels will close;
// after Reconnect the consumer calls Read again for a fresh pair.
type SampleStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.PriceSample, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// ReferenceSource fetches a contextual price series for an instrument from
// the remote provider. Expensive and rate limited; may fail transiently.
type ReferenceSource interface {
	Fetch(ctx context.Context, instrument string, asOf time.Time) (*models.ReferenceSeries, error)
}

// DecisionPublisher appends decisions to a streaming journal backend.
type DecisionPublisher interface {
	Publish(ctx context.Context, d *models.Decision) error
	Close() error
}

// DecisionStorage appends decisions to a queryable journal backend.
type DecisionStorage interface {
	Store(ctx context.Context, d *models.Decision) error
	Query(ctx context.Context, instrument string, from, to time.Time, limit int) ([]*models.Decision, error)
	Health(ctx context.Context) error
	Close() error
}

// Metrics records operational measurements.
type Metrics interface {
	RecordSample(instrument string, price float64)
	RecordDivergence(instrument string, level models.DivergenceLevel)
	RecordSignal(instrument string, direction models.Direction)
	RecordDecision(instrument string, outcome models.Outcome)
	RecordDrop(reason string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
