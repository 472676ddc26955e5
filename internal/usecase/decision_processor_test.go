package usecase

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

type fakePublisher struct {
	mu        sync.Mutex
	published []*models.Decision
	fail      bool
}

func (f *fakePublisher) Publish(ctx context.Context, d *models.Decision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker down")
	}
	f.published = append(f.published, d)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeStorage struct {
	mu     sync.Mutex
	stored []*models.Decision
}

func (f *fakeStorage) Store(ctx context.Context, d *models.Decision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, d)
	return nil
}

func (f *fakeStorage) Query(ctx context.Context, instrument string, from, to time.Time, limit int) ([]*models.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Decision, len(f.stored))
	copy(out, f.stored)
	return out, nil
}

func (f *fakeStorage) Health(ctx context.Context) error { return nil }
func (f *fakeStorage) Close() error                     { return nil }

func testDecision(id string) *models.Decision {
	return &models.Decision{
		SignalID:   id,
		Instrument: "EURUSD",
		Direction:  models.DirectionBuy,
		Confidence: 0.8,
		Outcome:    models.OutcomeApproved,
		ResolvedAt: time.Now(),
	}
}

func TestProcessRoutesToKafka(t *testing.T) {
	pub := &fakePublisher{}
	store := &fakeStorage{}
	p := NewDecisionProcessor(pub, store, newFakeMetrics(), testLogger(t), "kafka")

	require.NoError(t, p.Process(context.Background(), testDecision("sig-1")))
	assert.Len(t, pub.published, 1)
	assert.Empty(t, store.stored)
}

func TestProcessRoutesToClickhouse(t *testing.T) {
	pub := &fakePublisher{}
	store := &fakeStorage{}
	p := NewDecisionProcessor(pub, store, newFakeMetrics(), testLogger(t), "clickhouse")

	require.NoError(t, p.Process(context.Background(), testDecision("sig-1")))
	assert.Len(t, store.stored, 1)
	assert.Empty(t, pub.published)
}

func TestProcessUnknownBackend(t *testing.T) {
	p := NewDecisionProcessor(&fakePublisher{}, &fakeStorage{}, newFakeMetrics(), testLogger(t), "mongo")
	assert.Error(t, p.Process(context.Background(), testDecision("sig-1")))
}

func TestProcessNilDecision(t *testing.T) {
	p := NewDecisionProcessor(&fakePublisher{}, &fakeStorage{}, newFakeMetrics(), testLogger(t), "kafka")
	assert.Error(t, p.Process(context.Background(), nil))
}

func TestRunDrainsChannelUntilClose(t *testing.T) {
	store := &fakeStorage{}
	p := NewDecisionProcessor(&fakePublisher{}, store, newFakeMetrics(), testLogger(t), "clickhouse")

	decisions := make(chan *models.Decision, 4)
	go p.Run(context.Background(), decisions)

	decisions <- testDecision("sig-1")
	decisions <- testDecision("sig-2")
	decisions <- testDecision("sig-3")
	close(decisions)

	p.Wait()
	assert.Len(t, store.stored, 3)
}

func TestRunRetriesOnce(t *testing.T) {
	pub := &fakePublisher{fail: true}
	p := NewDecisionProcessor(pub, nil, newFakeMetrics(), testLogger(t), "kafka")

	decisions := make(chan *models.Decision, 1)
	go p.Run(context.Background(), decisions)

	decisions <- testDecision("sig-1")
	close(decisions)

	// Run survives a decision that cannot be journaled
	p.Wait()
	assert.Empty(t, pub.published)
}

func TestQueryOnlyForStorageBackend(t *testing.T) {
	p := NewDecisionProcessor(&fakePublisher{}, nil, newFakeMetrics(), testLogger(t), "kafka")
	_, err := p.Query(context.Background(), "EURUSD", time.Time{}, time.Now(), 10)
	assert.Error(t, err)

	store := &fakeStorage{stored: []*models.Decision{testDecision("sig-1")}}
	p = NewDecisionProcessor(nil, store, newFakeMetrics(), testLogger(t), "clickhouse")
	got, err := p.Query(context.Background(), "EURUSD", time.Time{}, time.Now(), 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
