package gate

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FuseGate/internal/domain/models"
	drepo "FuseGate/internal/domain/repository"
	"FuseGate/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "console", Output: "stderr"})
	require.NoError(t, err)
	return l
}

func testSignal(id string) *models.Signal {
	return &models.Signal{
		ID: id,
		Snapshot: models.MarketSnapshot{
			Instrument: "EURUSD",
			LocalPrice: 1.1900,
		},
		Indicators: models.IndicatorSet{RSI: 55, RSIReady: true},
		Direction:  models.DirectionBuy,
		Confidence: 0.7,
		Rationale:  "test",
		CreatedAt:  time.Now(),
	}
}

func TestSubmitResolveApprove(t *testing.T) {
	g := New(testLogger(t), WithTTL(time.Minute))

	require.NoError(t, g.Submit(testSignal("sig-1")))
	assert.Equal(t, StatePending, g.CurrentState())

	decision, err := g.Resolve("sig-1", models.OutcomeApproved)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApproved, decision.Outcome)
	assert.Equal(t, "sig-1", decision.SignalID)
	assert.Equal(t, "EURUSD", decision.Instrument)
	assert.Equal(t, StateIdle, g.CurrentState())

	got := <-g.Decisions()
	assert.Equal(t, decision, got)
}

func TestSubmitWhilePendingIsBusy(t *testing.T) {
	g := New(testLogger(t), WithTTL(time.Minute))

	require.NoError(t, g.Submit(testSignal("sig-1")))
	err := g.Submit(testSignal("sig-2"))
	assert.ErrorIs(t, err, drepo.ErrGateBusy)

	// the pending signal is untouched by the rejected submit
	pending, _, ok := g.Pending()
	require.True(t, ok)
	assert.Equal(t, "sig-1", pending.ID)
}

func TestResolveWrongIDMismatch(t *testing.T) {
	g := New(testLogger(t), WithTTL(time.Minute))

	_, err := g.Resolve("sig-1", models.OutcomeApproved)
	assert.ErrorIs(t, err, drepo.ErrSignalMismatch, "idle gate has nothing to resolve")

	require.NoError(t, g.Submit(testSignal("sig-1")))
	_, err = g.Resolve("sig-2", models.OutcomeRejected)
	assert.ErrorIs(t, err, drepo.ErrSignalMismatch)
}

func TestResolveTwiceSecondFails(t *testing.T) {
	g := New(testLogger(t), WithTTL(time.Minute))
	require.NoError(t, g.Submit(testSignal("sig-1")))

	_, err := g.Resolve("sig-1", models.OutcomeRejected)
	require.NoError(t, err)
	_, err = g.Resolve("sig-1", models.OutcomeApproved)
	assert.ErrorIs(t, err, drepo.ErrSignalMismatch)

	got := <-g.Decisions()
	assert.Equal(t, models.OutcomeRejected, got.Outcome)
}

func TestResolveRejectsExpiredOutcome(t *testing.T) {
	g := New(testLogger(t), WithTTL(time.Minute))
	require.NoError(t, g.Submit(testSignal("sig-1")))

	_, err := g.Resolve("sig-1", models.OutcomeExpired)
	require.Error(t, err, "expiry is owned by the timer, not the operator")
}

func TestTimerExpiryEmitsExpired(t *testing.T) {
	g := New(testLogger(t), WithTTL(30*time.Millisecond))
	require.NoError(t, g.Submit(testSignal("sig-1")))

	select {
	case decision := <-g.Decisions():
		assert.Equal(t, models.OutcomeExpired, decision.Outcome)
		assert.Equal(t, "sig-1", decision.SignalID)
	case <-time.After(2 * time.Second):
		t.Fatal("expiry decision never emitted")
	}
	assert.Equal(t, StateIdle, g.CurrentState())

	// gate is reusable after expiry
	require.NoError(t, g.Submit(testSignal("sig-2")))
}

func TestExpiryRaceProducesExactlyOneDecision(t *testing.T) {
	for i := 0; i < 20; i++ {
		g := New(testLogger(t), WithTTL(5*time.Millisecond))
		require.NoError(t, g.Submit(testSignal("sig-1")))

		var resolved int32
		var wg sync.WaitGroup
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := g.Resolve("sig-1", models.OutcomeApproved); err == nil {
					atomic.AddInt32(&resolved, 1)
				}
			}()
		}
		wg.Wait()
		time.Sleep(20 * time.Millisecond)

		assert.LessOrEqual(t, atomic.LoadInt32(&resolved), int32(1))

		var decisions []*models.Decision
	drain:
		for {
			select {
			case d := <-g.Decisions():
				decisions = append(decisions, d)
			default:
				break drain
			}
		}
		require.Len(t, decisions, 1, "exactly one terminal decision per signal")
		if atomic.LoadInt32(&resolved) == 1 {
			assert.Equal(t, models.OutcomeApproved, decisions[0].Outcome)
		} else {
			assert.Equal(t, models.OutcomeExpired, decisions[0].Outcome)
		}
	}
}

func TestPendingCountdown(t *testing.T) {
	g := New(testLogger(t), WithTTL(time.Minute))

	_, _, ok := g.Pending()
	assert.False(t, ok)

	require.NoError(t, g.Submit(testSignal("sig-1")))
	signal, remaining, ok := g.Pending()
	require.True(t, ok)
	assert.Equal(t, "sig-1", signal.ID)
	assert.Greater(t, remaining, 50*time.Second)
	assert.LessOrEqual(t, remaining, time.Minute)
}

func TestCloseFlushesPendingAsExpired(t *testing.T) {
	g := New(testLogger(t), WithTTL(time.Minute))
	require.NoError(t, g.Submit(testSignal("sig-1")))

	require.NoError(t, g.Close())

	decision, ok := <-g.Decisions()
	require.True(t, ok)
	assert.Equal(t, models.OutcomeExpired, decision.Outcome)

	_, ok = <-g.Decisions()
	assert.False(t, ok, "decision channel closes after the flush")

	err := g.Submit(testSignal("sig-2"))
	assert.ErrorIs(t, err, drepo.ErrGateClosed)
}

func TestCloseIdempotent(t *testing.T) {
	g := New(testLogger(t))
	require.NoError(t, g.Close())
	require.NoError(t, g.Close())
}
