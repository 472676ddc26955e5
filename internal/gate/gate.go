package gate

import (
	"fmt"
	"sync"
	"time"

	"FuseGate/internal/domain/models"
	drepo "FuseGate/internal/domain/repository"
	"FuseGate/pkg/logger"
)

// State is the gate's lifecycle position.
type State string

const (
	StateIdle    State = "IDLE"
	StatePending State = "PENDING"
	StateClosed  State = "CLOSED"
)

// Gate holds at most one signal pending human approval. A pending signal is
// resolved exactly once, by the first writer: the operator's approve/reject,
// the expiry timer, or shutdown. Losers of that race get ErrSignalMismatch.
// Every resolution emits exactly one Decision on the Decisions channel.
type Gate struct {
	ttl     time.Duration
	bufSize int
	log     *logger.Logger

	mu       sync.Mutex
	pending  *models.Signal
	deadline time.Time
	timer    *time.Timer
	epoch    uint64
	closed   bool

	// emits tracks decisions built but not yet placed on the channel so
	// Close can drain them before closing it.
	emits     sync.WaitGroup
	decisions chan *models.Decision
}

// Option configures Gate.
type Option func(*Gate)

// WithTTL sets how long a submitted signal waits for the operator.
func WithTTL(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.ttl = d
		}
	}
}

// WithDecisionBuffer sets the decision channel capacity.
func WithDecisionBuffer(n int) Option {
	return func(g *Gate) {
		if n > 0 {
			g.bufSize = n
		}
	}
}

// New creates an approval gate in the idle state.
func New(log *logger.Logger, opts ...Option) *Gate {
	g := &Gate{
		ttl:     60 * time.Second,
		bufSize: 64,
		log:     log,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.decisions = make(chan *models.Decision, g.bufSize)
	return g
}

// Decisions streams the terminal record of every resolved signal. The channel
// is closed by Close after the final flush.
func (g *Gate) Decisions() <-chan *models.Decision {
	return g.decisions
}

// Submit offers a signal for approval. Fails with ErrGateBusy while another
// signal is pending and with ErrGateClosed after shutdown.
func (g *Gate) Submit(signal *models.Signal) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return drepo.ErrGateClosed
	}
	if g.pending != nil {
		return drepo.ErrGateBusy
	}

	g.pending = signal
	g.deadline = time.Now().Add(g.ttl)
	g.epoch++

	epoch := g.epoch
	g.timer = time.AfterFunc(g.ttl, func() { g.expire(epoch) })

	g.log.Info("signal pending approval",
		logger.String("signal_id", signal.ID),
		logger.String("direction", string(signal.Direction)),
		logger.Float64("confidence", signal.Confidence),
		logger.Duration("ttl", g.ttl))
	return nil
}

// Resolve records the operator's verdict for the pending signal. Only
// OutcomeApproved and OutcomeRejected are accepted here; expiry belongs to
// the timer. A mismatched or already-resolved id fails with
// ErrSignalMismatch.
func (g *Gate) Resolve(signalID string, outcome models.Outcome) (*models.Decision, error) {
	if outcome != models.OutcomeApproved && outcome != models.OutcomeRejected {
		return nil, fmt.Errorf("outcome %q not resolvable by operator", outcome)
	}

	g.mu.Lock()
	if g.pending == nil || g.pending.ID != signalID {
		g.mu.Unlock()
		return nil, drepo.ErrSignalMismatch
	}
	decision := g.clearLocked(outcome)
	g.emits.Add(1)
	g.mu.Unlock()

	g.log.Info("signal resolved",
		logger.String("signal_id", signalID),
		logger.String("outcome", string(outcome)))
	g.emit(decision)
	return decision, nil
}

// Pending returns the signal awaiting approval and its remaining time, or
// ok=false when the gate is idle.
func (g *Gate) Pending() (signal *models.Signal, remaining time.Duration, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pending == nil {
		return nil, 0, false
	}
	remaining = time.Until(g.deadline)
	if remaining < 0 {
		remaining = 0
	}
	return g.pending, remaining, true
}

// CurrentState reports the gate's lifecycle position.
func (g *Gate) CurrentState() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case g.closed:
		return StateClosed
	case g.pending != nil:
		return StatePending
	default:
		return StateIdle
	}
}

// Close rejects further submissions, flushes any pending signal as EXPIRED
// and closes the decision channel.
func (g *Gate) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true

	var decision *models.Decision
	if g.pending != nil {
		decision = g.clearLocked(models.OutcomeExpired)
	}
	g.mu.Unlock()

	if decision != nil {
		g.log.Warn("pending signal expired on shutdown",
			logger.String("signal_id", decision.SignalID))
		g.decisions <- decision
	}
	g.emits.Wait()
	close(g.decisions)
	return nil
}

// expire fires from the TTL timer. The epoch check drops timers that lost
// the race against Resolve or a later Submit.
func (g *Gate) expire(epoch uint64) {
	g.mu.Lock()
	if g.closed || g.pending == nil || g.epoch != epoch {
		g.mu.Unlock()
		return
	}
	decision := g.clearLocked(models.OutcomeExpired)
	g.emits.Add(1)
	g.mu.Unlock()

	g.log.Info("signal expired unanswered",
		logger.String("signal_id", decision.SignalID))
	g.emit(decision)
}

// clearLocked builds the terminal decision and returns the gate to idle.
// Caller holds g.mu.
func (g *Gate) clearLocked(outcome models.Outcome) *models.Decision {
	signal := g.pending
	g.pending = nil
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}

	return &models.Decision{
		SignalID:   signal.ID,
		Instrument: signal.Snapshot.Instrument,
		Direction:  signal.Direction,
		Confidence: signal.Confidence,
		Rationale:  signal.Rationale,
		LocalPrice: signal.Snapshot.LocalPrice,
		RSI:        signal.Indicators.RSI,
		Outcome:    outcome,
		ResolvedAt: time.Now().UTC(),
	}
}

func (g *Gate) emit(decision *models.Decision) {
	defer g.emits.Done()
	g.decisions <- decision
}
