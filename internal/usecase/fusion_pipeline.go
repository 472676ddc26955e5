package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"FuseGate/internal/domain/models"
	drepo "FuseGate/internal/domain/repository"
	dservice "FuseGate/internal/domain/service"
	"FuseGate/internal/fusion"
	"FuseGate/internal/gate"
	"FuseGate/internal/indicator"
	"FuseGate/internal/service/refdata"
	"FuseGate/pkg/logger"
)

// FusionPipeline runs one fused cycle per admitted sample: reference lookup,
// fusion, indicator update, and, when the indicators are warm and the gate is
// idle, an inference call whose signal is submitted for approval.
//
// Inference runs on at most one snapshot at a time. A cycle arriving while a
// call is in flight skips the advise step; snapshots are ephemeral, the next
// cycle carries fresher data anyway.
type FusionPipeline struct {
	refCache  *refdata.Cache
	fuser     *fusion.Engine
	advisor   dservice.SignalAdvisor
	gate      *gate.Gate
	metrics   drepo.Metrics
	log       *logger.Logger
	minConf   float64
	inferBusy atomic.Bool

	mu      sync.Mutex
	engines map[string]*indicator.Engine
	indCfg  indicator.Config
}

// FusionOption configures FusionPipeline.
type FusionOption func(*FusionPipeline)

// WithIndicatorConfig overrides the indicator periods.
func WithIndicatorConfig(cfg indicator.Config) FusionOption {
	return func(p *FusionPipeline) { p.indCfg = cfg }
}

// WithMinConfidence drops signals advised below the threshold.
func WithMinConfidence(c float64) FusionOption {
	return func(p *FusionPipeline) {
		if c > 0 {
			p.minConf = c
		}
	}
}

// NewFusionPipeline creates the per-sample fusion orchestrator.
func NewFusionPipeline(
	refCache *refdata.Cache,
	fuser *fusion.Engine,
	advisor dservice.SignalAdvisor,
	g *gate.Gate,
	metrics drepo.Metrics,
	log *logger.Logger,
	opts ...FusionOption,
) *FusionPipeline {
	p := &FusionPipeline{
		refCache: refCache,
		fuser:    fuser,
		advisor:  advisor,
		gate:     g,
		metrics:  metrics,
		log:      log,
		engines:  make(map[string]*indicator.Engine),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs one fusion cycle for a sample.
func (p *FusionPipeline) Process(ctx context.Context, s *models.PriceSample) error {
	if s == nil {
		return fmt.Errorf("sample is nil")
	}
	start := time.Now()

	series, err := p.refCache.Get(ctx, s.Instrument, s.Timestamp)
	if err != nil {
		if !errors.Is(err, drepo.ErrReferenceUnavailable) {
			return fmt.Errorf("reference lookup: %w", err)
		}
		// no reference at all: fuse degrades to local-only
		p.metrics.RecordError("reference_unavailable")
		series = nil
	}

	snapshot := p.fuser.Fuse(s, series)
	p.metrics.RecordDivergence(s.Instrument, snapshot.DivergenceLevel)
	if snapshot.DivergenceLevel == models.DivergenceSignificant {
		p.log.Warn("significant divergence",
			logger.String("instrument", s.Instrument),
			logger.Float64("local", snapshot.LocalPrice),
			logger.Float64("reference", snapshot.ReferencePrice))
	}

	engine := p.engineFor(s.Instrument)
	p.mu.Lock()
	indicators := engine.Update(snapshot)
	trend := engine.Trend()
	p.mu.Unlock()

	p.maybeAdvise(ctx, snapshot, indicators, trend)

	p.metrics.RecordLatency("fusion_cycle", time.Since(start).Seconds())
	return nil
}

// maybeAdvise launches an inference call when the indicators are warm, the
// gate is idle and no other call is in flight. Runs async; the sample loop
// never waits on the inference service.
func (p *FusionPipeline) maybeAdvise(ctx context.Context, snapshot *models.MarketSnapshot, indicators models.IndicatorSet, trend models.MacroTrend) {
	if !indicators.Ready {
		return
	}
	if p.gate.CurrentState() != gate.StateIdle {
		return
	}
	if !p.inferBusy.CompareAndSwap(false, true) {
		p.metrics.RecordDrop("inference_inflight")
		return
	}

	snap := *snapshot
	go func() {
		defer p.inferBusy.Store(false)

		signal, err := p.advisor.Advise(ctx, snap, indicators, trend)
		if err != nil {
			p.metrics.RecordError("inference")
			p.log.Warn("inference skipped", logger.Error(err))
			return
		}
		if signal.Direction == models.DirectionHold {
			p.metrics.RecordDrop("hold_signal")
			return
		}
		if p.minConf > 0 && signal.Confidence < p.minConf {
			p.metrics.RecordDrop("low_confidence")
			return
		}

		p.metrics.RecordSignal(snap.Instrument, signal.Direction)
		if err := p.gate.Submit(signal); err != nil {
			// gate filled up between the idle check and here
			p.metrics.RecordDrop("gate_busy")
			p.log.Debug("signal dropped, gate busy",
				logger.String("signal_id", signal.ID))
		}
	}()
}

// Indicators returns the current indicator set for an instrument, or
// ok=false when the instrument has never been sampled.
func (p *FusionPipeline) Indicators(instrument string) (models.IndicatorSet, models.MacroTrend, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	engine, ok := p.engines[instrument]
	if !ok {
		return models.IndicatorSet{}, models.TrendFlat, false
	}
	return engine.Snapshot(), engine.Trend(), true
}

// ResetIndicators discards indicator state for an instrument. Used after a
// long feed outage, where continuing the old series would lie.
func (p *FusionPipeline) ResetIndicators(instrument string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if engine, ok := p.engines[instrument]; ok {
		engine.Reset()
	}
}

func (p *FusionPipeline) engineFor(instrument string) *indicator.Engine {
	p.mu.Lock()
	defer p.mu.Unlock()
	engine, ok := p.engines[instrument]
	if !ok {
		engine = indicator.NewEngine(p.indCfg)
		p.engines[instrument] = engine
	}
	return engine
}
