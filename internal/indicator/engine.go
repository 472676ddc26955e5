package indicator

import (
	"math"

	"FuseGate/internal/domain/models"
)

// Config holds indicator periods. Zero values fall back to defaults.
type Config struct {
	RSIPeriod       int
	EMAFastPeriod   int
	EMASlowPeriod   int
	BollingerWindow int
	BollingerK      float64
}

func (c *Config) applyDefaults() {
	if c.RSIPeriod <= 0 {
		c.RSIPeriod = 14
	}
	if c.EMAFastPeriod <= 0 {
		c.EMAFastPeriod = 9
	}
	if c.EMASlowPeriod <= 0 {
		c.EMASlowPeriod = 21
	}
	if c.BollingerWindow <= 0 {
		c.BollingerWindow = 20
	}
	if c.BollingerK <= 0 {
		c.BollingerK = 2
	}
}

// Engine maintains rolling indicator state for a single instrument. All
// updates are O(1): Wilder smoothing for RSI, exponential smoothing for the
// EMAs, and an incremental sum / sum-of-squares window for the Bollinger
// bands. A multi-instrument deployment holds one engine per instrument; the
// engine itself is not safe for concurrent use.
type Engine struct {
	cfg Config

	count     int
	lastPrice float64

	// RSI (Wilder)
	deltaCount int
	gainSum    float64
	lossSum    float64
	avgGain    float64
	avgLoss    float64

	// EMA seeds
	fastSeedSum float64
	slowSeedSum float64
	emaFast     float64
	emaSlow     float64

	// Bollinger rolling window
	window []float64
	head   int
	filled int
	sum    float64
	sumSq  float64
}

// NewEngine creates an indicator engine.
func NewEngine(cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:    cfg,
		window: make([]float64, cfg.BollingerWindow),
	}
}

// Reset discards all accumulated state. Only called on explicit restart.
func (e *Engine) Reset() {
	cfg := e.cfg
	*e = Engine{cfg: cfg, window: make([]float64, cfg.BollingerWindow)}
}

// Update feeds one fused snapshot into the engine and returns the resulting
// indicator set. The reference price is used when available, the local price
// in degraded mode.
func (e *Engine) Update(snap *models.MarketSnapshot) models.IndicatorSet {
	price := snap.ReferencePrice
	if snap.Degraded {
		price = snap.LocalPrice
	}

	e.count++
	e.updateRSI(price)
	e.updateEMA(price)
	e.updateBollinger(price)
	e.lastPrice = price

	return e.snapshot()
}

// Snapshot returns the current indicator values without feeding a price.
func (e *Engine) Snapshot() models.IndicatorSet {
	return e.snapshot()
}

// snapshot materializes the current indicator values.
func (e *Engine) snapshot() models.IndicatorSet {
	set := models.IndicatorSet{
		SampleCount: e.count,
		RSIReady:    e.count >= e.cfg.RSIPeriod,
	}
	if set.RSIReady {
		set.RSI = e.rsi()
	}
	if e.count >= e.cfg.EMAFastPeriod {
		set.EMAFast = e.emaFast
	}
	if e.count >= e.cfg.EMASlowPeriod {
		set.EMASlow = e.emaSlow
	}
	if e.filled > 0 {
		n := float64(e.filled)
		mid := e.sum / n
		variance := e.sumSq/n - mid*mid
		if variance < 0 {
			variance = 0
		}
		std := math.Sqrt(variance)
		set.BollingerMid = mid
		set.BollingerUpper = mid + e.cfg.BollingerK*std
		set.BollingerLower = mid - e.cfg.BollingerK*std
	}
	set.Ready = set.RSIReady &&
		e.count >= e.cfg.EMASlowPeriod &&
		e.filled >= e.cfg.BollingerWindow
	return set
}

func (e *Engine) updateRSI(price float64) {
	if e.count == 1 {
		return // no delta yet
	}
	delta := price - e.lastPrice
	e.deltaCount++

	seed := e.cfg.RSIPeriod - 1
	switch {
	case e.deltaCount < seed:
		if delta > 0 {
			e.gainSum += delta
		} else {
			e.lossSum -= delta
		}
	case e.deltaCount == seed:
		if delta > 0 {
			e.gainSum += delta
		} else {
			e.lossSum -= delta
		}
		e.avgGain = e.gainSum / float64(seed)
		e.avgLoss = e.lossSum / float64(seed)
	default:
		p := float64(e.cfg.RSIPeriod)
		if delta > 0 {
			e.avgGain = (e.avgGain*(p-1) + delta) / p
			e.avgLoss = e.avgLoss * (p - 1) / p
		} else {
			e.avgGain = e.avgGain * (p - 1) / p
			e.avgLoss = (e.avgLoss*(p-1) - delta) / p
		}
	}
}

func (e *Engine) rsi() float64 {
	if e.avgLoss == 0 {
		if e.avgGain == 0 {
			return 50 // no movement at all
		}
		return 100
	}
	rs := e.avgGain / e.avgLoss
	rsi := 100 - 100/(1+rs)
	if rsi > 100 {
		rsi = 100
	} else if rsi < 0 {
		rsi = 0
	}
	return rsi
}

func (e *Engine) updateEMA(price float64) {
	fast := e.cfg.EMAFastPeriod
	switch {
	case e.count < fast:
		e.fastSeedSum += price
	case e.count == fast:
		e.fastSeedSum += price
		e.emaFast = e.fastSeedSum / float64(fast)
	default:
		mult := 2.0 / float64(fast+1)
		e.emaFast += (price - e.emaFast) * mult
	}

	slow := e.cfg.EMASlowPeriod
	switch {
	case e.count < slow:
		e.slowSeedSum += price
	case e.count == slow:
		e.slowSeedSum += price
		e.emaSlow = e.slowSeedSum / float64(slow)
	default:
		mult := 2.0 / float64(slow+1)
		e.emaSlow += (price - e.emaSlow) * mult
	}
}

func (e *Engine) updateBollinger(price float64) {
	if e.filled == len(e.window) {
		old := e.window[e.head]
		e.sum -= old
		e.sumSq -= old * old
	} else {
		e.filled++
	}
	e.window[e.head] = price
	e.sum += price
	e.sumSq += price * price
	e.head = (e.head + 1) % len(e.window)
}

// Trend classifies the coarse direction of the rolling window: mean of the
// oldest five window prices against the newest five, thresholded at 0.02%.
func (e *Engine) Trend() models.MacroTrend {
	const edge = 5
	if e.filled < 2*edge {
		return models.TrendFlat
	}
	ordered := e.ordered()
	first := mean(ordered[:edge])
	last := mean(ordered[len(ordered)-edge:])
	if first == 0 {
		return models.TrendFlat
	}
	pct := (last - first) / first * 100
	switch {
	case pct > 0.02:
		return models.TrendUp
	case pct < -0.02:
		return models.TrendDown
	default:
		return models.TrendFlat
	}
}

// ordered returns the window contents oldest-first.
func (e *Engine) ordered() []float64 {
	out := make([]float64, 0, e.filled)
	start := e.head - e.filled
	for i := 0; i < e.filled; i++ {
		idx := (start + i + len(e.window)) % len(e.window)
		out = append(out, e.window[idx])
	}
	return out
}

func mean(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}
