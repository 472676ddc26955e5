package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jpillora/backoff"

	"FuseGate/internal/domain/models"
	drepo "FuseGate/internal/domain/repository"
	dservice "FuseGate/internal/domain/service"
	xhttp "FuseGate/pkg/http"
	"FuseGate/pkg/logger"
)

// Gateway calls the external inference service over HTTP and turns its reply
// into a Signal. Replies are validated strictly: a well-formed transport
// response with an out-of-contract body is ErrInferenceMalformed and is not
// retried. Transport failures and 5xx replies are retried with exponential
// backoff up to the attempt cap, then surface as ErrInferenceUnavailable.
type Gateway struct {
	baseURL     string
	client      *xhttp.Client
	validate    *validator.Validate
	log         *logger.Logger
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
}

// Option configures Gateway.
type Option func(*Gateway)

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		g.client = xhttp.NewClient(xhttp.WithTimeout(d))
	}
}

// WithMaxAttempts caps the number of tries per Advise call.
func WithMaxAttempts(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithBackoff sets the retry backoff bounds.
func WithBackoff(min, max time.Duration) Option {
	return func(g *Gateway) {
		if min > 0 && max >= min {
			g.minBackoff = min
			g.maxBackoff = max
		}
	}
}

// NewGateway creates an inference gateway.
func NewGateway(baseURL string, log *logger.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      xhttp.NewClient(xhttp.WithTimeout(15 * time.Second)),
		validate:    validator.New(),
		log:         log,
		maxAttempts: 3,
		minBackoff:  200 * time.Millisecond,
		maxBackoff:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type adviseRequest struct {
	Instrument      string  `json:"instrument"`
	Timestamp       int64   `json:"timestamp"`
	LocalPrice      float64 `json:"local_price"`
	ReferencePrice  float64 `json:"reference_price"`
	Divergence      float64 `json:"divergence"`
	DivergenceLevel string  `json:"divergence_level"`
	Degraded        bool    `json:"degraded"`
	StaleReference  bool    `json:"stale_reference"`

	RSI            *float64 `json:"rsi,omitempty"`
	EMAFast        float64  `json:"ema_fast"`
	EMASlow        float64  `json:"ema_slow"`
	BollingerUpper float64  `json:"bollinger_upper"`
	BollingerMid   float64  `json:"bollinger_mid"`
	BollingerLower float64  `json:"bollinger_lower"`
	SampleCount    int      `json:"sample_count"`

	Trend string `json:"trend"`
}

type adviseReply struct {
	Direction  string  `json:"direction" validate:"required,oneof=BUY SELL HOLD"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
	Rationale  string  `json:"rationale" validate:"required"`
}

// Advise requests a trade advice for the given snapshot and indicator state.
func (g *Gateway) Advise(ctx context.Context, snapshot models.MarketSnapshot, indicators models.IndicatorSet, trend models.MacroTrend) (*models.Signal, error) {
	req := buildRequest(snapshot, indicators, trend)

	bo := &backoff.Backoff{
		Min:    g.minBackoff,
		Max:    g.maxBackoff,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		reply, retryable, err := g.call(ctx, req)
		if err == nil {
			return g.toSignal(snapshot, indicators, reply), nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err

		if attempt < g.maxAttempts {
			g.log.Warn("inference call failed, retrying",
				logger.Int("attempt", attempt), logger.Error(err))
			select {
			case <-time.After(bo.Duration()):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	g.log.Error("inference unavailable after retries",
		logger.Int("attempts", g.maxAttempts), logger.Error(lastErr))
	return nil, fmt.Errorf("%w: %v", drepo.ErrInferenceUnavailable, lastErr)
}

// call performs one attempt. The second return value reports whether the
// failure is worth retrying.
func (g *Gateway) call(ctx context.Context, req *adviseRequest) (*adviseReply, bool, error) {
	resp, err := g.client.SendRequest(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    g.baseURL + "/v1/advise",
		Body:   req,
	})
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, true, fmt.Errorf("inference status %d: %s", resp.StatusCode, body)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, false, fmt.Errorf("%w: status %d: %s", drepo.ErrInferenceMalformed, resp.StatusCode, body)
	}

	var reply adviseReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, false, fmt.Errorf("%w: decode reply: %v", drepo.ErrInferenceMalformed, err)
	}
	if err := g.validate.StructCtx(ctx, &reply); err != nil {
		return nil, false, fmt.Errorf("%w: %v", drepo.ErrInferenceMalformed, err)
	}
	return &reply, false, nil
}

func (g *Gateway) toSignal(snapshot models.MarketSnapshot, indicators models.IndicatorSet, reply *adviseReply) *models.Signal {
	return &models.Signal{
		ID:         uuid.NewString(),
		Snapshot:   snapshot,
		Indicators: indicators,
		Direction:  models.Direction(reply.Direction),
		Confidence: reply.Confidence,
		Rationale:  reply.Rationale,
		CreatedAt:  time.Now().UTC(),
	}
}

func buildRequest(snapshot models.MarketSnapshot, indicators models.IndicatorSet, trend models.MacroTrend) *adviseRequest {
	req := &adviseRequest{
		Instrument:      snapshot.Instrument,
		Timestamp:       snapshot.Timestamp.Unix(),
		LocalPrice:      snapshot.LocalPrice,
		ReferencePrice:  snapshot.ReferencePrice,
		Divergence:      snapshot.Divergence,
		DivergenceLevel: string(snapshot.DivergenceLevel),
		Degraded:        snapshot.Degraded,
		StaleReference:  snapshot.StaleReference,
		EMAFast:         indicators.EMAFast,
		EMASlow:         indicators.EMASlow,
		BollingerUpper:  indicators.BollingerUpper,
		BollingerMid:    indicators.BollingerMid,
		BollingerLower:  indicators.BollingerLower,
		SampleCount:     indicators.SampleCount,
		Trend:           string(trend),
	}
	if indicators.RSIReady {
		rsi := indicators.RSI
		req.RSI = &rsi
	}
	return req
}

var _ dservice.SignalAdvisor = (*Gateway)(nil)
