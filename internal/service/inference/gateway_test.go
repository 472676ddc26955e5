package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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

func sampleSnapshot() models.MarketSnapshot {
	return models.MarketSnapshot{
		Instrument:      "EURUSD",
		Timestamp:       time.Unix(1700000000, 0).UTC(),
		LocalPrice:      1.1900,
		ReferencePrice:  1.1905,
		Divergence:      0.0005,
		DivergenceLevel: models.DivergenceMatch,
	}
}

func sampleIndicators() models.IndicatorSet {
	return models.IndicatorSet{
		RSI:            62.5,
		RSIReady:       true,
		EMAFast:        1.1902,
		EMASlow:        1.1898,
		BollingerUpper: 1.1950,
		BollingerMid:   1.1900,
		BollingerLower: 1.1850,
		SampleCount:    40,
		Ready:          true,
	}
}

func TestAdviseHappyPath(t *testing.T) {
	var gotReq adviseRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/advise", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"direction":  "BUY",
			"confidence": 0.83,
			"rationale":  "rsi recovering above midline",
		})
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, testLogger(t))
	signal, err := g.Advise(context.Background(), sampleSnapshot(), sampleIndicators(), models.TrendUp)
	require.NoError(t, err)

	assert.NotEmpty(t, signal.ID)
	assert.Equal(t, models.DirectionBuy, signal.Direction)
	assert.InDelta(t, 0.83, signal.Confidence, 1e-9)
	assert.Equal(t, "rsi recovering above midline", signal.Rationale)
	assert.Equal(t, "EURUSD", signal.Snapshot.Instrument)

	require.NotNil(t, gotReq.RSI)
	assert.InDelta(t, 62.5, *gotReq.RSI, 1e-9)
	assert.Equal(t, "UP", gotReq.Trend)
}

func TestAdviseOmitsRSIDuringWarmup(t *testing.T) {
	var gotReq adviseRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"direction": "HOLD", "confidence": 0.2, "rationale": "warming up",
		})
	}))
	defer srv.Close()

	ind := sampleIndicators()
	ind.RSIReady = false

	g := NewGateway(srv.URL, testLogger(t))
	_, err := g.Advise(context.Background(), sampleSnapshot(), ind, models.TrendFlat)
	require.NoError(t, err)
	assert.Nil(t, gotReq.RSI, "warm-up rsi must not be sent as a numeric value")
}

func TestAdviseMalformedReplyNotRetried(t *testing.T) {
	cases := map[string]string{
		"bad direction":      `{"direction":"LONG","confidence":0.5,"rationale":"x"}`,
		"confidence too big": `{"direction":"BUY","confidence":1.5,"rationale":"x"}`,
		"missing rationale":  `{"direction":"BUY","confidence":0.5}`,
		"not json":           `advice: buy`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.Write([]byte(body))
			}))
			defer srv.Close()

			g := NewGateway(srv.URL, testLogger(t))
			_, err := g.Advise(context.Background(), sampleSnapshot(), sampleIndicators(), models.TrendFlat)
			assert.ErrorIs(t, err, drepo.ErrInferenceMalformed)
			assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "malformed replies are terminal")
		})
	}
}

func TestAdviseRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"direction": "SELL", "confidence": 0.6, "rationale": "upper band rejection",
		})
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, testLogger(t), WithBackoff(time.Millisecond, 2*time.Millisecond))
	signal, err := g.Advise(context.Background(), sampleSnapshot(), sampleIndicators(), models.TrendDown)
	require.NoError(t, err)
	assert.Equal(t, models.DirectionSell, signal.Direction)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestAdviseUnavailableAfterAttemptCap(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, testLogger(t),
		WithMaxAttempts(2), WithBackoff(time.Millisecond, 2*time.Millisecond))
	_, err := g.Advise(context.Background(), sampleSnapshot(), sampleIndicators(), models.TrendFlat)
	assert.ErrorIs(t, err, drepo.ErrInferenceUnavailable)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestAdviseContextCancelDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	g := NewGateway(srv.URL, testLogger(t), WithBackoff(time.Minute, time.Minute))

	done := make(chan error, 1)
	go func() {
		_, err := g.Advise(ctx, sampleSnapshot(), sampleIndicators(), models.TrendFlat)
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("advise did not honor context cancellation")
	}
}
