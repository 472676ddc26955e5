package refdata

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"FuseGate/internal/domain/models"
	drepo "FuseGate/internal/domain/repository"
	xhttp "FuseGate/pkg/http"
)

// Client fetches reference series over HTTP from the market-data provider.
// Calls are rate limited client-side; the provider throttles hard.
type Client struct {
	baseURL  string
	client   *xhttp.Client
	limiter  *rate.Limiter
	lookback time.Duration
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client = xhttp.NewClient(xhttp.WithTimeout(d))
	}
}

// WithRateLimit caps outbound requests per second with the given burst.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithLookback sets how far back the requested series should reach.
func WithLookback(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.lookback = d
		}
	}
}

// NewClient creates a reference data client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  baseURL,
		client:   xhttp.NewClient(xhttp.WithTimeout(10 * time.Second)),
		limiter:  rate.NewLimiter(rate.Limit(1), 2),
		lookback: time.Hour,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type seriesResponse struct {
	Symbol string `json:"symbol"`
	Points []struct {
		T int64   `json:"t"`
		P float64 `json:"p"`
	} `json:"points"`
}

// Fetch retrieves the series for instrument ending at asOf.
func (c *Client) Fetch(ctx context.Context, instrument string, asOf time.Time) (*models.ReferenceSeries, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("reference rate limit: %w", err)
	}

	var resp seriesResponse
	err := c.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    c.baseURL + "/series",
		QueryParams: map[string][]string{
			"symbol": {instrument},
			"from":   {strconv.FormatInt(asOf.Add(-c.lookback).Unix(), 10)},
			"to":     {strconv.FormatInt(asOf.Unix(), 10)},
		},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("fetch reference series: %w", err)
	}

	series := &models.ReferenceSeries{
		Instrument: instrument,
		FetchedAt:  time.Now(),
		Points:     make([]models.ReferencePoint, 0, len(resp.Points)),
	}
	for _, p := range resp.Points {
		series.Points = append(series.Points, models.ReferencePoint{
			Timestamp: time.Unix(p.T, 0).UTC(),
			Price:     p.P,
		})
	}
	return series, nil
}

var _ drepo.ReferenceSource = (*Client)(nil)
