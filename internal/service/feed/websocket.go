package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"FuseGate/internal/domain/models"
	drepo "FuseGate/internal/domain/repository"
	"FuseGate/pkg/logger"
)

// WebsocketFeed implements a SampleStream over the capture agent's
// websocket endpoint.
type WebsocketFeed struct {
	apiKey         string
	websocketURL   string
	instruments    []string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *logger.Logger

	// mu guards conn/connected and serializes writes; the ping loop and
	// Subscribe may run on different goroutines than Reconnect.
	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

// NewWebsocketFeed creates a websocket sample stream.
func NewWebsocketFeed(apiKey, websocketURL string, instruments []string, reconnectDelay, pingInterval time.Duration, log *logger.Logger) drepo.SampleStream {
	return &WebsocketFeed{
		apiKey:         apiKey,
		websocketURL:   websocketURL,
		instruments:    instruments,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            log,
	}
}

// Connect establishes the WebSocket connection.
func (c *WebsocketFeed) Connect(ctx context.Context) error {
	u := c.websocketURL
	if c.apiKey != "" {
		u = fmt.Sprintf("%s?token=%s", c.websocketURL, c.apiKey)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("feed connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.log.Info("feed connected", logger.String("url", c.websocketURL))
	return nil
}

// Subscribe subscribes to the configured instruments.
func (c *WebsocketFeed) Subscribe(ctx context.Context) error {
	for _, inst := range c.instruments {
		msg := map[string]string{"type": "subscribe", "instrument": inst}
		if err := c.writeJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", inst, err)
		}
		c.log.Info("feed subscribed", logger.String("instrument", inst))
	}
	return nil
}

type wsSample struct {
	I string  `json:"i"`
	P float64 `json:"p"`
	T int64   `json:"t"` // ms
}

type wsMessage struct {
	Type string     `json:"type"`
	Data []wsSample `json:"data"`
}

// Read streams samples and errors. A delivered error means the read loop has
// terminated and both channels will close; after a reconnect the caller must
// call Read again for fresh channels.
func (c *WebsocketFeed) Read(ctx context.Context) (<-chan *models.PriceSample, <-chan error) {
	samples := make(chan *models.PriceSample, 1024)
	errs := make(chan error, 1)
	conn := c.current()

	// ping loop, pinned to this generation's connection
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if conn == nil || c.current() != conn {
					return
				}
				c.mu.Lock()
				_ = conn.WriteMessage(websocket.PingMessage, nil)
				c.mu.Unlock()
			}
		}
	}()

	// read loop
	go func() {
		defer close(samples)
		defer close(errs)
		if conn == nil {
			errs <- fmt.Errorf("feed conn nil")
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			default:
				_, b, err := conn.ReadMessage()
				if err != nil {
					errs <- fmt.Errorf("feed read: %w", err)
					return
				}
				var m wsMessage
				if err := json.Unmarshal(b, &m); err != nil {
					// ignore non-sample frames
					continue
				}
				if m.Type != "sample" {
					continue
				}
				for _, d := range m.Data {
					sample := &models.PriceSample{
						Instrument: d.I,
						Timestamp:  time.UnixMilli(d.T).UTC(),
						Price:      d.P,
					}
					select {
					case samples <- sample:
					default:
						// drop on backpressure
					}
				}
			}
		}
	}()

	return samples, errs
}

// Reconnect closes and reconnects.
func (c *WebsocketFeed) Reconnect(ctx context.Context) error {
	_ = c.Close()
	time.Sleep(c.reconnectDelay)
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WS connection.
func (c *WebsocketFeed) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// IsConnected indicates status.
func (c *WebsocketFeed) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *WebsocketFeed) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *WebsocketFeed) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.connected {
		return fmt.Errorf("feed not connected")
	}
	return c.conn.WriteJSON(v)
}
