// Package bridge maintains the websocket link to the execution terminal:
// fire commands go out, heartbeats and fill confirmations come back.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"strikebot-go/internal/signal"
)

// Confirmation reports a fill for a previously dispatched fire command.
type Confirmation struct {
	FireID string `json:"fire_id"`
	Ticket int64  `json:"ticket"`
}

// envelope wraps every inbound bridge message with a type tag.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Client is the resilient websocket client. Run owns the read side and
// reconnects with backoff; Send is safe for concurrent use and fails fast
// while disconnected so the dispatcher's circuit breaker sees the outage.
type Client struct {
	url string
	log zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	heartbeats    chan signal.Heartbeat
	confirmations chan Confirmation
}

// NewClient builds a client for the terminal bridge endpoint.
func NewClient(url string, log zerolog.Logger) *Client {
	return &Client{
		url:           url,
		log:           log,
		heartbeats:    make(chan signal.Heartbeat, 16),
		confirmations: make(chan Confirmation, 16),
	}
}

// Heartbeats exposes the inbound account/position snapshots.
func (c *Client) Heartbeats() <-chan signal.Heartbeat { return c.heartbeats }

// Confirmations exposes the inbound fill confirmations.
func (c *Client) Confirmations() <-chan Confirmation { return c.confirmations }

// Run keeps the connection alive until the context is canceled, backing off
// exponentially between attempts.
func (c *Client) Run(ctx context.Context) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn().Err(err).Msg("bridge disconnected, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
			continue
		}
		return nil
	}
}

func (c *Client) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.log.Info().Str("url", c.url).Msg("connected execution bridge")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.mu.Lock()
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				c.mu.Unlock()
				if err != nil {
					c.log.Warn().Err(err).Msg("bridge ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatchMessage(ctx, message)
	}
}

// dispatchMessage decodes one inbound frame and routes it. Malformed frames
// are logged and dropped; they never kill the connection.
func (c *Client) dispatchMessage(ctx context.Context, message []byte) {
	hb, conf, err := parseMessage(message)
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to decode bridge message")
		return
	}
	switch {
	case hb != nil:
		select {
		case c.heartbeats <- *hb:
		case <-ctx.Done():
		}
	case conf != nil:
		select {
		case c.confirmations <- *conf:
		case <-ctx.Done():
		}
	}
}

// parseMessage splits an envelope into a heartbeat or a confirmation.
// Unknown types decode to neither, which callers treat as a no-op.
func parseMessage(message []byte) (*signal.Heartbeat, *Confirmation, error) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		return nil, nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Type {
	case "heartbeat":
		var hb signal.Heartbeat
		if err := json.Unmarshal(env.Data, &hb); err != nil {
			return nil, nil, fmt.Errorf("decode heartbeat: %w", err)
		}
		return &hb, nil, nil
	case "confirmation":
		var conf Confirmation
		if err := json.Unmarshal(env.Data, &conf); err != nil {
			return nil, nil, fmt.Errorf("decode confirmation: %w", err)
		}
		return nil, &conf, nil
	default:
		return nil, nil, nil
	}
}

// Send writes a fire command to the terminal. It fails immediately while
// disconnected; the caller decides whether that trips a breaker.
func (c *Client) Send(cmd signal.FireCommand) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("bridge not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("write fire command: %w", err)
	}
	return nil
}
