// Package feed implements the push-feed client: one websocket
// connection per stream, with rate-limited connect/subscribe,
// optional heartbeating, connection-timeout tear-down, and
// unconditional reconnect on any disconnect.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/feedmesh/ingestd/internal/apperr"
	"github.com/feedmesh/ingestd/internal/endpoint"
	"github.com/feedmesh/ingestd/internal/ratelimit"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// HeartbeatFrame is the optional outbound heartbeat payload: plain
// text, a JSON object, or, if both are empty, a protocol-level ping
// frame.
type HeartbeatFrame struct {
	Text string
	JSON any
}

// Config is the subset of per-exchange wiring the feed client needs
// beyond the declarative subscribe/unsubscribe templates.
type Config struct {
	Name                     string
	BaseURL                  string
	Ws                       endpoint.ExchangeWsConfig
	ConnectionTimeoutSeconds int64
	HeartbeatType            string // "ping", case-insensitive; anything else disables heartbeating
	HeartbeatTimeoutSeconds  int64  // default 30 if unset
	HeartbeatFrame           HeartbeatFrame
}

func (c Config) heartbeatPeriod() time.Duration {
	timeout := c.HeartbeatTimeoutSeconds
	if timeout <= 0 {
		timeout = 30
	}
	period := timeout / 2
	if period < 1 {
		period = 1
	}
	return time.Duration(period) * time.Second
}

// EventKind distinguishes the frames delivered to a stream's handler.
type EventKind int

const (
	EventText EventKind = iota
	EventBinary
	EventPing
	EventPong
	EventClose
)

// Event is one delivered websocket frame.
type Event struct {
	Kind   EventKind
	Text   string
	Binary []byte
	Reason string
}

// Handler processes one delivered frame; an error here tears down the
// current connection (it does not stop the outer reconnect loop).
type Handler func(ctx context.Context, ev Event) error

// Dialer abstracts websocket.DefaultDialer.DialContext for tests.
type Dialer func(ctx context.Context, url string) (*websocket.Conn, *http.Response, error)

func defaultDialer(ctx context.Context, url string) (*websocket.Conn, *http.Response, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 30 * time.Second
	return dialer.DialContext(ctx, url, nil)
}

// Client drives one push-feed connection per stream.
type Client struct {
	cfg     Config
	limiter *ratelimit.Registry
	dial    Dialer
}

func New(cfg Config, limiter *ratelimit.Registry) *Client {
	return &Client{cfg: cfg, limiter: limiter, dial: defaultDialer}
}

// WithDialer overrides the websocket dialer; used by tests to avoid a
// real network connection.
func (c *Client) WithDialer(d Dialer) *Client {
	c.dial = d
	return c
}

// TestHook makes the otherwise-infinite reconnect loop deterministic
// for tests: it caps the number of reconnect attempts and records
// every disconnect reason observed.
type TestHook struct {
	MaxReconnectAttempts int // 0 means unlimited
	reconnectAttempts    int
	Disconnects          []string
}

func (h *TestHook) onBeforeReconnectAttempt() bool {
	h.reconnectAttempts++
	if h.MaxReconnectAttempts == 0 {
		return true
	}
	return h.reconnectAttempts <= h.MaxReconnectAttempts
}

func (h *TestHook) onDisconnected(reason string) {
	h.Disconnects = append(h.Disconnects, reason)
}

// RunStream resolves the subscribe/unsubscribe control messages from
// streamCtx and runs the connect/read/reconnect loop until ctx is
// cancelled or, in tests, the hook's attempt cap is reached.
func (c *Client) RunStream(ctx context.Context, streamCtx endpoint.Context, onEvent Handler, hook *TestHook) error {
	control, err := endpoint.ResolveWsControl(c.cfg.Ws, streamCtx)
	if err != nil {
		return err
	}
	return c.connectLoop(ctx, control, onEvent, hook)
}

func (c *Client) connectLoop(ctx context.Context, control endpoint.WsControl, onEvent Handler, hook *TestHook) error {
	for {
		if hook != nil && !hook.onBeforeReconnectAttempt() {
			return nil
		}

		if c.limiter != nil {
			if err := c.limiter.Acquire(ctx, c.cfg.Name, ratelimit.Reconnect, nil); err != nil {
				return err
			}
		}

		reason, err := c.runOnce(ctx, control, onEvent)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Str("exchange", c.cfg.Name).Err(err).Msg("feed connection attempt failed")
		}
		if hook != nil {
			hook.onDisconnected(reason)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// runOnce owns exactly one connection lifecycle: dial, subscribe,
// read until disconnect, best-effort unsubscribe. It returns the
// human-readable disconnect reason and any hard error encountered
// before a connection was even established.
func (c *Client) runOnce(ctx context.Context, control endpoint.WsControl, onEvent Handler) (reason string, err error) {
	log.Info().Str("exchange", c.cfg.Name).Str("url", c.cfg.BaseURL).Msg("feed connecting")
	conn, _, err := c.dial(ctx, c.cfg.BaseURL)
	if err != nil {
		return "", apperr.New(apperr.KindTransport, "feed.connect", err)
	}
	defer conn.Close()

	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx, c.cfg.Name, ratelimit.Subscribe, nil); err != nil {
			return "", err
		}
	}
	if err := sendJSON(conn, control.Subscribe); err != nil {
		return "", apperr.New(apperr.KindTransport, "feed.subscribe", err)
	}

	type frame struct {
		kind EventKind
		data []byte
		err  error
	}
	frames := make(chan frame, 1)
	done := make(chan struct{})
	var stopOnce sync.Once
	stop := func() { stopOnce.Do(func() { close(done) }) }
	defer stop()

	// gorilla answers pings/pongs at the protocol layer before
	// ReadMessage ever returns one; only the close reason is worth
	// surfacing to the caller as a disconnect event.
	conn.SetCloseHandler(func(code int, text string) error {
		select {
		case frames <- frame{kind: EventClose, data: []byte(fmt.Sprintf("close %d: %s", code, text))}:
		case <-done:
		}
		return nil
	})

	go func() {
		for {
			mt, data, rerr := conn.ReadMessage()
			if rerr != nil {
				select {
				case frames <- frame{err: rerr}:
				case <-done:
				}
				return
			}
			kind := EventBinary
			if mt == websocket.TextMessage {
				kind = EventText
			}
			select {
			case frames <- frame{kind: kind, data: data}:
			case <-done:
				return
			}
		}
	}()

	var heartbeat *time.Ticker
	if strings.EqualFold(c.cfg.HeartbeatType, "ping") {
		heartbeat = time.NewTicker(c.cfg.heartbeatPeriod())
		defer heartbeat.Stop()
	}

	var deadline <-chan time.Time
	if c.cfg.ConnectionTimeoutSeconds > 0 {
		timer := time.NewTimer(time.Duration(c.cfg.ConnectionTimeoutSeconds) * time.Second)
		defer timer.Stop()
		deadline = timer.C
	}

	var heartbeatCh <-chan time.Time
	if heartbeat != nil {
		heartbeatCh = heartbeat.C
	}

	// unsubscribe is sent once, after the loop, for every exit reason —
	// ctx cancellation, timeout, heartbeat failure, read error, close
	// frame, or handler error alike — mirroring the original's single
	// post-loop send rather than duplicating it per break case. reason
	// is the named return value; it's set here and read after the loop.
loop:
	for {
		select {
		case <-ctx.Done():
			stop()
			reason = "context cancelled"
			break loop

		case <-deadline:
			stop()
			reason = "connection timeout reached"
			break loop

		case <-heartbeatCh:
			if err := sendHeartbeat(conn, c.cfg.HeartbeatFrame); err != nil {
				stop()
				reason = fmt.Sprintf("heartbeat send error: %v", err)
				break loop
			}

		case f := <-frames:
			if f.err != nil {
				stop()
				reason = fmt.Sprintf("read error: %v", f.err)
				break loop
			}
			var ev Event
			switch f.kind {
			case EventText:
				ev = Event{Kind: EventText, Text: string(f.data)}
			case EventClose:
				ev = Event{Kind: EventClose, Reason: string(f.data)}
			default:
				ev = Event{Kind: EventBinary, Binary: f.data}
			}
			if herr := onEvent(ctx, ev); herr != nil {
				stop()
				reason = fmt.Sprintf("handler error: %v", herr)
				break loop
			}
			if f.kind == EventClose {
				stop()
				reason = ev.Reason
				break loop
			}
		}
	}

	_ = sendJSON(conn, control.Unsubscribe)
	return reason, nil
}

func sendJSON(conn *websocket.Conn, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func sendHeartbeat(conn *websocket.Conn, frame HeartbeatFrame) error {
	switch {
	case frame.Text != "":
		return conn.WriteMessage(websocket.TextMessage, []byte(frame.Text))
	case frame.JSON != nil:
		return sendJSON(conn, frame.JSON)
	default:
		return conn.WriteMessage(websocket.PingMessage, nil)
	}
}
