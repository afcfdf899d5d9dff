package feed

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/feedmesh/ingestd/internal/endpoint"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var errStopAfterFirstFrame = errors.New("stop after first frame")

// newTestServer starts a websocket echo server that, for every
// connection, sends back one "tick" text frame after the client's
// subscribe message arrives, then waits for the test to close it.
func newTestServer(t *testing.T, onSubscribe func(msg []byte)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if onSubscribe != nil {
			onSubscribe(msg)
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"tick":1}`)); err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	return srv
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func testConfig(url string) Config {
	return Config{
		Name:    "binance",
		BaseURL: url,
		Ws: endpoint.ExchangeWsConfig{
			SubscribeTemplate:   map[string]any{"op": "subscribe", "symbol": "<symbol>"},
			UnsubscribeTemplate: map[string]any{"op": "unsubscribe", "symbol": "<symbol>"},
		},
	}
}

func TestRunStreamDeliversTextFrame(t *testing.T) {
	var subscribed []byte
	var mu sync.Mutex
	srv := newTestServer(t, func(msg []byte) {
		mu.Lock()
		subscribed = msg
		mu.Unlock()
	})
	defer srv.Close()

	c := New(testConfig(wsURL(srv.URL)), nil)

	var got []string
	hook := &TestHook{MaxReconnectAttempts: 1}
	err := c.RunStream(context.Background(), endpoint.Context{"symbol": "BTCUSDT"}, func(ctx context.Context, ev Event) error {
		got = append(got, ev.Text)
		return errStopAfterFirstFrame
	}, hook)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, `{"tick":1}`, got[0])

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, string(subscribed), "BTCUSDT")
}

func TestRunStreamMissingTemplateKeyFailsBeforeConnect(t *testing.T) {
	c := New(testConfig("ws://unused.invalid"), nil)
	err := c.RunStream(context.Background(), endpoint.Context{}, func(context.Context, Event) error {
		return nil
	}, nil)
	require.Error(t, err)
}

func TestRunStreamStopsAfterMaxReconnectAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close() // immediate disconnect, forcing a reconnect cycle
	}))
	defer srv.Close()

	c := New(testConfig(wsURL(srv.URL)), nil)
	hook := &TestHook{MaxReconnectAttempts: 3}
	err := c.RunStream(context.Background(), endpoint.Context{"symbol": "BTCUSDT"}, func(context.Context, Event) error {
		return nil
	}, hook)
	require.NoError(t, err)
	require.Equal(t, 4, hook.reconnectAttempts)
	require.Len(t, hook.Disconnects, 3)
}

func TestRunStreamSendsUnsubscribeOnReadError(t *testing.T) {
	var unsubscribed []byte
	var mu sync.Mutex
	gotUnsubscribe := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if _, _, err := conn.ReadMessage(); err != nil { // subscribe
			return
		}
		// Half-close our write side: the client's next ReadMessage fails
		// with a read error (not a close frame), driving runOnce's
		// read-error break path, while our own ReadMessage below still
		// observes whatever the client writes back.
		if tcp, ok := conn.UnderlyingConn().(*net.TCPConn); ok {
			_ = tcp.CloseWrite()
		}
		_, msg, err := conn.ReadMessage()
		if err == nil {
			mu.Lock()
			unsubscribed = msg
			mu.Unlock()
			close(gotUnsubscribe)
		}
	}))
	defer srv.Close()

	c := New(testConfig(wsURL(srv.URL)), nil)
	hook := &TestHook{MaxReconnectAttempts: 1}
	err := c.RunStream(context.Background(), endpoint.Context{"symbol": "BTCUSDT"}, func(context.Context, Event) error {
		return nil
	}, hook)
	require.NoError(t, err)

	select {
	case <-gotUnsubscribe:
	case <-time.After(5 * time.Second):
		t.Fatal("server never received an unsubscribe message after the client's read error")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, string(unsubscribed), "unsubscribe")
}

func TestRunStreamHonorsContextCancellation(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()

	c := New(testConfig(wsURL(srv.URL)), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- c.RunStream(ctx, endpoint.Context{"symbol": "BTCUSDT"}, func(context.Context, Event) error {
			cancel()
			return nil
		}, nil)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("RunStream did not return after context cancellation")
	}
}
