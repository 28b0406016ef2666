package stream

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type recordingSink struct {
	mu      sync.Mutex
	updates []map[string]any
}

func (s *recordingSink) ApplyStatusUpdate(update map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, update)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

func (s *recordingSink) last() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updates) == 0 {
		return nil
	}
	return s.updates[len(s.updates)-1]
}

var upgrader = websocket.Upgrader{}

// newWSServer runs handler for every websocket client and returns the ws:// URL.
func newWSServer(t *testing.T, handler func(conn *websocket.Conn)) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func newTestChannel(url string, sink Sink) *Channel {
	c := New(url, sink, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.grace = 10 * time.Millisecond
	return c
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestChannelDeliversStatusFrames(t *testing.T) {
	url := newWSServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"state":"IncomingCallRing","call":{"active":true,"number":"123"}}`))
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	sink := &recordingSink{}
	channel := newTestChannel(url, sink)
	ctx, cancel := context.WithCancel(context.Background())
	go channel.Run(ctx)

	waitFor(t, 2*time.Second, func() bool { return sink.count() == 1 })
	if got := sink.last()["state"]; got != "IncomingCallRing" {
		t.Fatalf("state = %v", got)
	}
	if !channel.Connected() {
		t.Fatal("Connected() = false while session is live")
	}

	cancel()
	<-channel.Done()
	if channel.State() != StateShuttingDown {
		t.Fatalf("state after teardown = %v, want shutting_down", channel.State())
	}
}

func TestChannelDropsMalformedFramesAndKeepsReading(t *testing.T) {
	url := newWSServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"state":"Idle"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	sink := &recordingSink{}
	channel := newTestChannel(url, sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go channel.Run(ctx)

	waitFor(t, 2*time.Second, func() bool { return sink.count() == 1 })
	if got := sink.last()["state"]; got != "Idle" {
		t.Fatalf("state = %v, want Idle after malformed frame dropped", got)
	}
}

func TestChannelReconnectsAfterServerDrop(t *testing.T) {
	var dials atomic.Int32
	url := newWSServer(t, func(conn *websocket.Conn) {
		if dials.Add(1) == 1 {
			return // drop the first connection immediately
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"state":"Idle"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	sink := &recordingSink{}
	channel := newTestChannel(url, sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go channel.Run(ctx)

	// First attempt drops, backoff is 1s, then the second attempt delivers.
	waitFor(t, 5*time.Second, func() bool { return sink.count() == 1 })
	if dials.Load() < 2 {
		t.Fatalf("dials = %d, want reconnect after drop", dials.Load())
	}
}

func TestForceReconnectCutsLiveConnection(t *testing.T) {
	var dials atomic.Int32
	url := newWSServer(t, func(conn *websocket.Conn) {
		dials.Add(1)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"state":"Idle"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	sink := &recordingSink{}
	channel := newTestChannel(url, sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go channel.Run(ctx)

	waitFor(t, 2*time.Second, func() bool { return channel.Connected() })
	channel.ForceReconnect()
	waitFor(t, 5*time.Second, func() bool { return dials.Load() >= 2 && channel.Connected() })
}

func TestAttemptCounterResetsAfterSuccessfulConnection(t *testing.T) {
	var dials atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := dials.Add(1)
		if n <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"state":"Idle"}`))
		if n == 4 {
			return // drop the first working session, forcing one more redial
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	var mu sync.Mutex
	var waits []int
	sink := &recordingSink{}
	channel := newTestChannel(url, sink)
	channel.delay = func(attempt int) time.Duration {
		mu.Lock()
		waits = append(waits, attempt)
		mu.Unlock()
		return time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go channel.Run(ctx)

	// Frame two only arrives on the dial after the dropped working session.
	waitFor(t, 5*time.Second, func() bool { return sink.count() >= 2 })

	mu.Lock()
	defer mu.Unlock()
	if len(waits) < 4 {
		t.Fatalf("backoff decisions = %v, want at least 4", waits)
	}
	if waits[0] != 1 || waits[1] != 2 || waits[2] != 3 {
		t.Fatalf("failed dials counted %v, want 1,2,3", waits[:3])
	}
	// The successful session must have reset the counter, so the wait after
	// its drop restarts the schedule instead of continuing from attempt 4.
	if waits[3] > 1 {
		t.Fatalf("attempt after working session = %d, want schedule restart", waits[3])
	}
}

func TestShutdownSuppressesReconnect(t *testing.T) {
	var dials atomic.Int32
	url := newWSServer(t, func(conn *websocket.Conn) {
		dials.Add(1)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	sink := &recordingSink{}
	channel := newTestChannel(url, sink)
	ctx, cancel := context.WithCancel(context.Background())
	go channel.Run(ctx)

	waitFor(t, 2*time.Second, func() bool { return channel.Connected() })
	cancel()
	<-channel.Done()

	settled := dials.Load()
	time.Sleep(100 * time.Millisecond)
	if dials.Load() != settled {
		t.Fatal("channel kept dialing after shutdown")
	}
	if channel.Connected() {
		t.Fatal("Connected() = true after shutdown")
	}
}
