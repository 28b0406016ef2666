package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnState is the update channel's connection lifecycle state. It is owned
// exclusively by the channel goroutine; the outside world only asks
// Connected().
type ConnState int

const (
	StateIdle ConnState = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateShuttingDown
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Sink receives partial status updates pushed by the device.
type Sink interface {
	ApplyStatusUpdate(update map[string]any)
}

const (
	startupGrace     = 2 * time.Second
	pingInterval     = 25 * time.Second
	pingWriteTimeout = 10 * time.Second
	readTimeout      = 120 * time.Second
	handshakeTimeout = 30 * time.Second
)

// Channel maintains the persistent streaming connection to one device:
// connect, read status frames into the sink, ping for liveness, reconnect
// with backoff until shut down.
type Channel struct {
	url    string
	sink   Sink
	logger *slog.Logger
	dialer *websocket.Dialer

	// grace and delay let tests skip the firmware boot delay and observe
	// the backoff bookkeeping.
	grace time.Duration
	delay func(attempt int) time.Duration

	mu            sync.Mutex
	state         ConnState
	conn          *websocket.Conn
	everConnected bool

	kick chan struct{}
	done chan struct{}
}

func New(url string, sink Sink, logger *slog.Logger) *Channel {
	return &Channel{
		url:    url,
		sink:   sink,
		logger: logger,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		grace:  startupGrace,
		delay:  ReconnectDelay,
		kick:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Connected reports whether the channel is currently usable.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

// EverConnected reports whether a connection has ever been established.
// Health supervision stays quiet until then: before the first handshake the
// channel is in its startup grace or initial dial sequence and needs no
// outside help.
func (c *Channel) EverConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.everConnected
}

// State returns the current lifecycle state.
func (c *Channel) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setState applies a transition. ShuttingDown is terminal: once entered no
// transition leaves it, so a racing reconnect can never resurrect the
// channel during teardown.
func (c *Channel) setState(next ConnState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateShuttingDown {
		return
	}
	c.state = next
}

// ForceReconnect cuts the current connection (the read loop faults out and
// redials) or short-circuits a pending backoff wait. Used by the poller's
// health supervision when the channel looks half-dead.
func (c *Channel) ForceReconnect() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
		return
	}
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Done is closed when the channel goroutine has exited.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Run drives the connection loop until ctx is cancelled. The startup grace
// delay gives the device firmware time to finish booting before the first
// dial.
func (c *Channel) Run(ctx context.Context) {
	defer close(c.done)
	defer c.shutdown()

	select {
	case <-ctx.Done():
		return
	case <-time.After(c.grace):
	}

	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}
		attempts++
		c.setState(StateConnecting)

		err := c.runSession(ctx, &attempts)
		c.setState(StateDisconnected)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.Warn("update channel disconnected", "attempt", attempts, "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-c.kick:
		case <-time.After(c.delay(attempts)):
		}
	}
}

func (c *Channel) shutdown() {
	c.mu.Lock()
	c.state = StateShuttingDown
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Channel) runSession(ctx context.Context, attempts *int) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state == StateShuttingDown {
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.state = StateConnected
	c.everConnected = true
	c.mu.Unlock()
	*attempts = 0
	c.logger.Info("update channel connected", "url", c.url)

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	// Liveness pings are sent regardless of inbound traffic; a failed ping
	// write counts as a connection fault.
	pingErr := make(chan error, 1)
	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingWriteTimeout)); err != nil {
					select {
					case pingErr <- err:
					default:
					}
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			select {
			case perr := <-pingErr:
				return fmt.Errorf("liveness ping failed: %w", perr)
			default:
			}
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		var update map[string]any
		if err := json.Unmarshal(payload, &update); err != nil {
			c.logger.Warn("dropping malformed status frame", "err", err)
			continue
		}
		c.sink.ApplyStatusUpdate(update)
	}
}
