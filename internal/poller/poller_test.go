package poller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type countingRefresher struct {
	calls atomic.Int32
	err   error
}

func (c *countingRefresher) Refresh(context.Context) error {
	c.calls.Add(1)
	return c.err
}

type fakeChannel struct {
	connected     atomic.Bool
	everConnected atomic.Bool
	reconnects    atomic.Int32
}

func (f *fakeChannel) Connected() bool     { return f.connected.Load() }
func (f *fakeChannel) EverConnected() bool { return f.everConnected.Load() }
func (f *fakeChannel) ForceReconnect()     { f.reconnects.Add(1) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestTriggerRefreshShortCircuitsTimer(t *testing.T) {
	refresher := &countingRefresher{}
	channel := &fakeChannel{}
	channel.connected.Store(true)

	channel.everConnected.Store(true)

	p := New([]Target{{Name: "tsuryphone", Session: refresher, Channel: channel}}, time.Hour, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.TriggerRefresh()
	waitFor(t, time.Second, func() bool { return refresher.calls.Load() == 1 })
	if channel.reconnects.Load() != 0 {
		t.Fatal("healthy channel was force-reconnected")
	}
}

func TestUnusableChannelGetsForcedReconnect(t *testing.T) {
	refresher := &countingRefresher{}
	channel := &fakeChannel{} // dropped after working earlier
	channel.everConnected.Store(true)

	p := New([]Target{{Name: "tsuryphone", Session: refresher, Channel: channel}}, time.Hour, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.TriggerRefresh()
	waitFor(t, time.Second, func() bool { return channel.reconnects.Load() == 1 })
}

func TestChannelStillDialingIsLeftAlone(t *testing.T) {
	refresher := &countingRefresher{}
	channel := &fakeChannel{} // never connected: startup grace or first dials

	p := New([]Target{{Name: "tsuryphone", Session: refresher, Channel: channel}}, time.Hour, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.TriggerRefresh()
	waitFor(t, time.Second, func() bool { return refresher.calls.Load() == 1 })
	if channel.reconnects.Load() != 0 {
		t.Fatal("channel was force-reconnected before its first connection")
	}
}

func TestRefreshFailureDoesNotStopLoop(t *testing.T) {
	refresher := &countingRefresher{err: fmt.Errorf("device unreachable")}
	p := New([]Target{{Name: "tsuryphone", Session: refresher}}, time.Hour, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.TriggerRefresh()
	waitFor(t, time.Second, func() bool { return refresher.calls.Load() == 1 })
	p.TriggerRefresh()
	waitFor(t, time.Second, func() bool { return refresher.calls.Load() == 2 })
}
