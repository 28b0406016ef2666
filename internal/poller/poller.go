package poller

import (
	"context"
	"log/slog"
	"time"
)

// Target is one device the poller keeps fresh: its session for the periodic
// pull and its update channel for health supervision.
type Target struct {
	Name    string
	Session Refresher
	Channel Supervised
}

// Refresher is the pull side of a device session.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Supervised is the health view of an update channel. The poller forces a
// reconnect when a channel that has worked before reports itself unusable,
// which catches half-dead connections that never surfaced a fault. Channels
// still in their startup grace or first dial sequence are left alone.
type Supervised interface {
	Connected() bool
	EverConnected() bool
	ForceReconnect()
}

const defaultInterval = 30 * time.Second

type Poller struct {
	targets   []Target
	interval  time.Duration
	refreshCh chan struct{}
	logger    *slog.Logger
}

func New(targets []Target, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Poller{
		targets:   targets,
		interval:  interval,
		refreshCh: make(chan struct{}, 1),
		logger:    logger,
	}
}

// TriggerRefresh coalesces an immediate refresh request into the loop.
func (p *Poller) TriggerRefresh() {
	select {
	case p.refreshCh <- struct{}{}:
	default:
	}
}

func (p *Poller) Run(ctx context.Context) {
	for {
		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.refreshCh:
			timer.Stop()
		case <-timer.C:
		}
		p.pollOnce(ctx)
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	for _, target := range p.targets {
		if err := target.Session.Refresh(ctx); err != nil {
			p.logger.Warn("poll failed", "device", target.Name, "err", err)
		}
		if target.Channel != nil && target.Channel.EverConnected() && !target.Channel.Connected() {
			p.logger.Warn("update channel unusable, forcing reconnect", "device", target.Name)
			target.Channel.ForceReconnect()
		}
		if ctx.Err() != nil {
			return
		}
	}
}
