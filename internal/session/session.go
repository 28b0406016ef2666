package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tsuryphone/ha-bridge/addon/internal/model"
	"github.com/tsuryphone/ha-bridge/addon/internal/tsuryphone"
)

// DeviceClient is the request/response half of the device protocol.
type DeviceClient interface {
	FetchCategory(ctx context.Context, category tsuryphone.Category) (map[string]any, error)
	PerformAction(ctx context.Context, action string, params map[string]any) error
	SetDNDWindow(ctx context.Context, window tsuryphone.DNDWindow) error
	ConfigureWebhookServer(ctx context.Context, serverURL string) error
}

// Session owns all request/response interaction with one device and the
// canonical snapshot. The poller and the update channel both write through
// it; collaborators read through it and subscribe for change notification.
type Session struct {
	name    string
	device  model.DeviceConfig
	client  DeviceClient
	logger  *slog.Logger
	snap    *Snapshot
	callLog *CallLog

	obsMu     sync.Mutex
	observers map[int]func()
	nextObsID int
}

func New(device model.DeviceConfig, client DeviceClient, store Store, logger *slog.Logger) *Session {
	logger = logger.With("device", device.Name)
	return &Session{
		name:      device.Name,
		device:    device,
		client:    client,
		logger:    logger,
		snap:      NewSnapshot(),
		callLog:   NewCallLog(device.Name, store, logger),
		observers: make(map[int]func()),
	}
}

func (s *Session) Name() string               { return s.name }
func (s *Session) Device() model.DeviceConfig { return s.device }

// Setup restores the persisted call log and, when configured, pushes the
// Home Assistant callback URL to the device. A failed webhook push is
// logged, not fatal: the device just won't call back until the next start.
func (s *Session) Setup(ctx context.Context) error {
	if err := s.callLog.Load(ctx); err != nil {
		return fmt.Errorf("load call log: %w", err)
	}
	if s.device.HAServerURL != "" {
		if err := s.client.ConfigureWebhookServer(ctx, s.device.HAServerURL); err != nil {
			s.logger.Warn("webhook server configuration failed", "err", err)
		}
	}
	return nil
}

// Close flushes the call log as the final teardown step.
func (s *Session) Close(ctx context.Context) error {
	return s.callLog.Flush(ctx)
}

// Subscribe registers an observer fired after every snapshot mutation. The
// returned func unsubscribes.
func (s *Session) Subscribe(fn func()) func() {
	s.obsMu.Lock()
	id := s.nextObsID
	s.nextObsID++
	s.observers[id] = fn
	s.obsMu.Unlock()
	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

func (s *Session) notify() {
	s.obsMu.Lock()
	observers := make([]func(), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.obsMu.Unlock()
	for _, fn := range observers {
		fn()
	}
}

// Refresh fetches status and stats concurrently and overwrites those two
// categories. One side failing is tolerated; both failing is an error the
// poller reports on its next tick.
func (s *Session) Refresh(ctx context.Context) error {
	type result struct {
		category tsuryphone.Category
		payload  map[string]any
		err      error
	}

	results := make([]result, len(tsuryphone.PolledCategories))
	var wg sync.WaitGroup
	for i, category := range tsuryphone.PolledCategories {
		wg.Add(1)
		go func(i int, category tsuryphone.Category) {
			defer wg.Done()
			payload, err := s.client.FetchCategory(ctx, category)
			results[i] = result{category: category, payload: payload, err: err}
		}(i, category)
	}
	wg.Wait()

	var errs []error
	updated := false
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		switch r.category {
		case tsuryphone.CategoryStatus:
			s.callLog.ObserveStatus(ctx, r.payload)
		case tsuryphone.CategoryStats:
			s.callLog.ObserveStats(ctx, r.payload)
		}
		s.snap.Set(r.category, r.payload)
		updated = true
	}
	if !updated {
		return fmt.Errorf("refresh %s: %w", s.name, errors.Join(errs...))
	}
	s.notify()
	return nil
}

// Category returns the cached value for a category, fetching it lazily when
// it has never been loaded.
func (s *Session) Category(ctx context.Context, category tsuryphone.Category) (map[string]any, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("unknown category %q", category)
	}
	if cached, ok := s.snap.Get(category); ok {
		return cached, nil
	}
	payload, err := s.client.FetchCategory(ctx, category)
	if err != nil {
		return nil, err
	}
	s.snap.Set(category, payload)
	s.notify()
	return payload, nil
}

// State returns the full snapshot, keyed by category.
func (s *Session) State() map[string]map[string]any {
	return s.snap.All()
}

// CallLogEntries returns the call history, newest first.
func (s *Session) CallLogEntries() []model.CallLogEntry {
	return s.callLog.Entries()
}

// ApplyStatusUpdate is the push-channel entry point: track the transition,
// merge-preserve into the status category, notify observers.
func (s *Session) ApplyStatusUpdate(update map[string]any) {
	s.callLog.ObserveStatus(context.Background(), update)
	s.snap.MergeStatus(update)
	s.notify()
}

// Call dials a number and logs the outgoing call on success. Status changes
// arrive through the push channel.
func (s *Session) Call(ctx context.Context, number string) error {
	if number == "" {
		return fmt.Errorf("number is empty")
	}
	if err := s.client.PerformAction(ctx, tsuryphone.ActionCall, map[string]any{"number": number}); err != nil {
		return err
	}
	s.callLog.RecordOutgoing(ctx, number)
	return nil
}

func (s *Session) Hangup(ctx context.Context) error {
	return s.client.PerformAction(ctx, tsuryphone.ActionHangup, nil)
}

// RingWithPattern parses the pattern text first; a bad pattern never
// reaches the device.
func (s *Session) RingWithPattern(ctx context.Context, pattern string) error {
	parsed, err := tsuryphone.ParseRingPattern(pattern)
	if err != nil {
		return err
	}
	return s.client.PerformAction(ctx, tsuryphone.ActionRingPattern, map[string]any{
		"durations": parsed.Durations,
		"repeats":   parsed.Repeats,
	})
}

func (s *Session) SetDNDForce(ctx context.Context, enabled bool) error {
	if err := s.client.PerformAction(ctx, tsuryphone.ActionDNDForce, map[string]any{"enabled": enabled}); err != nil {
		return err
	}
	s.refetch(ctx, tsuryphone.CategoryDND)
	return nil
}

func (s *Session) SetDNDSchedule(ctx context.Context, enabled bool) error {
	if err := s.client.PerformAction(ctx, tsuryphone.ActionDNDSchedule, map[string]any{"enabled": enabled}); err != nil {
		return err
	}
	s.refetch(ctx, tsuryphone.CategoryDND)
	return nil
}

func (s *Session) SetDNDWindow(ctx context.Context, window tsuryphone.DNDWindow) error {
	if err := s.client.SetDNDWindow(ctx, window); err != nil {
		return err
	}
	s.refetch(ctx, tsuryphone.CategoryDND)
	return nil
}

func (s *Session) AddPhonebookEntry(ctx context.Context, name, number string) error {
	if name == "" || number == "" {
		return fmt.Errorf("phonebook entry needs name and number")
	}
	if err := s.client.PerformAction(ctx, tsuryphone.ActionQuickDialAdd, map[string]any{"name": name, "number": number}); err != nil {
		return err
	}
	s.refetch(ctx, tsuryphone.CategoryPhonebook)
	return nil
}

func (s *Session) RemovePhonebookEntry(ctx context.Context, name string) error {
	if err := s.client.PerformAction(ctx, tsuryphone.ActionQuickDialRemove, map[string]any{"name": name}); err != nil {
		return err
	}
	s.refetch(ctx, tsuryphone.CategoryPhonebook)
	return nil
}

func (s *Session) AddBlockedNumber(ctx context.Context, number string) error {
	if number == "" {
		return fmt.Errorf("number is empty")
	}
	if err := s.client.PerformAction(ctx, tsuryphone.ActionBlockedAdd, map[string]any{"number": number}); err != nil {
		return err
	}
	s.refetch(ctx, tsuryphone.CategoryBlocked)
	return nil
}

func (s *Session) RemoveBlockedNumber(ctx context.Context, number string) error {
	if err := s.client.PerformAction(ctx, tsuryphone.ActionBlockedRemove, map[string]any{"number": number}); err != nil {
		return err
	}
	s.refetch(ctx, tsuryphone.CategoryBlocked)
	return nil
}

// AddWebhookShortcut maps a dialable shortcut to a Home Assistant webhook.
// The firmware keys shortcuts by the "number" field.
func (s *Session) AddWebhookShortcut(ctx context.Context, name, webhookID string) error {
	if name == "" || webhookID == "" {
		return fmt.Errorf("webhook shortcut needs name and webhook id")
	}
	if err := s.client.PerformAction(ctx, tsuryphone.ActionWebhookAdd, map[string]any{"number": name, "webhook_id": webhookID}); err != nil {
		return err
	}
	s.refetch(ctx, tsuryphone.CategoryWebhooks)
	return nil
}

func (s *Session) RemoveWebhookShortcut(ctx context.Context, name string) error {
	if err := s.client.PerformAction(ctx, tsuryphone.ActionWebhookRemove, map[string]any{"number": name}); err != nil {
		return err
	}
	s.refetch(ctx, tsuryphone.CategoryWebhooks)
	return nil
}

func (s *Session) SetMaintenanceMode(ctx context.Context, enabled bool) error {
	return s.client.PerformAction(ctx, tsuryphone.ActionMaintenance, map[string]any{"enabled": enabled})
}

func (s *Session) SwitchToCallWaiting(ctx context.Context) error {
	return s.client.PerformAction(ctx, tsuryphone.ActionCallWaiting, nil)
}

func (s *Session) Reset(ctx context.Context) error {
	return s.client.PerformAction(ctx, tsuryphone.ActionReset, nil)
}

// RequestDeviceRefresh asks the firmware to re-publish its state.
func (s *Session) RequestDeviceRefresh(ctx context.Context) error {
	return s.client.PerformAction(ctx, tsuryphone.ActionRefresh, nil)
}

// refetch reloads a category after a mutation. The mutation already
// succeeded, so a failed reload only leaves the cache stale until the next
// read; it is logged and swallowed.
func (s *Session) refetch(ctx context.Context, category tsuryphone.Category) {
	payload, err := s.client.FetchCategory(ctx, category)
	if err != nil {
		s.logger.Warn("category refetch failed", "category", category, "err", err)
		return
	}
	s.snap.Set(category, payload)
	s.notify()
}
