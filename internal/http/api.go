package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tsuryphone/ha-bridge/addon/internal/phonebook"
	"github.com/tsuryphone/ha-bridge/addon/internal/session"
	"github.com/tsuryphone/ha-bridge/addon/internal/tsuryphone"
)

// RefreshTrigger requests an out-of-schedule poll of all devices.
type RefreshTrigger interface {
	TriggerRefresh()
}

// DeviceStream is the health view of a device's push channel.
type DeviceStream interface {
	Connected() bool
}

type API struct {
	registry *session.Registry
	poller   RefreshTrigger
	streams  map[string]DeviceStream
	logger   *slog.Logger
}

func New(registry *session.Registry, poller RefreshTrigger, streams map[string]DeviceStream, logger *slog.Logger) *API {
	return &API{registry: registry, poller: poller, streams: streams, logger: logger}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RecoverJSON)
	r.Use(middleware.Timeout(20 * time.Second))
	r.Use(StripIngressPrefix)
	r.Use(RequestLogger(a.logger))

	r.Get("/healthz", a.health)
	r.Route("/api", func(api chi.Router) {
		api.Get("/devices", a.listDevices)
		api.Post("/refresh", a.refreshAll)

		api.Route("/devices/{name}", func(device chi.Router) {
			device.Get("/state", a.deviceState)
			device.Get("/categories/{category}", a.deviceCategory)
			device.Get("/call-log", a.deviceCallLog)
			device.Get("/phonebook.vcf", a.devicePhonebookVCard)

			device.Post("/refresh", a.deviceRefresh)
			device.Post("/call", a.deviceCall)
			device.Post("/hangup", a.deviceHangup)
			device.Post("/ring", a.deviceRing)
			device.Post("/reset", a.deviceReset)
			device.Post("/call-waiting", a.deviceCallWaiting)
			device.Post("/maintenance", a.deviceMaintenance)

			device.Post("/dnd/force", a.deviceDNDForce)
			device.Post("/dnd/schedule", a.deviceDNDSchedule)
			device.Post("/dnd/window", a.deviceDNDWindow)

			device.Post("/phonebook", a.devicePhonebookAdd)
			device.Delete("/phonebook/{entry}", a.devicePhonebookRemove)
			device.Post("/blocked", a.deviceBlockedAdd)
			device.Delete("/blocked/{number}", a.deviceBlockedRemove)
			device.Post("/webhooks", a.deviceWebhookAdd)
			device.Delete("/webhooks/{shortcut}", a.deviceWebhookRemove)
		})
	})

	return r
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "devices": len(a.registry.Names())})
}

func (a *API) listDevices(w http.ResponseWriter, _ *http.Request) {
	items := make([]map[string]any, 0)
	for _, s := range a.registry.All() {
		item := map[string]any{
			"name": s.Name(),
			"host": s.Device().Host,
			"port": s.Device().Port,
		}
		if stream, ok := a.streams[s.Name()]; ok {
			item["stream_connected"] = stream.Connected()
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) refreshAll(w http.ResponseWriter, _ *http.Request) {
	a.poller.TriggerRefresh()
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

// session resolves the device session from the URL, writing a 404 when the
// name is unknown.
func (a *API) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	name := chi.URLParam(r, "name")
	s, ok := a.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_device", "Device not found")
		return nil, false
	}
	return s, true
}

func (a *API) deviceState(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	response := map[string]any{"categories": s.State()}
	if stream, ok := a.streams[s.Name()]; ok {
		response["stream_connected"] = stream.Connected()
	}
	writeJSON(w, http.StatusOK, response)
}

func (a *API) deviceCategory(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	category := tsuryphone.Category(chi.URLParam(r, "category"))
	if !category.Valid() {
		writeError(w, http.StatusBadRequest, "unknown_category", "Unknown category")
		return
	}
	payload, err := s.Category(r.Context(), category)
	if err != nil {
		writeError(w, http.StatusBadGateway, "device_unreachable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (a *API) deviceCallLog(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": s.CallLogEntries()})
}

func (a *API) devicePhonebookVCard(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	payload, err := s.Category(r.Context(), tsuryphone.CategoryPhonebook)
	if err != nil {
		writeError(w, http.StatusBadGateway, "device_unreachable", err.Error())
		return
	}
	out, err := phonebook.ExportVCard(phonebook.EntriesFromCategory(payload))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "vcard_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/vcard; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (a *API) deviceRefresh(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	if err := s.Refresh(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "device_unreachable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) deviceCall(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var payload struct {
		Number string `json:"number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
		return
	}
	if strings.TrimSpace(payload.Number) == "" {
		writeError(w, http.StatusBadRequest, "missing_number", "number is required")
		return
	}
	a.deviceAction(w, func() error { return s.Call(r.Context(), payload.Number) })
}

func (a *API) deviceHangup(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	a.deviceAction(w, func() error { return s.Hangup(r.Context()) })
}

func (a *API) deviceRing(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var payload struct {
		Pattern string `json:"pattern"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
		return
	}
	// The session owns the pattern grammar; its parse failure is an input
	// error, anything after it a device fault.
	if err := s.RingWithPattern(r.Context(), payload.Pattern); err != nil {
		if errors.Is(err, tsuryphone.ErrInvalidRingPattern) {
			writeError(w, http.StatusBadRequest, "invalid_pattern", err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, "device_action_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) deviceReset(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	a.deviceAction(w, func() error { return s.Reset(r.Context()) })
}

func (a *API) deviceCallWaiting(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	a.deviceAction(w, func() error { return s.SwitchToCallWaiting(r.Context()) })
}

func (a *API) deviceMaintenance(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	enabled, ok := decodeEnabled(w, r)
	if !ok {
		return
	}
	a.deviceAction(w, func() error { return s.SetMaintenanceMode(r.Context(), enabled) })
}

func (a *API) deviceDNDForce(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	enabled, ok := decodeEnabled(w, r)
	if !ok {
		return
	}
	a.deviceAction(w, func() error { return s.SetDNDForce(r.Context(), enabled) })
}

func (a *API) deviceDNDSchedule(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	enabled, ok := decodeEnabled(w, r)
	if !ok {
		return
	}
	a.deviceAction(w, func() error { return s.SetDNDSchedule(r.Context(), enabled) })
}

func (a *API) deviceDNDWindow(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var window tsuryphone.DNDWindow
	if err := json.NewDecoder(r.Body).Decode(&window); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
		return
	}
	if err := window.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_window", err.Error())
		return
	}
	a.deviceAction(w, func() error { return s.SetDNDWindow(r.Context(), window) })
}

func (a *API) devicePhonebookAdd(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var payload struct {
		Name   string `json:"name"`
		Number string `json:"number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
		return
	}
	if payload.Name == "" || payload.Number == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "name and number are required")
		return
	}
	a.deviceAction(w, func() error { return s.AddPhonebookEntry(r.Context(), payload.Name, payload.Number) })
}

func (a *API) devicePhonebookRemove(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	entry := chi.URLParam(r, "entry")
	a.deviceAction(w, func() error { return s.RemovePhonebookEntry(r.Context(), entry) })
}

func (a *API) deviceBlockedAdd(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var payload struct {
		Number string `json:"number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
		return
	}
	if strings.TrimSpace(payload.Number) == "" {
		writeError(w, http.StatusBadRequest, "missing_number", "number is required")
		return
	}
	a.deviceAction(w, func() error { return s.AddBlockedNumber(r.Context(), payload.Number) })
}

func (a *API) deviceBlockedRemove(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	number := chi.URLParam(r, "number")
	a.deviceAction(w, func() error { return s.RemoveBlockedNumber(r.Context(), number) })
}

func (a *API) deviceWebhookAdd(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var payload struct {
		Name      string `json:"name"`
		WebhookID string `json:"webhook_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
		return
	}
	if payload.Name == "" || payload.WebhookID == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "name and webhook_id are required")
		return
	}
	a.deviceAction(w, func() error { return s.AddWebhookShortcut(r.Context(), payload.Name, payload.WebhookID) })
}

func (a *API) deviceWebhookRemove(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	shortcut := chi.URLParam(r, "shortcut")
	a.deviceAction(w, func() error { return s.RemoveWebhookShortcut(r.Context(), shortcut) })
}

// deviceAction runs an already-validated device operation. Inputs were
// checked before this point, so a failure here means the device said no or
// could not be reached.
func (a *API) deviceAction(w http.ResponseWriter, fn func() error) {
	if err := fn(); err != nil {
		writeError(w, http.StatusBadGateway, "device_action_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func decodeEnabled(w http.ResponseWriter, r *http.Request) (bool, bool) {
	var payload struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Enabled == nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "enabled (boolean) is required")
		return false, false
	}
	return *payload.Enabled, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
