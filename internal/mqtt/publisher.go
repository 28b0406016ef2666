package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tsuryphone/ha-bridge/addon/internal/model"
	"github.com/tsuryphone/ha-bridge/addon/internal/session"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	keepAlive         = 60 * time.Second
	disconnectQuiesce = 1000 // milliseconds
)

// Options configures the optional broker mirror.
type Options struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Publisher mirrors device snapshots and call events onto an MQTT broker so
// dashboards can subscribe without hitting the HTTP API.
type Publisher struct {
	client pahomqtt.Client
	prefix string
	logger *slog.Logger

	mu       sync.Mutex
	lastCall map[string]string // device name -> newest published entry ID
	detach   []func()
}

// Connect dials the broker, registers a retained offline will on the bridge
// status topic and publishes the matching online marker.
func Connect(opts Options, logger *slog.Logger) (*Publisher, error) {
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "tsuryphone"
	}
	if opts.ClientID == "" {
		opts.ClientID = "tsuryphone-bridge"
	}

	p := &Publisher{
		prefix:   opts.TopicPrefix,
		logger:   logger,
		lastCall: make(map[string]string),
	}

	statusTopic := p.prefix + "/bridge/status"

	co := pahomqtt.NewClientOptions()
	co.AddBroker(opts.BrokerURL)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	co.SetCleanSession(true)
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectTimeout(connectTimeout)
	co.SetKeepAlive(keepAlive)
	co.SetWill(statusTopic, `{"state":"offline"}`, 1, true)
	co.SetOnConnectHandler(func(pahomqtt.Client) {
		logger.Info("mqtt connected", "broker", opts.BrokerURL)
	})
	co.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "err", err)
	})

	p.client = pahomqtt.NewClient(co)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timeout after %v", opts.BrokerURL, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", opts.BrokerURL, err)
	}

	p.publish(statusTopic, []byte(`{"state":"online"}`), true)
	return p, nil
}

// Attach subscribes the publisher to a session. Every snapshot change
// republishes the retained per-device state topic, and each new call log
// entry goes out once as an event.
func (p *Publisher) Attach(s *session.Session) {
	name := s.Name()
	unsubscribe := s.Subscribe(func() {
		p.publishState(name, s.State())
		p.publishNewCalls(name, s.CallLogEntries())
	})

	p.mu.Lock()
	p.detach = append(p.detach, unsubscribe)
	p.mu.Unlock()
}

// Close announces a clean shutdown and releases the connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	detach := p.detach
	p.detach = nil
	p.mu.Unlock()
	for _, fn := range detach {
		fn()
	}

	p.publish(p.prefix+"/bridge/status", []byte(`{"state":"offline"}`), true)
	p.client.Disconnect(disconnectQuiesce)
}

func (p *Publisher) publishState(name string, state map[string]map[string]any) {
	payload, err := json.Marshal(state)
	if err != nil {
		p.logger.Warn("mqtt state marshal failed", "device", name, "err", err)
		return
	}
	p.publish(fmt.Sprintf("%s/%s/status", p.prefix, name), payload, true)
}

func (p *Publisher) publishNewCalls(name string, entries []model.CallLogEntry) {
	if len(entries) == 0 {
		return
	}

	p.mu.Lock()
	fresh := pendingCallEvents(p.lastCall[name], entries)
	p.lastCall[name] = entries[0].ID
	p.mu.Unlock()

	// Oldest first so subscribers see events in call order.
	for i := len(fresh) - 1; i >= 0; i-- {
		payload, err := json.Marshal(fresh[i])
		if err != nil {
			p.logger.Warn("mqtt call event marshal failed", "device", name, "err", err)
			continue
		}
		p.publish(fmt.Sprintf("%s/%s/event/call", p.prefix, name), payload, false)
	}
}

// pendingCallEvents returns the entries newer than the last published ID,
// newest first. One observer notification can cover several appended
// entries, so everything above the seen ID counts. With no baseline only
// the newest entry is an event; older ones are restored history.
func pendingCallEvents(seen string, entries []model.CallLogEntry) []model.CallLogEntry {
	if len(entries) == 0 || seen == entries[0].ID {
		return nil
	}
	if seen == "" {
		return entries[:1]
	}
	for i, entry := range entries {
		if entry.ID == seen {
			return entries[:i]
		}
	}
	return entries
}

func (p *Publisher) publish(topic string, payload []byte, retained bool) {
	token := p.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.logger.Warn("mqtt publish timed out", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		p.logger.Warn("mqtt publish failed", "topic", topic, "err", err)
	}
}
