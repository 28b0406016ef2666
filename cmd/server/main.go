package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tsuryphone/ha-bridge/addon/internal/config"
	httpapi "github.com/tsuryphone/ha-bridge/addon/internal/http"
	"github.com/tsuryphone/ha-bridge/addon/internal/logging"
	"github.com/tsuryphone/ha-bridge/addon/internal/mqtt"
	"github.com/tsuryphone/ha-bridge/addon/internal/poller"
	"github.com/tsuryphone/ha-bridge/addon/internal/session"
	"github.com/tsuryphone/ha-bridge/addon/internal/storage"
	"github.com/tsuryphone/ha-bridge/addon/internal/stream"
	"github.com/tsuryphone/ha-bridge/addon/internal/tsuryphone"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logging.New(0).Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.ParsedLogLevel())

	if err := os.MkdirAll(cfg.DBDir(), 0o755); err != nil {
		logger.Error("failed to create db directory", "err", err)
		os.Exit(1)
	}

	repo, err := storage.New(ctx, cfg.DBPath, logger)
	if err != nil {
		logger.Error("failed to initialize storage", "err", err)
		os.Exit(1)
	}
	defer repo.Close()

	registry := session.NewRegistry()
	channels := make(map[string]*stream.Channel, len(cfg.Devices))
	streams := make(map[string]httpapi.DeviceStream, len(cfg.Devices))
	targets := make([]poller.Target, 0, len(cfg.Devices))

	for _, device := range cfg.Devices {
		client := tsuryphone.NewClient(device)
		s := session.New(device, client, repo, logger)
		if err := s.Setup(ctx); err != nil {
			logger.Error("device setup failed", "device", device.Name, "err", err)
			os.Exit(1)
		}
		if err := registry.Add(s); err != nil {
			logger.Error("device registration failed", "device", device.Name, "err", err)
			os.Exit(1)
		}

		channel := stream.New(device.WSURL(), s, logger.With("device", device.Name))
		channels[device.Name] = channel
		streams[device.Name] = channel
		targets = append(targets, poller.Target{Name: device.Name, Session: s, Channel: channel})

		go channel.Run(ctx)
	}

	devicePoller := poller.New(targets, cfg.PollInterval(), logger)
	go devicePoller.Run(ctx)
	devicePoller.TriggerRefresh()

	var publisher *mqtt.Publisher
	if cfg.MQTT.BrokerURL != "" {
		publisher, err = mqtt.Connect(mqtt.Options{
			BrokerURL:   cfg.MQTT.BrokerURL,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, logger)
		if err != nil {
			logger.Error("mqtt connection failed", "err", err)
			os.Exit(1)
		}
		for _, s := range registry.All() {
			publisher.Attach(s)
		}
	}

	api := httpapi.New(registry, devicePoller, streams, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("server starting", "addr", httpServer.Addr, "devices", registry.Names())
	serveErr := httpapi.RunServer(ctx, httpServer, logger)

	// Teardown order: channels drain first so no update races a closing
	// session, then sessions flush their call logs, then storage closes via
	// the deferred repo.Close.
	stop()
	for name, channel := range channels {
		select {
		case <-channel.Done():
		case <-time.After(5 * time.Second):
			logger.Warn("update channel did not drain in time", "device", name)
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, s := range registry.All() {
		if err := s.Close(closeCtx); err != nil {
			logger.Warn("session close failed", "device", s.Name(), "err", err)
		}
	}
	if publisher != nil {
		publisher.Close()
	}

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		logger.Error("server terminated with error", "err", serveErr)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
