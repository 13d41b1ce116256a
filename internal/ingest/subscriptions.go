package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"yakgreen/irrigation-server/internal/metrics"
)

// DeviceLister supplies the set of known device identifiers.
type DeviceLister interface {
	ListDeviceSerialNumbers(ctx context.Context) ([]string, error)
}

// TopicSubscriber issues broker subscribe requests.
type TopicSubscriber interface {
	Subscribe(topic string) error
}

// LogTopic is the per-device telemetry topic.
func LogTopic(serialNumber string) string {
	return fmt.Sprintf("server/%s/post/log", serialNumber)
}

// SubscriptionManager keeps broker subscriptions aligned with the device
// registry. It owns the subscription set; a device whose subscribe request
// fails stays out of the set and is retried on every later scan; nothing is
// ever unsubscribed.
type SubscriptionManager struct {
	logger     *slog.Logger
	devices    DeviceLister
	subscriber TopicSubscriber
	interval   time.Duration

	mu         sync.Mutex
	subscribed map[string]struct{}
}

// NewSubscriptionManager constructs a manager scanning at the given interval.
func NewSubscriptionManager(logger *slog.Logger, devices DeviceLister, subscriber TopicSubscriber, interval time.Duration) *SubscriptionManager {
	return &SubscriptionManager{
		logger:     logger,
		devices:    devices,
		subscriber: subscriber,
		interval:   interval,
		subscribed: make(map[string]struct{}),
	}
}

// Reconcile enumerates known devices and subscribes to any whose log topic is
// not yet in the subscription set. It returns the serial numbers newly
// subscribed during this scan.
func (m *SubscriptionManager) Reconcile(ctx context.Context) ([]string, error) {
	serials, err := m.devices.ListDeviceSerialNumbers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	var added []string
	for _, serial := range serials {
		m.mu.Lock()
		_, already := m.subscribed[serial]
		m.mu.Unlock()
		if already {
			continue
		}

		topic := LogTopic(serial)
		if err := m.subscriber.Subscribe(topic); err != nil {
			m.logger.Warn("subscribe failed", "topic", topic, "error", err)
			continue
		}

		m.mu.Lock()
		m.subscribed[serial] = struct{}{}
		m.mu.Unlock()

		m.logger.Info("subscribed to device log topic", "topic", topic)
		added = append(added, serial)
	}

	metrics.SetSubscriptions(m.SubscriptionCount())
	return added, nil
}

// HandleConnect resets the subscription set and reconciles. The broker client
// calls it on every (re)connect: a fresh session carries no subscriptions, so
// everything previously known must be subscribed again.
func (m *SubscriptionManager) HandleConnect(ctx context.Context) {
	m.mu.Lock()
	m.subscribed = make(map[string]struct{})
	m.mu.Unlock()

	if _, err := m.Reconcile(ctx); err != nil {
		m.logger.Error("resubscribe on connect failed", "error", err)
	}
}

// Run scans immediately and then on every interval tick until the context is
// cancelled. Scan failures are logged; the next tick retries.
func (m *SubscriptionManager) Run(ctx context.Context) {
	if _, err := m.Reconcile(ctx); err != nil {
		m.logger.Error("subscription scan failed", "error", err)
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Reconcile(ctx); err != nil {
				m.logger.Error("subscription scan failed", "error", err)
			}
		}
	}
}

// Subscribed reports whether a device's log topic is currently subscribed.
func (m *SubscriptionManager) Subscribed(serialNumber string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subscribed[serialNumber]
	return ok
}

// SubscriptionCount returns the size of the subscription set.
func (m *SubscriptionManager) SubscriptionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribed)
}
