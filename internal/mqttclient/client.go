// Package mqttclient owns the process-wide connection to the MQTT broker.
// The client is constructed once at startup, handed to the subscription
// manager and ingestion pipeline, and disconnected on clean shutdown.
package mqttclient

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout = 10 * time.Second
	reconnectDelay = 5 * time.Second
)

// MessageHandler receives every message delivered on a subscribed topic.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// ConnectHandler runs after every successful (re)connect, before any
// messages are delivered on the new session.
type ConnectHandler func(ctx context.Context)

// Options configures the broker connection.
type Options struct {
	BrokerURL      string
	ClientIDPrefix string
}

// Client wraps a paho MQTT client with the handler plumbing the ingestion
// side needs.
type Client struct {
	logger    *slog.Logger
	inner     mqtt.Client
	onMessage MessageHandler
	onConnect ConnectHandler
}

// New builds a client. Handlers must be set before Connect; a reconnect
// triggers onConnect again so subscriptions can be rebuilt.
func New(opts Options, logger *slog.Logger, onMessage MessageHandler, onConnect ConnectHandler) *Client {
	c := &Client{logger: logger, onMessage: onMessage, onConnect: onConnect}

	clientID := fmt.Sprintf("%s-%d", opts.ClientIDPrefix, time.Now().UnixNano())

	pahoOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(reconnectDelay).
		SetConnectRetry(true).
		SetConnectRetryInterval(reconnectDelay)

	pahoOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})
	pahoOpts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("mqtt connected", "broker", opts.BrokerURL, "client_id", clientID)
		if c.onConnect != nil {
			c.onConnect(context.Background())
		}
	})

	c.inner = mqtt.NewClient(pahoOpts)
	return c
}

// Connect establishes the broker session, waiting up to the connect timeout.
func (c *Client) Connect(ctx context.Context) error {
	token := c.inner.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect: timeout after %s", connectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Subscribe registers a QoS 0 subscription routed to the message handler.
func (c *Client) Subscribe(topic string) error {
	token := c.inner.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		if c.onMessage != nil {
			c.onMessage(context.Background(), msg.Topic(), msg.Payload())
		}
	})
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("subscribe %s: timeout after %s", topic, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// Publish sends a QoS 0 message, used by tooling and tests.
func (c *Client) Publish(topic string, payload []byte) error {
	token := c.inner.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("publish %s: timeout after %s", topic, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Disconnect closes the broker session, allowing in-flight work to finish.
func (c *Client) Disconnect() {
	c.inner.Disconnect(250)
}
