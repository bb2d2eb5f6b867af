// internal/mqtt/client.go
package mqtt

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"marantz-avr/internal/config"
)

// ClientAPI is the part of the broker client the bridge uses
type ClientAPI interface {
	Subscribe(topic string, cb Handler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte) error
	PublishWith(topic string, payload []byte, retain bool) error
}

// Message is re-exported type for handlers
type Message = paho.Message

// Handler is handler signature
type Handler = paho.MessageHandler

// ClientHandle is the broker client passed to handlers
type ClientHandle = paho.Client

// Client wraps a paho client
type Client struct {
	cli    paho.Client
	logger *zap.Logger
}

const operationTimeout = 10 * time.Second

// New connects to the broker. will is published retained on
// willTopic if the connection drops; leave willTopic empty to skip it.
func New(cfg *config.MQTTConfig, willTopic string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "mqtt"))

	u, err := url.Parse(cfg.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid broker url: %w", err)
	}

	opts := paho.NewClientOptions()
	server := u.Host
	switch u.Scheme {
	case "mqtt", "tcp":
		server = "tcp://" + server
	case "ssl", "tls", "mqtts":
		server = "ssl://" + server
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	case "ws", "wss":
		server = u.Scheme + "://" + server + u.Path
	default:
		return nil, fmt.Errorf("unsupported broker scheme: %q", u.Scheme)
	}
	opts.AddBroker(server)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "marantz-avr-" + time.Now().Format("150405.000")
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(operationTimeout)
	opts.OnConnect = func(c paho.Client) { logger.Info("MQTT connected", zap.String("broker", server)) }
	opts.OnConnectionLost = func(c paho.Client, err error) { logger.Error("MQTT connection lost", zap.Error(err)) }
	if u.User != nil {
		pw, _ := u.User.Password()
		opts.SetUsername(u.User.Username())
		opts.SetPassword(pw)
	}
	if willTopic != "" {
		opts.SetWill(willTopic, "offline", 0, true)
	}

	cli := paho.NewClient(opts)
	t := cli.Connect()
	if !t.WaitTimeout(operationTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", server)
	}
	if t.Error() != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", server, t.Error())
	}

	return &Client{cli: cli, logger: logger}, nil
}

func (c *Client) Subscribe(topic string, cb Handler) error {
	t := c.cli.Subscribe(topic, 0, cb)
	if t.Wait() && t.Error() != nil {
		return t.Error()
	}
	c.logger.Info("MQTT subscribed", zap.String("topic", topic))
	return nil
}

func (c *Client) Publish(topic string, payload []byte) error {
	return c.PublishWith(topic, payload, false)
}

func (c *Client) PublishWith(topic string, payload []byte, retain bool) error {
	t := c.cli.Publish(topic, 0, retain, payload)
	if t.Wait() && t.Error() != nil {
		return t.Error()
	}
	return nil
}

func (c *Client) Unsubscribe(topic string) error {
	t := c.cli.Unsubscribe(topic)
	if t.Wait() && t.Error() != nil {
		return t.Error()
	}
	c.logger.Info("MQTT unsubscribed", zap.String("topic", topic))
	return nil
}

// Close disconnects, giving in-flight publishes a moment to finish
func (c *Client) Close() {
	c.cli.Disconnect(250)
}
