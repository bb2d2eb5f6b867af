// internal/mqtt/bridge.go
package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"marantz-avr/internal/service"
	"marantz-avr/pkg/avr"
)

// Executor runs commands against the receiver
type Executor interface {
	Execute(ctx context.Context, cmd avr.Command, timeout time.Duration) (avr.Event, error)
}

// Bridge mirrors device state to MQTT and accepts commands from it.
//
//	<prefix>/status          online | offline (retained)
//	<prefix>/state/<kind>    last value per status kind (retained)
//	<prefix>/raw             unrecognized lines
//	<prefix>/set/<kind>      commands; payload is the value ("on", "45.5", "up")
//	<prefix>/error           command failures as JSON
type Bridge struct {
	client         ClientAPI
	executor       Executor
	bus            *service.EventBus
	subscriptionID string
	events         <-chan service.BusEvent
	prefix         string
	logger         *zap.Logger
}

// NewBridge creates a bridge. It subscribes to the bus right away so that
// events published before Run are not missed.
func NewBridge(client ClientAPI, executor Executor, bus *service.EventBus, prefix string, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	id, events := bus.Subscribe()
	return &Bridge{
		client:         client,
		executor:       executor,
		bus:            bus,
		subscriptionID: id,
		events:         events,
		prefix:         strings.TrimSuffix(prefix, "/"),
		logger:         logger.With(zap.String("component", "mqtt-bridge")),
	}
}

// StatusTopic is where availability is published
func StatusTopic(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + "/status"
}

// Run publishes bus events until ctx is cancelled or the bus closes
func (b *Bridge) Run(ctx context.Context) error {
	setTopic := b.prefix + "/set/+"
	if err := b.client.Subscribe(setTopic, b.handleSet(ctx)); err != nil {
		return err
	}
	defer b.client.Unsubscribe(setTopic)
	defer b.bus.Unsubscribe(b.subscriptionID)

	for {
		select {
		case <-ctx.Done():
			b.publish(StatusTopic(b.prefix), "offline", true)
			return nil
		case event, ok := <-b.events:
			if !ok {
				return nil
			}
			b.forward(event)
		}
	}
}

func (b *Bridge) forward(event service.BusEvent) {
	switch event.Type {
	case service.EventTypeConnection:
		status := "offline"
		if event.Connected {
			status = "online"
		}
		b.publish(StatusTopic(b.prefix), status, true)

	case service.EventTypeState:
		if event.Event == nil {
			return
		}
		topic := b.prefix + "/state/" + strings.ToLower(string(event.Event.Kind))
		b.publish(topic, avr.FormatValue(event.Event.Value), true)

	case service.EventTypeRaw:
		if event.Event == nil {
			return
		}
		b.publish(b.prefix+"/raw", event.Event.Raw, false)
	}
}

func (b *Bridge) publish(topic, payload string, retain bool) {
	if err := b.client.PublishWith(topic, []byte(payload), retain); err != nil {
		b.logger.Warn("MQTT publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

// handleSet executes commands from <prefix>/set/<kind>. Replies show up on
// the state topics like any other status change.
func (b *Bridge) handleSet(ctx context.Context) Handler {
	return func(_ ClientHandle, msg Message) {
		kind := strings.TrimPrefix(msg.Topic(), b.prefix+"/set/")
		value := string(msg.Payload())

		cmd, err := avr.ParseCommand(kind, value)
		if err == nil {
			_, err = b.executor.Execute(ctx, cmd, 0)
		}
		if err != nil {
			b.logger.Warn("MQTT command failed",
				zap.String("topic", msg.Topic()),
				zap.String("payload", value),
				zap.Error(err),
			)
			payload, _ := json.Marshal(map[string]string{
				"topic": msg.Topic(),
				"value": value,
				"error": err.Error(),
			})
			b.publish(b.prefix+"/error", string(payload), false)
		}
	}
}
