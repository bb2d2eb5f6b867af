// pkg/marantz/client.go
package marantz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"marantz-avr/internal/codec"
	"marantz-avr/internal/protocol"
	"marantz-avr/internal/session"
	"marantz-avr/internal/state"
	"marantz-avr/pkg/avr"
)

// Subscription is a stream of events; see Client.Subscribe
type Subscription = state.Subscription

// Options describes how to reach the receiver
type Options struct {
	// Transport is "tcp" (default) or "serial"
	Transport  string
	Host       string
	Port       int
	SerialPort string
	BaudRate   int

	// ModelFamily selects the wire table; unknown families fall back to
	// the default grammar
	ModelFamily string

	ConnectTimeout   time.Duration
	CommandTimeout   time.Duration
	SubscriberBuffer int

	Logger *zap.Logger
}

// Client controls one receiver over one connection. Reconnecting after
// the connection is lost means calling Connect again; the new client has
// its own state and correlation table.
type Client struct {
	session *session.Session
	address string
	timeout time.Duration
	logger  *zap.Logger
}

// Connect opens a connection to the receiver. It fails with a
// *avr.ConnectError on timeout or refusal.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = protocol.DefaultConnectTimeout
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = session.DefaultCommandTimeout
	}

	table, err := codec.DefaultRegistry(opts.Logger).Lookup(opts.ModelFamily)
	if err != nil {
		return nil, err
	}

	endpoint := protocol.Endpoint{
		Type:       protocol.TransportType(opts.Transport),
		Host:       opts.Host,
		Port:       opts.Port,
		SerialPort: opts.SerialPort,
		BaudRate:   opts.BaudRate,
		Timeout:    opts.ConnectTimeout,
	}
	if endpoint.Type == "" && opts.SerialPort != "" && opts.Host == "" {
		endpoint.Type = protocol.TransportSerial
	}

	transport, err := protocol.CreateTransport(endpoint, opts.Logger)
	if err != nil {
		return nil, &avr.ConnectError{Address: endpoint.Address(), Cause: err}
	}

	s := session.New(transport, codec.New(table), session.Options{
		SubscriberBuffer: opts.SubscriberBuffer,
		CommandTimeout:   opts.CommandTimeout,
		Logger:           opts.Logger,
	})

	connectCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	if err := s.Open(connectCtx); err != nil {
		return nil, err
	}

	return &Client{
		session: s,
		address: endpoint.Address(),
		timeout: opts.CommandTimeout,
		logger:  opts.Logger,
	}, nil
}

// Execute sends a command and waits for its reply with the default timeout
func (c *Client) Execute(ctx context.Context, cmd avr.Command) (avr.Event, error) {
	return c.session.Execute(ctx, cmd, c.timeout)
}

// ExecuteTimeout sends a command and waits for its reply
func (c *Client) ExecuteTimeout(ctx context.Context, cmd avr.Command, timeout time.Duration) (avr.Event, error) {
	return c.session.Execute(ctx, cmd, timeout)
}

// State returns a snapshot of the device state
func (c *Client) State() avr.Snapshot {
	return c.session.Snapshot()
}

// Subscribe streams every status event, including repeats of the same
// value. A subscriber that falls behind by more than its buffer loses
// events; Subscription.Dropped counts them.
func (c *Client) Subscribe() *Subscription {
	return c.session.Subscribe()
}

// SubscribeRaw streams lines that matched no known status
func (c *Client) SubscribeRaw() *Subscription {
	return c.session.SubscribeRaw()
}

// Close disconnects
func (c *Client) Close() error {
	return c.session.Close()
}

// Done is closed when the connection has ended
func (c *Client) Done() <-chan struct{} {
	return c.session.Done()
}

// Err tells why the connection ended; see Done
func (c *Client) Err() error {
	return c.session.Err()
}

// Connected reports whether the transport is up
func (c *Client) Connected() bool {
	return c.session.ConnState() == protocol.StateConnected
}

// Address returns host:port or the serial device
func (c *Client) Address() string {
	return c.address
}

// SessionID identifies this connection in logs
func (c *Client) SessionID() uuid.UUID {
	return c.session.ID()
}

// Family returns the model family of the wire table in use
func (c *Client) Family() string {
	return c.session.Table().Family
}

// Stats returns transport counters
func (c *Client) Stats() protocol.ProtocolStats {
	return c.session.Stats()
}

// Kinds lists the statuses the receiver's table knows, in table order
func (c *Client) Kinds() []avr.StatusKind {
	return c.session.Table().Kinds()
}

// Refresh queries every status the table knows and returns once each reply,
// including side-effect lines such as MVMAX, is in the state. Queries run
// one after the other; failures are collected and the remaining queries
// still run.
func (c *Client) Refresh(ctx context.Context) error {
	var errs []error
	for _, kind := range c.session.Table().QueryKinds() {
		if _, err := c.session.Query(ctx, kind, c.timeout); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = append(errs, fmt.Errorf("query %s: %w", kind, err))
		}
	}
	return errors.Join(errs...)
}

// TurnOn powers the main zone on
func (c *Client) TurnOn(ctx context.Context) error {
	_, err := c.Execute(ctx, avr.SetPower{State: avr.PowerOn})
	return err
}

// TurnOff puts the receiver in standby
func (c *Client) TurnOff(ctx context.Context) error {
	_, err := c.Execute(ctx, avr.SetPower{State: avr.PowerStandby})
	return err
}

// Mute mutes or unmutes
func (c *Client) Mute(ctx context.Context, muted bool) error {
	_, err := c.Execute(ctx, avr.SetMute{Muted: muted})
	return err
}

// SetVolume sets the master volume on the device scale (0 to 98, half steps)
func (c *Client) SetVolume(ctx context.Context, level decimal.Decimal) error {
	_, err := c.Execute(ctx, avr.SetVolume{Level: level})
	return err
}

// VolumeUp raises the volume one notch and returns the new level
func (c *Client) VolumeUp(ctx context.Context) (decimal.Decimal, error) {
	return c.step(ctx, true)
}

// VolumeDown lowers the volume one notch and returns the new level
func (c *Client) VolumeDown(ctx context.Context) (decimal.Decimal, error) {
	return c.step(ctx, false)
}

// SelectSource selects an input source
func (c *Client) SelectSource(ctx context.Context, source avr.InputSource) error {
	_, err := c.Execute(ctx, avr.SetInput{Source: source})
	return err
}

// SelectSoundMode selects a surround mode
func (c *Client) SelectSoundMode(ctx context.Context, mode avr.SurroundMode) error {
	_, err := c.Execute(ctx, avr.SetSurroundMode{Mode: mode})
	return err
}

func (c *Client) step(ctx context.Context, up bool) (decimal.Decimal, error) {
	event, err := c.Execute(ctx, avr.StepVolume{Up: up})
	if err != nil {
		return decimal.Decimal{}, err
	}
	level, ok := event.Value.(decimal.Decimal)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("unexpected volume reply %q", event.Raw)
	}
	return level, nil
}
