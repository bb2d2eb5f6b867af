// internal/service/avr_service.go
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"marantz-avr/internal/config"
	"marantz-avr/internal/utils"
	"marantz-avr/pkg/avr"
	"marantz-avr/pkg/marantz"
)

// ConnectFunc opens one connection to the receiver
type ConnectFunc func(ctx context.Context) (*marantz.Client, error)

// AVRService keeps the bridge connected to the receiver. Every connection
// is a new client; nothing from a lost connection is carried over.
type AVRService struct {
	config  *config.Config
	connect ConnectFunc
	bus     *EventBus
	logger  *utils.ServiceLogger

	mutex       sync.RWMutex
	client      *marantz.Client
	connectedAt time.Time
	lastError   error
	connections int
	startedAt   time.Time
}

// ServiceStatus is the bridge's view of the receiver connection
type ServiceStatus struct {
	Connected   bool      `json:"connected"`
	Address     string    `json:"address"`
	SessionID   string    `json:"session_id,omitempty"`
	Family      string    `json:"family,omitempty"`
	ConnectedAt time.Time `json:"connected_at,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	Connections int       `json:"connections"`
	Uptime      string    `json:"uptime"`
}

// NewAVRService creates the service. connect may be nil to use the
// configured receiver.
func NewAVRService(cfg *config.Config, connect ConnectFunc, bus *EventBus, logger *zap.Logger) *AVRService {
	if connect == nil {
		connect = ConnectFromConfig(cfg, logger)
	}
	return &AVRService{
		config:    cfg,
		connect:   connect,
		bus:       bus,
		logger:    utils.NewServiceLogger(logger, "avr-service"),
		startedAt: time.Now(),
	}
}

// ConnectFromConfig builds a ConnectFunc for the configured receiver
func ConnectFromConfig(cfg *config.Config, logger *zap.Logger) ConnectFunc {
	return func(ctx context.Context) (*marantz.Client, error) {
		return marantz.Connect(ctx, marantz.Options{
			Transport:        cfg.AVR.Transport,
			Host:             cfg.AVR.Host,
			Port:             cfg.AVR.Port,
			SerialPort:       cfg.AVR.SerialPort,
			BaudRate:         cfg.AVR.BaudRate,
			ModelFamily:      cfg.AVR.ModelFamily,
			ConnectTimeout:   cfg.AVR.ConnectTimeout,
			CommandTimeout:   cfg.AVR.CommandTimeout,
			SubscriberBuffer: cfg.AVR.SubscriberBuffer,
			Logger:           logger,
		})
	}
}

// Run connects and forwards device events until ctx is cancelled. With
// reconnect disabled it returns the first connect or connection error.
func (s *AVRService) Run(ctx context.Context) error {
	retry := newReconnectBackOff(s.config.Reconnect.Delay, s.config.Reconnect.MaxDelay)

	for {
		client, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.setError(err)
			s.publishConnection(false, "", err)
			s.logger.Error("Failed to connect to AVR",
				zap.String("address", s.config.GetAVRAddr()),
				zap.Error(err),
			)
		} else {
			retry.Reset()
			err = s.serve(ctx, client)
			if ctx.Err() != nil {
				return nil
			}
		}

		if !s.config.Reconnect.Enabled {
			if err == nil {
				err = avr.ErrNotConnected
			}
			return err
		}

		delay := retry.NextBackOff()
		s.logger.Info("Reconnecting to AVR", zap.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// serve owns one connection until it ends
func (s *AVRService) serve(ctx context.Context, client *marantz.Client) error {
	changes := client.Subscribe()
	raw := client.SubscribeRaw()

	s.mutex.Lock()
	s.client = client
	s.connectedAt = time.Now()
	s.lastError = nil
	s.connections++
	s.mutex.Unlock()

	s.logger.Info("Connected to AVR",
		zap.String("address", client.Address()),
		zap.String("session_id", client.SessionID().String()),
	)
	s.publishConnection(true, client.SessionID().String(), nil)
	s.publishSnapshot(client)

	refreshed := make(chan struct{})
	go func() {
		defer close(refreshed)
		if err := client.Refresh(ctx); err != nil {
			s.logger.Warn("Initial refresh incomplete", zap.Error(err))
		}
	}()

	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	changesC, rawC := changes.C, raw.C
	for changesC != nil || rawC != nil {
		select {
		case event, ok := <-changesC:
			if !ok {
				changesC = nil
				continue
			}
			s.bus.Publish(BusEvent{Type: EventTypeState, Event: &event, Connected: true})
		case event, ok := <-rawC:
			if !ok {
				rawC = nil
				continue
			}
			s.bus.Publish(BusEvent{Type: EventTypeRaw, Event: &event, Connected: true})
		}
	}

	<-refreshed
	err := client.Err()

	s.mutex.Lock()
	s.client = nil
	s.lastError = err
	s.mutex.Unlock()

	if ctx.Err() == nil {
		s.logger.Warn("AVR connection ended", zap.Error(err))
		s.publishConnection(false, client.SessionID().String(), err)
	}
	return err
}

// publishSnapshot forwards what the receiver pushed before the
// subscriptions existed. Events queued since then follow it, so the last
// value published for each kind is still the current one.
func (s *AVRService) publishSnapshot(client *marantz.Client) {
	snapshot := client.State()
	for _, kind := range client.Kinds() {
		if event, ok := snapshot.Event(kind); ok {
			s.bus.Publish(BusEvent{Type: EventTypeState, Event: &event, Connected: true})
		}
	}
}

// Execute runs a command on the current connection
func (s *AVRService) Execute(ctx context.Context, cmd avr.Command, timeout time.Duration) (avr.Event, error) {
	client := s.current()
	if client == nil {
		return avr.Event{}, avr.ErrNotConnected
	}
	if timeout > 0 {
		return client.ExecuteTimeout(ctx, cmd, timeout)
	}
	return client.Execute(ctx, cmd)
}

// Refresh queries every status on the current connection
func (s *AVRService) Refresh(ctx context.Context) error {
	client := s.current()
	if client == nil {
		return avr.ErrNotConnected
	}
	return client.Refresh(ctx)
}

// State returns the device state of the current connection
func (s *AVRService) State() (avr.Snapshot, error) {
	client := s.current()
	if client == nil {
		return avr.Snapshot{}, avr.ErrNotConnected
	}
	return client.State(), nil
}

// Status describes the connection
func (s *AVRService) Status() ServiceStatus {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	status := ServiceStatus{
		Address:     s.config.GetAVRAddr(),
		Connections: s.connections,
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.client != nil {
		status.Connected = true
		status.SessionID = s.client.SessionID().String()
		status.Family = s.client.Family()
		status.ConnectedAt = s.connectedAt
	}
	if s.lastError != nil {
		status.LastError = s.lastError.Error()
	}
	return status
}

// Bus returns the event bus the service publishes to
func (s *AVRService) Bus() *EventBus {
	return s.bus
}

func (s *AVRService) current() *marantz.Client {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.client
}

func (s *AVRService) setError(err error) {
	s.mutex.Lock()
	s.lastError = err
	s.mutex.Unlock()
}

func (s *AVRService) publishConnection(connected bool, sessionID string, err error) {
	event := BusEvent{
		Type:      EventTypeConnection,
		Connected: connected,
		Address:   s.config.GetAVRAddr(),
		SessionID: sessionID,
	}
	if err != nil {
		event.Error = err.Error()
	}
	s.bus.Publish(event)
}

// newReconnectBackOff doubles the delay from delay up to maxDelay without
// jitter. Reset starts over after a successful connection.
func newReconnectBackOff(delay, maxDelay time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = delay
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Second
	}
	if maxDelay > 0 {
		b.MaxInterval = maxDelay
	}
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// IsUnavailable reports errors that mean the receiver cannot be reached
func IsUnavailable(err error) bool {
	return errors.Is(err, avr.ErrNotConnected) ||
		errors.Is(err, avr.ErrConnectionLost) ||
		errors.Is(err, avr.ErrSessionClosed) ||
		errors.Is(err, avr.ErrConnect)
}
