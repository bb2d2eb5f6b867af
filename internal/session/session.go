// internal/session/session.go
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marantz-avr/internal/codec"
	"marantz-avr/internal/protocol"
	"marantz-avr/internal/state"
	"marantz-avr/internal/utils"
	"marantz-avr/pkg/avr"
)

// DefaultCommandTimeout is used when Execute is called without a timeout
const DefaultCommandTimeout = time.Second

// Options configures a session
type Options struct {
	SubscriberBuffer int
	CommandTimeout   time.Duration
	Logger           *zap.Logger
}

// Session owns one connection to an AVR: its transport, the decode
// pipeline, the device state and the correlation table. A session is
// single use; reconnecting means opening a new one.
type Session struct {
	id        uuid.UUID
	transport protocol.LineTransport
	codec     *codec.Codec
	state     *state.Synchronizer
	pending   *dispatcher
	timeout   time.Duration
	logger    *utils.SessionLogger

	openOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}

	mutex  sync.Mutex
	closed bool
	err    error
}

// New creates a session over a transport that is not yet open
func New(transport protocol.LineTransport, c *codec.Codec, opts Options) *Session {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}

	id := uuid.New()
	logger := utils.NewSessionLogger(opts.Logger, id.String(), transport.Address(), c.Table().Family)

	return &Session{
		id:        id,
		transport: transport,
		codec:     c,
		state:     state.NewSynchronizer(opts.SubscriberBuffer, logger.Logger),
		pending:   newDispatcher(),
		timeout:   opts.CommandTimeout,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Open connects the transport and starts the inbound pump. A failed
// attempt leaves the session unusable; callers create a new one to retry.
func (s *Session) Open(ctx context.Context) error {
	err := errors.New("session already opened")
	s.openOnce.Do(func() {
		err = s.transport.Open(ctx)
		if err != nil {
			s.logger.LogConnection("connect", false, err)
			s.finish(err)
			return
		}
		s.logger.LogConnection("connect", true, nil)
		go s.pump(s.transport.Lines())
	})
	return err
}

// ID returns the session identifier used in logs
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Table returns the wire table the session encodes with
func (s *Session) Table() *codec.Table {
	return s.codec.Table()
}

// ConnState returns the transport lifecycle state
func (s *Session) ConnState() protocol.ConnState {
	return s.transport.State()
}

// Stats returns transport counters
func (s *Session) Stats() protocol.ProtocolStats {
	return s.transport.Stats()
}

// Snapshot returns a copy of the device state
func (s *Session) Snapshot() avr.Snapshot {
	return s.state.Snapshot()
}

// Subscribe registers for state change notifications. The subscription
// ends when the session does.
func (s *Session) Subscribe() *state.Subscription {
	return s.state.Subscribe()
}

// SubscribeRaw registers for lines the codec did not recognize
func (s *Session) SubscribeRaw() *state.Subscription {
	return s.state.SubscribeRaw()
}

// Done is closed once the inbound stream has ended and the session is over
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session ended: nil while running or after a clean
// close by the peer, ErrSessionClosed after Close, ErrConnectionLost after
// a transport failure.
func (s *Session) Err() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.err
}

// Close disconnects and waits for the pump to finish
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mutex.Lock()
		s.closed = true
		s.mutex.Unlock()

		// A session that never opened has nothing to pump
		s.openOnce.Do(func() { s.finish(nil) })

		err = s.transport.Close()
		<-s.done
		s.logger.LogConnection("disconnect", err == nil, err)
	})
	return err
}

// Execute encodes and sends a command, then waits for the next event of
// the command's reply kind. Parameters are validated before any I/O.
// A timeout leaves the session usable; a cancelled ctx releases the
// correlation slot without touching the connection.
func (s *Session) Execute(ctx context.Context, cmd avr.Command, timeout time.Duration) (avr.Event, error) {
	events, err := s.execute(ctx, cmd, []avr.StatusKind{cmd.ReplyKind()}, timeout)
	if err != nil {
		return avr.Event{}, err
	}
	return events[0], nil
}

// Query sends the query line of kind and waits for every status that line
// reports, so querying volume also collects MVMAX. Events are returned in
// table order.
func (s *Session) Query(ctx context.Context, kind avr.StatusKind, timeout time.Duration) ([]avr.Event, error) {
	kinds := s.codec.Table().ReplyKinds(kind)
	if len(kinds) == 0 {
		kinds = []avr.StatusKind{kind}
	}
	return s.execute(ctx, avr.QueryStatus{Status: kind}, kinds, timeout)
}

func (s *Session) execute(ctx context.Context, cmd avr.Command, kinds []avr.StatusKind, timeout time.Duration) ([]avr.Event, error) {
	line, err := s.codec.Encode(cmd)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = s.timeout
	}

	select {
	case <-s.done:
		return nil, s.terminalErr()
	default:
	}

	op := utils.NewOperationLogger(s.logger.Logger, cmd.String(), line)

	waiters := make([]*waiter, len(kinds))
	for i, kind := range kinds {
		waiters[i] = s.pending.register(kind)
		defer s.pending.release(waiters[i])
	}

	// The write and the reply share one deadline
	deadline := time.Now().Add(timeout)
	sendCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	if err := s.transport.Send(sendCtx, line); err != nil {
		if ctx.Err() == nil && (errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded)) {
			err = fmt.Errorf("%w: %s after %s: %w", avr.ErrCommandTimeout, cmd, timeout, err)
		}
		op.Error(err)
		return nil, err
	}
	op.Start(zap.Duration("timeout", timeout))

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	events := make([]avr.Event, len(waiters))
	for i, w := range waiters {
		select {
		case event := <-w.reply:
			events[i] = event
		case <-timer.C:
			err := fmt.Errorf("%w: %s after %s", avr.ErrCommandTimeout, cmd, timeout)
			op.Error(err)
			return nil, err
		case <-ctx.Done():
			op.Error(ctx.Err())
			return nil, ctx.Err()
		case <-s.done:
			// The reply may have been the last line before the stream ended
			select {
			case event := <-w.reply:
				events[i] = event
				continue
			default:
			}
			err := s.terminalErr()
			op.Error(err)
			return nil, err
		}
	}

	op.Success(zap.String("reply", events[0].Raw))
	return events, nil
}

// pump is the only reader of the inbound stream and the only writer of
// device state. Every line is applied before it resolves a waiter, so a
// caller that got its reply observes the new state.
func (s *Session) pump(lines <-chan string) {
	for line := range lines {
		event := s.codec.Decode(line)
		event.ReceivedAt = time.Now()

		s.state.Apply(event)
		if s.pending.resolve(event) {
			s.logger.Debug("Reply correlated",
				zap.String("kind", string(event.Kind)),
				zap.String("raw", event.Raw),
			)
		}
	}

	s.finish(s.transport.Err())
}

// finish records the terminal error and releases everything waiting on
// the session
func (s *Session) finish(cause error) {
	s.mutex.Lock()
	switch {
	case cause != nil:
		s.err = cause
	case s.closed:
		s.err = avr.ErrSessionClosed
	default:
		s.err = nil
	}
	s.mutex.Unlock()

	if cause != nil {
		s.logger.Warn("Session ended", zap.Error(cause), zap.Int("in_flight", s.pending.inFlight()))
	} else {
		s.logger.Info("Session ended", zap.Int("in_flight", s.pending.inFlight()))
	}

	s.pending.clear()
	s.state.Close()
	close(s.done)
}

// terminalErr is what in-flight and later commands fail with
func (s *Session) terminalErr() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	switch {
	case s.err != nil && errors.Is(s.err, avr.ErrConnect):
		return avr.ErrNotConnected
	case s.err != nil:
		return s.err
	case s.closed:
		return avr.ErrSessionClosed
	default:
		return fmt.Errorf("%w: connection closed by peer", avr.ErrNotConnected)
	}
}
