// internal/protocol/line_connection.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"marantz-avr/pkg/avr"
)

// OpenFunc opens the underlying byte stream of a transport
type OpenFunc func(ctx context.Context) (io.ReadWriteCloser, error)

const (
	readBufferSize = 4096
	lineBuffer     = 64
)

// LineConnection implements LineTransport on top of any byte stream.
// TCP and serial connections differ only in how the stream is opened.
type LineConnection struct {
	protocol     string
	address      string
	open         OpenFunc
	terminator   string
	writeTimeout time.Duration
	bufferSize   int
	logger       *zap.Logger

	mutex         sync.Mutex
	state         ConnState
	everConnected bool
	rwc           io.ReadWriteCloser
	lines         chan string
	stop          chan struct{}
	done          chan struct{}
	closing       bool
	failure       error
	err           error
	stats         ProtocolStats

	writeMutex sync.Mutex
}

// NewLineConnection creates a transport around an open function
func NewLineConnection(protocol, address string, open OpenFunc, terminator string, logger *zap.Logger) *LineConnection {
	if logger == nil {
		logger = zap.NewNop()
	}
	if terminator == "" {
		terminator = DefaultTerminator
	}

	closed := make(chan string)
	close(closed)
	finished := make(chan struct{})
	close(finished)

	return &LineConnection{
		protocol:   protocol,
		address:    address,
		open:       open,
		terminator: terminator,
		bufferSize: readBufferSize,
		logger: logger.With(
			zap.String("protocol", protocol),
			zap.String("address", address),
		),
		state: StateDisconnected,
		lines: closed,
		done:  finished,
	}
}

// Open establishes the connection and starts the inbound line pump
func (lc *LineConnection) Open(ctx context.Context) error {
	lc.mutex.Lock()
	switch lc.state {
	case StateConnected:
		lc.mutex.Unlock()
		return nil
	case StateConnecting, StateReconnecting:
		lc.mutex.Unlock()
		return &avr.ConnectError{Address: lc.address, Cause: errors.New("connect already in progress")}
	}
	previous := lc.done
	if lc.everConnected {
		lc.state = StateReconnecting
	} else {
		lc.state = StateConnecting
	}
	lc.mutex.Unlock()

	// The previous pump must finish before its stream is replaced
	<-previous

	lc.logger.Info("Opening connection")

	rwc, err := lc.open(ctx)
	if err != nil {
		lc.mutex.Lock()
		lc.state = StateDisconnected
		lc.stats.ErrorCount++
		lc.mutex.Unlock()

		lc.logger.Error("Failed to open connection", zap.Error(err))
		return &avr.ConnectError{Address: lc.address, Cause: err}
	}

	lc.mutex.Lock()
	lc.rwc = rwc
	lc.lines = make(chan string, lineBuffer)
	lc.stop = make(chan struct{})
	lc.done = make(chan struct{})
	lc.closing = false
	lc.failure = nil
	lc.err = nil
	lc.state = StateConnected
	lc.everConnected = true
	lc.stats.IsConnected = true
	lc.stats.LastActivity = time.Now()
	go lc.readLoop(rwc, lc.lines, lc.stop, lc.done)
	lc.mutex.Unlock()

	lc.logger.Info("Connection opened successfully")
	return nil
}

// Close closes the connection and waits for the inbound stream to end
func (lc *LineConnection) Close() error {
	err := lc.shutdown(nil)

	lc.mutex.Lock()
	done := lc.done
	lc.mutex.Unlock()
	<-done

	return err
}

// State returns the current lifecycle state
func (lc *LineConnection) State() ConnState {
	lc.mutex.Lock()
	defer lc.mutex.Unlock()
	return lc.state
}

// Send writes one line followed by the terminator. It fails fast with
// ErrNotConnected outside the Connected state. A transport failure closes
// the connection and ends the inbound stream with ErrConnectionLost.
func (lc *LineConnection) Send(ctx context.Context, line string) error {
	lc.mutex.Lock()
	if lc.state != StateConnected {
		lc.mutex.Unlock()
		return avr.ErrNotConnected
	}
	rwc := lc.rwc
	lc.mutex.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	lc.writeMutex.Lock()
	defer lc.writeMutex.Unlock()

	if dc, ok := rwc.(interface{ SetWriteDeadline(time.Time) error }); ok {
		deadline := time.Time{}
		if d, ok := ctx.Deadline(); ok {
			deadline = d
		}
		if lc.writeTimeout > 0 {
			if limit := time.Now().Add(lc.writeTimeout); deadline.IsZero() || limit.Before(deadline) {
				deadline = limit
			}
		}
		_ = dc.SetWriteDeadline(deadline)
	}

	startTime := time.Now()
	data := []byte(line + lc.terminator)
	n, err := rwc.Write(data)
	if err == nil && n != len(data) {
		err = fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
	}
	if err != nil {
		writeErr := &avr.WriteError{Line: line, Cause: err}
		lc.logger.Error("Write failed", zap.String("line", line), zap.Error(err))
		lc.shutdown(writeErr)
		return writeErr
	}

	lc.mutex.Lock()
	lc.stats.BytesWritten += int64(len(data))
	lc.stats.LinesWritten++
	lc.stats.LastActivity = time.Now()
	lc.updateAverageLatency(time.Since(startTime))
	lc.mutex.Unlock()

	lc.logger.Debug("Line sent", zap.String("line", line))
	return nil
}

// Lines returns the inbound stream of the current connection
func (lc *LineConnection) Lines() <-chan string {
	lc.mutex.Lock()
	defer lc.mutex.Unlock()
	return lc.lines
}

// Done is closed once the inbound stream has ended
func (lc *LineConnection) Done() <-chan struct{} {
	lc.mutex.Lock()
	defer lc.mutex.Unlock()
	return lc.done
}

// Err returns the terminal error of the last connection: nil after a clean
// close by either side, ErrConnectionLost after a transport failure.
func (lc *LineConnection) Err() error {
	lc.mutex.Lock()
	defer lc.mutex.Unlock()
	return lc.err
}

// Address returns the device address
func (lc *LineConnection) Address() string {
	return lc.address
}

// Stats returns a copy of the connection statistics
func (lc *LineConnection) Stats() ProtocolStats {
	lc.mutex.Lock()
	defer lc.mutex.Unlock()
	return lc.stats
}

// shutdown closes the byte stream once. cause is recorded as the failure
// that ends the inbound stream; nil means a deliberate close.
func (lc *LineConnection) shutdown(cause error) error {
	lc.mutex.Lock()
	defer lc.mutex.Unlock()

	if lc.state != StateConnected || lc.closing {
		return nil
	}

	lc.closing = true
	lc.failure = cause
	lc.state = StateDisconnected
	lc.stats.IsConnected = false
	close(lc.stop)

	if err := lc.rwc.Close(); err != nil {
		lc.logger.Error("Failed to close connection", zap.Error(err))
		return fmt.Errorf("failed to close %s connection: %w", lc.protocol, err)
	}

	lc.logger.Info("Connection closed successfully")
	return nil
}

// readLoop pumps the byte stream through a framer into the lines channel
func (lc *LineConnection) readLoop(rwc io.ReadWriteCloser, lines chan<- string, stop <-chan struct{}, done chan<- struct{}) {
	framer := NewFramer()
	buffer := make([]byte, lc.bufferSize)

	var readErr error
pump:
	for {
		n, err := rwc.Read(buffer)
		if n > 0 {
			lc.mutex.Lock()
			lc.stats.BytesRead += int64(n)
			lc.stats.LastActivity = time.Now()
			lc.mutex.Unlock()

			for _, line := range framer.Feed(buffer[:n]) {
				select {
				case lines <- line:
					lc.mutex.Lock()
					lc.stats.LinesRead++
					lc.mutex.Unlock()
				case <-stop:
					break pump
				}
			}
		}
		if err != nil {
			readErr = err
			break
		}
	}

	lc.finish(readErr, framer.Pending())
	close(lines)
	close(done)
}

// finish decides the terminal signal of the inbound stream
func (lc *LineConnection) finish(readErr error, pending int) {
	lc.mutex.Lock()
	defer lc.mutex.Unlock()

	switch {
	case lc.failure != nil:
		lc.err = fmt.Errorf("%w: %v", avr.ErrConnectionLost, lc.failure)
	case lc.closing:
		lc.err = nil
	case readErr == nil || errors.Is(readErr, io.EOF):
		lc.err = nil
	default:
		lc.err = fmt.Errorf("%w: %v", avr.ErrConnectionLost, readErr)
	}

	if !lc.closing {
		lc.closing = true
		close(lc.stop)
		lc.rwc.Close()
	}
	lc.state = StateDisconnected
	lc.stats.IsConnected = false
	if lc.err != nil {
		lc.stats.ErrorCount++
	}

	fields := []zap.Field{zap.Int("discarded_bytes", pending)}
	if lc.err != nil {
		lc.logger.Warn("Inbound stream lost", append(fields, zap.Error(lc.err))...)
	} else {
		lc.logger.Info("Inbound stream ended", fields...)
	}
}

// updateAverageLatency updates the running average write latency
func (lc *LineConnection) updateAverageLatency(newLatency time.Duration) {
	if lc.stats.AverageLatency == 0 {
		lc.stats.AverageLatency = newLatency
	} else {
		lc.stats.AverageLatency = (lc.stats.AverageLatency + newLatency) / 2
	}
}
