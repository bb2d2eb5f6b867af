// internal/protocol/protocol.go
package protocol

import (
	"context"
	"time"
)

// ConnState is the lifecycle state of a transport
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// LineTransport is a duplex line channel to a device
type LineTransport interface {
	// Connection lifecycle
	Open(ctx context.Context) error
	Close() error
	State() ConnState

	// Send writes one line, appending the terminator
	Send(ctx context.Context, line string) error

	// Lines is the single-pass inbound stream of the current connection.
	// It is closed when the connection ends; Err then tells why.
	Lines() <-chan string
	Done() <-chan struct{}
	Err() error

	// Diagnostics
	Address() string
	Stats() ProtocolStats
}

// ProtocolStats provides protocol-level statistics
type ProtocolStats struct {
	BytesWritten   int64         `json:"bytes_written"`
	BytesRead      int64         `json:"bytes_read"`
	LinesWritten   int64         `json:"lines_written"`
	LinesRead      int64         `json:"lines_read"`
	ErrorCount     int64         `json:"error_count"`
	LastActivity   time.Time     `json:"last_activity"`
	AverageLatency time.Duration `json:"average_latency"`
	IsConnected    bool          `json:"is_connected"`
}
