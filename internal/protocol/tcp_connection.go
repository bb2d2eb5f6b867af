// internal/protocol/tcp_connection.go
package protocol

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// NewTCPConnection creates a line transport over TCP (the AVR telnet port)
func NewTCPConnection(config *TCPConfig, logger *zap.Logger) *LineConnection {
	address := net.JoinHostPort(config.Host, strconv.Itoa(config.Port))
	lc := NewLineConnection("tcp", address, dialTCP(config, address), config.Terminator, logger)
	lc.writeTimeout = config.WriteTimeout
	if config.BufferSize > 0 {
		lc.bufferSize = config.BufferSize
	}
	return lc
}

// dialTCP returns the open function for a TCP address
func dialTCP(config *TCPConfig, address string) OpenFunc {
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		dialer := &net.Dialer{
			Timeout:   config.Timeout,
			KeepAlive: 30 * time.Second,
		}

		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok && config.KeepAlive {
			tcpConn.SetKeepAlive(true)
			tcpConn.SetKeepAlivePeriod(30 * time.Second)
		}
		return conn, nil
	}
}
