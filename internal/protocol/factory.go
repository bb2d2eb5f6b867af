// internal/protocol/factory.go
package protocol

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// TransportType selects the physical control channel
type TransportType string

const (
	TransportTCP    TransportType = "tcp"
	TransportSerial TransportType = "serial"
)

// Default AVR control channel settings
const (
	DefaultTCPPort        = 23
	DefaultBaudRate       = 9600
	DefaultConnectTimeout = 5 * time.Second
)

// Endpoint describes how to reach one AVR
type Endpoint struct {
	Type         TransportType `json:"type"`
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	SerialPort   string        `json:"serial_port"`
	BaudRate     int           `json:"baud_rate"`
	Timeout      time.Duration `json:"timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// CreateTransport creates a line transport for an endpoint
func CreateTransport(endpoint Endpoint, logger *zap.Logger) (LineTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ValidateEndpoint(endpoint); err != nil {
		return nil, err
	}

	switch endpoint.transportType() {
	case TransportTCP:
		return createTCPTransport(endpoint, logger), nil
	case TransportSerial:
		return createSerialTransport(endpoint, logger), nil
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", endpoint.Type)
	}
}

// createTCPTransport creates a TCP transport with AVR defaults
func createTCPTransport(endpoint Endpoint, logger *zap.Logger) LineTransport {
	tcpConfig := &TCPConfig{
		Host:         endpoint.Host,
		Port:         DefaultTCPPort,
		KeepAlive:    true,
		BufferSize:   readBufferSize,
		Timeout:      DefaultConnectTimeout,
		WriteTimeout: endpoint.WriteTimeout,
		Terminator:   DefaultTerminator,
	}
	if endpoint.Port > 0 {
		tcpConfig.Port = endpoint.Port
	}
	if endpoint.Timeout > 0 {
		tcpConfig.Timeout = endpoint.Timeout
	}

	logger.Debug("Creating TCP transport",
		zap.String("host", tcpConfig.Host),
		zap.Int("port", tcpConfig.Port),
	)
	return NewTCPConnection(tcpConfig, logger)
}

// createSerialTransport creates a serial transport, 8N1 as the AVR expects
func createSerialTransport(endpoint Endpoint, logger *zap.Logger) LineTransport {
	serialConfig := &SerialConfig{
		Port:       endpoint.SerialPort,
		BaudRate:   DefaultBaudRate,
		DataBits:   8,
		StopBits:   1,
		Parity:     "none",
		Terminator: DefaultTerminator,
	}
	if endpoint.BaudRate > 0 {
		serialConfig.BaudRate = endpoint.BaudRate
	}

	logger.Debug("Creating serial transport",
		zap.String("port", serialConfig.Port),
		zap.Int("baud_rate", serialConfig.BaudRate),
	)
	return NewSerialConnection(serialConfig, logger)
}

// ValidateEndpoint validates an endpoint for its transport type
func ValidateEndpoint(endpoint Endpoint) error {
	switch endpoint.transportType() {
	case TransportTCP:
		if endpoint.Host == "" {
			return fmt.Errorf("TCP host is required")
		}
		if endpoint.Port < 0 || endpoint.Port > 65535 {
			return fmt.Errorf("invalid port number: %d", endpoint.Port)
		}
		return nil
	case TransportSerial:
		if endpoint.SerialPort == "" {
			return fmt.Errorf("serial port is required")
		}
		if endpoint.BaudRate == 0 {
			return nil
		}
		validRates := []int{1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200}
		for _, rate := range validRates {
			if endpoint.BaudRate == rate {
				return nil
			}
		}
		return fmt.Errorf("invalid baud rate: %d", endpoint.BaudRate)
	default:
		return fmt.Errorf("unsupported transport type: %s", endpoint.Type)
	}
}

func (e Endpoint) transportType() TransportType {
	if e.Type == "" {
		return TransportTCP
	}
	return e.Type
}

// Address renders the endpoint for logs
func (e Endpoint) Address() string {
	if e.transportType() == TransportSerial {
		return e.SerialPort
	}
	port := e.Port
	if port == 0 {
		port = DefaultTCPPort
	}
	return fmt.Sprintf("%s:%d", e.Host, port)
}
