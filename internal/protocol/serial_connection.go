// internal/protocol/serial_connection.go
package protocol

import (
	"context"
	"fmt"
	"io"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// NewSerialConnection creates a line transport over the AVR's RS-232 port
func NewSerialConnection(config *SerialConfig, logger *zap.Logger) *LineConnection {
	return NewLineConnection("serial", config.Port, openSerial(config), config.Terminator, logger)
}

// openSerial returns the open function for a serial port
func openSerial(config *SerialConfig) OpenFunc {
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		mode := &serial.Mode{
			BaudRate: config.BaudRate,
			DataBits: config.DataBits,
			StopBits: serialStopBits(config.StopBits),
		}

		switch config.Parity {
		case "odd":
			mode.Parity = serial.OddParity
		case "even":
			mode.Parity = serial.EvenParity
		default:
			mode.Parity = serial.NoParity
		}

		port, err := serial.Open(config.Port, mode)
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port %s: %w", config.Port, err)
		}

		// A zero timeout keeps reads blocking until data arrives or the port
		// is closed; the AVR may stay silent for hours.
		if config.Timeout > 0 {
			if err := port.SetReadTimeout(config.Timeout); err != nil {
				port.Close()
				return nil, fmt.Errorf("failed to set read timeout: %w", err)
			}
		}
		return port, nil
	}
}

func serialStopBits(bits int) serial.StopBits {
	if bits == 2 {
		return serial.TwoStopBits
	}
	return serial.OneStopBit
}
