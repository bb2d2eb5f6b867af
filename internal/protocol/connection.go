// internal/protocol/connection.go
package protocol

import "time"

// DefaultTerminator ends every outgoing line
const DefaultTerminator = "\r"

// SerialConfig represents RS-232 connection configuration
type SerialConfig struct {
	Port       string        `json:"port"`
	BaudRate   int           `json:"baud_rate"`
	DataBits   int           `json:"data_bits"`
	StopBits   int           `json:"stop_bits"`
	Parity     string        `json:"parity"`
	Timeout    time.Duration `json:"timeout"`
	Terminator string        `json:"terminator"`
}

// TCPConfig represents TCP (telnet) connection configuration
type TCPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	KeepAlive    bool          `json:"keep_alive"`
	BufferSize   int           `json:"buffer_size"`
	Timeout      time.Duration `json:"timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Terminator   string        `json:"terminator"`
}
