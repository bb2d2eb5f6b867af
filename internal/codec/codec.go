// internal/codec/codec.go
package codec

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"marantz-avr/pkg/avr"
)

var halfStep = decimal.NewFromFloat(0.5)

// Codec encodes commands and decodes status lines using one wire table.
// It performs no I/O and keeps no state beyond the table.
type Codec struct {
	table *Table
}

// New creates a codec for the given table
func New(table *Table) *Codec {
	return &Codec{table: table}
}

// Table returns the wire table in use
func (c *Codec) Table() *Table {
	return c.table
}

// Encode validates a command and renders it as one line without terminator.
// Parameters outside the device's range are rejected, never clamped.
func (c *Codec) Encode(cmd avr.Command) (string, error) {
	switch command := cmd.(type) {
	case avr.SetPower:
		switch command.State {
		case avr.PowerOn, avr.PowerOff, avr.PowerStandby:
		default:
			return "", avr.NewUnsupportedCommandError(cmd, "unknown power state %q", command.State)
		}
		return c.withPrefix(cmd, avr.KindPower, string(command.State))

	case avr.SetMute:
		value := "OFF"
		if command.Muted {
			value = "ON"
		}
		return c.withPrefix(cmd, avr.KindMute, value)

	case avr.SetVolume:
		param, err := c.formatLevel(cmd, command.Level)
		if err != nil {
			return "", err
		}
		return c.withPrefix(cmd, avr.KindVolume, param)

	case avr.StepVolume:
		if command.Up {
			return c.withPrefix(cmd, avr.KindVolume, "UP")
		}
		return c.withPrefix(cmd, avr.KindVolume, "DOWN")

	case avr.SetInput:
		if !c.table.SupportsSource(command.Source) {
			return "", avr.NewUnsupportedCommandError(cmd, "input source %q not supported by %s", command.Source, c.table.Family)
		}
		return c.withPrefix(cmd, avr.KindInput, string(command.Source))

	case avr.SetSurroundMode:
		if !c.table.SupportsMode(command.Mode) {
			return "", avr.NewUnsupportedCommandError(cmd, "surround mode %q cannot be selected on %s", command.Mode, c.table.Family)
		}
		return c.withPrefix(cmd, avr.KindSurroundMode, string(command.Mode))

	case avr.QueryStatus:
		entry, ok := c.table.Lookup(command.Status)
		if !ok || entry.Query == "" {
			return "", avr.NewUnsupportedCommandError(cmd, "status %s cannot be queried", command.Status)
		}
		return entry.Query, nil

	case nil:
		return "", avr.NewUnsupportedCommandError(nil, "nil command")

	default:
		return "", avr.NewUnsupportedCommandError(cmd, "unknown command type %T", cmd)
	}
}

// Decode maps one line to an event. It never fails: lines that match no
// known grammar come back as opaque events carrying the line verbatim.
func (c *Codec) Decode(line string) avr.Event {
	line = strings.TrimRight(line, "\r\n")
	opaque := avr.Event{Kind: avr.KindOpaque, Raw: line}

	entry, ok := c.table.match(line)
	if !ok {
		return opaque
	}

	value, ok := entry.Parse(strings.TrimSpace(line[len(entry.Prefix):]))
	if !ok {
		return opaque
	}
	return avr.Event{Kind: entry.Kind, Value: value, Raw: line}
}

func (c *Codec) withPrefix(cmd avr.Command, kind avr.StatusKind, param string) (string, error) {
	entry, ok := c.table.Lookup(kind)
	if !ok {
		return "", avr.NewUnsupportedCommandError(cmd, "%s has no %s prefix", c.table.Family, kind)
	}
	line := entry.Prefix + param
	if err := checkLine(line); err != nil {
		return "", avr.NewUnsupportedCommandError(cmd, "%v", err)
	}
	return line, nil
}

// formatLevel renders a level as two digits, or three digits for half steps
func (c *Codec) formatLevel(cmd avr.Command, level decimal.Decimal) (string, error) {
	if level.IsNegative() || level.GreaterThan(c.table.MaxVolume) {
		return "", avr.NewUnsupportedCommandError(cmd, "volume %s outside 0..%s", level, c.table.MaxVolume)
	}
	if !level.Mod(halfStep).IsZero() {
		return "", avr.NewUnsupportedCommandError(cmd, "volume %s is not a multiple of %s", level, halfStep)
	}

	whole := level.IntPart()
	if level.Equal(decimal.NewFromInt(whole)) {
		return fmt.Sprintf("%02d", whole), nil
	}
	return fmt.Sprintf("%02d5", whole), nil
}

// checkLine enforces the ASCII-only, single-line grammar
func checkLine(line string) error {
	for i := 0; i < len(line); i++ {
		b := line[i]
		if b == '\r' || b == '\n' {
			return fmt.Errorf("line terminator inside parameter")
		}
		if b > 0x7e || b < 0x20 {
			return fmt.Errorf("non-printable or non-ASCII byte 0x%02x", b)
		}
	}
	return nil
}
