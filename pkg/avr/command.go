// pkg/avr/command.go
package avr

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Command is an operation that can be sent to the AVR. Each variant knows
// which status kind answers it; the wire syntax lives in the codec.
type Command interface {
	// ReplyKind is the status kind whose next event completes the command
	ReplyKind() StatusKind
	fmt.Stringer
}

// SetPower switches the main zone power
type SetPower struct {
	State Power
}

func (c SetPower) ReplyKind() StatusKind { return KindPower }
func (c SetPower) String() string        { return fmt.Sprintf("SetPower(%s)", c.State) }

// SetMute mutes or unmutes the main zone
type SetMute struct {
	Muted bool
}

func (c SetMute) ReplyKind() StatusKind { return KindMute }
func (c SetMute) String() string        { return fmt.Sprintf("SetMute(%t)", c.Muted) }

// SetVolume sets an absolute master volume level on the device scale
type SetVolume struct {
	Level decimal.Decimal
}

// NewSetVolume is a shorthand for whole-step levels
func NewSetVolume(level int64) SetVolume {
	return SetVolume{Level: decimal.NewFromInt(level)}
}

func (c SetVolume) ReplyKind() StatusKind { return KindVolume }
func (c SetVolume) String() string        { return fmt.Sprintf("SetVolume(%s)", c.Level) }

// StepVolume moves the master volume one notch up or down
type StepVolume struct {
	Up bool
}

func (c StepVolume) ReplyKind() StatusKind { return KindVolume }
func (c StepVolume) String() string {
	if c.Up {
		return "VolumeUp"
	}
	return "VolumeDown"
}

// SetInput selects the input source
type SetInput struct {
	Source InputSource
}

func (c SetInput) ReplyKind() StatusKind { return KindInput }
func (c SetInput) String() string        { return fmt.Sprintf("SetInput(%s)", c.Source) }

// SetSurroundMode selects the surround mode
type SetSurroundMode struct {
	Mode SurroundMode
}

func (c SetSurroundMode) ReplyKind() StatusKind { return KindSurroundMode }
func (c SetSurroundMode) String() string        { return fmt.Sprintf("SetSurroundMode(%s)", c.Mode) }

// QueryStatus asks the device to report one status kind
type QueryStatus struct {
	Status StatusKind
}

func (c QueryStatus) ReplyKind() StatusKind { return c.Status }
func (c QueryStatus) String() string        { return fmt.Sprintf("QueryStatus(%s)", c.Status) }
