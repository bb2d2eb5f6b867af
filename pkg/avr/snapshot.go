// pkg/avr/snapshot.go
package avr

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Snapshot is a read-only copy of the device state at one point in time.
// A kind that has not been reported yet is absent.
type Snapshot struct {
	values map[StatusKind]Event
}

// NewSnapshot copies the given events, keyed by kind, into a Snapshot
func NewSnapshot(values map[StatusKind]Event) Snapshot {
	copied := make(map[StatusKind]Event, len(values))
	for kind, event := range values {
		copied[kind] = event
	}
	return Snapshot{values: copied}
}

// Get returns the last known value for a kind
func (s Snapshot) Get(kind StatusKind) (any, bool) {
	event, ok := s.values[kind]
	if !ok {
		return nil, false
	}
	return event.Value, true
}

// Event returns the last event processed for a kind
func (s Snapshot) Event(kind StatusKind) (Event, bool) {
	event, ok := s.values[kind]
	return event, ok
}

// Len returns the number of known kinds
func (s Snapshot) Len() int {
	return len(s.values)
}

func (s Snapshot) Power() (Power, bool) {
	v, ok := s.Get(KindPower)
	p, isPower := v.(Power)
	return p, ok && isPower
}

func (s Snapshot) Muted() (bool, bool) {
	v, ok := s.Get(KindMute)
	m, isBool := v.(bool)
	return m, ok && isBool
}

func (s Snapshot) Volume() (decimal.Decimal, bool) {
	return s.level(KindVolume)
}

func (s Snapshot) MaxVolume() (decimal.Decimal, bool) {
	return s.level(KindMaxVolume)
}

func (s Snapshot) Input() (InputSource, bool) {
	v, ok := s.Get(KindInput)
	src, isSource := v.(InputSource)
	return src, ok && isSource
}

func (s Snapshot) SurroundMode() (SurroundMode, bool) {
	v, ok := s.Get(KindSurroundMode)
	mode, isMode := v.(SurroundMode)
	return mode, ok && isMode
}

func (s Snapshot) level(kind StatusKind) (decimal.Decimal, bool) {
	v, ok := s.Get(kind)
	level, isLevel := v.(decimal.Decimal)
	return level, ok && isLevel
}

// MarshalJSON renders the snapshot as a kind to value object
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := make(map[StatusKind]string, len(s.values))
	for kind, event := range s.values {
		out[kind] = FormatValue(event.Value)
	}
	return json.Marshal(out)
}
