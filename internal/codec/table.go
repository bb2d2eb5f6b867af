// internal/codec/table.go
package codec

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"marantz-avr/pkg/avr"
)

// ParseFunc converts the parameter suffix of a status line into a typed value.
// It reports false when the suffix does not fit the kind's grammar.
type ParseFunc func(param string) (any, bool)

// Entry describes one status kind in a wire table
type Entry struct {
	Kind   avr.StatusKind
	Prefix string
	Query  string
	Parse  ParseFunc
}

// Table is a versioned set of prefixes and parameter grammars for one
// model family. Session and dispatcher code never hard-code prefixes.
type Table struct {
	Family    string
	Version   string
	MaxVolume decimal.Decimal

	sources  map[avr.InputSource]bool
	modes    map[avr.SurroundMode]bool
	entries  []Entry
	byKind   map[avr.StatusKind]Entry
	byLength []Entry
}

// TableOption customises a table at construction
type TableOption func(*Table)

// WithSources sets the input sources accepted by SetInput
func WithSources(sources ...avr.InputSource) TableOption {
	return func(t *Table) {
		for _, s := range sources {
			t.sources[s] = true
		}
	}
}

// WithSettableModes sets the surround modes accepted by SetSurroundMode
func WithSettableModes(modes ...avr.SurroundMode) TableOption {
	return func(t *Table) {
		for _, m := range modes {
			t.modes[m] = true
		}
	}
}

// NewTable builds a table from its entries. Entry order is kept for Kinds.
func NewTable(family, version string, maxVolume decimal.Decimal, entries []Entry, opts ...TableOption) *Table {
	t := &Table{
		Family:    family,
		Version:   version,
		MaxVolume: maxVolume,
		sources:   make(map[avr.InputSource]bool),
		modes:     make(map[avr.SurroundMode]bool),
		entries:   append([]Entry(nil), entries...),
		byKind:    make(map[avr.StatusKind]Entry, len(entries)),
	}
	for _, e := range entries {
		t.byKind[e.Kind] = e
	}

	t.byLength = append([]Entry(nil), entries...)
	sort.SliceStable(t.byLength, func(i, j int) bool {
		return len(t.byLength[i].Prefix) > len(t.byLength[j].Prefix)
	})

	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Lookup returns the entry for a kind
func (t *Table) Lookup(kind avr.StatusKind) (Entry, bool) {
	e, ok := t.byKind[kind]
	return e, ok
}

// Kinds lists the kinds of the table in declaration order
func (t *Table) Kinds() []avr.StatusKind {
	kinds := make([]avr.StatusKind, 0, len(t.entries))
	for _, e := range t.entries {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

// QueryKinds lists the kinds that have their own query line. Kinds that are
// reported as a side effect of another query (MVMAX) are skipped.
func (t *Table) QueryKinds() []avr.StatusKind {
	seen := make(map[string]bool)
	var kinds []avr.StatusKind
	for _, e := range t.entries {
		if e.Query == "" || seen[e.Query] {
			continue
		}
		seen[e.Query] = true
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

// ReplyKinds lists every kind the query line of kind reports, in table
// order. MV? answers both MV and MVMAX.
func (t *Table) ReplyKinds(kind avr.StatusKind) []avr.StatusKind {
	entry, ok := t.Lookup(kind)
	if !ok || entry.Query == "" {
		return nil
	}
	var kinds []avr.StatusKind
	for _, e := range t.entries {
		if e.Query == entry.Query {
			kinds = append(kinds, e.Kind)
		}
	}
	return kinds
}

// SupportsSource reports whether SetInput accepts the source
func (t *Table) SupportsSource(src avr.InputSource) bool {
	return t.sources[src]
}

// SupportsMode reports whether SetSurroundMode accepts the mode
func (t *Table) SupportsMode(mode avr.SurroundMode) bool {
	return t.modes[mode]
}

// match finds the entry with the longest prefix of line
func (t *Table) match(line string) (Entry, bool) {
	for _, e := range t.byLength {
		if strings.HasPrefix(line, e.Prefix) {
			return e, true
		}
	}
	return Entry{}, false
}

// Marantz2016 is the table for Marantz receivers using the 2016+ telnet
// and RS-232 protocol (SR/NR series).
func Marantz2016() *Table {
	return NewTable("marantz", "1", decimal.NewFromInt(98),
		[]Entry{
			{Kind: avr.KindPower, Prefix: "PW", Query: "PW?", Parse: parsePower},
			{Kind: avr.KindMute, Prefix: "MU", Query: "MU?", Parse: parseOnOff},
			{Kind: avr.KindVolume, Prefix: "MV", Query: "MV?", Parse: parseLevel},
			{Kind: avr.KindMaxVolume, Prefix: "MVMAX", Query: "MV?", Parse: parseLevel},
			{Kind: avr.KindInput, Prefix: "SI", Query: "SI?", Parse: parseInput},
			{Kind: avr.KindSurroundMode, Prefix: "MS", Query: "MS?", Parse: parseSurroundMode},
		},
		WithSources(avr.InputSources()...),
		WithSettableModes(avr.SurroundModes()...),
	)
}

func parsePower(param string) (any, bool) {
	switch p := avr.Power(param); p {
	case avr.PowerOn, avr.PowerOff, avr.PowerStandby:
		return p, true
	default:
		return nil, false
	}
}

func parseOnOff(param string) (any, bool) {
	switch param {
	case "ON":
		return true, true
	case "OFF":
		return false, true
	default:
		return nil, false
	}
}

// parseLevel reads two or three digit volume levels. Three digits carry a
// half step: "455" is 45.5.
func parseLevel(param string) (any, bool) {
	if len(param) != 2 && len(param) != 3 {
		return nil, false
	}
	for _, r := range param {
		if r < '0' || r > '9' {
			return nil, false
		}
	}
	level, err := decimal.NewFromString(param)
	if err != nil {
		return nil, false
	}
	if len(param) == 3 {
		level = level.Shift(-1)
	}
	return level, true
}

func parseInput(param string) (any, bool) {
	if param == "" {
		return nil, false
	}
	return avr.InputSource(param), true
}

func parseSurroundMode(param string) (any, bool) {
	if param == "" {
		return nil, false
	}
	return avr.SurroundMode(param), true
}
