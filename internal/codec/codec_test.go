package codec

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"marantz-avr/pkg/avr"
)

func TestEncode(t *testing.T) {
	c := New(Marantz2016())

	tests := []struct {
		name     string
		cmd      avr.Command
		expected string
	}{
		{"power on", avr.SetPower{State: avr.PowerOn}, "PWON"},
		{"power standby", avr.SetPower{State: avr.PowerStandby}, "PWSTANDBY"},
		{"mute on", avr.SetMute{Muted: true}, "MUON"},
		{"mute off", avr.SetMute{Muted: false}, "MUOFF"},
		{"volume whole", avr.NewSetVolume(30), "MV30"},
		{"volume single digit", avr.NewSetVolume(5), "MV05"},
		{"volume half step", avr.SetVolume{Level: decimal.RequireFromString("45.5")}, "MV455"},
		{"volume low half step", avr.SetVolume{Level: decimal.RequireFromString("0.5")}, "MV005"},
		{"volume max", avr.NewSetVolume(98), "MV98"},
		{"volume up", avr.StepVolume{Up: true}, "MVUP"},
		{"volume down", avr.StepVolume{Up: false}, "MVDOWN"},
		{"input", avr.SetInput{Source: avr.SourceDVD}, "SIDVD"},
		{"input with slash", avr.SetInput{Source: avr.SourceCblSat}, "SISAT/CBL"},
		{"surround mode", avr.SetSurroundMode{Mode: avr.ModePureDirect}, "MSPURE DIRECT"},
		{"query power", avr.QueryStatus{Status: avr.KindPower}, "PW?"},
		{"query max volume", avr.QueryStatus{Status: avr.KindMaxVolume}, "MV?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Encode(tt.cmd)
			if err != nil {
				t.Fatalf("Encode(%s) error: %v", tt.cmd, err)
			}
			if got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestEncodeRejectsInvalidParameters(t *testing.T) {
	c := New(Marantz2016())

	tests := []struct {
		name string
		cmd  avr.Command
	}{
		{"volume above scale", avr.NewSetVolume(99)},
		{"negative volume", avr.NewSetVolume(-1)},
		{"volume off step", avr.SetVolume{Level: decimal.RequireFromString("30.25")}},
		{"unknown power", avr.SetPower{State: "HALF"}},
		{"unknown source", avr.SetInput{Source: "LASERDISC"}},
		{"return-only mode", avr.SetSurroundMode{Mode: avr.ModeDolbyAtmos}},
		{"opaque query", avr.QueryStatus{Status: avr.KindOpaque}},
		{"nil", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, err := c.Encode(tt.cmd)
			if err == nil {
				t.Fatalf("expected error, got line %q", line)
			}
			if !errors.Is(err, avr.ErrUnsupportedCommand) {
				t.Errorf("expected ErrUnsupportedCommand, got %v", err)
			}
			var uce *avr.UnsupportedCommandError
			if !errors.As(err, &uce) {
				t.Errorf("expected *UnsupportedCommandError, got %T", err)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	c := New(Marantz2016())

	tests := []struct {
		line  string
		kind  avr.StatusKind
		value any
	}{
		{"PWON", avr.KindPower, avr.PowerOn},
		{"PWSTANDBY\r", avr.KindPower, avr.PowerStandby},
		{"MUON", avr.KindMute, true},
		{"MUOFF", avr.KindMute, false},
		{"SIDVD", avr.KindInput, avr.SourceDVD},
		{"SINEWSOURCE", avr.KindInput, avr.InputSource("NEWSOURCE")},
		{"MSDOLBY ATMOS", avr.KindSurroundMode, avr.ModeDolbyAtmos},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			ev := c.Decode(tt.line)
			if ev.Kind != tt.kind {
				t.Fatalf("kind: got %s, want %s", ev.Kind, tt.kind)
			}
			if ev.Value != tt.value {
				t.Errorf("value: got %v, want %v", ev.Value, tt.value)
			}
		})
	}
}

func TestDecodeLevels(t *testing.T) {
	c := New(Marantz2016())

	tests := []struct {
		line     string
		kind     avr.StatusKind
		expected string
	}{
		{"MV30", avr.KindVolume, "30"},
		{"MV05", avr.KindVolume, "5"},
		{"MV455", avr.KindVolume, "45.5"},
		{"MV005", avr.KindVolume, "0.5"},
		{"MVMAX 98", avr.KindMaxVolume, "98"},
		{"MVMAX985", avr.KindMaxVolume, "98.5"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			ev := c.Decode(tt.line)
			if ev.Kind != tt.kind {
				t.Fatalf("kind: got %s, want %s", ev.Kind, tt.kind)
			}
			level, ok := ev.Value.(decimal.Decimal)
			if !ok {
				t.Fatalf("value type %T, want decimal.Decimal", ev.Value)
			}
			if !level.Equal(decimal.RequireFromString(tt.expected)) {
				t.Errorf("got %s, want %s", level, tt.expected)
			}
		})
	}
}

func TestDecodeOpaque(t *testing.T) {
	c := New(Marantz2016())

	for _, line := range []string{"", "ZMON", "PWMAYBE", "MVUP", "MV1", "MV1234", "MUX", "SI", "CVFL 50"} {
		t.Run(line, func(t *testing.T) {
			ev := c.Decode(line)
			if !ev.IsOpaque() {
				t.Fatalf("Decode(%q) = %s, want opaque", line, ev)
			}
			if ev.Raw != line {
				t.Errorf("raw: got %q, want %q", ev.Raw, line)
			}
			if ev.Value != nil {
				t.Errorf("opaque event carries value %v", ev.Value)
			}
		})
	}
}

func TestDecodeIsDeterministic(t *testing.T) {
	c := New(Marantz2016())

	for _, line := range []string{"PWON", "MV455", "MVMAX 98", "SITV", "MSSTEREO", "XX?"} {
		first := c.Decode(line)
		for i := 0; i < 5; i++ {
			again := c.Decode(line)
			if again.Kind != first.Kind || again.Raw != first.Raw || avr.FormatValue(again.Value) != avr.FormatValue(first.Value) {
				t.Fatalf("Decode(%q) not deterministic: %s vs %s", line, first, again)
			}
		}
	}
}

// Every valid command, echoed back by the device as a status line, decodes
// to the kind and value the command asked for.
func TestEncodeDecodeEcho(t *testing.T) {
	c := New(Marantz2016())

	var cmds []avr.Command
	for _, p := range []avr.Power{avr.PowerOn, avr.PowerOff, avr.PowerStandby} {
		cmds = append(cmds, avr.SetPower{State: p})
	}
	cmds = append(cmds, avr.SetMute{Muted: true}, avr.SetMute{Muted: false})
	for level := decimal.Zero; level.LessThanOrEqual(decimal.NewFromInt(98)); level = level.Add(halfStep) {
		cmds = append(cmds, avr.SetVolume{Level: level})
	}
	for _, src := range avr.InputSources() {
		cmds = append(cmds, avr.SetInput{Source: src})
	}
	for _, mode := range avr.SurroundModes() {
		cmds = append(cmds, avr.SetSurroundMode{Mode: mode})
	}

	for _, cmd := range cmds {
		line, err := c.Encode(cmd)
		if err != nil {
			t.Fatalf("Encode(%s): %v", cmd, err)
		}
		ev := c.Decode(line)
		if ev.Kind != cmd.ReplyKind() {
			t.Fatalf("%s: decoded kind %s, want %s", cmd, ev.Kind, cmd.ReplyKind())
		}

		var want any
		switch command := cmd.(type) {
		case avr.SetPower:
			want = command.State
		case avr.SetMute:
			want = command.Muted
		case avr.SetVolume:
			level, ok := ev.Value.(decimal.Decimal)
			if !ok || !level.Equal(command.Level) {
				t.Fatalf("%s: decoded %v", cmd, ev.Value)
			}
			continue
		case avr.SetInput:
			want = command.Source
		case avr.SetSurroundMode:
			want = command.Mode
		}
		if ev.Value != want {
			t.Fatalf("%s: decoded value %v, want %v", cmd, ev.Value, want)
		}
	}
}

func TestQueryKinds(t *testing.T) {
	table := Marantz2016()

	got := table.QueryKinds()
	want := []avr.StatusKind{avr.KindPower, avr.KindMute, avr.KindVolume, avr.KindInput, avr.KindSurroundMode}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestReplyKinds(t *testing.T) {
	table := Marantz2016()

	tests := []struct {
		kind avr.StatusKind
		want []avr.StatusKind
	}{
		{avr.KindVolume, []avr.StatusKind{avr.KindVolume, avr.KindMaxVolume}},
		{avr.KindMaxVolume, []avr.StatusKind{avr.KindVolume, avr.KindMaxVolume}},
		{avr.KindPower, []avr.StatusKind{avr.KindPower}},
		{avr.KindOpaque, nil},
	}
	for _, tt := range tests {
		got := table.ReplyKinds(tt.kind)
		if len(got) != len(tt.want) {
			t.Errorf("%s: got %v, want %v", tt.kind, got, tt.want)
			continue
		}
		for i := range tt.want {
			if got[i] != tt.want[i] {
				t.Errorf("%s index %d: got %s, want %s", tt.kind, i, got[i], tt.want[i])
			}
		}
	}
}

func TestRegistryLookup(t *testing.T) {
	r := DefaultRegistry(zaptest.NewLogger(t))

	table, err := r.Lookup("marantz")
	if err != nil {
		t.Fatalf("Lookup(marantz): %v", err)
	}
	if table.Family != "marantz" {
		t.Errorf("family: got %s", table.Family)
	}

	fallback, err := r.Lookup("denon-x1600")
	if err != nil {
		t.Fatalf("Lookup with wildcard fallback: %v", err)
	}
	if fallback != table {
		t.Errorf("expected wildcard to resolve to the marantz table")
	}
	if r.IsSupported("denon-x1600") {
		t.Errorf("IsSupported should only report exact families")
	}

	empty := NewRegistry(nil)
	if _, err := empty.Lookup("marantz"); err == nil {
		t.Errorf("expected error from empty registry")
	}
}

func TestRegistryAddsFamilyWithoutTouchingOthers(t *testing.T) {
	r := DefaultRegistry(zaptest.NewLogger(t))

	custom := NewTable("custom", "2", decimal.NewFromInt(80), []Entry{
		{Kind: avr.KindPower, Prefix: "ZM", Query: "ZM?", Parse: parsePower},
	})
	r.Register("custom", custom)

	table, err := r.Lookup("custom")
	if err != nil {
		t.Fatal(err)
	}
	c := New(table)
	line, err := c.Encode(avr.SetPower{State: avr.PowerOn})
	if err != nil {
		t.Fatal(err)
	}
	if line != "ZMON" {
		t.Errorf("got %q, want ZMON", line)
	}
	if ev := c.Decode("PWON"); !ev.IsOpaque() {
		t.Errorf("custom table should not know PW, got %s", ev)
	}
	if _, err := c.Encode(avr.NewSetVolume(10)); !errors.Is(err, avr.ErrUnsupportedCommand) {
		t.Errorf("expected unsupported volume on custom table, got %v", err)
	}

	got := r.Families()
	if len(got) != 3 {
		t.Errorf("families: got %v", got)
	}
}
