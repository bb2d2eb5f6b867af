package avr

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		target string
		value  string
		want   Command
	}{
		{"power", "on", SetPower{State: PowerOn}},
		{"POWER", "standby", SetPower{State: PowerStandby}},
		{"mute", "true", SetMute{Muted: true}},
		{"mute", "off", SetMute{Muted: false}},
		{"volume", "up", StepVolume{Up: true}},
		{"volume", "DOWN", StepVolume{Up: false}},
		{"input", "cd", SetInput{Source: SourceCD}},
		{"surround-mode", "pure direct", SetSurroundMode{Mode: ModePureDirect}},
		{"query", "max_volume", QueryStatus{Status: KindMaxVolume}},
		{"input", "", QueryStatus{Status: KindInput}},
		{"power", "?", QueryStatus{Status: KindPower}},
	}

	for _, tt := range tests {
		t.Run(tt.target+"="+tt.value, func(t *testing.T) {
			got, err := ParseCommand(tt.target, tt.value)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestParseCommandVolumeLevel(t *testing.T) {
	cmd, err := ParseCommand("volume", "45.5")
	if err != nil {
		t.Fatal(err)
	}
	set, ok := cmd.(SetVolume)
	if !ok || !set.Level.Equal(decimal.RequireFromString("45.5")) {
		t.Errorf("got %#v", cmd)
	}
}

func TestParseCommandErrors(t *testing.T) {
	tests := []struct{ target, value string }{
		{"bass", "50"},
		{"power", "maybe"},
		{"mute", "loud"},
		{"volume", "high"},
		{"max_volume", "90"},
		{"query", "treble"},
	}
	for _, tt := range tests {
		if _, err := ParseCommand(tt.target, tt.value); err == nil {
			t.Errorf("%s=%s: expected error", tt.target, tt.value)
		}
	}
}
