// pkg/avr/parse.go
package avr

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseKind accepts a status kind in any case, with '_' or '-' separators
// ("volume", "surround-mode", "MAX_VOLUME")
func ParseKind(name string) (StatusKind, error) {
	normalized := StatusKind(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "-", "_")))
	switch normalized {
	case KindPower, KindMute, KindVolume, KindMaxVolume, KindInput, KindSurroundMode:
		return normalized, nil
	default:
		return "", fmt.Errorf("unknown status kind: %q", name)
	}
}

// ParseCommand builds a command from a textual target and value, as sent
// by the HTTP API, MQTT set topics and the CLI. The target is a status
// kind or "query". Range checks are left to the codec.
func ParseCommand(target, value string) (Command, error) {
	value = strings.TrimSpace(value)

	if strings.EqualFold(strings.TrimSpace(target), "query") {
		kind, err := ParseKind(value)
		if err != nil {
			return nil, err
		}
		return QueryStatus{Status: kind}, nil
	}

	kind, err := ParseKind(target)
	if err != nil {
		return nil, err
	}
	if value == "" || value == "?" {
		return QueryStatus{Status: kind}, nil
	}

	switch kind {
	case KindPower:
		switch p := Power(strings.ToUpper(value)); p {
		case PowerOn, PowerOff, PowerStandby:
			return SetPower{State: p}, nil
		}
		return nil, fmt.Errorf("invalid power state: %q", value)

	case KindMute:
		switch strings.ToLower(value) {
		case "on", "true", "1":
			return SetMute{Muted: true}, nil
		case "off", "false", "0":
			return SetMute{Muted: false}, nil
		}
		return nil, fmt.Errorf("invalid mute value: %q", value)

	case KindVolume:
		switch strings.ToLower(value) {
		case "up":
			return StepVolume{Up: true}, nil
		case "down":
			return StepVolume{Up: false}, nil
		}
		level, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("invalid volume level %q: %w", value, err)
		}
		return SetVolume{Level: level}, nil

	case KindInput:
		return SetInput{Source: InputSource(strings.ToUpper(value))}, nil

	case KindSurroundMode:
		return SetSurroundMode{Mode: SurroundMode(strings.ToUpper(value))}, nil

	default:
		return nil, fmt.Errorf("%s can only be queried", kind)
	}
}
