// pkg/avr/types.go
package avr

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StatusKind identifies one piece of device state reported by the AVR
type StatusKind string

const (
	KindPower        StatusKind = "POWER"
	KindMute         StatusKind = "MUTE"
	KindVolume       StatusKind = "VOLUME"
	KindMaxVolume    StatusKind = "MAX_VOLUME"
	KindInput        StatusKind = "INPUT"
	KindSurroundMode StatusKind = "SURROUND_MODE"

	// KindOpaque marks a line that matched no known status grammar
	KindOpaque StatusKind = "OPAQUE"
)

// Power represents the main zone power state
type Power string

const (
	PowerOn      Power = "ON"
	PowerOff     Power = "OFF"
	PowerStandby Power = "STANDBY"
)

// InputSource is the name of an input source as used on the wire
type InputSource string

const (
	SourcePhono         InputSource = "PHONO"
	SourceCD            InputSource = "CD"
	SourceDVD           InputSource = "DVD"
	SourceBluray        InputSource = "BD"
	SourceTV            InputSource = "TV"
	SourceCblSat        InputSource = "SAT/CBL"
	SourceMediaPlayer   InputSource = "MPLAY"
	SourceGame          InputSource = "GAME"
	SourceTuner         InputSource = "TUNER"
	SourceHDRadio       InputSource = "HDRADIO"
	SourceSiriusXM      InputSource = "SIRIUSXM"
	SourcePandora       InputSource = "PANDORA"
	SourceInternetRadio InputSource = "IRADIO"
	SourceServer        InputSource = "SERVER"
	SourceFavorites     InputSource = "FAVORITES"
	SourceAux1          InputSource = "AUX1"
	SourceAux2          InputSource = "AUX2"
	SourceAux3          InputSource = "AUX3"
	SourceAux4          InputSource = "AUX4"
	SourceAux5          InputSource = "AUX5"
	SourceAux6          InputSource = "AUX6"
	SourceAux7          InputSource = "AUX7"
	SourceOnlineMusic   InputSource = "NET"
	SourceBluetooth     InputSource = "BT"
)

// SurroundMode is the name of a surround (sound) mode as used on the wire
type SurroundMode string

// Settable surround modes. LEFT and RIGHT rotate through the available modes.
const (
	ModeMovie              SurroundMode = "MOVIE"
	ModeMusic              SurroundMode = "MUSIC"
	ModeGame               SurroundMode = "GAME"
	ModeDirect             SurroundMode = "DIRECT"
	ModePureDirect         SurroundMode = "PURE DIRECT"
	ModeStereo             SurroundMode = "STEREO"
	ModeAuto               SurroundMode = "AUTO"
	ModeDolbyDigital       SurroundMode = "DOLBY DIGITAL"
	ModeDtsSurround        SurroundMode = "DTS SURROUND"
	ModeAuro3D             SurroundMode = "AURO3D"
	ModeAuro2DSurround     SurroundMode = "AURO2DSURR"
	ModeMultiChannelStereo SurroundMode = "MCH STEREO"
	ModeVirtual            SurroundMode = "VIRTUAL"
	ModeLeft               SurroundMode = "LEFT"
	ModeRight              SurroundMode = "RIGHT"
)

// Modes the device reports but does not accept as a command.
const (
	ModeDolbySurround   SurroundMode = "DOLBY SURROUND"
	ModeDolbyAtmos      SurroundMode = "DOLBY ATMOS"
	ModeDolbyDigitalDS  SurroundMode = "DOLBY D+DS"
	ModeDolbyHD         SurroundMode = "DOLBY HD"
	ModeNeuralX         SurroundMode = "NEURAL:X"
	ModeDtsHDMstr       SurroundMode = "DTS HD MSTR"
	ModeDtsX            SurroundMode = "DTS:X"
	ModeDtsXMstr        SurroundMode = "DTS:X MSTR"
	ModeMultiChIn       SurroundMode = "MULTI CH IN"
	ModeMultiChIn7_1    SurroundMode = "MULTI CH IN 7.1"
	ModeDtsExpress      SurroundMode = "DTS EXPRESS"
	ModeDolbyDigitalPls SurroundMode = "DOLBY D+"
)

// InputSources lists the selectable input sources
func InputSources() []InputSource {
	return []InputSource{
		SourcePhono, SourceCD, SourceDVD, SourceBluray, SourceTV, SourceCblSat,
		SourceMediaPlayer, SourceGame, SourceTuner, SourceHDRadio, SourceSiriusXM,
		SourcePandora, SourceInternetRadio, SourceServer, SourceFavorites,
		SourceAux1, SourceAux2, SourceAux3, SourceAux4, SourceAux5, SourceAux6,
		SourceAux7, SourceOnlineMusic, SourceBluetooth,
	}
}

// SurroundModes lists the surround modes that can be selected by command
func SurroundModes() []SurroundMode {
	return []SurroundMode{
		ModeMovie, ModeMusic, ModeGame, ModeDirect, ModePureDirect, ModeStereo,
		ModeAuto, ModeDolbyDigital, ModeDtsSurround, ModeAuro3D, ModeAuro2DSurround,
		ModeMultiChannelStereo, ModeVirtual, ModeLeft, ModeRight,
	}
}

// Event is one decoded wire line. Value holds a Power, bool (mute),
// decimal.Decimal (volume levels), InputSource or SurroundMode depending on
// Kind. Opaque events carry no value, only Raw.
type Event struct {
	Kind       StatusKind `json:"kind"`
	Value      any        `json:"value,omitempty"`
	Raw        string     `json:"raw"`
	ReceivedAt time.Time  `json:"received_at"`
}

// IsOpaque reports whether the line matched no known status grammar
func (e Event) IsOpaque() bool {
	return e.Kind == KindOpaque
}

// String renders the event for logs and the CLI
func (e Event) String() string {
	if e.IsOpaque() {
		return fmt.Sprintf("%s(%q)", e.Kind, e.Raw)
	}
	return fmt.Sprintf("%s=%s", e.Kind, FormatValue(e.Value))
}

// FormatValue renders a status value the way the CLI and the bridge show it
func FormatValue(v any) string {
	switch value := v.(type) {
	case nil:
		return "unknown"
	case decimal.Decimal:
		return value.String()
	case bool:
		if value {
			return "true"
		}
		return "false"
	case fmt.Stringer:
		return value.String()
	default:
		return fmt.Sprintf("%v", value)
	}
}
