package measurement

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidChannel is returned when a channel configuration names a
// timeslot or subslot that does not exist for its kind
var ErrInvalidChannel = errors.New("measurement: invalid channel configuration")

// Kind is the physical channel combination a logical channel lives on
type Kind uint8

const (
	KindTCHF Kind = iota
	KindTCHH
	KindSDCCH8
	KindSDCCH4
)

func (k Kind) String() string {
	switch k {
	case KindTCHF:
		return "TCH/F"
	case KindTCHH:
		return "TCH/H"
	case KindSDCCH8:
		return "SDCCH/8"
	case KindSDCCH4:
		return "SDCCH/4"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// IsTraffic reports whether the kind is a traffic channel (104 frame period)
func (k Kind) IsTraffic() bool {
	return k == KindTCHF || k == KindTCHH
}

// subslots returns the number of logical channels per timeslot
func (k Kind) subslots() uint8 {
	switch k {
	case KindTCHF:
		return 1
	case KindTCHH:
		return 2
	case KindSDCCH8:
		return 8
	case KindSDCCH4:
		return 4
	}
	panic(fmt.Sprintf("measurement: unknown channel kind %d", uint8(k)))
}

// ParseKind accepts the names printed by Kind.String, case insensitive
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TCH/F", "TCHF":
		return KindTCHF, nil
	case "TCH/H", "TCHH":
		return KindTCHH, nil
	case "SDCCH/8", "SDCCH8":
		return KindSDCCH8, nil
	case "SDCCH/4", "SDCCH4":
		return KindSDCCH4, nil
	}
	return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidChannel, s)
}

// Mode is the channel mode (TS 44.018 sec 10.5.2.6)
type Mode uint8

const (
	ModeSignalling Mode = iota
	ModeSpeechV1        // FR on TCH/F, HR on TCH/H
	ModeSpeechEFR
	ModeSpeechAMR
	ModeData12k0
	ModeData6k0
	ModeData3k6
)

var modeNames = map[Mode]string{
	ModeSignalling: "signalling",
	ModeSpeechV1:   "speech-v1",
	ModeSpeechEFR:  "speech-efr",
	ModeSpeechAMR:  "speech-amr",
	ModeData12k0:   "data-12k0",
	ModeData6k0:    "data-6k0",
	ModeData3k6:    "data-3k6",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// ParseMode accepts the names printed by Mode.String
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown mode %q", ErrInvalidChannel, s)
}

// ChannelConfig classifies a logical channel. It is fixed at allocation
// time and read-only afterwards.
type ChannelConfig struct {
	Kind Kind
	Mode Mode
	// DataService marks an RSL "data" channel, whose SUB set is not derived
	// from the frame number
	DataService bool
	Timeslot    uint8 // 0..7
	Subslot     uint8 // lchan number within the timeslot
}

// IsAMR reports whether the channel carries AMR speech
func (c ChannelConfig) IsAMR() bool {
	return c.Mode == ModeSpeechAMR
}

// Validate checks the timeslot and subslot against the channel kind
func (c ChannelConfig) Validate() error {
	if c.Kind > KindSDCCH4 {
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidChannel, uint8(c.Kind))
	}
	if c.Timeslot > 7 {
		return fmt.Errorf("%w: timeslot %d out of range", ErrInvalidChannel, c.Timeslot)
	}
	if c.Subslot >= c.Kind.subslots() {
		return fmt.Errorf("%w: subslot %d out of range for %s", ErrInvalidChannel, c.Subslot, c.Kind)
	}
	if !c.Kind.IsTraffic() && c.Mode != ModeSignalling {
		return fmt.Errorf("%w: %s only supports signalling, got %s", ErrInvalidChannel, c.Kind, c.Mode)
	}
	return nil
}

func (c ChannelConfig) String() string {
	return fmt.Sprintf("%s ts%d ss%d", c.Kind, c.Timeslot, c.Subslot)
}

// RSLChanNr returns the Channel Number IE value (TS 48.058 sec 9.3.1)
func (c ChannelConfig) RSLChanNr() uint8 {
	var cbits uint8
	switch c.Kind {
	case KindTCHF:
		cbits = 0x01
	case KindTCHH:
		cbits = 0x02 + c.Subslot
	case KindSDCCH4:
		cbits = 0x04 + c.Subslot
	case KindSDCCH8:
		cbits = 0x08 + c.Subslot
	default:
		panic(fmt.Sprintf("unknown channel kind %d", uint8(c.Kind)))
	}
	return cbits<<3 | c.Timeslot&0x07
}
