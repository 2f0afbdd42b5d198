package measurement

import (
	"fmt"

	"github.com/dbehnke/gsmmeas/internal/protocol"
)

// Measurement reporting periods and SACCH positions for TCH/F and TCH/H
// (TS 45.008 sec 8.4.1). The index is the timeslot number.
//
//	TN  TCH/F  TCH/H sub0  TCH/H sub1  period      SACCH block (FN mod 104)
//	0   x      0 and 1                 0 to 103    12,  38,  64,  90
//	1                      0 and 1     13 to 12    25,  51,  77,  103
//	2   x      2 and 3                 26 to 25    38,  64,  90,  12
//	3                      2 and 3     39 to 38    51,  77,  103, 25
//	4   x      4 and 5                 52 to 51    64,  90,  12,  38
//	5                      4 and 5     65 to 64    77,  103, 25,  51
//	6   x      6 and 7                 78 to 77    90,  12,  38,  64
//	7                      6 and 7     91 to 90    103, 25,  51,  77
var (
	tchfMeasRepFN104ByTS  = [8]uint8{90, 103, 12, 25, 38, 51, 64, 77}
	tchh0MeasRepFN104ByTS = [8]uint8{90, 90, 12, 12, 38, 38, 64, 64}
	tchh1MeasRepFN104ByTS = [8]uint8{103, 103, 25, 25, 51, 51, 77, 77}
)

// Measurement reporting periods for SDCCH/8 and SDCCH/4 (TS 45.008
// sec 8.4.2), indexed by subslot. Each value is the FN mod 102 of the
// last block of the period, as seen by the receiver.
var (
	// SDCCH/8 period 12 to 11
	sdcch8MeasRepFN102BySS = [8]uint8{
		66, // 15(SDCCH), 47(SACCH), 66(SDCCH)
		70, // 19(SDCCH), 51(SACCH), 70(SDCCH)
		74, // 23(SDCCH), 55(SACCH), 74(SDCCH)
		78, // 27(SDCCH), 59(SACCH), 78(SDCCH)
		98, // 31(SDCCH), 98(SACCH), 82(SDCCH)
		0,  // 35(SDCCH),  0(SACCH), 86(SDCCH)
		4,  // 39(SDCCH),  4(SACCH), 90(SDCCH)
		8,  // 43(SDCCH),  8(SACCH), 94(SDCCH)
	}
	// SDCCH/4 period 37 to 36
	sdcch4MeasRepFN102BySS = [4]uint8{
		88, // 37(SDCCH), 57(SACCH), 88(SDCCH)
		92, // 41(SDCCH), 61(SACCH), 92(SDCCH)
		6,  //  6(SACCH), 47(SDCCH), 98(SDCCH)
		10, // 10(SACCH),  0(SDCCH), 51(SDCCH)
	}
)

// TCH/H blocks that must be sent while DTX is active (TS 45.008 sec 8.3)
var tchhSubFN104 = [protocol.GSM_TCH_MEAS_PERIOD]bool{
	0:  true, // sub0 block { 0,  2,  4,  6}
	52: true, // sub0 block {52, 54, 56, 58}
	14: true, // sub1 block {14, 16, 18, 20}
	66: true, // sub1 block {66, 68, 70, 72}
}

// tchfSubFN104 is the only complete TCH/F block in the SUB set. The
// blocks either side of it carry half a SID frame.
const tchfSubFN104 = 52

// translateTCHMeasRepFN104 maps the FN mod 104 at which a SACCH block is
// received back onto the end of the period it reports on. The SACCH
// arrives one block late, so the period has already ended.
func translateTCHMeasRepFN104(fnMod uint32) (uint8, bool) {
	switch fnMod {
	case 25:
		return 103, true
	case 38:
		return 12, true
	case 51:
		return 25, true
	case 64:
		return 38, true
	case 77:
		return 51, true
	case 90:
		return 64, true
	case 103:
		return 77, true
	case 12:
		return 90, true
	}
	return 0, false
}

// Modulus returns the measurement period length in TDMA frames
func Modulus(k Kind) uint32 {
	switch k {
	case KindTCHF, KindTCHH:
		return protocol.GSM_TCH_MEAS_PERIOD
	case KindSDCCH8, KindSDCCH4:
		return protocol.GSM_DCH_MEAS_PERIOD
	}
	panic(fmt.Sprintf("measurement: unknown channel kind %d", uint8(k)))
}

// completionValue returns the table entry the channel's period ends on
func completionValue(cfg ChannelConfig) uint8 {
	switch cfg.Kind {
	case KindTCHF:
		return tchfMeasRepFN104ByTS[cfg.Timeslot]
	case KindTCHH:
		if cfg.Subslot == 0 {
			return tchh0MeasRepFN104ByTS[cfg.Timeslot]
		}
		return tchh1MeasRepFN104ByTS[cfg.Timeslot]
	case KindSDCCH8:
		return sdcch8MeasRepFN102BySS[cfg.Subslot]
	case KindSDCCH4:
		return sdcch4MeasRepFN102BySS[cfg.Subslot]
	}
	panic(fmt.Sprintf("measurement: unknown channel kind %d", uint8(cfg.Kind)))
}

// IsIntervalComplete reports whether a measurement period of the channel
// ends at the given frame number
func IsIntervalComplete(cfg ChannelConfig, fn uint32) bool {
	want := completionValue(cfg)
	fnMod := fn % Modulus(cfg.Kind)

	if cfg.Kind.IsTraffic() {
		got, ok := translateTCHMeasRepFN104(fnMod)
		return ok && got == want
	}
	return uint32(want) == fnMod
}

// ReportFrame returns the FN mod Modulus at which IsIntervalComplete
// fires for the channel
func ReportFrame(cfg ChannelConfig) uint32 {
	mod := Modulus(cfg.Kind)
	for fn := uint32(0); fn < mod; fn++ {
		if IsIntervalComplete(cfg, fn) {
			return fn
		}
	}
	panic(fmt.Sprintf("measurement: no report frame for %s", cfg))
}

// IsAlwaysTransmitted reports whether a block received at fn belongs to
// the SUB set, i.e. must be sent by the MS even while DTX is active
// (TS 45.008 sec 8.3 and 8.4). AMR is never classified here: SID frames
// are scheduled dynamically and must be tagged by the radio layer.
func IsAlwaysTransmitted(cfg ChannelConfig, fn uint32) bool {
	sub, _ := subsetMembership(cfg, fn)
	return sub
}

// subsetMembership is IsAlwaysTransmitted plus a flag that is false when
// the channel mode has no SUB rules and the channel is not a data service
func subsetMembership(cfg ChannelConfig, fn uint32) (sub bool, supported bool) {
	fn104 := fn % protocol.GSM_TCH_MEAS_PERIOD

	if cfg.IsAMR() {
		return false, true
	}

	switch cfg.Kind {
	case KindTCHF:
		switch cfg.Mode {
		case ModeSpeechV1, ModeSpeechEFR:
			return fn104 == tchfSubFN104, true
		case ModeSignalling:
			// no DTX allowed, SUB equals FULL
			return true, true
		}
	case KindTCHH:
		switch cfg.Mode {
		case ModeSpeechV1:
			return tchhSubFN104[fn104], true
		case ModeSignalling:
			return true, true
		}
	case KindSDCCH8, KindSDCCH4:
		return true, true
	default:
		panic(fmt.Sprintf("measurement: unknown channel kind %d", uint8(cfg.Kind)))
	}

	// TODO: data modes on TCH only count L2 fill frames received as FACCH
	// at the SUB positions; needs the block type from the radio layer.
	return false, cfg.DataService
}

// ExpectedSamples returns the number of samples per measurement period
func ExpectedSamples(cfg ChannelConfig) int {
	switch cfg.Kind {
	case KindTCHF:
		// 24 TCH blocks + 1 SACCH
		return 25
	case KindTCHH:
		if cfg.Mode == ModeSignalling {
			// 12 TCH blocks + 1 SACCH
			return 13
		}
		return 25
	case KindSDCCH8, KindSDCCH4:
		// 2 SDCCH blocks + 1 SACCH
		return 3
	}
	panic(fmt.Sprintf("measurement: unknown channel kind %d", uint8(cfg.Kind)))
}

// ExpectedSubSamples returns the number of SUB samples per measurement
// period. For AMR this is a lower bound: the SACCH always counts, the
// number of SID frames depends on the DTX pattern.
func ExpectedSubSamples(cfg ChannelConfig) int {
	if cfg.IsAMR() {
		return 1
	}

	switch cfg.Kind {
	case KindTCHF:
		if cfg.Mode == ModeSignalling {
			// every block is SUB in signalling mode
			return 25
		}
		// 1 SACCH + 1 TCH
		return 2
	case KindTCHH:
		if cfg.Mode == ModeSignalling {
			return 13
		}
		// 1 SACCH + 2 TCH
		return 3
	case KindSDCCH8, KindSDCCH4:
		// no DTX, all blocks must be present
		return 3
	}
	panic(fmt.Sprintf("measurement: unknown channel kind %d", uint8(cfg.Kind)))
}
