package virtphy

import (
	"fmt"

	"github.com/dbehnke/gsmmeas/internal/measurement"
	"github.com/dbehnke/gsmmeas/internal/protocol"
)

// First frame of every TCH block within the 26-multiframe (TS 45.002
// clause 7 table 1). TCH/F and TCH/H sub-channel 0 share the even
// positions, sub-channel 1 is shifted by one frame.
var (
	tchBlocksSub0 = [...]uint32{0, 4, 8, 13, 17, 21}
	tchBlocksSub1 = [...]uint32{1, 5, 9, 14, 18, 22}

	// FACCH/H only starts on every other block
	tchhSignBlocksSub0 = [...]uint32{0, 8, 17}
	tchhSignBlocksSub1 = [...]uint32{1, 9, 18}

	// SDCCH/4 on a combined CCCH timeslot
	sdcch4Blocks = [...]uint32{22, 26, 32, 36}
)

// isBlockStart reports whether a dedicated (non-SACCH) uplink block of
// the channel starts at fn
func isBlockStart(cfg measurement.ChannelConfig, fn uint32) bool {
	switch cfg.Kind {
	case measurement.KindTCHF:
		return contains(tchBlocksSub0[:], fn%protocol.GSM_TCH_MULTIFRAME)
	case measurement.KindTCHH:
		fnMod := fn % protocol.GSM_TCH_MULTIFRAME
		signalling := cfg.Mode == measurement.ModeSignalling
		switch {
		case cfg.Subslot == 0 && signalling:
			return contains(tchhSignBlocksSub0[:], fnMod)
		case cfg.Subslot == 0:
			return contains(tchBlocksSub0[:], fnMod)
		case signalling:
			return contains(tchhSignBlocksSub1[:], fnMod)
		default:
			return contains(tchBlocksSub1[:], fnMod)
		}
	case measurement.KindSDCCH8:
		return fn%protocol.GSM_CTRL_MULTIFRAME == 4*uint32(cfg.Subslot)
	case measurement.KindSDCCH4:
		return fn%protocol.GSM_CTRL_MULTIFRAME == sdcch4Blocks[cfg.Subslot]
	}
	panic(fmt.Sprintf("unknown channel kind %d", uint8(cfg.Kind)))
}

// isSACCHFrame reports whether the SACCH block closing a measurement
// period is received at fn
func isSACCHFrame(cfg measurement.ChannelConfig, fn uint32) bool {
	return measurement.IsIntervalComplete(cfg, fn)
}

func contains(set []uint32, v uint32) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
