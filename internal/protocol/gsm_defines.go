package protocol

// GSM Um/RSL protocol constants used by the measurement core

const (
	// Block sizes
	GSM_MACBLOCK_LEN      = 23 // L2 block on SACCH/SDCCH/FACCH
	GSM_SACCH_L1_HDR_LEN  = 2  // MS power + TA prepended to every UL SACCH block
	GSM_LAPDM_HDR_LEN     = 3  // Address, control, length indicator
	GSM_SACCH_L3_OFFSET   = GSM_SACCH_L1_HDR_LEN + GSM_LAPDM_HDR_LEN
	GSM48_MEAS_RES_LENGTH = 16 // Measurement Results IE (fixed part)

	// Multiframe periods
	GSM_TCH_MULTIFRAME  = 26
	GSM_CTRL_MULTIFRAME = 51
	GSM_TCH_MEAS_PERIOD = 104 // 4x 26-multiframe
	GSM_DCH_MEAS_PERIOD = 102 // 2x 51-multiframe
	GSM_HYPERFRAME      = 2048 * 26 * 51
	GSM_TDMA_FRAME_US   = 4615 // frame duration, rounded to microseconds

	// LAPDm header of an RR message on SAPI 0
	LAPDM_ADDR_SAPI0_CMD = 0x01 // SAPI=0, C/R=0, EA=1
	LAPDM_CTRL_UI        = 0x03 // U format, UI function

	// Protocol discriminator and RR message types
	GSM48_PDISC_RR           = 0x06
	GSM48_MT_RR_MEAS_REP     = 0x15
	GSM48_MT_RR_EXT_MEAS_REP = 0x36
)

// Measurement placeholders for lost blocks
const (
	MEAS_DUMMY_BER10K  = 10000 // 100.00% BER
	MEAS_DUMMY_INVRSSI = 109   // noise floor in -dBm
)

// RxLev/RxQual value ranges
const (
	RXLEV_MAX        = 63
	RXQUAL_MAX       = 7
	RXLEV_DBM_OFFSET = 110
)

// DBMToRxLev converts a signal level in dBm to the 6-bit RXLEV code
func DBMToRxLev(dbm int) uint8 {
	rxlev := dbm + RXLEV_DBM_OFFSET
	if rxlev > RXLEV_MAX {
		rxlev = RXLEV_MAX
	} else if rxlev < 0 {
		rxlev = 0
	}
	return uint8(rxlev)
}

// RxLevToDBM converts a 6-bit RXLEV code to dBm
func RxLevToDBM(rxlev uint8) int {
	if rxlev > RXLEV_MAX {
		rxlev = RXLEV_MAX
	}
	return int(rxlev) - RXLEV_DBM_OFFSET
}

// BER10kToRxQual maps a BER in steps of 0.01% onto the RXQUAL scale
//
//	RXQUAL_0          BER <  0.2 %
//	RXQUAL_1  0.2 % < BER <  0.4 %
//	RXQUAL_2  0.4 % < BER <  0.8 %
//	RXQUAL_3  0.8 % < BER <  1.6 %
//	RXQUAL_4  1.6 % < BER <  3.2 %
//	RXQUAL_5  3.2 % < BER <  6.4 %
//	RXQUAL_6  6.4 % < BER < 12.8 %
//	RXQUAL_7 12.8 % < BER
func BER10kToRxQual(ber10k uint32) uint8 {
	switch {
	case ber10k < 20:
		return 0
	case ber10k < 40:
		return 1
	case ber10k < 80:
		return 2
	case ber10k < 160:
		return 3
	case ber10k < 320:
		return 4
	case ber10k < 640:
		return 5
	case ber10k < 1280:
		return 6
	}
	return 7
}
