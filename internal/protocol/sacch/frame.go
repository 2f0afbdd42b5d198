package sacch

import (
	"errors"
	"fmt"

	"github.com/dbehnke/gsmmeas/internal/protocol"
)

var (
	// ErrShortBlock is returned when a block is shorter than the layout requires
	ErrShortBlock = errors.New("sacch: short block")
	// ErrNotMeasReport is returned when the L3 message is not a Measurement Report
	ErrNotMeasReport = errors.New("sacch: not a measurement report")
)

// L1Header is the two-octet header the MS prepends to every uplink SACCH block.
// The field order on Um differs from RSL (TS 44.004 sec 7.2 vs TS 48.058 sec 9.3.10).
type L1Header struct {
	MSPower uint8 // MS power level used for the last burst (5 bits)
	FPCEPC  bool  // fast / enhanced power control in use
	SRRSRO  bool  // repeated SACCH requested
	TA      uint8 // timing advance used for the last burst
}

// ParseL1Header decodes the L1 header at the start of an UL SACCH block
func ParseL1Header(data []byte) (L1Header, error) {
	if len(data) < protocol.GSM_SACCH_L1_HDR_LEN {
		return L1Header{}, fmt.Errorf("%w: got %d bytes, need %d", ErrShortBlock, len(data), protocol.GSM_SACCH_L1_HDR_LEN)
	}

	return L1Header{
		MSPower: data[0] & 0x1f,
		FPCEPC:  data[0]&0x20 != 0,
		SRRSRO:  data[0]&0x40 != 0,
		TA:      data[1],
	}, nil
}

// Encode returns the on-air representation of the header
func (h L1Header) Encode() [protocol.GSM_SACCH_L1_HDR_LEN]byte {
	var out [protocol.GSM_SACCH_L1_HDR_LEN]byte
	out[0] = h.MSPower & 0x1f
	if h.FPCEPC {
		out[0] |= 0x20
	}
	if h.SRRSRO {
		out[0] |= 0x40
	}
	out[1] = h.TA
	return out
}

// MeasResults is the fixed part of the Measurement Results IE (TS 44.018 sec 10.5.2.20)
type MeasResults struct {
	RxLevFull  uint8
	RxLevSub   uint8
	RxQualFull uint8
	RxQualSub  uint8
	DTXUsed    bool
	BAUsed     bool
	// Valid reflects MEAS-VALID, which is inverted on the wire (0 means valid)
	Valid bool
}

// IsMeasReport reports whether a full UL SACCH block carries an RR
// (Extended) Measurement Report on SAPI 0 in a UI frame
func IsMeasReport(block []byte) bool {
	if len(block) < protocol.GSM_SACCH_L3_OFFSET+2 {
		return false
	}

	lapdm := block[protocol.GSM_SACCH_L1_HDR_LEN:]
	if lapdm[0] != protocol.LAPDM_ADDR_SAPI0_CMD {
		return false
	}
	if lapdm[1] != protocol.LAPDM_CTRL_UI {
		return false
	}

	l3 := block[protocol.GSM_SACCH_L3_OFFSET:]
	if l3[0]&0x0f != protocol.GSM48_PDISC_RR {
		return false
	}

	switch l3[1] {
	case protocol.GSM48_MT_RR_MEAS_REP, protocol.GSM48_MT_RR_EXT_MEAS_REP:
		return true
	}
	return false
}

// ParseMeasReport decodes the Measurement Results of an L3 RR Measurement
// Report. The Extended Measurement Report is recognised by IsMeasReport but
// carries no results that the power loops consume.
func ParseMeasReport(l3 []byte) (MeasResults, error) {
	if len(l3) < 2 {
		return MeasResults{}, fmt.Errorf("%w: L3 header needs 2 bytes, got %d", ErrShortBlock, len(l3))
	}
	if l3[0]&0x0f != protocol.GSM48_PDISC_RR || l3[1] != protocol.GSM48_MT_RR_MEAS_REP {
		return MeasResults{}, fmt.Errorf("%w: pdisc 0x%02x, type 0x%02x", ErrNotMeasReport, l3[0]&0x0f, l3[1])
	}

	mr := l3[2:]
	if len(mr) < 3 {
		return MeasResults{}, fmt.Errorf("%w: measurement results need 3 bytes, got %d", ErrShortBlock, len(mr))
	}

	return MeasResults{
		RxLevFull:  mr[0] & 0x3f,
		DTXUsed:    mr[0]&0x40 != 0,
		BAUsed:     mr[0]&0x80 != 0,
		RxLevSub:   mr[1] & 0x3f,
		Valid:      mr[1]&0x40 == 0,
		RxQualSub:  (mr[2] >> 1) & 0x07,
		RxQualFull: (mr[2] >> 4) & 0x07,
	}, nil
}

// EncodeMeasReport builds an L3 RR Measurement Report carrying the given
// results and no neighbour cell reports
func EncodeMeasReport(m MeasResults) []byte {
	l3 := make([]byte, 2+protocol.GSM48_MEAS_RES_LENGTH)
	l3[0] = protocol.GSM48_PDISC_RR
	l3[1] = protocol.GSM48_MT_RR_MEAS_REP

	mr := l3[2:]
	mr[0] = m.RxLevFull & 0x3f
	if m.DTXUsed {
		mr[0] |= 0x40
	}
	if m.BAUsed {
		mr[0] |= 0x80
	}
	mr[1] = m.RxLevSub & 0x3f
	if !m.Valid {
		mr[1] |= 0x40
	}
	mr[2] = (m.RxQualSub&0x07)<<1 | (m.RxQualFull&0x07)<<4
	return l3
}

// Block is a decoded UL SACCH block
type Block struct {
	L1 L1Header
	// L3 points at the RR measurement message, nil if the block carries anything else
	L3 []byte
}

// Parse decodes a full 23 octet UL SACCH block
func (b *Block) Parse(data []byte) error {
	if len(data) != protocol.GSM_MACBLOCK_LEN {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrShortBlock, len(data), protocol.GSM_MACBLOCK_LEN)
	}

	hdr, err := ParseL1Header(data)
	if err != nil {
		return err
	}
	b.L1 = hdr
	b.L3 = nil

	if IsMeasReport(data) {
		b.L3 = data[protocol.GSM_SACCH_L3_OFFSET:]
	}
	return nil
}

// Build assembles a 23 octet UL SACCH block. The LAPDm header is only
// written when an L3 message is present; the rest is filled with 0x2b.
func (b *Block) Build() []byte {
	block := make([]byte, protocol.GSM_MACBLOCK_LEN)
	for i := range block {
		block[i] = 0x2b
	}

	hdr := b.L1.Encode()
	copy(block[0:protocol.GSM_SACCH_L1_HDR_LEN], hdr[:])

	if b.L3 != nil {
		lapdm := block[protocol.GSM_SACCH_L1_HDR_LEN:protocol.GSM_SACCH_L3_OFFSET]
		lapdm[0] = protocol.LAPDM_ADDR_SAPI0_CMD
		lapdm[1] = protocol.LAPDM_CTRL_UI
		lapdm[2] = byte(len(b.L3)<<2) | 0x01 // length indicator, EL=1
		copy(block[protocol.GSM_SACCH_L3_OFFSET:], b.L3)
	}
	return block
}
