package measurement

import (
	"errors"
)

// MaxSamples is the capacity of a SampleBuffer: one sample per TDMA frame
// of the longest measurement period. It is larger than any expected count
// so that samples delivered ahead of the period end can still be stored
// and skipped as excess.
const MaxSamples = 104

// ErrBufferFull is returned when a sample arrives and the buffer has no room
var ErrBufferFull = errors.New("measurement: sample buffer full")

// UplinkSample is one measurement per received burst block
type UplinkSample struct {
	BER10k  uint32 // bit error rate in 0.01% steps
	InvRSSI uint8  // received level in -dBm
	CIcB    int16  // C/I in centibels
	TOA256  int16  // time of arrival in 1/256 symbol
	// IsSub marks a SUB (always transmitted) block. When the radio layer
	// leaves it unset it is derived from the frame number on insertion.
	IsSub bool
}

// SampleBuffer holds the samples of one measurement period in arrival order
type SampleBuffer struct {
	samples [MaxSamples]UplinkSample
	n       int
}

// Push appends a copy of s. It returns ErrBufferFull and leaves the
// buffer untouched when the buffer is at capacity.
func (b *SampleBuffer) Push(s UplinkSample) (*UplinkSample, error) {
	if b.n >= len(b.samples) {
		return nil, ErrBufferFull
	}

	dest := &b.samples[b.n]
	*dest = s
	b.n++
	return dest, nil
}

// Len returns the number of stored samples
func (b *SampleBuffer) Len() int {
	return b.n
}

// At returns the i-th stored sample
func (b *SampleBuffer) At(i int) UplinkSample {
	if i < 0 || i >= b.n {
		panic("measurement: sample index out of range")
	}
	return b.samples[i]
}

// Window returns the offset of the first sample to use and the number of
// real samples available when at most expected samples are consumed. The
// oldest excess samples are skipped.
func (b *SampleBuffer) Window(expected int) (skip, n int) {
	if b.n > expected {
		return b.n - expected, expected
	}
	return 0, b.n
}

// Clear empties the buffer. Stored samples are not zeroed, they are
// overwritten on the next Push.
func (b *SampleBuffer) Clear() {
	b.n = 0
}
