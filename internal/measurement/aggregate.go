package measurement

import (
	"math"

	"github.com/dbehnke/gsmmeas/internal/protocol"
)

// Level is an RXLEV/RXQUAL pair as reported over RSL
type Level struct {
	RxLev  uint8
	RxQual uint8
}

// ExtStats holds the TOA distribution of the real samples of a period
type ExtStats struct {
	TOA256Min    int16
	TOA256Max    int16
	TOA256StdDev uint32
	Valid        bool
}

// Result is the uplink measurement result of one completed period
type Result struct {
	Full Level
	Sub  Level

	BERFull10k  uint32
	BERSub10k   uint32
	InvRSSIFull uint32
	InvRSSISub  uint32

	// TOA256 and the C/I values are averaged over real samples only and
	// carry over from the previous period when there are none
	TOA256   int
	CIFullcB int
	CISubcB  int

	Ext ExtStats

	NumReal       int // received samples used
	NumExcess     int // oldest samples skipped
	NumSubst      int // missing samples replaced by placeholders
	NumSub        int // SUB samples, including substituted ones
	NumSubReal    int // received SUB samples
	NumSubSubst   int
	ExpectedSub   int
	SubMismatched bool
}

// aggregate computes the result of a period from the buffered samples.
// prev supplies the TOA and C/I fallbacks.
func aggregate(cfg ChannelConfig, buf *SampleBuffer, prev Result) Result {
	expected := ExpectedSamples(cfg)
	expectedSub := ExpectedSubSamples(cfg)
	amr := cfg.IsAMR()

	var (
		berFullSum, berSubSum     uint32
		irssiFullSum, irssiSubSum uint32
		ciFullSum, ciSubSum       int32
		toaSum                    int32
		res                       Result
	)

	skip, avail := buf.Window(expected)
	res.NumExcess = skip
	res.ExpectedSub = expectedSub

	// Missing samples count as lost blocks: worst case BER. RSSI, TOA and
	// C/I are only averaged over what was actually received.
	for i := 0; i < expected; i++ {
		var (
			ber   uint32
			isSub bool
		)

		if i < avail {
			m := buf.At(i + skip)
			if m.IsSub {
				irssiSubSum += uint32(m.InvRSSI)
				ciSubSum += int32(m.CIcB)
				res.NumSubReal++
				isSub = true
			}
			irssiFullSum += uint32(m.InvRSSI)
			toaSum += int32(m.TOA256)
			ciFullSum += int32(m.CIcB)
			ber = m.BER10k
			res.NumReal++
		} else {
			ber = protocol.MEAS_DUMMY_BER10K
			// AMR DTX periods are negotiated dynamically, so the number
			// of missing SUB blocks is unknown
			if !amr && res.NumSub < expectedSub {
				res.NumSubSubst++
				isSub = true
			}
			res.NumSubst++
		}

		berFullSum += ber
		if isSub {
			res.NumSub++
			berSubSum += ber
		}
	}

	if amr {
		res.SubMismatched = res.NumSub < expectedSub
	} else {
		res.SubMismatched = res.NumSub != expectedSub
	}

	res.BERFull10k = berFullSum / uint32(expected)

	if res.NumReal == 0 {
		res.InvRSSIFull = protocol.MEAS_DUMMY_INVRSSI
		res.TOA256 = prev.TOA256
		res.CIFullcB = prev.CIFullcB
	} else {
		res.InvRSSIFull = irssiFullSum / uint32(res.NumReal)
		res.TOA256 = int(toaSum / int32(res.NumReal))
		res.CIFullcB = int(ciFullSum / int32(res.NumReal))
	}

	if res.NumSub == 0 {
		res.BERSub10k = protocol.MEAS_DUMMY_BER10K
	} else {
		res.BERSub10k = berSubSum / uint32(res.NumSub)
	}

	if res.NumSubReal == 0 {
		res.InvRSSISub = protocol.MEAS_DUMMY_INVRSSI
		res.CISubcB = prev.CISubcB
	} else {
		res.InvRSSISub = irssiSubSum / uint32(res.NumSubReal)
		res.CISubcB = int(ciSubSum / int32(res.NumSubReal))
	}

	res.Full = Level{
		RxLev:  protocol.DBMToRxLev(-int(res.InvRSSIFull)),
		RxQual: protocol.BER10kToRxQual(res.BERFull10k),
	}
	res.Sub = Level{
		RxLev:  protocol.DBMToRxLev(-int(res.InvRSSISub)),
		RxQual: protocol.BER10kToRxQual(res.BERSub10k),
	}

	res.Ext = extendedStats(buf, skip, avail, res.TOA256)
	return res
}

// extendedStats computes min, max and population standard deviation of
// the TOA over the same window the averages were taken from. Stats are
// left invalid when nothing was received.
func extendedStats(buf *SampleBuffer, skip, n int, mean int) ExtStats {
	if n == 0 {
		return ExtStats{}
	}

	ext := ExtStats{
		TOA256Min: math.MaxInt16,
		TOA256Max: math.MinInt16,
	}

	// |diff| is below 2^17, its square fits easily, the sum may not fit 32 bits
	var sqDiffSum uint64
	for i := 0; i < n; i++ {
		m := buf.At(i + skip)

		diff := int64(m.TOA256) - int64(mean)
		if diff < 0 {
			diff = -diff
		}
		sqDiffSum += uint64(diff * diff)

		if m.TOA256 > ext.TOA256Max {
			ext.TOA256Max = m.TOA256
		}
		if m.TOA256 < ext.TOA256Min {
			ext.TOA256Min = m.TOA256
		}
	}

	ext.TOA256StdDev = uint32(isqrt(sqDiffSum / uint64(n)))
	ext.Valid = true
	return ext
}

// isqrt returns floor(sqrt(x))
func isqrt(x uint64) uint64 {
	if x < 2 {
		return x
	}

	r := uint64(math.Sqrt(float64(x)))
	for r*r > x {
		r--
	}
	for (r+1)*(r+1) <= x {
		r++
	}
	return r
}
