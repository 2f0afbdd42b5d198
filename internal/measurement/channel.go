package measurement

import (
	"math"

	"github.com/dbehnke/gsmmeas/internal/logging"
	"github.com/dbehnke/gsmmeas/internal/protocol/sacch"
)

// LastFNDummy marks a channel that has not received a sample since reset
const LastFNDummy = 0xffffffff

// Recorder receives per-channel measurement events for metrics
type Recorder interface {
	SampleRecorded(channel string, sub bool)
	SampleDropped(channel string)
	IntervalCompleted(channel string, real, substituted int)
	SubMismatch(channel string)
}

type noopRecorder struct{}

func (noopRecorder) SampleRecorded(string, bool)        {}
func (noopRecorder) SampleDropped(string)               {}
func (noopRecorder) IntervalCompleted(string, int, int) {}
func (noopRecorder) SubMismatch(string)                 {}

// Channel is the uplink measurement state of one logical channel. It is
// driven from a single goroutine and is not safe for concurrent use.
type Channel struct {
	cfg  ChannelConfig
	name string
	log  logging.Logger
	rec  Recorder

	active bool
	buf    SampleBuffer
	lastFN uint32

	result      Result
	resultValid bool

	// transient, cleared after every SACCH period
	dlDTXActive bool
	msTOffs     int
	pOffs       int

	l1      sacch.L1Header
	l1Valid bool

	// current MS power level and TA as ordered by the control loops
	msPower uint8
	ta      uint8
}

// NewChannel creates the measurement state for a validated channel
// configuration. A nil logger or recorder disables logging or metrics.
func NewChannel(cfg ChannelConfig, log logging.Logger, rec Recorder) *Channel {
	if log == nil {
		log = logging.Noop()
	}
	if rec == nil {
		rec = noopRecorder{}
	}

	c := &Channel{
		cfg:  cfg,
		name: cfg.String(),
		rec:  rec,
	}
	c.log = log.With(
		logging.String("chan", cfg.Kind.String()),
		logging.Int("ts", int(cfg.Timeslot)),
		logging.Int("ss", int(cfg.Subslot)),
	)
	c.Reset()
	c.active = true
	return c
}

// Config returns the channel configuration
func (c *Channel) Config() ChannelConfig { return c.cfg }

// Name returns a short human readable channel name, also used as metric label
func (c *Channel) Name() string { return c.name }

// Logger returns the channel scoped logger
func (c *Channel) Logger() logging.Logger { return c.log }

// SetActive marks the channel as (in)active. Samples are still accepted on
// an inactive channel, but a notice is logged.
func (c *Channel) SetActive(active bool) { c.active = active }

// Active reports whether the channel is active
func (c *Channel) Active() bool { return c.active }

// RecordSample stores one uplink sample received at fn. If the buffer is
// full the sample is dropped and ErrBufferFull is returned.
func (c *Channel) RecordSample(s UplinkSample, fn uint32) error {
	fnMod := fn % Modulus(c.cfg.Kind)

	if !c.active {
		c.log.Info("measurement on inactive channel",
			logging.Uint32("fn", fn),
			logging.Uint32("fn_mod", fnMod),
			logging.Int("num_ul_meas", c.buf.Len()))
	}

	dest, err := c.buf.Push(s)
	if err != nil {
		c.log.Info("no space for uplink measurement",
			logging.Uint32("fn", fn),
			logging.Uint32("fn_mod", fnMod),
			logging.Int("num_ul_meas", c.buf.Len()))
		c.rec.SampleDropped(c.name)
		return err
	}

	// AMR SID frames are tagged by the radio layer, everything else
	// follows the frame number tables
	if !s.IsSub {
		sub, supported := subsetMembership(c.cfg, fn)
		if !supported {
			c.log.Error("unsupported channel mode for SUB classification",
				logging.String("mode", c.cfg.Mode.String()),
				logging.Uint32("fn", fn))
		}
		dest.IsSub = sub
	}

	c.log.Debug("adding uplink measurement",
		logging.Bool("sub", dest.IsSub),
		logging.Uint32("ber10k", dest.BER10k),
		logging.Int("toa256", int(dest.TOA256)),
		logging.Int("ci_cb", int(dest.CIcB)),
		logging.Int("rssi_dbm", -int(dest.InvRSSI)),
		logging.Int("num_ul_meas", c.buf.Len()),
		logging.Uint32("fn_mod", fnMod))

	c.rec.SampleRecorded(c.name, dest.IsSub)
	c.lastFN = fn
	return nil
}

// ProcessInterval computes the period result if a measurement period ends
// at fn. It returns false without touching any state otherwise. The
// buffer is emptied after every completed period.
func (c *Channel) ProcessInterval(fn uint32) (Result, bool) {
	if !IsIntervalComplete(c.cfg, fn) {
		return Result{}, false
	}

	expected := ExpectedSamples(c.cfg)
	c.log.Debug("calculating measurement results",
		logging.Uint32("fn", fn),
		logging.Int("received", c.buf.Len()),
		logging.Int("expected", expected))

	res := aggregate(c.cfg, &c.buf, c.result)

	if res.NumExcess > 0 {
		c.log.Debug("skipping excess uplink measurements", logging.Int("excess", res.NumExcess))
	}
	c.log.Debug("replaced missing measurements with dummy values",
		logging.Int("substituted", res.NumSubst),
		logging.Int("sub_substituted", res.NumSubSubst),
		logging.Int("sub_received", res.NumSubReal))

	if res.SubMismatched {
		c.log.Error("incorrect number of SUB measurements detected",
			logging.Int("sub", res.NumSub),
			logging.Int("expected", res.ExpectedSub),
			logging.Bool("amr", c.cfg.IsAMR()))
		c.rec.SubMismatch(c.name)
	}

	c.log.Debug("uplink measurement result",
		logging.Int("toa256", res.TOA256),
		logging.Uint32("ber_full", res.BERFull10k),
		logging.Uint32("ber_sub", res.BERSub10k),
		logging.Int("rxlev_full", int(res.Full.RxLev)),
		logging.Int("rxlev_sub", int(res.Sub.RxLev)),
		logging.Int("rxqual_full", int(res.Full.RxQual)),
		logging.Int("rxqual_sub", int(res.Sub.RxQual)),
		logging.Int("ci_full_cb", res.CIFullcB),
		logging.Int("ci_sub_cb", res.CISubcB))

	c.result = res
	c.resultValid = true
	c.buf.Clear()
	c.rec.IntervalCompleted(c.name, res.NumReal, res.NumSubst)

	return res, true
}

// ProcessMeasurement records a sample and checks for the end of the
// period in one step, the way the radio layer delivers them. A dropped
// sample does not prevent the period from completing.
func (c *Channel) ProcessMeasurement(s UplinkSample, fn uint32) (Result, bool) {
	// a dropped sample is already logged and counted
	_ = c.RecordSample(s, fn)
	return c.ProcessInterval(fn)
}

// Result returns the last period result and whether one was computed
// since the last reset
func (c *Channel) Result() (Result, bool) {
	return c.result, c.resultValid
}

// NumSamples returns the number of samples buffered for the running period
func (c *Channel) NumSamples() int { return c.buf.Len() }

// LastFN returns the frame number of the last recorded sample
func (c *Channel) LastFN() uint32 { return c.lastFN }

// Reset returns all measurement state to its initial values. It is called
// whenever the channel is (re)activated.
func (c *Channel) Reset() {
	c.buf.Clear()
	c.result = Result{}
	c.resultValid = false
	c.lastFN = LastFNDummy
	c.l1 = sacch.L1Header{}
	c.l1Valid = false
	c.ClearTransient()
}

// ClearTransient resets the flags that only live for one SACCH period
func (c *Channel) ClearTransient() {
	c.dlDTXActive = false
	c.result.Ext.Valid = false
	c.msTOffs = -1
	c.pOffs = -1
}

// SetDLDTXActive records that downlink DTX was applied in this period
func (c *Channel) SetDLDTXActive(active bool) { c.dlDTXActive = active }

// DLDTXActive reports whether downlink DTX was applied in this period
func (c *Channel) DLDTXActive() bool { return c.dlDTXActive }

// SetTimingOffsets caches the MS timing offset and the burst phase offset
// reported by the radio layer. Negative values mean unknown.
func (c *Channel) SetTimingOffsets(msTOffs, pOffs int) {
	c.msTOffs = msTOffs
	c.pOffs = pOffs
}

// MSTimingOffset returns the MS timing offset for the given TA as carried
// in the 8 bit RSL IE, or false when neither offset is known
func (c *Channel) MSTimingOffset(ta uint8) (uint8, bool) {
	switch {
	case c.msTOffs >= 0:
		return clampUint8(c.msTOffs), true
	case c.pOffs >= 0:
		return clampUint8(c.pOffs - int(ta)), true
	}
	return 0, false
}

func clampUint8(v int) uint8 {
	return uint8(min(max(v, 0), math.MaxUint8))
}

// SetL1Info caches the L1 header of the last UL SACCH block
func (c *Channel) SetL1Info(h sacch.L1Header) {
	c.l1 = h
	c.l1Valid = true
}

// InvalidateL1Info marks the cached L1 header as stale
func (c *Channel) InvalidateL1Info() { c.l1Valid = false }

// L1Info returns the cached L1 header and whether it is valid
func (c *Channel) L1Info() (sacch.L1Header, bool) { return c.l1, c.l1Valid }

// SetMSPower sets the MS power level currently ordered on the downlink
func (c *Channel) SetMSPower(level uint8) { c.msPower = level }

// MSPower returns the MS power level currently ordered on the downlink
func (c *Channel) MSPower() uint8 { return c.msPower }

// SetTA sets the timing advance currently ordered on the downlink
func (c *Channel) SetTA(ta uint8) { c.ta = ta }

// TA returns the timing advance currently ordered on the downlink
func (c *Channel) TA() uint8 { return c.ta }
