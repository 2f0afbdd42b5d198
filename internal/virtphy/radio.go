// Package virtphy is a synthetic radio. It produces the uplink
// measurement samples and SACCH blocks a real PHY would deliver for each
// attached channel, so the measurement core and its loops can run without
// hardware.
package virtphy

import (
	"math/rand"

	"github.com/dbehnke/gsmmeas/internal/dispatch"
	"github.com/dbehnke/gsmmeas/internal/logging"
	"github.com/dbehnke/gsmmeas/internal/measurement"
	"github.com/dbehnke/gsmmeas/internal/protocol"
	"github.com/dbehnke/gsmmeas/internal/protocol/sacch"
)

// Config describes the simulated radio conditions
type Config struct {
	ULLevelDBm int // level of the MS at the BTS
	// DLLevelDBm is the level at the MS with zero BS attenuation
	DLLevelDBm  int
	NoiseDB     int    // uniform level jitter, +/- dB
	BER10k      uint32 // uplink bit error rate of received blocks
	LossPercent int    // share of blocks that are not received at all
	DLDTX       bool   // downlink DTX in use
	Seed        int64
}

// Stats counts what the radio produced
type Stats struct {
	Samples   uint64
	Lost      uint64
	SACCH     uint64
	Intervals uint64
}

// IntervalFunc is called for every completed measurement period
type IntervalFunc func(ch *dispatch.Channel, res measurement.Result)

// Radio drives a set of channels frame by frame. It is not safe for
// concurrent use.
type Radio struct {
	cfg   Config
	rng   *rand.Rand
	disp  *dispatch.Dispatcher
	chans []*dispatch.Channel
	log   logging.Logger

	onInterval IntervalFunc
	stats      Stats
}

// New creates a radio feeding disp
func New(cfg Config, disp *dispatch.Dispatcher, log logging.Logger) *Radio {
	if log == nil {
		log = logging.Noop()
	}
	return &Radio{
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(cfg.Seed)),
		disp: disp,
		log:  log.With(logging.String("component", "virtphy")),
	}
}

// Attach adds a channel to the radio
func (r *Radio) Attach(ch *dispatch.Channel) {
	r.chans = append(r.chans, ch)
	r.log.Info("channel attached", logging.String("chan", ch.Meas.Name()))
}

// Channels returns the attached channels
func (r *Radio) Channels() []*dispatch.Channel { return r.chans }

// OnInterval registers a callback for completed periods
func (r *Radio) OnInterval(fn IntervalFunc) { r.onInterval = fn }

// Stats returns the counters
func (r *Radio) Stats() Stats { return r.stats }

// Tick advances all channels to frame fn
func (r *Radio) Tick(fn uint32) {
	fn %= protocol.GSM_HYPERFRAME
	for _, ch := range r.chans {
		r.tick(ch, fn)
	}
}

func (r *Radio) tick(ch *dispatch.Channel, fn uint32) {
	cfg := ch.Meas.Config()

	if isBlockStart(cfg, fn) {
		if r.lost() {
			r.stats.Lost++
		} else {
			s := r.sample()
			// AMR SID frames are tagged by the PHY
			if cfg.IsAMR() && fn%protocol.GSM_TCH_MEAS_PERIOD == 52 {
				s.IsSub = true
			}
			_ = ch.Meas.RecordSample(s, fn)
			r.stats.Samples++
		}
		return
	}

	if !isSACCHFrame(cfg, fn) {
		return
	}

	// The SACCH block is always sent, so it always counts towards SUB
	s := r.sample()
	s.IsSub = true
	res, ok := ch.Meas.ProcessMeasurement(s, fn)
	r.stats.Samples++
	r.stats.SACCH++
	if ok {
		r.stats.Intervals++
		if r.onInterval != nil {
			r.onInterval(ch, res)
		}
	}

	ch.Meas.SetDLDTXActive(r.cfg.DLDTX)
	ch.Meas.SetTimingOffsets(63+int(s.TOA256)/256, -1)
	r.disp.HandleControlBlock(ch, r.sacchBlock(ch), fn)
}

func (r *Radio) lost() bool {
	return r.cfg.LossPercent > 0 && r.rng.Intn(100) < r.cfg.LossPercent
}

func (r *Radio) jitter() int {
	if r.cfg.NoiseDB <= 0 {
		return 0
	}
	return r.rng.Intn(2*r.cfg.NoiseDB+1) - r.cfg.NoiseDB
}

func (r *Radio) sample() measurement.UplinkSample {
	level := r.cfg.ULLevelDBm + r.jitter()
	inv := -level
	if inv < 0 {
		inv = 0
	} else if inv > 255 {
		inv = 255
	}

	return measurement.UplinkSample{
		BER10k:  r.cfg.BER10k,
		InvRSSI: uint8(inv),
		CIcB:    int16((level + protocol.RXLEV_DBM_OFFSET) * 10),
		TOA256:  int16(r.rng.Intn(65) - 32),
	}
}

// sacchBlock is the block the MS sends: the power and TA it was told to
// use, and what it measured on the downlink
func (r *Radio) sacchBlock(ch *dispatch.Channel) []byte {
	dl := r.cfg.DLLevelDBm + r.jitter()
	if ch.BSPower != nil {
		dl -= ch.BSPower.Current()
	}
	rxlev := protocol.DBMToRxLev(dl)

	mr := sacch.MeasResults{
		RxLevFull: rxlev,
		RxLevSub:  rxlev,
		DTXUsed:   r.cfg.DLDTX,
		Valid:     true,
	}

	blk := sacch.Block{
		L1: sacch.L1Header{
			MSPower: ch.Meas.MSPower(),
			TA:      ch.Meas.TA(),
		},
		L3: sacch.EncodeMeasReport(mr),
	}
	return blk.Build()
}
