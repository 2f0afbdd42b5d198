// Package dispatch runs once per received uplink SACCH block: it forwards
// the measurement result of the previous period to the backhaul and feeds
// the closed loops with the figures of that same period.
package dispatch

import (
	"github.com/dbehnke/gsmmeas/internal/acch"
	"github.com/dbehnke/gsmmeas/internal/backhaul"
	"github.com/dbehnke/gsmmeas/internal/logging"
	"github.com/dbehnke/gsmmeas/internal/measurement"
	"github.com/dbehnke/gsmmeas/internal/observability"
	"github.com/dbehnke/gsmmeas/internal/power"
	"github.com/dbehnke/gsmmeas/internal/protocol"
	"github.com/dbehnke/gsmmeas/internal/protocol/sacch"
)

// Reporter sends measurement results towards the BSC
type Reporter interface {
	SendMeasResult(r *backhaul.Report) error
}

// MSPowerLoop is the uplink (MS) power control loop
type MSPowerLoop interface {
	Update(ch *measurement.Channel, msPwr uint8, rssiDBm int, ciCB int)
}

// TALoop is the timing advance control loop
type TALoop interface {
	Update(ch *measurement.Channel, msTA uint8, toa256 int)
}

// Channel bundles the per-lchan state the dispatcher works on
type Channel struct {
	Meas       *measurement.Channel
	BSPower    *power.Downlink
	Repetition *acch.Repetition
	Overpower  *acch.Overpower

	resNr uint8
}

// NewChannel groups the components of one lchan
func NewChannel(meas *measurement.Channel, bs *power.Downlink, rep *acch.Repetition, op *acch.Overpower) *Channel {
	return &Channel{
		Meas:       meas,
		BSPower:    bs,
		Repetition: rep,
		Overpower:  op,
	}
}

// ResultNr returns the number of the next measurement result
func (c *Channel) ResultNr() uint8 { return c.resNr }

// Reset restarts the result numbering, used on channel activation
func (c *Channel) Reset() {
	c.resNr = 0
	c.Meas.Reset()
}

// Dispatcher handles uplink SACCH blocks
type Dispatcher struct {
	reporter Reporter
	msPower  MSPowerLoop
	ta       TALoop
	metrics  *observability.MeasCollector
	log      logging.Logger
}

// New creates a dispatcher. metrics may be nil.
func New(reporter Reporter, msPower MSPowerLoop, ta TALoop, metrics *observability.MeasCollector, log logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.Noop()
	}
	return &Dispatcher{
		reporter: reporter,
		msPower:  msPower,
		ta:       ta,
		metrics:  metrics,
		log:      log,
	}
}

// HandleControlBlock processes the SACCH block received at fn. payload is
// the 23 octet block, or anything else when the block was not decodable.
func (d *Dispatcher) HandleControlBlock(ch *Channel, payload []byte, fn uint32) {
	meas := ch.Meas
	log := meas.Logger()

	var (
		l3    []byte
		msPwr uint8
		msTA  uint8
	)

	if len(payload) == protocol.GSM_MACBLOCK_LEN {
		var blk sacch.Block
		if err := blk.Parse(payload); err == nil {
			meas.SetL1Info(blk.L1)
			l3 = blk.L3
		}
		l1, _ := meas.L1Info()
		msPwr = l1.MSPower
		msTA = l1.TA
	} else {
		meas.InvalidateL1Info()
		msPwr = meas.MSPower()
		msTA = meas.TA()
	}

	res, _ := meas.Result()

	report := d.buildReport(ch, res, l3, msTA)
	err := d.reporter.SendMeasResult(report)
	d.metrics.ReportSent(meas.Name(), err)
	if err == nil {
		ch.resNr++
	} else {
		log.Debug("measurement result not sent", logging.Uint32("fn", fn), logging.Err(err))
	}

	// The L1 header reports MS power and TA of the last burst of the
	// previous period, the same period the stored result covers.
	var mr *sacch.MeasResults
	dtxUsed := true
	if l3 != nil {
		if parsed, err := sacch.ParseMeasReport(l3); err == nil {
			mr = &parsed
			if parsed.Valid {
				dtxUsed = parsed.DTXUsed
			}
		}
	}

	var rssi, ci int
	if dtxUsed {
		rssi = protocol.RxLevToDBM(res.Sub.RxLev)
		ci = res.CISubcB
	} else {
		rssi = protocol.RxLevToDBM(res.Full.RxLev)
		ci = res.CIFullcB
	}

	if d.ta != nil {
		d.ta.Update(meas, msTA, res.TOA256)
	}
	if d.msPower != nil {
		d.msPower.Update(meas, msPwr, rssi, ci)
	}

	if mr != nil && mr.Valid {
		if ch.BSPower != nil {
			ch.BSPower.Apply(*mr, meas.DLDTXActive())
		}
		if ch.Overpower != nil {
			ch.Overpower.Decide(*mr)
		}
	}

	if ch.Repetition != nil {
		l1, _ := meas.L1Info()
		ch.Repetition.Decide(l1.SRRSRO, mr)
	}

	d.publish(ch, res)

	meas.ClearTransient()
}

func (d *Dispatcher) buildReport(ch *Channel, res measurement.Result, l3 []byte, msTA uint8) *backhaul.Report {
	meas := ch.Meas

	r := &backhaul.Report{
		ResultNr: ch.resNr,
		Channel:  meas.Name(),
		ChanNr:   meas.Config().RSLChanNr(),
		ULFull:   res.Full,
		ULSub:    res.Sub,
	}
	if ch.BSPower != nil {
		r.BSPowerDB = ch.BSPower.Current()
	}
	if l1, ok := meas.L1Info(); ok {
		r.L1 = &l1
	}
	if l3 != nil {
		r.L3 = append([]byte(nil), l3...)
	}
	if offs, ok := meas.MSTimingOffset(msTA); ok {
		r.MSTimingOffset = &offs
	}
	if res.Ext.Valid {
		ext := res.Ext
		r.Ext = &ext
	}
	return r
}

func (d *Dispatcher) publish(ch *Channel, res measurement.Result) {
	if d.metrics == nil {
		return
	}
	name := ch.Meas.Name()
	d.metrics.SetUplinkLevels(name, res.Full.RxLev, res.Full.RxQual, res.Sub.RxLev, res.Sub.RxQual)

	var att int
	if ch.BSPower != nil {
		att = ch.BSPower.Current()
	}
	var rep, op bool
	if ch.Repetition != nil {
		rep = ch.Repetition.Active()
	}
	if ch.Overpower != nil {
		op = ch.Overpower.Active()
	}
	d.metrics.SetDownlinkState(name, att, rep, op)
}
