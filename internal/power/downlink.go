package power

import (
	"errors"
	"fmt"

	"github.com/dbehnke/gsmmeas/internal/logging"
	"github.com/dbehnke/gsmmeas/internal/protocol"
	"github.com/dbehnke/gsmmeas/internal/protocol/sacch"
)

// ErrInvalidParams is returned by Params.Validate
var ErrInvalidParams = errors.New("power: invalid parameters")

// Filter selects the pre-processing applied to the reported level
type Filter uint8

const (
	FilterNone Filter = iota
	FilterEWMA
)

func (f Filter) String() string {
	switch f {
	case FilterNone:
		return "none"
	case FilterEWMA:
		return "ewma"
	default:
		return fmt.Sprintf("Filter(%d)", uint8(f))
	}
}

// ParseFilter accepts the names printed by Filter.String
func ParseFilter(s string) (Filter, error) {
	switch s {
	case "", "none":
		return FilterNone, nil
	case "ewma":
		return FilterEWMA, nil
	}
	return FilterNone, fmt.Errorf("%w: unknown filter %q", ErrInvalidParams, s)
}

// Params configures the downlink power loop. They may be replaced between
// measurement periods.
type Params struct {
	TargetDBm    int // wanted RXLEV at the MS
	HysteresisDB int // deviations within +/- this band are ignored
	// RaiseStepMaxDB limits how much attenuation is added per period,
	// LowerStepMaxDB how much is removed
	RaiseStepMaxDB int
	LowerStepMaxDB int
	Filter         Filter
	// EWMAAlpha is the weight of the newest sample in percent (1..99)
	EWMAAlpha int
}

// DefaultParams returns the parameters used when nothing is configured
func DefaultParams() Params {
	return Params{
		TargetDBm:      -75,
		HysteresisDB:   3,
		RaiseStepMaxDB: 4,
		LowerStepMaxDB: 8,
		Filter:         FilterNone,
		EWMAAlpha:      50,
	}
}

// Validate checks the parameter ranges
func (p Params) Validate() error {
	if p.TargetDBm < -protocol.RXLEV_DBM_OFFSET || p.TargetDBm > protocol.RXLEV_MAX-protocol.RXLEV_DBM_OFFSET {
		return fmt.Errorf("%w: target %d dBm outside the RXLEV range", ErrInvalidParams, p.TargetDBm)
	}
	if p.HysteresisDB < 0 {
		return fmt.Errorf("%w: negative hysteresis", ErrInvalidParams)
	}
	if p.RaiseStepMaxDB < 0 || p.LowerStepMaxDB < 0 {
		return fmt.Errorf("%w: negative step size", ErrInvalidParams)
	}
	if p.Filter == FilterEWMA && (p.EWMAAlpha < 1 || p.EWMAAlpha > 99) {
		return fmt.Errorf("%w: EWMA alpha %d not in 1..99", ErrInvalidParams, p.EWMAAlpha)
	}
	return nil
}

// State is the attenuation state of one channel
type State struct {
	Current int // current attenuation in dB
	Max     int // maximum attenuation in dB
	Fixed   bool
}

// Downlink is the BS power control loop of one channel. It adjusts the
// transmit attenuation from the RXLEV/RXQUAL the MS reports on the
// uplink SACCH.
type Downlink struct {
	params Params
	state  State
	ewma   ewmaFilter
	log    logging.Logger
}

// NewDownlink creates a loop starting from the given state
func NewDownlink(params Params, state State, log logging.Logger) *Downlink {
	if log == nil {
		log = logging.Noop()
	}
	return &Downlink{params: params, state: state, log: log}
}

// SetParams replaces the loop parameters. The filter history is kept so
// that a changed target does not restart smoothing.
func (d *Downlink) SetParams(p Params) {
	if p.Filter != FilterEWMA {
		d.ewma.reset()
	}
	d.params = p
}

// Params returns the active parameters
func (d *Downlink) Params() Params { return d.params }

// SetState replaces the attenuation state and clears the filter history
func (d *Downlink) SetState(s State) {
	d.state = s
	d.ewma.reset()
}

// State returns the attenuation state
func (d *Downlink) State() State { return d.state }

// Current returns the current attenuation in dB
func (d *Downlink) Current() int { return d.state.Current }

// Apply runs one iteration of the loop. dtxActive selects the SUB values
// when DTX was applied on the downlink during the reported period. It
// returns true if the attenuation changed.
func (d *Downlink) Apply(meas sacch.MeasResults, dtxActive bool) bool {
	if d.state.Fixed {
		return false
	}
	// invalid reports carry no usable values
	if !meas.Valid {
		return false
	}

	rxlev, rxqual := meas.RxLevFull, meas.RxQualFull
	if dtxActive {
		rxlev, rxqual = meas.RxLevSub, meas.RxQualSub
	}

	old := d.state.Current

	// bit errors at the MS override the level loop: halve attenuation
	if rxqual > 0 {
		d.state.Current /= 2
		d.log.Debug("BS power: RXQUAL above 0, halving attenuation",
			logging.Int("rxqual", int(rxqual)),
			logging.Int("old_db", old),
			logging.Int("new_db", d.state.Current))
		return d.state.Current != old
	}

	// filter on the non-negative RXLEV scale so that truncation is floor
	if d.params.Filter == FilterEWMA {
		rxlev = uint8(d.ewma.apply(d.params.EWMAAlpha, int(rxlev)))
	}
	level := protocol.RxLevToDBM(rxlev)

	delta := level - d.params.TargetDBm
	switch {
	case abs(delta) <= d.params.HysteresisDB:
		// within the band, keep the current attenuation
	case delta > 0:
		d.state.Current += min(delta, d.params.RaiseStepMaxDB)
	default:
		d.state.Current -= min(-delta, d.params.LowerStepMaxDB)
	}

	if d.state.Current > d.state.Max {
		d.state.Current = d.state.Max
	}
	if d.state.Current < 0 {
		d.state.Current = 0
	}

	d.log.Debug("BS power: level based step",
		logging.Int("rxlev", int(rxlev)),
		logging.Int("level_dbm", level),
		logging.Int("target_dbm", d.params.TargetDBm),
		logging.Int("delta_db", delta),
		logging.Int("old_db", old),
		logging.Int("new_db", d.state.Current))

	return d.state.Current != old
}

// ewmaFilter is an exponentially weighted moving average in fixed point
// with two decimal digits
type ewmaFilter struct {
	avg100 int
	init   bool
}

// apply adds value with weight alpha percent and returns the new average
func (f *ewmaFilter) apply(alpha, value int) int {
	if !f.init {
		f.avg100 = value * 100
		f.init = true
		return value
	}

	f.avg100 += alpha * (value - f.avg100/100)
	return f.avg100 / 100
}

func (f *ewmaFilter) reset() {
	*f = ewmaFilter{}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
