// Package acch decides when the ACCH needs extra robustness: repeated
// downlink FACCH (TS 44.006 sec 10) and temporary ACCH overpower
// (TS 45.008 sec 8.3.1.1). Both are driven by the RXQUAL the MS reports.
package acch

import (
	"github.com/dbehnke/gsmmeas/internal/logging"
	"github.com/dbehnke/gsmmeas/internal/protocol/sacch"
)

// RepCaps is the repeated ACCH capability signalled by the BSC
type RepCaps struct {
	DLFacchCmd bool // repeat FACCH frames carrying commands
	DLFacchAll bool // repeat all FACCH frames
	// RxQual is the threshold at or above which repetition is enabled,
	// 0 means always on
	RxQual uint8
}

// OverpowerCaps is the temporary ACCH overpower capability
type OverpowerCaps struct {
	OverpowerDB uint8 // 0 means overpower is not allowed
	// RxQual is the threshold at or above which overpower is enabled,
	// 0 means always on
	RxQual uint8
}

// exceeds applies the threshold with a two step hysteresis: at or above
// upper activates, at or below upper-2 deactivates, anything in between
// keeps the previous state
func exceeds(active bool, rxqual, upper uint8) bool {
	var lower uint8
	if upper > 2 {
		lower = upper - 2
	}

	switch {
	case rxqual >= upper:
		return true
	case rxqual <= lower:
		return false
	}
	return active
}

// reportedRxQual selects RXQUAL-SUB when the MS says DTX was used on the
// downlink, RXQUAL-FULL otherwise
func reportedRxQual(meas sacch.MeasResults) uint8 {
	if meas.DTXUsed {
		return meas.RxQualSub
	}
	return meas.RxQualFull
}

func transition(active bool) string {
	if active {
		return "inactive => active"
	}
	return "active => inactive"
}

// Repetition decides whether downlink FACCH repetition is applied
type Repetition struct {
	caps   RepCaps
	active bool
	log    logging.Logger
}

// NewRepetition creates an inactive decider
func NewRepetition(caps RepCaps, log logging.Logger) *Repetition {
	if log == nil {
		log = logging.Noop()
	}
	return &Repetition{caps: caps, log: log}
}

// SetCaps replaces the capabilities. The state is re-evaluated on the
// next Decide.
func (r *Repetition) SetCaps(caps RepCaps) { r.caps = caps }

// Caps returns the configured capabilities
func (r *Repetition) Caps() RepCaps { return r.caps }

// Active reports whether FACCH repetition is applied
func (r *Repetition) Active() bool { return r.active }

// Decide updates the state from the SRR bit of the last UL SACCH L1
// header and the measurement report, which may be nil when the block
// carried none. It returns true if the state changed.
func (r *Repetition) Decide(srr bool, meas *sacch.MeasResults) bool {
	prev := r.active
	r.active = r.decide(srr, meas)

	if r.active == prev {
		return false
	}
	r.log.Debug("DL-FACCH repetition: " + transition(r.active))
	return true
}

func (r *Repetition) decide(srr bool, meas *sacch.MeasResults) bool {
	// capabilities may vanish while repetition is on
	if !r.caps.DLFacchCmd && !r.caps.DLFacchAll {
		return false
	}
	if r.caps.RxQual == 0 {
		return true
	}
	// the MS asked for repeated SACCH, it will benefit from FACCH too
	if srr {
		return true
	}
	if meas == nil || !meas.Valid {
		return r.active
	}
	return exceeds(r.active, reportedRxQual(*meas), r.caps.RxQual)
}

// Overpower decides whether temporary ACCH overpower is applied
type Overpower struct {
	caps   OverpowerCaps
	active bool
	log    logging.Logger
}

// NewOverpower creates the decider. With a zero RxQual threshold
// overpower is on from the start and never re-evaluated.
func NewOverpower(caps OverpowerCaps, log logging.Logger) *Overpower {
	if log == nil {
		log = logging.Noop()
	}
	return &Overpower{
		caps:   caps,
		active: caps.OverpowerDB > 0 && caps.RxQual == 0,
		log:    log,
	}
}

// Caps returns the configured capabilities
func (o *Overpower) Caps() OverpowerCaps { return o.caps }

// Active reports whether overpower is applied
func (o *Overpower) Active() bool { return o.active }

// Decide updates the state from a valid measurement report. It returns
// true if the state changed.
func (o *Overpower) Decide(meas sacch.MeasResults) bool {
	if o.caps.OverpowerDB == 0 {
		return false
	}
	if o.caps.RxQual == 0 {
		return false
	}

	prev := o.active
	o.active = exceeds(o.active, reportedRxQual(meas), o.caps.RxQual)

	if o.active == prev {
		return false
	}
	o.log.Debug("temporary ACCH overpower: "+transition(o.active),
		logging.Int("overpower_db", int(o.caps.OverpowerDB)))
	return true
}
