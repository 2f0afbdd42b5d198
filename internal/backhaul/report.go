// Package backhaul carries measurement results from the BTS core towards
// the BSC side. Encoding for the real Abis link lives elsewhere; here a
// report is handed to one or more sinks while the link is up.
package backhaul

import (
	"fmt"
	"strings"
	"time"

	"github.com/dbehnke/gsmmeas/internal/measurement"
	"github.com/dbehnke/gsmmeas/internal/protocol/sacch"
)

// Report is one MEASurement RESult for an lchan. Optional parts are nil
// when absent.
type Report struct {
	ResultNr uint8
	Channel  string
	ChanNr   uint8

	ULFull measurement.Level
	ULSub  measurement.Level

	BSPowerDB int

	L1             *sacch.L1Header
	L3             []byte
	MSTimingOffset *uint8
	Ext            *measurement.ExtStats

	Timestamp time.Time
}

func (r *Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s res_nr=%d UL full=%d/%d sub=%d/%d BS -%ddB",
		r.Channel, r.ResultNr,
		r.ULFull.RxLev, r.ULFull.RxQual, r.ULSub.RxLev, r.ULSub.RxQual,
		r.BSPowerDB)
	if r.L1 != nil {
		fmt.Fprintf(&sb, " L1(pwr=%d ta=%d)", r.L1.MSPower, r.L1.TA)
	}
	if len(r.L3) > 0 {
		fmt.Fprintf(&sb, " L3=%d bytes", len(r.L3))
	}
	if r.MSTimingOffset != nil {
		fmt.Fprintf(&sb, " ms_to=%d", *r.MSTimingOffset)
	}
	if r.Ext != nil {
		fmt.Fprintf(&sb, " toa256[%d..%d] sd=%d", r.Ext.TOA256Min, r.Ext.TOA256Max, r.Ext.TOA256StdDev)
	}
	return sb.String()
}
