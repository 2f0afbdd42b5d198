package dispatch

import (
	"github.com/dbehnke/gsmmeas/internal/logging"
	"github.com/dbehnke/gsmmeas/internal/measurement"
)

// FollowLoop is a trivial MS power and TA loop: it adopts whatever the
// MS reports as the channel's current value and never commands changes.
// It stands in where no real uplink loops are attached.
type FollowLoop struct {
	log logging.Logger
}

// NewFollowLoop creates the loop
func NewFollowLoop(log logging.Logger) *FollowLoop {
	if log == nil {
		log = logging.Noop()
	}
	return &FollowLoop{log: log}
}

// Update implements MSPowerLoop
func (f *FollowLoop) Update(ch *measurement.Channel, msPwr uint8, rssiDBm int, ciCB int) {
	ch.SetMSPower(msPwr)
	f.log.Debug("MS power",
		logging.String("chan", ch.Name()),
		logging.Int("ms_pwr", int(msPwr)),
		logging.Int("rssi_dbm", rssiDBm),
		logging.Int("ci_cb", ciCB))
}

// TA returns a TALoop view of the same loop
func (f *FollowLoop) TA() TALoop { return followTA{f} }

type followTA struct{ f *FollowLoop }

func (t followTA) Update(ch *measurement.Channel, msTA uint8, toa256 int) {
	ch.SetTA(msTA)
	t.f.log.Debug("TA",
		logging.String("chan", ch.Name()),
		logging.Int("ta", int(msTA)),
		logging.Int("toa256", toa256))
}
