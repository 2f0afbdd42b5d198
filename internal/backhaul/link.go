package backhaul

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbehnke/gsmmeas/internal/logging"
)

// ErrLinkDown is returned while no backhaul connection is established
var ErrLinkDown = errors.New("backhaul: link down")

// Sink receives reports that passed the link
type Sink interface {
	Deliver(r *Report) error
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(r *Report) error

// Deliver calls f(r)
func (f SinkFunc) Deliver(r *Report) error { return f(r) }

// Link models the signalling link state and fans reports out to sinks
type Link struct {
	mu    sync.RWMutex
	up    bool
	sinks []Sink
	log   logging.Logger

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// NewLink creates a link in the down state
func NewLink(log logging.Logger, sinks ...Sink) *Link {
	if log == nil {
		log = logging.Noop()
	}
	return &Link{
		sinks: sinks,
		log:   log.With(logging.String("component", "backhaul")),
	}
}

// AddSink registers another receiver
func (l *Link) AddSink(s Sink) {
	l.mu.Lock()
	l.sinks = append(l.sinks, s)
	l.mu.Unlock()
}

// LinkUp marks the link as established
func (l *Link) LinkUp() {
	l.mu.Lock()
	changed := !l.up
	l.up = true
	l.mu.Unlock()

	if changed {
		l.log.Info("link up")
	}
}

// LinkDown marks the link as lost. Reports are refused until LinkUp.
func (l *Link) LinkDown() {
	l.mu.Lock()
	changed := l.up
	l.up = false
	l.mu.Unlock()

	if changed {
		l.log.Warn("link down")
	}
}

// IsUp reports the link state
func (l *Link) IsUp() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.up
}

// SendMeasResult hands the report to every sink. It fails with
// ErrLinkDown while the link is down, or with the joined sink errors.
// A sink refusing with ErrQueueFull only loses its copy and does not
// fail the send.
func (l *Link) SendMeasResult(r *Report) error {
	l.mu.RLock()
	up := l.up
	sinks := l.sinks
	l.mu.RUnlock()

	if !up {
		l.failed.Add(1)
		return ErrLinkDown
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}

	var errs []error
	for _, s := range sinks {
		err := s.Deliver(r)
		switch {
		case err == nil:
		case errors.Is(err, ErrQueueFull):
			l.dropped.Add(1)
			l.log.Debug("report dropped by sink",
				logging.String("chan", r.Channel),
				logging.Int("res_nr", int(r.ResultNr)),
				logging.Err(err))
		default:
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		l.failed.Add(1)
		return fmt.Errorf("deliver %s: %w", r.Channel, errors.Join(errs...))
	}

	l.sent.Add(1)
	return nil
}

// Stats returns the number of sent and failed reports
func (l *Link) Stats() (sent, failed uint64) {
	return l.sent.Load(), l.failed.Load()
}

// Dropped returns how many sink copies were lost to full queues
func (l *Link) Dropped() uint64 { return l.dropped.Load() }
