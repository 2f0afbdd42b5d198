package backhaul

import (
	"context"
	"errors"
	"sync"

	"github.com/dbehnke/gsmmeas/internal/logging"
)

// ErrQueueFull is returned when the queue cannot take another report
var ErrQueueFull = errors.New("backhaul: queue full")

// QueueSink decouples the frame loop from a slow sink. Deliver only
// enqueues, Run forwards to the wrapped sink from its own goroutine.
type QueueSink struct {
	next  Sink
	queue chan *Report
	log   logging.Logger

	mu      sync.Mutex
	dropped uint64
}

// NewQueueSink creates a queue of the given depth in front of next
func NewQueueSink(next Sink, depth int, log logging.Logger) *QueueSink {
	if depth <= 0 {
		depth = 100
	}
	if log == nil {
		log = logging.Noop()
	}
	return &QueueSink{
		next:  next,
		queue: make(chan *Report, depth),
		log:   log,
	}
}

// Deliver enqueues a copy of the report without blocking
func (q *QueueSink) Deliver(r *Report) error {
	cp := *r
	select {
	case q.queue <- &cp:
		return nil
	default:
		q.mu.Lock()
		q.dropped++
		q.mu.Unlock()
		return ErrQueueFull
	}
}

// Dropped returns how many reports were refused
func (q *QueueSink) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Pending returns the number of queued reports
func (q *QueueSink) Pending() int { return len(q.queue) }

// Run forwards queued reports until ctx is cancelled, then drains what
// is left
func (q *QueueSink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			q.drain()
			return
		case r := <-q.queue:
			q.forward(r)
		}
	}
}

func (q *QueueSink) drain() {
	for {
		select {
		case r := <-q.queue:
			q.forward(r)
		default:
			return
		}
	}
}

func (q *QueueSink) forward(r *Report) {
	if err := q.next.Deliver(r); err != nil {
		q.log.Warn("report delivery failed",
			logging.String("chan", r.Channel),
			logging.Int("res_nr", int(r.ResultNr)),
			logging.Err(err))
	}
}
