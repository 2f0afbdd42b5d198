package backhaul

import (
	"github.com/dbehnke/gsmmeas/internal/logging"
)

// LogSink writes every report at debug level
type LogSink struct {
	log logging.Logger
}

// NewLogSink creates a sink logging to log
func NewLogSink(log logging.Logger) *LogSink {
	if log == nil {
		log = logging.Noop()
	}
	return &LogSink{log: log}
}

// Deliver logs the report
func (s *LogSink) Deliver(r *Report) error {
	s.log.Debug("MEAS RES", logging.String("report", r.String()))
	return nil
}
