package telemetry

import (
	"github.com/sdrgrid/radioctl/dboard"
	"github.com/sdrgrid/radioctl/internal/logging"
)

// StdoutReporter logs every tune event through the process logger. It
// satisfies dboard.EventSink and is the default sink for the CLI, where
// no hub is running.
type StdoutReporter struct {
	logger logging.Logger
}

// NewStdoutReporter builds a reporter over the provided logger.
func NewStdoutReporter(logger logging.Logger) StdoutReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return StdoutReporter{logger: logger}
}

// Publish implements dboard.EventSink.
func (r StdoutReporter) Publish(ev dboard.TuneEvent) {
	fields := []logging.Field{
		{Key: "subsystem", Value: "telemetry"},
		{Key: "slot", Value: ev.Slot},
		{Key: "direction", Value: ev.Direction},
		{Key: "channel", Value: ev.Channel},
		{Key: "param", Value: ev.Param},
		{Key: "requested", Value: ev.Requested},
		{Key: "realized", Value: ev.Realized},
	}
	if ev.Stubbed {
		fields = append(fields, logging.Field{Key: "stubbed", Value: true})
	}
	r.logger.Info("tune event", fields...)
}

// Fanout forwards each event to every sink in order. Nil entries are
// skipped, so optional sinks can be wired unconditionally.
type Fanout []dboard.EventSink

// Publish implements dboard.EventSink.
func (f Fanout) Publish(ev dboard.TuneEvent) {
	for _, s := range f {
		if s != nil {
			s.Publish(ev)
		}
	}
}
