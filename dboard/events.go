package dboard

import "time"

// TuneEvent records one write against a tunable parameter, including the
// stubbed ones, so telemetry can show what the control plane actually did
// with each request.
type TuneEvent struct {
	Time      time.Time `json:"time"`
	Slot      string    `json:"slot"`
	Direction string    `json:"direction"`
	Channel   int       `json:"channel"`
	Param     string    `json:"param"`
	Requested float64   `json:"requested"`
	Realized  float64   `json:"realized"`
	Stubbed   bool      `json:"stubbed"`
}

// EventSink receives tune events. Implementations must not block for
// long; publishing happens on the tuning caller's goroutine.
type EventSink interface {
	Publish(ev TuneEvent)
}

func (f *Frontend) emit(dir Direction, ch int, param string, requested, realized float64, stubbed bool) {
	if f.events == nil {
		return
	}
	f.events.Publish(TuneEvent{
		Time:      time.Now(),
		Slot:      f.slot,
		Direction: dir.String(),
		Channel:   ch,
		Param:     param,
		Requested: requested,
		Realized:  realized,
		Stubbed:   stubbed,
	})
}
