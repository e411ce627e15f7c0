// Package metrics bundles the Prometheus collectors for the control
// plane: RPC call counts and latencies on the client side, plus the last
// realized tuning values per channel.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sdrgrid/radioctl/dboard"
	"github.com/sdrgrid/radioctl/hwrpc"
)

// Collector owns the control-plane metrics. It satisfies hwrpc.Observer
// for per-call accounting and consumes dboard.TuneEvent for the tuning
// gauges.
type Collector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	TuneFrequency *prometheus.GaugeVec
	TuneGain      *prometheus.GaugeVec
}

// NewCollector registers the collectors against reg, defaulting to the
// global Prometheus registry when nil. Re-registration returns the
// existing collectors, so repeated construction in one process is safe.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "radioctl_rpc_requests_total",
		Help: "Control-plane RPC calls issued, labeled by procedure and outcome.",
	}, []string{"procedure", "outcome"})
	requests, err := registerCounterVec(reg, requests, "radioctl_rpc_requests_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "radioctl_rpc_request_seconds",
		Help:    "Control-plane RPC round-trip latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"procedure"})
	durations, err = registerHistogramVec(reg, durations, "radioctl_rpc_request_seconds")
	if err != nil {
		return nil, err
	}

	frequency := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "radioctl_tune_frequency_hz",
		Help: "Last realized center frequency per channel.",
	}, []string{"slot", "direction", "channel"})
	frequency, err = registerGaugeVec(reg, frequency, "radioctl_tune_frequency_hz")
	if err != nil {
		return nil, err
	}

	gain := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "radioctl_tune_gain_db",
		Help: "Last realized gain per channel.",
	}, []string{"slot", "direction", "channel"})
	gain, err = registerGaugeVec(reg, gain, "radioctl_tune_gain_db")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:      gatherer,
		RPCRequests:   requests,
		RPCDurations:  durations,
		TuneFrequency: frequency,
		TuneGain:      gain,
	}, nil
}

// ObserveCall records one RPC round trip. Outcomes separate service
// rejections from transport failures so a flaky link and a misbehaving
// caller look different on a dashboard.
func (c *Collector) ObserveCall(procedure string, elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		var remote *hwrpc.RemoteError
		if errors.As(err, &remote) {
			outcome = "rejected"
		} else {
			outcome = "transport"
		}
	}
	if c.RPCRequests != nil {
		c.RPCRequests.WithLabelValues(procedure, outcome).Inc()
	}
	if c.RPCDurations != nil {
		c.RPCDurations.WithLabelValues(procedure).Observe(elapsed.Seconds())
	}
}

// Publish records the realized value of a tune event. Stubbed events are
// skipped; they carry fallback values, not hardware state.
func (c *Collector) Publish(ev dboard.TuneEvent) {
	if c == nil || ev.Stubbed {
		return
	}
	ch := strconv.Itoa(ev.Channel)
	switch ev.Param {
	case "freq":
		if c.TuneFrequency != nil {
			c.TuneFrequency.WithLabelValues(ev.Slot, ev.Direction, ch).Set(ev.Realized)
		}
	case "gain":
		if c.TuneGain != nil {
			c.TuneGain.WithLabelValues(ev.Slot, ev.Direction, ch).Set(ev.Realized)
		}
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
