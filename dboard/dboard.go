// Package dboard is the host-side control plane for one tunable RF
// daughterboard slot. A Frontend translates logical (direction, channel)
// parameter reads and writes into calls against the remote hardware
// service that owns the analog state, and wires the same operations into
// an observable parameter tree for generic host tooling.
//
// Two channels per direction share one local oscillator, so tuning one
// channel silently retunes its twin. The control plane therefore never
// caches frequency state: every read is a fresh remote query, which is
// what keeps the two channels from observably disagreeing with hardware.
package dboard

import "math"

// Fixed hardware characteristics of the reference daughterboard.
const (
	// RadioRate is the fixed sampling/tick rate in samples per second.
	// Requests for any other rate are reported and ignored.
	RadioRate = 125e6

	// MaxChannels is the number of logical channels per direction the
	// addressing scheme supports.
	MaxChannels = 2

	// refChannelCount is the per-direction channel count of the reference
	// topology. Discovered port counts are checked against it at init.
	refChannelCount = 1

	// DefaultFrequency is the power-on center frequency for both
	// directions.
	DefaultFrequency = 2.5e9

	// DefaultGain is the power-on gain for both directions.
	DefaultGain = 0.0

	// DefaultRXAntenna and DefaultTXAntenna are the power-on antenna
	// names. Antenna switching itself is not wired yet; see
	// Frontend.SetAntenna.
	DefaultRXAntenna = "RX2"
	DefaultTXAntenna = "TX/RX"

	// DefaultRXBandwidth is the fixed analog bandwidth reported for
	// receive frontends.
	DefaultRXBandwidth = 40e6

	// stubAntenna is what the stubbed antenna query reports, regardless
	// of direction, channel, or prior requests.
	stubAntenna = "RX1"

	codecName    = "AD9371"
	connectionIQ = "IQ"
)

// Tuning ranges of the reference daughterboard. Advisory metadata: the
// remote service's coercion is authoritative, these are published so host
// tooling can render sensible controls.
var (
	FrequencyRange = Range{Min: 300e6, Max: 6e9, Step: 1}
	RXGainRange    = Range{Min: 0, Max: 30, Step: 0.5}
	TXGainRange    = Range{Min: 0, Max: 41.95, Step: 0.05}

	// AntennaOptions lists the selectable antenna names once switching is
	// wired up.
	AntennaOptions = []string{"TX/RX", "RX2", "CAL", "LOCAL"}
)

// Direction selects the receive or transmit signal path.
type Direction int

const (
	Receive Direction = iota
	Transmit
)

func (d Direction) String() string {
	switch d {
	case Receive:
		return "RX"
	case Transmit:
		return "TX"
	default:
		return "INVALID"
	}
}

func (d Direction) valid() bool {
	return d == Receive || d == Transmit
}

// GainRange returns the advisory gain range for a direction.
func GainRange(dir Direction) Range {
	if dir == Transmit {
		return TXGainRange
	}
	return RXGainRange
}

// Range describes the advisory bounds and quantization step of a tunable
// parameter.
type Range struct {
	Min  float64
	Max  float64
	Step float64
}

// Clamp bounds v into [Min, Max].
func (r Range) Clamp(v float64) float64 {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// Quantize clamps v and rounds it to the nearest step from Min. A
// non-positive step means continuous.
func (r Range) Quantize(v float64) float64 {
	v = r.Clamp(v)
	if r.Step <= 0 {
		return v
	}
	return r.Clamp(r.Min + math.Round((v-r.Min)/r.Step)*r.Step)
}
