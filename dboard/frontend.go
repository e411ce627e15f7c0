package dboard

import (
	"errors"
	"fmt"

	"github.com/sdrgrid/radioctl/internal/logging"
	"github.com/sdrgrid/radioctl/proptree"
)

// Caller is the RPC capability the front end consumes: synchronous calls
// against the remote hardware service, authenticated by whatever session
// the implementation carries. Timeout and retry policy belong to the
// implementation; the front end never retries and never swallows a
// failure.
type Caller interface {
	Request(procedure string, args ...any) (any, error)
	Notify(procedure string, args ...any) error
}

// Config fixes the identity of one daughterboard slot. Everything is an
// explicit construction parameter; nothing is inferred from global
// counters or registration order.
type Config struct {
	// Slot is the daughterboard slot letter, "A" through "D".
	Slot string

	// Bus is the control bus index, 0 or 1. It selects the RPC procedure
	// prefix ("db_0_", "db_1_") and is the slot index the EEPROM
	// procedures are keyed by.
	Bus int

	// LOPairs lists the channel pairs that share one local oscillator
	// within each direction. Defaults to the reference pairing {{0, 1}}.
	LOPairs [][2]int

	// Log receives diagnostics. Default logger when nil.
	Log logging.Logger

	// Events, when set, receives a TuneEvent per parameter write.
	Events EventSink
}

// Frontend is the control state machine for one daughterboard slot. It
// owns no tunable state: every operation is a stateless translation to a
// remote call against the service that owns the hardware, so reads always
// reflect what hardware realized, including retunes caused by the shared
// LO of the paired channel. Instances are not internally locked; callers
// needing concurrent access serialize externally, the hardware state
// itself is serialized by the remote service.
type Frontend struct {
	slot    string
	bus     int
	prefix  string
	loPairs [][2]int

	log    logging.Logger
	events EventSink

	rpc  Caller
	tree *proptree.Tree

	// rxBandwidth holds the per-channel analog bandwidth reported while
	// bandwidth control stays unwired.
	rxBandwidth []float64

	eepromWired bool
}

// New validates cfg and returns a Frontend for the slot. The remote
// session is attached separately, once discovery has produced one.
func New(cfg Config) (*Frontend, error) {
	if len(cfg.Slot) != 1 || cfg.Slot[0] < 'A' || cfg.Slot[0] > 'D' {
		return nil, fmt.Errorf("dboard: slot %q is not a letter A through D", cfg.Slot)
	}
	if cfg.Bus != 0 && cfg.Bus != 1 {
		return nil, fmt.Errorf("dboard: bus index %d is not 0 or 1", cfg.Bus)
	}
	pairs := cfg.LOPairs
	if len(pairs) == 0 {
		pairs = [][2]int{{0, 1}}
	}
	for _, p := range pairs {
		if p[0] == p[1] || p[0] < 0 || p[1] < 0 || p[0] >= MaxChannels || p[1] >= MaxChannels {
			return nil, fmt.Errorf("dboard: LO pair %v is not two distinct channels below %d", p, MaxChannels)
		}
	}
	log := cfg.Log
	if log == nil {
		log = logging.Default()
	}

	f := &Frontend{
		slot:        cfg.Slot,
		bus:         cfg.Bus,
		prefix:      fmt.Sprintf("db_%d_", cfg.Bus),
		loPairs:     pairs,
		log:         logging.Component(log, "dboard").With(logging.Field{Key: "slot", Value: cfg.Slot}),
		events:      cfg.Events,
		rxBandwidth: make([]float64, MaxChannels),
	}
	for ch := range f.rxBandwidth {
		f.rxBandwidth[ch] = DefaultRXBandwidth
	}
	return f, nil
}

// Slot returns the slot letter.
func (f *Frontend) Slot() string { return f.slot }

// Bus returns the control bus index.
func (f *Frontend) Bus() int { return f.bus }

// SharedLOPeer reports which channel shares a local oscillator with ch in
// the given direction, when the configured pairing covers it. Tuning
// either channel of a pair retunes both.
func (f *Frontend) SharedLOPeer(dir Direction, ch int) (int, bool) {
	if !dir.valid() || ch < 0 || ch >= MaxChannels {
		return 0, false
	}
	for _, p := range f.loPairs {
		if p[0] == ch {
			return p[1], true
		}
		if p[1] == ch {
			return p[0], true
		}
	}
	return 0, false
}

// AttachSession binds the remote session exactly once, before any
// RPC-backed operation. When a parameter tree is already registered this
// also wires the slot EEPROM leaf, whose remote round trips need the
// session.
func (f *Frontend) AttachSession(rpc Caller) error {
	if rpc == nil {
		return errors.New("dboard: nil rpc caller")
	}
	if f.rpc != nil {
		return ErrSessionAttached
	}
	f.rpc = rpc
	f.log.Info("remote session attached", logging.Field{Key: "prefix", Value: f.prefix})
	return f.wireEEPROMLeaf()
}

func (f *Frontend) caller() (Caller, error) {
	if f.rpc == nil {
		return nil, ErrNoSession
	}
	return f.rpc, nil
}

// SetFrequency tunes the center frequency of one channel and returns the
// frequency hardware realized, which may differ from the request by LO
// step granularity. The twin channel on the same LO moves with it; its
// next read reports the new value because reads are never served locally.
func (f *Frontend) SetFrequency(dir Direction, ch int, hz float64) (float64, error) {
	which, err := ChannelToken(dir, ch)
	if err != nil {
		return 0, err
	}
	rpc, err := f.caller()
	if err != nil {
		return 0, fmt.Errorf("set %s frequency: %w", which, err)
	}
	v, err := rpc.Request(f.prefix+"set_freq", which, hz, false)
	if err != nil {
		return 0, fmt.Errorf("set %s frequency to %v Hz: %w", which, hz, err)
	}
	realized, err := resultFloat64(v)
	if err != nil {
		return 0, fmt.Errorf("set %s frequency: %w", which, err)
	}
	f.log.Debug("frequency set",
		logging.Field{Key: "which", Value: which},
		logging.Field{Key: "requested_hz", Value: hz},
		logging.Field{Key: "realized_hz", Value: realized})
	f.emit(dir, ch, "freq", hz, realized, false)
	return realized, nil
}

// Frequency queries the current center frequency of one channel straight
// from the remote service.
func (f *Frontend) Frequency(dir Direction, ch int) (float64, error) {
	which, err := ChannelToken(dir, ch)
	if err != nil {
		return 0, err
	}
	rpc, err := f.caller()
	if err != nil {
		return 0, fmt.Errorf("get %s frequency: %w", which, err)
	}
	v, err := rpc.Request(f.prefix+"get_freq", which)
	if err != nil {
		return 0, fmt.Errorf("get %s frequency: %w", which, err)
	}
	hz, err := resultFloat64(v)
	if err != nil {
		return 0, fmt.Errorf("get %s frequency: %w", which, err)
	}
	return hz, nil
}

// SetGain sets one channel's gain and returns the value the remote
// service realized. Gain is per-channel independent; the advisory range
// is published metadata, not enforced here, the remote coercion is
// authoritative.
func (f *Frontend) SetGain(dir Direction, ch int, db float64) (float64, error) {
	which, err := ChannelToken(dir, ch)
	if err != nil {
		return 0, err
	}
	rpc, err := f.caller()
	if err != nil {
		return 0, fmt.Errorf("set %s gain: %w", which, err)
	}
	v, err := rpc.Request(f.prefix+"set_gain", which, db)
	if err != nil {
		return 0, fmt.Errorf("set %s gain to %v dB: %w", which, db, err)
	}
	realized, err := resultFloat64(v)
	if err != nil {
		return 0, fmt.Errorf("set %s gain: %w", which, err)
	}
	f.log.Debug("gain set",
		logging.Field{Key: "which", Value: which},
		logging.Field{Key: "requested_db", Value: db},
		logging.Field{Key: "realized_db", Value: realized})
	f.emit(dir, ch, "gain", db, realized, false)
	return realized, nil
}

// Gain queries one channel's gain from the remote service.
func (f *Frontend) Gain(dir Direction, ch int) (float64, error) {
	which, err := ChannelToken(dir, ch)
	if err != nil {
		return 0, err
	}
	rpc, err := f.caller()
	if err != nil {
		return 0, fmt.Errorf("get %s gain: %w", which, err)
	}
	v, err := rpc.Request(f.prefix+"get_gain", which)
	if err != nil {
		return 0, fmt.Errorf("get %s gain: %w", which, err)
	}
	db, err := resultFloat64(v)
	if err != nil {
		return 0, fmt.Errorf("get %s gain: %w", which, err)
	}
	return db, nil
}

// SetAntenna is a stub: antenna switching hardware is not wired to this
// control plane yet. The request is validated, reported at warning level,
// and discarded; no remote call is issued. Replace this method body once
// the switch path exists.
func (f *Frontend) SetAntenna(dir Direction, ch int, name string) (StringResult, error) {
	which, err := ChannelToken(dir, ch)
	if err != nil {
		return StringResult{}, err
	}
	f.log.Warn("antenna switching not wired, ignoring request",
		logging.Field{Key: "which", Value: which},
		logging.Field{Key: "requested", Value: name})
	return StringResult{Value: stubAntenna, Stubbed: true}, nil
}

// Antenna is the stubbed counterpart of SetAntenna: it reports a fixed
// placeholder regardless of direction, channel, or prior requests.
func (f *Frontend) Antenna(dir Direction, ch int) (StringResult, error) {
	if _, err := ChannelToken(dir, ch); err != nil {
		return StringResult{}, err
	}
	return StringResult{Value: stubAntenna, Stubbed: true}, nil
}

// SetRXBandwidth is a stub: analog bandwidth control is not wired.
// Setting reports the request at warning level and returns the stored
// default unchanged, without a remote call. Transmit bandwidth is not
// exposed at all.
func (f *Frontend) SetRXBandwidth(ch int, hz float64) (FloatResult, error) {
	which, err := ChannelToken(Receive, ch)
	if err != nil {
		return FloatResult{}, err
	}
	current := f.rxBandwidth[ch]
	f.log.Warn("bandwidth control not wired, keeping current value",
		logging.Field{Key: "which", Value: which},
		logging.Field{Key: "requested_hz", Value: hz},
		logging.Field{Key: "current_hz", Value: current})
	f.emit(Receive, ch, "bandwidth", hz, current, true)
	return FloatResult{Value: current, Stubbed: true}, nil
}

// RXBandwidth reports the stored analog bandwidth of a receive channel.
func (f *Frontend) RXBandwidth(ch int) (FloatResult, error) {
	if _, err := ChannelToken(Receive, ch); err != nil {
		return FloatResult{}, err
	}
	return FloatResult{Value: f.rxBandwidth[ch], Stubbed: true}, nil
}

// SetTickRate accepts only the fixed radio rate. Any other request is
// reported at warning level and the unchanged rate is returned; this is a
// known limitation, not a failure.
func (f *Frontend) SetTickRate(hz float64) (FloatResult, error) {
	if hz == RadioRate {
		return FloatResult{Value: RadioRate}, nil
	}
	f.log.Warn("tick rate is fixed by hardware design, keeping current rate",
		logging.Field{Key: "requested_hz", Value: hz},
		logging.Field{Key: "rate_hz", Value: float64(RadioRate)})
	return FloatResult{Value: RadioRate, Stubbed: true}, nil
}

// TickRate returns the fixed radio rate.
func (f *Frontend) TickRate() float64 { return RadioRate }

// EEPROM reads the slot's identity blob from the remote service.
func (f *Frontend) EEPROM() (map[string]string, error) {
	rpc, err := f.caller()
	if err != nil {
		return nil, fmt.Errorf("read slot %s eeprom: %w", f.slot, err)
	}
	v, err := rpc.Request(f.prefix+"get_db_eeprom", f.bus)
	if err != nil {
		return nil, fmt.Errorf("read slot %s eeprom: %w", f.slot, err)
	}
	blob, err := resultStringMap(v)
	if err != nil {
		return nil, fmt.Errorf("read slot %s eeprom: %w", f.slot, err)
	}
	return blob, nil
}

// StoreEEPROM writes the slot's identity blob. The service acknowledges
// the write but returns no payload.
func (f *Frontend) StoreEEPROM(blob map[string]string) error {
	rpc, err := f.caller()
	if err != nil {
		return fmt.Errorf("store slot %s eeprom: %w", f.slot, err)
	}
	if err := rpc.Notify(f.prefix+"set_db_eeprom", f.bus, blob); err != nil {
		return fmt.Errorf("store slot %s eeprom: %w", f.slot, err)
	}
	return nil
}
