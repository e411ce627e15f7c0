package dboard

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"gonum.org/v1/gonum/floats/scalar"
)

type mockCall struct {
	kind string
	proc string
	args []any
}

// mockCaller records every call and answers through the installed
// handlers, standing in for the remote hardware service.
type mockCaller struct {
	calls     []mockCall
	onRequest func(proc string, args []any) (any, error)
	onNotify  func(proc string, args []any) error
}

func (m *mockCaller) Request(proc string, args ...any) (any, error) {
	m.calls = append(m.calls, mockCall{"request", proc, args})
	if m.onRequest == nil {
		return nil, fmt.Errorf("unexpected request %s", proc)
	}
	return m.onRequest(proc, args)
}

func (m *mockCaller) Notify(proc string, args ...any) error {
	m.calls = append(m.calls, mockCall{"notify", proc, args})
	if m.onNotify == nil {
		return fmt.Errorf("unexpected notify %s", proc)
	}
	return m.onNotify(proc, args)
}

func newTestFrontend(t *testing.T) *Frontend {
	t.Helper()
	f, err := New(Config{Slot: "A", Bus: 0})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func attach(t *testing.T, f *Frontend, m *mockCaller) {
	t.Helper()
	if err := f.AttachSession(m); err != nil {
		t.Fatalf("AttachSession: %v", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"empty slot", Config{Bus: 0}},
		{"slot beyond D", Config{Slot: "E", Bus: 0}},
		{"multi-letter slot", Config{Slot: "AB", Bus: 0}},
		{"bad bus", Config{Slot: "A", Bus: 2}},
		{"self-paired LO", Config{Slot: "A", Bus: 0, LOPairs: [][2]int{{0, 0}}}},
		{"LO pair out of range", Config{Slot: "A", Bus: 0, LOPairs: [][2]int{{0, 2}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg); err == nil {
				t.Fatalf("New(%+v) succeeded, want error", tc.cfg)
			}
		})
	}
}

func TestSharedLOPeer(t *testing.T) {
	f := newTestFrontend(t)
	if peer, ok := f.SharedLOPeer(Receive, 0); !ok || peer != 1 {
		t.Fatalf("peer of RX 0 = %d, %v; want 1, true", peer, ok)
	}
	if peer, ok := f.SharedLOPeer(Transmit, 1); !ok || peer != 0 {
		t.Fatalf("peer of TX 1 = %d, %v; want 0, true", peer, ok)
	}
	if _, ok := f.SharedLOPeer(Receive, 5); ok {
		t.Fatal("out-of-range channel reported a peer")
	}
	if _, ok := f.SharedLOPeer(Direction(9), 0); ok {
		t.Fatal("invalid direction reported a peer")
	}
}

func TestOperationsBeforeAttach(t *testing.T) {
	f := newTestFrontend(t)

	if _, err := f.SetFrequency(Receive, 0, 2.5e9); !errors.Is(err, ErrNoSession) {
		t.Fatalf("SetFrequency before attach: %v, want ErrNoSession", err)
	}
	if _, err := f.Gain(Transmit, 0); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Gain before attach: %v, want ErrNoSession", err)
	}
	if err := f.InitDefaults(1, 1); !errors.Is(err, ErrNoSession) {
		t.Fatalf("InitDefaults before attach: %v, want ErrNoSession", err)
	}

	// The stubbed paths never touch the session, so they work regardless.
	res, err := f.Antenna(Receive, 0)
	if err != nil || !res.Stubbed || res.Value != "RX1" {
		t.Fatalf("Antenna before attach = %+v, %v", res, err)
	}
}

func TestAttachSessionExactlyOnce(t *testing.T) {
	f := newTestFrontend(t)
	m := &mockCaller{}
	attach(t, f, m)
	if err := f.AttachSession(m); !errors.Is(err, ErrSessionAttached) {
		t.Fatalf("second attach: %v, want ErrSessionAttached", err)
	}
	if err := f.AttachSession(nil); err == nil {
		t.Fatal("nil attach succeeded")
	}
}

func TestSetFrequencyRoundTrip(t *testing.T) {
	f := newTestFrontend(t)
	m := &mockCaller{
		onRequest: func(proc string, args []any) (any, error) {
			if proc != "db_0_set_freq" {
				return nil, fmt.Errorf("unexpected procedure %s", proc)
			}
			return 2.500000001e9, nil
		},
	}
	attach(t, f, m)

	realized, err := f.SetFrequency(Receive, 0, 2.5e9)
	if err != nil {
		t.Fatalf("SetFrequency: %v", err)
	}
	if !scalar.EqualWithinAbs(realized, 2.500000001e9, 1e-3) {
		t.Fatalf("realized = %v, want the service-reported 2.500000001e9", realized)
	}

	want := []any{"RX1", 2.5e9, false}
	if len(m.calls) != 1 || !reflect.DeepEqual(m.calls[0].args, want) {
		t.Fatalf("remote call args = %#v, want %#v", m.calls, want)
	}

	if _, err := f.SetFrequency(Receive, 2, 2.5e9); !errors.Is(err, ErrInvalidChannel) {
		t.Fatalf("invalid channel: %v, want ErrInvalidChannel", err)
	}
	if len(m.calls) != 1 {
		t.Fatalf("invalid channel issued a remote call: %v", m.calls)
	}
}

// TestFrequencyNeverCached drives the shared-LO scenario: after tuning
// receive channel 0, reads on channel 1 must hit the service every time
// and report whatever it currently says, even when that answer changes
// between reads.
func TestFrequencyNeverCached(t *testing.T) {
	f := newTestFrontend(t)

	rxLO := 1e9
	gets := 0
	m := &mockCaller{}
	m.onRequest = func(proc string, args []any) (any, error) {
		switch proc {
		case "db_0_set_freq":
			rxLO = args[1].(float64)
			return rxLO, nil
		case "db_0_get_freq":
			gets++
			// Drift between reads, as a twin-channel retune would.
			rxLO += 1e6
			return rxLO, nil
		default:
			return nil, fmt.Errorf("unexpected procedure %s", proc)
		}
	}
	attach(t, f, m)

	if _, err := f.SetFrequency(Receive, 0, 2.5e9); err != nil {
		t.Fatalf("SetFrequency: %v", err)
	}
	first, err := f.Frequency(Receive, 1)
	if err != nil {
		t.Fatalf("Frequency #1: %v", err)
	}
	second, err := f.Frequency(Receive, 1)
	if err != nil {
		t.Fatalf("Frequency #2: %v", err)
	}
	if gets != 2 {
		t.Fatalf("issued %d get_freq calls, want one per read", gets)
	}
	if first == second {
		t.Fatalf("reads returned identical %v; a cached value is masking the service", first)
	}
	if !scalar.EqualWithinAbs(second-first, 1e6, 1e-3) {
		t.Fatalf("reads %v and %v do not track the service's drift", first, second)
	}
}

func TestSetGainForwardsOutOfRangeRequests(t *testing.T) {
	// Slot B rides bus 1, so its procedures carry the db_1_ prefix.
	f, err := New(Config{Slot: "B", Bus: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m := &mockCaller{
		onRequest: func(proc string, args []any) (any, error) {
			if proc != "db_1_set_gain" {
				return nil, fmt.Errorf("unexpected procedure %s", proc)
			}
			// The service clamps; the host forwards verbatim.
			return 30.0, nil
		},
	}
	attach(t, f, m)

	realized, err := f.SetGain(Receive, 1, 99.0)
	if err != nil {
		t.Fatalf("SetGain: %v", err)
	}
	if realized != 30.0 {
		t.Fatalf("realized = %v, want the service's clamped 30", realized)
	}
	want := []any{"RX2", 99.0}
	if !reflect.DeepEqual(m.calls[0].args, want) {
		t.Fatalf("remote call args = %#v, want %#v (no local clamping)", m.calls[0].args, want)
	}
}

func TestRemoteFailurePropagates(t *testing.T) {
	linkLost := errors.New("link lost")
	f := newTestFrontend(t)
	m := &mockCaller{
		onRequest: func(proc string, args []any) (any, error) {
			return nil, linkLost
		},
	}
	attach(t, f, m)

	_, err := f.Gain(Receive, 0)
	if !errors.Is(err, linkLost) {
		t.Fatalf("Gain = %v, want the remote failure to propagate", err)
	}
	if _, err := f.SetFrequency(Transmit, 0, 1e9); !errors.Is(err, linkLost) {
		t.Fatalf("SetFrequency = %v, want the remote failure to propagate", err)
	}

	// The stubbed path stays distinguishable: no error, tagged result.
	res, err := f.SetRXBandwidth(0, 10e6)
	if err != nil {
		t.Fatalf("stub path errored: %v", err)
	}
	if !res.Stubbed {
		t.Fatal("stub path not tagged as stubbed")
	}
}

func TestAntennaStubContract(t *testing.T) {
	f := newTestFrontend(t)
	m := &mockCaller{}
	attach(t, f, m)

	set, err := f.SetAntenna(Receive, 0, "RX2")
	if err != nil {
		t.Fatalf("SetAntenna: %v", err)
	}
	if !set.Stubbed {
		t.Fatal("SetAntenna result not tagged as stubbed")
	}
	got, err := f.Antenna(Receive, 0)
	if err != nil {
		t.Fatalf("Antenna: %v", err)
	}
	if got.Value != "RX1" || !got.Stubbed {
		t.Fatalf("Antenna = %+v, want the fixed RX1 placeholder", got)
	}
	// The placeholder holds for the other direction and channel too.
	got, err = f.Antenna(Transmit, 1)
	if err != nil || got.Value != "RX1" {
		t.Fatalf("Antenna(TX,1) = %+v, %v; want RX1", got, err)
	}
	if len(m.calls) != 0 {
		t.Fatalf("antenna stubs issued remote calls: %v", m.calls)
	}
	if _, err := f.SetAntenna(Receive, 3, "CAL"); !errors.Is(err, ErrInvalidChannel) {
		t.Fatalf("invalid channel: %v, want ErrInvalidChannel", err)
	}
}

func TestBandwidthStubContract(t *testing.T) {
	f := newTestFrontend(t)
	m := &mockCaller{}
	attach(t, f, m)

	res, err := f.SetRXBandwidth(0, 10e6)
	if err != nil {
		t.Fatalf("SetRXBandwidth: %v", err)
	}
	if res.Value != DefaultRXBandwidth || !res.Stubbed {
		t.Fatalf("SetRXBandwidth = %+v, want stored default %v tagged stubbed", res, DefaultRXBandwidth)
	}
	got, err := f.RXBandwidth(0)
	if err != nil || got.Value != DefaultRXBandwidth {
		t.Fatalf("RXBandwidth = %+v, %v; want unchanged default", got, err)
	}
	if len(m.calls) != 0 {
		t.Fatalf("bandwidth stubs issued remote calls: %v", m.calls)
	}
}

func TestTickRateFixed(t *testing.T) {
	f := newTestFrontend(t)

	res, err := f.SetTickRate(100e6)
	if err != nil {
		t.Fatalf("SetTickRate: %v", err)
	}
	if res.Value != RadioRate || !res.Stubbed {
		t.Fatalf("SetTickRate(100e6) = %+v, want unchanged %v tagged stubbed", res, float64(RadioRate))
	}

	res, err = f.SetTickRate(RadioRate)
	if err != nil {
		t.Fatalf("SetTickRate: %v", err)
	}
	if res.Stubbed {
		t.Fatal("requesting the fixed rate reported stubbed")
	}
	if f.TickRate() != RadioRate {
		t.Fatalf("TickRate = %v, want %v", f.TickRate(), float64(RadioRate))
	}
}

func TestEEPROMRoundTrip(t *testing.T) {
	f := newTestFrontend(t)
	stored := map[string]string{}
	m := &mockCaller{
		onRequest: func(proc string, args []any) (any, error) {
			if proc != "db_0_get_db_eeprom" {
				return nil, fmt.Errorf("unexpected procedure %s", proc)
			}
			// JSON decoding hands maps back as map[string]any.
			out := make(map[string]any, len(stored))
			for k, v := range stored {
				out[k] = v
			}
			return out, nil
		},
		onNotify: func(proc string, args []any) error {
			if proc != "db_0_set_db_eeprom" {
				return fmt.Errorf("unexpected procedure %s", proc)
			}
			if idx, ok := args[0].(int); !ok || idx != 0 {
				return fmt.Errorf("slot index arg = %#v, want 0", args[0])
			}
			stored = args[1].(map[string]string)
			return nil
		},
	}
	attach(t, f, m)

	if err := f.StoreEEPROM(map[string]string{"serial": "31C9A3F", "rev": "C"}); err != nil {
		t.Fatalf("StoreEEPROM: %v", err)
	}
	blob, err := f.EEPROM()
	if err != nil {
		t.Fatalf("EEPROM: %v", err)
	}
	if blob["serial"] != "31C9A3F" || blob["rev"] != "C" {
		t.Fatalf("EEPROM = %v, want the stored blob back", blob)
	}
}

func TestInitDefaultsOrderAndValues(t *testing.T) {
	f := newTestFrontend(t)
	m := &mockCaller{
		onRequest: func(proc string, args []any) (any, error) {
			switch proc {
			case "db_0_set_freq", "db_0_set_gain":
				return args[1], nil
			default:
				return nil, fmt.Errorf("unexpected procedure %s", proc)
			}
		},
	}
	attach(t, f, m)

	if err := f.InitDefaults(1, 1); err != nil {
		t.Fatalf("InitDefaults: %v", err)
	}

	// Antenna and bandwidth defaults ride the stubbed paths, so the
	// remote sequence is frequency and gain per channel, receive first.
	want := []mockCall{
		{"request", "db_0_set_freq", []any{"RX1", DefaultFrequency, false}},
		{"request", "db_0_set_gain", []any{"RX1", DefaultGain}},
		{"request", "db_0_set_freq", []any{"TX1", DefaultFrequency, false}},
		{"request", "db_0_set_gain", []any{"TX1", DefaultGain}},
	}
	if !reflect.DeepEqual(m.calls, want) {
		t.Fatalf("remote call sequence:\n got %#v\nwant %#v", m.calls, want)
	}
}

func TestInitDefaultsPortMismatchIsNotFatal(t *testing.T) {
	f := newTestFrontend(t)
	m := &mockCaller{
		onRequest: func(proc string, args []any) (any, error) {
			return args[1], nil
		},
	}
	attach(t, f, m)

	// Two RX ports instead of the reference one: proceed, tune both.
	if err := f.InitDefaults(2, 1); err != nil {
		t.Fatalf("InitDefaults(2, 1): %v", err)
	}
	var rxTuned []string
	for _, c := range m.calls {
		if c.proc == "db_0_set_freq" {
			rxTuned = append(rxTuned, c.args[0].(string))
		}
	}
	want := []string{"RX1", "RX2", "TX1"}
	if !reflect.DeepEqual(rxTuned, want) {
		t.Fatalf("tuned channels %v, want %v", rxTuned, want)
	}

	// More ports than the addressing supports: clamp, do not fail.
	m.calls = nil
	if err := f.InitDefaults(3, 0); err != nil {
		t.Fatalf("InitDefaults(3, 0): %v", err)
	}
	if len(m.calls) != 4 { // freq+gain for RX1 and RX2
		t.Fatalf("clamped init issued %d calls, want 4: %v", len(m.calls), m.calls)
	}
}

func TestInitDefaultsAbortsOnRemoteFailure(t *testing.T) {
	powerFault := errors.New("pll lock failed")
	f := newTestFrontend(t)
	m := &mockCaller{
		onRequest: func(proc string, args []any) (any, error) {
			return nil, powerFault
		},
	}
	attach(t, f, m)

	if err := f.InitDefaults(1, 1); !errors.Is(err, powerFault) {
		t.Fatalf("InitDefaults = %v, want the remote failure to propagate", err)
	}
}
