package dboard

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sdrgrid/radioctl/proptree"
)

// scriptedService answers like the remote hardware service so the tree
// wiring can be driven end to end through leaves alone.
func scriptedService() *mockCaller {
	rx, tx := 2.5e9, 2.5e9
	gains := map[string]float64{}
	eeprom := map[string]string{"serial": "0000000"}
	m := &mockCaller{}
	m.onRequest = func(proc string, args []any) (any, error) {
		switch proc {
		case "db_0_set_freq":
			hz := args[1].(float64)
			if args[0].(string)[:2] == "RX" {
				rx = hz
			} else {
				tx = hz
			}
			return hz, nil
		case "db_0_get_freq":
			if args[0].(string)[:2] == "RX" {
				return rx, nil
			}
			return tx, nil
		case "db_0_set_gain":
			gains[args[0].(string)] = args[1].(float64)
			return args[1], nil
		case "db_0_get_gain":
			return gains[args[0].(string)], nil
		case "db_0_get_db_eeprom":
			out := make(map[string]any, len(eeprom))
			for k, v := range eeprom {
				out[k] = v
			}
			return out, nil
		default:
			return nil, fmt.Errorf("unexpected procedure %s", proc)
		}
	}
	m.onNotify = func(proc string, args []any) error {
		if proc != "db_0_set_db_eeprom" {
			return fmt.Errorf("unexpected procedure %s", proc)
		}
		eeprom = args[1].(map[string]string)
		return nil
	}
	return m
}

func TestRegisterTreeRoutesThroughFrontend(t *testing.T) {
	f := newTestFrontend(t)
	m := scriptedService()
	attach(t, f, m)

	tree := proptree.New()
	if err := f.RegisterTree(tree); err != nil {
		t.Fatalf("RegisterTree: %v", err)
	}

	// A write through the store is the same remote round trip as the
	// direct API, and the store keeps the realized value.
	realized, err := tree.Set("dboards/A/rx_frontends/0/freq/value", 2.44e9)
	if err != nil {
		t.Fatalf("set freq leaf: %v", err)
	}
	if realized != 2.44e9 {
		t.Fatalf("realized = %v, want 2.44e9", realized)
	}

	// Reading the twin channel re-queries the service, so the shared-LO
	// move is visible through the store.
	before := len(m.calls)
	got, err := tree.GetFloat64("dboards/A/rx_frontends/1/freq/value")
	if err != nil {
		t.Fatalf("get twin freq leaf: %v", err)
	}
	if got != 2.44e9 {
		t.Fatalf("twin channel reports %v, want the retuned 2.44e9", got)
	}
	if len(m.calls) != before+1 {
		t.Fatalf("twin read issued %d calls, want exactly one", len(m.calls)-before)
	}

	// Gain routes the same way.
	if _, err := tree.Set("dboards/A/tx_frontends/0/gain/value", 20.5); err != nil {
		t.Fatalf("set gain leaf: %v", err)
	}
	db, err := tree.GetFloat64("dboards/A/tx_frontends/0/gain/value")
	if err != nil || db != 20.5 {
		t.Fatalf("gain leaf = %v, %v; want 20.5", db, err)
	}

	// Stubbed antenna: the leaf reports the placeholder, no remote calls.
	before = len(m.calls)
	name, err := tree.GetString("dboards/A/rx_frontends/0/antenna/value")
	if err != nil || name != "RX1" {
		t.Fatalf("antenna leaf = %q, %v; want RX1", name, err)
	}
	if _, err := tree.Set("dboards/A/rx_frontends/0/antenna/value", "CAL"); err != nil {
		t.Fatalf("set antenna leaf: %v", err)
	}
	if len(m.calls) != before {
		t.Fatalf("antenna leaves issued remote calls: %v", m.calls[before:])
	}

	// Stubbed bandwidth: set is a no-op returning the default.
	v, err := tree.Set("dboards/A/rx_frontends/0/bandwidth/value", 10e6)
	if err != nil {
		t.Fatalf("set bandwidth leaf: %v", err)
	}
	if v != DefaultRXBandwidth {
		t.Fatalf("bandwidth leaf set = %v, want unchanged %v", v, DefaultRXBandwidth)
	}

	// Static metadata rejects writes.
	if _, err := tree.Set("dboards/A/rx_frontends/0/freq/range", Range{}); !errors.Is(err, proptree.ErrReadOnly) {
		t.Fatalf("range leaf write: %v, want ErrReadOnly", err)
	}

	// Tick rate leaf: fixed rate, foreign requests bounce back.
	rate, err := tree.Set("dboards/A/tick_rate", 10e6)
	if err != nil {
		t.Fatalf("set tick_rate leaf: %v", err)
	}
	if rate != float64(RadioRate) {
		t.Fatalf("tick_rate = %v, want fixed %v", rate, float64(RadioRate))
	}

	// EEPROM leaf was wired at registration because the session existed.
	if _, err := tree.Set("dboards/A/eeprom", map[string]string{"serial": "31C9A3F"}); err != nil {
		t.Fatalf("set eeprom leaf: %v", err)
	}
	blob, err := tree.GetStringMap("dboards/A/eeprom")
	if err != nil || blob["serial"] != "31C9A3F" {
		t.Fatalf("eeprom leaf = %v, %v; want stored blob", blob, err)
	}
}

func TestRegisterTreeLayout(t *testing.T) {
	f := newTestFrontend(t)
	attach(t, f, &mockCaller{})
	tree := proptree.New()
	if err := f.RegisterTree(tree); err != nil {
		t.Fatalf("RegisterTree: %v", err)
	}

	mustExist := []string{
		"dboards/A/rx_frontends/0/freq/value",
		"dboards/A/rx_frontends/1/gain/range",
		"dboards/A/rx_frontends/0/antenna/options",
		"dboards/A/rx_frontends/1/bandwidth/value",
		"dboards/A/tx_frontends/0/freq/value",
		"dboards/A/tx_frontends/1/connection",
		"dboards/A/rx_codecs/0/name",
		"dboards/A/tx_codecs/1/name",
		"dboards/A/tick_rate",
		"dboards/A/eeprom",
	}
	for _, p := range mustExist {
		if !tree.Exists(p) {
			t.Errorf("missing leaf %s", p)
		}
	}

	// Transmit bandwidth is not exposed at all.
	for _, p := range []string{
		"dboards/A/tx_frontends/0/bandwidth/value",
		"dboards/A/tx_frontends/0/bandwidth/range",
	} {
		if tree.Exists(p) {
			t.Errorf("unexpected leaf %s", p)
		}
	}

	if err := f.RegisterTree(proptree.New()); err == nil {
		t.Fatal("second RegisterTree succeeded")
	}
}

func TestEEPROMLeafWiredOnLateAttach(t *testing.T) {
	f := newTestFrontend(t)
	tree := proptree.New()
	if err := f.RegisterTree(tree); err != nil {
		t.Fatalf("RegisterTree: %v", err)
	}
	if tree.Exists("dboards/A/eeprom") {
		t.Fatal("eeprom leaf exists before a session is attached")
	}
	attach(t, f, scriptedService())
	if !tree.Exists("dboards/A/eeprom") {
		t.Fatal("eeprom leaf missing after session attach")
	}
	blob, err := tree.GetStringMap("dboards/A/eeprom")
	if err != nil || blob["serial"] == "" {
		t.Fatalf("eeprom leaf = %v, %v; want the service blob", blob, err)
	}
}
