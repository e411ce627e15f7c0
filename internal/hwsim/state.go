package hwsim

import (
	"fmt"
	"math"
	"strconv"
	"sync"
)

// boardChannels is the per-direction channel count of the modeled
// daughterboard.
const boardChannels = 2

// board models the silicon of one daughterboard: one local oscillator per
// direction shared by that direction's channels, per-channel attenuators,
// and the identity EEPROM. The mutex makes the service the single owner
// of hardware state no matter how many connections are issuing calls.
type board struct {
	cfg SlotConfig

	mu     sync.Mutex
	lo     map[string]float64 // "RX"/"TX" -> LO frequency in Hz
	gain   map[string]float64 // "RX1".. "TX2" -> gain in dB
	eeprom map[string]string
}

func newBoard(cfg SlotConfig) *board {
	b := &board{
		cfg: cfg,
		lo:  map[string]float64{"RX": cfg.InitialHz, "TX": cfg.InitialHz},
		gain: map[string]float64{
			"RX1": 0, "RX2": 0,
			"TX1": 0, "TX2": 0,
		},
		eeprom: map[string]string{
			"pid":    "0x0150",
			"serial": fmt.Sprintf("SIM%s%d001", cfg.Letter, cfg.Bus),
			"rev":    "4",
		},
	}
	return b
}

// parseWhich splits a channel token like "RX1" into its direction and
// 1-based channel number.
func parseWhich(which string) (string, int, *rpcError) {
	if len(which) != 3 {
		return "", 0, badWhich(which)
	}
	dir := which[:2]
	if dir != "RX" && dir != "TX" {
		return "", 0, badWhich(which)
	}
	ch, err := strconv.Atoi(which[2:])
	if err != nil || ch < 1 || ch > boardChannels {
		return "", 0, badWhich(which)
	}
	return dir, ch, nil
}

func badWhich(which string) *rpcError {
	return &rpcError{Code: codeBadWhich, Message: fmt.Sprintf("unsupported channel %q", which)}
}

// setFreq retunes the direction's shared LO. The request is clamped into
// the slot's range and snapped to the LO step; the realized frequency is
// what every channel of that direction will report afterwards. skipSync
// is accepted for wire compatibility and has no observable effect here.
func (b *board) setFreq(which string, hz float64, skipSync bool) (float64, *rpcError) {
	dir, _, rerr := parseWhich(which)
	if rerr != nil {
		return 0, rerr
	}
	_ = skipSync
	realized := quantize(hz, b.cfg.FreqMinHz, b.cfg.FreqMaxHz, b.cfg.LOStepHz)
	b.mu.Lock()
	b.lo[dir] = realized
	b.mu.Unlock()
	return realized, nil
}

func (b *board) getFreq(which string) (float64, *rpcError) {
	dir, _, rerr := parseWhich(which)
	if rerr != nil {
		return 0, rerr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lo[dir], nil
}

func (b *board) setGain(which string, db float64) (float64, *rpcError) {
	dir, _, rerr := parseWhich(which)
	if rerr != nil {
		return 0, rerr
	}
	g := b.cfg.RXGain
	if dir == "TX" {
		g = b.cfg.TXGain
	}
	realized := quantize(db, g.Min, g.Max, g.Step)
	b.mu.Lock()
	b.gain[which] = realized
	b.mu.Unlock()
	return realized, nil
}

func (b *board) getGain(which string) (float64, *rpcError) {
	if _, _, rerr := parseWhich(which); rerr != nil {
		return 0, rerr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gain[which], nil
}

// setEEPROM replaces the board EEPROM contents wholesale.
func (b *board) setEEPROM(blob map[string]string) {
	fresh := make(map[string]string, len(blob))
	for k, v := range blob {
		fresh[k] = v
	}
	b.mu.Lock()
	b.eeprom = fresh
	b.mu.Unlock()
}

func (b *board) getEEPROM() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string, len(b.eeprom))
	for k, v := range b.eeprom {
		out[k] = v
	}
	return out
}

// quantize clamps v into [min, max] and rounds to the nearest step from
// min, staying inside the bounds.
func quantize(v, min, max, step float64) float64 {
	if v < min {
		v = min
	}
	if v > max {
		v = max
	}
	if step <= 0 {
		return v
	}
	q := min + math.Round((v-min)/step)*step
	if q > max {
		q = max
	}
	if q < min {
		q = min
	}
	return q
}
