package dboard

import (
	"fmt"

	"github.com/sdrgrid/radioctl/internal/logging"
)

// InitDefaults applies the power-on defaults once port discovery has
// reported how many channels of each direction are wired to this slot:
// receive channels first, then transmit, ascending within each direction.
// A port count that differs from the reference topology is a diagnostic,
// not a failure, because the surrounding framework may expose a different
// channel count than the reference assumes; startup proceeds with the
// channels this addressing scheme supports. A remote failure while
// applying a default does abort, since hardware is then in an unknown
// state.
func (f *Frontend) InitDefaults(rxPorts, txPorts int) error {
	if _, err := f.caller(); err != nil {
		return fmt.Errorf("init defaults: %w", err)
	}

	for _, d := range []struct {
		dir   Direction
		ports int
	}{
		{Receive, rxPorts},
		{Transmit, txPorts},
	} {
		n := d.ports
		if n != refChannelCount {
			f.log.Warn("discovered port count differs from reference topology",
				logging.Field{Key: "direction", Value: d.dir.String()},
				logging.Field{Key: "discovered", Value: n},
				logging.Field{Key: "reference", Value: refChannelCount})
		}
		if n < 0 {
			n = 0
		}
		if n > MaxChannels {
			n = MaxChannels
		}
		for ch := 0; ch < n; ch++ {
			if _, err := f.SetFrequency(d.dir, ch, DefaultFrequency); err != nil {
				return fmt.Errorf("init %s channel %d: %w", d.dir, ch, err)
			}
			if _, err := f.SetGain(d.dir, ch, DefaultGain); err != nil {
				return fmt.Errorf("init %s channel %d: %w", d.dir, ch, err)
			}
			if _, err := f.SetAntenna(d.dir, ch, defaultAntenna(d.dir)); err != nil {
				return fmt.Errorf("init %s channel %d: %w", d.dir, ch, err)
			}
			if d.dir == Receive {
				if _, err := f.SetRXBandwidth(ch, DefaultRXBandwidth); err != nil {
					return fmt.Errorf("init %s channel %d: %w", d.dir, ch, err)
				}
			}
		}
	}

	f.log.Info("front-end defaults applied",
		logging.Field{Key: "rx_ports", Value: rxPorts},
		logging.Field{Key: "tx_ports", Value: txPorts})
	return nil
}
