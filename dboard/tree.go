package dboard

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sdrgrid/radioctl/proptree"
)

// RegisterTree wires the slot's parameters into tree so generic host
// tooling can tune the radio without direction-specific code. Every value
// leaf routes through the corresponding Frontend operation: coercers
// perform the remote set and store the realized value, publishers perform
// the remote get. The tree is a routing veneer, never a cache. Range and
// option leaves are static metadata, set once here and never recomputed.
func (f *Frontend) RegisterTree(tree *proptree.Tree) error {
	if tree == nil {
		return errors.New("dboard: nil parameter tree")
	}
	if f.tree != nil {
		return errors.New("dboard: parameter tree already registered")
	}
	f.tree = tree

	var firstErr error
	create := func(path string, initial any) *proptree.Leaf {
		leaf, err := tree.Create(path, initial)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("register %s: %w", path, err)
			}
			return &proptree.Leaf{}
		}
		return leaf
	}

	base := f.basePath()
	for _, dir := range []Direction{Receive, Transmit} {
		seg := strings.ToLower(dir.String())
		for ch := 0; ch < MaxChannels; ch++ {
			token, _ := ChannelToken(dir, ch)
			fe := fmt.Sprintf("%s/%s_frontends/%d", base, seg, ch)

			create(fe+"/name", token).ReadOnly()
			create(fe+"/connection", connectionIQ).ReadOnly()

			create(fe+"/freq/value", DefaultFrequency).
				WithCoercer(func(v any) (any, error) {
					hz, err := resultFloat64(v)
					if err != nil {
						return nil, err
					}
					realized, err := f.SetFrequency(dir, ch, hz)
					if err != nil {
						return nil, err
					}
					return realized, nil
				}).
				WithPublisher(func() (any, error) {
					hz, err := f.Frequency(dir, ch)
					if err != nil {
						return nil, err
					}
					return hz, nil
				})
			create(fe+"/freq/range", FrequencyRange).ReadOnly()

			create(fe+"/gain/value", DefaultGain).
				WithCoercer(func(v any) (any, error) {
					db, err := resultFloat64(v)
					if err != nil {
						return nil, err
					}
					realized, err := f.SetGain(dir, ch, db)
					if err != nil {
						return nil, err
					}
					return realized, nil
				}).
				WithPublisher(func() (any, error) {
					db, err := f.Gain(dir, ch)
					if err != nil {
						return nil, err
					}
					return db, nil
				})
			create(fe+"/gain/range", GainRange(dir)).ReadOnly()

			create(fe+"/antenna/value", defaultAntenna(dir)).
				WithCoercer(func(v any) (any, error) {
					name, err := resultString(v)
					if err != nil {
						return nil, err
					}
					res, err := f.SetAntenna(dir, ch, name)
					if err != nil {
						return nil, err
					}
					return res.Value, nil
				}).
				WithPublisher(func() (any, error) {
					res, err := f.Antenna(dir, ch)
					if err != nil {
						return nil, err
					}
					return res.Value, nil
				})
			create(fe+"/antenna/options", append([]string(nil), AntennaOptions...)).ReadOnly()

			if dir == Receive {
				create(fe+"/bandwidth/value", DefaultRXBandwidth).
					WithCoercer(func(v any) (any, error) {
						hz, err := resultFloat64(v)
						if err != nil {
							return nil, err
						}
						res, err := f.SetRXBandwidth(ch, hz)
						if err != nil {
							return nil, err
						}
						return res.Value, nil
					}).
					WithPublisher(func() (any, error) {
						res, err := f.RXBandwidth(ch)
						if err != nil {
							return nil, err
						}
						return res.Value, nil
					})
				create(fe+"/bandwidth/range",
					Range{Min: DefaultRXBandwidth, Max: DefaultRXBandwidth}).ReadOnly()
			}

			create(fmt.Sprintf("%s/%s_codecs/%d/name", base, seg, ch), codecName).ReadOnly()
		}
	}

	create(base+"/tick_rate", float64(RadioRate)).
		WithCoercer(func(v any) (any, error) {
			hz, err := resultFloat64(v)
			if err != nil {
				return nil, err
			}
			res, err := f.SetTickRate(hz)
			if err != nil {
				return nil, err
			}
			return res.Value, nil
		}).
		WithPublisher(func() (any, error) {
			return f.TickRate(), nil
		})

	if err := f.wireEEPROMLeaf(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// wireEEPROMLeaf adds the slot EEPROM leaf once both the tree and the
// remote session exist; registration and attachment may come in either
// order.
func (f *Frontend) wireEEPROMLeaf() error {
	if f.tree == nil || f.rpc == nil || f.eepromWired {
		return nil
	}
	leaf, err := f.tree.Create(f.basePath()+"/eeprom", map[string]string{})
	if err != nil {
		return fmt.Errorf("register eeprom leaf: %w", err)
	}
	leaf.WithCoercer(func(v any) (any, error) {
		blob, err := requestStringMap(v)
		if err != nil {
			return nil, err
		}
		if err := f.StoreEEPROM(blob); err != nil {
			return nil, err
		}
		return blob, nil
	}).WithPublisher(func() (any, error) {
		blob, err := f.EEPROM()
		if err != nil {
			return nil, err
		}
		return blob, nil
	})
	f.eepromWired = true
	return nil
}

func (f *Frontend) basePath() string { return "dboards/" + f.slot }

func defaultAntenna(dir Direction) string {
	if dir == Transmit {
		return DefaultTXAntenna
	}
	return DefaultRXAntenna
}
