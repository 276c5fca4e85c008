package registry

import (
	"fmt"
	"strconv"
	"strings"
)

// VariableConfig is the YAML form of one variable and its per-source
// bindings.
//
//	- name: GPS_LAT
//	  key: 10
//	  simulator: {set: GPS, pos: 0}
//	  bus: {channel: GNSS, label: 110, decoder: {kind: bnr, bits: 20, scale: 180, resolution: 0.000172}}
//	  gnss: {sentence: GGA, pos: 1, decoder: {kind: nmea_fix}}
type VariableConfig struct {
	Name      string            `yaml:"name"`
	Key       int               `yaml:"key"`
	Simulator *SimulatorBinding `yaml:"simulator"`
	Bus       *BusBinding       `yaml:"bus"`
	GNSS      *GNSSBinding      `yaml:"gnss"`
}

type SimulatorBinding struct {
	// Set is a data set name from DataSets or a number. Ignored when Derived.
	Set     string        `yaml:"set"`
	Pos     int           `yaml:"pos"`
	Derived bool          `yaml:"derived"`
	Decoder DecoderConfig `yaml:"decoder"`
}

type BusBinding struct {
	// Channel is a channel name from Channels or a number.
	Channel string        `yaml:"channel"`
	Label   int           `yaml:"label"`
	Decoder DecoderConfig `yaml:"decoder"`
}

type GNSSBinding struct {
	Sentence string        `yaml:"sentence"`
	Pos      int           `yaml:"pos"`
	Decoder  DecoderConfig `yaml:"decoder"`
}

type FieldRefConfig struct {
	Set string `yaml:"set"`
	Pos int    `yaml:"pos"`
}

type DecoderConfig struct {
	Kind string `yaml:"kind"`

	Scale      float64 `yaml:"scale"`
	Bits       int     `yaml:"bits"`
	Resolution float64 `yaml:"resolution"`

	Digits      []int     `yaml:"digits"`
	DigitScales []float64 `yaml:"digit_scales"`

	Heading *FieldRefConfig `yaml:"heading"`
	Speed   *FieldRefConfig `yaml:"speed"`
}

// FromConfig builds a registry from YAML variable definitions.
func FromConfig(vars []VariableConfig) (*Registry, error) {
	r := New()
	for _, vc := range vars {
		if err := r.Register(vc.Name, vc.Key); err != nil {
			return nil, err
		}
		if b := vc.Simulator; b != nil {
			dec, err := b.Decoder.build()
			if err != nil {
				return nil, fmt.Errorf("%s.simulator: %w", vc.Name, err)
			}
			var loc Locator = Derived{Pos: b.Pos}
			if !b.Derived {
				set, err := resolveNumber(b.Set, DataSets)
				if err != nil {
					return nil, fmt.Errorf("%s.simulator.set: %w", vc.Name, err)
				}
				loc = SimField{Set: set, Pos: b.Pos}
			}
			if err := r.Bind(vc.Name, loc, dec); err != nil {
				return nil, err
			}
		}
		if b := vc.Bus; b != nil {
			dec, err := b.Decoder.build()
			if err != nil {
				return nil, fmt.Errorf("%s.bus: %w", vc.Name, err)
			}
			ch, err := resolveNumber(b.Channel, Channels)
			if err != nil {
				return nil, fmt.Errorf("%s.bus.channel: %w", vc.Name, err)
			}
			if err := r.Bind(vc.Name, BusWord{Channel: ch, Label: b.Label}, dec); err != nil {
				return nil, err
			}
		}
		if b := vc.GNSS; b != nil {
			dec, err := b.Decoder.build()
			if err != nil {
				return nil, fmt.Errorf("%s.gnss: %w", vc.Name, err)
			}
			loc := SentenceField{Sentence: strings.ToUpper(strings.TrimSpace(b.Sentence)), Pos: b.Pos}
			if err := r.Bind(vc.Name, loc, dec); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

func (c DecoderConfig) build() (Decoder, error) {
	kind, err := ParseDecoderKind(strings.ToLower(strings.TrimSpace(c.Kind)))
	if err != nil {
		return Decoder{}, err
	}
	switch kind {
	case ScaleToInt:
		return ScaledInt(c.Scale), nil
	case BNR:
		return BNRWord(c.Bits, c.Scale, c.Resolution), nil
	case BCD:
		return BCDWord(c.Digits, c.DigitScales), nil
	case EastSpeed, NorthSpeed:
		if c.Heading == nil || c.Speed == nil {
			return Decoder{}, fmt.Errorf("%w: %s needs heading and speed", ErrInvalidDecodeSpec, kind)
		}
		heading, err := c.Heading.build()
		if err != nil {
			return Decoder{}, err
		}
		speed, err := c.Speed.build()
		if err != nil {
			return Decoder{}, err
		}
		return Decoder{Kind: kind, Heading: heading, Speed: speed}, nil
	default:
		return Decoder{Kind: kind}, nil
	}
}

func (c FieldRefConfig) build() (FieldRef, error) {
	set, err := resolveNumber(c.Set, DataSets)
	if err != nil {
		return FieldRef{}, err
	}
	return FieldRef{Set: set, Pos: c.Pos}, nil
}

func resolveNumber(s string, names map[string]int) (int, error) {
	s = strings.TrimSpace(s)
	if n, ok := names[strings.ToUpper(s)]; ok {
		return n, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is neither a known name nor a number", ErrInvalidDecodeSpec, s)
	}
	return n, nil
}
