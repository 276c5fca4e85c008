package registry

import (
	"fmt"

	"avbridge/internal/arinc429"
)

// DecoderKind selects one of the closed set of decode rules. Adapters
// dispatch on it with a switch.
type DecoderKind int

const (
	// Raw passes the located value through unchanged.
	Raw DecoderKind = iota
	// ScaleToInt is floor(value * Scale).
	ScaleToInt
	// BNR decodes an ARINC 429 binary word.
	BNR
	// BCD decodes an ARINC 429 binary-coded decimal word.
	BCD
	// NMEAFix picks an element of the GGA tuple.
	NMEAFix
	// NMEAVelocity picks an element of the VTG tuple.
	NMEAVelocity
	// EastSpeed is sin(heading) * ground speed from two simulator fields.
	EastSpeed
	// NorthSpeed is cos(heading) * ground speed from two simulator fields.
	NorthSpeed
)

var decoderNames = map[DecoderKind]string{
	Raw:          "raw",
	ScaleToInt:   "scale_to_int",
	BNR:          "bnr",
	BCD:          "bcd",
	NMEAFix:      "nmea_fix",
	NMEAVelocity: "nmea_velocity",
	EastSpeed:    "east_speed",
	NorthSpeed:   "north_speed",
}

func (k DecoderKind) String() string {
	if s, ok := decoderNames[k]; ok {
		return s
	}
	return fmt.Sprintf("decoder(%d)", int(k))
}

func ParseDecoderKind(s string) (DecoderKind, error) {
	if s == "" {
		return Raw, nil
	}
	for k, name := range decoderNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown decoder %q", ErrInvalidDecodeSpec, s)
}

// FieldRef addresses a simulator field for derived decoders.
type FieldRef struct {
	Set int
	Pos int
}

// Decoder is a decoder kind plus its fixed arguments. Only the arguments
// relevant to Kind are read.
type Decoder struct {
	Kind DecoderKind

	Scale float64
	BNR   arinc429.BNR
	BCD   arinc429.BCD

	Heading FieldRef
	Speed   FieldRef
}

func RawValue() Decoder { return Decoder{Kind: Raw} }

func ScaledInt(scale float64) Decoder { return Decoder{Kind: ScaleToInt, Scale: scale} }

func BNRWord(bits int, scale, resolution float64) Decoder {
	return Decoder{Kind: BNR, BNR: arinc429.BNR{Bits: bits, Scale: scale, Resolution: resolution}}
}

func BCDWord(digits []int, scales []float64) Decoder {
	return Decoder{Kind: BCD, BCD: arinc429.BCD{Digits: digits, Scales: scales}}
}

func FixTuple() Decoder      { return Decoder{Kind: NMEAFix} }
func VelocityTuple() Decoder { return Decoder{Kind: NMEAVelocity} }

func EastSpeedFrom(heading, speed FieldRef) Decoder {
	return Decoder{Kind: EastSpeed, Heading: heading, Speed: speed}
}

func NorthSpeedFrom(heading, speed FieldRef) Decoder {
	return Decoder{Kind: NorthSpeed, Heading: heading, Speed: speed}
}

// sentenceDecoders is the sentence type each tuple decoder understands.
var sentenceDecoders = map[DecoderKind]string{
	NMEAFix:      "GGA",
	NMEAVelocity: "VTG",
}

// validateFor checks that the decoder is applicable to the locator and that
// its arguments are well formed.
func (d Decoder) validateFor(loc Locator) error {
	switch l := loc.(type) {
	case SimField:
		if l.Pos < 0 || l.Pos > 7 {
			return fmt.Errorf("%w: simulator position %d outside 0..7", ErrInvalidDecodeSpec, l.Pos)
		}
		switch d.Kind {
		case Raw, ScaleToInt:
			return nil
		}
	case Derived:
		switch d.Kind {
		case EastSpeed, NorthSpeed:
			for _, ref := range []FieldRef{d.Heading, d.Speed} {
				if ref.Pos < 0 || ref.Pos > 7 {
					return fmt.Errorf("%w: derived field position %d outside 0..7", ErrInvalidDecodeSpec, ref.Pos)
				}
			}
			return nil
		}
	case BusWord:
		switch d.Kind {
		case Raw:
			return nil
		case BNR:
			return d.BNR.Validate()
		case BCD:
			return d.BCD.Validate()
		}
	case SentenceField:
		if l.Sentence == "" {
			return fmt.Errorf("%w: sentence type is required", ErrInvalidDecodeSpec)
		}
		if want, ok := sentenceDecoders[d.Kind]; ok && l.Sentence != want {
			return fmt.Errorf("%w: decoder %s reads %s sentences, not %s", ErrInvalidDecodeSpec, d.Kind, want, l.Sentence)
		}
		switch d.Kind {
		case NMEAFix:
			if l.Pos < 0 || l.Pos > 3 {
				return fmt.Errorf("%w: fix tuple position %d outside 0..3", ErrInvalidDecodeSpec, l.Pos)
			}
			return nil
		case NMEAVelocity:
			if l.Pos < 0 || l.Pos > 3 {
				return fmt.Errorf("%w: velocity tuple position %d outside 0..3", ErrInvalidDecodeSpec, l.Pos)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: decoder %s not applicable to %s locator %T", ErrInvalidDecodeSpec, d.Kind, loc.Source(), loc)
}
