// Package nmea frames and decodes the NMEA 0183 sentences used for GNSS
// ingestion: GGA (position/time fix) and VTG (velocity made good).
package nmea

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const metersToFeet = 3.28084

var (
	ErrMalformedSentence = errors.New("malformed nmea sentence")
	ErrChecksum          = errors.New("nmea checksum mismatch")
)

type Sentence struct {
	// Type is the sentence type without the talker id ("GGA", "VTG").
	Type string
	// Fields is the comma-split payload (excluding '$' and checksum); Fields[0]
	// is the talker+type token.
	Fields []string
}

// Parse frames a raw NMEA line. The checksum is optional but verified when
// present.
func Parse(line string) (Sentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return Sentence{}, fmt.Errorf("%w: missing '$'", ErrMalformedSentence)
	}
	payload := line[1:]
	if star := strings.LastIndexByte(line, '*'); star != -1 {
		payload = line[1:star]
		ck := strings.TrimSpace(line[star+1:])
		if len(ck) < 2 {
			return Sentence{}, fmt.Errorf("%w: short checksum", ErrMalformedSentence)
		}
		want, err := hex.DecodeString(ck[:2])
		if err != nil || len(want) != 1 {
			return Sentence{}, fmt.Errorf("%w: bad checksum", ErrMalformedSentence)
		}
		if Checksum(payload) != want[0] {
			return Sentence{}, ErrChecksum
		}
	}

	parts := strings.Split(payload, ",")
	typeField := parts[0]
	if len(typeField) < 3 {
		return Sentence{}, fmt.Errorf("%w: short type %q", ErrMalformedSentence, typeField)
	}
	// Accept GNxxx/GPxxx, etc; normalize to last 3 chars.
	t := typeField[len(typeField)-3:]
	return Sentence{Type: strings.ToUpper(t), Fields: parts}, nil
}

// Checksum is the XOR of all payload bytes between '$' and '*'.
func Checksum(payload string) byte {
	ck := byte(0)
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return ck
}

// Fix is the decoded GGA tuple. Positions in the tuple are used by variable
// bindings: 0 utc seconds, 1 latitude, 2 longitude, 3 altitude.
type Fix struct {
	UTCSeconds   int
	LatitudeDeg  float64
	LongitudeDeg float64
	AltitudeFt   float64
}

// Tuple returns the fix in binding order.
func (f Fix) Tuple() []float64 {
	return []float64{float64(f.UTCSeconds), f.LatitudeDeg, f.LongitudeDeg, f.AltitudeFt}
}

// Velocity is the decoded VTG tuple: 0 track, 1 ground speed, 2 east speed,
// 3 north speed.
type Velocity struct {
	TrackDeg   float64
	GroundKt   float64
	EastSpeed  float64
	NorthSpeed float64
}

func (v Velocity) Tuple() []float64 {
	return []float64{v.TrackDeg, v.GroundKt, v.EastSpeed, v.NorthSpeed}
}

// GGA: Global Positioning System Fix Data
// Fields:
//
//	0: talker+type
//	1: time (hhmmss[.sss])
//	2: latitude (ddmm.mmmm)
//	3: N/S
//	4: longitude (dddmm.mmmm)
//	5: E/W
//	6: fix quality
//	7: number of satellites
//	8: HDOP
//	9: altitude (meters)
//
// Empty fields decode as 0.
func DecodeFix(f []string) (Fix, error) {
	if len(f) < 10 {
		return Fix{}, fmt.Errorf("%w: gga needs 10 fields, got %d", ErrMalformedSentence, len(f))
	}
	var out Fix
	var err error

	if out.UTCSeconds, err = parseUTCSeconds(f[1]); err != nil {
		return Fix{}, err
	}
	if out.LatitudeDeg, err = parseLatLon(f[2], f[3]); err != nil {
		return Fix{}, err
	}
	if out.LongitudeDeg, err = parseLatLon(f[4], f[5]); err != nil {
		return Fix{}, err
	}
	altM, err := parseFloat(f[9])
	if err != nil {
		return Fix{}, err
	}
	out.AltitudeFt = altM * metersToFeet
	return out, nil
}

// VTG: Track made good and ground speed
// Fields:
//
//	0: talker+type
//	1: true track (deg)
//	2: T
//	3: magnetic track (deg)
//	4: M
//	5: ground speed (knots)
//
// East/north components are only computed when both track and speed are
// present.
func DecodeVelocity(f []string) (Velocity, error) {
	if len(f) < 6 {
		return Velocity{}, fmt.Errorf("%w: vtg needs 6 fields, got %d", ErrMalformedSentence, len(f))
	}
	var out Velocity
	var err error
	if out.TrackDeg, err = parseFloat(f[1]); err != nil {
		return Velocity{}, err
	}
	if out.GroundKt, err = parseFloat(f[5]); err != nil {
		return Velocity{}, err
	}
	if strings.TrimSpace(f[1]) != "" && strings.TrimSpace(f[5]) != "" {
		rad := out.TrackDeg * math.Pi / 180
		out.EastSpeed = out.GroundKt * math.Sin(rad)
		out.NorthSpeed = out.GroundKt * math.Cos(rad)
	}
	return out, nil
}

func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad number %q", ErrMalformedSentence, s)
	}
	return v, nil
}

func parseUTCSeconds(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if len(s) < 6 {
		return 0, fmt.Errorf("%w: short time %q", ErrMalformedSentence, s)
	}
	hh, err1 := strconv.Atoi(s[0:2])
	mm, err2 := strconv.Atoi(s[2:4])
	ss, err3 := strconv.Atoi(s[4:6])
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, fmt.Errorf("%w: bad time %q", ErrMalformedSentence, s)
	}
	return hh*3600 + mm*60 + ss, nil
}

// parseLatLon converts ddmm.mmmm / dddmm.mmmm plus hemisphere to decimal
// degrees. A missing value yields 0.
func parseLatLon(v string, hemi string) (float64, error) {
	raw, err := parseFloat(v)
	if err != nil || raw == 0 {
		return 0, err
	}
	dec := math.Floor(raw/100) + math.Mod(raw, 100)/60.0
	switch strings.ToUpper(strings.TrimSpace(hemi)) {
	case "S", "W":
		dec = -dec
	}
	return dec, nil
}
