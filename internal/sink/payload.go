// Package sink forwards canonical readings downstream as JSON: over UDP
// datagrams, MQTT or NATS. Every sink reports a failed hand-off as
// translator.ErrSinkUnavailable.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"avbridge/internal/registry"
	"avbridge/internal/source"
	"avbridge/internal/translator"
)

// Payload is the wire form of a reading. Values are keyed by the decimal
// canonical key.
type Payload struct {
	Source     registry.SourceKind `json:"source"`
	Seq        uint64              `json:"seq"`
	ReceivedAt time.Time           `json:"received_at"`
	Values     map[string]float64  `json:"values"`
}

// Encode marshals r. Non-finite values cannot be represented in JSON and are
// left out.
func Encode(r source.Reading) ([]byte, error) {
	p := Payload{
		Source:     r.Source,
		Seq:        r.Seq,
		ReceivedAt: r.ReceivedAt,
		Values:     make(map[string]float64, len(r.Values)),
	}
	for k, v := range r.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		p.Values[strconv.Itoa(k)] = v
	}
	return json.Marshal(p)
}

// Decode parses a payload produced by Encode.
func Decode(b []byte) (source.Reading, error) {
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return source.Reading{}, err
	}
	r := source.Reading{Source: p.Source, Seq: p.Seq, ReceivedAt: p.ReceivedAt, Values: make(map[int]float64, len(p.Values))}
	for k, v := range p.Values {
		key, err := strconv.Atoi(k)
		if err != nil {
			return source.Reading{}, fmt.Errorf("bad value key %q", k)
		}
		r.Values[key] = v
	}
	return r, nil
}

func unavailable(kind string, err error) error {
	return fmt.Errorf("%w: %s: %v", translator.ErrSinkUnavailable, kind, err)
}

// Discard accepts and drops every reading.
type Discard struct{}

func (Discard) Send(_ context.Context, _ source.Reading) error { return nil }
func (Discard) Close() error                                   { return nil }
