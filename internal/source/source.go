// Package source implements the telemetry source adapters. Every adapter
// owns one transport, receives one transport-level unit per Receive call and
// translates raw frames into canonical readings using the lookup table
// compiled for its source kind.
package source

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"avbridge/internal/nmea"
	"avbridge/internal/registry"
)

var (
	// ErrConnection classifies transport failures. Fatal for the adapter
	// instance.
	ErrConnection = errors.New("connection error")
	// ErrMalformedFrame is returned by frame parsers for unexpected or short
	// framing. Adapters drop such frames.
	ErrMalformedFrame = errors.New("malformed frame")
	ErrNotConnected   = errors.New("not connected")
)

// ConnectionError carries the endpoint a transport failure happened on.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error endpoint=%s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

func connErr(endpoint string, err error) error {
	return &ConnectionError{Endpoint: endpoint, Err: err}
}

// Adapter is the contract shared by the simulator, bus gateway and GNSS
// adapters.
type Adapter interface {
	Kind() registry.SourceKind
	Endpoint() string

	// Probe opens and immediately releases a connection. It never fails
	// loudly; false means unreachable.
	Probe() bool
	// Connect establishes the session. Failures are *ConnectionError.
	Connect() error
	// Receive blocks for one transport unit. A nil Frame with a nil error
	// means nothing usable arrived (read timeout or unexpected framing).
	Receive() (Frame, error)
	// Translate resolves a frame into canonical values. Per-variable decode
	// failures are joined into the returned error; the reading still holds
	// every variable that decoded.
	Translate(f Frame) (Reading, error)
	// Disconnect releases the transport. Safe to call more than once and
	// concurrently with Receive.
	Disconnect() error
}

// Frame is one raw receive unit: *SimulatorFrame, *BusFrame or *GNSSFrame.
type Frame interface {
	Kind() registry.SourceKind
	ReceivedAt() time.Time
}

// SimulatorFrame maps data set ids to their eight field values.
type SimulatorFrame struct {
	At   time.Time
	Sets map[int][]float64
}

func (*SimulatorFrame) Kind() registry.SourceKind { return registry.Simulator }
func (f *SimulatorFrame) ReceivedAt() time.Time   { return f.At }

// value returns the field at ref, if present in the frame.
func (f *SimulatorFrame) value(ref registry.FieldRef) (float64, bool) {
	vals, ok := f.Sets[ref.Set]
	if !ok || ref.Pos < 0 || ref.Pos >= len(vals) {
		return 0, false
	}
	return vals[ref.Pos], true
}

// BusSample is one ARINC 429 word reported by the gateway.
type BusSample struct {
	Timestamp float64
	Channel   int
	Label     int
	Word      uint32
}

type BusFrame struct {
	At      time.Time
	Samples []BusSample
}

func (*BusFrame) Kind() registry.SourceKind { return registry.Bus }
func (f *BusFrame) ReceivedAt() time.Time   { return f.At }

// GNSSFrame is one accepted NMEA sentence.
type GNSSFrame struct {
	At       time.Time
	Sentence nmea.Sentence
	Line     string
}

func (*GNSSFrame) Kind() registry.SourceKind { return registry.GNSS }
func (f *GNSSFrame) ReceivedAt() time.Time   { return f.At }

// Reading is the canonical result of one translation cycle. Once handed to
// a sink it is shared read-only.
type Reading struct {
	Source     registry.SourceKind `json:"source"`
	Seq        uint64              `json:"seq"`
	ReceivedAt time.Time           `json:"received_at"`
	Values     map[int]float64     `json:"values"`
}

func newReading(kind registry.SourceKind, f Frame) Reading {
	r := Reading{Source: kind, Values: map[int]float64{}}
	if f != nil {
		r.ReceivedAt = f.ReceivedAt()
	}
	return r
}

func isTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}

func deadline(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
