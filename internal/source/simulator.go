package source

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"math"
	"net"
	"sync"
	"time"

	"avbridge/internal/registry"
)

const (
	simHeader       = "DATA"
	simHeaderLen    = 5
	simRecordLen    = 36
	simFieldsPerSet = 8
	simMaxDatagram  = 2048
)

type SimulatorConfig struct {
	// Listen is the local UDP address the simulator sends its data output to.
	Listen      string
	ReadTimeout time.Duration
}

// SimulatorAdapter receives X-Plane style "DATA" datagrams: a 5-byte header
// followed by 36-byte records (uint32 set id + 8 float32, little endian).
type SimulatorAdapter struct {
	cfg   SimulatorConfig
	table *registry.Table

	mu   sync.Mutex
	conn net.PacketConn
	buf  []byte
}

func NewSimulator(cfg SimulatorConfig, table *registry.Table) (*SimulatorAdapter, error) {
	if cfg.Listen == "" {
		return nil, fmt.Errorf("simulator listen address is required")
	}
	if table == nil || table.Source != registry.Simulator {
		return nil, fmt.Errorf("simulator adapter needs a simulator lookup table")
	}
	return &SimulatorAdapter{cfg: cfg, table: table, buf: make([]byte, simMaxDatagram)}, nil
}

func (a *SimulatorAdapter) Kind() registry.SourceKind { return registry.Simulator }
func (a *SimulatorAdapter) Endpoint() string          { return "udp://" + a.cfg.Listen }

func (a *SimulatorAdapter) Probe() bool {
	pc, err := net.ListenPacket("udp", a.cfg.Listen)
	if err != nil {
		log.Printf("simulator probe failed listen=%s: %v", a.cfg.Listen, err)
		return false
	}
	_ = pc.Close()
	return true
}

func (a *SimulatorAdapter) Connect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		return nil
	}
	pc, err := net.ListenPacket("udp", a.cfg.Listen)
	if err != nil {
		return connErr(a.Endpoint(), err)
	}
	a.conn = pc
	log.Printf("simulator connected listen=%s", pc.LocalAddr())
	return nil
}

// LocalAddr is the bound address once connected.
func (a *SimulatorAdapter) LocalAddr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil
	}
	return a.conn.LocalAddr()
}

func (a *SimulatorAdapter) Receive() (Frame, error) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return nil, connErr(a.Endpoint(), ErrNotConnected)
	}

	_ = conn.SetReadDeadline(deadline(a.cfg.ReadTimeout))
	n, _, err := conn.ReadFrom(a.buf)
	if err != nil {
		if isTimeout(err) {
			return nil, nil
		}
		return nil, connErr(a.Endpoint(), err)
	}

	f, err := ParseSimulatorDatagram(a.buf[:n])
	if err != nil {
		return nil, nil
	}
	f.At = time.Now().UTC()
	return f, nil
}

// ParseSimulatorDatagram unpacks a "DATA" datagram. A trailing partial
// record is ignored.
func ParseSimulatorDatagram(b []byte) (*SimulatorFrame, error) {
	if len(b) < simHeaderLen || !bytes.HasPrefix(b, []byte(simHeader)) {
		return nil, fmt.Errorf("%w: missing %q header", ErrMalformedFrame, simHeader)
	}
	payload := b[simHeaderLen:]
	f := &SimulatorFrame{Sets: make(map[int][]float64, len(payload)/simRecordLen)}
	for off := 0; off+simRecordLen <= len(payload); off += simRecordLen {
		rec := payload[off : off+simRecordLen]
		set := int(binary.LittleEndian.Uint32(rec[0:4]))
		vals := make([]float64, simFieldsPerSet)
		for i := range vals {
			bits := binary.LittleEndian.Uint32(rec[4+4*i : 8+4*i])
			vals[i] = float64(math.Float32frombits(bits))
		}
		f.Sets[set] = vals
	}
	return f, nil
}

// EncodeSimulatorDatagram builds a "DATA" datagram from set values.
func EncodeSimulatorDatagram(sets map[int][]float64) []byte {
	out := make([]byte, simHeaderLen, simHeaderLen+len(sets)*simRecordLen)
	copy(out, simHeader)
	rec := make([]byte, simRecordLen)
	for _, set := range sortedKeys(sets) {
		binary.LittleEndian.PutUint32(rec[0:4], uint32(set))
		for i := 0; i < simFieldsPerSet; i++ {
			var v float64
			if i < len(sets[set]) {
				v = sets[set][i]
			}
			binary.LittleEndian.PutUint32(rec[4+4*i:8+4*i], math.Float32bits(float32(v)))
		}
		out = append(out, rec...)
	}
	return out
}

// Translate evaluates derived variables against the whole frame first, then
// per-set field bindings. Sets without bindings are ignored.
func (a *SimulatorAdapter) Translate(fr Frame) (Reading, error) {
	out := newReading(registry.Simulator, fr)
	f, ok := fr.(*SimulatorFrame)
	if !ok || f == nil {
		return out, nil
	}

	var errs []error
	for _, d := range a.table.Derived {
		v, ok, err := decodeDerived(d.Decoder, f)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Name, err))
			continue
		}
		if ok {
			out.Values[d.Key] = v
		}
	}

	for _, set := range sortedKeys(f.Sets) {
		vals := f.Sets[set]
		for _, field := range a.table.Lookup(registry.SetGroup(set)) {
			if field.Pos >= len(vals) {
				continue
			}
			v, err := decodeScalar(field.Decoder, vals[field.Pos])
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", field.Name, err))
				continue
			}
			out.Values[field.Key] = v
		}
	}
	return out, errors.Join(errs...)
}

func (a *SimulatorAdapter) Disconnect() error {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()
	if conn == nil {
		return nil
	}
	log.Printf("simulator disconnected listen=%s", a.cfg.Listen)
	return conn.Close()
}

// decodeDerived computes a cross-field variable. ok is false when the frame
// lacks one of the referenced fields.
func decodeDerived(d registry.Decoder, f *SimulatorFrame) (float64, bool, error) {
	hdg, ok1 := f.value(d.Heading)
	gs, ok2 := f.value(d.Speed)
	if !ok1 || !ok2 {
		return 0, false, nil
	}
	rad := hdg * math.Pi / 180
	switch d.Kind {
	case registry.EastSpeed:
		return math.Sin(rad) * gs, true, nil
	case registry.NorthSpeed:
		return math.Cos(rad) * gs, true, nil
	default:
		return 0, false, fmt.Errorf("%w: %s is not a derived decoder", registry.ErrInvalidDecodeSpec, d.Kind)
	}
}

func decodeScalar(d registry.Decoder, v float64) (float64, error) {
	switch d.Kind {
	case registry.Raw:
		return v, nil
	case registry.ScaleToInt:
		return math.Floor(v * d.Scale), nil
	default:
		return 0, fmt.Errorf("%w: %s does not apply to a simulator field", registry.ErrInvalidDecodeSpec, d.Kind)
	}
}
