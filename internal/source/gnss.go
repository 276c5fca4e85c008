package source

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"avbridge/internal/nmea"
	"avbridge/internal/registry"
)

// serialPort is what the GNSS adapter needs from an opened device.
type serialPort interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

type GNSSConfig struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration

	// OnLine, when set, sees every accepted sentence before translation.
	OnLine func(line string)
}

// GNSSAdapter reads NMEA sentences from a serial receiver. Only sentence
// types bound in its table are passed on.
type GNSSAdapter struct {
	cfg   GNSSConfig
	table *registry.Table
	open  func(path string, baud int) (serialPort, error)

	mu     sync.Mutex
	port   serialPort
	reader *lineReader
}

func NewGNSS(cfg GNSSConfig, table *registry.Table) (*GNSSAdapter, error) {
	if strings.TrimSpace(cfg.Device) == "" {
		return nil, fmt.Errorf("gnss device is required")
	}
	if table == nil || table.Source != registry.GNSS {
		return nil, fmt.Errorf("gnss adapter needs a gnss lookup table")
	}
	if cfg.Baud <= 0 {
		cfg.Baud = 115200
	}
	return &GNSSAdapter{cfg: cfg, table: table, open: openSerial}, nil
}

func (a *GNSSAdapter) Kind() registry.SourceKind { return registry.GNSS }
func (a *GNSSAdapter) Endpoint() string          { return fmt.Sprintf("serial://%s@%d", a.cfg.Device, a.cfg.Baud) }

func (a *GNSSAdapter) Probe() bool {
	p, err := a.open(a.cfg.Device, a.cfg.Baud)
	if err != nil {
		log.Printf("gnss probe failed device=%s: %v", a.cfg.Device, err)
		return false
	}
	_ = p.Close()
	return true
}

func (a *GNSSAdapter) Connect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.port != nil {
		return nil
	}
	p, err := a.open(a.cfg.Device, a.cfg.Baud)
	if err != nil {
		return connErr(a.Endpoint(), err)
	}
	a.port = p
	a.reader = newLineReader(p, 0)
	log.Printf("gnss connected device=%s baud=%d", a.cfg.Device, a.cfg.Baud)
	return nil
}

// Receive reads one line. Lines that are not well-formed NMEA, fail their
// checksum, or carry an unbound sentence type yield a nil frame.
func (a *GNSSAdapter) Receive() (Frame, error) {
	a.mu.Lock()
	port, reader := a.port, a.reader
	a.mu.Unlock()
	if port == nil {
		return nil, connErr(a.Endpoint(), ErrNotConnected)
	}

	_ = port.SetReadDeadline(deadline(a.cfg.ReadTimeout))
	line, err := reader.readLine()
	if err != nil {
		if isTimeout(err) || errors.Is(err, ErrMalformedFrame) {
			return nil, nil
		}
		return nil, connErr(a.Endpoint(), err)
	}
	if !strings.HasPrefix(line, "$") {
		return nil, nil
	}
	s, err := nmea.Parse(line)
	if err != nil {
		return nil, nil
	}
	if len(a.table.Lookup(registry.SentenceGroup(s.Type))) == 0 {
		return nil, nil
	}
	if a.cfg.OnLine != nil {
		a.cfg.OnLine(line)
	}
	return &GNSSFrame{At: time.Now().UTC(), Sentence: s, Line: line}, nil
}

// Translate decodes the sentence once per tuple kind and picks the bound
// positions out of it. A sentence that fails to decode contributes no values
// and one error per variable bound to it.
func (a *GNSSAdapter) Translate(fr Frame) (Reading, error) {
	out := newReading(registry.GNSS, fr)
	f, ok := fr.(*GNSSFrame)
	if !ok || f == nil {
		return out, nil
	}

	tuples := map[registry.DecoderKind][]float64{}
	decodeErrs := map[registry.DecoderKind]error{}
	var errs []error
	for _, field := range a.table.Lookup(registry.SentenceGroup(f.Sentence.Type)) {
		tuple, ok := tuples[field.Decoder.Kind]
		if !ok {
			var err error
			tuple, err = decodeSentence(field.Decoder.Kind, f.Sentence)
			if err != nil {
				tuple = nil
			}
			tuples[field.Decoder.Kind] = tuple
			decodeErrs[field.Decoder.Kind] = err
		}
		if err := decodeErrs[field.Decoder.Kind]; err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field.Name, err))
			continue
		}
		if field.Pos < len(tuple) {
			out.Values[field.Key] = tuple[field.Pos]
		}
	}
	return out, errors.Join(errs...)
}

func (a *GNSSAdapter) Disconnect() error {
	a.mu.Lock()
	port := a.port
	a.port = nil
	a.mu.Unlock()
	if port == nil {
		return nil
	}
	log.Printf("gnss disconnected device=%s", a.cfg.Device)
	return port.Close()
}

func decodeSentence(kind registry.DecoderKind, s nmea.Sentence) ([]float64, error) {
	switch kind {
	case registry.NMEAFix:
		fix, err := nmea.DecodeFix(s.Fields)
		if err != nil {
			return nil, err
		}
		return fix.Tuple(), nil
	case registry.NMEAVelocity:
		v, err := nmea.DecodeVelocity(s.Fields)
		if err != nil {
			return nil, err
		}
		return v.Tuple(), nil
	default:
		return nil, fmt.Errorf("%w: %s does not apply to a sentence", registry.ErrInvalidDecodeSpec, kind)
	}
}
