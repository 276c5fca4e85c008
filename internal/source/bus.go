package source

import (
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"avbridge/internal/arinc429"
	"avbridge/internal/registry"
)

const busWordMask = 1<<arinc429.WordBits - 1

type BusConfig struct {
	// Addr is the gateway's host:port.
	Addr         string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	MaxLineBytes int
}

// BusAdapter talks to an avionics bus gateway over TCP. After connecting it
// subscribes to every (channel, label) in its table with "add,<ch>,<label>"
// and then receives "data,<timestamp>,<channel>,<label>,<hex-word>" records.
type BusAdapter struct {
	cfg   BusConfig
	table *registry.Table

	mu     sync.Mutex
	conn   net.Conn
	reader *lineReader
}

func NewBus(cfg BusConfig, table *registry.Table) (*BusAdapter, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("bus gateway addr is required")
	}
	if table == nil || table.Source != registry.Bus {
		return nil, fmt.Errorf("bus adapter needs a bus lookup table")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	return &BusAdapter{cfg: cfg, table: table}, nil
}

func (a *BusAdapter) Kind() registry.SourceKind { return registry.Bus }
func (a *BusAdapter) Endpoint() string          { return "tcp://" + a.cfg.Addr }

func (a *BusAdapter) Probe() bool {
	conn, err := net.DialTimeout("tcp", a.cfg.Addr, a.cfg.DialTimeout)
	if err != nil {
		log.Printf("bus probe failed addr=%s: %v", a.cfg.Addr, err)
		return false
	}
	_ = conn.Close()
	return true
}

func (a *BusAdapter) Connect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", a.cfg.Addr, a.cfg.DialTimeout)
	if err != nil {
		return connErr(a.Endpoint(), err)
	}
	log.Printf("bus connected addr=%s", a.cfg.Addr)

	for _, sub := range a.Subscriptions() {
		if _, err := conn.Write([]byte(sub)); err != nil {
			_ = conn.Close()
			return connErr(a.Endpoint(), fmt.Errorf("subscribe %q: %w", strings.TrimSpace(sub), err))
		}
		log.Printf("bus subscribed %s", strings.TrimSpace(sub))
	}

	a.conn = conn
	a.reader = newLineReader(conn, a.cfg.MaxLineBytes)
	return nil
}

// Subscriptions lists the gateway requests issued on Connect, one per bound
// (channel, label).
func (a *BusAdapter) Subscriptions() []string {
	var out []string
	for _, g := range a.table.Groups() {
		for _, f := range a.table.Lookup(g) {
			out = append(out, fmt.Sprintf("add,%d,%d\n", g.ID, f.Pos))
		}
	}
	return out
}

// Receive reads one record and any further complete records already
// buffered. Lines that are not data records are skipped.
func (a *BusAdapter) Receive() (Frame, error) {
	a.mu.Lock()
	conn, reader := a.conn, a.reader
	a.mu.Unlock()
	if conn == nil {
		return nil, connErr(a.Endpoint(), ErrNotConnected)
	}

	_ = conn.SetReadDeadline(deadline(a.cfg.ReadTimeout))
	line, err := reader.readLine()
	if err != nil {
		if isTimeout(err) || errors.Is(err, ErrMalformedFrame) {
			return nil, nil
		}
		return nil, connErr(a.Endpoint(), err)
	}

	f := &BusFrame{At: time.Now().UTC()}
	for {
		if s, err := ParseBusRecord(line); err == nil {
			f.Samples = append(f.Samples, s)
		}
		if !reader.hasLine() {
			break
		}
		if line, err = reader.readLine(); err != nil {
			break
		}
	}
	if len(f.Samples) == 0 {
		return nil, nil
	}
	return f, nil
}

// ParseBusRecord parses "data,<timestamp>,<channel>,<label>,<hex-word>".
func ParseBusRecord(line string) (BusSample, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) < 5 || parts[0] != "data" {
		return BusSample{}, fmt.Errorf("%w: not a data record: %q", ErrMalformedFrame, line)
	}
	ts, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return BusSample{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformedFrame, parts[1])
	}
	ch, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return BusSample{}, fmt.Errorf("%w: bad channel %q", ErrMalformedFrame, parts[2])
	}
	label, err := strconv.Atoi(strings.TrimSpace(parts[3]))
	if err != nil {
		return BusSample{}, fmt.Errorf("%w: bad label %q", ErrMalformedFrame, parts[3])
	}
	hexWord := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(parts[4])), "0x")
	word, err := strconv.ParseUint(hexWord, 16, 32)
	if err != nil {
		return BusSample{}, fmt.Errorf("%w: bad word %q", ErrMalformedFrame, parts[4])
	}
	return BusSample{Timestamp: ts, Channel: ch, Label: label, Word: uint32(word)}, nil
}

// FormatBusRecord is the inverse of ParseBusRecord.
func FormatBusRecord(s BusSample) string {
	return fmt.Sprintf("data,%s,%d,%d,%06x\n", strconv.FormatFloat(s.Timestamp, 'f', -1, 64), s.Channel, s.Label, s.Word)
}

// Translate decodes every sample whose (channel, label) is bound. When a
// label repeats within a frame the last sample wins.
func (a *BusAdapter) Translate(fr Frame) (Reading, error) {
	out := newReading(registry.Bus, fr)
	f, ok := fr.(*BusFrame)
	if !ok || f == nil {
		return out, nil
	}
	var errs []error
	for _, s := range f.Samples {
		field, ok := a.table.Field(registry.ChannelGroup(s.Channel), s.Label)
		if !ok {
			continue
		}
		v, err := decodeWord(field.Decoder, s.Word&busWordMask)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field.Name, err))
			continue
		}
		out.Values[field.Key] = v
	}
	return out, errors.Join(errs...)
}

func (a *BusAdapter) Disconnect() error {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()
	if conn == nil {
		return nil
	}
	log.Printf("bus disconnected addr=%s", a.cfg.Addr)
	return conn.Close()
}

func decodeWord(d registry.Decoder, word uint32) (float64, error) {
	switch d.Kind {
	case registry.Raw:
		return float64(word), nil
	case registry.BNR:
		return arinc429.DecodeBNR(word, d.BNR)
	case registry.BCD:
		return arinc429.DecodeBCD(word, d.BCD)
	default:
		return 0, fmt.Errorf("%w: %s does not apply to a bus word", registry.ErrInvalidDecodeSpec, d.Kind)
	}
}
