package web

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"avbridge/internal/source"
	"avbridge/internal/translator"
)

// Status tracks what the bridge is doing for the status API. It is fed from
// a fan-out subscription and never blocks ingestion.
type Status struct {
	startUnixNano int64
	readings      uint64
	lines         uint64
	lastNano      int64

	source   string
	endpoint string
	sink     string
	names    map[int]string
	state    func() translator.State

	mu   sync.RWMutex
	last LiveReading
	have bool
}

// LiveReading is a reading with its values keyed by variable name. Keys
// with no registered name appear as their decimal key.
type LiveReading struct {
	Source     string             `json:"source"`
	Seq        uint64             `json:"seq"`
	ReceivedAt string             `json:"received_at"`
	Values     map[string]float64 `json:"values"`
}

type StatusSnapshot struct {
	Service      string       `json:"service"`
	NowUTC       string       `json:"now_utc"`
	UptimeSec    int64        `json:"uptime_sec"`
	Source       string       `json:"source"`
	Endpoint     string       `json:"endpoint"`
	Sink         string       `json:"sink"`
	State        string       `json:"state"`
	ReadingsSeen uint64       `json:"readings_seen"`
	LinesSeen    uint64       `json:"lines_seen"`
	LastUTC      string       `json:"last_utc,omitempty"`
	Last         *LiveReading `json:"last,omitempty"`
}

// NewStatus builds a Status. names maps canonical keys to variable names.
// state, when set, reports the translator's lifecycle state.
func NewStatus(sourceKind, endpoint, sinkKind string, names map[int]string, state func() translator.State) *Status {
	s := &Status{
		source:   sourceKind,
		endpoint: endpoint,
		sink:     sinkKind,
		names:    names,
		state:    state,
	}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	return s
}

// Live converts r for display.
func (s *Status) Live(r source.Reading) LiveReading {
	out := LiveReading{
		Source: r.Source.String(),
		Seq:    r.Seq,
		Values: make(map[string]float64, len(r.Values)),
	}
	if !r.ReceivedAt.IsZero() {
		out.ReceivedAt = r.ReceivedAt.UTC().Format(time.RFC3339Nano)
	}
	for k, v := range r.Values {
		name, ok := s.names[k]
		if !ok {
			name = strconv.Itoa(k)
		}
		out.Values[name] = v
	}
	return out
}

// Observe records one fan-out event.
func (s *Status) Observe(ev translator.Event) {
	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	atomic.StoreInt64(&s.lastNano, at.UnixNano())
	if ev.Reading == nil {
		atomic.AddUint64(&s.lines, 1)
		return
	}
	atomic.AddUint64(&s.readings, 1)
	live := s.Live(*ev.Reading)
	s.mu.Lock()
	s.last = live
	s.have = true
	s.mu.Unlock()
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	snap := StatusSnapshot{
		Service:      "avbridge",
		NowUTC:       nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:    int64(nowUTC.Sub(start).Seconds()),
		Source:       s.source,
		Endpoint:     s.endpoint,
		Sink:         s.sink,
		State:        "replay",
		ReadingsSeen: atomic.LoadUint64(&s.readings),
		LinesSeen:    atomic.LoadUint64(&s.lines),
	}
	if s.state != nil {
		snap.State = s.state().String()
	}
	if last := atomic.LoadInt64(&s.lastNano); last != 0 {
		snap.LastUTC = time.Unix(0, last).UTC().Format(time.RFC3339Nano)
	}
	s.mu.RLock()
	if s.have {
		last := s.last
		snap.Last = &last
	}
	s.mu.RUnlock()
	return snap
}
