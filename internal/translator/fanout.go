package translator

import (
	"context"
	"sync"
	"time"

	"avbridge/internal/metrics"
	"avbridge/internal/source"
)

// Event is what fan-out subscribers receive: a translated reading, or a raw
// source line when Line is set.
type Event struct {
	At      time.Time
	Reading *source.Reading
	Line    string
}

// Fanout sits at the sink boundary. Every reading goes to the primary sink
// and is offered to each subscriber without blocking; a full subscriber
// queue loses the event.
type Fanout struct {
	primary Sink
	metrics *metrics.Metrics

	mu     sync.Mutex
	subs   []chan Event
	closed bool
}

// NewFanout wraps primary. primary may be nil when only subscribers consume
// readings.
func NewFanout(primary Sink, m *metrics.Metrics) *Fanout {
	return &Fanout{primary: primary, metrics: m}
}

// Subscribe returns a queue of size buf that receives every later event. It
// is closed by Close.
func (f *Fanout) Subscribe(buf int) <-chan Event {
	if buf <= 0 {
		buf = 1
	}
	ch := make(chan Event, buf)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch
	}
	f.subs = append(f.subs, ch)
	return ch
}

func (f *Fanout) Send(ctx context.Context, r source.Reading) error {
	f.publish(Event{At: time.Now().UTC(), Reading: &r})
	if f.primary == nil {
		return nil
	}
	return f.primary.Send(ctx, r)
}

// Tap publishes a raw source line to subscribers only.
func (f *Fanout) Tap(line string) {
	f.publish(Event{At: time.Now().UTC(), Line: line})
}

func (f *Fanout) publish(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for _, ch := range f.subs {
		select {
		case ch <- ev:
		default:
			f.metrics.SubscriberDropped()
		}
	}
}

// Close ends every subscription. Later sends still reach the primary sink.
func (f *Fanout) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, ch := range f.subs {
		close(ch)
	}
	f.subs = nil
}
