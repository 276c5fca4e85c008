// Package translator drives one source adapter: receive a raw frame,
// translate it into a canonical reading, hand the reading to a sink.
package translator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"avbridge/internal/metrics"
	"avbridge/internal/source"
)

// ErrSinkUnavailable is returned by sinks that cannot take a reading right
// now. The translator logs it and keeps going.
var ErrSinkUnavailable = errors.New("sink unavailable")

// Sink accepts one canonical reading per call. Readings are shared and must
// be treated as read-only.
type Sink interface {
	Send(ctx context.Context, r source.Reading) error
}

type State int32

const (
	Idle State = iota
	Connecting
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Translator struct {
	adapter source.Adapter
	sink    Sink
	metrics *metrics.Metrics

	state atomic.Int32
	seq   uint64

	now func() time.Time
}

// New returns an idle translator. m may be nil.
func New(a source.Adapter, sink Sink, m *metrics.Metrics) *Translator {
	return &Translator{adapter: a, sink: sink, metrics: m, now: time.Now}
}

func (t *Translator) State() State { return State(t.state.Load()) }

// Run connects the adapter and ingests until ctx is done or the transport
// fails. A translator runs once. Cancellation returns nil; a connection
// failure is returned as-is.
func (t *Translator) Run(ctx context.Context) error {
	if !t.state.CompareAndSwap(int32(Idle), int32(Connecting)) {
		return fmt.Errorf("translator is %s, not idle", t.State())
	}
	kind := t.adapter.Kind()
	log.Printf("translator connecting source=%s endpoint=%s", kind, t.adapter.Endpoint())

	if err := t.adapter.Connect(); err != nil {
		t.state.Store(int32(Stopped))
		_ = t.adapter.Disconnect()
		return err
	}
	t.state.Store(int32(Running))
	log.Printf("translator running source=%s", kind)

	// Receive blocks in the transport; disconnecting is what unblocks it.
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = t.adapter.Disconnect()
		case <-done:
		}
	}()
	defer func() {
		close(done)
		if err := t.adapter.Disconnect(); err != nil {
			log.Printf("translator disconnect source=%s: %v", kind, err)
		}
		t.state.Store(int32(Stopped))
		log.Printf("translator stopped source=%s readings=%d", kind, t.seq)
	}()

	for ctx.Err() == nil {
		f, err := t.adapter.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, source.ErrMalformedFrame) {
				t.metrics.FrameDropped(kind, "malformed")
				continue
			}
			return err
		}
		if f == nil {
			t.metrics.FrameDropped(kind, "empty")
			continue
		}
		t.metrics.FrameReceived(kind)
		t.cycle(context.WithoutCancel(ctx), f)
	}
	return nil
}

// cycle translates and forwards one frame. It runs to completion even when
// shutdown has been requested.
func (t *Translator) cycle(ctx context.Context, f source.Frame) {
	kind := t.adapter.Kind()
	r, err := t.adapter.Translate(f)
	if err != nil {
		n := 1
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			n = len(joined.Unwrap())
		}
		t.metrics.DecodeErrors(kind, n)
		log.Printf("translator decode source=%s: %v", kind, err)
	}

	t.seq++
	r.Seq = t.seq
	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = t.now().UTC()
	}

	if err := t.sink.Send(ctx, r); err != nil {
		t.metrics.SendFailed(kind)
		log.Printf("translator sink send failed source=%s seq=%d: %v", kind, r.Seq, err)
		return
	}
	t.metrics.Sent(kind, t.now().Sub(r.ReceivedAt))
}
