package translator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"avbridge/internal/registry"
	"avbridge/internal/source"
)

type step struct {
	frame source.Frame
	err   error
}

type fakeAdapter struct {
	mu          sync.Mutex
	steps       []step
	connectErr  error
	decodeErr   error
	connects    int
	disconnects int

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeAdapter(steps ...step) *fakeAdapter {
	return &fakeAdapter{steps: steps, closed: make(chan struct{})}
}

func (a *fakeAdapter) Kind() registry.SourceKind { return registry.Simulator }
func (a *fakeAdapter) Endpoint() string          { return "fake://" }
func (a *fakeAdapter) Probe() bool               { return true }

func (a *fakeAdapter) Connect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connects++
	return a.connectErr
}

// Receive replays the scripted steps, then blocks until Disconnect.
func (a *fakeAdapter) Receive() (source.Frame, error) {
	a.mu.Lock()
	if len(a.steps) > 0 {
		s := a.steps[0]
		a.steps = a.steps[1:]
		a.mu.Unlock()
		return s.frame, s.err
	}
	a.mu.Unlock()
	<-a.closed
	return nil, &source.ConnectionError{Endpoint: "fake://", Err: errors.New("use of closed connection")}
}

func (a *fakeAdapter) Translate(f source.Frame) (source.Reading, error) {
	sf := f.(*source.SimulatorFrame)
	return source.Reading{
		Source:     registry.Simulator,
		ReceivedAt: sf.At,
		Values:     map[int]float64{1: sf.Sets[1][0]},
	}, a.decodeErr
}

func (a *fakeAdapter) Disconnect() error {
	a.mu.Lock()
	a.disconnects++
	a.mu.Unlock()
	a.closeOnce.Do(func() { close(a.closed) })
	return nil
}

func (a *fakeAdapter) disconnectCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.disconnects
}

type fakeSink struct {
	got  chan source.Reading
	errs []error
	mu   sync.Mutex
}

func (s *fakeSink) Send(_ context.Context, r source.Reading) error {
	s.got <- r
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func frame(v float64) step {
	return step{frame: &source.SimulatorFrame{At: time.Now(), Sets: map[int][]float64{1: {v}}}}
}

func TestRun_ForwardsReadingsUntilCancelled(t *testing.T) {
	a := newFakeAdapter(
		frame(1),
		step{},
		step{err: source.ErrMalformedFrame},
		frame(2),
	)
	sink := &fakeSink{got: make(chan source.Reading, 4), errs: []error{ErrSinkUnavailable}}
	tr := New(a, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- tr.Run(ctx) }()

	var got []source.Reading
	for len(got) < 2 {
		select {
		case r := <-sink.got:
			got = append(got, r)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d readings", len(got))
		}
	}
	if tr.State() != Running {
		t.Fatalf("state=%s want running", tr.State())
	}

	// The first send failed; the loop must have continued to the second.
	if got[0].Seq != 1 || got[0].Values[1] != 1 {
		t.Fatalf("first reading=%+v", got[0])
	}
	if got[1].Seq != 2 || got[1].Values[1] != 2 {
		t.Fatalf("second reading=%+v", got[1])
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run() error after cancel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	if tr.State() != Stopped {
		t.Fatalf("state=%s want stopped", tr.State())
	}
	if a.disconnectCount() == 0 {
		t.Fatalf("adapter was not disconnected")
	}
}

func TestRun_ConnectFailure(t *testing.T) {
	a := newFakeAdapter()
	a.connectErr = &source.ConnectionError{Endpoint: "fake://", Err: errors.New("refused")}
	tr := New(a, &fakeSink{got: make(chan source.Reading, 1)}, nil)

	err := tr.Run(context.Background())
	if !errors.Is(err, source.ErrConnection) {
		t.Fatalf("Run() err=%v want ErrConnection", err)
	}
	if tr.State() != Stopped {
		t.Fatalf("state=%s want stopped", tr.State())
	}
	if n := a.disconnectCount(); n != 1 {
		t.Fatalf("disconnects=%d want 1", n)
	}

	if err := tr.Run(context.Background()); err == nil {
		t.Fatalf("second Run() should fail")
	}
	if a.connects != 1 {
		t.Fatalf("connects=%d want 1", a.connects)
	}
}

func TestRun_TransportLossIsFatal(t *testing.T) {
	lost := &source.ConnectionError{Endpoint: "fake://", Err: errors.New("reset by peer")}
	a := newFakeAdapter(frame(1), step{err: lost})
	sink := &fakeSink{got: make(chan source.Reading, 2)}
	tr := New(a, sink, nil)

	err := tr.Run(context.Background())
	if !errors.Is(err, lost) {
		t.Fatalf("Run() err=%v want %v", err, lost)
	}
	if len(sink.got) != 1 {
		t.Fatalf("readings=%d want 1", len(sink.got))
	}
}

func TestRun_DecodeErrorsStillForward(t *testing.T) {
	a := newFakeAdapter(frame(7), step{err: &source.ConnectionError{Err: errors.New("eof")}})
	a.decodeErr = errors.Join(errors.New("a"), errors.New("b"))
	sink := &fakeSink{got: make(chan source.Reading, 1)}

	_ = New(a, sink, nil).Run(context.Background())
	r := <-sink.got
	if r.Values[1] != 7 {
		t.Fatalf("reading=%+v", r)
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{Idle: "idle", Connecting: "connecting", Running: "running", Stopped: "stopped"} {
		if s.String() != want {
			t.Fatalf("State(%d).String()=%q want %q", int32(s), s.String(), want)
		}
	}
}
