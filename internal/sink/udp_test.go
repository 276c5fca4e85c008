package sink

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"avbridge/internal/registry"
	"avbridge/internal/source"
	"avbridge/internal/translator"
)

type fakeConn struct {
	writes    [][]byte
	writeErr  error
	closed    bool
	closeErr  error
	writeHits int
	deadline  time.Time
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.writeHits++
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	cp := append([]byte(nil), p...)
	c.writes = append(c.writes, cp)
	return len(p), nil
}

func (c *fakeConn) SetWriteDeadline(t time.Time) error {
	c.deadline = t
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return c.closeErr
}

func TestNewUDP_DialsResolvedAddr(t *testing.T) {
	var gotNetwork string
	var gotRaddr *net.UDPAddr
	fc := &fakeConn{}

	resolve := func(network, address string) (*net.UDPAddr, error) {
		return net.ResolveUDPAddr(network, address)
	}
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		gotNetwork = network
		gotRaddr = raddr
		return fc, nil
	}

	u, err := newUDP("127.0.0.1:4000", time.Second, resolve, dial)
	if err != nil {
		t.Fatalf("newUDP() error: %v", err)
	}
	defer u.Close()

	if gotNetwork != "udp" {
		t.Fatalf("network=%q want %q", gotNetwork, "udp")
	}
	if gotRaddr == nil || gotRaddr.Port != 4000 || !gotRaddr.IP.Equal(net.IPv4(127, 0, 0, 1)) {
		t.Fatalf("raddr=%v want 127.0.0.1:4000", gotRaddr)
	}
}

func TestNewUDP_ResolveFailure(t *testing.T) {
	resolveErr := errors.New("nope")
	resolve := func(network, address string) (*net.UDPAddr, error) {
		return nil, resolveErr
	}
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return &fakeConn{}, nil
	}

	_, err := newUDP("bad:addr", 0, resolve, dial)
	if !errors.Is(err, resolveErr) {
		t.Fatalf("err=%v want %v", err, resolveErr)
	}
}

func TestUDP_SendWritesPayload(t *testing.T) {
	fc := &fakeConn{}
	u := &UDP{dest: "x", timeout: time.Second, conn: fc}

	r := source.Reading{Source: registry.Bus, Seq: 9, Values: map[int]float64{10: 47.5}}
	if err := u.Send(context.Background(), r); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if fc.writeHits != 1 || len(fc.writes) != 1 {
		t.Fatalf("writes=%d want 1", fc.writeHits)
	}
	if fc.deadline.IsZero() {
		t.Fatalf("write deadline not set")
	}
	got, err := Decode(fc.writes[0])
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if got.Seq != 9 || got.Source != registry.Bus || got.Values[10] != 47.5 {
		t.Fatalf("decoded=%+v", got)
	}
}

func TestUDP_SendFailureIsUnavailable(t *testing.T) {
	wantErr := errors.New("boom")
	u := &UDP{dest: "x", conn: &fakeConn{writeErr: wantErr}}

	err := u.Send(context.Background(), source.Reading{})
	if !errors.Is(err, translator.ErrSinkUnavailable) {
		t.Fatalf("err=%v want ErrSinkUnavailable", err)
	}
}

func TestUDP_CloseThenSend(t *testing.T) {
	fc := &fakeConn{}
	u := &UDP{dest: "x", conn: fc}
	if err := u.Close(); err != nil || !fc.closed {
		t.Fatalf("Close() err=%v closed=%v", err, fc.closed)
	}
	if err := u.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
	if err := u.Send(context.Background(), source.Reading{}); !errors.Is(err, translator.ErrSinkUnavailable) {
		t.Fatalf("Send after Close err=%v", err)
	}
}

func TestUDP_Loopback(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket() error: %v", err)
	}
	defer pc.Close()

	u, err := NewUDP(pc.LocalAddr().String(), time.Second)
	if err != nil {
		t.Fatalf("NewUDP() error: %v", err)
	}
	defer u.Close()

	if err := u.Send(context.Background(), source.Reading{Source: registry.GNSS, Seq: 1, Values: map[int]float64{0: 45319}}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	buf := make([]byte, 2048)
	_ = pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom() error: %v", err)
	}
	r, err := Decode(buf[:n])
	if err != nil || r.Values[0] != 45319 {
		t.Fatalf("received=%+v,%v", r, err)
	}
}
