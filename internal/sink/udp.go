package sink

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"avbridge/internal/source"
)

type udpConn interface {
	Write(p []byte) (int, error)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// UDP sends one JSON datagram per reading to a fixed destination.
type UDP struct {
	dest    string
	timeout time.Duration

	mu   sync.Mutex
	conn udpConn
}

func NewUDP(dest string, timeout time.Duration) (*UDP, error) {
	return newUDP(dest, timeout, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newUDP(
	dest string,
	timeout time.Duration,
	resolve func(network, address string) (*net.UDPAddr, error),
	dial func(network string, laddr, raddr *net.UDPAddr) (udpConn, error),
) (*UDP, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}
	return &UDP{dest: dest, timeout: timeout, conn: conn}, nil
}

func (u *UDP) Send(_ context.Context, r source.Reading) error {
	payload, err := Encode(r)
	if err != nil {
		return fmt.Errorf("encode reading: %w", err)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return unavailable("udp "+u.dest, net.ErrClosed)
	}
	if u.timeout > 0 {
		_ = u.conn.SetWriteDeadline(time.Now().Add(u.timeout))
	}
	if _, err := u.conn.Write(payload); err != nil {
		return unavailable("udp "+u.dest, err)
	}
	return nil
}

func (u *UDP) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return nil
	}
	err := u.conn.Close()
	u.conn = nil
	return err
}
