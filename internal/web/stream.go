package web

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	streamWriteWait  = 2 * time.Second
	streamPingPeriod = 20 * time.Second
)

// Stream pushes live readings to websocket clients. New clients get the
// most recent reading immediately. A client that cannot keep up loses
// readings rather than slowing the others.
type Stream struct {
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	subs   map[int]chan LiveReading
	nextID int
	last   LiveReading
	have   bool
}

func NewStream() *Stream {
	return &Stream{
		subs: make(map[int]chan LiveReading),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (s *Stream) Subscribe(buffer int) (int, <-chan LiveReading) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan LiveReading, buffer)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	// Queued under the lock so a concurrent Publish lands after it.
	if s.have {
		ch <- s.last
	}
	s.mu.Unlock()
	return id, ch
}

func (s *Stream) Unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *Stream) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

func (s *Stream) Publish(r LiveReading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = r
	s.have = true
	for _, ch := range s.subs {
		select {
		case ch <- r:
		default:
		}
	}
}

// ServeHTTP upgrades the request and writes one JSON message per reading
// until the client goes away.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web stream upgrade failed remote=%s: %v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()

	id, readings := s.Subscribe(16)
	defer s.Unsubscribe(id)

	// Reader: only needed to notice the close frame.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case rd, ok := <-readings:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(rd); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
