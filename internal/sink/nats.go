package sink

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"avbridge/internal/source"
)

type NATSConfig struct {
	URL     string
	Subject string
	Timeout time.Duration
}

// NATS publishes each reading to <Subject>.<source>. Publishing is
// fire-and-forget; the client buffers while reconnecting.
type NATS struct {
	cfg     NATSConfig
	conn    *nats.Conn
	publish func(subject string, data []byte) error
}

func NewNATS(cfg NATSConfig) (*NATS, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Subject == "" {
		cfg.Subject = "avbridge"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("avbridge"),
		nats.Timeout(cfg.Timeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("nats disconnected url=%s: %v", cfg.URL, err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats reconnected url=%s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	log.Printf("nats connected url=%s subject=%s", cfg.URL, cfg.Subject)
	return &NATS{cfg: cfg, conn: conn, publish: conn.Publish}, nil
}

func (n *NATS) subject(r source.Reading) string {
	return n.cfg.Subject + "." + r.Source.String()
}

func (n *NATS) Send(ctx context.Context, r source.Reading) error {
	if err := ctx.Err(); err != nil {
		return unavailable("nats", err)
	}
	payload, err := Encode(r)
	if err != nil {
		return fmt.Errorf("encode reading: %w", err)
	}
	if err := n.publish(n.subject(r), payload); err != nil {
		return unavailable("nats", err)
	}
	return nil
}

func (n *NATS) Close() error {
	if n.conn == nil {
		return nil
	}
	if err := n.conn.FlushTimeout(n.cfg.Timeout); err != nil {
		log.Printf("nats flush on close: %v", err)
	}
	n.conn.Close()
	return nil
}
