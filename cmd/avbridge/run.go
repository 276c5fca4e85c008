package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"avbridge/internal/capture"
	"avbridge/internal/config"
	"avbridge/internal/metrics"
	"avbridge/internal/registry"
	"avbridge/internal/sink"
	"avbridge/internal/source"
	"avbridge/internal/translator"
	"avbridge/internal/web"
)

type closingSink interface {
	translator.Sink
	io.Closer
}

// run wires registry, adapter, sink, capture, metrics and the web view,
// then ingests until ctx is done. logs, when set, backs /api/logs.
func run(ctx context.Context, cfg config.Config, logs *web.LogBuffer) error {
	promReg := prometheus.NewRegistry()
	m, err := metrics.New(promReg)
	if err != nil {
		return fmt.Errorf("metrics init failed: %w", err)
	}
	if cfg.Metrics.Listen != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Listen, promReg); err != nil && ctx.Err() == nil {
				log.Printf("metrics server stopped: %v", err)
			}
		}()
	}

	out, err := newSink(cfg)
	if err != nil {
		return fmt.Errorf("sink init failed: %w", err)
	}
	defer out.Close()

	fanout := translator.NewFanout(out, m)
	stopCapture, err := startCapture(ctx, cfg, fanout)
	if err != nil {
		return err
	}
	defer stopCapture()

	if cfg.Replay.Enable {
		startWeb(ctx, cfg, fanout, logs, "replay://"+cfg.Replay.Path, nil)
		return replayCapture(ctx, cfg.Replay, fanout)
	}

	adapter, err := newAdapter(cfg, fanout.Tap)
	if err != nil {
		return err
	}
	t := translator.New(adapter, fanout, m)
	startWeb(ctx, cfg, fanout, logs, adapter.Endpoint(), t.State)
	return t.Run(ctx)
}

// startWeb serves the status view when web.listen is set. It is fed from
// its own fan-out subscription.
func startWeb(ctx context.Context, cfg config.Config, fanout *translator.Fanout, logs *web.LogBuffer, endpoint string, state func() translator.State) {
	if cfg.Web.Listen == "" {
		return
	}
	names := map[int]string{}
	if reg, err := cfg.Registry(); err == nil {
		for _, v := range reg.Variables() {
			names[v.Key] = v.Name
		}
	}
	status := web.NewStatus(cfg.Source.Kind, endpoint, cfg.Sink.Kind, names, state)
	stream := web.NewStream()
	go web.Feed(fanout.Subscribe(cfg.Web.Queue), status, stream)
	go func() {
		log.Printf("web listening on %s", cfg.Web.Listen)
		if err := web.Serve(ctx, cfg.Web.Listen, web.Handler(status, stream, logs)); err != nil && ctx.Err() == nil {
			log.Printf("web server stopped: %v", err)
		}
	}()
}

// newAdapter compiles the lookup table for the configured source and builds
// its adapter. tap receives raw GNSS lines.
func newAdapter(cfg config.Config, tap func(string)) (source.Adapter, error) {
	reg, err := cfg.Registry()
	if err != nil {
		return nil, fmt.Errorf("registry init failed: %w", err)
	}
	kind := cfg.SourceKind()
	table, err := reg.Compile(kind)
	if err != nil {
		return nil, fmt.Errorf("registry compile failed: %w", err)
	}
	log.Printf("registry compiled source=%s variables=%d", kind, table.Len())

	switch kind {
	case registry.Simulator:
		return source.NewSimulator(source.SimulatorConfig{
			Listen:      cfg.Source.Simulator.Listen,
			ReadTimeout: cfg.Source.ReadTimeout,
		}, table)
	case registry.Bus:
		return source.NewBus(source.BusConfig{
			Addr:         cfg.Source.Bus.Addr,
			DialTimeout:  cfg.Source.Bus.DialTimeout,
			ReadTimeout:  cfg.Source.ReadTimeout,
			MaxLineBytes: cfg.Source.Bus.MaxLineBytes,
		}, table)
	case registry.GNSS:
		return source.NewGNSS(source.GNSSConfig{
			Device:      cfg.Source.GNSS.Device,
			Baud:        cfg.Source.GNSS.Baud,
			ReadTimeout: cfg.Source.ReadTimeout,
			OnLine:      tap,
		}, table)
	default:
		return nil, fmt.Errorf("unsupported source kind %s", kind)
	}
}

func newSink(cfg config.Config) (closingSink, error) {
	switch cfg.Sink.Kind {
	case "udp":
		return sink.NewUDP(cfg.Sink.UDP.Dest, cfg.Sink.SendTimeout)
	case "mqtt":
		return sink.NewMQTT(sink.MQTTConfig{
			Broker:   cfg.Sink.MQTT.Broker,
			Topic:    cfg.Sink.MQTT.Topic,
			QoS:      cfg.Sink.MQTT.QoS,
			Retain:   cfg.Sink.MQTT.Retain,
			Username: cfg.Sink.MQTT.Username,
			Password: cfg.Sink.MQTT.Password,
			Timeout:  cfg.Sink.SendTimeout,
		})
	case "nats":
		return sink.NewNATS(sink.NATSConfig{
			URL:     cfg.Sink.NATS.URL,
			Subject: cfg.Sink.NATS.Subject,
			Timeout: cfg.Sink.SendTimeout,
		})
	case "none":
		return sink.Discard{}, nil
	default:
		return nil, fmt.Errorf("unsupported sink kind %q", cfg.Sink.Kind)
	}
}

// startCapture subscribes the capture logger to the fan-out. The returned
// func ends the subscription and waits for the log to be closed.
func startCapture(ctx context.Context, cfg config.Config, fanout *translator.Fanout) (func(), error) {
	if !cfg.Capture.Enable {
		return fanout.Close, nil
	}
	logger, err := capture.Open(ctx, capture.Config{
		PathPrefix:    cfg.Capture.PathPrefix,
		Compress:      cfg.Capture.Compress,
		SQLitePath:    cfg.Capture.SQLitePath,
		Source:        cfg.Source.Kind,
		FlushInterval: cfg.Capture.FlushInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("capture init failed: %w", err)
	}
	events := fanout.Subscribe(cfg.Capture.Queue)
	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Run(events)
	}()
	return func() {
		fanout.Close()
		<-done
	}, nil
}

type ctxSleeper struct {
	ctx context.Context
}

func (s ctxSleeper) Sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-s.ctx.Done():
	}
}

// replayCapture sends the readings of a capture log to the sink with their
// recorded spacing. Raw source lines are skipped.
func replayCapture(ctx context.Context, cfg config.ReplayConfig, out translator.Sink) error {
	recs, err := capture.ReadFile(cfg.Path)
	if err != nil {
		return fmt.Errorf("replay load failed: %w", err)
	}
	log.Printf("replay starting path=%s records=%d speed=%v", cfg.Path, len(recs), cfg.Speed)

	sent := 0
	err = capture.Play(recs, cfg.Speed, ctxSleeper{ctx: ctx}, func(rec capture.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !rec.IsReading() {
			return nil
		}
		r, err := sink.Decode([]byte(rec.Payload))
		if err != nil {
			log.Printf("replay skipped record at=%s: %v", rec.At.Format(time.RFC3339Nano), err)
			return nil
		}
		if err := out.Send(ctx, r); err != nil {
			log.Printf("replay sink send failed seq=%d: %v", r.Seq, err)
			return nil
		}
		sent++
		return nil
	})
	log.Printf("replay finished path=%s sent=%d", cfg.Path, sent)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// probe reports whether the configured source is reachable.
func probe(cfg config.Config) (bool, error) {
	a, err := newAdapter(cfg, nil)
	if err != nil {
		return false, err
	}
	ok := a.Probe()
	log.Printf("probe source=%s endpoint=%s reachable=%v", a.Kind(), a.Endpoint(), ok)
	return ok, nil
}
