// Package metrics exposes Prometheus counters for the ingestion loop. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"avbridge/internal/registry"
)

const namespace = "avbridge"

type Metrics struct {
	framesReceived *prometheus.CounterVec // by source
	framesDropped  *prometheus.CounterVec // by source and reason
	decodeErrors   *prometheus.CounterVec // by source
	readingsSent   *prometheus.CounterVec // by source
	sendFailures   *prometheus.CounterVec // by source

	// Time from frame receipt to sink acceptance.
	sendLatency *prometheus.HistogramVec

	subscriberDrops prometheus.Counter
}

// New creates and registers the ingestion metrics with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Raw frames received from the source adapter",
		}, []string{"source"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Receive cycles that produced no usable frame",
		}, []string{"source", "reason"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Per-variable decode failures",
		}, []string{"source"}),
		readingsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_sent_total",
			Help:      "Canonical readings accepted by the sink",
		}, []string{"source"}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_failures_total",
			Help:      "Canonical readings the sink rejected",
		}, []string{"source"}),
		sendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_latency_seconds",
			Help:      "Time from frame receipt to sink hand-off",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"source"}),
		subscriberDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_drops_total",
			Help:      "Events dropped because a subscriber queue was full",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.framesReceived, m.framesDropped, m.decodeErrors,
		m.readingsSent, m.sendFailures, m.sendLatency, m.subscriberDrops,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) FrameReceived(kind registry.SourceKind) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(kind.String()).Inc()
}

// FrameDropped counts a cycle without a usable frame; reason is "empty" for
// timeouts and unexpected framing, "malformed" for rejected frames.
func (m *Metrics) FrameDropped(kind registry.SourceKind, reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(kind.String(), reason).Inc()
}

func (m *Metrics) DecodeErrors(kind registry.SourceKind, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.decodeErrors.WithLabelValues(kind.String()).Add(float64(n))
}

func (m *Metrics) Sent(kind registry.SourceKind, latency time.Duration) {
	if m == nil {
		return
	}
	m.readingsSent.WithLabelValues(kind.String()).Inc()
	m.sendLatency.WithLabelValues(kind.String()).Observe(latency.Seconds())
}

func (m *Metrics) SendFailed(kind registry.SourceKind) {
	if m == nil {
		return
	}
	m.sendFailures.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) SubscriberDropped() {
	if m == nil {
		return
	}
	m.subscriberDrops.Inc()
}

// Serve exposes g on listen at /metrics until ctx is done.
func Serve(ctx context.Context, listen string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("metrics listening addr=%s", listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
