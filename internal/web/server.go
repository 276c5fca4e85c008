// Package web serves a small read-only view of a running bridge: status,
// recent log lines and a websocket stream of live readings.
package web

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"time"

	"avbridge/internal/translator"
)

// Feed applies fan-out events to status and stream until events is closed.
func Feed(events <-chan translator.Event, status *Status, stream *Stream) {
	for ev := range events {
		status.Observe(ev)
		if ev.Reading != nil && stream != nil {
			stream.Publish(status.Live(*ev.Reading))
		}
	}
}

func Handler(status *Status, stream *Stream, logs *LogBuffer) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, status.Snapshot(time.Now().UTC()))
	})

	if stream != nil {
		mux.Handle("/api/stream", stream)
	}
	if logs != nil {
		mux.Handle("/api/logs", logs.Handler())
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		snap := status.Snapshot(time.Now().UTC())
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>avbridge</title></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>avbridge</h1>")
		_, _ = fmt.Fprintf(w, "<pre>source=%s\nendpoint=%s\nsink=%s\nstate=%s\nreadings_seen=%d\nlast_utc=%s</pre>",
			html.EscapeString(snap.Source), html.EscapeString(snap.Endpoint), html.EscapeString(snap.Sink),
			snap.State, snap.ReadingsSeen, snap.LastUTC,
		)
		_, _ = fmt.Fprintf(w, "<p><a href=\"/api/status\">/api/status</a> <a href=\"/api/logs?format=text\">/api/logs</a></p>")
		_, _ = fmt.Fprintf(w, "</body></html>")
	})

	return mux
}

func Serve(ctx context.Context, listenAddr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
