package capture

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"avbridge/internal/registry"
	"avbridge/internal/sink"
	"avbridge/internal/source"
	"avbridge/internal/translator"
)

func TestLogger_RecordsReadingsAndLines(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "capture.db")
	l, err := Open(context.Background(), Config{
		PathPrefix: filepath.Join(dir, "flight"),
		SQLitePath: dbPath,
		Source:     registry.GNSS.String(),
	})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	events := make(chan translator.Event, 4)
	r1 := source.Reading{Source: registry.GNSS, Seq: 1, ReceivedAt: time.Now(), Values: map[int]float64{0: 45319, 10: 48.1}}
	r2 := source.Reading{Source: registry.GNSS, Seq: 2, ReceivedAt: time.Now(), Values: map[int]float64{10: 48.2}}
	events <- translator.Event{Line: "$GPGGA,123519"}
	events <- translator.Event{Reading: &r1}
	events <- translator.Event{Reading: &r2}
	close(events)

	done := make(chan struct{})
	go func() {
		l.Run(events)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after the channel closed")
	}

	recs, err := ReadFile(l.Path())
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("records=%d want 3", len(recs))
	}
	if recs[0].Payload != "$GPGGA,123519" {
		t.Fatalf("record 0=%q", recs[0].Payload)
	}
	got, err := sink.Decode([]byte(recs[2].Payload))
	if err != nil || got.Seq != 2 || got.Values[10] != 48.2 {
		t.Fatalf("record 2=%+v,%v", got, err)
	}

	store := NewSQLiteStore(dbPath)
	defer store.Close()
	series, err := store.Series(context.Background(), l.Session(), 10)
	if err != nil {
		t.Fatalf("Series() error: %v", err)
	}
	want := []SeriesPoint{{Seq: 1, Value: 48.1}, {Seq: 2, Value: 48.2}}
	if len(series) != 2 || series[0] != want[0] || series[1] != want[1] {
		t.Fatalf("series=%v want %v", series, want)
	}
}

func TestOpen_RequiresPrefix(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty prefix")
	}
}
