package capture

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"avbridge/internal/sink"
	"avbridge/internal/translator"
)

type Config struct {
	// PathPrefix is joined with the session start time to name the log file.
	PathPrefix string
	Compress   bool
	// SQLitePath, when set, also stores every value in a SQLite database.
	SQLitePath string
	// Source names the ingesting source in the session header.
	Source        string
	FlushInterval time.Duration
}

// Logger consumes fan-out events on its own goroutine and appends each one,
// tagged with its capture time.
type Logger struct {
	cfg     Config
	session string
	writer  *Writer
	store   *SQLiteStore

	errors int
	now    func() time.Time
}

// Open creates the session log (and database session, if configured).
func Open(ctx context.Context, cfg Config) (*Logger, error) {
	if cfg.PathPrefix == "" {
		return nil, fmt.Errorf("capture path prefix is required")
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	l := &Logger{cfg: cfg, session: uuid.NewString(), now: time.Now}
	started := l.now()

	w, err := CreateWriter(FileName(cfg.PathPrefix, started, cfg.Compress), l.session, cfg.Source, started, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("create capture log: %w", err)
	}
	l.writer = w

	if cfg.SQLitePath != "" {
		l.store = NewSQLiteStore(cfg.SQLitePath)
		if err := l.store.CreateSession(ctx, l.session, cfg.Source, started); err != nil {
			_ = w.Close()
			_ = l.store.Close()
			return nil, fmt.Errorf("create capture session: %w", err)
		}
	}
	log.Printf("capture enabled session=%s path=%s", l.session, w.Path())
	return l, nil
}

func (l *Logger) Session() string { return l.session }
func (l *Logger) Path() string    { return l.writer.Path() }

// Run appends events until the channel is closed, then closes the log.
func (l *Logger) Run(events <-chan translator.Event) {
	t := time.NewTicker(l.cfg.FlushInterval)
	defer t.Stop()
	defer l.close()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := l.handle(ev); err != nil {
				l.fail("write", err)
			}
		case <-t.C:
			if err := l.writer.Flush(); err != nil {
				l.fail("flush", err)
			}
		}
	}
}

func (l *Logger) handle(ev translator.Event) error {
	at := l.now()
	if ev.Reading == nil {
		return l.writer.WriteRecord(at, ev.Line)
	}
	payload, err := sink.Encode(*ev.Reading)
	if err != nil {
		return err
	}
	if err := l.writer.WriteRecord(at, string(payload)); err != nil {
		return err
	}
	if l.store != nil {
		return l.store.StoreReading(context.Background(), l.session, at, *ev.Reading)
	}
	return nil
}

// fail logs the first few errors, then only counts them.
func (l *Logger) fail(op string, err error) {
	l.errors++
	if l.errors <= 5 {
		log.Printf("capture %s failed session=%s: %v", op, l.session, err)
	}
}

func (l *Logger) close() {
	if err := l.writer.Close(); err != nil {
		l.fail("close", err)
	}
	if l.store != nil {
		if err := l.store.Close(); err != nil {
			l.fail("close store", err)
		}
	}
	log.Printf("capture closed session=%s path=%s %s errors=%d", l.session, l.writer.Path(), l.writer.Summary(), l.errors)
}
