package capture

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"avbridge/internal/source"
)

const initSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	source     TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS readings (
	session_id  TEXT NOT NULL REFERENCES sessions(id),
	seq         INTEGER NOT NULL,
	received_at TIMESTAMP NOT NULL,
	captured_at TIMESTAMP NOT NULL,
	var_key     INTEGER NOT NULL,
	value       REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_readings_session_key ON readings(session_id, var_key, seq);
`

const (
	insertSessionSQL = `INSERT INTO sessions (id, source, started_at) VALUES (?, ?, ?)`
	insertValueSQL   = `INSERT INTO readings (session_id, seq, received_at, captured_at, var_key, value) VALUES (?, ?, ?, ?, ?, ?)`
	selectSeriesSQL  = `SELECT seq, value FROM readings WHERE session_id = ? AND var_key = ? ORDER BY seq`
)

// SQLiteStore keeps one row per (reading, variable).
type SQLiteStore struct {
	dbPath string

	db     *sql.DB
	dbOnce sync.Once
	dbErr  error

	closeOnce sync.Once
	closeErr  error
}

func NewSQLiteStore(dbPath string) *SQLiteStore {
	return &SQLiteStore{dbPath: dbPath}
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.dbOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.dbErr = fmt.Errorf("opening database: %w", err)
			return
		}
		if _, err = db.Exec(initSchemaSQL); err != nil {
			_ = db.Close()
			s.dbErr = fmt.Errorf("initializing schema: %w", err)
			return
		}
		s.db = db
	})
	return s.db, s.dbErr
}

func (s *SQLiteStore) CreateSession(ctx context.Context, id, source string, started time.Time) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, insertSessionSQL, id, source, started.UTC()); err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// StoreReading writes every value of r in one transaction.
func (s *SQLiteStore) StoreReading(ctx context.Context, session string, captured time.Time, r source.Reading) (err error) {
	if len(r.Values) == 0 {
		return nil
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insertValueSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	for key, v := range r.Values {
		if _, err = stmt.ExecContext(ctx, session, r.Seq, r.ReceivedAt.UTC(), captured.UTC(), key, v); err != nil {
			return fmt.Errorf("inserting value %d: %w", key, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// SeriesPoint is one stored value of a variable.
type SeriesPoint struct {
	Seq   uint64
	Value float64
}

// Series returns the values stored for key in a session, ordered by seq.
func (s *SQLiteStore) Series(ctx context.Context, session string, key int) (points []SeriesPoint, err error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, selectSeriesSQL, session, key)
	if err != nil {
		return nil, fmt.Errorf("querying series: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var p SeriesPoint
		if err = rows.Scan(&p.Seq, &p.Value); err != nil {
			return nil, fmt.Errorf("scanning series: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.closeOnce.Do(func() {
		if s.db != nil {
			s.closeErr = s.db.Close()
		}
	})
	return s.closeErr
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}
