// Package capture records the canonical stream to an append-only log and,
// optionally, a SQLite database. It runs off the ingestion path: failures
// here are logged and never reach the translator.
package capture

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
)

// Log format: line-oriented text, optionally zstd compressed.
//
// - Blank lines are ignored.
// - Lines starting with '#' are headers ("# session <id> source=<kind> started=<rfc3339>").
// - Data lines are <unix_ms>|<payload>, where payload is a JSON reading or a
//   raw source line.

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

type Record struct {
	At      time.Time
	Payload string
}

// IsReading reports whether the record holds a JSON reading rather than a
// raw source line.
func (r Record) IsReading() bool { return strings.HasPrefix(r.Payload, "{") }

type Writer struct {
	path  string
	f     *os.File
	zw    *zstd.Encoder
	w     *bufio.Writer
	count int
	bytes int64

	closed bool
}

// FileName is the log path for a session started at t.
func FileName(prefix string, t time.Time, compress bool) string {
	name := fmt.Sprintf("%s_%d.txt", prefix, t.Unix())
	if compress {
		name += ".zst"
	}
	return name
}

// CreateWriter creates the log file and writes the session header.
func CreateWriter(path, session, source string, started time.Time, compress bool) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	ww := &Writer{path: path, f: f}
	var dst io.Writer = f
	if compress {
		zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		ww.zw = zw
		dst = zw
	}
	ww.w = bufio.NewWriterSize(dst, 64*1024)
	if _, err := fmt.Fprintf(ww.w, "# session %s source=%s started=%s\n", session, source, started.UTC().Format(time.RFC3339)); err != nil {
		_ = ww.Close()
		return nil, err
	}
	return ww, nil
}

func (ww *Writer) Path() string { return ww.path }

func (ww *Writer) WriteRecord(at time.Time, payload string) error {
	if ww.closed {
		return errors.New("capture writer is closed")
	}
	if strings.ContainsAny(payload, "\r\n") {
		return fmt.Errorf("payload spans lines: %q", payload)
	}
	n, err := fmt.Fprintf(ww.w, "%d|%s\n", at.UnixMilli(), payload)
	if err != nil {
		return err
	}
	ww.count++
	ww.bytes += int64(n)
	return nil
}

func (ww *Writer) Flush() error {
	if ww.closed {
		return nil
	}
	if err := ww.w.Flush(); err != nil {
		return err
	}
	if ww.zw != nil {
		return ww.zw.Flush()
	}
	return nil
}

// Summary describes what has been written so far.
func (ww *Writer) Summary() string {
	return fmt.Sprintf("%d records, %s", ww.count, humanize.Bytes(uint64(ww.bytes)))
}

func (ww *Writer) Close() error {
	if ww.closed {
		return nil
	}
	ww.closed = true
	err := ww.w.Flush()
	if ww.zw != nil {
		if zerr := ww.zw.Close(); err == nil {
			err = zerr
		}
	}
	if cerr := ww.f.Close(); err == nil {
		err = cerr
	}
	return err
}

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadAll parses every data line. Compressed input is detected by its magic
// number.
func (rr *Reader) ReadAll() ([]Record, error) {
	br := bufio.NewReader(rr.r)
	var src io.Reader = br
	if magic, err := br.Peek(len(zstdMagic)); err == nil && bytes.Equal(magic, zstdMagic) {
		zr, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(0))
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	s := bufio.NewScanner(src)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var recs []Record
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		bar := strings.IndexByte(line, '|')
		if bar < 0 {
			return nil, fmt.Errorf("invalid capture line (missing '|'): %q", line)
		}
		ms, err := strconv.ParseInt(line[:bar], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid capture timestamp %q: %w", line[:bar], err)
		}
		payload := line[bar+1:]
		if payload == "" {
			return nil, fmt.Errorf("invalid capture line (empty payload): %q", line)
		}
		recs = append(recs, Record{At: time.UnixMilli(ms).UTC(), Payload: payload})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// ReadFile reads a capture log from disk.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewReader(f).ReadAll()
}

type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// Play calls cb for each record, waiting out the recorded gaps divided by
// speed. It stops at the first callback error.
func Play(records []Record, speed float64, sleeper Sleeper, cb func(Record) error) error {
	if speed <= 0 {
		return fmt.Errorf("speed must be > 0")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	if cb == nil {
		return errors.New("callback is nil")
	}
	for i, r := range records {
		if i > 0 {
			if wait := r.At.Sub(records[i-1].At); wait > 0 {
				sleeper.Sleep(time.Duration(float64(wait) / speed))
			}
		}
		if err := cb(r); err != nil {
			return err
		}
	}
	return nil
}
