package capture

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

type fakeSleeper struct {
	slept []time.Duration
}

func (fs *fakeSleeper) Sleep(d time.Duration) {
	fs.slept = append(fs.slept, d)
}

func TestFileName(t *testing.T) {
	at := time.Unix(1700000000, 0)
	if got := FileName("logs/flight", at, false); got != "logs/flight_1700000000.txt" {
		t.Fatalf("FileName()=%q", got)
	}
	if got := FileName("f", at, true); got != "f_1700000000.txt.zst" {
		t.Fatalf("FileName(compress)=%q", got)
	}
}

func TestReaderReadAll(t *testing.T) {
	in := strings.NewReader(`
# session 1234 source=bus started=2024-01-01T00:00:00Z

1700000000000|{"source":"bus","seq":1,"values":{"10":1}}
1700000000250|$GPGGA,123519,4807.038,N
`)

	recs, err := NewReader(in).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if !recs[0].At.Equal(time.UnixMilli(1700000000000)) || !recs[0].IsReading() {
		t.Fatalf("record 0=%+v", recs[0])
	}
	if recs[1].Payload != "$GPGGA,123519,4807.038,N" || recs[1].IsReading() {
		t.Fatalf("record 1=%+v", recs[1])
	}
}

func TestReaderReadAll_InvalidLines(t *testing.T) {
	for _, in := range []string{"no-bar\n", "abc|x\n", "17|\n"} {
		if _, err := NewReader(strings.NewReader(in)).ReadAll(); err == nil {
			t.Fatalf("ReadAll(%q): expected error", in)
		}
	}
}

func TestWriter_RoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		path := filepath.Join(t.TempDir(), FileName("cap", time.Now(), compress))
		w, err := CreateWriter(path, "sess-1", "gnss", time.Now(), compress)
		if err != nil {
			t.Fatalf("CreateWriter(compress=%v) error: %v", compress, err)
		}

		base := time.UnixMilli(1700000000000)
		payloads := []string{`{"seq":1}`, "$GPVTG,90.0,T", `{"seq":2}`}
		for i, p := range payloads {
			if err := w.WriteRecord(base.Add(time.Duration(i)*100*time.Millisecond), p); err != nil {
				_ = w.Close()
				t.Fatalf("WriteRecord() error: %v", err)
			}
		}
		if !strings.HasPrefix(w.Summary(), "3 records") {
			t.Fatalf("Summary()=%q", w.Summary())
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close() error: %v", err)
		}
		if err := w.WriteRecord(base, "x"); err == nil {
			t.Fatalf("WriteRecord after Close: expected error")
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile() error: %v", err)
		}
		if compress != bytes.HasPrefix(raw, zstdMagic) {
			t.Fatalf("compress=%v but file starts with %x", compress, raw[:4])
		}

		recs, err := ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile(compress=%v) error: %v", compress, err)
		}
		var got []string
		for _, r := range recs {
			got = append(got, r.Payload)
		}
		if !reflect.DeepEqual(got, payloads) {
			t.Fatalf("payloads=%q want %q", got, payloads)
		}
		if d := recs[2].At.Sub(recs[0].At); d != 200*time.Millisecond {
			t.Fatalf("spacing=%s want 200ms", d)
		}
	}
}

func TestWriter_RejectsMultilinePayload(t *testing.T) {
	w, err := CreateWriter(filepath.Join(t.TempDir(), "x.txt"), "s", "bus", time.Now(), false)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	defer w.Close()
	if err := w.WriteRecord(time.Now(), "a\nb"); err == nil {
		t.Fatalf("expected error for multi-line payload")
	}
}

func TestPlay_HonoursSpacingAndSpeed(t *testing.T) {
	base := time.UnixMilli(0)
	recs := []Record{
		{At: base, Payload: "a"},
		{At: base.Add(100 * time.Millisecond), Payload: "b"},
		{At: base.Add(100 * time.Millisecond), Payload: "c"},
		{At: base.Add(300 * time.Millisecond), Payload: "d"},
	}
	fs := &fakeSleeper{}
	var seen []string
	err := Play(recs, 2, fs, func(r Record) error {
		seen = append(seen, r.Payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if strings.Join(seen, "") != "abcd" {
		t.Fatalf("seen=%v", seen)
	}
	want := []time.Duration{50 * time.Millisecond, 100 * time.Millisecond}
	if !reflect.DeepEqual(fs.slept, want) {
		t.Fatalf("slept=%v want %v", fs.slept, want)
	}
}

func TestPlay_StopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	n := 0
	err := Play([]Record{{Payload: "a"}, {Payload: "b"}}, 1, &fakeSleeper{}, func(Record) error {
		n++
		return stop
	})
	if !errors.Is(err, stop) || n != 1 {
		t.Fatalf("err=%v calls=%d", err, n)
	}
	if err := Play(nil, 0, nil, func(Record) error { return nil }); err == nil {
		t.Fatalf("expected error for speed 0")
	}
}
