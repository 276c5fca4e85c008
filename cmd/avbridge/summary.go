package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"avbridge/internal/capture"
	"avbridge/internal/sink"
)

type captureSummary struct {
	Records  int
	Readings int
	Lines    int
	Invalid  int
	Duration time.Duration
	Sources  map[string]int
	Keys     map[int]int
}

func summarizeCapture(records []capture.Record) captureSummary {
	s := captureSummary{Sources: map[string]int{}, Keys: map[int]int{}}
	if len(records) == 0 {
		return s
	}
	first := records[0].At
	for _, r := range records {
		s.Records++
		if d := r.At.Sub(first); d > s.Duration {
			s.Duration = d
		}
		if !r.IsReading() {
			s.Lines++
			continue
		}
		reading, err := sink.Decode([]byte(r.Payload))
		if err != nil {
			s.Invalid++
			continue
		}
		s.Readings++
		s.Sources[reading.Source.String()]++
		for k := range reading.Values {
			s.Keys[k]++
		}
	}
	return s
}

func printCaptureSummary(w io.Writer, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	recs, err := capture.ReadFile(path)
	if err != nil {
		return err
	}
	s := summarizeCapture(recs)

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "records: %s\n", humanize.Comma(int64(s.Records)))
	fmt.Fprintf(w, "readings: %s\n", humanize.Comma(int64(s.Readings)))
	fmt.Fprintf(w, "raw_lines: %s\n", humanize.Comma(int64(s.Lines)))
	fmt.Fprintf(w, "invalid_readings: %d\n", s.Invalid)
	fmt.Fprintf(w, "duration: %s\n", s.Duration)

	sources := make([]string, 0, len(s.Sources))
	for k := range s.Sources {
		sources = append(sources, k)
	}
	sort.Strings(sources)
	fmt.Fprintf(w, "sources:\n")
	for _, k := range sources {
		fmt.Fprintf(w, "  %s: %d\n", k, s.Sources[k])
	}

	keys := make([]int, 0, len(s.Keys))
	for k := range s.Keys {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	fmt.Fprintf(w, "key_counts:\n")
	for _, k := range keys {
		fmt.Fprintf(w, "  %d: %d\n", k, s.Keys[k])
	}
	return nil
}
