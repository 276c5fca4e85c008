package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

func TestParseArgs_DefaultsWithoutArgs(t *testing.T) {
	cfg, opt, err := parseArgs(nil)
	if err != nil {
		t.Fatalf("parseArgs() error: %v", err)
	}
	if cfg.Source.Kind != "simulator" || cfg.Sink.UDP.Dest != "127.0.0.1:5556" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if opt.probe || opt.summarize != "" {
		t.Fatalf("opt=%+v", opt)
	}
}

func TestParseArgs_PositionalKindAndOverrides(t *testing.T) {
	cfg, _, err := parseArgs([]string{"-s", "10.0.0.5:7000", "-d", "192.168.1.20:6000", "a"})
	if err != nil {
		t.Fatalf("parseArgs() error: %v", err)
	}
	if cfg.Source.Kind != "bus" {
		t.Fatalf("source.kind=%q want bus", cfg.Source.Kind)
	}
	if cfg.Source.Bus.Addr != "10.0.0.5:7000" {
		t.Fatalf("bus.addr=%q", cfg.Source.Bus.Addr)
	}
	if cfg.Sink.Kind != "udp" || cfg.Sink.UDP.Dest != "192.168.1.20:6000" {
		t.Fatalf("sink=%+v", cfg.Sink)
	}
}

func TestParseArgs_GNSSFlags(t *testing.T) {
	cfg, _, err := parseArgs([]string{"u", "--com", "/dev/ttyUSB1", "--baud", "9600"})
	if err != nil {
		t.Fatalf("parseArgs() error: %v", err)
	}
	if cfg.Source.Kind != "gnss" || cfg.Source.GNSS.Device != "/dev/ttyUSB1" || cfg.Source.GNSS.Baud != 9600 {
		t.Fatalf("source=%+v", cfg.Source)
	}
}

func TestParseArgs_BusWithoutAddrFails(t *testing.T) {
	_, _, err := parseArgs([]string{"a"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseArgs_RejectsExtraPositional(t *testing.T) {
	_, _, err := parseArgs([]string{"x", "u"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseArgs_LogEnablesCapture(t *testing.T) {
	cfg, _, err := parseArgs([]string{"-l", "/tmp/flight"})
	if err != nil {
		t.Fatalf("parseArgs() error: %v", err)
	}
	if !cfg.Capture.Enable || cfg.Capture.PathPrefix != "/tmp/flight" {
		t.Fatalf("capture=%+v", cfg.Capture)
	}
}

func TestParseArgs_LogAndReplayConflict(t *testing.T) {
	_, _, err := parseArgs([]string{"-l", "/tmp/flight", "--replay", "/tmp/flight_1.txt"})
	if err == nil || err.Error() != "capture and replay cannot both be enabled" {
		t.Fatalf("err=%v", err)
	}
}

func TestParseArgs_FlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	contents := "source:\n  kind: gnss\n  gnss:\n    device: /dev/ttyS0\nsink:\n  kind: none\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	cfg, opt, err := parseArgs([]string{"--config", path, "--baud", "4800", "--probe"})
	if err != nil {
		t.Fatalf("parseArgs() error: %v", err)
	}
	if opt.configPath != path || !opt.probe {
		t.Fatalf("opt=%+v", opt)
	}
	if cfg.Source.GNSS.Device != "/dev/ttyS0" || cfg.Source.GNSS.Baud != 4800 {
		t.Fatalf("gnss=%+v", cfg.Source.GNSS)
	}
	if cfg.Sink.Kind != "none" {
		t.Fatalf("sink.kind=%q want none", cfg.Sink.Kind)
	}
}

func TestParseArgs_BadConfigFile(t *testing.T) {
	_, _, err := parseArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseArgs_Help(t *testing.T) {
	_, _, err := parseArgs([]string{"--help"})
	if !errors.Is(err, pflag.ErrHelp) {
		t.Fatalf("err=%v want pflag.ErrHelp", err)
	}
}
