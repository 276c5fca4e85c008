package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"avbridge/internal/config"
	"avbridge/internal/web"
)

const usage = `usage: avbridge [flags] [x|a|u]

  x  simulator UDP data output
  a  avionics bus gateway (ARINC 429 over TCP)
  u  GNSS receiver (NMEA over serial)

`

type options struct {
	configPath string
	summarize  string
	probe      bool
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("avbridge", pflag.ContinueOnError)
	fs.String("config", "", "Path to YAML config (built-in defaults when empty)")
	fs.StringP("src", "s", "", "Source address: simulator listen ip:port or bus gateway ip:port")
	fs.StringP("dest", "d", "", "UDP sink destination ip:port")
	fs.StringP("com", "u", "", "GNSS serial device")
	fs.Int("baud", 0, "GNSS serial baud rate")
	fs.StringP("log", "l", "", "Capture readings to <prefix>_<unix>.txt")
	fs.String("replay", "", "Replay a capture log to the sink instead of reading a source")
	fs.String("metrics", "", "Serve Prometheus metrics on ip:port")
	fs.String("web", "", "Serve the status view and live stream on ip:port")
	fs.String("summarize", "", "Print a summary of a capture log and exit")
	fs.Bool("probe", false, "Probe the source and exit")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	return fs
}

// parseArgs loads the configuration and applies command-line overrides.
// Flags win over the file; only flags that were set override.
func parseArgs(args []string) (config.Config, options, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return config.Config{}, options{}, err
	}
	var opt options
	opt.configPath, _ = fs.GetString("config")
	opt.summarize, _ = fs.GetString("summarize")
	opt.probe, _ = fs.GetBool("probe")

	cfg := config.Default()
	if opt.configPath != "" {
		var err error
		if cfg, err = config.Load(opt.configPath); err != nil {
			return config.Config{}, options{}, fmt.Errorf("config load failed: %w", err)
		}
	}

	switch fs.NArg() {
	case 0:
	case 1:
		cfg.Source.Kind = fs.Arg(0)
	default:
		return config.Config{}, options{}, fmt.Errorf("expected one source argument (x, a or u), got %q", strings.Join(fs.Args(), " "))
	}

	if fs.Changed("src") {
		src, _ := fs.GetString("src")
		cfg.Source.Simulator.Listen = src
		cfg.Source.Bus.Addr = src
	}
	if fs.Changed("dest") {
		cfg.Sink.Kind = "udp"
		cfg.Sink.UDP.Dest, _ = fs.GetString("dest")
	}
	if fs.Changed("com") {
		cfg.Source.GNSS.Device, _ = fs.GetString("com")
	}
	if fs.Changed("baud") {
		cfg.Source.GNSS.Baud, _ = fs.GetInt("baud")
	}
	if fs.Changed("log") {
		cfg.Capture.Enable = true
		cfg.Capture.PathPrefix, _ = fs.GetString("log")
	}
	if fs.Changed("replay") {
		cfg.Replay.Enable = true
		cfg.Replay.Path, _ = fs.GetString("replay")
	}
	if fs.Changed("metrics") {
		cfg.Metrics.Listen, _ = fs.GetString("metrics")
	}
	if fs.Changed("web") {
		cfg.Web.Listen, _ = fs.GetString("web")
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, options{}, err
	}
	return cfg, opt, nil
}

func main() {
	cfg, opt, err := parseArgs(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("%v", err)
	}

	if opt.summarize != "" {
		if err := printCaptureSummary(os.Stdout, opt.summarize); err != nil {
			log.Fatalf("summarize failed: %v", err)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if opt.probe {
		ok, err := probe(cfg)
		if err != nil {
			log.Fatalf("probe failed: %v", err)
		}
		if !ok {
			os.Exit(1)
		}
		return
	}

	var logs *web.LogBuffer
	if cfg.Web.Listen != "" {
		logs = web.NewLogBuffer(cfg.Web.LogLines)
		log.SetOutput(io.MultiWriter(os.Stderr, logs))
	}

	log.Printf("avbridge starting source=%s sink=%s", cfg.Source.Kind, cfg.Sink.Kind)
	if err := run(ctx, cfg, logs); err != nil {
		log.Fatalf("avbridge stopped: %v", err)
	}
	log.Printf("avbridge stopped")
}
