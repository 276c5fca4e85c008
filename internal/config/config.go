package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"avbridge/internal/registry"
)

type Config struct {
	Source  SourceConfig  `yaml:"source"`
	Sink    SinkConfig    `yaml:"sink"`
	Capture CaptureConfig `yaml:"capture"`
	Replay  ReplayConfig  `yaml:"replay"`
	Metrics MetricsConfig `yaml:"metrics"`
	Web     WebConfig     `yaml:"web"`

	// Variables replaces the built-in variable schema when non-empty.
	Variables []registry.VariableConfig `yaml:"variables"`
}

type SourceConfig struct {
	// Kind is simulator, bus or gnss (x, a and u are accepted).
	Kind        string          `yaml:"kind"`
	ReadTimeout time.Duration   `yaml:"read_timeout"`
	Simulator   SimulatorConfig `yaml:"simulator"`
	Bus         BusConfig       `yaml:"bus"`
	GNSS        GNSSConfig      `yaml:"gnss"`
}

type SimulatorConfig struct {
	Listen string `yaml:"listen"`
}

type BusConfig struct {
	Addr         string        `yaml:"addr"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	MaxLineBytes int           `yaml:"max_line_bytes"`
}

type GNSSConfig struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

type SinkConfig struct {
	// Kind is udp, mqtt, nats or none.
	Kind        string        `yaml:"kind"`
	SendTimeout time.Duration `yaml:"send_timeout"`
	UDP         UDPSinkConfig `yaml:"udp"`
	MQTT        MQTTConfig    `yaml:"mqtt"`
	NATS        NATSConfig    `yaml:"nats"`
}

type UDPSinkConfig struct {
	Dest string `yaml:"dest"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	Retain   bool   `yaml:"retain"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type CaptureConfig struct {
	Enable     bool   `yaml:"enable"`
	PathPrefix string `yaml:"path_prefix"`
	Compress   bool   `yaml:"compress"`
	SQLitePath string `yaml:"sqlite_path"`
	// Queue is the capture subscriber's buffer, in events.
	Queue         int           `yaml:"queue"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// ReplayConfig plays a capture log to the sink instead of ingesting from a
// live source.
type ReplayConfig struct {
	Enable bool    `yaml:"enable"`
	Path   string  `yaml:"path"`
	Speed  float64 `yaml:"speed"`
}

type MetricsConfig struct {
	// Listen is the host:port for /metrics; empty disables the endpoint.
	Listen string `yaml:"listen"`
}

type WebConfig struct {
	// Listen is the host:port for the status UI and live stream; empty
	// disables it.
	Listen string `yaml:"listen"`
	// Queue is the live stream subscriber's buffer, in events.
	Queue    int `yaml:"queue"`
	LogLines int `yaml:"log_lines"`
}

// Default is the configuration used when no file is given.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML, applies defaults and validates. Unknown fields are
// rejected.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var te *yaml.TypeError
		if errors.As(err, &te) {
			return Config{}, fmt.Errorf("config contains unknown fields: %s", stripLines(te.Errors))
		}
		return Config{}, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// stripLines drops yaml's "line N: " prefixes.
func stripLines(errs []string) string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		if strings.HasPrefix(e, "line ") {
			if i := strings.Index(e, ": "); i >= 0 {
				e = e[i+2:]
			}
		}
		out = append(out, e)
	}
	return strings.Join(out, "; ")
}

// ApplyDefaults fills every unset field that has a default.
func (cfg *Config) ApplyDefaults() {
	if cfg.Source.Kind == "" {
		cfg.Source.Kind = registry.Simulator.String()
	}
	if cfg.Source.ReadTimeout <= 0 {
		cfg.Source.ReadTimeout = 1 * time.Second
	}
	if cfg.Source.Simulator.Listen == "" {
		cfg.Source.Simulator.Listen = "0.0.0.0:49000"
	}
	if cfg.Source.Bus.DialTimeout <= 0 {
		cfg.Source.Bus.DialTimeout = 2 * time.Second
	}
	if cfg.Source.Bus.MaxLineBytes <= 0 {
		cfg.Source.Bus.MaxLineBytes = 4096
	}
	if cfg.Source.GNSS.Device == "" {
		cfg.Source.GNSS.Device = "/dev/ttyACM0"
	}
	if cfg.Source.GNSS.Baud <= 0 {
		cfg.Source.GNSS.Baud = 115200
	}

	if cfg.Sink.Kind == "" {
		cfg.Sink.Kind = "udp"
	}
	if cfg.Sink.SendTimeout <= 0 {
		cfg.Sink.SendTimeout = 1 * time.Second
	}
	if cfg.Sink.UDP.Dest == "" {
		cfg.Sink.UDP.Dest = "127.0.0.1:5556"
	}
	if cfg.Sink.MQTT.Topic == "" {
		cfg.Sink.MQTT.Topic = "avbridge"
	}
	if cfg.Sink.NATS.Subject == "" {
		cfg.Sink.NATS.Subject = "avbridge"
	}

	if cfg.Capture.Queue <= 0 {
		cfg.Capture.Queue = 256
	}
	if cfg.Capture.FlushInterval <= 0 {
		cfg.Capture.FlushInterval = 1 * time.Second
	}
	if cfg.Web.Queue <= 0 {
		cfg.Web.Queue = 64
	}
	if cfg.Web.LogLines <= 0 {
		cfg.Web.LogLines = 2000
	}
	if cfg.Replay.Speed == 0 {
		cfg.Replay.Speed = 1
	}
}

// Validate checks cross-field constraints. It normalizes source.kind to its
// long name.
func (cfg *Config) Validate() error {
	kind, err := registry.ParseSourceKind(cfg.Source.Kind)
	if err != nil {
		return fmt.Errorf("source.kind must be one of simulator, bus, gnss")
	}
	cfg.Source.Kind = kind.String()

	switch kind {
	case registry.Bus:
		if cfg.Source.Bus.Addr == "" && !cfg.Replay.Enable {
			return fmt.Errorf("source.bus.addr is required when source.kind is bus")
		}
	case registry.GNSS:
		switch cfg.Source.GNSS.Baud {
		case 4800, 9600, 19200, 38400, 57600, 115200, 230400, 460800:
		default:
			return fmt.Errorf("source.gnss.baud %d is not supported", cfg.Source.GNSS.Baud)
		}
	}

	switch cfg.Sink.Kind {
	case "udp", "none":
	case "mqtt":
		if cfg.Sink.MQTT.Broker == "" {
			return fmt.Errorf("sink.mqtt.broker is required when sink.kind is mqtt")
		}
		if cfg.Sink.MQTT.QoS > 2 {
			return fmt.Errorf("sink.mqtt.qos must be 0, 1 or 2")
		}
	case "nats":
		if cfg.Sink.NATS.URL == "" {
			return fmt.Errorf("sink.nats.url is required when sink.kind is nats")
		}
	default:
		return fmt.Errorf("sink.kind must be one of udp, mqtt, nats, none")
	}

	if len(cfg.Variables) > 0 {
		if _, err := registry.FromConfig(cfg.Variables); err != nil {
			return fmt.Errorf("variables: %w", err)
		}
	}

	if cfg.Capture.Enable && cfg.Capture.PathPrefix == "" {
		return fmt.Errorf("capture.path_prefix is required when capture.enable is true")
	}

	if cfg.Replay.Enable {
		if cfg.Replay.Path == "" {
			return fmt.Errorf("replay.path is required when replay.enable is true")
		}
		if cfg.Replay.Speed < 0 {
			return fmt.Errorf("replay.speed must be > 0")
		}
		if cfg.Capture.Enable {
			return fmt.Errorf("capture and replay cannot both be enabled")
		}
	}
	return nil
}

// SourceKind is the validated source kind.
func (cfg Config) SourceKind() registry.SourceKind {
	kind, _ := registry.ParseSourceKind(cfg.Source.Kind)
	return kind
}

// Registry builds the variable registry: the configured variables, or the
// built-in schema when none are configured.
func (cfg Config) Registry() (*registry.Registry, error) {
	if len(cfg.Variables) == 0 {
		return registry.Default()
	}
	return registry.FromConfig(cfg.Variables)
}
