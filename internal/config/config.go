package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mobility-feed/internal/logging"
)

// DefaultPath is read when no --config flag is given. A missing default
// file is not an error.
const DefaultPath = "./configs/mobility-feed.yml"

type ReconnectConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Initial     time.Duration `yaml:"initial"`
	Max         time.Duration `yaml:"max"`
	MaxAttempts int           `yaml:"max_attempts"` // 0 = unlimited
}

type SourceConfig struct {
	Endpoint         string          `yaml:"endpoint"`   // ws://localhost:5000/stream
	DatasetID        string          `yaml:"dataset_id"` // t29m-gskq
	Interval         int             `yaml:"interval"`   // seconds
	Codec            string          `yaml:"codec"`      // json or cbor, outbound commands
	HandshakeTimeout time.Duration   `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration   `yaml:"write_timeout"`
	ReadLimit        int64           `yaml:"read_limit"` // bytes per inbound frame
	TeardownTimeout  time.Duration   `yaml:"teardown_timeout"`
	Reconnect        ReconnectConfig `yaml:"reconnect"`
}

type StreamConfig struct {
	Event    string `yaml:"event"`
	Field    string `yaml:"field"`
	Capacity int    `yaml:"capacity"`
}

type StreamsConfig struct {
	Records        StreamConfig `yaml:"records"`
	Snapshots      StreamConfig `yaml:"snapshots"`
	TimestampField string       `yaml:"timestamp_field"`
	CountField     string       `yaml:"count_field"`
	Diagnostics    int          `yaml:"diagnostics"` // retained diagnostics
}

type WebConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Host      string        `yaml:"host"` // 0.0.0.0
	Port      int           `yaml:"port"` // 8080
	MaxConns  int           `yaml:"max_conns"`
	Heartbeat time.Duration `yaml:"heartbeat"`
}

type Config struct {
	Source  SourceConfig   `yaml:"source"`
	Streams StreamsConfig  `yaml:"streams"`
	Web     WebConfig      `yaml:"web"`
	Log     logging.Config `yaml:"log"`
}

// Load reads path over Defaults and applies environment overrides. An
// empty path falls back to DefaultPath, which may be absent.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse yaml %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("cannot read config %s: %w", path, err)
	}

	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("FEED_ENDPOINT"); ok && v != "" {
		c.Source.Endpoint = v
	}
	if v, ok := lookup("FEED_DATASET"); ok && v != "" {
		c.Source.DatasetID = v
	}
	if v, ok := lookup("FEED_LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
}

// Validate rejects configurations the components would otherwise panic
// on or silently misbehave with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Source.Endpoint) == "" {
		errs = append(errs, errors.New("source.endpoint is required"))
	}
	if c.Source.Interval <= 0 {
		errs = append(errs, fmt.Errorf("source.interval must be positive, got %d", c.Source.Interval))
	}
	switch c.Source.Codec {
	case "", "json", "cbor":
	default:
		errs = append(errs, fmt.Errorf("source.codec %q: want json or cbor", c.Source.Codec))
	}
	if r := c.Source.Reconnect; r.Enabled && (r.Initial <= 0 || r.Max < r.Initial) {
		errs = append(errs, fmt.Errorf("source.reconnect: need 0 < initial <= max, got %s..%s", r.Initial, r.Max))
	}
	if c.Source.ReadLimit <= 0 {
		errs = append(errs, fmt.Errorf("source.read_limit must be positive, got %d", c.Source.ReadLimit))
	}
	streams := []struct {
		name string
		cfg  StreamConfig
	}{
		{"records", c.Streams.Records},
		{"snapshots", c.Streams.Snapshots},
	}
	for _, s := range streams {
		if s.cfg.Capacity <= 0 {
			errs = append(errs, fmt.Errorf("streams.%s.capacity must be positive, got %d", s.name, s.cfg.Capacity))
		}
		if s.cfg.Event == "" {
			errs = append(errs, fmt.Errorf("streams.%s.event is required", s.name))
		}
	}
	if c.Streams.Records.Event != "" && c.Streams.Records.Event == c.Streams.Snapshots.Event {
		errs = append(errs, fmt.Errorf("streams: records and snapshots share event %q", c.Streams.Records.Event))
	}
	if c.Web.Enabled && (c.Web.Port <= 0 || c.Web.Port > 65535) {
		errs = append(errs, fmt.Errorf("web.port %d out of range", c.Web.Port))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
