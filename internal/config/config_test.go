package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "feed.yml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50, cfg.Streams.Records.Capacity)
	assert.Equal(t, 20, cfg.Streams.Snapshots.Capacity)
	assert.Equal(t, "t29m-gskq", cfg.Source.DatasetID)
	assert.Equal(t, 5, cfg.Source.Interval)
}

func TestLoad_OverlaysFile(t *testing.T) {
	p := writeFile(t, `
source:
  endpoint: wss://feed.example.com/stream
  interval: 2
  reconnect:
    enabled: false
streams:
  records:
    capacity: 100
web:
  heartbeat: 5s
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "wss://feed.example.com/stream", cfg.Source.Endpoint)
	assert.Equal(t, 2, cfg.Source.Interval)
	assert.False(t, cfg.Source.Reconnect.Enabled)
	assert.Equal(t, 100, cfg.Streams.Records.Capacity)
	assert.Equal(t, "taxi_data", cfg.Streams.Records.Event, "unset keys keep defaults")
	assert.Equal(t, 20, cfg.Streams.Snapshots.Capacity)
	assert.Equal(t, 5*time.Second, cfg.Web.Heartbeat)
}

func TestLoad_RejectsBadCapacity(t *testing.T) {
	p := writeFile(t, "streams:\n  snapshots:\n    capacity: 0\n")
	_, err := Load(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "streams.snapshots.capacity")
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeFile(t, "source: [\n"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Defaults()
	env := map[string]string{
		"FEED_ENDPOINT":  "ws://10.0.0.5:5000",
		"FEED_DATASET":   "abcd-1234",
		"FEED_LOG_LEVEL": "debug",
	}
	cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.Equal(t, "ws://10.0.0.5:5000", cfg.Source.Endpoint)
	assert.Equal(t, "abcd-1234", cfg.Source.DatasetID)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"endpoint":     func(c *Config) { c.Source.Endpoint = " " },
		"interval":     func(c *Config) { c.Source.Interval = 0 },
		"codec":        func(c *Config) { c.Source.Codec = "xml" },
		"reconnect":    func(c *Config) { c.Source.Reconnect.Max = time.Millisecond },
		"shared event": func(c *Config) { c.Streams.Snapshots.Event = "taxi_data" },
		"port":         func(c *Config) { c.Web.Port = 70000 },
		"level":        func(c *Config) { c.Log.Level = "loud" },
		"format":       func(c *Config) { c.Log.Format = "xml" },
		"read limit":   func(c *Config) { c.Source.ReadLimit = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Defaults()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_StableErrorOrder(t *testing.T) {
	cfg := Defaults()
	cfg.Streams.Records.Capacity = 0
	cfg.Streams.Snapshots.Capacity = 0
	cfg.Streams.Records.Event = ""
	cfg.Log.Format = "xml"

	first := cfg.Validate()
	require.Error(t, first)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first.Error(), cfg.Validate().Error())
	}
	msg := first.Error()
	assert.Less(t, strings.Index(msg, "streams.records.capacity"), strings.Index(msg, "streams.snapshots.capacity"))
	assert.Contains(t, msg, `unknown format "xml"`)
}
