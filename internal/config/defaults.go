package config

import (
	"time"

	"mobility-feed/internal/adapters/ws"
	"mobility-feed/internal/logging"
)

func Defaults() *Config {

	return &Config{
		Source: SourceConfig{
			Endpoint:         "ws://localhost:5000/stream",
			DatasetID:        "t29m-gskq",
			Interval:         5,
			Codec:            "json",
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     5 * time.Second,
			ReadLimit:        ws.DefaultReadLimit,
			TeardownTimeout:  2 * time.Second,
			Reconnect: ReconnectConfig{
				Enabled: true,
				Initial: 500 * time.Millisecond,
				Max:     10 * time.Second,
			},
		},

		Streams: StreamsConfig{
			Records:        StreamConfig{Event: "taxi_data", Field: "data", Capacity: 50},
			Snapshots:      StreamConfig{Event: "analytics_data", Field: "data", Capacity: 20},
			TimestampField: "timestamp",
			CountField:     "count",
			Diagnostics:    100,
		},

		Web: WebConfig{
			Enabled:   true,
			Host:      "0.0.0.0",
			Port:      8080,
			MaxConns:  256,
			Heartbeat: 15 * time.Second,
		},

		Log: logging.Config{Level: "info", Format: "text"},
	}
}
