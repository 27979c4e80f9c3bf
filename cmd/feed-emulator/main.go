package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mobility-feed/internal/emulator"
	"mobility-feed/internal/logging"
	"mobility-feed/internal/message"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var (
		addr      string
		path      string
		codec     string
		batch     int
		analytics time.Duration
		unit      time.Duration
		jitter    float64
		malformed int
		level     string
	)
	cmd := &cobra.Command{
		Use:          "feed-emulator",
		Short:        "Local websocket event source for development",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := logging.New(logging.Config{Level: level})
			if err != nil {
				return err
			}
			c := message.CodecJSON
			switch codec {
			case "json":
			case "cbor":
				c = message.CodecCBOR
			default:
				return fmt.Errorf("codec %q: want json or cbor", codec)
			}

			mux := http.NewServeMux()
			mux.Handle(path, emulator.New(emulator.Options{
				BatchSize:      batch,
				AnalyticsEvery: analytics,
				Jitter:         jitter,
				Codec:          c,
				MalformedEvery: malformed,
				IntervalUnit:   unit,
				Logger:         log,
			}))
			srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				_ = srv.Shutdown(shCtx)
			}()

			log.Info("feed-emulator listening", "addr", addr, "path", path, "codec", codec)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			log.Info("feed-emulator stopped")
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&addr, "addr", "127.0.0.1:5000", "listen address")
	fl.StringVar(&path, "path", "/stream", "websocket path")
	fl.StringVar(&codec, "codec", "json", "frame encoding, json or cbor")
	fl.IntVar(&batch, "batch", 10, "trips per taxi_data message")
	fl.DurationVar(&analytics, "analytics", 30*time.Second, "analytics_data period")
	fl.DurationVar(&unit, "unit", time.Second, "unit of the requested interval")
	fl.Float64Var(&jitter, "jitter", 0.2, "jitter for intervals (0..1)")
	fl.IntVar(&malformed, "malformed-every", 0, "corrupt every Nth batch, 0 disables")
	fl.StringVar(&level, "log-level", "info", "debug, info, warn or error")
	return cmd
}
