package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"mobility-feed/internal/bootstrap"
	"mobility-feed/internal/config"
	"mobility-feed/internal/logging"
	"mobility-feed/internal/session"
	"mobility-feed/internal/tui"
)

var version = "dev"

type flags struct {
	config   string
	endpoint string
	dataset  string
	interval int
	logLevel string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:     "mobility-feed",
		Short:   "Real-time consumer of the trip event stream",
		Version: version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&f.config, "config", "c", "", "config file (default "+config.DefaultPath+")")
	pf.StringVar(&f.endpoint, "endpoint", "", "event source URL")
	pf.StringVar(&f.dataset, "dataset", "", "dataset id sent with start_streaming")
	pf.IntVar(&f.interval, "interval", 0, "seconds between upstream polls")
	pf.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(newServeCommand(f), newWatchCommand(f))
	return root
}

// load reads the config file and applies flags that were set.
func (f *flags) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	fl := cmd.Flags()
	if fl.Changed("endpoint") {
		cfg.Source.Endpoint = f.endpoint
	}
	if fl.Changed("dataset") {
		cfg.Source.DatasetID = f.dataset
	}
	if fl.Changed("interval") {
		cfg.Source.Interval = f.interval
	}
	if fl.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func newServeCommand(f *flags) *cobra.Command {
	var idle bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Consume the stream and serve it over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			slog.SetDefault(log)
			gin.SetMode(gin.ReleaseMode)

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info("starting", "version", version, "endpoint", cfg.Source.Endpoint)
			return bootstrap.RunAll(ctx, cfg, bootstrap.Options{
				Registry:  reg,
				AutoStart: !idle,
				Logger:    log,
			})
		},
	}
	cmd.Flags().BoolVar(&idle, "idle", false, "do not connect until asked over HTTP")
	return cmd
}

func newWatchCommand(f *flags) *cobra.Command {
	var rows int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Show the live stream in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			// The screen belongs to the UI; logs go to a file when asked.
			log := slog.New(slog.DiscardHandler)
			if path := os.Getenv("FEED_LOG_FILE"); path != "" {
				out, err := tea.LogToFile(path, "mobility-feed")
				if err != nil {
					return err
				}
				defer out.Close()
				if log, err = logging.NewWriter(out, cfg.Log); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sess, err := session.Mount(session.Options{Config: cfg, Logger: log})
			if err != nil {
				return err
			}
			defer sess.Close()
			if err := sess.Start(); err != nil {
				return err
			}

			opts := tui.DefaultOptions()
			opts.Rows = rows
			model, err := tui.New(ctx, sess, opts)
			if err != nil {
				return err
			}
			_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
			if err != nil && ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().IntVar(&rows, "rows", 10, "records shown")
	return cmd
}
