package bootstrap

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"mobility-feed/internal/adapters"
	"mobility-feed/internal/config"
	"mobility-feed/internal/metrics"
	"mobility-feed/internal/session"
	"mobility-feed/internal/web"
)

type Options struct {
	Dialer    adapters.Dialer // nil means websocket
	Registry  *prometheus.Registry
	AutoStart bool
	Logger    *slog.Logger
}

// RunAll mounts a session, serves it over HTTP when enabled and blocks
// until ctx is cancelled or a subsystem fails. The session is unmounted
// on every path.
func RunAll(ctx context.Context, cfg *config.Config, opts Options) error {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	sess, err := session.Mount(session.Options{
		Config:  cfg,
		Dialer:  opts.Dialer,
		Logger:  log,
		Metrics: metrics.New(reg),
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	if opts.AutoStart {
		if err := sess.Start(); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Web.Enabled {
		srv := web.New(cfg.Web, sess, reg, log)
		g.Go(func() error { return srv.Start(ctx) })
	}
	log.Info("running", "component", "bootstrap", "session", sess.ID, "web", cfg.Web.Enabled)

	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	err = g.Wait()
	if err != nil {
		log.Error("subsystem failed", "component", "bootstrap", "err", err)
	}
	return err
}
