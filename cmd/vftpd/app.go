package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/gonzalop/vftpd/ftptest"
	"github.com/gonzalop/vftpd/metrics"
	"github.com/gonzalop/vftpd/server"
)

// app is a configured daemon: a bound FTP server, its content backend and
// the optional metrics endpoint.
type app struct {
	cfg    Config
	logger *slog.Logger

	runner    *ftptest.Runner
	closeRoot func() error

	metricsLn  net.Listener
	metricsSrv *http.Server
}

// serverOptions translates cfg into server options.
func serverOptions(cfg Config, logger *slog.Logger) ([]server.Option, error) {
	opts := []server.Option{
		server.WithLogger(logger),
		server.WithAuthenticator(cfg.authenticator()),
		server.WithMaxConnections(cfg.MaxConnections),
		server.WithMaxIdleTime(cfg.IdleTimeout),
		server.WithBandwidthLimit(cfg.BandwidthLimit, cfg.SessionBandwidthLimit),
	}
	if cfg.PublicIP != "" {
		opts = append(opts, server.WithMasqueradeIP(cfg.PublicIP))
	}
	if cfg.PassivePorts != "" {
		lo, hi, err := server.ParsePortRange(cfg.PassivePorts)
		if err != nil {
			return nil, err
		}
		opts = append(opts, server.WithPassivePortRange(lo, hi))
	}
	return opts, nil
}

// newApp opens the backend and binds the FTP and metrics listeners.
func newApp(cfg Config, logger *slog.Logger) (*app, error) {
	opts, err := serverOptions(cfg, logger)
	if err != nil {
		return nil, err
	}

	root, closeRoot, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, closeRoot: closeRoot}
	opts = append(opts, server.WithRoot(root))

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		mc := metrics.New("vftpd")
		if err := mc.Register(reg); err != nil {
			a.close()
			return nil, err
		}
		opts = append(opts, server.WithMetricsCollector(mc))

		ln, err := net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			a.close()
			return nil, err
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		a.metricsLn = ln
		a.metricsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	}

	a.runner, err = ftptest.Build(cfg.Host, []int{cfg.Port}, opts...)
	if err != nil {
		if a.metricsLn != nil {
			a.metricsLn.Close()
		}
		a.close()
		return nil, err
	}
	return a, nil
}

// metricsAddr returns the bound metrics address, or "" when disabled.
func (a *app) metricsAddr() string {
	if a.metricsLn == nil {
		return ""
	}
	return a.metricsLn.Addr().String()
}

// run serves until ctx is done or a listener fails, then shuts everything
// down.
func (a *app) run(ctx context.Context) error {
	defer a.close()

	if err := a.runner.Start(a.cfg.StartTimeout); err != nil {
		_ = a.runner.Shutdown(a.cfg.ShutdownTimeout)
		if a.metricsLn != nil {
			a.metricsLn.Close()
		}
		return err
	}
	a.logger.Info("vftpd_started",
		"addr", a.runner.Addr(),
		"backend", a.cfg.Backend,
		"metrics_addr", a.metricsAddr(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(a.runner.Wait)
	g.Go(func() error {
		<-gctx.Done()
		return a.runner.Shutdown(a.cfg.ShutdownTimeout)
	})

	if a.metricsSrv != nil {
		g.Go(func() error {
			if err := a.metricsSrv.Serve(a.metricsLn); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
			defer cancel()
			return a.metricsSrv.Shutdown(sctx)
		})
	}

	err := g.Wait()
	a.logger.Info("vftpd_stopped", "error", err)
	return err
}

// close releases the content backend. The listeners are owned by run.
func (a *app) close() {
	if a.closeRoot != nil {
		if err := a.closeRoot(); err != nil {
			a.logger.Warn("backend_close_failed", "error", err)
		}
		a.closeRoot = nil
	}
}
