package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/shazow/wipi/internal/clock"
	"github.com/shazow/wipi/internal/config"
	"github.com/shazow/wipi/internal/control"
	"github.com/shazow/wipi/internal/controller"
	"github.com/shazow/wipi/internal/log"
	"github.com/shazow/wipi/internal/metrics"
	"github.com/shazow/wipi/internal/monitor"
)

func runDaemon(ctx context.Context, opts *options) error {
	handler := log.Init(os.Stderr, opts.Debug)
	logger := slog.Default()

	store, err := config.Open(opts.Config, logger.With("component", "config"))
	if err != nil {
		return &ExitError{Code: exitUsage, Err: err}
	}
	cfg := store.Current()
	log.SetDebug(opts.Debug || cfg.DebugMode)

	backend, err := newBackend(opts.Backend, opts.Interface, opts.LeasesFile, logger.With("component", "backend"))
	if err != nil {
		return &ExitError{Code: exitBackend, Err: fmt.Errorf("wifi backend unavailable: %w", err)}
	}
	defer backend.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	reg := metrics.New()
	clk := clock.Real()
	events := make(chan monitor.Event, 1)
	mon := monitor.New(backend, store.Current, events, clk, logger.With("component", "monitor"))
	ctrl := controller.New(controller.Options{
		Backend: backend,
		Store:   store,
		Events:  events,
		Recheck: mon.Recheck,
		Clock:   clk,
		Logger:  logger.With("component", "controller"),
		Metrics: reg,
		ForceAP: opts.ForceAP,
		OnReload: func(cfg *config.Config) {
			log.SetDebug(opts.Debug || cfg.DebugMode)
		},
	})
	srv := control.NewServer(opts.Socket, ctrl, handler.Lines, logger.With("component", "control"))

	logger.Info("starting", "version", Version, "interface", opts.Interface, "backend", opts.Backend, "config", store.Path())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mon.Run(ctx) })
	g.Go(func() error { return ctrl.Run(ctx) })
	g.Go(func() error { return srv.Serve(ctx) })
	if opts.MetricsAddr != "" {
		router := metrics.NewRouter(reg, func() (any, bool) {
			r := srv.Report()
			return r, !r.Degraded
		})
		g.Go(func() error {
			// The daemon keeps managing WiFi without its metrics listener.
			if err := metrics.Serve(ctx, opts.MetricsAddr, router, logger.With("component", "metrics")); err != nil {
				logger.Error("metrics server failed", "addr", opts.MetricsAddr, "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				logger.Info("reloading configuration on SIGHUP")
				if _, err := ctrl.Submit(ctx, controller.CommandReload); err != nil {
					logger.Warn("reload failed", "error", err)
				}
			}
		}
	})

	err = g.Wait()
	logger.Info("stopped")
	return err
}
