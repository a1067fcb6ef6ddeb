package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/attuned-ai/attuned/config"
	domainsession "github.com/attuned-ai/attuned/internal/domain/session"
	"github.com/attuned-ai/attuned/internal/observability/statsd"
	"github.com/attuned-ai/attuned/internal/service"
)

// Runtime bundles the wired session core and its teardown.
type Runtime struct {
	Config     config.AppConfig
	Logger     *slog.Logger
	Controller *service.SessionController
	Router     *service.FlowRouter
	Metrics    statsd.Sink

	closers []func() error
}

// RuntimeOptions tunes runtime construction.
type RuntimeOptions struct {
	// Mount receives flow transitions. Defaults to a log line per mount.
	Mount service.MountFunc
}

// NewRuntime wires adapters and services from configuration. Call Close
// when done; on error everything already opened has been released.
func NewRuntime(cfg config.AppConfig, logger *slog.Logger, opts RuntimeOptions) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rt := &Runtime{Config: cfg, Logger: logger}

	metrics := BuildMetricsSink(cfg.Observability.Metrics, logger)
	rt.Metrics = metrics
	if closer, ok := metrics.(interface{ Close() error }); ok {
		rt.closers = append(rt.closers, closer.Close)
	}

	store, closeStore, err := BuildCredentialStore(cfg.Store, logger)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, closeStore)

	idp, err := BuildIdentityProvider(cfg.Identity, logger)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	backend, err := BuildProfileBackend(cfg.Backend, idp, logger)
	if err != nil {
		_ = idp.Close()
		_ = rt.Close()
		return nil, err
	}

	controller, err := service.NewSessionController(service.SessionControllerOptions{
		Identity:    idp,
		Backend:     backend,
		Store:       store,
		Logger:      logger,
		Metrics:     metrics,
		InitTimeout: cfg.Session.InitTimeout,
		StoreKey:    cfg.Session.StoreKey,
	})
	if err != nil {
		_ = idp.Close()
		_ = rt.Close()
		return nil, fmt.Errorf("create session controller: %w", err)
	}
	rt.Controller = controller
	rt.closers = append(rt.closers, controller.Close)

	mount := opts.Mount
	if mount == nil {
		mount = func(flow domainsession.Flow) {
			logger.Info("flow mounted", "flow", flow)
		}
	}
	rt.Router = service.NewFlowRouter(service.FlowRouterOptions{
		Source:  controller,
		Mount:   mount,
		Logger:  logger,
		Metrics: metrics,
	})

	return rt, nil
}

// Run initializes the controller and drives the flow router until ctx is
// done or SIGINT/SIGTERM arrives.
func (rt *Runtime) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Controller.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize session controller: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.Router.Run(gctx)
	})

	err := g.Wait()
	rt.Logger.Info("shutting down")
	if closeErr := rt.Close(); closeErr != nil {
		rt.Logger.Warn("shutdown cleanup failed", "error", closeErr)
	}
	return err
}

// Close releases runtime resources in reverse construction order. Safe
// to call more than once.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
