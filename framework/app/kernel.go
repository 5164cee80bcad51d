package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/km-arc/go-activator/framework/config"
	"github.com/km-arc/go-activator/framework/container"
	gohttp "github.com/km-arc/go-activator/framework/http"
	"github.com/km-arc/go-activator/framework/metrics"
	"github.com/km-arc/go-activator/framework/providers"
)

const shutdownTimeout = 30 * time.Second

// Application is the top-level application container. It embeds the
// Container and the ProviderRegistry so user code can call app.Provide(),
// app.Register() and container.Resolve[T](app) directly.
type Application struct {
	*container.Container
	Providers *container.ProviderRegistry

	config    *config.Config
	log       *zap.Logger
	collector *metrics.Collector
}

// New builds the container from cfg and registers the framework
// providers: config, logging, metrics (when enabled) and routing.
func New(cfg *config.Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := providers.ProvideLogger(cfg)
	if err != nil {
		return nil, err
	}

	opts, err := cfg.Container.Options()
	if err != nil {
		return nil, err
	}
	opts = append(opts, container.WithLogger(logger.Named("container")))

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace)
		opts = append(opts, container.WithObserver(collector))
	}

	c := container.New(opts...)
	app := &Application{
		Container: c,
		Providers: container.NewProviderRegistry(c),
		config:    cfg,
		log:       logger,
		collector: collector,
	}

	core := []container.ServiceProvider{
		&providers.ConfigServiceProvider{Config: cfg},
		&providers.LoggingServiceProvider{Logger: logger},
		&providers.RoutingServiceProvider{},
	}
	if collector != nil {
		core = append(core, &providers.MetricsServiceProvider{Collector: collector})
	}
	for _, p := range core {
		if err := app.Register(p); err != nil {
			return nil, err
		}
	}
	return app, nil
}

// Register adds a ServiceProvider to the application.
func (a *Application) Register(provider container.ServiceProvider) error {
	return a.Providers.Register(provider)
}

// Boot runs the Boot phase on all providers.
func (a *Application) Boot() error {
	return a.Providers.Boot()
}

// Config returns the configuration the application was built from.
func (a *Application) Config() *config.Config { return a.config }

// Logger returns the application logger.
func (a *Application) Logger() *zap.Logger { return a.log }

// Collector returns the metrics collector, or nil when metrics are off.
func (a *Application) Collector() *metrics.Collector { return a.collector }

// Router resolves the HTTP router.
func (a *Application) Router() (*gohttp.Router, error) {
	return container.Resolve[*gohttp.Router](a.Container)
}

// Run boots the application (if needed) and serves HTTP on APP_PORT until
// ctx is cancelled, then shuts the server down gracefully.
func (a *Application) Run(ctx context.Context) error {
	if !a.Providers.Booted() {
		if err := a.Boot(); err != nil {
			return err
		}
	}
	router, err := a.Router()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         ":" + a.config.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("starting server",
			zap.String("address", srv.Addr),
			zap.String("environment", a.config.App.Env),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close disposes every singleton and flushes the logger.
func (a *Application) Close() error {
	err := a.Container.Close()
	_ = a.log.Sync()
	return err
}

// Environment returns the APP_ENV value.
func (a *Application) Environment() string { return a.config.App.Env }
func (a *Application) IsLocal() bool       { return a.Environment() == "local" }
func (a *Application) IsProduction() bool  { return a.config.IsProduction() }
func (a *Application) IsTesting() bool     { return a.Environment() == "testing" }
