package providers

import (
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/km-arc/go-activator/framework/config"
	"github.com/km-arc/go-activator/framework/container"
	gohttp "github.com/km-arc/go-activator/framework/http"
	"github.com/km-arc/go-activator/framework/metrics"
)

// ── ConfigServiceProvider ─────────────────────────────────────────────────────

// ConfigServiceProvider binds the application configuration.
//
// Bound types:
//   - *config.Config
//
// The configuration comes from Config when set, else from File (YAML) when
// set, else from .env and the environment.
type ConfigServiceProvider struct {
	container.BaseProvider
	Config   *config.Config
	File     string
	EnvFiles []string
}

func (p *ConfigServiceProvider) Register(app *container.Container) error {
	cfg, err := p.load()
	if err != nil {
		return err
	}
	prov, err := container.InstanceProvider(cfg)
	if err != nil {
		return err
	}
	return app.Register(prov)
}

func (p *ConfigServiceProvider) load() (*config.Config, error) {
	if p.Config != nil {
		return p.Config, p.Config.Validate()
	}
	if p.File != "" {
		return config.LoadFile(p.File, p.EnvFiles...)
	}
	cfg := config.Load(p.EnvFiles...)
	return cfg, cfg.Validate()
}

// ── LoggingServiceProvider ────────────────────────────────────────────────────

// LoggingServiceProvider binds the application logger.
//
// Bound types:
//   - *zap.Logger (singleton, built by ProvideLogger unless Logger is set)
type LoggingServiceProvider struct {
	container.BaseProvider
	Logger *zap.Logger
}

func (p *LoggingServiceProvider) Register(app *container.Container) error {
	if p.Logger != nil {
		prov, err := container.InstanceProvider(p.Logger)
		if err != nil {
			return err
		}
		return app.Register(prov)
	}
	return app.Provide(ProvideLogger, container.Reuse(container.Singleton))
}

// ProvideLogger builds a JSON production logger when APP_ENV is production
// and a console development logger otherwise, at the configured level.
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zc = zap.NewProductionConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("providers: log level: %w", err)
	}
	zc.Level = level

	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("app", cfg.App.Name)), nil
}

// ── MetricsServiceProvider ────────────────────────────────────────────────────

// MetricsServiceProvider binds the Prometheus collector. It is deferred:
// nothing is registered until *metrics.Collector is first requested.
//
// Bound types:
//   - *metrics.Collector (singleton)
//
// Collector, when set, is bound as is; pass the same collector to
// container.WithObserver to record container activity.
type MetricsServiceProvider struct {
	container.BaseProvider
	Collector *metrics.Collector
}

func (p *MetricsServiceProvider) Register(app *container.Container) error {
	if p.Collector != nil {
		prov, err := container.InstanceProvider(p.Collector)
		if err != nil {
			return err
		}
		return app.Register(prov)
	}
	return app.Provide(func(cfg *config.Config) *metrics.Collector {
		return metrics.NewCollector(cfg.Metrics.Namespace)
	}, container.Reuse(container.Singleton))
}

func (p *MetricsServiceProvider) Provides() []reflect.Type {
	return []reflect.Type{reflect.TypeFor[*metrics.Collector]()}
}

func (p *MetricsServiceProvider) IsDeferred() bool { return true }

// ── RoutingServiceProvider ────────────────────────────────────────────────────

// RoutingServiceProvider binds the HTTP router.
//
// Bound types:
//   - *gohttp.Router (singleton)
//
// The router opens a container scope per request. It serves /metrics when
// a *metrics.Collector can be resolved and the container diagnostics under
// /_container when APP_DEBUG_ROUTES is set.
type RoutingServiceProvider struct {
	container.BaseProvider
	CORSOrigins []string
}

func (p *RoutingServiceProvider) Register(app *container.Container) error {
	origins := p.CORSOrigins
	return app.Provide(func(c *container.Container, cfg *config.Config, log *zap.Logger, col *metrics.Collector) *gohttp.Router {
		router := gohttp.NewRouter(log)
		router.CORS(origins...)
		router.Middleware(gohttp.ScopePerRequest(c))
		if col != nil {
			router.Handle("/metrics", col.Handler())
		}
		if cfg.App.DebugRoutes {
			router.Mount("/_container", gohttp.Diagnostics(c))
		}
		return router
	},
		container.Reuse(container.Singleton),
		container.ParameterNames("container", "config", "log", "metrics"),
		container.Parameter(3, container.Param{Optional: true}),
	)
}
