package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"sync/atomic"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/km-arc/go-activator/framework/app"
	"github.com/km-arc/go-activator/framework/config"
	"github.com/km-arc/go-activator/framework/container"
	gohttp "github.com/km-arc/go-activator/framework/http"
)

// ── Demo services ────────────────────────────────────────────────────────────

// Counter is shared by every request.
type Counter struct{ n atomic.Int64 }

func (c *Counter) Next() int64 { return c.n.Add(1) }

// UnitOfWork lives for one request and is closed with its scope.
type UnitOfWork struct {
	ID  string
	log *zap.Logger
}

func NewUnitOfWork(log *zap.Logger) *UnitOfWork {
	return &UnitOfWork{ID: uuid.NewString(), log: log}
}

func (u *UnitOfWork) Close() error {
	u.log.Debug("unit of work closed", zap.String("id", u.ID))
	return nil
}

// Greeter is transient; it gets the shared counter and the request's unit
// of work.
type Greeter struct {
	Counter *Counter    `inject:""`
	Work    *UnitOfWork `inject:""`
	Name    string      `inject:"name,optional" default:"world"`
}

func (g *Greeter) Greet() map[string]any {
	return map[string]any{
		"message": "hello, " + g.Name,
		"visit":   g.Counter.Next(),
		"work":    g.Work.ID,
	}
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer func() { _ = application.Close() }()

	greeter, err := container.StructProvider(reflect.TypeFor[*Greeter]())
	if err != nil {
		log.Fatalf("register: %v", err)
	}
	if err := application.Container.Register(greeter); err != nil {
		log.Fatalf("register: %v", err)
	}
	must(application.Provide(func() *Counter { return &Counter{} }, container.Reuse(container.Singleton)))
	must(application.Provide(NewUnitOfWork, container.Reuse(container.Scoped)))

	if err := application.Boot(); err != nil {
		log.Fatalf("boot: %v", err)
	}

	router, err := application.Router()
	if err != nil {
		log.Fatalf("router: %v", err)
	}

	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		g, err := gohttp.Resolve[*Greeter](r)
		if err != nil {
			gohttp.NewResponse(w).ResolveError(err)
			return
		}
		gohttp.NewResponse(w).Success(g.Greet())
	})

	// GET /hello/{name}: the name comes from the ambient context
	router.Get("/hello/{name}", func(w http.ResponseWriter, r *http.Request) {
		ambient := gohttp.Ambient(r).Set("name", gohttp.Param(r, "name"))
		g, err := gohttp.Resolve[*Greeter](r, container.WithContext(ambient))
		if err != nil {
			gohttp.NewResponse(w).ResolveError(err)
			return
		}
		gohttp.NewResponse(w).Success(g.Greet())
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		application.Logger().Error("server error", zap.Error(err))
	}
}

func loadConfig() (*config.Config, error) {
	if path := config.Get("APP_CONFIG_FILE", ""); path != "" {
		return config.LoadFile(path)
	}
	cfg := config.Load()
	return cfg, cfg.Validate()
}

func must(err error) {
	if err != nil {
		log.Fatalf("register: %v", err)
	}
}
