package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/km-arc/go-activator/framework/container"
)

// Config is the central typed configuration struct.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Log       LogConfig       `yaml:"log"`
	Container ContainerConfig `yaml:"container"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type AppConfig struct {
	Name        string `yaml:"name" validate:"required"`
	Env         string `yaml:"env" validate:"oneof=local production testing"`
	Port        string `yaml:"port" validate:"required,numeric"`
	DebugRoutes bool   `yaml:"debug_routes"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// ContainerConfig holds the activation settings applied to the
// application container.
type ContainerConfig struct {
	MaxDepth            int    `yaml:"max_depth" validate:"gte=1,lte=4096"`
	ConstructorPolicy   string `yaml:"constructor_policy" validate:"oneof=most least best dynamic"`
	AllowNil            bool   `yaml:"allow_nil"`
	RejectDuplicateKeys bool   `yaml:"reject_duplicate_keys"`
	LazySequences       bool   `yaml:"lazy_sequences"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace" validate:"required_if=Enabled true"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name: "activator",
			Env:  "local",
			Port: "8000",
		},
		Log: LogConfig{Level: "info"},
		Container: ContainerConfig{
			MaxDepth:          container.DefaultMaxDepth,
			ConstructorPolicy: container.MostParameters.String(),
		},
		Metrics: MetricsConfig{Namespace: "activator"},
	}
}

// Load reads .env (if present) and populates a Config from environment
// variables over the defaults.
// Call once at bootstrap: cfg := config.Load()
func Load(envFiles ...string) *Config {
	loadEnvFiles(envFiles)
	cfg := Default()
	cfg.overlayEnv()
	return cfg
}

// LoadFile reads a YAML file over the defaults, then applies .env and the
// environment on top, and validates the result.
func LoadFile(path string, envFiles ...string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	loadEnvFiles(envFiles)
	cfg.overlayEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks every field against its validate tag.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: validation failed: %w", err)
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool { return c.App.Env == "production" }

// Options maps the settings onto container options.
func (c ContainerConfig) Options() ([]container.Option, error) {
	policy, err := container.ParseConstructorPolicy(c.ConstructorPolicy)
	if err != nil {
		return nil, err
	}
	return []container.Option{
		container.WithMaxDepth(c.MaxDepth),
		container.WithConstructorPolicy(policy),
		container.WithAllowNil(c.AllowNil),
		container.WithRejectDuplicateKeys(c.RejectDuplicateKeys),
		container.WithLazySequences(c.LazySequences),
	}, nil
}

func loadEnvFiles(files []string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	// Non-fatal: .env may not exist in production
	_ = godotenv.Load(files...)
}

func (c *Config) overlayEnv() {
	c.App.Name = env("APP_NAME", c.App.Name)
	c.App.Env = env("APP_ENV", c.App.Env)
	c.App.Port = env("APP_PORT", c.App.Port)
	c.App.DebugRoutes = envBool("APP_DEBUG_ROUTES", c.App.DebugRoutes)

	c.Log.Level = env("LOG_LEVEL", c.Log.Level)

	c.Container.MaxDepth = GetInt("ACTIVATOR_MAX_DEPTH", c.Container.MaxDepth)
	c.Container.ConstructorPolicy = env("ACTIVATOR_CONSTRUCTOR_POLICY", c.Container.ConstructorPolicy)
	c.Container.AllowNil = envBool("ACTIVATOR_ALLOW_NIL", c.Container.AllowNil)
	c.Container.RejectDuplicateKeys = envBool("ACTIVATOR_REJECT_DUPLICATE_KEYS", c.Container.RejectDuplicateKeys)
	c.Container.LazySequences = envBool("ACTIVATOR_LAZY_SEQUENCES", c.Container.LazySequences)

	c.Metrics.Enabled = envBool("METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Namespace = env("METRICS_NAMESPACE", c.Metrics.Namespace)
}

// Get returns a raw env value, falling back to defaultVal.
func Get(key, defaultVal string) string {
	return env(key, defaultVal)
}

// GetInt returns an int env value.
func GetInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

// GetBool returns a bool env value.
func GetBool(key string, defaultVal bool) bool {
	return envBool(key, defaultVal)
}

// ── helpers ─────────────────────────────────────────────────────────────────

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
