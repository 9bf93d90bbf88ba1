// Package config loads service configuration from the environment with
// sensible defaults for local development.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable of the audit service.
type Config struct {
	Web        Web        `mapstructure:"web"`
	Postgres   Postgres   `mapstructure:"postgres"`
	OpenAI     OpenAI     `mapstructure:"openai"`
	Scraper    Scraper    `mapstructure:"scraper"`
	Screenshot Screenshot `mapstructure:"screenshot"`
	Engine     Engine     `mapstructure:"engine"`
	Otel       Otel       `mapstructure:"otel"`
}

type Web struct {
	APIHost            string        `mapstructure:"api_host"`
	APIPort            string        `mapstructure:"api_port"`
	DebugHost          string        `mapstructure:"debug_host"`
	DebugPort          string        `mapstructure:"debug_port"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	CORSAllowedOrigins []string      `mapstructure:"cors_allowed_origins"`
}

type Postgres struct {
	DSN      string `mapstructure:"dsn"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Host     string `mapstructure:"host"`
	Database string `mapstructure:"database"`
	MinConns int32  `mapstructure:"min_conns"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type OpenAI struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	RPS         float64 `mapstructure:"rps"`
	Burst       int     `mapstructure:"burst"`
}

type Scraper struct {
	Timeout time.Duration `mapstructure:"timeout"`
	RPS     float64       `mapstructure:"rps"`
	Burst   int           `mapstructure:"burst"`
}

type Screenshot struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type Engine struct {
	MaxConcurrentTasks int           `mapstructure:"max_concurrent_tasks"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	InitialInterval    time.Duration `mapstructure:"initial_interval"`
	MaxInterval        time.Duration `mapstructure:"max_interval"`
	SynthesisTimeout   time.Duration `mapstructure:"synthesis_timeout"`
	SubscriberBuffer   int           `mapstructure:"subscriber_buffer"`
}

type Otel struct {
	ServiceName      string  `mapstructure:"service_name"`
	ExporterEndpoint string  `mapstructure:"exporter_endpoint"`
	Probability      float64 `mapstructure:"probability"`
	InsecureExporter bool    `mapstructure:"insecure_exporter"`
}

// Load reads the configuration from environment variables. A variable named
// GTMAUDIT_WEB_API_PORT overrides web.api_port, and so on.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GTMAUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// AutomaticEnv alone does not surface env-only keys through Unmarshal;
	// binding each known key makes the override visible.
	for _, key := range v.AllKeys() {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("web.api_host", "0.0.0.0")
	v.SetDefault("web.api_port", "6000")
	v.SetDefault("web.debug_host", "0.0.0.0")
	v.SetDefault("web.debug_port", "6010")
	v.SetDefault("web.read_timeout", 5*time.Second)
	v.SetDefault("web.write_timeout", 0*time.Second)
	v.SetDefault("web.idle_timeout", 120*time.Second)
	v.SetDefault("web.shutdown_timeout", 20*time.Second)
	v.SetDefault("web.cors_allowed_origins", []string{"*"})

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "postgres")
	v.SetDefault("postgres.host", "postgres")
	v.SetDefault("postgres.database", "gtmaudit")
	v.SetDefault("postgres.min_conns", 5)
	v.SetDefault("postgres.max_conns", 25)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.temperature", 0.2)
	v.SetDefault("openai.rps", 2.0)
	v.SetDefault("openai.burst", 4)

	v.SetDefault("scraper.timeout", 30*time.Second)
	v.SetDefault("scraper.rps", 1.0)
	v.SetDefault("scraper.burst", 2)

	v.SetDefault("screenshot.endpoint", "")
	v.SetDefault("screenshot.timeout", 60*time.Second)

	v.SetDefault("engine.max_concurrent_tasks", 4)
	v.SetDefault("engine.max_attempts", 3)
	v.SetDefault("engine.initial_interval", 2*time.Second)
	v.SetDefault("engine.max_interval", 30*time.Second)
	v.SetDefault("engine.synthesis_timeout", 2*time.Minute)
	v.SetDefault("engine.subscriber_buffer", 256)

	v.SetDefault("otel.service_name", "gtm-audit")
	v.SetDefault("otel.exporter_endpoint", "tempo:4317")
	v.SetDefault("otel.probability", 0.05)
	v.SetDefault("otel.insecure_exporter", true)
}

// PostgresDSN returns the connection string, assembling one from the
// component fields when an explicit DSN is not set.
func (c Config) PostgresDSN() string {
	if c.Postgres.DSN != "" {
		return c.Postgres.DSN
	}
	return fmt.Sprintf("postgres://%s:%s@%s:5432/%s?sslmode=disable",
		c.Postgres.User, c.Postgres.Password, c.Postgres.Host, c.Postgres.Database)
}

// APIAddr returns the host:port the API server binds to.
func (c Config) APIAddr() string {
	return fmt.Sprintf("%s:%s", c.Web.APIHost, c.Web.APIPort)
}

// DebugAddr returns the host:port the debug server binds to.
func (c Config) DebugAddr() string {
	return fmt.Sprintf("%s:%s", c.Web.DebugHost, c.Web.DebugPort)
}
