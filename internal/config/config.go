package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Catalog   CatalogConfig   `yaml:"catalog" mapstructure:"catalog"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	MarketAPI MarketAPIConfig `yaml:"market_api" mapstructure:"market_api"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Warehouse WarehouseConfig `yaml:"warehouse" mapstructure:"warehouse"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the local database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DBPath      string `yaml:"db_path" mapstructure:"db_path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// CatalogConfig points at optional YAML overrides for the field catalog
// and the tracked-field set. Empty paths fall back to the embedded defaults.
type CatalogConfig struct {
	Path        string `yaml:"path" mapstructure:"path"`
	TrackedPath string `yaml:"tracked_path" mapstructure:"tracked_path"`
}

// PipelineConfig configures pipeline execution.
type PipelineConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// FetchConfig configures page fetching, retry, and identity rotation.
type FetchConfig struct {
	TimeoutSecs      int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts      int      `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int      `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int      `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	JitterFraction   float64  `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	RatePerSec       float64  `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	UserAgents       []string `yaml:"user_agents" mapstructure:"user_agents"`
	Proxies          []string `yaml:"proxies" mapstructure:"proxies"`
}

// MarketAPIConfig holds marketplace item API settings.
type MarketAPIConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Key     string `yaml:"key" mapstructure:"key"`
}

// ServerConfig configures the report/stats HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// WarehouseConfig configures the Postgres warehouse sync target.
type WarehouseConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SHOPLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.db_path", "shoplens.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("fetch.timeout_secs", 20)
	v.SetDefault("fetch.max_attempts", 4)
	v.SetDefault("fetch.initial_backoff_ms", 800)
	v.SetDefault("fetch.max_backoff_ms", 15000)
	v.SetDefault("fetch.jitter_fraction", 0.4)
	v.SetDefault("fetch.rate_per_sec", 1.0)
	v.SetDefault("market_api.base_url", "https://api.marketfeed.jp")
	v.SetDefault("server.port", 8470)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the configuration required by the given command mode
// is present and within bounds. All violations are reported together.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "run", "report", "stats":
		// Local store only.
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be > 0 and <= 65535")
		}
	case "sync":
		if c.Warehouse.DatabaseURL == "" && c.Store.DatabaseURL == "" {
			problems = append(problems, "warehouse.database_url (or store.database_url) is required for sync")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	if c.Store.Driver == "sqlite" && c.Store.DBPath == "" {
		problems = append(problems, "store.db_path is required for the sqlite driver")
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required for the postgres driver")
	}

	if c.Pipeline.Concurrency < 1 || c.Pipeline.Concurrency > 32 {
		problems = append(problems, "pipeline.concurrency must be between 1 and 32")
	}
	if c.Fetch.MaxAttempts < 1 {
		problems = append(problems, "fetch.max_attempts must be >= 1")
	}
	if c.Fetch.JitterFraction < 0 || c.Fetch.JitterFraction > 1 {
		problems = append(problems, "fetch.jitter_fraction must be between 0 and 1")
	}
	if c.Fetch.RatePerSec <= 0 {
		problems = append(problems, "fetch.rate_per_sec must be > 0")
	}
	if c.MarketAPI.Enabled && c.MarketAPI.Key == "" {
		problems = append(problems, "market_api.key is required when market_api.enabled is true")
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
