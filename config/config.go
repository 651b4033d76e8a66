// Package config loads service configuration from a yaml file with
// environment-variable overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration. No package-level instance:
// main loads it once and injects what each component needs.
type Config struct {
	Server struct {
		Addr        string   `mapstructure:"addr"`
		CORSOrigins []string `mapstructure:"cors_origins"`
	} `mapstructure:"server"`

	Store struct {
		// Driver selects the backend: memory, sqlite, or postgres.
		Driver      string `mapstructure:"driver"`
		SQLitePath  string `mapstructure:"sqlite_path"`
		PostgresDSN string `mapstructure:"postgres_dsn"`
	} `mapstructure:"store"`

	Auth struct {
		JWTSecret string        `mapstructure:"jwt_secret"`
		TokenTTL  time.Duration `mapstructure:"token_ttl"`
	} `mapstructure:"auth"`

	Ledger struct {
		// OpeningBalance is the deposit every new account starts with,
		// as a decimal string. Must be non-negative.
		OpeningBalance string `mapstructure:"opening_balance"`

		// TransferTimeout bounds how long one transfer may hold its
		// atomic unit before aborting with a timeout.
		TransferTimeout time.Duration `mapstructure:"transfer_timeout"`
	} `mapstructure:"ledger"`

	Events struct {
		NATSURL string `mapstructure:"nats_url"` // empty disables publishing
	} `mapstructure:"events"`
}

// Load reads config.yaml from path (a directory), then applies environment
// overrides of the form LEDGER_SECTION_KEY (e.g. LEDGER_AUTH_JWT_SECRET).
func Load(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("ledger")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "ledger.db")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("ledger.opening_balance", "0")
	v.SetDefault("ledger.transfer_timeout", "10s")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		// No file is fine; defaults plus env cover dev runs.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	switch cfg.Store.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return Config{}, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if cfg.Auth.JWTSecret == "" {
		return Config{}, fmt.Errorf("auth.jwt_secret is required")
	}
	return cfg, nil
}
