package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

type Config struct {
	Port               int      `mapstructure:"port"`
	DatabaseDriver     string   `mapstructure:"database_driver"` // "sqlite" or "postgres"
	DatabasePath       string   `mapstructure:"database_path"`   // sqlite file
	DatabaseDSN        string   `mapstructure:"database_dsn"`    // postgres connection string
	PluginConfigDir    string   `mapstructure:"plugin_config_dir"`
	TaskSeedPath       string   `mapstructure:"task_seed_path"` // JSON seed for the task source; empty = none
	CipherPassphrase   string   `mapstructure:"-"`              // read only from env, never from file
	LogLevel           string   `mapstructure:"log_level"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	RequestTimeoutSec  int      `mapstructure:"request_timeout_sec"`  // HTTP read/write; 0 = server default
	ShutdownTimeoutSec int      `mapstructure:"shutdown_timeout_sec"` // graceful shutdown wait
	PluginStopGraceSec int      `mapstructure:"plugin_stop_grace_sec"`
	OAuthRedirectBase  string   `mapstructure:"oauth_redirect_base"` // public base URL for callbacks
}

// cipherPassphraseEnv is the only source for the token cipher key. Keeping
// it out of config files keeps it out of config backups.
const cipherPassphraseEnv = "TRIAGEHUB_CIPHER_PASSPHRASE"

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/triagehub/")
	viper.AddConfigPath("$HOME/.triagehub")
	viper.AddConfigPath(".")

	// Defaults
	viper.SetDefault("port", 8080)
	viper.SetDefault("database_driver", "sqlite")
	viper.SetDefault("database_path", "./triagehub.db")
	viper.SetDefault("database_dsn", "")
	viper.SetDefault("plugin_config_dir", "./plugins.d")
	viper.SetDefault("task_seed_path", "")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("allowed_origins", []string{"*"})
	viper.SetDefault("request_timeout_sec", 30)
	viper.SetDefault("shutdown_timeout_sec", 15)
	viper.SetDefault("plugin_stop_grace_sec", 10)
	viper.SetDefault("oauth_redirect_base", "http://localhost:8080")

	// Environment variables
	viper.SetEnvPrefix("TRIAGEHUB")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; using defaults and env vars
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.CipherPassphrase = os.Getenv(cipherPassphraseEnv)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.DatabaseDriver {
	case "sqlite":
		if c.DatabasePath == "" {
			return fmt.Errorf("database_path is required for the sqlite driver")
		}
	case "postgres":
		if c.DatabaseDSN == "" {
			return fmt.Errorf("database_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported database_driver %q", c.DatabaseDriver)
	}
	if c.CipherPassphrase == "" {
		return fmt.Errorf("%s must be set", cipherPassphraseEnv)
	}
	return nil
}
