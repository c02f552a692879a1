package store

import (
	"fmt"
	"time"
)

// Config holds the PostgreSQL connection settings. Populated from the
// db section of the app config (DB_* environment variables).
type Config struct {
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	Database              string `yaml:"database"`
	Username              string `yaml:"username"`
	Password              string `yaml:"password"`
	MaxConnections        int    `yaml:"max_connections"`
	MinConnections        int    `yaml:"min_connections"`
	ConnectionTimeoutSecs int    `yaml:"connection_timeout_secs"`
	IdleTimeoutSecs       int    `yaml:"idle_timeout_secs"`
}

func (cfg *Config) Validate() error {
	if cfg.Host == "" {
		return fmt.Errorf("db host must not be empty")
	}
	if cfg.Database == "" {
		return fmt.Errorf("db database must not be empty")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("db port must be in (0, 65535], got %d", cfg.Port)
	}
	if cfg.MaxConnections <= 0 {
		return fmt.Errorf("db max_connections must be greater than 0, got %d", cfg.MaxConnections)
	}
	if cfg.MinConnections < 0 || cfg.MinConnections > cfg.MaxConnections {
		return fmt.Errorf("db min_connections must be in [0, max_connections], got %d", cfg.MinConnections)
	}
	if cfg.ConnectionTimeoutSecs <= 0 {
		return fmt.Errorf("db connection_timeout_secs must be greater than 0, got %d", cfg.ConnectionTimeoutSecs)
	}
	if cfg.IdleTimeoutSecs <= 0 {
		return fmt.Errorf("db idle_timeout_secs must be greater than 0, got %d", cfg.IdleTimeoutSecs)
	}
	return nil
}

// URL builds the connection string.
func (cfg *Config) URL() string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
}

// DisplaySafe is the connection string with credentials masked, safe
// for logs.
func (cfg *Config) DisplaySafe() string {
	return fmt.Sprintf("postgresql://***:***@%s:%d/%s", cfg.Host, cfg.Port, cfg.Database)
}

func (cfg *Config) ConnectionTimeout() time.Duration {
	return time.Duration(cfg.ConnectionTimeoutSecs) * time.Second
}

func (cfg *Config) IdleTimeout() time.Duration {
	return time.Duration(cfg.IdleTimeoutSecs) * time.Second
}
