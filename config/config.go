// Package config loads the engine's runtime configuration from the
// environment.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the runtime configuration of the engine.
type Config struct {
	// DatabaseURL is the central database. Required.
	DatabaseURL string
	// ArchitectSchema holds the _sys_* tables. Identifier-validated by the
	// store.
	ArchitectSchema string
	// PackagePath optionally points at a package directory or zip to load
	// at startup.
	PackagePath string
	// ListenAddr is the HTTP bind address.
	ListenAddr string
	// TenantPoolLimit bounds the number of tenant pools kept open.
	TenantPoolLimit int
	// TenantRefreshInterval is the registry refresh period; zero disables
	// the timer.
	TenantRefreshInterval time.Duration
}

// Load reads configuration from the environment. Defaults are applied for
// everything except DATABASE_URL.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("ARCHITECT_SCHEMA", "architect")
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("TENANT_POOL_LIMIT", 32)
	v.SetDefault("TENANT_REFRESH_INTERVAL", "60s")

	cfg := &Config{
		DatabaseURL:           v.GetString("DATABASE_URL"),
		ArchitectSchema:       v.GetString("ARCHITECT_SCHEMA"),
		PackagePath:           v.GetString("PACKAGE_PATH"),
		ListenAddr:            v.GetString("LISTEN_ADDR"),
		TenantPoolLimit:       v.GetInt("TENANT_POOL_LIMIT"),
		TenantRefreshInterval: v.GetDuration("TENANT_REFRESH_INTERVAL"),
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}
