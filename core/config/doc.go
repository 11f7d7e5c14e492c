// Package config provides type-safe environment variable loading with
// caching using Go generics. Each configuration type is loaded once and
// cached for subsequent calls.
//
// The package automatically loads .env files on first use and uses the
// caarlos0/env library for parsing environment variables into struct
// fields:
//
//	type ResolverConfig struct {
//		BaseDomains []string      `env:"BASE_DOMAINS" envSeparator:","`
//		SnapshotTTL time.Duration `env:"RESOLVER_SNAPSHOT_TTL" envDefault:"3s"`
//	}
//
//	var cfg ResolverConfig
//	config.MustLoad(&cfg)
package config
