// Package config provides 12-factor configuration management for the build
// service.
//
// Configuration is loaded from environment variables with sensible defaults.
// The -port flag of cmd/server overrides PORT.
//
// Configuration Sections:
//   - Server, Logging, RateLimit: admin API process settings
//   - Store: SQLite database for settings and the dependency cache
//   - Cache: compiled stylesheet location
//   - Sandbox: readiness and request timeouts, bootstrap overrides
//   - Resolver: import map generator, CDN and npm registry endpoints, TTL
//   - Versions: compiler version registry and supported range
//   - Content: provider manifest and batch size
//   - Invalidation: NATS subject and purge webhooks
//   - HTTP: outbound client timeout, retries and rate
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Serving on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
package config
