// Package main is the entry point for the yabe-siul build server.
//
// The server compiles a utility-first stylesheet on demand. Markup is
// gathered from the configured content providers, the compiler runs inside
// an isolated JavaScript sandbox, and the result is written to the cache
// directory for the web server to pick up.
//
// Configuration:
//   - Environment variables (see internal/infrastructure/config)
//   - CLI flags (override env vars)
//
// Usage:
//
//	# Serve the admin API
//	./server -port 8787
//
//	# Compile once and exit
//	./server -compile
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
