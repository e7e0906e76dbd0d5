// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output, one object per line
//   - Development: Colored console output
//
// Every pipeline component receives a named child logger, so log lines carry
// a "component" field (resolver, sandbox, content, compiler, cachestore).
//
// Example Usage:
//
//	logger := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development)
//	res := resolver.New(..., logger.Component("resolver"))
//	logger.Info("Server starting", zap.String("port", "8787"))
package logging
