/*
Package monitoring provides metrics collection for the build pipeline.

# Overview

Prometheus collectors track compile runs, per-stage failures and durations,
dependency map lookups, sandbox acquisitions and exchanges, provider batches,
and admin API traffic. Collectors register on an injected Registerer so tests
can use a private registry.

# Usage

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)
	router.Use(monitoring.Middleware(metrics))

	timer := monitoring.NewTimer(metrics, "scan-content")
	// ... run the stage ...
	timer.Stop()

A nil *Metrics is accepted everywhere and records nothing.

# Metrics Endpoint

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
*/
package monitoring
