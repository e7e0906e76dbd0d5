/*
Package tracing attaches trace and span ids to admin API requests.

Inbound X-Trace-ID and X-Span-ID headers are honoured, so a caller that
already traces its own work sees the compile under the same trace. Finished
spans are logged through zap by one collector goroutine with a 1000-span
buffer; a full buffer drops spans rather than blocking requests.

	tracer := tracing.New("siul", logger)
	defer tracer.Close()
	router.Use(tracing.HTTPMiddleware(tracer))
*/
package tracing
