/*
Package resilience provides a circuit breaker for remote services the
pipeline depends on (import map generator, version registry, npm registry).

When the generator service keeps failing, the breaker opens and calls fail
fast with ErrCircuitOpen, which the resolver treats like any other remote
failure and falls back to local resolution.

# Usage

	breaker := resilience.New("import-map-generator", resilience.Settings{
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	err := breaker.Do(func() error {
		return callGenerator(ctx)
	})

# States

	Closed --[ReadyToTrip]-> Open --[Timeout]-> Half-Open --[MaxRequests successes]-> Closed
	                                               |
	                                           [failure]
	                                               v
	                                             Open
*/
package resilience
