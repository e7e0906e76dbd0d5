// Package server wires the pipeline and serves the admin API.
//
// Server lifecycle:
//  1. Load configuration from the environment
//  2. Initialize logger and the Prometheus registry
//  3. Open the SQLite store (settings, workspace, dependency cache)
//  4. Build HTTP clients, the version registry and the dependency resolver
//  5. Start the sandbox host and register content providers
//  6. Setup HTTP routes and middleware
//  7. Serve until a signal triggers Shutdown
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.NewServer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Run(); err != nil {
//	    log.Fatal(err)
//	}
package server
