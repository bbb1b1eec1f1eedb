// Package app wires the license server together and runs it.
//
// # Initialization Flow
//
//	1. Logger (JSON slog, trace_id injection)
//	2. OpenTelemetry (optional stdout traces, Prometheus metrics)
//	3. Credential store database and schema migration
//	4. License manager and health check
//	5. Router, middleware and HTTP server
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//		return err
//	}
//	application, err := app.NewApplication(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	return application.Run()
//
// # Graceful Shutdown
//
// Run stops on SIGINT or SIGTERM. In-flight requests are drained, then the
// validation cache sweeper, the database pool and the telemetry providers
// are shut down in that order.
package app
