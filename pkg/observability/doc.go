// Package observability provides OpenTelemetry tracing and metrics for
// the Portarium control plane.
//
// Initialize the provider at application startup:
//
//	obs, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "portarium-core",
//		OTLPEndpoint: "otel-collector:4317",
//		SampleRate:   0.1, // 10% sampling in production
//		Enabled:      true,
//	})
//	defer obs.Shutdown(ctx)
//
// Instrument a command invocation:
//
//	ctx, finish := obs.TrackCommand(ctx, "startWorkflow", tenantID)
//	defer func() { finish(err) }()
//
// Every tracked command also feeds the in-process SLO tracker, so
// burn-rate and latency compliance can be inspected at runtime:
//
//	status, err := obs.SLOs().Status("startWorkflow")
package observability
