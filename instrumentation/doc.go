// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for
// the grantline parties.
//
// It exposes metrics (counters, histograms, and gauges for authorization,
// token, guard, and storage operations), traces (nil-safe span helpers and
// shared attribute keys), and a single Instrumentation value that each party
// accepts at construction time.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "grantline-authserver",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
// When Enabled is false (or when a party is constructed without an
// Instrumentation at all), no-op providers are used and every helper in this
// package tolerates nil receivers and nil spans, so instrumented code paths
// cost nothing in uninstrumented deployments.
//
// Providers currently default to no-op; wiring real exporters is a
// deployment concern and can be done through Config.Resource plus a custom
// provider without changing any call sites.
package instrumentation
