// Package telemetry bootstraps OpenTelemetry providers for hitld.
//
// Providers export over OTLP (gRPC or http/protobuf) and register
// themselves globally, so instrumented packages reach them through
// otel.Tracer and otel.Meter. Telemetry failures never crash the process;
// the instance degrades to no-op providers and reports itself degraded.
package telemetry
