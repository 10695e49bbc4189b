// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry installs the process-wide OpenTelemetry providers
// that every package's package-level otel.Tracer/otel.Meter calls
// resolve against. Without a call to Init, those calls fall back to
// the no-op SDK and every scheduler span is discarded; Init gives the
// CLI a real exporter without requiring a collector to be running.
// Grounded on cmd/aleutian/internal/diagnostics/tracer.go's
// resource+provider+global-registration shape, with the OTLP/gRPC
// exporter swapped for the stdout trace exporter (locusagent has no
// collector dependency) and a manual metric reader standing in for a
// push exporter, since nothing here needs metrics scraped externally.
package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Shutdown flushes and detaches the providers Init installed. Safe to
// call once; the caller should defer it immediately after Init
// succeeds.
type Shutdown func(context.Context) error

// Init installs a process-wide TracerProvider and MeterProvider
// tagged with serviceName, and registers them as the global providers
// every otel.Tracer(name)/otel.Meter(name) call in the binary
// resolves against.
//
// traceWriter receives the exported spans (os.Stderr in the CLI, so
// traces don't interleave with a task's own stdout). A nil traceWriter
// disables span export entirely: spans are still created (so
// span.RecordError/SetStatus calls in callers remain valid no-ops)
// but never written anywhere.
func Init(ctx context.Context, serviceName string, traceWriter io.Writer) (Shutdown, error) {
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	tp, err := newTracerProvider(res, traceWriter)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return fmt.Errorf("telemetry: shut down tracer provider: %w", err)
		}
		if err := mp.Shutdown(ctx); err != nil {
			return fmt.Errorf("telemetry: shut down meter provider: %w", err)
		}
		return nil
	}, nil
}

func newTracerProvider(res *resource.Resource, traceWriter io.Writer) (*sdktrace.TracerProvider, error) {
	if traceWriter == nil {
		return sdktrace.NewTracerProvider(sdktrace.WithResource(res)), nil
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(traceWriter), stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("telemetry: build stdout trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	), nil
}
