/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package telemetry configures OpenTelemetry tracing for the Stage E
// Execution Engine. Custom span attributes use the `stagee.` prefix.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "stagee.io/executor"
)

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initialises the OTel trace provider with an OTLP gRPC exporter.
// If endpoint is empty, tracing is disabled (noop provider is used).
// Returns a shutdown function that must be called on application exit.
func InitTraceProvider(ctx context.Context, endpoint string, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		// No-op: tracing disabled
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(), // TLS configurable via env (OTEL_EXPORTER_OTLP_INSECURE)
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("stage-e-execution-engine"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// --- Span helpers ---

// StartExecutionSpan creates the parent span for one execution's run through
// the Executor Core.
func StartExecutionSpan(ctx context.Context, executionID, slaClass string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "execution.run",
		trace.WithAttributes(
			attribute.String("stagee.execution_id", executionID),
			attribute.String("stagee.sla_class", slaClass),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartStepSpan creates a child span for one step's dispatch through an
// adapter.
func StartStepSpan(ctx context.Context, stepID, stepType, assetID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "execution.step",
		trace.WithAttributes(
			attribute.String("stagee.step_id", stepID),
			attribute.String("stagee.step_type", stepType),
			attribute.String("stagee.asset_id", assetID),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndStepSpan enriches the step span with its outcome.
func EndStepSpan(span trace.Span, status, errorClass string) {
	span.SetAttributes(
		attribute.String("stagee.step_status", status),
	)
	if errorClass != "" {
		span.SetAttributes(attribute.String("stagee.error_class", errorClass))
	}
	span.End()
}

// StartApprovalSpan creates a span for an approval decision on an
// execution; it covers only as long as the caller keeps it open.
func StartApprovalSpan(ctx context.Context, executionID, approverRole string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "execution.approval",
		trace.WithAttributes(
			attribute.String("stagee.execution_id", executionID),
			attribute.String("stagee.required_approver_role", approverRole),
		),
	)
}

// EndApprovalSpan enriches the approval span with its decision.
func EndApprovalSpan(span trace.Span, decision, deciderID string) {
	span.SetAttributes(
		attribute.String("stagee.approval_decision", decision),
		attribute.String("stagee.decider_id", deciderID),
	)
	span.End()
}

// StartDispatchSpan creates a child span for the Queue's handoff of a
// background execution to a worker.
func StartDispatchSpan(ctx context.Context, executionID string, attempt int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "execution.dispatch",
		trace.WithAttributes(
			attribute.String("stagee.execution_id", executionID),
			attribute.Int("stagee.attempt", attempt),
		),
	)
}
