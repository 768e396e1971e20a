/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupTestTracer installs an in-memory span exporter for test assertions.
func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(
		trace.WithSyncer(exporter),
	)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func TestInitTraceProviderNoopWhenEmpty(t *testing.T) {
	shutdown, err := InitTraceProvider(context.Background(), "", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Should be a no-op shutdown
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestStartExecutionSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, span := StartExecutionSpan(ctx, "exec-123", "fast")
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "execution.run" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "execution.run")
	}

	attrs := spans[0].Attributes
	foundID := false
	foundSLA := false
	for _, a := range attrs {
		if string(a.Key) == "stagee.execution_id" && a.Value.AsString() == "exec-123" {
			foundID = true
		}
		if string(a.Key) == "stagee.sla_class" && a.Value.AsString() == "fast" {
			foundSLA = true
		}
	}
	if !foundID {
		t.Error("missing stagee.execution_id attribute")
	}
	if !foundSLA {
		t.Error("missing stagee.sla_class attribute")
	}
}

func TestStartStepSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, stepSpan := StartStepSpan(ctx, "step-1", "command", "host-1")
	EndStepSpan(stepSpan, "succeeded", "")

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "execution.step" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "execution.step")
	}

	attrs := spans[0].Attributes
	foundType := false
	foundAsset := false
	for _, a := range attrs {
		if string(a.Key) == "stagee.step_type" && a.Value.AsString() == "command" {
			foundType = true
		}
		if string(a.Key) == "stagee.asset_id" && a.Value.AsString() == "host-1" {
			foundAsset = true
		}
	}
	if !foundType {
		t.Error("missing stagee.step_type attribute")
	}
	if !foundAsset {
		t.Error("missing stagee.asset_id attribute")
	}
}

func TestStepSpanFailed(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, stepSpan := StartStepSpan(ctx, "step-2", "sql", "db-1")
	EndStepSpan(stepSpan, "failed", "Timeout")

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}

	attrs := spans[0].Attributes
	foundStatus := false
	foundClass := false
	for _, a := range attrs {
		if string(a.Key) == "stagee.step_status" && a.Value.AsString() == "failed" {
			foundStatus = true
		}
		if string(a.Key) == "stagee.error_class" && a.Value.AsString() == "Timeout" {
			foundClass = true
		}
	}
	if !foundStatus {
		t.Error("missing stagee.step_status attribute")
	}
	if !foundClass {
		t.Error("missing stagee.error_class attribute")
	}
}

func TestNestedSpans(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	ctx, execSpan := StartExecutionSpan(ctx, "exec-1", "medium")
	_, stepSpan := StartStepSpan(ctx, "step-1", "command", "host-1")
	stepSpan.End()
	execSpan.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}

	// Step span ends first, execution span second.
	stepStub := spans[0]
	execStub := spans[1]

	if stepStub.Parent.TraceID() != execStub.SpanContext.TraceID() {
		t.Error("step span should share trace ID with execution span")
	}
	if !stepStub.Parent.SpanID().IsValid() {
		t.Error("step span should have a valid parent span ID")
	}
}
