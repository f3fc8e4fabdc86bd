// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transaction

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const transactionTracerName = "shipyard.transaction"

// Tracer wraps OpenTelemetry spans for transaction scopes and drains.
//
// When disabled every Start method returns a noop span, so callers never
// need to nil-check.
type Tracer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool
}

// NewTracer creates a Tracer using the global tracer provider.
func NewTracer(logger *slog.Logger, enabled bool) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		tracer:  otel.Tracer(transactionTracerName),
		logger:  logger,
		enabled: enabled,
	}
}

// StartScope starts the transaction.scope span.
func (t *Tracer) StartScope(ctx context.Context) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "transaction.scope", trace.WithSpanKind(trace.SpanKindInternal))
}

// EndScope finishes the scope span with the scope outcome.
func (t *Tracer) EndScope(span trace.Span, err error) {
	if span == nil {
		return
	}
	defer span.End()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// StartRollback starts the transaction.rollback span.
func (t *Tracer) StartRollback(ctx context.Context, pending int) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	ctx, span := t.tracer.Start(ctx, "transaction.rollback",
		trace.WithAttributes(attribute.Int("tx.pending_actions", pending)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	t.logger.DebugContext(ctx, "rollback span started", slog.Int("pending", pending))
	return ctx, span
}

// EndRollback finishes the rollback span. Failed undo actions are added
// as span events; the span status is Error if any failed.
func (t *Tracer) EndRollback(span trace.Span, report RollbackReport) {
	if span == nil {
		return
	}
	defer span.End()

	span.SetAttributes(
		attribute.Int("tx.executed", report.Executed),
		attribute.Int("tx.failed", len(report.Failures)),
		attribute.Int64("tx.duration_ms", report.Duration.Milliseconds()),
	)
	for _, f := range report.Failures {
		span.AddEvent("rollback_action_failed", trace.WithAttributes(
			attribute.String("tx.action_kind", f.Action.Kind().String()),
			attribute.String("tx.action", truncateForTrace(f.Action.Name(), 120)),
			attribute.String("tx.error", truncateForTrace(f.Err.Error(), 200)),
		))
	}
	if !report.OK() {
		span.SetStatus(codes.Error, "rollback incomplete")
		return
	}
	span.SetStatus(codes.Ok, "")
}

func truncateForTrace(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 4 {
		if maxLen <= 0 {
			return ""
		}
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
