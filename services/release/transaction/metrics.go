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
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("shipyard.transaction")

var (
	scopeTotal           metric.Int64Counter
	scopeDuration        metric.Float64Histogram
	rollbackActionsTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled toggles metric recording for all transactions.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// initMetrics creates the instruments lazily so the meter provider set by
// telemetry.Init is picked up.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		scopeTotal, err = meter.Int64Counter(
			"shipyard_transaction_scope_total",
			metric.WithDescription("Total number of transaction scopes by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		scopeDuration, err = meter.Float64Histogram(
			"shipyard_transaction_duration_seconds",
			metric.WithDescription("Duration of transaction scopes in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rollbackActionsTotal, err = meter.Int64Counter(
			"shipyard_transaction_rollback_actions_total",
			metric.WithDescription("Total number of undo actions executed during rollback"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func recordScope(ctx context.Context, duration time.Duration, success bool) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", statusLabel(success)))
	scopeTotal.Add(ctx, 1, attrs)
	scopeDuration.Record(ctx, duration.Seconds(), attrs)
}

func recordRollbackAction(ctx context.Context, kind Kind, success bool) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	rollbackActionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind.String()),
		attribute.String("status", statusLabel(success)),
	))
}
