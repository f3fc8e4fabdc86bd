// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package release

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	prunedTotal    metric.Int64Counter
	rollbacksTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.Meter("shipyard.release")

		var err error
		prunedTotal, err = meter.Int64Counter(
			"shipyard_release_pruned_total",
			metric.WithDescription("Total number of release directories removed by cleanup"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rollbacksTotal, err = meter.Int64Counter(
			"shipyard_release_rollbacks_total",
			metric.WithDescription("Total number of operator rollbacks to a previous release"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func recordPruned(ctx context.Context, n int) {
	if n == 0 || initMetrics() != nil {
		return
	}
	prunedTotal.Add(ctx, int64(n))
}

func recordReleaseRollback(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	rollbacksTotal.Add(ctx, 1)
}
