// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package semantic

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/AleutianAI/remedy/services/remedy/semantic"

var (
	metricsOnce   sync.Once
	indexCounter  metric.Int64Counter
	indexDuration metric.Float64Histogram
	searchCounter metric.Int64Counter
)

func initMetrics() {
	meter := otel.Meter(instrumentationName)
	indexCounter, _ = meter.Int64Counter("remedy.semantic.index.count",
		metric.WithDescription("Number of index builds"))
	indexDuration, _ = meter.Float64Histogram("remedy.semantic.index.duration_ms",
		metric.WithDescription("Index build duration in milliseconds"),
		metric.WithUnit("ms"))
	searchCounter, _ = meter.Int64Counter("remedy.semantic.search.count",
		metric.WithDescription("Number of semantic searches"))
}

// startIndexSpan begins a tracing span for one index build.
func startIndexSpan(ctx context.Context, projectRoot string, force bool) (context.Context, trace.Span) {
	tracer := otel.Tracer(instrumentationName)
	return tracer.Start(ctx, "semantic.Build",
		trace.WithAttributes(
			attribute.String("project.root", projectRoot),
			attribute.Bool("index.force", force),
		))
}

// recordIndexMetrics records one build, noting whether it came from a
// persisted snapshot.
func recordIndexMetrics(ctx context.Context, duration time.Duration, elements int, fromSnapshot bool) {
	metricsOnce.Do(initMetrics)
	attrs := metric.WithAttributes(
		attribute.Bool("from_snapshot", fromSnapshot),
		attribute.Int("elements", elements),
	)
	if indexCounter != nil {
		indexCounter.Add(ctx, 1, attrs)
	}
	if indexDuration != nil {
		indexDuration.Record(ctx, float64(duration.Microseconds())/1000.0, attrs)
	}
}

// recordSearchMetrics records one search and its result count.
func recordSearchMetrics(ctx context.Context, results int, degraded bool) {
	metricsOnce.Do(initMetrics)
	if searchCounter != nil {
		searchCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.Int("results", results),
			attribute.Bool("degraded", degraded),
		))
	}
}
