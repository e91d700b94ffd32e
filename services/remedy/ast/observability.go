// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/AleutianAI/remedy/services/remedy/ast"

var (
	metricsOnce   sync.Once
	parseCounter  metric.Int64Counter
	parseDuration metric.Float64Histogram
)

func initParseMetrics() {
	meter := otel.Meter(instrumentationName)
	parseCounter, _ = meter.Int64Counter("remedy.ast.parse.count",
		metric.WithDescription("Number of parse operations"))
	parseDuration, _ = meter.Float64Histogram("remedy.ast.parse.duration_ms",
		metric.WithDescription("Parse duration in milliseconds"),
		metric.WithUnit("ms"))
}

// startParseSpan begins a tracing span for one parse operation.
func startParseSpan(ctx context.Context, filePath string, sizeBytes int) (context.Context, trace.Span) {
	tracer := otel.Tracer(instrumentationName)
	return tracer.Start(ctx, "ast.Parse",
		trace.WithAttributes(
			attribute.String("file.path", filePath),
			attribute.Int("file.size_bytes", sizeBytes),
		))
}

// setParseSpanResult records the extraction outcome on the span.
func setParseSpanResult(span trace.Span, elements, endpoints int) {
	span.SetAttributes(
		attribute.Int("parse.elements", elements),
		attribute.Int("parse.endpoints", endpoints),
	)
}

// recordParseMetrics records counter and duration for one parse attempt.
func recordParseMetrics(ctx context.Context, duration time.Duration, success bool) {
	metricsOnce.Do(initParseMetrics)
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	if parseCounter != nil {
		parseCounter.Add(ctx, 1, attrs)
	}
	if parseDuration != nil {
		parseDuration.Record(ctx, float64(duration.Microseconds())/1000.0, attrs)
	}
}
