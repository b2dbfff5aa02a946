package store

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("engagement-report-store")

var (
	storeQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "report_store_queries_total",
		Help: "Total number of metric queries by query name and result",
	}, []string{"query", "result"})

	storeQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "report_store_query_duration_seconds",
		Help:    "Metric query duration in seconds",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"query"})
)

// observe creates a span and returns a done function that records metrics and ends the span.
// The done function accepts optional result attributes to add before closing.
//
// Usage:
//
//	func (s *Store) Query(ctx context.Context, q metrics.Query, p metrics.Params) (t *metrics.Table, err error) {
//	    ctx, done := observe(ctx, q.Name, &err)
//	    defer func() { done(attribute.Int("result_count", t.Len())) }()
//	}
func observe(ctx context.Context, query string, err *error, attrs ...attribute.KeyValue) (context.Context, func(...attribute.KeyValue)) {
	start := time.Now()

	baseAttrs := []attribute.KeyValue{
		attribute.String("db.system", "clickhouse"),
		attribute.String("db.operation", "select"),
		attribute.String("db.query.name", query),
	}
	ctx, span := tracer.Start(ctx, "store."+query, trace.WithAttributes(append(baseAttrs, attrs...)...))

	return ctx, func(resultAttrs ...attribute.KeyValue) {
		if len(resultAttrs) > 0 {
			span.SetAttributes(resultAttrs...)
		}

		if *err != nil {
			span.RecordError(*err)
		}
		span.End()

		storeQueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
		storeQueriesTotal.WithLabelValues(query, resultLabel(*err)).Inc()
	}
}

func resultLabel(err error) string {
	switch err.(type) {
	case nil:
		return "success"
	case *ConnectionError:
		return "connection_error"
	case *QueryError:
		return "query_error"
	default:
		return "error"
	}
}
