// Package observability exposes pipeline counters and timings through
// OpenTelemetry, scraped via a Prometheus endpoint.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricRequestsTotal      = "procstream.requests.total"
	metricRequestDuration    = "procstream.request.duration.seconds"
	metricRequestsActive     = "procstream.requests.active"
	metricChunksTotal        = "procstream.chunks.total"
	metricReconcileTotal     = "procstream.reconcile.total"
	metricReconcileDuration  = "procstream.reconcile.duration.seconds"
	metricChecksSkippedTotal = "procstream.reconcile.checks.skipped.total"
	metricCandidatesTotal    = "procstream.candidates.total"
	metricSentinelHitsTotal  = "procstream.sentinel.hits.total"
	metricRefetchTotal       = "procstream.refetch.total"

	attrOutcome  = "outcome"
	attrDecision = "decision"
	attrCached   = "cached"
	attrKind     = "kind"
	attrSource   = "source"
	attrStatus   = "status"
	attrRetained = "retained"
)

var durationBucketBoundaries = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120}

// PipelineMetrics holds OTel instruments for the extraction pipeline.
// Every method is safe to call on a nil receiver.
type PipelineMetrics struct {
	requestsTotal     metric.Int64Counter
	requestDuration   metric.Float64Histogram
	requestsActive    metric.Int64UpDownCounter
	chunksTotal       metric.Int64Counter
	reconcileTotal    metric.Int64Counter
	reconcileDuration metric.Float64Histogram
	checksSkipped     metric.Int64Counter
	candidatesTotal   metric.Int64Counter
	sentinelHits      metric.Int64Counter
	refetchTotal      metric.Int64Counter
}

// ReconcileStats describes one reconciliation.
type ReconcileStats struct {
	Kind      string // none, partial, complete
	Source    string // scan, sentinel
	Duration  time.Duration
	Retained  int
	Discarded int
}

// RequestStats describes one finished request.
type RequestStats struct {
	Outcome  string // resolved, failed, superseded
	Decision string // use_as_is, refetch, or empty when never audited
	Cached   bool
	Duration time.Duration
}

// NewPipelineMetrics creates pipeline instruments from the given meter.
func NewPipelineMetrics(mt metric.Meter) (*PipelineMetrics, error) {
	b := newMetricBuilder(mt)

	pm := &PipelineMetrics{
		requestsTotal:     b.counter(metricRequestsTotal, "Requests finished by outcome", "{request}"),
		requestDuration:   b.histogram(metricRequestDuration, "Request duration from start to outcome", "s", durationBucketBoundaries...),
		requestsActive:    b.upDownCounter(metricRequestsActive, "Requests currently streaming", "{request}"),
		chunksTotal:       b.counter(metricChunksTotal, "Chunk fragments received", "{chunk}"),
		reconcileTotal:    b.counter(metricReconcileTotal, "Reconciliations by result kind and source", "{reconcile}"),
		reconcileDuration: b.histogram(metricReconcileDuration, "Time spent parsing the buffer per reconciliation", "s", durationBucketBoundaries...),
		checksSkipped:     b.counter(metricChecksSkippedTotal, "Scheduled checks discarded inside a burst", "{check}"),
		candidatesTotal:   b.counter(metricCandidatesTotal, "Balanced objects seen by the scanner", "{candidate}"),
		sentinelHits:      b.counter(metricSentinelHitsTotal, "Reconciliations resolved from the sentinel payload", "{hit}"),
		refetchTotal:      b.counter(metricRefetchTotal, "Synchronous refetches by status", "{refetch}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return pm, nil
}

// RequestStarted marks a request as active.
func (pm *PipelineMetrics) RequestStarted(ctx context.Context) {
	if pm == nil {
		return
	}

	pm.requestsActive.Add(ctx, 1)
}

// RecordRequest records a finished request and clears its active mark.
func (pm *PipelineMetrics) RecordRequest(ctx context.Context, stats RequestStats) {
	if pm == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrOutcome, stats.Outcome),
		attribute.String(attrDecision, stats.Decision),
		attribute.Bool(attrCached, stats.Cached),
	)
	pm.requestsActive.Add(ctx, -1)
	pm.requestsTotal.Add(ctx, 1, attrs)
	pm.requestDuration.Record(ctx, stats.Duration.Seconds(), metric.WithAttributes(attribute.String(attrOutcome, stats.Outcome)))
}

// RecordChunk counts a received fragment.
func (pm *PipelineMetrics) RecordChunk(ctx context.Context) {
	if pm == nil {
		return
	}

	pm.chunksTotal.Add(ctx, 1)
}

// RecordSkippedCheck counts a scheduled check that found the stream still busy.
func (pm *PipelineMetrics) RecordSkippedCheck(ctx context.Context) {
	if pm == nil {
		return
	}

	pm.checksSkipped.Add(ctx, 1)
}

// RecordReconcile records one reconciliation.
func (pm *PipelineMetrics) RecordReconcile(ctx context.Context, stats ReconcileStats) {
	if pm == nil {
		return
	}

	pm.reconcileTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrKind, stats.Kind),
		attribute.String(attrSource, stats.Source),
	))
	pm.reconcileDuration.Record(ctx, stats.Duration.Seconds())

	if stats.Source == "sentinel" {
		pm.sentinelHits.Add(ctx, 1)
	}

	pm.candidatesTotal.Add(ctx, int64(stats.Retained), metric.WithAttributes(attribute.Bool(attrRetained, true)))
	pm.candidatesTotal.Add(ctx, int64(stats.Discarded), metric.WithAttributes(attribute.Bool(attrRetained, false)))
}

// RecordRefetch records a synchronous refetch attempt.
func (pm *PipelineMetrics) RecordRefetch(ctx context.Context, ok bool) {
	if pm == nil {
		return
	}

	status := "ok"
	if !ok {
		status = "failed"
	}
	pm.refetchTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrStatus, status)))
}
