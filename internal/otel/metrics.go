package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce    sync.Once
	planOpsCounter     metric.Int64Counter
	iterationsCounter  metric.Int64Counter
	iterationDuration  metric.Float64Histogram
	workflowDuration   metric.Float64Histogram
	seoScoreHistogram  metric.Int64Histogram
	variantsCounter    metric.Int64Counter
	eventsCounter      metric.Int64Counter
	subscribersGauge   metric.Int64ObservableGauge
	subscriberCount    int64
	subscriberCountMu  sync.Mutex
)

// InitMetrics creates the meter instruments. Safe to call multiple times; only runs once.
// Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		planOpsCounter, err = m.Int64Counter("contentd_plan_operations_total", metric.WithDescription("Total plan operations (create, start, cancel, etc.)"))
		if err != nil {
			return
		}
		iterationsCounter, err = m.Int64Counter("contentd_refinement_iterations_total", metric.WithDescription("Total refinement iterations executed"))
		if err != nil {
			return
		}
		iterationDuration, err = m.Float64Histogram("contentd_refinement_iteration_duration_seconds", metric.WithDescription("Generate+validate iteration duration in seconds"))
		if err != nil {
			return
		}
		workflowDuration, err = m.Float64Histogram("contentd_workflow_duration_seconds", metric.WithDescription("Whole workflow duration in seconds"))
		if err != nil {
			return
		}
		seoScoreHistogram, err = m.Int64Histogram("contentd_seo_score", metric.WithDescription("SEO scores returned by validation"))
		if err != nil {
			return
		}
		variantsCounter, err = m.Int64Counter("contentd_variants_total", metric.WithDescription("Channel variants produced, by channel and status"))
		if err != nil {
			return
		}
		eventsCounter, err = m.Int64Counter("contentd_events_total", metric.WithDescription("Total progress events published"))
		if err != nil {
			return
		}
		subscribersGauge, err = m.Int64ObservableGauge("contentd_event_subscribers", metric.WithDescription("Current event stream subscriber count"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			subscriberCountMu.Lock()
			n := subscriberCount
			subscriberCountMu.Unlock()
			o.ObserveInt64(subscribersGauge, n)
			return nil
		}, subscribersGauge)
		if err != nil {
			return
		}
	})
	return err
}

// RecordPlanOp records a plan operation (create, start, cancel, etc.).
func RecordPlanOp(ctx context.Context, op, tenant, status string) {
	if planOpsCounter == nil {
		return
	}
	planOpsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		AttrTenant.String(tenant),
		AttrStatus.String(status),
	))
}

// RecordIteration records one refinement iteration, its duration, and the score it earned.
func RecordIteration(ctx context.Context, tenant string, score int, duration time.Duration) {
	if iterationsCounter != nil {
		iterationsCounter.Add(ctx, 1, metric.WithAttributes(AttrTenant.String(tenant)))
	}
	if iterationDuration != nil {
		iterationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(AttrTenant.String(tenant)))
	}
	if seoScoreHistogram != nil {
		seoScoreHistogram.Record(ctx, int64(score), metric.WithAttributes(AttrTenant.String(tenant)))
	}
}

// RecordWorkflow records a finished workflow with its terminal status.
func RecordWorkflow(ctx context.Context, tenant, status string, duration time.Duration) {
	if workflowDuration != nil {
		workflowDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(AttrTenant.String(tenant), AttrStatus.String(status)))
	}
}

// RecordVariant records one channel variant outcome.
func RecordVariant(ctx context.Context, channel, status string) {
	if variantsCounter != nil {
		variantsCounter.Add(ctx, 1, metric.WithAttributes(AttrChannel.String(channel), AttrStatus.String(status)))
	}
}

// RecordEvent records one progress event published to the bus.
func RecordEvent(stage string) {
	if eventsCounter != nil {
		eventsCounter.Add(context.Background(), 1, metric.WithAttributes(AttrStage.String(stage)))
	}
}

// AddSubscriber adds 1 to the subscriber gauge (call on subscribe).
func AddSubscriber() {
	subscriberCountMu.Lock()
	subscriberCount++
	subscriberCountMu.Unlock()
}

// RemoveSubscriber subtracts 1 from the subscriber gauge (call on unsubscribe).
func RemoveSubscriber() {
	subscriberCountMu.Lock()
	subscriberCount--
	if subscriberCount < 0 {
		subscriberCount = 0
	}
	subscriberCountMu.Unlock()
}

// PlanCountFunc returns per-status plan counts for the contentd_plans_total gauge.
type PlanCountFunc func() (planned, active, draftReady, failed int64)

// InitMetricsWithPlanCount creates instruments and optionally registers a callback
// for plan gauges. Call after InitMeterProvider. If planCount is nil, plan gauges
// are not reported.
func InitMetricsWithPlanCount(ctx context.Context, planCount PlanCountFunc) error {
	if err := InitMetrics(ctx); err != nil {
		return err
	}
	if planCount == nil {
		return nil
	}
	m := Meter()
	plansGauge, err := m.Float64ObservableGauge("contentd_plans_total", metric.WithDescription("Number of plans by status"))
	if err != nil {
		return err
	}
	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		planned, active, draftReady, failed := planCount()
		o.ObserveFloat64(plansGauge, float64(planned), metric.WithAttributes(AttrStatus.String("planned")))
		o.ObserveFloat64(plansGauge, float64(active), metric.WithAttributes(AttrStatus.String("active")))
		o.ObserveFloat64(plansGauge, float64(draftReady), metric.WithAttributes(AttrStatus.String("draft_ready")))
		o.ObserveFloat64(plansGauge, float64(failed), metric.WithAttributes(AttrStatus.String("failed")))
		return nil
	}, plansGauge)
	return err
}
