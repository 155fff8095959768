package otel

import (
	"context"
	"testing"
	"time"
)

func TestInitMetrics_RecordPlanOp(t *testing.T) {
	ctx := context.Background()
	_, err := InitMeterProvider(ctx, "metrics-test")
	if err != nil {
		t.Fatalf("InitMeterProvider: %v", err)
	}
	if err := InitMetrics(ctx); err != nil {
		t.Fatalf("InitMetrics: %v", err)
	}
	RecordPlanOp(ctx, "create", "acme", "planned")
	RecordPlanOp(ctx, "start", "acme", "generating")
}

func TestAddSubscriber_RemoveSubscriber(t *testing.T) {
	AddSubscriber()
	AddSubscriber()
	RemoveSubscriber()
	RemoveSubscriber()
	RemoveSubscriber() // should not go negative
}

func TestRecordIteration_RecordWorkflow_RecordEvent(t *testing.T) {
	ctx := context.Background()
	_, _ = InitMeterProvider(ctx, "record-test")
	_ = InitMetrics(ctx)
	RecordIteration(ctx, "acme", 92, 100*time.Millisecond)
	RecordWorkflow(ctx, "acme", "draft_ready", 50*time.Millisecond)
	RecordVariant(ctx, "twitter", "success")
	RecordEvent("refining")
}

func TestInitMetricsWithPlanCount(t *testing.T) {
	ctx := context.Background()
	_, _ = InitMeterProvider(ctx, "plancount-test")
	err := InitMetricsWithPlanCount(ctx, func() (planned, active, draftReady, failed int64) {
		return 1, 2, 3, 0
	})
	if err != nil {
		t.Fatalf("InitMetricsWithPlanCount: %v", err)
	}
}

func TestInitMetricsWithPlanCount_nilFunc(t *testing.T) {
	ctx := context.Background()
	_, _ = InitMeterProvider(ctx, "plancount-nil-test")
	err := InitMetricsWithPlanCount(ctx, nil)
	if err != nil {
		t.Fatalf("InitMetricsWithPlanCount(nil): %v", err)
	}
}
