package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	mw "github.com/xraph/conduit/middleware"
)

func setupTestMeter() (*sdkmetric.ManualReader, metric.Meter) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, mp.Meter("test")
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestMetrics_RecordsOutcomes(t *testing.T) {
	reader, meter := setupTestMeter()
	m := mw.MetricsWithMeter(meter)
	ctx := context.Background()

	_ = m(ctx, newRecord(), func(context.Context) error { return nil })
	_ = m(ctx, newRecord(), func(context.Context) error { return nil })
	_ = m(ctx, newRecord(), func(context.Context) error { return errors.New("x") })

	rm := collectMetrics(t, reader)

	exec := findMetric(rm, "conduit.task.executions")
	if exec == nil {
		t.Fatal("conduit.task.executions not recorded")
	}
	sum, ok := exec.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("executions is %T", exec.Data)
	}
	byStatus := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("status"))
		byStatus[v.AsString()] += dp.Value
		if name, _ := dp.Attributes.Value("task_name"); name.AsString() != "send-email" {
			t.Errorf("task_name = %q", name.AsString())
		}
	}
	if byStatus["ok"] != 2 || byStatus["error"] != 1 {
		t.Errorf("executions by status = %v", byStatus)
	}

	dur := findMetric(rm, "conduit.task.duration")
	if dur == nil {
		t.Fatal("conduit.task.duration not recorded")
	}
	hist, ok := dur.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("duration is %T", dur.Data)
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 3 {
		t.Errorf("duration samples = %d, want 3", count)
	}
}

func TestMetrics_PassesErrorThrough(t *testing.T) {
	_, meter := setupTestMeter()
	want := errors.New("x")
	if err := mw.MetricsWithMeter(meter)(context.Background(), newRecord(), func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("err = %v", err)
	}
}
