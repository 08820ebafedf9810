package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/MrEthical07/marketauth"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot marketauth.MetricsSnapshot
	dropped  uint64
	failed   uint64
}

func (f *fakeSource) MetricsSnapshot() marketauth.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := marketauth.MetricsSnapshot{
		Counters:   make(map[marketauth.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[marketauth.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func (f *fakeSource) AuditFailed() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.failed
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("marketauth-test")

	src := &fakeSource{
		snapshot: marketauth.MetricsSnapshot{
			Counters: map[marketauth.MetricID]uint64{
				marketauth.MetricLoginSuccess: 3,
			},
			Histograms: map[marketauth.MetricID][]uint64{
				marketauth.MetricValidateLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
		failed:  4,
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("expected collected metrics, got none")
	}
	if v, ok := findSum(rm, "marketauth_login_success_total"); !ok || v != 3 {
		t.Fatalf("expected login success 3, got %d (found=%v)", v, ok)
	}
	if v, ok := findSum(rm, "marketauth_audit_failed_total"); !ok || v != 4 {
		t.Fatalf("expected audit failed 4, got %d (found=%v)", v, ok)
	}
}

func findSum(rm metricdata.ResourceMetrics, name string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok && len(sum.DataPoints) > 0 {
				return sum.DataPoints[0].Value, true
			}
		}
	}
	return 0, false
}

func TestExporterRejectsNilSource(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("marketauth-test")

	if _, err := NewOTelExporterFromSource(meter, nil); err == nil {
		t.Fatal("expected error for nil source")
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("marketauth-test")

	src := &fakeSource{
		snapshot: marketauth.MetricsSnapshot{
			Counters: map[marketauth.MetricID]uint64{
				marketauth.MetricLoginSuccess: 1,
			},
			Histograms: map[marketauth.MetricID][]uint64{
				marketauth.MetricValidateLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[marketauth.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
