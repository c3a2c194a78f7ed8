package metrics

import (
	"math"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestRecorderObserveAction(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveAction("users", "createUser", "ok", true, 250*time.Millisecond)

	families := gather(t, rec, "actionkit_action_requests_total", "actionkit_action_request_duration_seconds")

	counter := findMetric(t, families["actionkit_action_requests_total"], map[string]string{
		"service":    "users",
		"action":     "createUser",
		"outcome":    "ok",
		"from_cache": "true",
	})
	if counter.GetCounter() == nil {
		t.Fatalf("expected counter metric for action requests")
	}
	if got := counter.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected counter value 1, got %v", got)
	}

	histMetric := findMetric(t, families["actionkit_action_request_duration_seconds"], map[string]string{
		"service": "users",
		"action":  "createUser",
		"outcome": "ok",
	})
	hist := histMetric.GetHistogram()
	if hist == nil {
		t.Fatalf("expected histogram metric for action latency")
	}
	if hist.GetSampleCount() != 1 {
		t.Fatalf("expected histogram count 1, got %d", hist.GetSampleCount())
	}
	want := 0.25
	if diff := math.Abs(hist.GetSampleSum() - want); diff > 0.001 {
		t.Fatalf("expected histogram sum near %v, got %v", want, hist.GetSampleSum())
	}
}

func TestRecorderObserveCacheOperations(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveCacheLookup("users", "createUser", CacheLookupHit, 10*time.Millisecond)
	rec.ObserveCacheStore("users", "createUser", CacheStoreStored, 5*time.Millisecond)

	families := gather(t, rec, "actionkit_cache_operations_total", "actionkit_cache_operation_duration_seconds")

	lookupMetric := findMetric(t, families["actionkit_cache_operations_total"], map[string]string{
		"service":   "users",
		"action":    "createUser",
		"operation": string(CacheOperationLookup),
		"result":    string(CacheLookupHit),
	})
	if got := lookupMetric.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected lookup counter 1, got %v", got)
	}

	storeMetric := findMetric(t, families["actionkit_cache_operations_total"], map[string]string{
		"service":   "users",
		"action":    "createUser",
		"operation": string(CacheOperationStore),
		"result":    string(CacheStoreStored),
	})
	if got := storeMetric.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected store counter 1, got %v", got)
	}
}

func TestRecorderObserveUploadRejection(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveUploadRejection("validation")

	families := gather(t, rec, "actionkit_upload_rejections_total")
	metric := findMetric(t, families["actionkit_upload_rejections_total"], map[string]string{"category": "validation"})
	if got := metric.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected rejection counter 1, got %v", got)
	}
}

func TestRecorderHandler(t *testing.T) {
	rec := NewRecorder(nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)

	rec.Handler().ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200 response, got %d", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Fatalf("expected response body")
	}
}

func TestRecorderNilSafety(t *testing.T) {
	var rec *Recorder
	rec.ObserveAction("users", "createUser", "ok", false, time.Millisecond)
	rec.ObserveCacheLookup("users", "createUser", CacheLookupMiss, time.Millisecond)
	rec.ObserveCacheStore("users", "createUser", CacheStoreError, time.Millisecond)
	rec.ObserveUploadRejection("validation")
	if rec.Handler() == nil {
		t.Fatal("expected a non-nil fallback handler")
	}
}

func gather(t *testing.T, rec *Recorder, names ...string) map[string][]*dto.Metric {
	t.Helper()
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	families, err := rec.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	collected := make(map[string][]*dto.Metric, len(names))
	for _, mf := range families {
		if !wanted[mf.GetName()] {
			continue
		}
		collected[mf.GetName()] = append(collected[mf.GetName()], mf.GetMetric()...)
	}
	for _, name := range names {
		if len(collected[name]) == 0 {
			t.Fatalf("metric %q not collected", name)
		}
	}
	return collected
}

func findMetric(t *testing.T, metrics []*dto.Metric, labels map[string]string) *dto.Metric {
	t.Helper()
	for _, metric := range metrics {
		if matchLabels(metric, labels) {
			return metric
		}
	}
	t.Fatalf("metric with labels %v not found", labels)
	return nil
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) < len(labels) {
		return false
	}
	for key, expected := range labels {
		found := false
		for _, label := range metric.GetLabel() {
			if label.GetName() == key && label.GetValue() == expected {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
