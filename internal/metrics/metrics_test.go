package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCollectorExposesGenerationAndRelayMetrics(t *testing.T) {
	collector := NewCollector()
	collector.ObserveGeneration("original", "success", 1500*time.Millisecond)
	collector.ObserveGeneration("guest", "failure", 200*time.Millisecond)
	collector.ObserveRelay(2, 1)
	collector.ConnectionOpened()

	recorder := httptest.NewRecorder()
	collector.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	body, err := io.ReadAll(recorder.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	exposition := string(body)

	expected := []string{
		`storyspark_generations_total{kind="original",outcome="success"} 1`,
		`storyspark_generations_total{kind="guest",outcome="failure"} 1`,
		`storyspark_generation_duration_seconds_count{kind="original"} 1`,
		`storyspark_relay_messages_total{outcome="delivered"} 2`,
		`storyspark_relay_messages_total{outcome="dropped"} 1`,
		`storyspark_relay_connections 1`,
	}
	for _, line := range expected {
		if !strings.Contains(exposition, line) {
			t.Fatalf("expected exposition to contain %q\n%s", line, exposition)
		}
	}
}

func TestCollectorsAreIndependent(t *testing.T) {
	first := NewCollector()
	second := NewCollector()
	first.ObserveGeneration("original", "success", time.Second)

	recorder := httptest.NewRecorder()
	second.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if strings.Contains(recorder.Body.String(), `storyspark_generations_total{kind="original",outcome="success"}`) {
		t.Fatalf("expected second collector to be unaffected by the first")
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var collector *Collector
	collector.ObserveGeneration("original", "success", time.Second)
	collector.ObserveRelay(1, 0)
	collector.ConnectionOpened()
	collector.ConnectionClosed()

	recorder := httptest.NewRecorder()
	collector.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 from nil collector, got %d", recorder.Code)
	}
}
