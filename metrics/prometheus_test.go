package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestExporterHandler(t *testing.T) {
	exporter := NewExporter(DefaultConfig())

	exporter.RecordRequest(StatusSuccess, 20*time.Millisecond)
	exporter.RecordRequest(StatusFailure, 5*time.Millisecond)
	exporter.RecordPrediction("rule", 12, time.Millisecond, nil)
	exporter.RecordPrediction("rule", 0, time.Millisecond, errors.New("boom"))
	exporter.RecordCacheHit()
	exporter.RecordCacheMiss()

	req := httptest.NewRequest("GET", "/metrics", http.NoBody)
	w := httptest.NewRecorder()
	exporter.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	for _, name := range []string{
		"punctuator_worker_requests_total",
		"punctuator_worker_request_latency_seconds",
		"punctuator_labeler_predict_latency_seconds",
		"punctuator_labeler_errors_total",
		"punctuator_labeler_words_total",
		"punctuator_cache_hits_total",
		"punctuator_cache_misses_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("expected %s in output", name)
		}
	}
}

func TestExporterExportText(t *testing.T) {
	exporter := NewExporter(Config{})
	exporter.RecordRequest(StatusHandshake, time.Millisecond)
	exporter.RecordRequest(StatusSuccess, time.Millisecond)
	exporter.RecordRequest(StatusSuccess, time.Millisecond)
	exporter.RecordPrediction("process", 3, time.Millisecond, nil)

	output, err := exporter.ExportText()
	if err != nil {
		t.Fatalf("ExportText failed: %v", err)
	}

	for _, want := range []string{
		`punctuator_worker_requests_total{status="success"} 2`,
		`punctuator_worker_requests_total{status="handshake"} 1`,
		`punctuator_labeler_words_total{labeler="process"} 3`,
		`punctuator_worker_request_latency_seconds 3`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestNilExporterIsNoop(t *testing.T) {
	var exporter *Exporter

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("nil exporter panicked: %v", r)
		}
	}()

	exporter.RecordRequest(StatusSuccess, time.Second)
	exporter.RecordPrediction("rule", 1, time.Second, nil)
	exporter.RecordCacheHit()
	exporter.RecordCacheMiss()
}

func BenchmarkExporter(b *testing.B) {
	exporter := NewExporter(DefaultConfig())

	b.Run("RecordRequest", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			exporter.RecordRequest(StatusSuccess, 10*time.Millisecond)
		}
	})

	b.Run("RecordPrediction", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			exporter.RecordPrediction("rule", 10, time.Millisecond, nil)
		}
	})
}
