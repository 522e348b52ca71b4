package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
)

func TestHTTPMetrics(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		path           string
		requestBody    string
		responseStatus int
		responseBody   string
		wantMetrics    bool
	}{
		{
			name:           "feed fetch",
			method:         http.MethodGet,
			path:           "/feed",
			responseStatus: http.StatusOK,
			responseBody:   `{"items":[]}`,
			wantMetrics:    true,
		},
		{
			name:           "ingest with body",
			method:         http.MethodPost,
			path:           "/feed",
			requestBody:    `{"user_id":"user-1"}`,
			responseStatus: http.StatusCreated,
			responseBody:   `{"id":"123"}`,
			wantMetrics:    true,
		},
		{
			name:           "unknown route still counted",
			method:         http.MethodGet,
			path:           "/notfound",
			responseStatus: http.StatusNotFound,
			responseBody:   `{"error":"not found"}`,
			wantMetrics:    true,
		},
		{
			name:           "health probe excluded",
			method:         http.MethodGet,
			path:           "/healthz",
			responseStatus: http.StatusOK,
			responseBody:   `{"status":"ok"}`,
			wantMetrics:    false,
		},
		{
			name:           "readiness probe excluded",
			method:         http.MethodGet,
			path:           "/readyz",
			responseStatus: http.StatusOK,
			responseBody:   `{"ready":true}`,
			wantMetrics:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, reg := registeredMetrics(t)

			wrapped := HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.responseStatus)
				_, _ = w.Write([]byte(tt.responseBody))
			}))

			var body io.Reader
			if tt.requestBody != "" {
				body = strings.NewReader(tt.requestBody)
			}
			req := httptest.NewRequest(tt.method, tt.path, body)
			if tt.requestBody != "" {
				req.Header.Set("Content-Length", strconv.Itoa(len(tt.requestBody)))
			}

			rec := httptest.NewRecorder()
			wrapped.ServeHTTP(rec, req)

			if rec.Code != tt.responseStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.responseStatus)
			}

			for _, name := range []string{MetricHTTPRequestDuration, MetricHTTPRequestsTotal} {
				family := findMetricFamily(t, reg, name)
				recorded := family != nil && len(family.GetMetric()) > 0
				if recorded != tt.wantMetrics {
					t.Errorf("metric %s recorded = %t, want %t", name, recorded, tt.wantMetrics)
				}
			}
		})
	}
}

func TestHTTPMetrics_Labels(t *testing.T) {
	m, reg := registeredMetrics(t)

	wrapped := HTTPMetrics(m)(okHandler("OK"))

	req := httptest.NewRequest(http.MethodGet, "/feed", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	family := findMetricFamily(t, reg, MetricHTTPRequestsTotal)
	if family == nil {
		t.Fatal("total metric not found")
	}
	if len(family.GetMetric()) != 1 {
		t.Fatalf("expected 1 metric entry, got %d", len(family.GetMetric()))
	}

	labelMap := make(map[string]string)
	for _, label := range family.GetMetric()[0].GetLabel() {
		labelMap[label.GetName()] = label.GetValue()
	}

	want := map[string]string{"method": "GET", "path": "/feed", "status": "200"}
	for name, value := range want {
		if labelMap[name] != value {
			t.Errorf("%s label = %s, want %s", name, labelMap[name], value)
		}
	}
}

func TestHTTPMetrics_ResponseSize(t *testing.T) {
	m, reg := registeredMetrics(t)

	responseBody := `{"items":[{"id":"item-1"},{"id":"item-2"}]}`
	wrapped := HTTPMetrics(m)(okHandler(responseBody))

	req := httptest.NewRequest(http.MethodGet, "/feed", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	family := findMetricFamily(t, reg, MetricHTTPResponseSizeBytes)
	if family == nil {
		t.Fatal("response size metric not found")
	}
	if len(family.GetMetric()) != 1 {
		t.Fatalf("expected 1 metric entry, got %d", len(family.GetMetric()))
	}

	histogram := family.GetMetric()[0].GetHistogram()
	if histogram == nil {
		t.Fatal("expected histogram, got nil")
	}
	if histogram.GetSampleCount() != 1 {
		t.Errorf("sample count = %d, want 1", histogram.GetSampleCount())
	}
	if got, want := histogram.GetSampleSum(), float64(len(responseBody)); got != want {
		t.Errorf("sample sum = %f, want %f", got, want)
	}
}

func TestMetricsResponseWriter_MultipleWrites(t *testing.T) {
	rec := httptest.NewRecorder()
	mrw := newMetricsResponseWriter(rec)

	// Streaming handlers write the body in chunks; sizes must accumulate.
	n1, err := mrw.Write([]byte(`{"items":[`))
	if err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	n2, err := mrw.Write([]byte(`]}`))
	if err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	if want := int64(n1 + n2); mrw.size != want {
		t.Errorf("size = %d, want %d", mrw.size, want)
	}
}

func TestMetricsResponseWriter_WriteHeaderOnce(t *testing.T) {
	rec := httptest.NewRecorder()
	mrw := newMetricsResponseWriter(rec)

	mrw.WriteHeader(http.StatusCreated)
	mrw.WriteHeader(http.StatusInternalServerError)

	if mrw.statusCode != http.StatusCreated {
		t.Errorf("statusCode = %d, want %d", mrw.statusCode, http.StatusCreated)
	}
}

func TestObserveHTTPRequest(t *testing.T) {
	m, reg := registeredMetrics(t)

	m.ObserveHTTPRequest("GET", "/feed", "200", 0.123, 100, 500)
	m.ObserveHTTPRequest("POST", "/composition", "200", 0.456, 200, 300)
	m.ObserveHTTPRequest("GET", "/feed", "200", 0.789, 150, 600)

	for _, name := range []string{
		MetricHTTPRequestDuration,
		MetricHTTPRequestsTotal,
		MetricHTTPRequestSizeBytes,
		MetricHTTPResponseSizeBytes,
	} {
		if findMetricFamily(t, reg, name) == nil {
			t.Errorf("metric %s not found", name)
		}
	}

	family := findMetricFamily(t, reg, MetricHTTPRequestsTotal)
	if family == nil {
		t.Fatal("total metric not found")
	}

	// GET /feed and POST /composition are the two distinct label sets.
	if len(family.GetMetric()) != 2 {
		t.Errorf("expected 2 label sets, got %d", len(family.GetMetric()))
	}
}
