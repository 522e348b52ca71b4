// Integration tests for the RequestID middleware in realistic stacks.
package middleware_test

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/onnwee/feedmixer/internal/middleware"
)

func TestRequestID_WithLoggingStack(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if middleware.GetRequestID(r.Context()) == "" {
			t.Error("expected request ID in context")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// RequestID wraps Logging so the logger can read the ID from context.
	stack := middleware.RequestID(
		middleware.Logging(logger)(handler),
	)

	req := httptest.NewRequest(http.MethodGet, "/feed", nil)
	rr := httptest.NewRecorder()
	stack.ServeHTTP(rr, req)

	responseID := rr.Header().Get(middleware.RequestIDHeader)
	if responseID == "" {
		t.Fatal("expected X-Request-ID header in response")
	}

	logOutput := logBuf.String()
	if !strings.Contains(logOutput, "request_id=") {
		t.Errorf("expected log to contain request_id field, got: %s", logOutput)
	}
	if !strings.Contains(logOutput, responseID) {
		t.Errorf("expected log to contain request ID %s, got: %s", responseID, logOutput)
	}
}

func TestRequestID_InboundIDHandling(t *testing.T) {
	tests := []struct {
		name       string
		incomingID string
		preserved  bool
	}{
		{
			name:       "valid UUID preserved",
			incomingID: "550e8400-e29b-41d4-a716-446655440000",
			preserved:  true,
		},
		{
			name:       "log injection attempt replaced",
			incomingID: "feed\nlevel=ERROR msg=forged",
			preserved:  false,
		},
		{
			name:       "special characters replaced",
			incomingID: "feed@#$%^&*()",
			preserved:  false,
		},
		{
			name:       "oversized value replaced",
			incomingID: strings.Repeat("a", 200),
			preserved:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/feed", nil)
			req.Header.Set(middleware.RequestIDHeader, tt.incomingID)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			responseID := rr.Header().Get(middleware.RequestIDHeader)
			if responseID == "" {
				t.Fatal("expected X-Request-ID in response")
			}

			if tt.preserved && responseID != tt.incomingID {
				t.Errorf("expected valid ID %q to be preserved, got %q", tt.incomingID, responseID)
			}
			if !tt.preserved && responseID == tt.incomingID {
				t.Errorf("expected invalid ID %q to be replaced", tt.incomingID)
			}
		})
	}
}

func TestRequestID_FullLogFields(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Success"))
	})

	stack := middleware.RequestID(
		middleware.Logging(logger)(handler),
	)

	req := httptest.NewRequest(http.MethodGet, "/feed/item-123", nil)
	rr := httptest.NewRecorder()
	stack.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if rr.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("expected X-Request-ID header")
	}

	logOutput := logBuf.String()
	for _, field := range []string{
		"method=GET",
		"path=/feed/item-123",
		"status=200",
		"request_id=",
	} {
		if !strings.Contains(logOutput, field) {
			t.Errorf("expected log to contain %q, got: %s", field, logOutput)
		}
	}
}

func BenchmarkRequestID_Generate(b *testing.B) {
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/feed", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
	}
}

func BenchmarkRequestID_Validate(b *testing.B) {
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/feed", nil)
	req.Header.Set(middleware.RequestIDHeader, "550e8400-e29b-41d4-a716-446655440000")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
	}
}
