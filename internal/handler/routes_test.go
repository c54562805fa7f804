package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRegisterRoutes_Wiring(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"upstream":"` + r.Method + " " + r.URL.Path + `"}`))
	}))
	defer upstream.Close()

	env := newTestEnv(t, upstream.URL)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"GET /health", http.MethodGet, "/health", http.StatusOK, `{"ok":true}`},
		{"GET /metrics", http.MethodGet, "/metrics", http.StatusOK, ""},
		{"GET proxied", http.MethodGet, "/v1/models", http.StatusOK, `{"upstream":"GET /v1/models"}`},
		{"POST proxied", http.MethodPost, "/v1/chat/completions", http.StatusOK, `{"upstream":"POST /v1/chat/completions"}`},
		{"PUT proxied", http.MethodPut, "/v1/files/1", http.StatusOK, `{"upstream":"PUT /v1/files/1"}`},
		{"PATCH proxied", http.MethodPatch, "/v1/files/1", http.StatusOK, `{"upstream":"PATCH /v1/files/1"}`},
		{"DELETE proxied", http.MethodDelete, "/v1/files/1", http.StatusOK, `{"upstream":"DELETE /v1/files/1"}`},
		{"root proxied", http.MethodGet, "/", http.StatusOK, `{"upstream":"GET /"}`},
		{"TRACE not routed", http.MethodTrace, "/v1/models", http.StatusMethodNotAllowed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(httptest.NewRequest(tt.method, tt.path, http.NoBody))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" {
				if got := strings.TrimSpace(rec.Body.String()); got != tt.wantBody {
					t.Errorf("body = %q, want %q", got, tt.wantBody)
				}
			}
		})
	}
}

func TestRegisterRoutes_MetricsExposeProxyCollectors(t *testing.T) {
	env := newTestEnv(t, "http://127.0.0.1:1")

	rec := env.do(httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "llm_tap_stream_events_total") {
		t.Error("expected llm_tap_stream_events_total in /metrics output")
	}
}
