package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func serveWithHeaders(cfg SecurityConfig, req *http.Request) (*httptest.ResponseRecorder, bool) {
	called := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	rec := httptest.NewRecorder()
	securityHeaders(cfg)(inner).ServeHTTP(rec, req)
	return rec, called
}

func TestSecurityHeaders_Static(t *testing.T) {
	rec, called := serveWithHeaders(SecurityConfig{BaseURL: "https://app.test"}, httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatal("expected the inner handler to run")
	}

	want := map[string]string{
		"Referrer-Policy":           "no-referrer",
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"Content-Security-Policy":   "default-src 'none'; frame-ancestors 'none';",
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
	}
	for header, value := range want {
		if got := rec.Header().Get(header); got != value {
			t.Errorf("%s: expected %q, got %q", header, value, got)
		}
	}
}

func TestSecurityHeaders_NoHSTSOverHTTP(t *testing.T) {
	rec, _ := serveWithHeaders(SecurityConfig{BaseURL: "http://localhost:8080"}, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := rec.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("expected no HSTS header for http, got %q", got)
	}
}

func TestSecurityHeaders_CORS(t *testing.T) {
	cfg := SecurityConfig{AllowedOrigins: []string{"https://player.example.com/"}}

	tests := []struct {
		name       string
		method     string
		origin     string
		preflight  bool
		wantOrigin string
		wantCalled bool
		wantStatus int
	}{
		{"allowed origin", http.MethodGet, "https://player.example.com", false, "https://player.example.com", true, http.StatusOK},
		{"unknown origin", http.MethodGet, "https://evil.example.com", false, "", true, http.StatusOK},
		{"preflight", http.MethodOptions, "https://player.example.com", true, "https://player.example.com", false, http.StatusNoContent},
		{"preflight from unknown origin", http.MethodOptions, "https://evil.example.com", true, "", true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/videos/v1/danmaku", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec, called := serveWithHeaders(cfg, req)

			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("expected allow-origin %q, got %q", tt.wantOrigin, got)
			}
			if called != tt.wantCalled {
				t.Errorf("expected inner handler called=%v, got %v", tt.wantCalled, called)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}
