package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware(t *testing.T) {
	m := New([]string{"http://localhost:3000", " https://app.example.com/ "})
	called := false
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	tests := []struct {
		name       string
		method     string
		origin     string
		wantOrigin string
		wantCode   int
		wantNext   bool
	}{
		{"allowed origin", http.MethodGet, "http://localhost:3000", "http://localhost:3000", http.StatusOK, true},
		{"trimmed origin", http.MethodGet, "https://app.example.com", "https://app.example.com", http.StatusOK, true},
		{"unknown origin", http.MethodGet, "https://evil.example", "", http.StatusOK, true},
		{"preflight", http.MethodOptions, "http://localhost:3000", "http://localhost:3000", http.StatusNoContent, false},
		{"preflight unknown origin", http.MethodOptions, "https://evil.example", "", http.StatusNoContent, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = false
			req := httptest.NewRequest(tt.method, "/api/payments", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if called != tt.wantNext {
				t.Errorf("next called = %v, want %v", called, tt.wantNext)
			}
		})
	}
}

func TestWildcard(t *testing.T) {
	m := New([]string{"*"})
	if !m.Allowed("https://anything.example") {
		t.Error("wildcard should allow any origin")
	}
	if m.Allowed("") {
		t.Error("empty origin is never a CORS request")
	}
}
