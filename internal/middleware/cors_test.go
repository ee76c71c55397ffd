package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORSMiddleware_SetsHeaders(t *testing.T) {
	mw := NewCORSMiddleware("http://localhost:3000")

	called := false
	handler := mw(passthroughHandler(&called))

	req := httptest.NewRequest(http.MethodGet, "/api/activities", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if !called {
		t.Error("GETリクエストで後続ハンドラーが呼ばれていない")
	}

	tests := []struct {
		header string
		want   string
	}{
		{"Access-Control-Allow-Origin", "http://localhost:3000"},
		{"Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS"},
		{"Access-Control-Allow-Headers", "Content-Type, X-CSRF-Token"},
		{"Access-Control-Allow-Credentials", "true"},
		{"Access-Control-Expose-Headers", "X-Request-Id"},
		{"Access-Control-Max-Age", "86400"},
	}

	for _, tt := range tests {
		if got := resp.Header.Get(tt.header); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.header, got, tt.want)
		}
	}
}

// プリフライトは後続に渡さず204で完結する。
func TestCORSMiddleware_Preflight_Returns204(t *testing.T) {
	mw := NewCORSMiddleware("https://tsudoi.example.com")

	called := false
	handler := mw(passthroughHandler(&called))

	req := httptest.NewRequest(http.MethodOptions, "/api/activities", nil)
	req.Header.Set("Origin", "https://tsudoi.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type, x-csrf-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	if called {
		t.Error("プリフライトで後続ハンドラーが呼ばれた")
	}

	// プリフライト応答にも許可ヘッダー一式が含まれること
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://tsudoi.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "https://tsudoi.example.com")
	}
	if got := resp.Header.Get("Access-Control-Allow-Headers"); got != "Content-Type, X-CSRF-Token" {
		t.Errorf("Access-Control-Allow-Headers = %q, want %q", got, "Content-Type, X-CSRF-Token")
	}
}

func TestCORSMiddleware_MutatingRequest_PassesThroughWithHeaders(t *testing.T) {
	mw := NewCORSMiddleware("https://tsudoi.example.com")

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/activities", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://tsudoi.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "https://tsudoi.example.com")
	}
}
