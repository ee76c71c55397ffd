package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRecoveryMiddleware_PanicReturns500(t *testing.T) {
	buf, logger := newLogCapture()
	prev := slog.Default()
	slog.SetDefault(logger)
	t.Cleanup(func() { slog.SetDefault(prev) })

	handler := NewRecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("order sweep failed badly")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/activities/act-1/join", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}

	entry := parseLogEntry(t, buf)
	if entry["msg"] != "panic recovered" {
		t.Errorf("msg = %q, want %q", entry["msg"], "panic recovered")
	}
	if entry["method"] != "POST" {
		t.Errorf("method = %q, want %q", entry["method"], "POST")
	}
	if entry["path"] != "/api/activities/act-1/join" {
		t.Errorf("path = %q, want %q", entry["path"], "/api/activities/act-1/join")
	}
	if stack, _ := entry["stack"].(string); !strings.Contains(stack, "goroutine") {
		t.Errorf("stackにスタックトレースが含まれていない: %q", stack)
	}
}

func TestRecoveryMiddleware_NoPanic_PassesThrough(t *testing.T) {
	called := false
	handler := NewRecoveryMiddleware()(passthroughHandler(&called))

	req := httptest.NewRequest(http.MethodGet, "/api/activities", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called {
		t.Error("後続ハンドラーが呼ばれていない")
	}
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

// http.ErrAbortHandlerはレスポンス中断の合図なので、回復せずそのまま伝播させる。
func TestRecoveryMiddleware_ErrAbortHandler_Propagates(t *testing.T) {
	handler := NewRecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/activities", nil)
	w := httptest.NewRecorder()

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Errorf("recover() = %v, want http.ErrAbortHandler", rec)
		}
	}()
	handler.ServeHTTP(w, req)
}
