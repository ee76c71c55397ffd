package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// NewRecoveryMiddleware はpanic発生時にプロセスクラッシュを防ぎ、
// 500レスポンスを返すミドルウェアを生成する。
// http.ErrAbortHandlerはレスポンス中断の合図なので、ログに残さずそのまま伝播させる。
func NewRecoveryMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				attrs := []slog.Attr{
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				}
				if requestID := RequestIDFromContext(r.Context()); requestID != "" {
					attrs = append(attrs, slog.String("request_id", requestID))
				}
				slog.LogAttrs(r.Context(), slog.LevelError, "panic recovered", attrs...)

				writeInternalServerError(w)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
