package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/tsudoi/internal/middleware"
)

// registerAuthRoutes は認証関連のルーティングをルーターに登録する。
// OAuthフローとセッション管理のエンドポイントはすべてセッションミドルウェアの外。
func registerAuthRoutes(r chi.Router, h *AuthHandler) {
	r.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", h.Login)
		r.Get("/google/callback", h.Callback)
		r.Post("/logout", h.Logout)
		r.Get("/me", h.Me)
	})
}

// HealthChecker はヘルスチェックに必要なインターフェース。
// *sql.DBがそのまま満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig
	Logger            *slog.Logger

	// 監視
	HealthChecker  HealthChecker
	Metrics        MetricsRecorder                // 任意
	HTTPMetrics    middleware.HTTPStatusRecorder  // 任意
	MetricsHandler http.Handler                   // 任意。/metricsのハンドラー

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// つながり
	ConnectionService ConnectionServiceInterface

	// アクティビティ
	ActivityService ActivityServiceInterface

	// 決済
	PaymentGate PaymentGateInterface

	// ユーザー
	UserService UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → CORS → SecurityHeaders → Recovery → Logging → Metrics
//	→ （/api/* のみ）Session → CSRF → RateLimit(General)
//
// 認証ルート（/auth/*）、ヘルスチェック、メトリクス、決済コールバックは
// セッションミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	// 全ルートに効くミドルウェア
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewRecoveryMiddleware())
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	if deps.HTTPMetrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPMetrics))
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	connHandler := NewConnectionHandler(deps.ConnectionService)
	activityHandler := NewActivityHandler(deps.ActivityService, deps.Metrics)
	paymentHandler := NewPaymentHandler(deps.PaymentGate, deps.Metrics)
	userHandler := NewUserHandler(deps.UserService)

	// --- 認証不要のルート ---

	// 認証ルート（OAuthフロー）
	registerAuthRoutes(r, authHandler)

	// ヘルスチェック
	r.Get("/health", NewHealthHandler(deps.HealthChecker))

	// Prometheusメトリクス
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// 決済プロバイダからの完了通知（署名で認証するためセッション外）
	r.Post("/payments/callback", paymentHandler.PaymentCallback)

	// CSRFトークン配布（double-submit方式のためセッション不要）
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// つながり管理
		r.Route("/api/connections", func(r chi.Router) {
			r.Get("/", connHandler.ListConnections)
			r.Post("/", connHandler.Connect)
			r.Delete("/{peerID}", connHandler.Disconnect)
		})

		// アクティビティ管理
		r.Route("/api/activities", func(r chi.Router) {
			r.Get("/", activityHandler.ListActivities)
			// POST /api/activities - アクティビティ作成（作成専用レート制限を追加）
			r.With(deps.RateLimiter.ActivityRegistrationMiddleware()).Post("/", activityHandler.CreateActivity)

			r.Get("/mine", activityHandler.ListMyActivities)
			r.Get("/joined", activityHandler.ListJoinedActivities)
			r.Get("/feed", activityHandler.ListConnectionsFeed)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", activityHandler.GetActivity)
				r.Patch("/", activityHandler.UpdateActivity)
				r.Delete("/", activityHandler.DeleteActivity)
				r.Post("/join", activityHandler.JoinActivity)
				r.Post("/leave", activityHandler.LeaveActivity)

				// POST /api/activities/{id}/orders - 決済注文の作成
				r.Post("/orders", paymentHandler.BeginOrder)
			})
		})

		// 注文管理
		r.Route("/api/orders/{id}", func(r chi.Router) {
			r.Post("/cancel", paymentHandler.CancelOrder)
		})

		// ユーザー管理
		r.Route("/api/users", func(r chi.Router) {
			r.Delete("/me", userHandler.Withdraw)

			// GET /api/users/{id}/connections - 他ユーザーのつながり一覧
			r.Get("/{id}/connections", connHandler.ListUserConnections)
		})
	})

	return r
}

// NewHealthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
func NewHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				slog.Error("データベース疎通確認に失敗しました", slog.String("error", err.Error()))
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
				return
			}
		}

		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
