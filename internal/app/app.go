package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/tsudoi/internal/activity"
	"github.com/hitoshi/tsudoi/internal/auth"
	"github.com/hitoshi/tsudoi/internal/config"
	"github.com/hitoshi/tsudoi/internal/connection"
	"github.com/hitoshi/tsudoi/internal/database"
	"github.com/hitoshi/tsudoi/internal/events"
	"github.com/hitoshi/tsudoi/internal/handler"
	"github.com/hitoshi/tsudoi/internal/logger"
	"github.com/hitoshi/tsudoi/internal/metrics"
	"github.com/hitoshi/tsudoi/internal/middleware"
	"github.com/hitoshi/tsudoi/internal/payment"
	"github.com/hitoshi/tsudoi/internal/repository"
	"github.com/hitoshi/tsudoi/internal/security"
	"github.com/hitoshi/tsudoi/internal/user"
	"github.com/hitoshi/tsudoi/internal/worker/cleanup"
	"github.com/hitoshi/tsudoi/internal/worker/orders"
	"github.com/hitoshi/tsudoi/internal/worker/preview"
	"github.com/hitoshi/tsudoi/internal/worker/reconcile"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前のエラーも記録できるよう、まずinfoレベルで初期化する
	logger.SetupDefault(w, slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// LOG_LEVELが指定されていれば、そのレベルでロガーを張り替える
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	connRepo := repository.NewPostgresConnectionRepo(db)
	activityRepo := repository.NewPostgresActivityRepo(db)
	joinerRepo := repository.NewPostgresJoinerRepo(db)
	orderRepo := repository.NewPostgresOrderRepo(db)

	// 3. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	// 4. イベント発行の初期化（任意機能）
	// AMQP未設定または接続失敗時はnilのまま各サービスに渡し、発行を無効化する。
	var (
		connEvents     connection.EventPublisher
		activityEvents activity.EventPublisher
		paymentEvents  payment.EventPublisher
	)
	if cfg.AMQPURL != "" {
		publisher, err := events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			slog.Warn("イベント発行を無効化して起動します",
				slog.String("error", err.Error()),
			)
		} else {
			defer publisher.Close()
			connEvents = publisher
			activityEvents = publisher
			paymentEvents = publisher
			slog.Info("イベント発行を有効化しました",
				slog.String("exchange", cfg.AMQPExchange),
			)
		}
	}

	// 5. ドメインサービスの初期化
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(
		oauthProvider, userRepo, identRepo, sessionRepo,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	connService := connection.NewService(connRepo, userRepo, connEvents)
	activityService := activity.NewService(
		activityRepo, joinerRepo, userRepo, connService,
		sanitizer, ssrfGuard, activityEvents,
	)

	processor := payment.NewHostedCheckout(cfg.PaymentEndpoint, cfg.PaymentKeyID)
	verifier := payment.NewSignatureVerifier(cfg.PaymentWebhookSecret)
	paymentGate := payment.NewGate(
		orderRepo, activityRepo, activityService,
		processor, verifier, paymentEvents,
	)

	userService := user.NewService(
		userRepo, sessionRepo, joinerRepo, connRepo, orderRepo, activityRepo,
	)

	// 6. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 7. ルーターの構築
	// configのレートはreq/min単位なのでreq/secに変換する
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.ActivityRegRate = rate.Limit(float64(cfg.RateLimitActivityReg) / 60.0)
	rateLimiterCfg.ActivityRegBurst = cfg.RateLimitActivityReg

	deps := &handler.RouterDeps{
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       middleware.NewRateLimiter(rateLimiterCfg),
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		Logger: slog.Default(),

		HealthChecker:  db,
		Metrics:        collector,
		HTTPMetrics:    collector,
		MetricsHandler: metrics.Handler(registry),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		ConnectionService: connService,
		ActivityService:   activityService,
		PaymentGate:       paymentGate,
		UserService:       userService,
	}

	router := handler.NewRouter(deps)

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// リンクプレビュー取得スケジューラ、つながり修復スイープ、注文スイープ、
// セッションクリーンアップジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	connRepo := repository.NewPostgresConnectionRepo(db)
	activityRepo := repository.NewPostgresActivityRepo(db)
	joinerRepo := repository.NewPostgresJoinerRepo(db)
	orderRepo := repository.NewPostgresOrderRepo(db)

	// 3. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	// 4. メトリクスの初期化
	// ワーカーは自前のAPIサーバーを持たないため、スクレイプ専用の
	// エンドポイントを別途公開する。
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	metricsServer := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: metrics.SetupMetricsRoute(registry),
	}

	// 5. イベント発行の初期化（任意機能）
	// 回復スイープが確定させた参加もAPI経由の参加と同じイベントを発行する。
	var activityEvents activity.EventPublisher
	if cfg.AMQPURL != "" {
		publisher, err := events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			slog.Warn("イベント発行を無効化して起動します",
				slog.String("error", err.Error()),
			)
		} else {
			defer publisher.Close()
			activityEvents = publisher
		}
	}

	// 6. 参加確定サービスの初期化（注文回復スイープ用）
	connService := connection.NewService(connRepo, userRepo, nil)
	activityService := activity.NewService(
		activityRepo, joinerRepo, userRepo, connService,
		sanitizer, ssrfGuard, activityEvents,
	)

	// 7. リンクプレビュー取得の初期化
	fetcher := preview.NewFetcher(
		activityRepo, ssrfGuard, sanitizer,
		slog.Default(), collector, cfg.FetchTimeout, cfg.FetchMaxSize,
	)
	// バッチサイズと並列数は既定値を使う
	previewScheduler := preview.NewScheduler(activityRepo, fetcher, slog.Default(), 0, 0)

	// 8. スイープの初期化
	reconcileSweeper := reconcile.NewSweeper(connRepo, userRepo, slog.Default(), collector, 0)
	ordersSweeper := orders.NewSweeper(
		orderRepo, activityService, slog.Default(), collector, cfg.OrderTTL, 0,
	)

	// 9. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("preview_interval", cfg.PreviewInterval),
		slog.Duration("reconcile_interval", cfg.ReconcileInterval),
		slog.Duration("orders_sweep_interval", cfg.OrdersSweepInterval),
	)

	// メトリクスエンドポイントをバックグラウンドで公開
	go func() {
		slog.Info("worker metrics endpoint starting",
			slog.String("addr", metricsServer.Addr),
		)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()

	// スイープをバックグラウンドで起動
	go reconcileSweeper.Start(ctx, cfg.ReconcileInterval)
	go ordersSweeper.Start(ctx, cfg.OrdersSweepInterval)

	// クリーンアップジョブを日次でバックグラウンド実行
	go func() {
		// 起動直後に1回実行
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := cleanupJob.Run(ctx); err != nil {
					slog.Error("cleanup job failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	// リンクプレビュー取得スケジューラをメインgoroutineで実行（ブロッキング）
	previewScheduler.Start(ctx, cfg.PreviewInterval)

	// メトリクスサーバーを停止してから終了する
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("metrics server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
