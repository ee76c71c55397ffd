package preview

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/tsudoi/internal/model"
	"github.com/hitoshi/tsudoi/internal/repository"
)

// SSRFValidator はSSRF検証のインターフェース。
// security.SSRFGuardServiceを抽象化してテスタビリティを向上させる。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// TextSanitizer は抽出したタイトルのサニタイズのインターフェース。
type TextSanitizer interface {
	SanitizeText(raw string) string
}

// MetricsRecorder はタイトル取得のメトリクス記録のインターフェース。
type MetricsRecorder interface {
	RecordPreviewSuccess()
	RecordPreviewFailure(reason string)
	RecordPreviewLatency(duration time.Duration)
}

// fetchOutcome はHTTPステータスコードに基づくフェッチ結果の分類。
type fetchOutcome int

const (
	// outcomeOK はフェッチ成功（200）。
	outcomeOK fetchOutcome = iota
	// outcomeRetry は次回サイクルで再試行するステータス（429/5xx）。
	outcomeRetry
	// outcomePermanent は再試行しても改善が見込めないステータス（404など）。
	outcomePermanent
)

// classifyHTTPStatus はHTTPステータスコードをフェッチ結果に分類する。
func classifyHTTPStatus(statusCode int) fetchOutcome {
	switch {
	case statusCode == 200:
		return outcomeOK
	case statusCode == 429:
		return outcomeRetry
	case statusCode >= 500:
		return outcomeRetry
	default:
		return outcomePermanent
	}
}

// Fetcher は個別アクティビティの詳細URLのHTTPフェッチとタイトル抽出を行う。
// SSRF検証付きクライアントでページを取得し、HTMLのtitle要素を
// サニタイズしてタイトルスナップショットとして保存する。
type Fetcher struct {
	activityRepo repository.ActivityRepository
	ssrfGuard    SSRFValidator
	sanitizer    TextSanitizer
	logger       *slog.Logger
	metrics      MetricsRecorder // 任意。nilの場合は記録しない。
	timeout      time.Duration
	maxBodySize  int64
}

// NewFetcher はFetcherの新しいインスタンスを生成する。
func NewFetcher(
	activityRepo repository.ActivityRepository,
	ssrfGuard SSRFValidator,
	sanitizer TextSanitizer,
	logger *slog.Logger,
	metrics MetricsRecorder,
	timeout time.Duration,
	maxBodySize int64,
) *Fetcher {
	return &Fetcher{
		activityRepo: activityRepo,
		ssrfGuard:    ssrfGuard,
		sanitizer:    sanitizer,
		logger:       logger,
		metrics:      metrics,
		timeout:      timeout,
		maxBodySize:  maxBodySize,
	}
}

// Fetch はアクティビティの詳細URLからページタイトルを取得して保存する。
// TitleFetcherServiceインターフェースを実装する。
// 恒久的な失敗（SSRFブロック、404、title要素なし）の場合はホスト名を
// フォールバックとして保存し、以後の取得対象から外す。
// 一時的な失敗（ネットワークエラー、429/5xx）の場合は保存せず次回サイクルに委ねる。
func (f *Fetcher) Fetch(ctx context.Context, activity *model.Activity) error {
	start := time.Now()

	// SSRF検証
	if err := f.ssrfGuard.ValidateURL(activity.DetailsURL); err != nil {
		f.logger.Error("SSRF検証に失敗しました",
			slog.String("activity_id", activity.ID),
			slog.String("details_url", activity.DetailsURL),
			slog.String("error", err.Error()),
		)
		f.recordFailure("ssrf_blocked")
		if applyErr := f.applyFallback(ctx, activity); applyErr != nil {
			return applyErr
		}
		return fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	// HTTPリクエスト構築
	client := f.ssrfGuard.NewSafeClient(f.timeout, f.maxBodySize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, activity.DetailsURL, nil)
	if err != nil {
		f.recordFailure("bad_url")
		if applyErr := f.applyFallback(ctx, activity); applyErr != nil {
			return applyErr
		}
		return fmt.Errorf("リクエスト作成に失敗: %w", err)
	}

	req.Header.Set("User-Agent", "Tsudoi/1.0 Link Preview")
	req.Header.Set("Accept", "text/html, application/xhtml+xml, */*")

	// HTTPリクエスト実行
	resp, err := client.Do(req)
	if err != nil {
		f.logger.Error("HTTPリクエストに失敗しました",
			slog.String("activity_id", activity.ID),
			slog.String("details_url", activity.DetailsURL),
			slog.String("error", err.Error()),
		)
		f.recordFailure("network")
		return fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start)
	if f.metrics != nil {
		f.metrics.RecordPreviewLatency(duration)
	}

	// HTTPステータスに基づく処理分岐
	switch classifyHTTPStatus(resp.StatusCode) {
	case outcomeRetry:
		// 429/5xx: 次回サイクルで再試行
		f.logger.Warn("タイトル取得を次回サイクルに持ち越します",
			slog.String("activity_id", activity.ID),
			slog.String("details_url", activity.DetailsURL),
			slog.Int("http_status", resp.StatusCode),
		)
		f.recordFailure(fmt.Sprintf("http_%d", resp.StatusCode))
		return fmt.Errorf("HTTPステータス %d によりタイトル取得に失敗しました", resp.StatusCode)

	case outcomePermanent:
		// 404/410など: ホスト名で確定して再試行しない
		f.logger.Warn("タイトル取得を打ち切ります",
			slog.String("activity_id", activity.ID),
			slog.String("details_url", activity.DetailsURL),
			slog.Int("http_status", resp.StatusCode),
		)
		f.recordFailure(fmt.Sprintf("http_%d", resp.StatusCode))
		return f.applyFallback(ctx, activity)

	case outcomeOK:
		// 200: 以下で処理を続行
	}

	// レスポンスボディを読み込み（最大サイズ制限付き）
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		f.logger.Error("レスポンスボディの読み取りに失敗しました",
			slog.String("activity_id", activity.ID),
			slog.String("error", err.Error()),
		)
		f.recordFailure("read_body")
		return fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}

	title := f.sanitizer.SanitizeText(ExtractTitle(body))
	if title == "" {
		// title要素のないページ。ホスト名で確定して再試行しない。
		f.recordFailure("no_title")
		return f.applyFallback(ctx, activity)
	}

	if err := f.activityRepo.UpdateLinkTitle(ctx, activity.ID, title); err != nil {
		f.logger.Error("リンクタイトルの更新に失敗しました",
			slog.String("activity_id", activity.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("リンクタイトルの更新に失敗: %w", err)
	}

	if f.metrics != nil {
		f.metrics.RecordPreviewSuccess()
	}

	f.logger.Info("リンクタイトルを取得しました",
		slog.String("activity_id", activity.ID),
		slog.String("details_url", activity.DetailsURL),
		slog.String("title", title),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// applyFallback はホスト名をフォールバックタイトルとして保存する。
// 以後このアクティビティはタイトル取得の対象から外れる。
func (f *Fetcher) applyFallback(ctx context.Context, activity *model.Activity) error {
	fallback := hostOf(activity.DetailsURL)
	if err := f.activityRepo.UpdateLinkTitle(ctx, activity.ID, fallback); err != nil {
		return fmt.Errorf("フォールバックタイトルの保存に失敗: %w", err)
	}
	return nil
}

// hostOf はURLからホスト名を抽出する。パースできない場合は空文字列を返す。
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// recordFailure は失敗メトリクスを記録する。メトリクス未設定の場合は何もしない。
func (f *Fetcher) recordFailure(reason string) {
	if f.metrics != nil {
		f.metrics.RecordPreviewFailure(reason)
	}
}
