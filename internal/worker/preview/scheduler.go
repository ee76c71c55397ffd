// Package preview はアクティビティ詳細URLのタイトル取得処理を提供する。
// スケジューラ、フェッチャー、HTMLタイトル抽出を含む。
package preview

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/tsudoi/internal/model"
	"github.com/hitoshi/tsudoi/internal/repository"
)

// TitleFetcherService は個別アクティビティのタイトル取得処理のインターフェース。
type TitleFetcherService interface {
	Fetch(ctx context.Context, activity *model.Activity) error
}

// Scheduler は定期的にタイトル未取得のアクティビティを取得し、
// 並列にタイトル取得を実行するスケジューラ。
type Scheduler struct {
	activityRepo   repository.ActivityRepository
	fetcher        TitleFetcherService
	logger         *slog.Logger
	batchSize      int
	maxConcurrency int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// batchSizeは1サイクルで処理するアクティビティ数の上限（デフォルト: 50）。
// maxConcurrencyは同時フェッチ数の上限（デフォルト: 10）。
func NewScheduler(
	activityRepo repository.ActivityRepository,
	fetcher TitleFetcherService,
	logger *slog.Logger,
	batchSize int,
	maxConcurrency int,
) *Scheduler {
	if batchSize <= 0 {
		batchSize = 50
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	return &Scheduler{
		activityRepo:   activityRepo,
		fetcher:        fetcher,
		logger:         logger,
		batchSize:      batchSize,
		maxConcurrency: maxConcurrency,
	}
}

// Start は指定された間隔でタイトル取得サイクルを実行する。
// コンテキストがキャンセルされるまでブロックする。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("タイトル取得スケジューラを開始します",
		slog.Duration("interval", interval),
		slog.Int("batch_size", s.batchSize),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("タイトル取得サイクルに失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("タイトル取得スケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("タイトル取得サイクルに失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce はタイトル未取得のアクティビティを取得し、並列にタイトル取得を実行する。
// 個別アクティビティの失敗はログに記録して続行し、サイクル全体は成功とする。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	activities, err := s.activityRepo.ListNeedingLinkTitle(ctx, s.batchSize)
	if err != nil {
		return fmt.Errorf("タイトル未取得アクティビティの取得に失敗しました: %w", err)
	}

	if len(activities) == 0 {
		s.logger.Info("タイトル取得対象のアクティビティはありません")
		return nil
	}

	s.logger.Info("タイトル取得サイクルを開始します",
		slog.Int("activity_count", len(activities)),
	)

	// セマフォで同時実行数を制限
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, activity := range activities {
		wg.Add(1)
		sem <- struct{}{}

		go func(a *model.Activity) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.fetcher.Fetch(ctx, a); err != nil {
				s.logger.Error("タイトル取得に失敗しました",
					slog.String("activity_id", a.ID),
					slog.String("details_url", a.DetailsURL),
					slog.String("error", err.Error()),
				)
			}
		}(activity)
	}

	wg.Wait()

	duration := time.Since(start)
	s.logger.Info("タイトル取得サイクルが完了しました",
		slog.Int("activity_count", len(activities)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
