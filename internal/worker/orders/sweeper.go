// Package orders は決済注文のバックグラウンドスイープを提供する。
// 完了済み注文の参加者への再反映（回復スイープ）と、
// 決済されないまま放置された注文の失効（TTLスイープ）を含む。
package orders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/tsudoi/internal/repository"
)

// JoinFinalizer は決済確定後の参加処理のインターフェース。
// activity.Serviceを抽象化してテスタビリティを向上させる。
type JoinFinalizer interface {
	FinalizePaidJoin(ctx context.Context, activityID, userID, paymentID string, amount int64, paidAt time.Time) error
}

// MetricsRecorder は注文スイープのメトリクス記録のインターフェース。
type MetricsRecorder interface {
	RecordOrderRecovered()
	RecordOrderExpired()
}

// Sweeper は決済注文の回復・失効スイープ。
// 注文の確定はコールバック処理で先に永続化されるため、
// その後の参加者への反映がクラッシュ等で落ちても、
// 回復スイープが完了済み注文から参加を再導出できる。
// 反映は冪等で、コールバックの再送や多重起動と競合しても安全。
type Sweeper struct {
	orderRepo repository.OrderRepository
	finalizer JoinFinalizer
	logger    *slog.Logger
	metrics   MetricsRecorder // 任意。nilの場合は記録しない。
	orderTTL  time.Duration
	batchSize int
}

// NewSweeper はSweeperの新しいインスタンスを生成する。
// orderTTLはcreated状態の注文を失効させるまでの放置時間（デフォルト: 30分）。
// batchSizeは1サイクルで処理する注文数の上限（デフォルト: 100）。
func NewSweeper(
	orderRepo repository.OrderRepository,
	finalizer JoinFinalizer,
	logger *slog.Logger,
	metrics MetricsRecorder,
	orderTTL time.Duration,
	batchSize int,
) *Sweeper {
	if orderTTL <= 0 {
		orderTTL = 30 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{
		orderRepo: orderRepo,
		finalizer: finalizer,
		logger:    logger,
		metrics:   metrics,
		orderTTL:  orderTTL,
		batchSize: batchSize,
	}
}

// Start は指定された間隔で注文スイープを実行する。
// コンテキストがキャンセルされるまでブロックする。
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("注文スイープを開始します",
		slog.Duration("interval", interval),
		slog.Duration("order_ttl", s.orderTTL),
		slog.Int("batch_size", s.batchSize),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("注文スイープサイクルに失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("注文スイープを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("注文スイープサイクルに失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は回復スイープと失効スイープを順に実行する。
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if err := s.recoverCompleted(ctx); err != nil {
		return fmt.Errorf("回復スイープに失敗しました: %w", err)
	}
	if err := s.expireStale(ctx); err != nil {
		return fmt.Errorf("失効スイープに失敗しました: %w", err)
	}
	return nil
}

// recoverCompleted は完了済みだが参加者行への反映が確認できない注文を再反映する。
// 個別注文の失敗はログに記録して続行する。
func (s *Sweeper) recoverCompleted(ctx context.Context) error {
	start := time.Now()

	orders, err := s.orderRepo.ListCompletedUnapplied(ctx, s.batchSize)
	if err != nil {
		return fmt.Errorf("未反映の完了注文の取得に失敗しました: %w", err)
	}

	if len(orders) == 0 {
		s.logger.Info("再反映対象の完了注文はありません")
		return nil
	}

	s.logger.Info("注文回復スイープを開始します",
		slog.Int("order_count", len(orders)),
	)

	recovered := 0
	for _, order := range orders {
		// 参加確定時刻は注文の確定時刻を使う
		paidAt := order.UpdatedAt
		if order.CompletedAt != nil {
			paidAt = *order.CompletedAt
		}

		if err := s.finalizer.FinalizePaidJoin(ctx, order.ActivityID, order.UserID, order.PaymentID, order.Amount, paidAt); err != nil {
			s.logger.Error("完了注文の再反映に失敗しました",
				slog.String("order_id", order.ID),
				slog.String("activity_id", order.ActivityID),
				slog.String("user_id", order.UserID),
				slog.String("error", err.Error()),
			)
			continue
		}

		recovered++
		if s.metrics != nil {
			s.metrics.RecordOrderRecovered()
		}

		s.logger.Info("完了注文を参加者に再反映しました",
			slog.String("order_id", order.ID),
			slog.String("activity_id", order.ActivityID),
			slog.String("user_id", order.UserID),
		)
	}

	duration := time.Since(start)
	s.logger.Info("注文回復スイープが完了しました",
		slog.Int("order_count", len(orders)),
		slog.Int("recovered_count", recovered),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// expireStale はTTLを超えて放置されたcreated状態の注文を失効させる。
// 失効はcreated→cancelledの遷移で行い、既に確定済みの注文には触れない
// （遷移の競合はリポジトリ側の条件付きUPDATEが排除する）。
func (s *Sweeper) expireStale(ctx context.Context) error {
	start := time.Now()

	olderThan := time.Now().UTC().Add(-s.orderTTL)
	orders, err := s.orderRepo.ListStaleCreated(ctx, olderThan, s.batchSize)
	if err != nil {
		return fmt.Errorf("放置注文の取得に失敗しました: %w", err)
	}

	if len(orders) == 0 {
		s.logger.Info("失効対象の放置注文はありません")
		return nil
	}

	s.logger.Info("注文失効スイープを開始します",
		slog.Int("order_count", len(orders)),
	)

	expired := 0
	for _, order := range orders {
		transitioned, err := s.orderRepo.Cancel(ctx, order.ID)
		if err != nil {
			s.logger.Error("放置注文の失効に失敗しました",
				slog.String("order_id", order.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !transitioned {
			// 一覧取得後に確定またはキャンセルされた注文。何もしない。
			continue
		}

		expired++
		if s.metrics != nil {
			s.metrics.RecordOrderExpired()
		}

		s.logger.Info("放置注文を失効させました",
			slog.String("order_id", order.ID),
			slog.String("activity_id", order.ActivityID),
			slog.String("user_id", order.UserID),
			slog.Time("order_created_at", order.CreatedAt),
		)
	}

	duration := time.Since(start)
	s.logger.Info("注文失効スイープが完了しました",
		slog.Int("order_count", len(orders)),
		slog.Int("expired_count", expired),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
