// Package reconcile はつながりデータの整合性修復スイープを提供する。
// 鏡像行が欠けた片側エッジを検出し、欠けた行の補完または残存行の削除を行う。
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/tsudoi/internal/model"
	"github.com/hitoshi/tsudoi/internal/repository"
)

// MetricsRecorder はつながり修復のメトリクス記録のインターフェース。
type MetricsRecorder interface {
	RecordEdgeHealed()
}

// healResult は片側エッジ1件の処理結果。
type healResult int

const (
	// healResultHealed は欠けた鏡像行を補完した。
	healResultHealed healResult = iota
	// healResultPruned は退会済みユーザーの残存行を削除した。
	healResultPruned
)

// Sweeper は片側エッジの修復スイープ。
// つながりの書き込みは鏡像2行を同一トランザクションで扱うため、
// 片側エッジは通常発生しない。障害や手動操作で生じた不整合を
// 読み取り経路をブロックせずにバックグラウンドで解消する。
type Sweeper struct {
	connRepo  repository.ConnectionRepository
	userRepo  repository.UserRepository
	logger    *slog.Logger
	metrics   MetricsRecorder // 任意。nilの場合は記録しない。
	batchSize int
}

// NewSweeper はSweeperの新しいインスタンスを生成する。
// batchSizeは1サイクルで処理する片側エッジ数の上限（デフォルト: 100）。
func NewSweeper(
	connRepo repository.ConnectionRepository,
	userRepo repository.UserRepository,
	logger *slog.Logger,
	metrics MetricsRecorder,
	batchSize int,
) *Sweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{
		connRepo:  connRepo,
		userRepo:  userRepo,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// Start は指定された間隔で修復スイープを実行する。
// コンテキストがキャンセルされるまでブロックする。
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("つながり修復スイープを開始します",
		slog.Duration("interval", interval),
		slog.Int("batch_size", s.batchSize),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("つながり修復サイクルに失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("つながり修復スイープを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("つながり修復サイクルに失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は片側エッジを取得して1件ずつ修復する。
// 個別エッジの失敗はログに記録して続行し、サイクル全体は成功とする。
// 全ての操作は冪等で、多重起動しても安全。
func (s *Sweeper) RunOnce(ctx context.Context) error {
	start := time.Now()

	edges, err := s.connRepo.ListOneSided(ctx, s.batchSize)
	if err != nil {
		return fmt.Errorf("片側エッジの取得に失敗しました: %w", err)
	}

	if len(edges) == 0 {
		s.logger.Info("修復対象の片側つながりはありません")
		return nil
	}

	s.logger.Info("つながり修復サイクルを開始します",
		slog.Int("edge_count", len(edges)),
	)

	healed := 0
	pruned := 0
	for _, edge := range edges {
		result, err := s.healEdge(ctx, edge)
		if err != nil {
			s.logger.Error("片側つながりの修復に失敗しました",
				slog.String("owner_user_id", edge.OwnerUserID),
				slog.String("peer_user_id", edge.PeerUserID),
				slog.String("error", err.Error()),
			)
			continue
		}
		switch result {
		case healResultHealed:
			healed++
		case healResultPruned:
			pruned++
		}
	}

	duration := time.Since(start)
	s.logger.Info("つながり修復サイクルが完了しました",
		slog.Int("edge_count", len(edges)),
		slog.Int("healed_count", healed),
		slog.Int("pruned_count", pruned),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// healEdge は片側エッジ1件を処理する。
// 両ユーザーが存在する場合は欠けた鏡像行を補完し、
// どちらかが退会済みの場合は残存行を削除する。
func (s *Sweeper) healEdge(ctx context.Context, edge *model.Connection) (healResult, error) {
	owner, err := s.userRepo.FindByID(ctx, edge.OwnerUserID)
	if err != nil {
		return 0, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	peer, err := s.userRepo.FindByID(ctx, edge.PeerUserID)
	if err != nil {
		return 0, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}

	if owner == nil || peer == nil {
		// どちらかが退会済み。つながりとして成立しないため残存行を削除する。
		if err := s.connRepo.DeleteEdgePair(ctx, edge.OwnerUserID, edge.PeerUserID); err != nil {
			return 0, fmt.Errorf("残存エッジの削除に失敗しました: %w", err)
		}
		s.logger.Warn("退会済みユーザーの残存つながりを削除しました",
			slog.String("owner_user_id", edge.OwnerUserID),
			slog.String("peer_user_id", edge.PeerUserID),
		)
		return healResultPruned, nil
	}

	// 鏡像行の相手情報は既存エッジの所有者のスナップショット。
	// ConnectedAtは対で同一の値を共有する。
	mirror := &model.Connection{
		OwnerUserID: edge.PeerUserID,
		PeerUserID:  edge.OwnerUserID,
		PeerEmail:   owner.Email,
		PeerName:    owner.Name,
		ConnectedAt: edge.ConnectedAt,
	}
	if err := s.connRepo.CreateEdge(ctx, mirror); err != nil {
		return 0, fmt.Errorf("鏡像エッジの作成に失敗しました: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordEdgeHealed()
	}

	s.logger.Info("欠けていた鏡像つながりを補完しました",
		slog.String("owner_user_id", mirror.OwnerUserID),
		slog.String("peer_user_id", mirror.PeerUserID),
	)

	return healResultHealed, nil
}
