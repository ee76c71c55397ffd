// Package connection はユーザー間の双方向のつながりを管理するドメインロジックを提供する。
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hitoshi/tsudoi/internal/model"
	"github.com/hitoshi/tsudoi/internal/repository"
)

// EventPublisher はドメインイベントの発行インターフェース。
type EventPublisher interface {
	PublishJSON(ctx context.Context, routingKey string, payload interface{}) error
}

// イベントのルーティングキー
const (
	EventEdgeConnected    = "edge.connected"
	EventEdgeDisconnected = "edge.disconnected"
)

// EdgeEvent はつながりの作成・削除イベントのペイロード。
type EdgeEvent struct {
	UserID      string    `json:"user_id"`
	PeerUserID  string    `json:"peer_user_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Service はつながり管理のサービス層。
// エッジの作成・削除は常に鏡像2行を同一トランザクションで書き込み、
// 読み取り時に検出した片側エッジは警告として扱い読み取りをブロックしない。
type Service struct {
	connRepo repository.ConnectionRepository
	userRepo repository.UserRepository
	events   EventPublisher // 任意。nilの場合はイベントを発行しない。
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(connRepo repository.ConnectionRepository, userRepo repository.UserRepository, events EventPublisher) *Service {
	return &Service{
		connRepo: connRepo,
		userRepo: userRepo,
		events:   events,
	}
}

// Connect はメールアドレスで指定した相手とのつながりを作成する。
// 自分側と相手側の2行を同一トランザクションで書き込み、半接続状態を残さない。
func (s *Service) Connect(ctx context.Context, selfID, targetEmail string) (*model.Connection, error) {
	self, err := s.userRepo.FindByID(ctx, selfID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if self == nil {
		return nil, model.NewUserNotFoundError()
	}

	target, err := s.userRepo.FindByEmail(ctx, targetEmail)
	if err != nil {
		return nil, fmt.Errorf("相手ユーザーの検索に失敗しました: %w", err)
	}
	if target == nil {
		return nil, model.NewUserNotFoundByEmailError(targetEmail)
	}

	return s.connectUsers(ctx, self, target)
}

// ConnectByID はユーザーIDで指定した相手とのつながりを作成する。
// 活動参加時の主催者との自動接続で使用する。
func (s *Service) ConnectByID(ctx context.Context, selfID, targetID string) (*model.Connection, error) {
	self, err := s.userRepo.FindByID(ctx, selfID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if self == nil {
		return nil, model.NewUserNotFoundError()
	}

	target, err := s.userRepo.FindByID(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("相手ユーザーの取得に失敗しました: %w", err)
	}
	if target == nil {
		return nil, model.NewUserNotFoundError()
	}

	return s.connectUsers(ctx, self, target)
}

// connectUsers は解決済みの2ユーザー間に鏡像エッジを作成する。
func (s *Service) connectUsers(ctx context.Context, self, target *model.User) (*model.Connection, error) {
	if target.ID == self.ID {
		return nil, model.NewSelfConnectionError()
	}

	existing, err := s.connRepo.FindEdge(ctx, self.ID, target.ID)
	if err != nil {
		return nil, fmt.Errorf("既存エッジの確認に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewAlreadyConnectedError()
	}

	// 両行が同一のconnected_atを共有する
	now := time.Now().UTC()
	edge := &model.Connection{
		OwnerUserID: self.ID,
		PeerUserID:  target.ID,
		PeerEmail:   target.Email,
		PeerName:    target.Name,
		ConnectedAt: now,
	}
	mirror := &model.Connection{
		OwnerUserID: target.ID,
		PeerUserID:  self.ID,
		PeerEmail:   self.Email,
		PeerName:    self.Name,
		ConnectedAt: now,
	}

	if err := s.connRepo.CreateEdgePair(ctx, edge, mirror); err != nil {
		if errors.Is(err, repository.ErrEdgeExists) {
			return nil, model.NewAlreadyConnectedError()
		}
		return nil, fmt.Errorf("エッジの作成に失敗しました: %w", err)
	}

	if s.events != nil {
		if err := s.events.PublishJSON(ctx, EventEdgeConnected, EdgeEvent{
			UserID:      self.ID,
			PeerUserID:  target.ID,
			ConnectedAt: now,
		}); err != nil {
			slog.Warn("つながり作成イベントの発行に失敗しました", "error", err)
		}
	}

	return edge, nil
}

// Disconnect は指定した相手とのつながりを削除する。
// 自分側にエッジが存在しない場合はConnectionNotFoundを返す。
func (s *Service) Disconnect(ctx context.Context, selfID, targetID string) error {
	edge, err := s.connRepo.FindEdge(ctx, selfID, targetID)
	if err != nil {
		return fmt.Errorf("エッジの確認に失敗しました: %w", err)
	}
	if edge == nil {
		return model.NewConnectionNotFoundError()
	}

	if err := s.connRepo.DeleteEdgePair(ctx, selfID, targetID); err != nil {
		return fmt.Errorf("エッジの削除に失敗しました: %w", err)
	}

	if s.events != nil {
		if err := s.events.PublishJSON(ctx, EventEdgeDisconnected, EdgeEvent{
			UserID:     selfID,
			PeerUserID: targetID,
		}); err != nil {
			slog.Warn("つながり削除イベントの発行に失敗しました", "error", err)
		}
	}

	return nil
}

// PeerIDs はユーザーのつながり相手のユーザーID一覧を返す。
func (s *Service) PeerIDs(ctx context.Context, userID string) ([]string, error) {
	return s.connRepo.ListPeerIDs(ctx, userID)
}

// ListEdges は自分の全つながりをconnected_at昇順で返す。
// 片側エッジは警告ログを出した上で結果に含める（修復はスイープに任せる）。
func (s *Service) ListEdges(ctx context.Context, selfID string) ([]*model.Connection, error) {
	edges, err := s.connRepo.ListByOwner(ctx, selfID)
	if err != nil {
		return nil, fmt.Errorf("つながり一覧の取得に失敗しました: %w", err)
	}

	for _, edge := range edges {
		if edge.Inconsistent {
			slog.Warn("片側エッジを検出しました",
				"owner_user_id", edge.OwnerUserID,
				"peer_user_id", edge.PeerUserID,
			)
		}
	}

	return edges, nil
}

// ListEdgesWithMutualStatus は他ユーザーのつながり一覧を閲覧者視点の注釈付きで返す。
// 並び順: 相互つながり（閲覧者自身を含む）が先、その中では表示名の昇順。
// 同一入力に対して安定した並びを返す。
func (s *Service) ListEdgesWithMutualStatus(ctx context.Context, subjectID, viewerID string) ([]model.ConnectionWithStatus, error) {
	subject, err := s.userRepo.FindByID(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if subject == nil {
		return nil, model.NewUserNotFoundError()
	}

	edges, err := s.ListEdges(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	viewerPeerIDs, err := s.connRepo.ListPeerIDs(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("閲覧者のつながり相手の取得に失敗しました: %w", err)
	}
	viewerPeers := make(map[string]bool, len(viewerPeerIDs))
	for _, id := range viewerPeerIDs {
		viewerPeers[id] = true
	}

	results := make([]model.ConnectionWithStatus, len(edges))
	for i, edge := range edges {
		isSelf := edge.PeerUserID == viewerID
		results[i] = model.ConnectionWithStatus{
			Connection: *edge,
			IsSelf:     isSelf,
			IsMutual:   isSelf || viewerPeers[edge.PeerUserID],
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].IsMutual != results[j].IsMutual {
			return results[i].IsMutual
		}
		if results[i].PeerName != results[j].PeerName {
			return results[i].PeerName < results[j].PeerName
		}
		return results[i].PeerUserID < results[j].PeerUserID
	})

	return results, nil
}
