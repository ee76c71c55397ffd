// Package activity はアクティビティの作成・参加・離脱のドメインロジックを提供する。
package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/tsudoi/internal/model"
	"github.com/hitoshi/tsudoi/internal/repository"
	"github.com/hitoshi/tsudoi/internal/security"
	"github.com/hitoshi/tsudoi/internal/visibility"
)

// defaultCurrency は通貨指定のない有料アクティビティに適用する通貨。
const defaultCurrency = "jpy"

// ConnectorService はつながり管理サービスに求める操作のインターフェース。
// テスタビリティのためconnection.Serviceを抽象化する。
type ConnectorService interface {
	ConnectByID(ctx context.Context, selfID, targetID string) (*model.Connection, error)
	PeerIDs(ctx context.Context, userID string) ([]string, error)
}

// EventPublisher はドメインイベントの発行インターフェース。
type EventPublisher interface {
	PublishJSON(ctx context.Context, routingKey string, payload interface{}) error
}

// イベントのルーティングキー
const (
	EventActivityJoined = "activity.joined"
	EventActivityLeft   = "activity.left"
)

// ParticipationEvent は参加・離脱イベントのペイロード。
type ParticipationEvent struct {
	ActivityID string `json:"activity_id"`
	UserID     string `json:"user_id"`
	Paid       bool   `json:"paid"`
}

// CreateInput はアクティビティ作成の入力。
type CreateInput struct {
	Name        string
	Location    string
	StartsAt    time.Time
	Description string
	DetailsURL  string
	IsPrivate   bool
	IsPaid      bool
	Cost        int64
	Currency    string
}

// Service はアクティビティ管理のサービス層。
// 作成 → 参加（無料/有料ゲート） → 離脱のフローを統括する。
// 有料アクティビティへの参加はPaymentGate経由の決済確定まで一切の書き込みを行わない。
type Service struct {
	activityRepo repository.ActivityRepository
	joinerRepo   repository.JoinerRepository
	userRepo     repository.UserRepository
	connector    ConnectorService
	sanitizer    security.ContentSanitizerService
	ssrfGuard    security.SSRFGuardService
	events       EventPublisher // 任意。nilの場合はイベントを発行しない。
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	activityRepo repository.ActivityRepository,
	joinerRepo repository.JoinerRepository,
	userRepo repository.UserRepository,
	connector ConnectorService,
	sanitizer security.ContentSanitizerService,
	ssrfGuard security.SSRFGuardService,
	events EventPublisher,
) *Service {
	return &Service{
		activityRepo: activityRepo,
		joinerRepo:   joinerRepo,
		userRepo:     userRepo,
		connector:    connector,
		sanitizer:    sanitizer,
		ssrfGuard:    ssrfGuard,
		events:       events,
	}
}

// Create は新しいアクティビティを作成する。
// フロー: 入力のサニタイズ → 詳細URLの検証 → アクティビティと作成者参加行の作成
// 作成者は自動的に参加者になる。有料の場合、作成者の参加行は支払い不要として確定済みで作成する。
func (s *Service) Create(ctx context.Context, ownerID string, in CreateInput) (*model.Activity, error) {
	owner, err := s.userRepo.FindByID(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if owner == nil {
		return nil, model.NewUserNotFoundError()
	}

	// 1. テキストフィールドのサニタイズ
	name := s.sanitizer.SanitizeText(in.Name)
	if name == "" {
		return nil, model.NewInvalidActivityError("アクティビティ名は必須です。")
	}
	location := s.sanitizer.SanitizeText(in.Location)
	description := s.sanitizer.Sanitize(in.Description)

	// 2. 参加費の検証
	if in.IsPaid && in.Cost <= 0 {
		return nil, model.NewInvalidActivityError("有料アクティビティには1以上の参加費が必要です。")
	}
	currency := in.Currency
	if in.IsPaid && currency == "" {
		currency = defaultCurrency
	}

	// 3. 詳細URLの検証（SSRF対策の事前チェック）
	if in.DetailsURL != "" {
		if err := s.ssrfGuard.ValidateURL(in.DetailsURL); err != nil {
			return nil, urlValidationError(err)
		}
	}

	// 4. アクティビティと作成者の参加行を同一トランザクションで作成
	now := time.Now().UTC()
	activity := &model.Activity{
		ID:          uuid.New().String(),
		Name:        name,
		Location:    location,
		StartsAt:    in.StartsAt,
		Description: description,
		DetailsURL:  in.DetailsURL,
		OwnerUserID: owner.ID,
		CreatedBy:   owner.Name,
		IsPrivate:   in.IsPrivate,
		IsPaid:      in.IsPaid,
		Cost:        in.Cost,
		Currency:    currency,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	ownerJoiner := &model.Joiner{
		ActivityID: activity.ID,
		UserID:     owner.ID,
		Email:      owner.Email,
		Name:       owner.Name,
		JoinedAt:   now,
	}
	if in.IsPaid {
		// 作成者は支払い不要。集計には加算しない。
		ownerJoiner.PaymentStatus = model.PaymentStatusCompleted
	}

	if err := s.activityRepo.Create(ctx, activity, ownerJoiner); err != nil {
		return nil, fmt.Errorf("アクティビティの作成に失敗しました: %w", err)
	}

	return activity, nil
}

// Get はアクティビティを参加者一覧付きで取得する。
// ID直接指定の取得は可視性フィルタの対象外（非公開アクティビティのリンク共有のため）。
func (s *Service) Get(ctx context.Context, activityID string) (*model.ActivityWithJoiners, error) {
	activity, err := s.activityRepo.FindByIDWithJoiners(ctx, activityID)
	if err != nil {
		return nil, fmt.Errorf("アクティビティの取得に失敗しました: %w", err)
	}
	if activity == nil {
		return nil, model.NewActivityNotFoundError(activityID)
	}
	return activity, nil
}

// Update はアクティビティの属性を部分更新する。作成者のみが実行できる。
// nilのフィールドは変更しない。参加者集合と決済集計はこの経路では変更できない。
func (s *Service) Update(ctx context.Context, activityID, callerID string, patch model.ActivityPatch) (*model.Activity, error) {
	activity, err := s.activityRepo.FindByID(ctx, activityID)
	if err != nil {
		return nil, fmt.Errorf("アクティビティの取得に失敗しました: %w", err)
	}
	if activity == nil {
		return nil, model.NewActivityNotFoundError(activityID)
	}
	if activity.OwnerUserID != callerID {
		return nil, model.NewPermissionDeniedError()
	}

	if patch.Name != nil {
		name := s.sanitizer.SanitizeText(*patch.Name)
		if name == "" {
			return nil, model.NewInvalidActivityError("アクティビティ名は必須です。")
		}
		activity.Name = name
	}
	if patch.Location != nil {
		activity.Location = s.sanitizer.SanitizeText(*patch.Location)
	}
	if patch.StartsAt != nil {
		activity.StartsAt = *patch.StartsAt
	}
	if patch.Description != nil {
		activity.Description = s.sanitizer.Sanitize(*patch.Description)
	}
	if patch.DetailsURL != nil {
		if *patch.DetailsURL != "" {
			if err := s.ssrfGuard.ValidateURL(*patch.DetailsURL); err != nil {
				return nil, urlValidationError(err)
			}
		}
		if *patch.DetailsURL != activity.DetailsURL {
			// URLが変わったらタイトルスナップショットを破棄してワーカーに再取得させる
			activity.LinkTitle = ""
		}
		activity.DetailsURL = *patch.DetailsURL
	}
	if patch.IsPrivate != nil {
		activity.IsPrivate = *patch.IsPrivate
	}
	if patch.IsPaid != nil {
		activity.IsPaid = *patch.IsPaid
	}
	if patch.Cost != nil {
		activity.Cost = *patch.Cost
	}
	if patch.Currency != nil {
		activity.Currency = *patch.Currency
	}
	if activity.IsPaid && activity.Cost <= 0 {
		return nil, model.NewInvalidActivityError("有料アクティビティには1以上の参加費が必要です。")
	}
	if activity.IsPaid && activity.Currency == "" {
		activity.Currency = defaultCurrency
	}

	activity.UpdatedAt = time.Now().UTC()

	if err := s.activityRepo.Update(ctx, activity); err != nil {
		return nil, fmt.Errorf("アクティビティの更新に失敗しました: %w", err)
	}

	return activity, nil
}

// Delete はアクティビティを削除する。作成者のみが実行できる。
// 参加者行はCASCADE削除される。
func (s *Service) Delete(ctx context.Context, activityID, callerID string) error {
	activity, err := s.activityRepo.FindByID(ctx, activityID)
	if err != nil {
		return fmt.Errorf("アクティビティの取得に失敗しました: %w", err)
	}
	if activity == nil {
		return model.NewActivityNotFoundError(activityID)
	}
	if activity.OwnerUserID != callerID {
		return model.NewPermissionDeniedError()
	}

	if err := s.activityRepo.Delete(ctx, activityID); err != nil {
		return fmt.Errorf("アクティビティの削除に失敗しました: %w", err)
	}
	return nil
}

// Join はアクティビティへの参加を処理する。
// 有料アクティビティで決済が未確定の場合は何も書き込まず、
// 注文作成に必要な金額情報とともにJoinStatusPaymentRequiredを返す（失敗ではない）。
// connectToOwnerがtrueの場合は参加前に主催者とのつながりを作成する（既接続は無視）。
// 参加は冪等で、再参加してもJoinedAtは変わらない。
func (s *Service) Join(ctx context.Context, activityID, userID string, connectToOwner bool) (*model.JoinResult, error) {
	activity, err := s.activityRepo.FindByID(ctx, activityID)
	if err != nil {
		return nil, fmt.Errorf("アクティビティの取得に失敗しました: %w", err)
	}
	if activity == nil {
		return nil, model.NewActivityNotFoundError(activityID)
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	existing, err := s.joinerRepo.FindByActivityAndUser(ctx, activityID, userID)
	if err != nil {
		return nil, fmt.Errorf("参加状態の確認に失敗しました: %w", err)
	}

	// 有料ゲート: 決済が確定していない非主催者は参加できない。
	// この分岐では一切書き込みを行わない（部分的な参加状態を残さない）。
	if activity.IsPaid && userID != activity.OwnerUserID {
		if existing == nil || existing.PaymentStatus != model.PaymentStatusCompleted {
			return &model.JoinResult{
				Status:   model.JoinStatusPaymentRequired,
				Activity: activity,
				Amount:   activity.Cost,
				Currency: activity.Currency,
			}, nil
		}
	}

	// 主催者との自動接続（任意）。既につながっている場合は無視して参加を続行する。
	if connectToOwner && userID != activity.OwnerUserID {
		if _, err := s.connector.ConnectByID(ctx, userID, activity.OwnerUserID); err != nil {
			apiErr, ok := err.(*model.APIError)
			if !ok || apiErr.Code != model.ErrCodeAlreadyConnected {
				return nil, fmt.Errorf("主催者との接続に失敗しました: %w", err)
			}
		}
	}

	// 再参加は何も書き込まない（JoinedAt維持）
	if existing != nil {
		return &model.JoinResult{Status: model.JoinStatusJoined, Activity: activity}, nil
	}

	joiner := &model.Joiner{
		ActivityID: activityID,
		UserID:     user.ID,
		Email:      user.Email,
		Name:       user.Name,
		JoinedAt:   time.Now().UTC(),
	}
	if _, err := s.joinerRepo.Upsert(ctx, joiner); err != nil {
		return nil, fmt.Errorf("参加者行の作成に失敗しました: %w", err)
	}

	s.publishParticipation(ctx, EventActivityJoined, activityID, userID, false)

	return &model.JoinResult{Status: model.JoinStatusJoined, Activity: activity}, nil
}

// Leave はアクティビティからの離脱を処理する。
// 主催者は離脱できない（作成者の参加行はアクティビティの構造の一部）。
// 参加していないユーザーの離脱は何もせず成功とする（冪等）。
func (s *Service) Leave(ctx context.Context, activityID, userID string) error {
	activity, err := s.activityRepo.FindByID(ctx, activityID)
	if err != nil {
		return fmt.Errorf("アクティビティの取得に失敗しました: %w", err)
	}
	if activity == nil {
		return model.NewActivityNotFoundError(activityID)
	}
	if activity.OwnerUserID == userID {
		return model.NewOwnerCannotLeaveError()
	}

	// 行単位のDELETEのため、並行する他ユーザーの参加を上書きしない
	if err := s.joinerRepo.Delete(ctx, activityID, userID); err != nil {
		return fmt.Errorf("参加者行の削除に失敗しました: %w", err)
	}

	s.publishParticipation(ctx, EventActivityLeft, activityID, userID, false)

	return nil
}

// IsJoined はユーザーがアクティビティに参加しているかを返す。
func (s *Service) IsJoined(ctx context.Context, activityID, userID string) (bool, error) {
	joiner, err := s.joinerRepo.FindByActivityAndUser(ctx, activityID, userID)
	if err != nil {
		return false, fmt.Errorf("参加状態の確認に失敗しました: %w", err)
	}
	return joiner != nil, nil
}

// FinalizePaidJoin は決済確定後の参加処理を行う。PaymentGateから呼ばれる。
// 参加者行の確定と決済集計の加算は同一トランザクションで行われ、
// 同じユーザーに対して二重に加算されることはない（確認の再送やリカバリスイープと競合しても安全）。
func (s *Service) FinalizePaidJoin(ctx context.Context, activityID, userID, paymentID string, amount int64, paidAt time.Time) error {
	activity, err := s.activityRepo.FindByID(ctx, activityID)
	if err != nil {
		return fmt.Errorf("アクティビティの取得に失敗しました: %w", err)
	}
	if activity == nil {
		return model.NewActivityNotFoundError(activityID)
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	joiner := &model.Joiner{
		ActivityID:    activityID,
		UserID:        user.ID,
		Email:         user.Email,
		Name:          user.Name,
		JoinedAt:      time.Now().UTC(),
		PaymentStatus: model.PaymentStatusCompleted,
		PaymentID:     paymentID,
		PaidAmount:    amount,
		PaidAt:        &paidAt,
	}

	applied, err := s.activityRepo.ApplyPaidJoin(ctx, joiner)
	if err != nil {
		return fmt.Errorf("有料参加の確定に失敗しました: %w", err)
	}
	if !applied {
		// 既に確定済み。再適用しない。
		slog.Info("有料参加は確定済みのためスキップしました",
			"activity_id", activityID,
			"user_id", userID,
		)
		return nil
	}

	s.publishParticipation(ctx, EventActivityJoined, activityID, userID, true)

	return nil
}

// ListVisible は閲覧者に可視なアクティビティをcreated_at降順で返す。
// 可視性述語はSQL側で適用されるが、多層防御としてプロセス内フィルタも通す。
func (s *Service) ListVisible(ctx context.Context, viewerID string, cursor time.Time, limit int) ([]*model.Activity, error) {
	activities, err := s.activityRepo.ListVisibleTo(ctx, viewerID, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("アクティビティ一覧の取得に失敗しました: %w", err)
	}

	joined, err := s.joinedSet(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	return visibility.FilterForViewer(activities, viewerID, joined), nil
}

// ListMine は自分が作成したアクティビティをcreated_at降順で返す。
func (s *Service) ListMine(ctx context.Context, ownerID string) ([]*model.Activity, error) {
	activities, err := s.activityRepo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("作成アクティビティ一覧の取得に失敗しました: %w", err)
	}
	return activities, nil
}

// ListJoined は自分が参加しているアクティビティを参加日時降順で返す。
func (s *Service) ListJoined(ctx context.Context, userID string) ([]*model.Activity, error) {
	activities, err := s.activityRepo.ListJoinedBy(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("参加アクティビティ一覧の取得に失敗しました: %w", err)
	}
	return activities, nil
}

// ListConnectionsFeed はつながり相手が参加しているアクティビティを
// 参加日時降順・カーソルベースで返す。
// 非公開アクティビティは閲覧者自身が見られるものだけが含まれる。
func (s *Service) ListConnectionsFeed(ctx context.Context, viewerID string, cursor time.Time, limit int) ([]repository.ActivityJoinedByPeer, error) {
	peerIDs, err := s.connector.PeerIDs(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("つながり相手の取得に失敗しました: %w", err)
	}
	if len(peerIDs) == 0 {
		return nil, nil
	}

	entries, err := s.activityRepo.ListJoinedByPeers(ctx, viewerID, peerIDs, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("つながりフィードの取得に失敗しました: %w", err)
	}

	joined, err := s.joinedSet(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	filtered := make([]repository.ActivityJoinedByPeer, 0, len(entries))
	for _, e := range entries {
		if visibility.Visible(&e.Activity, viewerID, joined) {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

// joinedSet は閲覧者が参加しているアクティビティIDの集合を返す。
func (s *Service) joinedSet(ctx context.Context, userID string) (map[string]bool, error) {
	ids, err := s.joinerRepo.ListActivityIDsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("参加アクティビティIDの取得に失敗しました: %w", err)
	}
	joined := make(map[string]bool, len(ids))
	for _, id := range ids {
		joined[id] = true
	}
	return joined, nil
}

// urlValidationError は詳細URLの検証エラーをAPIエラーへ変換する。
// SSRFポリシーによるブロックと形式不正のURLを別のエラーコードで区別する。
func urlValidationError(err error) *model.APIError {
	if errors.Is(err, security.ErrBlockedURL) {
		return model.NewSSRFBlockedError()
	}
	return model.NewInvalidURLError(err.Error())
}

// publishParticipation は参加・離脱イベントを発行する。発行失敗は警告ログのみで処理を継続する。
func (s *Service) publishParticipation(ctx context.Context, routingKey, activityID, userID string, paid bool) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishJSON(ctx, routingKey, ParticipationEvent{
		ActivityID: activityID,
		UserID:     userID,
		Paid:       paid,
	}); err != nil {
		slog.Warn("参加イベントの発行に失敗しました",
			"routing_key", routingKey,
			"activity_id", activityID,
			"error", err,
		)
	}
}
