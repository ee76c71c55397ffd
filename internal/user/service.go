// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/tsudoi/internal/model"
	"github.com/hitoshi/tsudoi/internal/repository"
)

// JoinerDeleter は参加者行の一括削除インターフェース。
type JoinerDeleter interface {
	DeleteByUserID(ctx context.Context, userID string) error
}

// ConnectionDeleter はつながりエッジの一括削除インターフェース。
type ConnectionDeleter interface {
	DeleteByUserID(ctx context.Context, userID string) error
}

// OrderDeleter は決済注文の一括削除インターフェース。
type OrderDeleter interface {
	DeleteByUserID(ctx context.Context, userID string) error
}

// ActivityDeleter は作成アクティビティの一括削除インターフェース。
type ActivityDeleter interface {
	DeleteByOwner(ctx context.Context, ownerUserID string) error
}

// Service はユーザー管理のサービス層。
// 退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo        repository.UserRepository
	sessionRepo     repository.SessionRepository
	joinerDeleter   JoinerDeleter
	connDeleter     ConnectionDeleter
	orderDeleter    OrderDeleter
	activityDeleter ActivityDeleter
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	joinerDeleter JoinerDeleter,
	connDeleter ConnectionDeleter,
	orderDeleter OrderDeleter,
	activityDeleter ActivityDeleter,
) *Service {
	return &Service{
		userRepo:        userRepo,
		sessionRepo:     sessionRepo,
		joinerDeleter:   joinerDeleter,
		connDeleter:     connDeleter,
		orderDeleter:    orderDeleter,
		activityDeleter: activityDeleter,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: joiners → connections → orders → 作成アクティビティ → sessions → user
// （+ CASCADE: identities、作成アクティビティの参加者行と注文）
// 本人が参加していた他人のアクティビティは残り、作成したアクティビティは参加者ごと消える。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	// ユーザー存在確認
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	// 1. 他人のアクティビティへの参加者行を削除
	if s.joinerDeleter != nil {
		if err := s.joinerDeleter.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("参加者行の削除に失敗しました: %w", err)
		}
	}

	// 2. つながりエッジを両方向とも削除
	if s.connDeleter != nil {
		if err := s.connDeleter.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("つながりの削除に失敗しました: %w", err)
		}
	}

	// 3. 決済注文を削除
	if s.orderDeleter != nil {
		if err := s.orderDeleter.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("注文の削除に失敗しました: %w", err)
		}
	}

	// 4. 作成したアクティビティを削除（参加者行と注文はCASCADE削除）
	if s.activityDeleter != nil {
		if err := s.activityDeleter.DeleteByOwner(ctx, userID); err != nil {
			return fmt.Errorf("作成アクティビティの削除に失敗しました: %w", err)
		}
	}

	// 5. セッションを削除
	if s.sessionRepo != nil {
		if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	// 6. ユーザーを削除（identitiesはCASCADE削除）
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)

	return nil
}
