// Package auth はOAuth認証フローとセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/tsudoi/internal/model"
	"github.com/hitoshi/tsudoi/internal/repository"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Provider       string // "google", "github" 等
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
// 将来的に複数IdP（Google, GitHub等）に対応するための抽象化。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		config:      config,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 未登録ユーザーはusersとidentitiesを同一トランザクションで自動作成する。
// 登録済みユーザーはidentitiesで特定し、プロバイダー側でプロフィールが
// 変わっていればusersの表示名とメールアドレスを追従させてからログインする。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("認可コードの交換に失敗しました: %w", err)
	}

	userID, err := s.ensureUser(ctx, userInfo)
	if err != nil {
		return nil, err
	}

	session, err := s.issueSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("セッションの発行に失敗しました: %w", err)
	}

	return session, nil
}

// ensureUser はOAuthユーザー情報に対応するユーザーを特定または作成し、IDを返す。
func (s *Service) ensureUser(ctx context.Context, userInfo *OAuthUserInfo) (string, error) {
	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, userInfo.Provider, userInfo.ProviderUserID)
	if err != nil {
		return "", fmt.Errorf("identityの検索に失敗しました: %w", err)
	}

	if identity != nil {
		if err := s.refreshProfile(ctx, identity.UserID, userInfo); err != nil {
			return "", err
		}
		slog.Info("既存ユーザーがログインしました",
			slog.String("user_id", identity.UserID),
			slog.String("provider", userInfo.Provider),
		)
		return identity.UserID, nil
	}

	// 同じメールアドレスの既存ユーザーがいれば、新しいidentityの紐付けとして扱う。
	existing, err := s.userRepo.FindByEmail(ctx, userInfo.Email)
	if err != nil {
		return "", fmt.Errorf("ユーザーの検索に失敗しました: %w", err)
	}
	if existing != nil {
		ident := &model.Identity{
			ID:             uuid.New().String(),
			UserID:         existing.ID,
			Provider:       userInfo.Provider,
			ProviderUserID: userInfo.ProviderUserID,
			CreatedAt:      time.Now(),
		}
		if err := s.identRepo.Create(ctx, ident); err != nil {
			return "", fmt.Errorf("identityの紐付けに失敗しました: %w", err)
		}
		if err := s.refreshProfile(ctx, existing.ID, userInfo); err != nil {
			return "", err
		}
		slog.Info("既存ユーザーに新しいidentityを紐付けました",
			slog.String("user_id", existing.ID),
			slog.String("provider", userInfo.Provider),
		)
		return existing.ID, nil
	}

	now := time.Now()
	user := &model.User{
		ID:        uuid.New().String(),
		Email:     userInfo.Email,
		Name:      userInfo.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	ident := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		Provider:       userInfo.Provider,
		ProviderUserID: userInfo.ProviderUserID,
		CreatedAt:      now,
	}

	if err := s.userRepo.CreateWithIdentity(ctx, user, ident); err != nil {
		return "", fmt.Errorf("ユーザーとidentityの作成に失敗しました: %w", err)
	}

	slog.Info("新規ユーザーを登録しました",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
		slog.String("provider", userInfo.Provider),
	)
	return user.ID, nil
}

// refreshProfile はプロバイダー側のプロフィール変更をusersへ反映する。
// つながりや参加者の表示スナップショットは次回の書き込み時に新しい値を拾う。
// 反映失敗はログインを妨げない（警告ログのみ）。
func (s *Service) refreshProfile(ctx context.Context, userID string, userInfo *OAuthUserInfo) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return fmt.Errorf("identityに対応するユーザーが存在しません: %s", userID)
	}

	if !user.ProfileDiffers(userInfo.Email, userInfo.Name) {
		return nil
	}

	if err := s.userRepo.UpdateProfile(ctx, userID, userInfo.Email, userInfo.Name); err != nil {
		slog.Warn("プロフィールの追従更新に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	slog.Info("プロフィールを更新しました", slog.String("user_id", userID))
	return nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("セッションIDが指定されていません")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}

	slog.Info("ログアウトしました", slog.String("session_id", sessionID))
	return nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("セッションIDが指定されていません")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("セッションの検索に失敗しました: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("セッションが存在しないか期限切れです")
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("ユーザーが存在しません")
	}

	return user, nil
}

// issueSession はセッションを作成し永続化する。
func (s *Service) issueSession(ctx context.Context, userID string) (*model.Session, error) {
	token, err := newSessionToken()
	if err != nil {
		return nil, fmt.Errorf("セッションIDの生成に失敗しました: %w", err)
	}

	now := time.Now()
	session := &model.Session{
		ID:        token,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("セッションの保存に失敗しました: %w", err)
	}

	return session, nil
}

// newSessionToken は暗号的に安全なセッションIDを生成する。
func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
