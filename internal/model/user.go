// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// EmailとNameはIdP側のプロフィールをログインのたびに追従した値。
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProfileDiffers はIdPから取得したプロフィールと差分があるかを返す。
func (u *User) ProfileDiffers(email, name string) bool {
	return u.Email != email || u.Name != name
}

// ProviderGoogle はGoogle OAuthを示すプロバイダー識別子。
const ProviderGoogle = "google"

// Identity は外部IdPとの紐付け情報を表す。
// 1ユーザーが複数のIdP（Google, GitHub等）を持てる構造。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
// 発行と失効はauthサービスが担い、期限切れ行はワーカーが回収する。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
