// Package model はドメインモデルを定義する。
package model

import "time"

// Activity はユーザーが企画するアクティビティ（集まり）を表す。
type Activity struct {
	ID          string
	Name        string // サニタイズ済み
	Location    string
	StartsAt    time.Time
	Description string // サニタイズ済み
	DetailsURL  string // 任意の詳細ページURL
	LinkTitle   string // 詳細ページのタイトルスナップショット（ワーカーが取得）
	OwnerUserID string
	CreatedBy   string // 作成時点の表示名スナップショット
	IsPrivate   bool
	IsPaid      bool
	Cost        int64  // 最小通貨単位（円なら1円、セント通貨なら1セント）
	Currency    string // ISO 4217
	// 決済集計。確定した有料参加ごとにアトミックに加算される。
	TotalCollected   int64
	ParticipantCount int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PaymentStatus は参加者の決済状態を表す。無料参加は空文字列。
type PaymentStatus string

const (
	// PaymentStatusPending は決済注文が作成され未確定の状態。
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusCompleted は決済が確定した状態。
	PaymentStatusCompleted PaymentStatus = "completed"
)

// Joiner はアクティビティの参加者1名を表す。
// (ActivityID, UserID) ごとに1行で、行単位の追加・削除だけを行う。
// JoinedAtは初回参加時に確定し、以後の再参加でも変更されない。
type Joiner struct {
	ActivityID    string
	UserID        string
	Email         string // 参加時点のスナップショット
	Name          string // 参加時点のスナップショット
	JoinedAt      time.Time
	PaymentStatus PaymentStatus
	PaymentID     string
	PaidAmount    int64
	PaidAt        *time.Time
}

// ActivityWithJoiners はアクティビティと参加者一覧を結合したモデル。
type ActivityWithJoiners struct {
	Activity
	Joiners []Joiner
}

// HasJoiner は指定ユーザーが参加者に含まれるかを返す。
func (a *ActivityWithJoiners) HasJoiner(userID string) bool {
	for _, j := range a.Joiners {
		if j.UserID == userID {
			return true
		}
	}
	return false
}

// JoinStatus は参加操作の結果種別を表す。
type JoinStatus string

const (
	// JoinStatusJoined は参加が確定した状態。
	JoinStatusJoined JoinStatus = "joined"
	// JoinStatusPaymentRequired は参加に決済の完了が必要な状態。
	// この時点でアクティビティ側への書き込みは一切行われていない。
	JoinStatusPaymentRequired JoinStatus = "payment_required"
)

// JoinResult は参加操作の結果を表す。
// 決済が必要な場合は失敗ではなく、注文作成に必要な金額情報を返す。
type JoinResult struct {
	Status   JoinStatus
	Activity *Activity
	Amount   int64  // StatusがPaymentRequiredの場合の請求額
	Currency string // 同上の通貨
}

// ActivityPatch はアクティビティの部分更新を表す。nilのフィールドは変更しない。
// 参加者集合と決済集計はこの経路では変更できない。
type ActivityPatch struct {
	Name        *string
	Location    *string
	StartsAt    *time.Time
	Description *string
	DetailsURL  *string
	IsPrivate   *bool
	IsPaid      *bool
	Cost        *int64
	Currency    *string
}
