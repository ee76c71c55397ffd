// Package model はドメインモデルを定義する。
package model

import "time"

// OrderStatus は決済注文の状態を表す。
type OrderStatus string

const (
	// OrderStatusCreated は注文が作成され決済待ちの状態。
	OrderStatusCreated OrderStatus = "created"
	// OrderStatusCompleted は決済が検証され確定した状態。終端状態。
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled は決済前にキャンセルされた状態。終端状態。
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentOrder は有料アクティビティ参加のための決済注文を表す。
// 金額と通貨は注文作成時点のアクティビティのスナップショット。
// 1回のチェックアウト試行の冪等性の基準点になる。
type PaymentOrder struct {
	ID          string
	ActivityID  string
	UserID      string
	Amount      int64
	Currency    string
	Status      OrderStatus
	PaymentID   string // 決済プロバイダ側の決済ID。確定時に記録される。
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CheckoutSession はクライアントが決済プロバイダのチェックアウトを開始するための情報。
type CheckoutSession struct {
	OrderID     string
	KeyID       string // プロバイダの公開キーID
	Amount      int64
	Currency    string
	CheckoutURL string // プロバイダがホストするチェックアウトページへの遷移先
}
