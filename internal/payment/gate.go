package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/tsudoi/internal/model"
	"github.com/hitoshi/tsudoi/internal/repository"
)

// JoinFinalizer は決済確定後の参加処理のインターフェース。
// テスタビリティのためactivity.Serviceを抽象化する。
type JoinFinalizer interface {
	FinalizePaidJoin(ctx context.Context, activityID, userID, paymentID string, amount int64, paidAt time.Time) error
}

// ActivityFinder はアクティビティ取得のインターフェース。
type ActivityFinder interface {
	FindByID(ctx context.Context, id string) (*model.Activity, error)
}

// EventPublisher はドメインイベントの発行インターフェース。
type EventPublisher interface {
	PublishJSON(ctx context.Context, routingKey string, payload interface{}) error
}

// EventPaymentCompleted は決済確定イベントのルーティングキー。
const EventPaymentCompleted = "payment.completed"

// PaymentEvent は決済確定イベントのペイロード。
type PaymentEvent struct {
	OrderID    string `json:"order_id"`
	ActivityID string `json:"activity_id"`
	UserID     string `json:"user_id"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	PaymentID  string `json:"payment_id"`
}

// Gate は有料アクティビティ参加の決済ゲート。
// 注文は created → completed / cancelled の一方向にだけ遷移する。
// 注文の確定を先に永続化し、アクティビティ側の反映はその後に行う。
// 反映が途中で失敗しても、完了済み注文から回復スイープが再導出できる。
type Gate struct {
	orderRepo  repository.OrderRepository
	activities ActivityFinder
	finalizer  JoinFinalizer
	processor  ProcessorClient
	verifier   *SignatureVerifier
	events     EventPublisher // 任意。nilの場合はイベントを発行しない。
}

// NewGate はGateの新しいインスタンスを生成する。
func NewGate(
	orderRepo repository.OrderRepository,
	activities ActivityFinder,
	finalizer JoinFinalizer,
	processor ProcessorClient,
	verifier *SignatureVerifier,
	events EventPublisher,
) *Gate {
	return &Gate{
		orderRepo:  orderRepo,
		activities: activities,
		finalizer:  finalizer,
		processor:  processor,
		verifier:   verifier,
		events:     events,
	}
}

// Begin は有料アクティビティ参加のための注文を作成し、チェックアウトセッションを返す。
// 金額と通貨は注文作成時点のアクティビティのスナップショットで、確定時に再読み込みしない
// （チェックアウト中の価格変更の影響を受けない）。
// 同じ(アクティビティ, ユーザー)の未確定注文が既にある場合はそれを再利用する（冪等）。
func (g *Gate) Begin(ctx context.Context, activityID, userID string) (*model.PaymentOrder, *model.CheckoutSession, error) {
	activity, err := g.activities.FindByID(ctx, activityID)
	if err != nil {
		return nil, nil, fmt.Errorf("アクティビティの取得に失敗しました: %w", err)
	}
	if activity == nil {
		return nil, nil, model.NewActivityNotFoundError(activityID)
	}
	if !activity.IsPaid {
		return nil, nil, model.NewPaymentNotRequiredError()
	}
	if activity.OwnerUserID == userID {
		// 主催者は支払い不要
		return nil, nil, model.NewPaymentNotRequiredError()
	}

	existing, err := g.orderRepo.FindCreatedByActivityAndUser(ctx, activityID, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("既存注文の確認に失敗しました: %w", err)
	}
	if existing != nil {
		session, err := g.processor.CreateCheckoutSession(ctx, existing)
		if err != nil {
			return nil, nil, fmt.Errorf("チェックアウトセッションの作成に失敗しました: %w", err)
		}
		return existing, session, nil
	}

	now := time.Now().UTC()
	order := &model.PaymentOrder{
		ID:         uuid.New().String(),
		ActivityID: activityID,
		UserID:     userID,
		Amount:     activity.Cost,
		Currency:   activity.Currency,
		Status:     model.OrderStatusCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := g.orderRepo.Create(ctx, order); err != nil {
		return nil, nil, fmt.Errorf("注文の作成に失敗しました: %w", err)
	}

	session, err := g.processor.CreateCheckoutSession(ctx, order)
	if err != nil {
		return nil, nil, fmt.Errorf("チェックアウトセッションの作成に失敗しました: %w", err)
	}

	return order, session, nil
}

// Confirm は決済プロバイダからのコールバックを処理し、注文を確定する。
// 署名の不一致と存在しない注文はどちらもVerificationFailedとして扱う。
// 注文の確定を先に永続化してから参加処理を行う。確定済み注文への同じ決済IDでの
// 再確認は参加処理を再導出した上で成功を返す（コールバック再送に対して安全）。
func (g *Gate) Confirm(ctx context.Context, orderID, paymentID, signature string) error {
	if !g.verifier.Verify(orderID, paymentID, signature) {
		return model.NewVerificationFailedError()
	}

	order, err := g.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("注文の取得に失敗しました: %w", err)
	}
	if order == nil {
		return model.NewVerificationFailedError()
	}

	now := time.Now().UTC()

	transitioned, err := g.orderRepo.Complete(ctx, orderID, paymentID, now)
	if err != nil {
		return fmt.Errorf("注文の確定に失敗しました: %w", err)
	}

	if !transitioned {
		// created以外からの確定要求。確定済みかつ同じ決済IDなら再送として扱う。
		current, err := g.orderRepo.FindByID(ctx, orderID)
		if err != nil {
			return fmt.Errorf("注文の再取得に失敗しました: %w", err)
		}
		if current == nil || current.Status != model.OrderStatusCompleted || current.PaymentID != paymentID {
			return model.NewVerificationFailedError()
		}
		// 参加処理の再導出。既に反映済みなら何も起きない。
		paidAt := now
		if current.CompletedAt != nil {
			paidAt = *current.CompletedAt
		}
		return g.finalize(ctx, current, paymentID, paidAt)
	}

	if g.events != nil {
		if err := g.events.PublishJSON(ctx, EventPaymentCompleted, PaymentEvent{
			OrderID:    order.ID,
			ActivityID: order.ActivityID,
			UserID:     order.UserID,
			Amount:     order.Amount,
			Currency:   order.Currency,
			PaymentID:  paymentID,
		}); err != nil {
			slog.Warn("決済確定イベントの発行に失敗しました", "order_id", order.ID, "error", err)
		}
	}

	return g.finalize(ctx, order, paymentID, now)
}

// finalize は確定済み注文をアクティビティ側に反映する。
// ここで失敗してもコールバックの再送か回復スイープが再実行する。
func (g *Gate) finalize(ctx context.Context, order *model.PaymentOrder, paymentID string, paidAt time.Time) error {
	if err := g.finalizer.FinalizePaidJoin(ctx, order.ActivityID, order.UserID, paymentID, order.Amount, paidAt); err != nil {
		return fmt.Errorf("確定済み注文の反映に失敗しました: %w", err)
	}
	return nil
}

// Cancel はユーザーによる注文のキャンセルを処理する。
// 有料分岐のjoinは何も書き込まないため、取り消すべきアクティビティ側の状態は存在しない。
// キャンセル済み注文の再キャンセルは成功扱い。確定済み注文はキャンセルできない。
func (g *Gate) Cancel(ctx context.Context, orderID, userID string) error {
	order, err := g.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("注文の取得に失敗しました: %w", err)
	}
	if order == nil {
		return model.NewOrderNotFoundError(orderID)
	}
	if order.UserID != userID {
		return model.NewPermissionDeniedError()
	}

	transitioned, err := g.orderRepo.Cancel(ctx, orderID)
	if err != nil {
		return fmt.Errorf("注文のキャンセルに失敗しました: %w", err)
	}
	if !transitioned {
		current, err := g.orderRepo.FindByID(ctx, orderID)
		if err != nil {
			return fmt.Errorf("注文の再取得に失敗しました: %w", err)
		}
		if current != nil && current.Status == model.OrderStatusCancelled {
			return nil
		}
		return model.NewOrderCompletedError(orderID)
	}

	return nil
}
