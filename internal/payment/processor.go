package payment

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/hitoshi/tsudoi/internal/model"
)

// ProcessorClient は外部決済プロバイダとの連携インターフェース。
// プロバイダはチェックアウト成功時に {payment_id, order_id, signature} を
// コールバックで通知し、本体はそのペイロードだけを消費する。
type ProcessorClient interface {
	// CreateCheckoutSession は注文に対するチェックアウトセッションを生成する。
	CreateCheckoutSession(ctx context.Context, order *model.PaymentOrder) (*model.CheckoutSession, error)
}

// HostedCheckout はホスト型チェックアウトのProcessorClient実装。
// セッションの実体はプロバイダ側にあり、ここでは遷移先URLと公開キーIDを組み立てる。
type HostedCheckout struct {
	endpoint string
	keyID    string
}

// NewHostedCheckout はHostedCheckoutを生成する。
// endpointは決済プロバイダのチェックアウトのベースURL、keyIDは公開キーID。
func NewHostedCheckout(endpoint, keyID string) *HostedCheckout {
	return &HostedCheckout{
		endpoint: endpoint,
		keyID:    keyID,
	}
}

// CreateCheckoutSession は注文のスナップショットからチェックアウトセッションを組み立てる。
func (c *HostedCheckout) CreateCheckoutSession(ctx context.Context, order *model.PaymentOrder) (*model.CheckoutSession, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("決済エンドポイントの解析に失敗しました: %w", err)
	}
	u = u.JoinPath("checkout")

	q := u.Query()
	q.Set("order_id", order.ID)
	q.Set("key", c.keyID)
	q.Set("amount", strconv.FormatInt(order.Amount, 10))
	q.Set("currency", order.Currency)
	u.RawQuery = q.Encode()

	return &model.CheckoutSession{
		OrderID:     order.ID,
		KeyID:       c.keyID,
		Amount:      order.Amount,
		Currency:    order.Currency,
		CheckoutURL: u.String(),
	}, nil
}

// compile-time interface check
var _ ProcessorClient = (*HostedCheckout)(nil)
