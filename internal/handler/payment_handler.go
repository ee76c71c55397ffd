package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/tsudoi/internal/middleware"
	"github.com/hitoshi/tsudoi/internal/model"
)

// PaymentGateInterface は決済ハンドラーが必要とするゲートインターフェース。
type PaymentGateInterface interface {
	// Begin は有料アクティビティへの決済注文を作成する。
	Begin(ctx context.Context, activityID, userID string) (*model.PaymentOrder, *model.CheckoutSession, error)
	// Confirm はプロバイダからの決済完了通知を検証し、参加を確定する。
	Confirm(ctx context.Context, orderID, paymentID, signature string) error
	// Cancel は未決済の注文をキャンセルする。
	Cancel(ctx context.Context, orderID, userID string) error
}

// PaymentHandler は決済フローのHTTPハンドラー。
type PaymentHandler struct {
	gate    PaymentGateInterface
	metrics MetricsRecorder // 任意。nilの場合は記録しない。
}

// NewPaymentHandler はPaymentHandlerを生成する。
func NewPaymentHandler(gate PaymentGateInterface, metrics MetricsRecorder) *PaymentHandler {
	return &PaymentHandler{
		gate:    gate,
		metrics: metrics,
	}
}

// orderResponse は注文作成時のAPIレスポンス。
// クライアントはcheckout_urlへ遷移して決済を完了する。
type orderResponse struct {
	OrderID     string    `json:"order_id"`
	ActivityID  string    `json:"activity_id"`
	Status      string    `json:"status"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	CheckoutURL string    `json:"checkout_url"`
	KeyID       string    `json:"key_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// paymentCallbackRequest は決済プロバイダからの完了通知のボディ。
type paymentCallbackRequest struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

// BeginOrder は有料アクティビティへの決済注文作成を処理する。
// 同一ユーザー・同一アクティビティの未決済注文があれば再利用する。
// POST /api/activities/{id}/orders
func (h *PaymentHandler) BeginOrder(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorizedResponse(w)
		return
	}

	activityID := chi.URLParam(r, "id")

	order, session, err := h.gate.Begin(r.Context(), activityID, userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(orderResponse{
		OrderID:     order.ID,
		ActivityID:  order.ActivityID,
		Status:      string(order.Status),
		Amount:      session.Amount,
		Currency:    session.Currency,
		CheckoutURL: session.CheckoutURL,
		KeyID:       session.KeyID,
		CreatedAt:   order.CreatedAt,
	})
}

// CancelOrder は未決済注文のキャンセルを処理する。
// POST /api/orders/{id}/cancel
func (h *PaymentHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorizedResponse(w)
		return
	}

	orderID := chi.URLParam(r, "id")

	if err := h.gate.Cancel(r.Context(), orderID, userID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// PaymentCallback は決済プロバイダからの完了通知を処理する。
// 署名で認証するためセッション認証の外に置く。通知の再送は成功として扱う。
// POST /payments/callback
func (h *PaymentHandler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req paymentCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestResponse(w)
		return
	}

	if err := h.gate.Confirm(r.Context(), req.OrderID, req.PaymentID, req.Signature); err != nil {
		if h.metrics != nil {
			h.metrics.RecordConfirmFailure(confirmFailureReason(err))
		}
		handleServiceError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordConfirmSuccess()
		h.metrics.RecordJoin(true)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// confirmFailureReason はメトリクスのラベルに使う失敗理由を返す。
func confirmFailureReason(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return "internal"
}
