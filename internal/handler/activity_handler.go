package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/tsudoi/internal/activity"
	"github.com/hitoshi/tsudoi/internal/middleware"
	"github.com/hitoshi/tsudoi/internal/model"
	"github.com/hitoshi/tsudoi/internal/repository"
)

// ActivityServiceInterface はアクティビティハンドラーが必要とするサービスインターフェース。
type ActivityServiceInterface interface {
	// Create はアクティビティを作成し、作成者を参加者として登録する。
	Create(ctx context.Context, ownerID string, in activity.CreateInput) (*model.Activity, error)
	// Get はアクティビティを参加者一覧付きで取得する。
	Get(ctx context.Context, activityID string) (*model.ActivityWithJoiners, error)
	// Update はアクティビティの属性を部分更新する。作成者のみ実行できる。
	Update(ctx context.Context, activityID, callerID string, patch model.ActivityPatch) (*model.Activity, error)
	// Delete はアクティビティを削除する。作成者のみ実行できる。
	Delete(ctx context.Context, activityID, callerID string) error
	// Join はアクティビティへの参加を処理する。有料の場合は決済要求を返す。
	Join(ctx context.Context, activityID, userID string, connectToOwner bool) (*model.JoinResult, error)
	// Leave はアクティビティからの離脱を処理する。
	Leave(ctx context.Context, activityID, userID string) error
	// ListVisible は閲覧者に可視なアクティビティ一覧を返す。
	ListVisible(ctx context.Context, viewerID string, cursor time.Time, limit int) ([]*model.Activity, error)
	// ListMine は自分が作成したアクティビティ一覧を返す。
	ListMine(ctx context.Context, ownerID string) ([]*model.Activity, error)
	// ListJoined は自分が参加しているアクティビティ一覧を返す。
	ListJoined(ctx context.Context, userID string) ([]*model.Activity, error)
	// ListConnectionsFeed はつながり相手が参加しているアクティビティのフィードを返す。
	ListConnectionsFeed(ctx context.Context, viewerID string, cursor time.Time, limit int) ([]repository.ActivityJoinedByPeer, error)
}

// MetricsRecorder はハンドラーが記録するメトリクスのインターフェース。
type MetricsRecorder interface {
	RecordJoin(paid bool)
	RecordConfirmSuccess()
	RecordConfirmFailure(reason string)
}

// ActivityHandler はアクティビティ管理のHTTPハンドラー。
type ActivityHandler struct {
	service ActivityServiceInterface
	metrics MetricsRecorder // 任意。nilの場合は記録しない。
}

// NewActivityHandler はActivityHandlerを生成する。
func NewActivityHandler(service ActivityServiceInterface, metrics MetricsRecorder) *ActivityHandler {
	return &ActivityHandler{
		service: service,
		metrics: metrics,
	}
}

// createActivityRequest はアクティビティ作成リクエストのボディ。
type createActivityRequest struct {
	Name        string    `json:"name"`
	Location    string    `json:"location"`
	StartsAt    time.Time `json:"starts_at"`
	Description string    `json:"description"`
	DetailsURL  string    `json:"details_url"`
	IsPrivate   bool      `json:"is_private"`
	IsPaid      bool      `json:"is_paid"`
	Cost        int64     `json:"cost"`
	Currency    string    `json:"currency"`
}

// updateActivityRequest はアクティビティ更新リクエストのボディ。
// 指定されたフィールドだけを更新する。
type updateActivityRequest struct {
	Name        *string    `json:"name"`
	Location    *string    `json:"location"`
	StartsAt    *time.Time `json:"starts_at"`
	Description *string    `json:"description"`
	DetailsURL  *string    `json:"details_url"`
	IsPrivate   *bool      `json:"is_private"`
	IsPaid      *bool      `json:"is_paid"`
	Cost        *int64     `json:"cost"`
	Currency    *string    `json:"currency"`
}

// joinActivityRequest は参加リクエストのボディ。
type joinActivityRequest struct {
	// ConnectToOwner がtrueの場合、参加と同時に主催者とのつながりを作成する。
	ConnectToOwner bool `json:"connect_to_owner"`
}

// activityResponse はアクティビティ1件のAPIレスポンス。
type activityResponse struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Location         string    `json:"location"`
	StartsAt         time.Time `json:"starts_at"`
	Description      string    `json:"description"`
	DetailsURL       string    `json:"details_url,omitempty"`
	LinkTitle        string    `json:"link_title,omitempty"`
	OwnerUserID      string    `json:"owner_user_id"`
	CreatedBy        string    `json:"created_by"`
	IsPrivate        bool      `json:"is_private"`
	IsPaid           bool      `json:"is_paid"`
	Cost             int64     `json:"cost,omitempty"`
	Currency         string    `json:"currency,omitempty"`
	TotalCollected   int64     `json:"total_collected"`
	ParticipantCount int       `json:"participant_count"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// joinerResponse は参加者1件のAPIレスポンス。
type joinerResponse struct {
	UserID        string     `json:"user_id"`
	Email         string     `json:"email"`
	Name          string     `json:"name"`
	JoinedAt      time.Time  `json:"joined_at"`
	PaymentStatus string     `json:"payment_status,omitempty"`
	PaidAmount    int64      `json:"paid_amount,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
}

// activityDetailResponse は参加者一覧付きアクティビティのAPIレスポンス。
type activityDetailResponse struct {
	activityResponse
	Joiners []joinerResponse `json:"joiners"`
	// Joined は閲覧者自身が参加済みであることを示す。
	Joined bool `json:"joined"`
}

// joinResultResponse は参加成功時のAPIレスポンス。
type joinResultResponse struct {
	Status   string           `json:"status"`
	Activity activityResponse `json:"activity"`
}

// paymentRequiredResponse は決済が必要な参加要求への402レスポンス。
// 統一エラーフォーマットに請求内容を加えたもの。
type paymentRequiredResponse struct {
	apiErrorResponse
	ActivityID string `json:"activity_id"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
}

// feedItemResponse はつながりフィード1件のAPIレスポンス。
type feedItemResponse struct {
	activityResponse
	PeerUserID   string    `json:"peer_user_id"`
	PeerName     string    `json:"peer_name"`
	PeerJoinedAt time.Time `json:"peer_joined_at"`
}

// CreateActivity はアクティビティの作成を処理する。
// POST /api/activities
func (h *ActivityHandler) CreateActivity(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorizedResponse(w)
		return
	}

	var req createActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestResponse(w)
		return
	}

	created, err := h.service.Create(r.Context(), userID, activity.CreateInput{
		Name:        req.Name,
		Location:    req.Location,
		StartsAt:    req.StartsAt,
		Description: req.Description,
		DetailsURL:  req.DetailsURL,
		IsPrivate:   req.IsPrivate,
		IsPaid:      req.IsPaid,
		Cost:        req.Cost,
		Currency:    req.Currency,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toActivityResponse(created))
}

// GetActivity はアクティビティ詳細を参加者一覧付きで返す。
// 直接IDを指定した取得は可視性フィルタの対象外（リンク共有されたケース）。
// GET /api/activities/{id}
func (h *ActivityHandler) GetActivity(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorizedResponse(w)
		return
	}

	activityID := chi.URLParam(r, "id")

	detail, err := h.service.Get(r.Context(), activityID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := activityDetailResponse{
		activityResponse: toActivityResponse(&detail.Activity),
		Joiners:          make([]joinerResponse, len(detail.Joiners)),
		Joined:           detail.HasJoiner(userID),
	}
	for i, j := range detail.Joiners {
		resp.Joiners[i] = toJoinerResponse(j)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// UpdateActivity はアクティビティの部分更新を処理する。
// PATCH /api/activities/{id}
func (h *ActivityHandler) UpdateActivity(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorizedResponse(w)
		return
	}

	activityID := chi.URLParam(r, "id")

	var req updateActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestResponse(w)
		return
	}

	updated, err := h.service.Update(r.Context(), activityID, userID, model.ActivityPatch{
		Name:        req.Name,
		Location:    req.Location,
		StartsAt:    req.StartsAt,
		Description: req.Description,
		DetailsURL:  req.DetailsURL,
		IsPrivate:   req.IsPrivate,
		IsPaid:      req.IsPaid,
		Cost:        req.Cost,
		Currency:    req.Currency,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toActivityResponse(updated))
}

// DeleteActivity はアクティビティの削除を処理する。
// DELETE /api/activities/{id}
func (h *ActivityHandler) DeleteActivity(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorizedResponse(w)
		return
	}

	activityID := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), activityID, userID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// JoinActivity はアクティビティへの参加を処理する。
// 有料アクティビティで決済が未完了の場合は402と請求内容を返し、状態は変更しない。
// POST /api/activities/{id}/join
func (h *ActivityHandler) JoinActivity(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorizedResponse(w)
		return
	}

	activityID := chi.URLParam(r, "id")

	// ボディは任意（省略時はつながり作成なし）
	var req joinActivityRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeInvalidRequestResponse(w)
			return
		}
	}

	result, err := h.service.Join(r.Context(), activityID, userID, req.ConnectToOwner)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if result.Status == model.JoinStatusPaymentRequired {
		paymentErr := model.NewPaymentRequiredError(activityID)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(paymentRequiredResponse{
			apiErrorResponse: apiErrorResponse{
				Code:     paymentErr.Code,
				Message:  paymentErr.Message,
				Category: paymentErr.Category,
				Action:   paymentErr.Action,
			},
			ActivityID: activityID,
			Amount:     result.Amount,
			Currency:   result.Currency,
		})
		return
	}

	if h.metrics != nil {
		h.metrics.RecordJoin(false)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(joinResultResponse{
		Status:   string(result.Status),
		Activity: toActivityResponse(result.Activity),
	})
}

// LeaveActivity はアクティビティからの離脱を処理する。
// POST /api/activities/{id}/leave
func (h *ActivityHandler) LeaveActivity(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorizedResponse(w)
		return
	}

	activityID := chi.URLParam(r, "id")

	if err := h.service.Leave(r.Context(), activityID, userID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListActivities は閲覧者に可視なアクティビティ一覧を返す。
// GET /api/activities?cursor=<RFC3339>&limit=<n>
func (h *ActivityHandler) ListActivities(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorizedResponse(w)
		return
	}

	cursor, limit := parsePageParams(r)

	activities, err := h.service.ListVisible(r.Context(), userID, cursor, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeActivityList(w, activities)
}

// ListMyActivities は自分が作成したアクティビティ一覧を返す。
// GET /api/activities/mine
func (h *ActivityHandler) ListMyActivities(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorizedResponse(w)
		return
	}

	activities, err := h.service.ListMine(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeActivityList(w, activities)
}

// ListJoinedActivities は自分が参加しているアクティビティ一覧を返す。
// GET /api/activities/joined
func (h *ActivityHandler) ListJoinedActivities(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorizedResponse(w)
		return
	}

	activities, err := h.service.ListJoined(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeActivityList(w, activities)
}

// ListConnectionsFeed はつながり相手が参加しているアクティビティのフィードを返す。
// GET /api/activities/feed?cursor=<RFC3339>&limit=<n>
func (h *ActivityHandler) ListConnectionsFeed(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorizedResponse(w)
		return
	}

	cursor, limit := parsePageParams(r)

	entries, err := h.service.ListConnectionsFeed(r.Context(), userID, cursor, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]feedItemResponse, len(entries))
	for i, e := range entries {
		results[i] = feedItemResponse{
			activityResponse: toActivityResponse(&e.Activity),
			PeerUserID:       e.PeerUserID,
			PeerName:         e.PeerName,
			PeerJoinedAt:     e.PeerJoinedAt,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// --- ヘルパー関数 ---

// parsePageParams はカーソルと件数のクエリパラメータを解析する。
// 不正な値はゼロ値として扱い、上限の適用はサービス層に任せる。
func parsePageParams(r *http.Request) (time.Time, int) {
	var cursor time.Time
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			cursor = t
		}
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	return cursor, limit
}

// writeActivityList はアクティビティ一覧のレスポンスを書き込む。
func writeActivityList(w http.ResponseWriter, activities []*model.Activity) {
	results := make([]activityResponse, len(activities))
	for i, a := range activities {
		results[i] = toActivityResponse(a)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// toActivityResponse はmodel.ActivityからAPIレスポンスに変換する。
func toActivityResponse(a *model.Activity) activityResponse {
	return activityResponse{
		ID:               a.ID,
		Name:             a.Name,
		Location:         a.Location,
		StartsAt:         a.StartsAt,
		Description:      a.Description,
		DetailsURL:       a.DetailsURL,
		LinkTitle:        a.LinkTitle,
		OwnerUserID:      a.OwnerUserID,
		CreatedBy:        a.CreatedBy,
		IsPrivate:        a.IsPrivate,
		IsPaid:           a.IsPaid,
		Cost:             a.Cost,
		Currency:         a.Currency,
		TotalCollected:   a.TotalCollected,
		ParticipantCount: a.ParticipantCount,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

// toJoinerResponse はmodel.JoinerからAPIレスポンスに変換する。
func toJoinerResponse(j model.Joiner) joinerResponse {
	return joinerResponse{
		UserID:        j.UserID,
		Email:         j.Email,
		Name:          j.Name,
		JoinedAt:      j.JoinedAt,
		PaymentStatus: string(j.PaymentStatus),
		PaidAmount:    j.PaidAmount,
		PaidAt:        j.PaidAt,
	}
}
