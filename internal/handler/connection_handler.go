package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/tsudoi/internal/middleware"
	"github.com/hitoshi/tsudoi/internal/model"
)

// ConnectionServiceInterface はつながりハンドラーが必要とするサービスインターフェース。
type ConnectionServiceInterface interface {
	// Connect はメールアドレスで指定した相手とのつながりを作成する。
	Connect(ctx context.Context, selfID, targetEmail string) (*model.Connection, error)
	// Disconnect は相手とのつながりを両方向とも削除する。
	Disconnect(ctx context.Context, selfID, peerID string) error
	// ListEdges は自分のつながり一覧を返す。
	ListEdges(ctx context.Context, selfID string) ([]*model.Connection, error)
	// ListEdgesWithMutualStatus は指定ユーザーのつながり一覧を閲覧者視点の注釈付きで返す。
	ListEdgesWithMutualStatus(ctx context.Context, subjectID, viewerID string) ([]model.ConnectionWithStatus, error)
}

// ConnectionHandler はつながり管理のHTTPハンドラー。
type ConnectionHandler struct {
	service ConnectionServiceInterface
}

// NewConnectionHandler はConnectionHandlerを生成する。
func NewConnectionHandler(service ConnectionServiceInterface) *ConnectionHandler {
	return &ConnectionHandler{
		service: service,
	}
}

// connectRequest はつながり作成リクエストのボディ。
type connectRequest struct {
	Email string `json:"email"`
}

// connectionResponse はつながり1件のAPIレスポンス。
type connectionResponse struct {
	PeerUserID   string    `json:"peer_user_id"`
	PeerEmail    string    `json:"peer_email"`
	PeerName     string    `json:"peer_name"`
	ConnectedAt  time.Time `json:"connected_at"`
	Inconsistent bool      `json:"inconsistent,omitempty"`
}

// connectionWithStatusResponse は閲覧者視点の注釈付きつながりのAPIレスポンス。
type connectionWithStatusResponse struct {
	connectionResponse
	IsMutual bool `json:"is_mutual"`
	IsSelf   bool `json:"is_self"`
}

// Connect はつながりの作成を処理する。
// POST /api/connections
func (h *ConnectionHandler) Connect(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorizedResponse(w)
		return
	}

	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestResponse(w)
		return
	}

	if req.Email == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "メールアドレスが空です。",
			Category: "validation",
			Action:   "つなげたい相手のメールアドレスを指定してください。",
		})
		return
	}

	edge, err := h.service.Connect(r.Context(), userID, req.Email)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toConnectionResponse(edge))
}

// Disconnect はつながりの解除を処理する。
// DELETE /api/connections/{peerID}
func (h *ConnectionHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorizedResponse(w)
		return
	}

	peerID := chi.URLParam(r, "peerID")

	if err := h.service.Disconnect(r.Context(), userID, peerID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListConnections は自分のつながり一覧を返す。
// GET /api/connections
func (h *ConnectionHandler) ListConnections(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorizedResponse(w)
		return
	}

	edges, err := h.service.ListEdges(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]connectionResponse, len(edges))
	for i, edge := range edges {
		results[i] = toConnectionResponse(edge)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// ListUserConnections は指定ユーザーのつながり一覧を閲覧者視点の注釈付きで返す。
// GET /api/users/{id}/connections
func (h *ConnectionHandler) ListUserConnections(w http.ResponseWriter, r *http.Request) {
	viewerID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorizedResponse(w)
		return
	}

	subjectID := chi.URLParam(r, "id")

	edges, err := h.service.ListEdgesWithMutualStatus(r.Context(), subjectID, viewerID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]connectionWithStatusResponse, len(edges))
	for i, edge := range edges {
		results[i] = connectionWithStatusResponse{
			connectionResponse: toConnectionResponse(&edge.Connection),
			IsMutual:           edge.IsMutual,
			IsSelf:             edge.IsSelf,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// toConnectionResponse はmodel.ConnectionからAPIレスポンスに変換する。
func toConnectionResponse(edge *model.Connection) connectionResponse {
	return connectionResponse{
		PeerUserID:   edge.PeerUserID,
		PeerEmail:    edge.PeerEmail,
		PeerName:     edge.PeerName,
		ConnectedAt:  edge.ConnectedAt,
		Inconsistent: edge.Inconsistent,
	}
}
