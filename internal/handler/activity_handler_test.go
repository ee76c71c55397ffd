package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/tsudoi/internal/activity"
	"github.com/hitoshi/tsudoi/internal/model"
	"github.com/hitoshi/tsudoi/internal/repository"
)

// --- モック定義 ---

// mockActivityService はActivityServiceInterfaceのモック実装。
type mockActivityService struct {
	createFn              func(ctx context.Context, ownerID string, in activity.CreateInput) (*model.Activity, error)
	getFn                 func(ctx context.Context, activityID string) (*model.ActivityWithJoiners, error)
	updateFn              func(ctx context.Context, activityID, callerID string, patch model.ActivityPatch) (*model.Activity, error)
	deleteFn              func(ctx context.Context, activityID, callerID string) error
	joinFn                func(ctx context.Context, activityID, userID string, connectToOwner bool) (*model.JoinResult, error)
	leaveFn               func(ctx context.Context, activityID, userID string) error
	listVisibleFn         func(ctx context.Context, viewerID string, cursor time.Time, limit int) ([]*model.Activity, error)
	listMineFn            func(ctx context.Context, ownerID string) ([]*model.Activity, error)
	listJoinedFn          func(ctx context.Context, userID string) ([]*model.Activity, error)
	listConnectionsFeedFn func(ctx context.Context, viewerID string, cursor time.Time, limit int) ([]repository.ActivityJoinedByPeer, error)
}

// compile-time interface check
var _ ActivityServiceInterface = (*mockActivityService)(nil)

func (m *mockActivityService) Create(ctx context.Context, ownerID string, in activity.CreateInput) (*model.Activity, error) {
	if m.createFn != nil {
		return m.createFn(ctx, ownerID, in)
	}
	return nil, nil
}

func (m *mockActivityService) Get(ctx context.Context, activityID string) (*model.ActivityWithJoiners, error) {
	if m.getFn != nil {
		return m.getFn(ctx, activityID)
	}
	return nil, nil
}

func (m *mockActivityService) Update(ctx context.Context, activityID, callerID string, patch model.ActivityPatch) (*model.Activity, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, activityID, callerID, patch)
	}
	return nil, nil
}

func (m *mockActivityService) Delete(ctx context.Context, activityID, callerID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, activityID, callerID)
	}
	return nil
}

func (m *mockActivityService) Join(ctx context.Context, activityID, userID string, connectToOwner bool) (*model.JoinResult, error) {
	if m.joinFn != nil {
		return m.joinFn(ctx, activityID, userID, connectToOwner)
	}
	return nil, nil
}

func (m *mockActivityService) Leave(ctx context.Context, activityID, userID string) error {
	if m.leaveFn != nil {
		return m.leaveFn(ctx, activityID, userID)
	}
	return nil
}

func (m *mockActivityService) ListVisible(ctx context.Context, viewerID string, cursor time.Time, limit int) ([]*model.Activity, error) {
	if m.listVisibleFn != nil {
		return m.listVisibleFn(ctx, viewerID, cursor, limit)
	}
	return nil, nil
}

func (m *mockActivityService) ListMine(ctx context.Context, ownerID string) ([]*model.Activity, error) {
	if m.listMineFn != nil {
		return m.listMineFn(ctx, ownerID)
	}
	return nil, nil
}

func (m *mockActivityService) ListJoined(ctx context.Context, userID string) ([]*model.Activity, error) {
	if m.listJoinedFn != nil {
		return m.listJoinedFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockActivityService) ListConnectionsFeed(ctx context.Context, viewerID string, cursor time.Time, limit int) ([]repository.ActivityJoinedByPeer, error) {
	if m.listConnectionsFeedFn != nil {
		return m.listConnectionsFeedFn(ctx, viewerID, cursor, limit)
	}
	return nil, nil
}

// mockMetricsRecorder はMetricsRecorderのモック実装。
type mockMetricsRecorder struct {
	joinCalls       []bool
	confirmSuccess  int
	confirmFailures []string
}

// compile-time interface check
var _ MetricsRecorder = (*mockMetricsRecorder)(nil)

func (m *mockMetricsRecorder) RecordJoin(paid bool) {
	m.joinCalls = append(m.joinCalls, paid)
}

func (m *mockMetricsRecorder) RecordConfirmSuccess() {
	m.confirmSuccess++
}

func (m *mockMetricsRecorder) RecordConfirmFailure(reason string) {
	m.confirmFailures = append(m.confirmFailures, reason)
}

// sampleActivity はテスト用のアクティビティを生成するヘルパー。
func sampleActivity(id, ownerID string) *model.Activity {
	return &model.Activity{
		ID:               id,
		Name:             "ボルダリング体験会",
		Location:         "渋谷クライミングジム",
		StartsAt:         time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		Description:      "初心者歓迎のボルダリング会です。",
		OwnerUserID:      ownerID,
		CreatedBy:        ownerID,
		ParticipantCount: 1,
		CreatedAt:        time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC),
		UpdatedAt:        time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC),
	}
}

// --- POST /api/activities テスト ---

func TestActivityHandler_CreateActivity_Success(t *testing.T) {
	svc := &mockActivityService{
		createFn: func(ctx context.Context, ownerID string, in activity.CreateInput) (*model.Activity, error) {
			if ownerID != "user-1" {
				t.Errorf("ownerID = %q, want %q", ownerID, "user-1")
			}
			if in.Name != "ボルダリング体験会" {
				t.Errorf("name = %q, want %q", in.Name, "ボルダリング体験会")
			}
			if !in.IsPaid {
				t.Error("is_paid should be true")
			}
			if in.Cost != 2500 {
				t.Errorf("cost = %d, want 2500", in.Cost)
			}
			a := sampleActivity("act-1", ownerID)
			a.IsPaid = true
			a.Cost = in.Cost
			a.Currency = in.Currency
			return a, nil
		},
	}
	h := NewActivityHandler(svc, nil)

	body := strings.NewReader(`{
		"name": "ボルダリング体験会",
		"location": "渋谷クライミングジム",
		"starts_at": "2026-08-01T10:00:00Z",
		"description": "初心者歓迎のボルダリング会です。",
		"is_paid": true,
		"cost": 2500,
		"currency": "jpy"
	}`)
	req := httptest.NewRequest(http.MethodPost, "/api/activities", body)
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.CreateActivity(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}

	var result activityResponse
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.ID != "act-1" {
		t.Errorf("id = %q, want %q", result.ID, "act-1")
	}
	if result.Cost != 2500 {
		t.Errorf("cost = %d, want 2500", result.Cost)
	}
}

func TestActivityHandler_CreateActivity_InvalidBody(t *testing.T) {
	h := NewActivityHandler(&mockActivityService{}, nil)

	body := strings.NewReader(`{invalid json`)
	req := httptest.NewRequest(http.MethodPost, "/api/activities", body)
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.CreateActivity(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestActivityHandler_CreateActivity_ValidationError(t *testing.T) {
	svc := &mockActivityService{
		createFn: func(ctx context.Context, ownerID string, in activity.CreateInput) (*model.Activity, error) {
			return nil, model.NewInvalidActivityError("名前が空です")
		},
	}
	h := NewActivityHandler(svc, nil)

	body := strings.NewReader(`{"name": ""}`)
	req := httptest.NewRequest(http.MethodPost, "/api/activities", body)
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.CreateActivity(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}

	errResp := parseAPIErrorResponse(t, w)
	if errResp["code"] != "INVALID_ACTIVITY" {
		t.Errorf("code = %q, want %q", errResp["code"], "INVALID_ACTIVITY")
	}
}

// --- GET /api/activities/{id} テスト ---

func TestActivityHandler_GetActivity_IncludesJoinersAndJoinedFlag(t *testing.T) {
	svc := &mockActivityService{
		getFn: func(ctx context.Context, activityID string) (*model.ActivityWithJoiners, error) {
			return &model.ActivityWithJoiners{
				Activity: *sampleActivity("act-1", "owner-1"),
				Joiners: []model.Joiner{
					{ActivityID: "act-1", UserID: "owner-1", Name: "主催者", JoinedAt: time.Now()},
					{ActivityID: "act-1", UserID: "user-1", Name: "参加者", JoinedAt: time.Now()},
				},
			}, nil
		},
	}
	h := NewActivityHandler(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/activities/act-1", nil)
	req = withUserID(req, "user-1")
	req = withChiURLParam(req, "id", "act-1")
	w := httptest.NewRecorder()

	h.GetActivity(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var result activityDetailResponse
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(result.Joiners) != 2 {
		t.Errorf("len(joiners) = %d, want 2", len(result.Joiners))
	}
	if !result.Joined {
		t.Error("joined should be true for a viewer in the joiner list")
	}
}

func TestActivityHandler_GetActivity_ViewerNotJoined(t *testing.T) {
	svc := &mockActivityService{
		getFn: func(ctx context.Context, activityID string) (*model.ActivityWithJoiners, error) {
			return &model.ActivityWithJoiners{
				Activity: *sampleActivity("act-1", "owner-1"),
				Joiners: []model.Joiner{
					{ActivityID: "act-1", UserID: "owner-1", Name: "主催者", JoinedAt: time.Now()},
				},
			}, nil
		},
	}
	h := NewActivityHandler(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/activities/act-1", nil)
	req = withUserID(req, "user-9")
	req = withChiURLParam(req, "id", "act-1")
	w := httptest.NewRecorder()

	h.GetActivity(w, req)

	var result activityDetailResponse
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.Joined {
		t.Error("joined should be false for a viewer not in the joiner list")
	}
}

func TestActivityHandler_GetActivity_NotFound(t *testing.T) {
	svc := &mockActivityService{
		getFn: func(ctx context.Context, activityID string) (*model.ActivityWithJoiners, error) {
			return nil, model.NewActivityNotFoundError(activityID)
		},
	}
	h := NewActivityHandler(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/activities/ghost", nil)
	req = withUserID(req, "user-1")
	req = withChiURLParam(req, "id", "ghost")
	w := httptest.NewRecorder()

	h.GetActivity(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}

	errResp := parseAPIErrorResponse(t, w)
	if errResp["code"] != "ACTIVITY_NOT_FOUND" {
		t.Errorf("code = %q, want %q", errResp["code"], "ACTIVITY_NOT_FOUND")
	}
}

// --- PATCH /api/activities/{id} テスト ---

func TestActivityHandler_UpdateActivity_PartialPatch(t *testing.T) {
	svc := &mockActivityService{
		updateFn: func(ctx context.Context, activityID, callerID string, patch model.ActivityPatch) (*model.Activity, error) {
			if patch.Name == nil || *patch.Name != "新しい名前" {
				t.Errorf("patch.Name = %v, want 新しい名前", patch.Name)
			}
			if patch.Location != nil {
				t.Errorf("patch.Location = %v, want nil", patch.Location)
			}
			if patch.Cost != nil {
				t.Errorf("patch.Cost = %v, want nil", patch.Cost)
			}
			a := sampleActivity(activityID, callerID)
			a.Name = *patch.Name
			return a, nil
		},
	}
	h := NewActivityHandler(svc, nil)

	body := strings.NewReader(`{"name": "新しい名前"}`)
	req := httptest.NewRequest(http.MethodPatch, "/api/activities/act-1", body)
	req = withUserID(req, "user-1")
	req = withChiURLParam(req, "id", "act-1")
	w := httptest.NewRecorder()

	h.UpdateActivity(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var result activityResponse
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.Name != "新しい名前" {
		t.Errorf("name = %q, want %q", result.Name, "新しい名前")
	}
}

func TestActivityHandler_UpdateActivity_PermissionDenied(t *testing.T) {
	svc := &mockActivityService{
		updateFn: func(ctx context.Context, activityID, callerID string, patch model.ActivityPatch) (*model.Activity, error) {
			return nil, model.NewPermissionDeniedError()
		},
	}
	h := NewActivityHandler(svc, nil)

	body := strings.NewReader(`{"name": "乗っ取り"}`)
	req := httptest.NewRequest(http.MethodPatch, "/api/activities/act-1", body)
	req = withUserID(req, "user-9")
	req = withChiURLParam(req, "id", "act-1")
	w := httptest.NewRecorder()

	h.UpdateActivity(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}

// --- DELETE /api/activities/{id} テスト ---

func TestActivityHandler_DeleteActivity_Success(t *testing.T) {
	deleteCalled := false
	svc := &mockActivityService{
		deleteFn: func(ctx context.Context, activityID, callerID string) error {
			deleteCalled = true
			if activityID != "act-1" {
				t.Errorf("activityID = %q, want %q", activityID, "act-1")
			}
			return nil
		},
	}
	h := NewActivityHandler(svc, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/activities/act-1", nil)
	req = withUserID(req, "user-1")
	req = withChiURLParam(req, "id", "act-1")
	w := httptest.NewRecorder()

	h.DeleteActivity(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	if !deleteCalled {
		t.Error("expected Delete to be called")
	}
}

// --- POST /api/activities/{id}/join テスト ---

func TestActivityHandler_JoinActivity_Free_Success(t *testing.T) {
	metrics := &mockMetricsRecorder{}
	svc := &mockActivityService{
		joinFn: func(ctx context.Context, activityID, userID string, connectToOwner bool) (*model.JoinResult, error) {
			if connectToOwner {
				t.Error("connectToOwner should default to false without a body")
			}
			return &model.JoinResult{
				Status:   model.JoinStatusJoined,
				Activity: sampleActivity(activityID, "owner-1"),
			}, nil
		},
	}
	h := NewActivityHandler(svc, metrics)

	req := httptest.NewRequest(http.MethodPost, "/api/activities/act-1/join", nil)
	req = withUserID(req, "user-1")
	req = withChiURLParam(req, "id", "act-1")
	w := httptest.NewRecorder()

	h.JoinActivity(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var result joinResultResponse
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.Status != "joined" {
		t.Errorf("status = %q, want %q", result.Status, "joined")
	}

	if len(metrics.joinCalls) != 1 || metrics.joinCalls[0] != false {
		t.Errorf("joinCalls = %v, want [false]", metrics.joinCalls)
	}
}

func TestActivityHandler_JoinActivity_ConnectToOwner(t *testing.T) {
	svc := &mockActivityService{
		joinFn: func(ctx context.Context, activityID, userID string, connectToOwner bool) (*model.JoinResult, error) {
			if !connectToOwner {
				t.Error("connectToOwner should be true")
			}
			return &model.JoinResult{
				Status:   model.JoinStatusJoined,
				Activity: sampleActivity(activityID, "owner-1"),
			}, nil
		},
	}
	h := NewActivityHandler(svc, nil)

	body := strings.NewReader(`{"connect_to_owner": true}`)
	req := httptest.NewRequest(http.MethodPost, "/api/activities/act-1/join", body)
	req = withUserID(req, "user-1")
	req = withChiURLParam(req, "id", "act-1")
	w := httptest.NewRecorder()

	h.JoinActivity(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestActivityHandler_JoinActivity_PaymentRequired(t *testing.T) {
	metrics := &mockMetricsRecorder{}
	svc := &mockActivityService{
		joinFn: func(ctx context.Context, activityID, userID string, connectToOwner bool) (*model.JoinResult, error) {
			return &model.JoinResult{
				Status:   model.JoinStatusPaymentRequired,
				Amount:   2500,
				Currency: "jpy",
			}, nil
		},
	}
	h := NewActivityHandler(svc, metrics)

	req := httptest.NewRequest(http.MethodPost, "/api/activities/act-1/join", nil)
	req = withUserID(req, "user-1")
	req = withChiURLParam(req, "id", "act-1")
	w := httptest.NewRecorder()

	h.JoinActivity(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusPaymentRequired)
	}

	var result struct {
		Code       string `json:"code"`
		ActivityID string `json:"activity_id"`
		Amount     int64  `json:"amount"`
		Currency   string `json:"currency"`
	}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.Code != "PAYMENT_REQUIRED" {
		t.Errorf("code = %q, want %q", result.Code, "PAYMENT_REQUIRED")
	}
	if result.Amount != 2500 {
		t.Errorf("amount = %d, want 2500", result.Amount)
	}
	if result.Currency != "jpy" {
		t.Errorf("currency = %q, want %q", result.Currency, "jpy")
	}
	if result.ActivityID != "act-1" {
		t.Errorf("activity_id = %q, want %q", result.ActivityID, "act-1")
	}

	if len(metrics.joinCalls) != 0 {
		t.Errorf("joinCalls = %v, want empty", metrics.joinCalls)
	}
}

func TestActivityHandler_JoinActivity_NotFound(t *testing.T) {
	svc := &mockActivityService{
		joinFn: func(ctx context.Context, activityID, userID string, connectToOwner bool) (*model.JoinResult, error) {
			return nil, model.NewActivityNotFoundError(activityID)
		},
	}
	h := NewActivityHandler(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/activities/ghost/join", nil)
	req = withUserID(req, "user-1")
	req = withChiURLParam(req, "id", "ghost")
	w := httptest.NewRecorder()

	h.JoinActivity(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

// --- POST /api/activities/{id}/leave テスト ---

func TestActivityHandler_LeaveActivity_Success(t *testing.T) {
	svc := &mockActivityService{
		leaveFn: func(ctx context.Context, activityID, userID string) error {
			return nil
		},
	}
	h := NewActivityHandler(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/activities/act-1/leave", nil)
	req = withUserID(req, "user-1")
	req = withChiURLParam(req, "id", "act-1")
	w := httptest.NewRecorder()

	h.LeaveActivity(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
}

func TestActivityHandler_LeaveActivity_Owner(t *testing.T) {
	svc := &mockActivityService{
		leaveFn: func(ctx context.Context, activityID, userID string) error {
			return model.NewOwnerCannotLeaveError()
		},
	}
	h := NewActivityHandler(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/activities/act-1/leave", nil)
	req = withUserID(req, "owner-1")
	req = withChiURLParam(req, "id", "act-1")
	w := httptest.NewRecorder()

	h.LeaveActivity(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}

	errResp := parseAPIErrorResponse(t, w)
	if errResp["code"] != "OWNER_CANNOT_LEAVE" {
		t.Errorf("code = %q, want %q", errResp["code"], "OWNER_CANNOT_LEAVE")
	}
}

// --- GET /api/activities テスト ---

func TestActivityHandler_ListActivities_ParsesPageParams(t *testing.T) {
	wantCursor := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)
	svc := &mockActivityService{
		listVisibleFn: func(ctx context.Context, viewerID string, cursor time.Time, limit int) ([]*model.Activity, error) {
			if !cursor.Equal(wantCursor) {
				t.Errorf("cursor = %v, want %v", cursor, wantCursor)
			}
			if limit != 20 {
				t.Errorf("limit = %d, want 20", limit)
			}
			return []*model.Activity{sampleActivity("act-1", "owner-1")}, nil
		},
	}
	h := NewActivityHandler(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/activities?cursor=2026-07-15T00:00:00Z&limit=20", nil)
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.ListActivities(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var results []activityResponse
	if err := json.NewDecoder(w.Body).Decode(&results); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("len(results) = %d, want 1", len(results))
	}
}

func TestActivityHandler_ListActivities_DefaultParams(t *testing.T) {
	svc := &mockActivityService{
		listVisibleFn: func(ctx context.Context, viewerID string, cursor time.Time, limit int) ([]*model.Activity, error) {
			if !cursor.IsZero() {
				t.Errorf("cursor = %v, want zero value", cursor)
			}
			if limit != 0 {
				t.Errorf("limit = %d, want 0", limit)
			}
			return nil, nil
		},
	}
	h := NewActivityHandler(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/activities", nil)
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.ListActivities(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

// --- GET /api/activities/feed テスト ---

func TestActivityHandler_ListConnectionsFeed_AnnotatesPeer(t *testing.T) {
	peerJoinedAt := time.Date(2026, 7, 20, 12, 0, 0, 0, time.UTC)
	svc := &mockActivityService{
		listConnectionsFeedFn: func(ctx context.Context, viewerID string, cursor time.Time, limit int) ([]repository.ActivityJoinedByPeer, error) {
			return []repository.ActivityJoinedByPeer{
				{
					Activity:     *sampleActivity("act-1", "owner-1"),
					PeerUserID:   "user-2",
					PeerName:     "田中太郎",
					PeerJoinedAt: peerJoinedAt,
				},
			}, nil
		},
	}
	h := NewActivityHandler(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/activities/feed", nil)
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.ListConnectionsFeed(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var results []feedItemResponse
	if err := json.NewDecoder(w.Body).Decode(&results); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0].PeerUserID != "user-2" {
		t.Errorf("peer_user_id = %q, want %q", results[0].PeerUserID, "user-2")
	}
	if !results[0].PeerJoinedAt.Equal(peerJoinedAt) {
		t.Errorf("peer_joined_at = %v, want %v", results[0].PeerJoinedAt, peerJoinedAt)
	}
}
