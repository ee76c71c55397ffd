package preview

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/tsudoi/internal/model"
	"github.com/hitoshi/tsudoi/internal/repository"
)

// --- モック定義 ---

// mockActivityRepo はActivityRepositoryのテスト用モック。
type mockActivityRepo struct {
	listNeedingLinkTitleFunc func(ctx context.Context, limit int) ([]*model.Activity, error)
	updateLinkTitleFunc      func(ctx context.Context, id, title string) error
}

func (m *mockActivityRepo) FindByID(_ context.Context, _ string) (*model.Activity, error) {
	return nil, nil
}

func (m *mockActivityRepo) FindByIDWithJoiners(_ context.Context, _ string) (*model.ActivityWithJoiners, error) {
	return nil, nil
}

func (m *mockActivityRepo) Create(_ context.Context, _ *model.Activity, _ *model.Joiner) error {
	return nil
}

func (m *mockActivityRepo) Update(_ context.Context, _ *model.Activity) error {
	return nil
}

func (m *mockActivityRepo) Delete(_ context.Context, _ string) error {
	return nil
}

func (m *mockActivityRepo) ListVisibleTo(_ context.Context, _ string, _ time.Time, _ int) ([]*model.Activity, error) {
	return nil, nil
}

func (m *mockActivityRepo) ListByOwner(_ context.Context, _ string) ([]*model.Activity, error) {
	return nil, nil
}

func (m *mockActivityRepo) ListJoinedBy(_ context.Context, _ string) ([]*model.Activity, error) {
	return nil, nil
}

func (m *mockActivityRepo) ListJoinedByPeers(_ context.Context, _ string, _ []string, _ time.Time, _ int) ([]repository.ActivityJoinedByPeer, error) {
	return nil, nil
}

func (m *mockActivityRepo) ApplyPaidJoin(_ context.Context, _ *model.Joiner) (bool, error) {
	return false, nil
}

func (m *mockActivityRepo) ListNeedingLinkTitle(ctx context.Context, limit int) ([]*model.Activity, error) {
	if m.listNeedingLinkTitleFunc != nil {
		return m.listNeedingLinkTitleFunc(ctx, limit)
	}
	return nil, nil
}

func (m *mockActivityRepo) UpdateLinkTitle(ctx context.Context, id, title string) error {
	if m.updateLinkTitleFunc != nil {
		return m.updateLinkTitleFunc(ctx, id, title)
	}
	return nil
}

func (m *mockActivityRepo) DeleteByOwner(_ context.Context, _ string) error {
	return nil
}

// mockTitleFetcher はTitleFetcherServiceのテスト用モック。
type mockTitleFetcher struct {
	fetchFunc func(ctx context.Context, activity *model.Activity) error
}

func (m *mockTitleFetcher) Fetch(ctx context.Context, activity *model.Activity) error {
	if m.fetchFunc != nil {
		return m.fetchFunc(ctx, activity)
	}
	return nil
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// --- スケジューラのテスト ---

func TestNewScheduler_ReturnsNonNil(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	s := NewScheduler(&mockActivityRepo{}, &mockTitleFetcher{}, logger, 50, 10)
	if s == nil {
		t.Fatal("NewScheduler は nil を返してはならない")
	}
}

func TestNewScheduler_Defaults(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	// 0以下の場合はデフォルト値を使用する
	s := NewScheduler(&mockActivityRepo{}, &mockTitleFetcher{}, logger, 0, 0)
	if s.batchSize != 50 {
		t.Errorf("batchSize = %d, want 50 (default)", s.batchSize)
	}
	if s.maxConcurrency != 10 {
		t.Errorf("maxConcurrency = %d, want 10 (default)", s.maxConcurrency)
	}
}

func TestScheduler_RunOnce_FetchesPendingActivities(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	activities := []*model.Activity{
		{ID: "activity-1", DetailsURL: "https://example.com/page1"},
		{ID: "activity-2", DetailsURL: "https://example.com/page2"},
	}

	var fetchedIDs []string
	var mu sync.Mutex

	repo := &mockActivityRepo{
		listNeedingLinkTitleFunc: func(ctx context.Context, limit int) ([]*model.Activity, error) {
			return activities, nil
		},
	}

	fetcher := &mockTitleFetcher{
		fetchFunc: func(ctx context.Context, activity *model.Activity) error {
			mu.Lock()
			fetchedIDs = append(fetchedIDs, activity.ID)
			mu.Unlock()
			return nil
		},
	}

	s := NewScheduler(repo, fetcher, logger, 50, 10)
	err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() がエラーを返した: %v", err)
	}

	if len(fetchedIDs) != 2 {
		t.Errorf("フェッチされたアクティビティ数 = %d, want 2", len(fetchedIDs))
	}
}

func TestScheduler_RunOnce_PassesBatchSize(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	var gotLimit int
	repo := &mockActivityRepo{
		listNeedingLinkTitleFunc: func(ctx context.Context, limit int) ([]*model.Activity, error) {
			gotLimit = limit
			return nil, nil
		},
	}

	s := NewScheduler(repo, &mockTitleFetcher{}, logger, 25, 10)
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() がエラーを返した: %v", err)
	}

	if gotLimit != 25 {
		t.Errorf("ListNeedingLinkTitle に渡されたlimit = %d, want 25", gotLimit)
	}
}

func TestScheduler_RunOnce_NoPendingActivities(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	repo := &mockActivityRepo{
		listNeedingLinkTitleFunc: func(ctx context.Context, limit int) ([]*model.Activity, error) {
			return nil, nil
		},
	}

	s := NewScheduler(repo, &mockTitleFetcher{}, logger, 50, 10)
	err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() がエラーを返した: %v", err)
	}
}

func TestScheduler_RunOnce_RepoError(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	repo := &mockActivityRepo{
		listNeedingLinkTitleFunc: func(ctx context.Context, limit int) ([]*model.Activity, error) {
			return nil, errors.New("db connection failed")
		},
	}

	s := NewScheduler(repo, &mockTitleFetcher{}, logger, 50, 10)
	err := s.RunOnce(context.Background())
	if err == nil {
		t.Fatal("RunOnce() はリポジトリエラー時にエラーを返すべき")
	}
}

func TestScheduler_RunOnce_ConcurrencyLimit(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	// 20個のアクティビティを用意し、最大並列数を3に制限
	activities := make([]*model.Activity, 20)
	for i := range activities {
		activities[i] = &model.Activity{ID: "activity-" + string(rune('a'+i))}
	}

	var maxConcurrent int32
	var currentConcurrent int32
	var fetchCount int32

	repo := &mockActivityRepo{
		listNeedingLinkTitleFunc: func(ctx context.Context, limit int) ([]*model.Activity, error) {
			return activities, nil
		},
	}

	fetcher := &mockTitleFetcher{
		fetchFunc: func(ctx context.Context, activity *model.Activity) error {
			current := atomic.AddInt32(&currentConcurrent, 1)
			defer atomic.AddInt32(&currentConcurrent, -1)
			atomic.AddInt32(&fetchCount, 1)

			// 最大同時実行数を記録
			for {
				old := atomic.LoadInt32(&maxConcurrent)
				if current <= old {
					break
				}
				if atomic.CompareAndSwapInt32(&maxConcurrent, old, current) {
					break
				}
			}

			// 少し待つことで並列実行を促す
			time.Sleep(10 * time.Millisecond)
			return nil
		},
	}

	s := NewScheduler(repo, fetcher, logger, 50, 3)
	err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() がエラーを返した: %v", err)
	}

	if atomic.LoadInt32(&fetchCount) != 20 {
		t.Errorf("フェッチ回数 = %d, want 20", atomic.LoadInt32(&fetchCount))
	}

	if atomic.LoadInt32(&maxConcurrent) > 3 {
		t.Errorf("最大同時実行数 = %d, 3以下であるべき", atomic.LoadInt32(&maxConcurrent))
	}
}

func TestScheduler_RunOnce_FetchErrorDoesNotStopOthers(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	activities := []*model.Activity{
		{ID: "activity-1"},
		{ID: "activity-2"},
		{ID: "activity-3"},
	}

	var fetchCount int32

	repo := &mockActivityRepo{
		listNeedingLinkTitleFunc: func(ctx context.Context, limit int) ([]*model.Activity, error) {
			return activities, nil
		},
	}

	fetcher := &mockTitleFetcher{
		fetchFunc: func(ctx context.Context, activity *model.Activity) error {
			atomic.AddInt32(&fetchCount, 1)
			if activity.ID == "activity-2" {
				return errors.New("fetch failed")
			}
			return nil
		},
	}

	s := NewScheduler(repo, fetcher, logger, 50, 10)
	// 個別アクティビティのフェッチエラーはRunOnceのエラーとはならない
	err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() は個別フェッチエラーでもエラーを返さないべき: %v", err)
	}

	if atomic.LoadInt32(&fetchCount) != 3 {
		t.Errorf("全アクティビティのフェッチが試行されるべき: got %d, want 3", atomic.LoadInt32(&fetchCount))
	}
}

func TestScheduler_RunOnce_LogsFetchError(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	activities := []*model.Activity{
		{ID: "activity-1", DetailsURL: "https://example.com/page"},
	}

	repo := &mockActivityRepo{
		listNeedingLinkTitleFunc: func(ctx context.Context, limit int) ([]*model.Activity, error) {
			return activities, nil
		},
	}

	fetcher := &mockTitleFetcher{
		fetchFunc: func(ctx context.Context, activity *model.Activity) error {
			return errors.New("timeout")
		},
	}

	s := NewScheduler(repo, fetcher, logger, 50, 10)
	_ = s.RunOnce(context.Background())

	// エラーログが出力されていること
	logOutput := buf.String()
	if !strings.Contains(logOutput, "ERROR") {
		t.Errorf("フェッチエラー時にERRORレベルのログが記録されていない: %s", logOutput)
	}
}

func TestScheduler_RunOnce_LogsActivityCount(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	activities := []*model.Activity{
		{ID: "activity-1"},
		{ID: "activity-2"},
	}

	repo := &mockActivityRepo{
		listNeedingLinkTitleFunc: func(ctx context.Context, limit int) ([]*model.Activity, error) {
			return activities, nil
		},
	}

	s := NewScheduler(repo, &mockTitleFetcher{}, logger, 50, 10)
	_ = s.RunOnce(context.Background())

	// ログに取得対象数が記録されていること
	var entry map[string]interface{}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	found := false
	for _, line := range lines {
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if count, ok := entry["activity_count"]; ok {
			if count == float64(2) {
				found = true
				break
			}
		}
	}
	if !found {
		t.Errorf("ログに activity_count=2 が記録されていない。ログ出力: %s", buf.String())
	}
}

func TestScheduler_RunOnce_RespectsContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // 即座にキャンセル

	repo := &mockActivityRepo{
		listNeedingLinkTitleFunc: func(ctx context.Context, limit int) ([]*model.Activity, error) {
			return nil, ctx.Err()
		},
	}

	s := NewScheduler(repo, &mockTitleFetcher{}, logger, 50, 10)
	err := s.RunOnce(ctx)

	// キャンセル済みコンテキストではエラーが返る
	if err == nil {
		t.Fatal("キャンセル済みコンテキストではエラーが返るべき")
	}
}
