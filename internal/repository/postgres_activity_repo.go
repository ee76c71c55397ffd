package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/tsudoi/internal/model"
)

// PostgresActivityRepo はPostgreSQLを使用したアクティビティリポジトリ。
type PostgresActivityRepo struct {
	db *sql.DB
}

// NewPostgresActivityRepo はPostgresActivityRepoを生成する。
func NewPostgresActivityRepo(db *sql.DB) *PostgresActivityRepo {
	return &PostgresActivityRepo{db: db}
}

// activityColumns はactivitiesテーブルのSELECT列リスト。各メソッドのクエリで共有する。
const activityColumns = `id, name, location, starts_at, description, details_url, link_title,
	       owner_user_id, created_by, is_private, is_paid, cost, currency,
	       total_collected, participant_count, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通のScan部分。
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanActivity は1行分のアクティビティを読み取る。
func scanActivity(s rowScanner) (*model.Activity, error) {
	a := &model.Activity{}
	var detailsURL, linkTitle sql.NullString
	if err := s.Scan(
		&a.ID, &a.Name, &a.Location, &a.StartsAt, &a.Description, &detailsURL, &linkTitle,
		&a.OwnerUserID, &a.CreatedBy, &a.IsPrivate, &a.IsPaid, &a.Cost, &a.Currency,
		&a.TotalCollected, &a.ParticipantCount, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.DetailsURL = nullStringValue(detailsURL)
	a.LinkTitle = nullStringValue(linkTitle)
	return a, nil
}

// FindByID は指定IDのアクティビティを取得する。見つからない場合はnilを返す。
func (r *PostgresActivityRepo) FindByID(ctx context.Context, id string) (*model.Activity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE id = $1`,
		id,
	)
	activity, err := scanActivity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アクティビティの取得に失敗しました: %w", err)
	}
	return activity, nil
}

// FindByIDWithJoiners は指定IDのアクティビティを参加者一覧付きで取得する。
func (r *PostgresActivityRepo) FindByIDWithJoiners(ctx context.Context, id string) (*model.ActivityWithJoiners, error) {
	activity, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT activity_id, user_id, email, name, joined_at, payment_status, payment_id, paid_amount, paid_at
		 FROM joiners WHERE activity_id = $1 ORDER BY joined_at ASC`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("参加者一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	result := &model.ActivityWithJoiners{Activity: *activity}
	for rows.Next() {
		var j model.Joiner
		var paidAt sql.NullTime
		if err := rows.Scan(&j.ActivityID, &j.UserID, &j.Email, &j.Name, &j.JoinedAt, &j.PaymentStatus, &j.PaymentID, &j.PaidAmount, &paidAt); err != nil {
			return nil, fmt.Errorf("参加者行の読み取りに失敗しました: %w", err)
		}
		if paidAt.Valid {
			j.PaidAt = &paidAt.Time
		}
		result.Joiners = append(result.Joiners, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("参加者一覧の走査に失敗しました: %w", err)
	}
	return result, nil
}

// Create はアクティビティと作成者の参加者行を同一トランザクションで作成する。
func (r *PostgresActivityRepo) Create(ctx context.Context, activity *model.Activity, owner *model.Joiner) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO activities (id, name, location, starts_at, description, details_url, link_title,
		                         owner_user_id, created_by, is_private, is_paid, cost, currency,
		                         total_collected, participant_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		activity.ID, activity.Name, activity.Location, activity.StartsAt, activity.Description,
		nullString(activity.DetailsURL), nullString(activity.LinkTitle),
		activity.OwnerUserID, activity.CreatedBy, activity.IsPrivate, activity.IsPaid,
		activity.Cost, activity.Currency, activity.TotalCollected, activity.ParticipantCount,
		activity.CreatedAt, activity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("アクティビティの作成に失敗しました: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO joiners (activity_id, user_id, email, name, joined_at, payment_status, payment_id, paid_amount, paid_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		owner.ActivityID, owner.UserID, owner.Email, owner.Name, owner.JoinedAt,
		owner.PaymentStatus, owner.PaymentID, owner.PaidAmount, owner.PaidAt,
	)
	if err != nil {
		return fmt.Errorf("作成者の参加者行の作成に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}

	return nil
}

// Update はアクティビティの属性を上書き更新する。参加者と決済集計には触れない。
func (r *PostgresActivityRepo) Update(ctx context.Context, activity *model.Activity) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE activities SET
		    name = $2, location = $3, starts_at = $4, description = $5,
		    details_url = $6, link_title = $7, is_private = $8, is_paid = $9,
		    cost = $10, currency = $11, updated_at = $12
		 WHERE id = $1`,
		activity.ID, activity.Name, activity.Location, activity.StartsAt, activity.Description,
		nullString(activity.DetailsURL), nullString(activity.LinkTitle),
		activity.IsPrivate, activity.IsPaid, activity.Cost, activity.Currency,
		activity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("アクティビティの更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("アクティビティが見つかりません: %s", activity.ID)
	}
	return nil
}

// Delete は指定IDのアクティビティを削除する。参加者行はCASCADE削除される。
func (r *PostgresActivityRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM activities WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("アクティビティの削除に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("アクティビティが見つかりません: %s", id)
	}
	return nil
}

// ListVisibleTo は閲覧者に可視なアクティビティをcreated_at降順で返す。
// 非公開アクティビティは作成者か参加者の場合のみ結果に含める。
// cursorがゼロ値の場合は先頭から取得する。
func (r *PostgresActivityRepo) ListVisibleTo(ctx context.Context, viewerID string, cursor time.Time, limit int) ([]*model.Activity, error) {
	baseQuery := `SELECT ` + activityColumns + `
		FROM activities
		WHERE (is_private = false
		       OR owner_user_id = $1
		       OR EXISTS (SELECT 1 FROM joiners j WHERE j.activity_id = activities.id AND j.user_id = $1))`

	args := []interface{}{viewerID}
	argIndex := 2

	if !cursor.IsZero() {
		baseQuery += fmt.Sprintf(" AND created_at < $%d", argIndex)
		args = append(args, cursor)
		argIndex++
	}

	baseQuery += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argIndex)
	args = append(args, limit)

	return r.queryActivities(ctx, baseQuery, args...)
}

// ListByOwner は指定ユーザーが作成した全アクティビティをcreated_at降順で返す。
func (r *PostgresActivityRepo) ListByOwner(ctx context.Context, ownerUserID string) ([]*model.Activity, error) {
	return r.queryActivities(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE owner_user_id = $1 ORDER BY created_at DESC`,
		ownerUserID,
	)
}

// ListJoinedBy は指定ユーザーが参加している全アクティビティを参加日時降順で返す。
func (r *PostgresActivityRepo) ListJoinedBy(ctx context.Context, userID string) ([]*model.Activity, error) {
	return r.queryActivities(ctx,
		`SELECT a.id, a.name, a.location, a.starts_at, a.description, a.details_url, a.link_title,
		        a.owner_user_id, a.created_by, a.is_private, a.is_paid, a.cost, a.currency,
		        a.total_collected, a.participant_count, a.created_at, a.updated_at
		 FROM activities a
		 JOIN joiners j ON j.activity_id = a.id
		 WHERE j.user_id = $1
		 ORDER BY j.joined_at DESC`,
		userID,
	)
}

// ListJoinedByPeers は指定したつながり相手たちが参加しているアクティビティを
// 参加日時降順・カーソルベースで返す。可視性述語を含む。
// 同じアクティビティに複数の相手が参加している場合は相手ごとに1行になる。
func (r *PostgresActivityRepo) ListJoinedByPeers(ctx context.Context, viewerID string, peerIDs []string, cursor time.Time, limit int) ([]ActivityJoinedByPeer, error) {
	if len(peerIDs) == 0 {
		return nil, nil
	}

	baseQuery := `SELECT a.id, a.name, a.location, a.starts_at, a.description, a.details_url, a.link_title,
		        a.owner_user_id, a.created_by, a.is_private, a.is_paid, a.cost, a.currency,
		        a.total_collected, a.participant_count, a.created_at, a.updated_at,
		        j.user_id, j.name, j.joined_at
		 FROM activities a
		 JOIN joiners j ON j.activity_id = a.id
		 WHERE j.user_id = ANY($1)
		   AND (a.is_private = false
		        OR a.owner_user_id = $2
		        OR EXISTS (SELECT 1 FROM joiners v WHERE v.activity_id = a.id AND v.user_id = $2))`

	args := []interface{}{pq.Array(peerIDs), viewerID}
	argIndex := 3

	if !cursor.IsZero() {
		baseQuery += fmt.Sprintf(" AND j.joined_at < $%d", argIndex)
		args = append(args, cursor)
		argIndex++
	}

	baseQuery += fmt.Sprintf(" ORDER BY j.joined_at DESC LIMIT $%d", argIndex)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, baseQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("つながりの参加アクティビティ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var results []ActivityJoinedByPeer
	for rows.Next() {
		var entry ActivityJoinedByPeer
		var detailsURL, linkTitle sql.NullString
		if err := rows.Scan(
			&entry.ID, &entry.Name, &entry.Location, &entry.StartsAt, &entry.Description, &detailsURL, &linkTitle,
			&entry.OwnerUserID, &entry.CreatedBy, &entry.IsPrivate, &entry.IsPaid, &entry.Cost, &entry.Currency,
			&entry.TotalCollected, &entry.ParticipantCount, &entry.CreatedAt, &entry.UpdatedAt,
			&entry.PeerUserID, &entry.PeerName, &entry.PeerJoinedAt,
		); err != nil {
			return nil, fmt.Errorf("つながりの参加アクティビティ行の読み取りに失敗しました: %w", err)
		}
		entry.DetailsURL = nullStringValue(detailsURL)
		entry.LinkTitle = nullStringValue(linkTitle)
		results = append(results, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("つながりの参加アクティビティ一覧の走査に失敗しました: %w", err)
	}
	return results, nil
}

// ApplyPaidJoin は参加者行のUPSERTと決済集計の加算を同一トランザクションで行う。
// 参加者行が既にcompletedの場合は何も変更せずfalseを返す。
// 条件付きUPSERTの影響行数で遷移の有無を判定し、ユーザーごとに厳密1回だけ加算する。
func (r *PostgresActivityRepo) ApplyPaidJoin(ctx context.Context, joiner *model.Joiner) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	// joined_atは既存行の値を維持する。
	// 既存行がcompletedの場合はWHERE句によりDO UPDATEがスキップされ影響行数0になる。
	result, err := tx.ExecContext(ctx,
		`INSERT INTO joiners (activity_id, user_id, email, name, joined_at, payment_status, payment_id, paid_amount, paid_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (activity_id, user_id) DO UPDATE SET
		     payment_status = EXCLUDED.payment_status,
		     payment_id = EXCLUDED.payment_id,
		     paid_amount = EXCLUDED.paid_amount,
		     paid_at = EXCLUDED.paid_at
		 WHERE joiners.payment_status <> 'completed'`,
		joiner.ActivityID, joiner.UserID, joiner.Email, joiner.Name, joiner.JoinedAt,
		joiner.PaymentStatus, joiner.PaymentID, joiner.PaidAmount, joiner.PaidAt,
	)
	if err != nil {
		return false, fmt.Errorf("参加者行のUPSERTに失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("UPSERT結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE activities SET
		    total_collected = total_collected + $2,
		    participant_count = participant_count + 1,
		    updated_at = NOW()
		 WHERE id = $1`,
		joiner.ActivityID, joiner.PaidAmount,
	)
	if err != nil {
		return false, fmt.Errorf("決済集計の加算に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}

	return true, nil
}

// ListNeedingLinkTitle は詳細URLがありタイトル未取得のアクティビティを返す。
func (r *PostgresActivityRepo) ListNeedingLinkTitle(ctx context.Context, limit int) ([]*model.Activity, error) {
	return r.queryActivities(ctx,
		`SELECT `+activityColumns+`
		 FROM activities
		 WHERE details_url IS NOT NULL AND details_url <> '' AND link_title IS NULL
		 ORDER BY created_at ASC
		 LIMIT $1`,
		limit,
	)
}

// UpdateLinkTitle は詳細ページのタイトルスナップショットを更新する。
func (r *PostgresActivityRepo) UpdateLinkTitle(ctx context.Context, id, title string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE activities SET link_title = $2, updated_at = NOW() WHERE id = $1`,
		id, title,
	)
	if err != nil {
		return fmt.Errorf("リンクタイトルの更新に失敗しました: %w", err)
	}
	return nil
}

// DeleteByOwner は指定ユーザーが作成した全アクティビティを削除する。
func (r *PostgresActivityRepo) DeleteByOwner(ctx context.Context, ownerUserID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM activities WHERE owner_user_id = $1`,
		ownerUserID,
	)
	if err != nil {
		return fmt.Errorf("ユーザーの全アクティビティの削除に失敗しました: %w", err)
	}
	return nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// queryActivities はアクティビティ一覧クエリの共通実行部。
func (r *PostgresActivityRepo) queryActivities(ctx context.Context, query string, args ...interface{}) ([]*model.Activity, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("アクティビティ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var activities []*model.Activity
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("アクティビティ行の読み取りに失敗しました: %w", err)
		}
		activities = append(activities, activity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("アクティビティ一覧の走査に失敗しました: %w", err)
	}
	return activities, nil
}

// compile-time interface check
var _ ActivityRepository = (*PostgresActivityRepo)(nil)
