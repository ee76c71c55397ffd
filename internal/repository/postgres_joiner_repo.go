package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/tsudoi/internal/model"
)

// PostgresJoinerRepo はPostgreSQLを使用した参加者リポジトリ。
// 参加者は(activity_id, user_id)を主キーとする行で、常に行単位で操作する。
type PostgresJoinerRepo struct {
	db *sql.DB
}

// NewPostgresJoinerRepo はPostgresJoinerRepoを生成する。
func NewPostgresJoinerRepo(db *sql.DB) *PostgresJoinerRepo {
	return &PostgresJoinerRepo{db: db}
}

// FindByActivityAndUser は参加者行を取得する。見つからない場合はnilを返す。
func (r *PostgresJoinerRepo) FindByActivityAndUser(ctx context.Context, activityID, userID string) (*model.Joiner, error) {
	j := &model.Joiner{}
	var paidAt sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT activity_id, user_id, email, name, joined_at, payment_status, payment_id, paid_amount, paid_at
		 FROM joiners WHERE activity_id = $1 AND user_id = $2`,
		activityID, userID,
	).Scan(&j.ActivityID, &j.UserID, &j.Email, &j.Name, &j.JoinedAt, &j.PaymentStatus, &j.PaymentID, &j.PaidAmount, &paidAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("参加者行の取得に失敗しました: %w", err)
	}

	if paidAt.Valid {
		j.PaidAt = &paidAt.Time
	}

	return j, nil
}

// Upsert は参加者行を冪等に作成する。
// 既存行がある場合は何も書き込まず既存行を返す。JoinedAtは初回参加時の値を維持する。
func (r *PostgresJoinerRepo) Upsert(ctx context.Context, joiner *model.Joiner) (*model.Joiner, error) {
	existing, err := r.FindByActivityAndUser(ctx, joiner.ActivityID, joiner.UserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO joiners (activity_id, user_id, email, name, joined_at, payment_status, payment_id, paid_amount, paid_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (activity_id, user_id) DO NOTHING`,
		joiner.ActivityID, joiner.UserID, joiner.Email, joiner.Name, joiner.JoinedAt,
		joiner.PaymentStatus, joiner.PaymentID, joiner.PaidAmount, joiner.PaidAt,
	)
	if err != nil {
		return nil, fmt.Errorf("参加者行の作成に失敗しました: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("作成結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		// 競合する参加が先に行を作成した。その行が正になる。
		return r.FindByActivityAndUser(ctx, joiner.ActivityID, joiner.UserID)
	}

	return joiner, nil
}

// Delete は参加者行を削除する。行が存在しない場合も成功とする（冪等）。
func (r *PostgresJoinerRepo) Delete(ctx context.Context, activityID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM joiners WHERE activity_id = $1 AND user_id = $2`,
		activityID, userID,
	)
	if err != nil {
		return fmt.Errorf("参加者行の削除に失敗しました: %w", err)
	}
	return nil
}

// ListByActivity はアクティビティの参加者一覧をjoined_at昇順で返す。
func (r *PostgresJoinerRepo) ListByActivity(ctx context.Context, activityID string) ([]model.Joiner, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT activity_id, user_id, email, name, joined_at, payment_status, payment_id, paid_amount, paid_at
		 FROM joiners WHERE activity_id = $1 ORDER BY joined_at ASC`,
		activityID,
	)
	if err != nil {
		return nil, fmt.Errorf("参加者一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var joiners []model.Joiner
	for rows.Next() {
		var j model.Joiner
		var paidAt sql.NullTime
		if err := rows.Scan(&j.ActivityID, &j.UserID, &j.Email, &j.Name, &j.JoinedAt, &j.PaymentStatus, &j.PaymentID, &j.PaidAmount, &paidAt); err != nil {
			return nil, fmt.Errorf("参加者行の読み取りに失敗しました: %w", err)
		}
		if paidAt.Valid {
			j.PaidAt = &paidAt.Time
		}
		joiners = append(joiners, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("参加者一覧の走査に失敗しました: %w", err)
	}
	return joiners, nil
}

// ListActivityIDsByUser は指定ユーザーが参加しているアクティビティのID一覧を返す。
func (r *PostgresJoinerRepo) ListActivityIDsByUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT activity_id FROM joiners WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("参加アクティビティIDの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("参加アクティビティIDの読み取りに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("参加アクティビティIDの走査に失敗しました: %w", err)
	}
	return ids, nil
}

// DeleteByUserID は指定ユーザーの全参加者行を削除する。
func (r *PostgresJoinerRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM joiners WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("ユーザーの全参加者行の削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ JoinerRepository = (*PostgresJoinerRepo)(nil)
