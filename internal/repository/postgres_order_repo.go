package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/tsudoi/internal/model"
)

// PostgresOrderRepo はPostgreSQLを使用した決済注文リポジトリ。
type PostgresOrderRepo struct {
	db *sql.DB
}

// NewPostgresOrderRepo はPostgresOrderRepoを生成する。
func NewPostgresOrderRepo(db *sql.DB) *PostgresOrderRepo {
	return &PostgresOrderRepo{db: db}
}

// orderColumns はpayment_ordersテーブルのSELECT列リスト。
const orderColumns = `id, activity_id, user_id, amount, currency, status, payment_id, completed_at, created_at, updated_at`

// scanOrder は1行分の注文を読み取る。
func scanOrder(s rowScanner) (*model.PaymentOrder, error) {
	o := &model.PaymentOrder{}
	var completedAt sql.NullTime
	if err := s.Scan(
		&o.ID, &o.ActivityID, &o.UserID, &o.Amount, &o.Currency,
		&o.Status, &o.PaymentID, &completedAt, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		o.CompletedAt = &completedAt.Time
	}
	return o, nil
}

// FindByID は指定IDの注文を取得する。見つからない場合はnilを返す。
func (r *PostgresOrderRepo) FindByID(ctx context.Context, id string) (*model.PaymentOrder, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM payment_orders WHERE id = $1`,
		id,
	)
	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("決済注文の取得に失敗しました: %w", err)
	}
	return order, nil
}

// FindCreatedByActivityAndUser はアクティビティとユーザーの組に対するcreated状態の注文を取得する。
// 見つからない場合はnilを返す。
func (r *PostgresOrderRepo) FindCreatedByActivityAndUser(ctx context.Context, activityID, userID string) (*model.PaymentOrder, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+`
		 FROM payment_orders
		 WHERE activity_id = $1 AND user_id = $2 AND status = 'created'
		 ORDER BY created_at DESC
		 LIMIT 1`,
		activityID, userID,
	)
	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("created状態の注文の検索に失敗しました: %w", err)
	}
	return order, nil
}

// Create は注文を作成する。
func (r *PostgresOrderRepo) Create(ctx context.Context, order *model.PaymentOrder) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payment_orders (id, activity_id, user_id, amount, currency, status, payment_id, completed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		order.ID, order.ActivityID, order.UserID, order.Amount, order.Currency,
		order.Status, order.PaymentID, order.CompletedAt, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("決済注文の作成に失敗しました: %w", err)
	}
	return nil
}

// Complete は注文をcreated→completedに遷移させる。
// 影響行数で遷移の有無を返す。created以外からの遷移は発生しない。
func (r *PostgresOrderRepo) Complete(ctx context.Context, orderID, paymentID string, completedAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE payment_orders
		 SET status = 'completed', payment_id = $2, completed_at = $3, updated_at = NOW()
		 WHERE id = $1 AND status = 'created'`,
		orderID, paymentID, completedAt,
	)
	if err != nil {
		return false, fmt.Errorf("決済注文の完了遷移に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("完了遷移結果の取得に失敗しました: %w", err)
	}
	return rowsAffected > 0, nil
}

// Cancel は注文をcreated→cancelledに遷移させる。
// 影響行数で遷移の有無を返す。
func (r *PostgresOrderRepo) Cancel(ctx context.Context, orderID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE payment_orders
		 SET status = 'cancelled', updated_at = NOW()
		 WHERE id = $1 AND status = 'created'`,
		orderID,
	)
	if err != nil {
		return false, fmt.Errorf("決済注文のキャンセル遷移に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("キャンセル遷移結果の取得に失敗しました: %w", err)
	}
	return rowsAffected > 0, nil
}

// ListCompletedUnapplied は完了済みだが参加者行への反映が確認できない注文を返す。
// 対応する参加者行が存在しないか、payment_statusがcompletedでないものが対象。
func (r *PostgresOrderRepo) ListCompletedUnapplied(ctx context.Context, limit int) ([]*model.PaymentOrder, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT po.id, po.activity_id, po.user_id, po.amount, po.currency, po.status, po.payment_id, po.completed_at, po.created_at, po.updated_at
		 FROM payment_orders po
		 LEFT JOIN joiners j
		   ON j.activity_id = po.activity_id AND j.user_id = po.user_id AND j.payment_status = 'completed'
		 WHERE po.status = 'completed' AND j.user_id IS NULL
		 ORDER BY po.completed_at ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("未反映の完了注文一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var orders []*model.PaymentOrder
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("注文行の読み取りに失敗しました: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("未反映の完了注文一覧の走査に失敗しました: %w", err)
	}
	return orders, nil
}

// ListStaleCreated は指定時刻より前に作成されたcreated状態の注文を返す。
func (r *PostgresOrderRepo) ListStaleCreated(ctx context.Context, olderThan time.Time, limit int) ([]*model.PaymentOrder, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+`
		 FROM payment_orders
		 WHERE status = 'created' AND created_at < $1
		 ORDER BY created_at ASC
		 LIMIT $2`,
		olderThan, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("放置注文一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var orders []*model.PaymentOrder
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("注文行の読み取りに失敗しました: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("放置注文一覧の走査に失敗しました: %w", err)
	}
	return orders, nil
}

// DeleteByUserID は指定ユーザーの全注文を削除する。
func (r *PostgresOrderRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM payment_orders WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("ユーザーの全注文の削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ OrderRepository = (*PostgresOrderRepo)(nil)
