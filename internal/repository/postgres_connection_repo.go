package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/tsudoi/internal/model"
)

// ErrEdgeExists はエッジの重複作成を表す。
// サービス層で接続済みチェックをすり抜けた競合挿入の検出に使う。
var ErrEdgeExists = errors.New("connection edge already exists")

// uniqueViolation はPostgreSQLの一意制約違反コード。
const uniqueViolation = "23505"

// PostgresConnectionRepo はPostgreSQLを使用したつながりリポジトリ。
type PostgresConnectionRepo struct {
	db *sql.DB
}

// NewPostgresConnectionRepo はPostgresConnectionRepoを生成する。
func NewPostgresConnectionRepo(db *sql.DB) *PostgresConnectionRepo {
	return &PostgresConnectionRepo{db: db}
}

// FindEdge はowner→peerの片側エッジを取得する。見つからない場合はnilを返す。
func (r *PostgresConnectionRepo) FindEdge(ctx context.Context, ownerUserID, peerUserID string) (*model.Connection, error) {
	edge := &model.Connection{}
	err := r.db.QueryRowContext(ctx,
		`SELECT owner_user_id, peer_user_id, peer_email, peer_name, connected_at
		 FROM connections WHERE owner_user_id = $1 AND peer_user_id = $2`,
		ownerUserID, peerUserID,
	).Scan(&edge.OwnerUserID, &edge.PeerUserID, &edge.PeerEmail, &edge.PeerName, &edge.ConnectedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("エッジの取得に失敗しました: %w", err)
	}

	return edge, nil
}

// CreateEdgePair は鏡像2行を同一トランザクションで作成する。
// どちらか1行でも既に存在する場合はErrEdgeExistsを返し、何も書き込まない。
func (r *PostgresConnectionRepo) CreateEdgePair(ctx context.Context, edge, mirror *model.Connection) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	for _, e := range []*model.Connection{edge, mirror} {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO connections (owner_user_id, peer_user_id, peer_email, peer_name, connected_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			e.OwnerUserID, e.PeerUserID, e.PeerEmail, e.PeerName, e.ConnectedAt,
		)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
				return ErrEdgeExists
			}
			return fmt.Errorf("エッジの作成に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}

	return nil
}

// CreateEdge は片側エッジを1行だけ冪等に作成する。
// 修復スイープが欠けた鏡像行を補うためだけに使う。
func (r *PostgresConnectionRepo) CreateEdge(ctx context.Context, edge *model.Connection) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO connections (owner_user_id, peer_user_id, peer_email, peer_name, connected_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (owner_user_id, peer_user_id) DO NOTHING`,
		edge.OwnerUserID, edge.PeerUserID, edge.PeerEmail, edge.PeerName, edge.ConnectedAt,
	)
	if err != nil {
		return fmt.Errorf("片側エッジの作成に失敗しました: %w", err)
	}
	return nil
}

// DeleteEdgePair は鏡像2行を同一トランザクションで削除する。
// 片側しか残っていない場合も残っている行を削除する。
func (r *PostgresConnectionRepo) DeleteEdgePair(ctx context.Context, ownerUserID, peerUserID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM connections
		 WHERE (owner_user_id = $1 AND peer_user_id = $2)
		    OR (owner_user_id = $2 AND peer_user_id = $1)`,
		ownerUserID, peerUserID,
	)
	if err != nil {
		return fmt.Errorf("エッジの削除に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}

	return nil
}

// ListByOwner は指定ユーザーの全エッジをconnected_at昇順で返す。
// 鏡像行とのLEFT JOINで片側エッジを検出し、Inconsistentを立てる。
func (r *PostgresConnectionRepo) ListByOwner(ctx context.Context, ownerUserID string) ([]*model.Connection, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT c.owner_user_id, c.peer_user_id, c.peer_email, c.peer_name, c.connected_at,
		        (m.owner_user_id IS NULL) AS inconsistent
		 FROM connections c
		 LEFT JOIN connections m
		   ON m.owner_user_id = c.peer_user_id AND m.peer_user_id = c.owner_user_id
		 WHERE c.owner_user_id = $1
		 ORDER BY c.connected_at ASC`,
		ownerUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("エッジ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var edges []*model.Connection
	for rows.Next() {
		edge := &model.Connection{}
		if err := rows.Scan(&edge.OwnerUserID, &edge.PeerUserID, &edge.PeerEmail, &edge.PeerName, &edge.ConnectedAt, &edge.Inconsistent); err != nil {
			return nil, fmt.Errorf("エッジ行の読み取りに失敗しました: %w", err)
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("エッジ一覧の走査に失敗しました: %w", err)
	}
	return edges, nil
}

// ListPeerIDs は指定ユーザーのつながり相手のユーザーID一覧を返す。
func (r *PostgresConnectionRepo) ListPeerIDs(ctx context.Context, ownerUserID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT peer_user_id FROM connections WHERE owner_user_id = $1`,
		ownerUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("つながり相手ID一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("つながり相手IDの読み取りに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("つながり相手ID一覧の走査に失敗しました: %w", err)
	}
	return ids, nil
}

// ListOneSided は鏡像行が欠けた片側エッジを返す。修復スイープが使う。
func (r *PostgresConnectionRepo) ListOneSided(ctx context.Context, limit int) ([]*model.Connection, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT c.owner_user_id, c.peer_user_id, c.peer_email, c.peer_name, c.connected_at
		 FROM connections c
		 LEFT JOIN connections m
		   ON m.owner_user_id = c.peer_user_id AND m.peer_user_id = c.owner_user_id
		 WHERE m.owner_user_id IS NULL
		 ORDER BY c.connected_at ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("片側エッジ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var edges []*model.Connection
	for rows.Next() {
		edge := &model.Connection{Inconsistent: true}
		if err := rows.Scan(&edge.OwnerUserID, &edge.PeerUserID, &edge.PeerEmail, &edge.PeerName, &edge.ConnectedAt); err != nil {
			return nil, fmt.Errorf("片側エッジ行の読み取りに失敗しました: %w", err)
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("片側エッジ一覧の走査に失敗しました: %w", err)
	}
	return edges, nil
}

// DeleteByUserID は指定ユーザーが関わる全エッジ（両方向）を削除する。
func (r *PostgresConnectionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM connections WHERE owner_user_id = $1 OR peer_user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("ユーザーの全エッジの削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ConnectionRepository = (*PostgresConnectionRepo)(nil)
