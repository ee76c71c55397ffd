// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/tsudoi/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は指定メールアドレスのユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// UpdateProfile はメールアドレスと表示名を更新する。
	// つながりや参加者が持つ表示スナップショットには波及しない。
	UpdateProfile(ctx context.Context, id, email, name string) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentitiesはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// Create はidentityを1行作成する。既存ユーザーへの追加紐付けに使う。
	// 新規ユーザーの初回identityはUserRepository.CreateWithIdentityが作成する。
	Create(ctx context.Context, identity *model.Identity) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// ConnectionRepository はつながり（エッジ）データの永続化インターフェース。
// 論理的なつながりは鏡像2行で表現され、通常の書き込みは必ず2行を同一トランザクションで扱う。
type ConnectionRepository interface {
	// FindEdge はowner→peerの片側エッジを取得する。見つからない場合はnilを返す。
	FindEdge(ctx context.Context, ownerUserID, peerUserID string) (*model.Connection, error)

	// CreateEdgePair は鏡像2行を同一トランザクションで作成する。
	// いずれかの行が既に存在する場合はErrEdgeExistsを返す。
	CreateEdgePair(ctx context.Context, edge, mirror *model.Connection) error

	// CreateEdge は片側エッジを1行だけ作成する。冪等（既存行は無視）。
	// 修復スイープが欠けた鏡像行を補うためだけに使う。
	CreateEdge(ctx context.Context, edge *model.Connection) error

	// DeleteEdgePair は鏡像2行を同一トランザクションで削除する。
	// 片側しか存在しない場合も残っている行を削除する。
	DeleteEdgePair(ctx context.Context, ownerUserID, peerUserID string) error

	// ListByOwner は指定ユーザーの全エッジをconnected_at昇順で返す。
	// 鏡像行の有無をLEFT JOINで判定し、欠けている場合はInconsistentを立てる。
	ListByOwner(ctx context.Context, ownerUserID string) ([]*model.Connection, error)

	// ListPeerIDs は指定ユーザーのつながり相手のユーザーID一覧を返す。
	ListPeerIDs(ctx context.Context, ownerUserID string) ([]string, error)

	// ListOneSided は鏡像行が欠けた片側エッジを返す。修復スイープが使う。
	ListOneSided(ctx context.Context, limit int) ([]*model.Connection, error)

	// DeleteByUserID は指定ユーザーが関わる全エッジ（両方向）を削除する。退会処理用。
	DeleteByUserID(ctx context.Context, userID string) error
}

// ActivityRepository はアクティビティデータの永続化インターフェース。
type ActivityRepository interface {
	// FindByID は指定IDのアクティビティを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Activity, error)

	// FindByIDWithJoiners は指定IDのアクティビティを参加者一覧付きで取得する。
	// 見つからない場合はnilを返す。
	FindByIDWithJoiners(ctx context.Context, id string) (*model.ActivityWithJoiners, error)

	// Create はアクティビティと作成者の参加者行を同一トランザクションで作成する。
	Create(ctx context.Context, activity *model.Activity, owner *model.Joiner) error

	// Update はアクティビティの属性を上書き更新する。参加者と決済集計には触れない。
	Update(ctx context.Context, activity *model.Activity) error

	// Delete は指定IDのアクティビティを削除する。参加者行はCASCADE削除される。
	Delete(ctx context.Context, id string) error

	// ListVisibleTo は閲覧者に可視なアクティビティをcreated_at降順で返す。
	// 非公開アクティビティは作成者か参加者の場合のみ含める（可視性述語のSQL押し下げ）。
	// cursorがゼロ値の場合は先頭から取得する。
	ListVisibleTo(ctx context.Context, viewerID string, cursor time.Time, limit int) ([]*model.Activity, error)

	// ListByOwner は指定ユーザーが作成した全アクティビティをcreated_at降順で返す。
	ListByOwner(ctx context.Context, ownerUserID string) ([]*model.Activity, error)

	// ListJoinedBy は指定ユーザーが参加している全アクティビティを参加日時降順で返す。
	ListJoinedBy(ctx context.Context, userID string) ([]*model.Activity, error)

	// ListJoinedByPeers は指定したつながり相手たちが参加しているアクティビティを
	// 参加日時降順・カーソルベースで返す。閲覧者の可視性述語を含む。
	ListJoinedByPeers(ctx context.Context, viewerID string, peerIDs []string, cursor time.Time, limit int) ([]ActivityJoinedByPeer, error)

	// ApplyPaidJoin は参加者行のUPSERTと決済集計の加算を同一トランザクションで行う。
	// 参加者行が既にcompletedの場合は何も変更せずfalseを返す（ユーザーごとに厳密1回の加算）。
	ApplyPaidJoin(ctx context.Context, joiner *model.Joiner) (bool, error)

	// ListNeedingLinkTitle は詳細URLがありタイトル未取得のアクティビティを返す。
	ListNeedingLinkTitle(ctx context.Context, limit int) ([]*model.Activity, error)

	// UpdateLinkTitle は詳細ページのタイトルスナップショットを更新する。
	UpdateLinkTitle(ctx context.Context, id, title string) error

	// DeleteByOwner は指定ユーザーが作成した全アクティビティを削除する。退会処理用。
	DeleteByOwner(ctx context.Context, ownerUserID string) error
}

// JoinerRepository はアクティビティ参加者データの永続化インターフェース。
// 参加者は(activity_id, user_id)ごとに1行で、行単位の操作のみを行う。
type JoinerRepository interface {
	// FindByActivityAndUser は参加者行を取得する。見つからない場合はnilを返す。
	FindByActivityAndUser(ctx context.Context, activityID, userID string) (*model.Joiner, error)

	// Upsert は参加者行を冪等に作成する。
	// 既存行がある場合は何も書き込まず既存行を返す（JoinedAtは不変）。
	Upsert(ctx context.Context, joiner *model.Joiner) (*model.Joiner, error)

	// Delete は参加者行を削除する。行が存在しない場合も成功とする（冪等）。
	Delete(ctx context.Context, activityID, userID string) error

	// ListByActivity はアクティビティの参加者一覧をjoined_at昇順で返す。
	ListByActivity(ctx context.Context, activityID string) ([]model.Joiner, error)

	// ListActivityIDsByUser は指定ユーザーが参加しているアクティビティのID一覧を返す。
	ListActivityIDsByUser(ctx context.Context, userID string) ([]string, error)

	// DeleteByUserID は指定ユーザーの全参加者行を削除する。退会処理用。
	// ユーザーが作成者のアクティビティの行は、アクティビティ本体の削除に任せる。
	DeleteByUserID(ctx context.Context, userID string) error
}

// OrderRepository は決済注文データの永続化インターフェース。
type OrderRepository interface {
	// FindByID は指定IDの注文を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.PaymentOrder, error)

	// FindCreatedByActivityAndUser はアクティビティとユーザーの組に対する
	// created状態の注文を取得する。見つからない場合はnilを返す。
	FindCreatedByActivityAndUser(ctx context.Context, activityID, userID string) (*model.PaymentOrder, error)

	// Create は注文を作成する。
	Create(ctx context.Context, order *model.PaymentOrder) error

	// Complete は注文をcreated→completedに遷移させる。
	// 遷移できた場合はtrue、既にcreated以外だった場合はfalseを返す（冪等確定の基準）。
	Complete(ctx context.Context, orderID, paymentID string, completedAt time.Time) (bool, error)

	// Cancel は注文をcreated→cancelledに遷移させる。
	// 遷移できた場合はtrue、既にcreated以外だった場合はfalseを返す。
	Cancel(ctx context.Context, orderID string) (bool, error)

	// ListCompletedUnapplied は完了済みだが参加者行への反映が確認できない注文を返す。
	// 確定処理が途中で落ちた場合の回復スイープが使う。
	ListCompletedUnapplied(ctx context.Context, limit int) ([]*model.PaymentOrder, error)

	// ListStaleCreated は指定時刻より前に作成されたcreated状態の注文を返す。
	// 放置された注文を失効させるスイープが使う。
	ListStaleCreated(ctx context.Context, olderThan time.Time, limit int) ([]*model.PaymentOrder, error)

	// DeleteByUserID は指定ユーザーの全注文を削除する。退会処理用。
	DeleteByUserID(ctx context.Context, userID string) error
}

// ActivityJoinedByPeer はつながり相手の参加情報付きのアクティビティ。
// 「つながりが参加しているアクティビティ」フィードの1行に相当する。
type ActivityJoinedByPeer struct {
	model.Activity
	PeerUserID   string
	PeerName     string
	PeerJoinedAt time.Time
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
