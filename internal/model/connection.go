// Package model はドメインモデルを定義する。
package model

import "time"

// Connection はユーザー間のつながりの片側エッジを表す。
// 論理的なつながりは、同一のConnectedAtを持つ鏡像2行（自分→相手、相手→自分）で構成される。
// 相手の表示情報はエッジ作成時点のスナップショット。
type Connection struct {
	OwnerUserID string
	PeerUserID  string
	PeerEmail   string
	PeerName    string
	ConnectedAt time.Time
	// Inconsistent は鏡像行が欠けた片側エッジであることを示す。
	// 読み取りをブロックせず、警告と修復スイープの対象になる。
	Inconsistent bool
}

// ConnectionWithStatus は閲覧者視点の注釈を付けたつながり。
// 他ユーザーのつながり一覧を表示する際に使う。
type ConnectionWithStatus struct {
	Connection
	// IsMutual は閲覧者自身もエッジの相手とつながっていることを示す。
	IsMutual bool
	// IsSelf はエッジの相手が閲覧者自身であることを示す。
	IsSelf bool
}
