// Package visibility は活動の可視性判定を提供する。
// 非公開の活動は主催者と参加者にだけ見える。判定は純粋関数であり、
// リポジトリのリストクエリが同じ述語をSQL側でも適用する。
package visibility

import (
	"github.com/hitoshi/tsudoi/internal/model"
)

// Visible は活動が閲覧者に見えるかを判定する。
// joined は閲覧者が参加している活動IDの集合（nilの場合は未参加扱い）。
func Visible(a *model.Activity, viewerID string, joined map[string]bool) bool {
	if !a.IsPrivate {
		return true
	}
	if a.OwnerUserID == viewerID {
		return true
	}
	return joined[a.ID]
}

// VisibleWithJoiners は参加者リストを持つ活動の可視性を判定する。
func VisibleWithJoiners(a *model.ActivityWithJoiners, viewerID string) bool {
	if !a.IsPrivate {
		return true
	}
	if a.OwnerUserID == viewerID {
		return true
	}
	return a.HasJoiner(viewerID)
}

// FilterForViewer は閲覧者に見えない活動を取り除いたスライスを返す。
// 元の順序を保つ。IDによる単体取得には適用しない（非公開リンク共有のため）。
func FilterForViewer(activities []*model.Activity, viewerID string, joined map[string]bool) []*model.Activity {
	filtered := make([]*model.Activity, 0, len(activities))
	for _, a := range activities {
		if Visible(a, viewerID, joined) {
			filtered = append(filtered, a)
		}
	}
	return filtered
}
