// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, connection, activity, payment, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeActivityNotFound   = "ACTIVITY_NOT_FOUND"
	ErrCodeOrderNotFound      = "ORDER_NOT_FOUND"
	ErrCodeConnectionNotFound = "CONNECTION_NOT_FOUND"
	ErrCodePermissionDenied   = "PERMISSION_DENIED"
	ErrCodeAlreadyConnected   = "ALREADY_CONNECTED"
	ErrCodeSelfConnection     = "SELF_CONNECTION"
	ErrCodePaymentRequired    = "PAYMENT_REQUIRED"
	ErrCodePaymentNotRequired = "PAYMENT_NOT_REQUIRED"
	ErrCodeVerificationFailed = "VERIFICATION_FAILED"
	ErrCodeOrderCompleted     = "ORDER_COMPLETED"
	ErrCodeOwnerCannotLeave   = "OWNER_CANNOT_LEAVE"
	ErrCodeInvalidURL         = "INVALID_URL"
	ErrCodeSSRFBlocked        = "SSRF_BLOCKED"
	ErrCodeInvalidActivity    = "INVALID_ACTIVITY"
)

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewUserNotFoundByEmailError は指定メールアドレスのユーザーが存在しない場合のエラーを生成する。
func NewUserNotFoundByEmailError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("指定されたメールアドレスのユーザーが見つかりません: %s", email),
		Category: "connection",
		Action:   "メールアドレスが正しいか、相手が登録済みか確認してください。",
	}
}

// NewActivityNotFoundError はアクティビティが見つからない場合のエラーを生成する。
func NewActivityNotFoundError(activityID string) *APIError {
	return &APIError{
		Code:     ErrCodeActivityNotFound,
		Message:  fmt.Sprintf("指定されたアクティビティが見つかりません: %s", activityID),
		Category: "activity",
		Action:   "アクティビティIDを確認してください。削除された可能性があります。",
	}
}

// NewOrderNotFoundError は決済注文が見つからない場合のエラーを生成する。
func NewOrderNotFoundError(orderID string) *APIError {
	return &APIError{
		Code:     ErrCodeOrderNotFound,
		Message:  fmt.Sprintf("指定された決済注文が見つかりません: %s", orderID),
		Category: "payment",
		Action:   "注文IDを確認してください。",
	}
}

// NewConnectionNotFoundError はつながりが存在しない場合のエラーを生成する。
func NewConnectionNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeConnectionNotFound,
		Message:  "指定されたユーザーとのつながりがありません。",
		Category: "connection",
		Action:   "つながり一覧を確認してください。",
	}
}

// NewPermissionDeniedError は所有者以外による変更操作のエラーを生成する。
func NewPermissionDeniedError() *APIError {
	return &APIError{
		Code:     ErrCodePermissionDenied,
		Message:  "この操作を行う権限がありません。",
		Category: "activity",
		Action:   "アクティビティの変更と削除は作成者のみが実行できます。",
	}
}

// NewAlreadyConnectedError は既につながっている相手への接続エラーを生成する。
func NewAlreadyConnectedError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyConnected,
		Message:  "このユーザーとは既につながっています。",
		Category: "connection",
		Action:   "つながり一覧から該当ユーザーを確認してください。",
	}
}

// NewSelfConnectionError は自分自身への接続エラーを生成する。
func NewSelfConnectionError() *APIError {
	return &APIError{
		Code:     ErrCodeSelfConnection,
		Message:  "自分自身とつながることはできません。",
		Category: "connection",
		Action:   "他のユーザーのメールアドレスを指定してください。",
	}
}

// NewPaymentRequiredError は有料アクティビティへの未決済参加エラーを生成する。
// 参加フローでは通常エラーではなくJoinResultで返す。検証の最終防壁として使う。
func NewPaymentRequiredError(activityID string) *APIError {
	return &APIError{
		Code:     ErrCodePaymentRequired,
		Message:  fmt.Sprintf("このアクティビティへの参加には決済が必要です: %s", activityID),
		Category: "payment",
		Action:   "決済を完了してから参加してください。",
	}
}

// NewPaymentNotRequiredError は無料アクティビティへの注文作成エラーを生成する。
func NewPaymentNotRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodePaymentNotRequired,
		Message:  "このアクティビティに決済は不要です。",
		Category: "payment",
		Action:   "そのまま参加できます。",
	}
}

// NewVerificationFailedError は決済署名の検証失敗エラーを生成する。
func NewVerificationFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeVerificationFailed,
		Message:  "決済の検証に失敗しました。",
		Category: "payment",
		Action:   "決済は確定していません。時間をおいて再度お試しください。",
	}
}

// NewOrderCompletedError は完了済み注文への変更操作エラーを生成する。
func NewOrderCompletedError(orderID string) *APIError {
	return &APIError{
		Code:     ErrCodeOrderCompleted,
		Message:  fmt.Sprintf("この決済注文は既に完了しています: %s", orderID),
		Category: "payment",
		Action:   "完了済みの注文はキャンセルできません。",
	}
}

// NewOwnerCannotLeaveError は作成者自身の離脱エラーを生成する。
func NewOwnerCannotLeaveError() *APIError {
	return &APIError{
		Code:     ErrCodeOwnerCannotLeave,
		Message:  "作成者はアクティビティから離脱できません。",
		Category: "activity",
		Action:   "アクティビティ自体を削除してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを入力してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewInvalidActivityError はアクティビティ入力の検証エラーを生成する。
func NewInvalidActivityError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidActivity,
		Message:  fmt.Sprintf("アクティビティの入力が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}
