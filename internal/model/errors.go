// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, partner, couple, system
	Action   string // ユーザー向け対処方法
	Field    string // 入力エラーの対象フィールド（validationのみ）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated      = "UNAUTHENTICATED"
	ErrCodeInvalidCredential    = "INVALID_CREDENTIAL"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodePartnerNotFound      = "PARTNER_NOT_FOUND"
	ErrCodeSelfLinkForbidden    = "SELF_LINK_FORBIDDEN"
	ErrCodePartnerAlreadyLinked = "PARTNER_ALREADY_LINKED"
	ErrCodeCallerAlreadyLinked  = "CALLER_ALREADY_LINKED"
	ErrCodeProvisioningFailed   = "PROVISIONING_FAILED"
	ErrCodeLinkFailed           = "LINK_FAILED"
	ErrCodeProfileNotFound      = "PROFILE_NOT_FOUND"
	ErrCodeNotLinked            = "NOT_LINKED"
	ErrCodeGoalNotFound         = "GOAL_NOT_FOUND"
	ErrCodeForbidden            = "FORBIDDEN"
	ErrCodeRateLimited          = "RATE_LIMITED"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// IsCode はerrがAPIErrorを含み、かつ指定コードを持つかを判定する。
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// NewUnauthenticatedError は認証情報が無い・不正な形式の場合のエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidCredentialError はIdPがトークンを拒否した場合のエラーを生成する。
// 原因（期限切れ・改ざん・audience不一致）はクライアントに開示しない。
func NewInvalidCredentialError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredential,
		Message:  "認証情報が無効です。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidRequestError はリクエスト内容が不正な場合のエラーを生成する。
func NewInvalidRequestError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("入力内容が不正です: %s", reason),
		Category: "validation",
		Action:   fmt.Sprintf("%s を確認してください。", field),
		Field:    field,
	}
}

// NewPartnerNotFoundError はパートナーのプロフィールが見つからない場合のエラーを生成する。
func NewPartnerNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodePartnerNotFound,
		Message:  "そのメールアドレスのユーザーが見つかりません。",
		Category: "partner",
		Action:   "パートナーが一度ログインしていることを確認してください。",
	}
}

// NewSelfLinkForbiddenError は自分自身と連携しようとした場合のエラーを生成する。
func NewSelfLinkForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeSelfLinkForbidden,
		Message:  "自分自身とは連携できません。",
		Category: "partner",
		Action:   "パートナーのメールアドレスを入力してください。",
	}
}

// NewPartnerAlreadyLinkedError はパートナーが既に他のユーザーと連携済みの場合のエラーを生成する。
func NewPartnerAlreadyLinkedError() *APIError {
	return &APIError{
		Code:     ErrCodePartnerAlreadyLinked,
		Message:  "そのユーザーは既にパートナーと連携しています。",
		Category: "partner",
		Action:   "メールアドレスが正しいか確認してください。",
	}
}

// NewCallerAlreadyLinkedError は呼び出し元が既に連携済みの場合のエラーを生成する。
func NewCallerAlreadyLinkedError() *APIError {
	return &APIError{
		Code:     ErrCodeCallerAlreadyLinked,
		Message:  "あなたは既にパートナーと連携しています。",
		Category: "partner",
		Action:   "ダッシュボードを再読み込みしてください。",
	}
}

// NewProvisioningFailedError はプロフィール作成・更新に失敗した場合のエラーを生成する。
// 内部のストレージエラーは含めない。
func NewProvisioningFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeProvisioningFailed,
		Message:  "ユーザー情報の保存に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewLinkFailedError は連携トランザクションが失敗した場合のエラーを生成する。
// トランザクションはロールバック済みのため再試行は安全。
func NewLinkFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeLinkFailed,
		Message:  "パートナーとの連携に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewProfileNotFoundError はプロフィールが未作成の場合のエラーを生成する。
func NewProfileNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileNotFound,
		Message:  "ユーザー情報が見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewNotLinkedError はパートナー未連携のユーザーが共有データにアクセスした場合のエラーを生成する。
func NewNotLinkedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotLinked,
		Message:  "パートナーとまだ連携していません。",
		Category: "couple",
		Action:   "パートナーのメールアドレスを入力して連携してください。",
	}
}

// NewGoalNotFoundError は目標が見つからない場合のエラーを生成する。
func NewGoalNotFoundError(goalID string) *APIError {
	return &APIError{
		Code:     ErrCodeGoalNotFound,
		Message:  fmt.Sprintf("指定された目標が見つかりません: %s", goalID),
		Category: "couple",
		Action:   "目標一覧を再読み込みしてください。",
	}
}

// NewForbiddenError は他のカップルのデータにアクセスしようとした場合のエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "このデータにはアクセスできません。",
		Category: "couple",
		Action:   "自分またはパートナーのデータのみ参照できます。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
