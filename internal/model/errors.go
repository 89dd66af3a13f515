// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind は同期エラーの分類を表す。
type ErrorKind string

const (
	// KindAuth はサインイン失敗。フォールバックの連鎖を起動する。
	KindAuth ErrorKind = "auth"
	// KindValidation は入力不正。ネットワーク呼び出し前に拒否される。
	KindValidation ErrorKind = "validation"
	// KindSubscription はプッシュチャネルのエラー。購読は継続する。
	KindSubscription ErrorKind = "subscription"
	// KindWrite は書き込み失敗。呼び出し元が再送できる。
	KindWrite ErrorKind = "write"
)

// SyncError は同期エンジンの統一エラーフォーマット。
// UIに表示する原因カテゴリと対処方法を含む。
type SyncError struct {
	Kind    ErrorKind
	Code    string // エラーコード
	Message string // エラーメッセージ
	Action  string // ユーザー向け対処方法
	Err     error  // 原因
}

// Error はerrorインターフェースを実装する。
func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *SyncError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeInvalidAmount      = "INVALID_AMOUNT"
	ErrCodeEmptyDescription   = "EMPTY_DESCRIPTION"
	ErrCodeInvalidCurrency    = "INVALID_CURRENCY"
	ErrCodeNotReady           = "NOT_READY"
	ErrCodeWriteFailed        = "WRITE_FAILED"
	ErrCodeSubscriptionFailed = "SUBSCRIPTION_FAILED"
	ErrCodeSignInFailed       = "SIGN_IN_FAILED"
	ErrCodeInvalidPath        = "INVALID_PATH"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
)

// IsKind はerrがkindに分類されるSyncErrorを含むかどうかを返す。
func IsKind(err error, kind ErrorKind) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// NewInvalidAmountError は金額不正エラーを生成する。
func NewInvalidAmountError(raw string) *SyncError {
	return &SyncError{
		Kind:    KindValidation,
		Code:    ErrCodeInvalidAmount,
		Message: fmt.Sprintf("金額が不正です: %q", raw),
		Action:  "0より大きい数値を入力してください。",
	}
}

// NewEmptyDescriptionError は内容未入力エラーを生成する。
func NewEmptyDescriptionError() *SyncError {
	return &SyncError{
		Kind:    KindValidation,
		Code:    ErrCodeEmptyDescription,
		Message: "内容が入力されていません。",
		Action:  "支出の内容を入力してください。",
	}
}

// NewInvalidCurrencyError は通貨不正エラーを生成する。
func NewInvalidCurrencyError(raw string) *SyncError {
	return &SyncError{
		Kind:    KindValidation,
		Code:    ErrCodeInvalidCurrency,
		Message: fmt.Sprintf("サポートされていない通貨です: %q", raw),
		Action:  "JPY または TWD を指定してください。",
	}
}

// NewNotReadyError は購読が開始されていない状態での書き込みエラーを生成する。
func NewNotReadyError() *SyncError {
	return &SyncError{
		Kind:    KindWrite,
		Code:    ErrCodeNotReady,
		Message: "初期化中のため保存できません。",
		Action:  "しばらく待ってから再度お試しください。",
	}
}

// NewWriteError は書き込み失敗エラーを生成する。
func NewWriteError(err error) *SyncError {
	return &SyncError{
		Kind:    KindWrite,
		Code:    ErrCodeWriteFailed,
		Message: "支出の保存に失敗しました。",
		Action:  "同じ内容でもう一度送信してください。",
		Err:     err,
	}
}

// NewSubscriptionError は購読エラーを生成する。
func NewSubscriptionError(err error) *SyncError {
	return &SyncError{
		Kind:    KindSubscription,
		Code:    ErrCodeSubscriptionFailed,
		Message: "支出一覧の同期に失敗しました。",
		Action:  "表示中の一覧は最後に同期した内容です。自動的に再試行されます。",
		Err:     err,
	}
}

// NewAuthError はサインイン失敗エラーを生成する。
func NewAuthError(method string, err error) *SyncError {
	return &SyncError{
		Kind:    KindAuth,
		Code:    ErrCodeSignInFailed,
		Message: fmt.Sprintf("サインインに失敗しました (%s)", method),
		Action:  "別の方法でサインインを試みます。",
		Err:     err,
	}
}

// NewInvalidPathError はコレクションパス不正エラーを生成する。
func NewInvalidPathError(reason string) *SyncError {
	return &SyncError{
		Kind:    KindValidation,
		Code:    ErrCodeInvalidPath,
		Message: fmt.Sprintf("コレクションパスが不正です: %s", reason),
		Action:  "アプリケーションIDとユーザーIDを確認してください。",
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *SyncError {
	return &SyncError{
		Kind:    KindValidation,
		Code:    ErrCodeInvalidRequest,
		Message: "リクエストボディの解析に失敗しました。",
		Action:  "正しいJSON形式でリクエストしてください。",
	}
}
