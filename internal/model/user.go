// Package model はドメインモデルを定義する。
package model

import "time"

// Identity はセッション中のユーザーを識別する不透明なID。
// Degradedはローカル生成のIDであり、IdPに登録されていないことを示す。
type Identity struct {
	UserID   string
	Degraded bool
}

// IsZero はIDが未確定かどうかを返す。
func (i Identity) IsZero() bool {
	return i.UserID == ""
}

// User は匿名またはトークンでサインインしたユーザーを表す。
type User struct {
	ID        string
	CreatedAt time.Time
}

// CredentialToken はセッションを再開するための事前発行トークン。
type CredentialToken struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
