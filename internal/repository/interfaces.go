// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/tripledger/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// TokenRepository は認証トークンの永続化インターフェース。
type TokenRepository interface {
	// Create はトークンを作成する。
	Create(ctx context.Context, token *model.CredentialToken) error
	// FindValid は有効期限内のトークンを取得する。見つからない、または期限切れの場合はnilを返す。
	FindValid(ctx context.Context, token string) (*model.CredentialToken, error)
	// DeleteExpired はbefore以前に期限切れとなったトークンを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
