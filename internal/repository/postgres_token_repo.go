package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/tripledger/internal/model"
)

// PostgresTokenRepo はPostgreSQLを使用した認証トークンリポジトリ。
type PostgresTokenRepo struct {
	db *sql.DB
}

// NewPostgresTokenRepo はPostgresTokenRepoを生成する。
func NewPostgresTokenRepo(db *sql.DB) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: db}
}

// Create はトークンを作成する。
func (r *PostgresTokenRepo) Create(ctx context.Context, token *model.CredentialToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auth_tokens (token, user_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4)`,
		token.Token, token.UserID, token.ExpiresAt, token.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}
	return nil
}

// FindValid は有効期限内のトークンを取得する。見つからない、または期限切れの場合はnilを返す。
func (r *PostgresTokenRepo) FindValid(ctx context.Context, token string) (*model.CredentialToken, error) {
	t := &model.CredentialToken{}
	err := r.db.QueryRowContext(ctx,
		`SELECT token, user_id, expires_at, created_at
		 FROM auth_tokens
		 WHERE token = $1 AND expires_at > now()`,
		token,
	).Scan(&t.Token, &t.UserID, &t.ExpiresAt, &t.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find token: %w", err)
	}

	return t, nil
}

// DeleteExpired はbefore以前に期限切れとなったトークンを削除し、削除件数を返す。
func (r *PostgresTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM auth_tokens WHERE expires_at <= $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ TokenRepository = (*PostgresTokenRepo)(nil)
