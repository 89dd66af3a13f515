package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/tripledger/internal/model"
	"github.com/hitoshi/tripledger/internal/repository"
)

// ErrTokenNotFound はトークンが存在しない、または期限切れの場合のエラー。
var ErrTokenNotFound = errors.New("credential token not found or expired")

// PostgresProviderConfig はPostgresProviderの設定。
type PostgresProviderConfig struct {
	TokenTTL time.Duration // IssueTokenで発行するトークンの有効期間
}

// PostgresProvider はusers、auth_tokensテーブルを使用するIdP。
// 匿名サインインはユーザーを新規作成し、トークンサインインは既存ユーザーを再開する。
type PostgresProvider struct {
	userRepo  repository.UserRepository
	tokenRepo repository.TokenRepository
	config    PostgresProviderConfig
	listeners listenerRegistry
}

// NewPostgresProvider はPostgresProviderを生成する。
func NewPostgresProvider(
	userRepo repository.UserRepository,
	tokenRepo repository.TokenRepository,
	config PostgresProviderConfig,
) *PostgresProvider {
	return &PostgresProvider{
		userRepo:  userRepo,
		tokenRepo: tokenRepo,
		config:    config,
	}
}

// SignInWithToken はトークンに紐づくユーザーとしてサインインする。
func (p *PostgresProvider) SignInWithToken(ctx context.Context, token string) (model.Identity, error) {
	if token == "" {
		return model.Identity{}, ErrTokenNotFound
	}

	t, err := p.tokenRepo.FindValid(ctx, token)
	if err != nil {
		return model.Identity{}, fmt.Errorf("failed to find token: %w", err)
	}
	if t == nil {
		return model.Identity{}, ErrTokenNotFound
	}

	identity := model.Identity{UserID: t.UserID}
	slog.Info("signed in with token", slog.String("user_id", identity.UserID))
	p.listeners.notify(identity)
	return identity, nil
}

// SignInAnonymously は匿名ユーザーを作成してサインインする。
func (p *PostgresProvider) SignInAnonymously(ctx context.Context) (model.Identity, error) {
	user := &model.User{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
	}
	if err := p.userRepo.Create(ctx, user); err != nil {
		return model.Identity{}, fmt.Errorf("failed to create anonymous user: %w", err)
	}

	identity := model.Identity{UserID: user.ID}
	slog.Info("signed in anonymously", slog.String("user_id", identity.UserID))
	p.listeners.notify(identity)
	return identity, nil
}

// OnIdentityChange はサインイン成功時に呼ばれるリスナーを登録する。
func (p *PostgresProvider) OnIdentityChange(fn func(model.Identity)) func() {
	return p.listeners.add(fn)
}

// IssueToken は既存ユーザーのセッションを再開するためのトークンを発行する。
func (p *PostgresProvider) IssueToken(ctx context.Context, userID string) (*model.CredentialToken, error) {
	user, err := p.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user not found: %s", userID)
	}

	value, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	now := time.Now()
	token := &model.CredentialToken{
		Token:     value,
		UserID:    userID,
		ExpiresAt: now.Add(p.config.TokenTTL),
		CreatedAt: now,
	}
	if err := p.tokenRepo.Create(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to save token: %w", err)
	}
	return token, nil
}

// generateToken は暗号的に安全なトークン文字列を生成する。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// compile-time interface check
var _ Provider = (*PostgresProvider)(nil)
