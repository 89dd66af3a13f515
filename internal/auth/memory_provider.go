package auth

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/hitoshi/tripledger/internal/model"
)

// ErrAnonymousDisabled はMemoryProviderで匿名サインインが無効な場合のエラー。
var ErrAnonymousDisabled = errors.New("anonymous sign-in is disabled")

// MemoryProvider はプロセス内で完結するIdP。
// STORE_BACKEND=memory での起動とテストで使用する。
type MemoryProvider struct {
	mu               sync.Mutex
	tokens           map[string]string // token -> userID
	anonymousEnabled bool
	listeners        listenerRegistry
}

// NewMemoryProvider はMemoryProviderを生成する。匿名サインインは有効。
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		tokens:           make(map[string]string),
		anonymousEnabled: true,
	}
}

// AddToken はtokenでuserIDとしてサインインできるようにする。
func (p *MemoryProvider) AddToken(token, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens[token] = userID
}

// SetAnonymousEnabled は匿名サインインの可否を切り替える。
func (p *MemoryProvider) SetAnonymousEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.anonymousEnabled = enabled
}

// SignInWithToken はAddTokenで登録されたトークンでサインインする。
func (p *MemoryProvider) SignInWithToken(ctx context.Context, token string) (model.Identity, error) {
	if err := ctx.Err(); err != nil {
		return model.Identity{}, err
	}

	p.mu.Lock()
	userID, ok := p.tokens[token]
	p.mu.Unlock()
	if !ok {
		return model.Identity{}, ErrTokenNotFound
	}

	identity := model.Identity{UserID: userID}
	p.listeners.notify(identity)
	return identity, nil
}

// SignInAnonymously は新しいユーザーIDを払い出してサインインする。
func (p *MemoryProvider) SignInAnonymously(ctx context.Context) (model.Identity, error) {
	if err := ctx.Err(); err != nil {
		return model.Identity{}, err
	}

	p.mu.Lock()
	enabled := p.anonymousEnabled
	p.mu.Unlock()
	if !enabled {
		return model.Identity{}, ErrAnonymousDisabled
	}

	identity := model.Identity{UserID: uuid.New().String()}
	p.listeners.notify(identity)
	return identity, nil
}

// OnIdentityChange はサインイン成功時に呼ばれるリスナーを登録する。
func (p *MemoryProvider) OnIdentityChange(fn func(model.Identity)) func() {
	return p.listeners.add(fn)
}

// ListenerCount は登録中のリスナー数を返す。テスト用。
func (p *MemoryProvider) ListenerCount() int {
	return p.listeners.count()
}

// compile-time interface check
var _ Provider = (*MemoryProvider)(nil)
