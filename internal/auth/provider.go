// Package auth はセッションごとのIDの確立（トークン交換、匿名サインイン、ローカルフォールバック）を提供する。
package auth

import (
	"context"
	"slices"
	"sync"

	"github.com/hitoshi/tripledger/internal/model"
)

// Provider はIDを発行するIdPのインターフェース。
type Provider interface {
	// SignInWithToken は事前発行されたトークンを交換してIDを得る。
	SignInWithToken(ctx context.Context, token string) (model.Identity, error)
	// SignInAnonymously は匿名ユーザーとしてサインインする。
	SignInAnonymously(ctx context.Context) (model.Identity, error)
	// OnIdentityChange はサインイン状態の変化を受け取るリスナーを登録する。
	// サインイン成功時、リスナーはサインインの呼び出し内で同期的に呼ばれる。
	// 戻り値の関数でリスナーを解除する。複数回呼び出しても安全。
	OnIdentityChange(fn func(model.Identity)) (unsubscribe func())
}

// listenerRegistry はIDの変更リスナーを管理する。
type listenerRegistry struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]func(model.Identity)
}

func (r *listenerRegistry) add(fn func(model.Identity)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.listeners == nil {
		r.listeners = make(map[int]func(model.Identity))
	}
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.listeners, id)
		})
	}
}

// notify は登録順にリスナーを呼び出す。ロックは呼び出し前に解放する。
func (r *listenerRegistry) notify(identity model.Identity) {
	r.mu.Lock()
	ids := make([]int, 0, len(r.listeners))
	for id := range r.listeners {
		ids = append(ids, id)
	}
	fns := make([]func(model.Identity), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, r.listeners[id])
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(identity)
	}
}

func (r *listenerRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}
