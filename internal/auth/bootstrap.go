package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/hitoshi/tripledger/internal/model"
)

// Method はIDを確立した経路を表す。
type Method string

const (
	// MethodNone はIDが未確立であることを示す。
	MethodNone Method = ""
	// MethodToken は事前発行トークンの交換によるID。
	MethodToken Method = "token"
	// MethodAnonymous は匿名サインインによるID。
	MethodAnonymous Method = "anonymous"
	// MethodLocal はローカル生成のID（縮退モード）。IdPには登録されていない。
	MethodLocal Method = "local"
	// MethodExternal はBootstrap完了後にIdP側のサインイン状態の変化で得たID。
	MethodExternal Method = "external"
)

// Recorder はブートストラップの結果を記録するインターフェース。
type Recorder interface {
	RecordBootstrap(method string)
	RecordAuthFailure(method string)
}

type nopRecorder struct{}

func (nopRecorder) RecordBootstrap(string)   {}
func (nopRecorder) RecordAuthFailure(string) {}

// Option はBootstrapperの設定を変更する。
type Option func(*Bootstrapper)

// WithRecorder はメトリクスの記録先を設定する。
func WithRecorder(r Recorder) Option {
	return func(b *Bootstrapper) { b.recorder = r }
}

// WithLocalIDGenerator はローカルフォールバックIDの生成方法を差し替える。
func WithLocalIDGenerator(fn func() string) Option {
	return func(b *Bootstrapper) { b.newLocalID = fn }
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) Option {
	return func(b *Bootstrapper) { b.logger = l }
}

// Bootstrapper はデータアクセスに先立ってセッションのIDを確立する。
//
// トークンが与えられた場合はトークン交換、失敗したら匿名サインイン、
// それも失敗したらローカルでランダムなIDを生成する。
// IDが確定すると購読者へ同期的に通知し、その後にReadyがtrueになる。
type Bootstrapper struct {
	provider   Provider
	recorder   Recorder
	newLocalID func() string
	logger     *slog.Logger

	// notifyMu はIDの反映と購読者への通知をまとめて直列化する。muより先に取得する。
	notifyMu sync.Mutex

	mu            sync.Mutex
	started       bool
	bootstrapping bool
	closed        bool
	attempt       Method
	method        Method
	identity      model.Identity
	err           error
	unsubscribe   func()

	ready     chan struct{}
	readyOnce sync.Once

	subscribers listenerRegistry
}

// NewBootstrapper はBootstrapperを生成する。
func NewBootstrapper(provider Provider, opts ...Option) *Bootstrapper {
	b := &Bootstrapper{
		provider:   provider,
		recorder:   nopRecorder{},
		newLocalID: func() string { return uuid.New().String() },
		logger:     slog.Default(),
		ready:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe はIDの確立および変更を受け取る関数を登録する。
// 通知はBootstrapの呼び出し内で同期的に行われる。
func (b *Bootstrapper) Subscribe(fn func(model.Identity)) (unsubscribe func()) {
	return b.subscribers.add(fn)
}

// Bootstrap はIDを確立して返す。2回目以降の呼び出しは確立済みのIDを待って返す。
// すべてのサインインが失敗してもローカルIDで成功する。エラーはctxが終了した場合のみ。
func (b *Bootstrapper) Bootstrap(ctx context.Context, token string) (model.Identity, error) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return b.WaitReady(ctx)
	}
	b.started = true
	b.bootstrapping = true
	b.unsubscribe = b.provider.OnIdentityChange(b.handleChange)
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.bootstrapping = false
		b.mu.Unlock()
	}()

	var errs []error

	if token != "" {
		identity, err := b.signIn(MethodToken, func() (model.Identity, error) {
			return b.provider.SignInWithToken(ctx, token)
		})
		if err == nil {
			return identity, nil
		}
		errs = append(errs, err)
	}

	identity, err := b.signIn(MethodAnonymous, func() (model.Identity, error) {
		return b.provider.SignInAnonymously(ctx)
	})
	if err == nil {
		b.setErr(errors.Join(errs...))
		return identity, nil
	}
	errs = append(errs, err)

	// IdPに知られていないIDでの縮退モード。書き込みは試みるがセッションをまたいだ復元はできない。
	b.mu.Lock()
	b.attempt = MethodLocal
	b.mu.Unlock()

	local := model.Identity{UserID: b.newLocalID(), Degraded: true}
	b.logger.Warn("all sign-in methods failed, using local identity",
		slog.String("user_id", local.UserID),
		slog.String("error", errors.Join(errs...).Error()),
	)
	b.setErr(errors.Join(errs...))
	b.handleChange(local)

	return local, nil
}

func (b *Bootstrapper) signIn(method Method, fn func() (model.Identity, error)) (model.Identity, error) {
	b.mu.Lock()
	b.attempt = method
	b.mu.Unlock()

	identity, err := fn()
	if err == nil && identity.IsZero() {
		err = errors.New("provider returned an empty identity")
	}
	if err != nil {
		b.recorder.RecordAuthFailure(string(method))
		b.logger.Warn("sign-in failed",
			slog.String("method", string(method)),
			slog.String("error", err.Error()),
		)
		return model.Identity{}, model.NewAuthError(string(method), err)
	}

	// プロバイダーがリスナーを呼ばなかった場合に備えて反映する（重複は無視される）
	b.handleChange(identity)
	return identity, nil
}

// handleChange はIDの変化を反映し、購読者へ通知したうえでReadyにする。
// 購読者は常にb.identityに反映された順で通知を受け取る。
// 経路はBootstrap中の変化ならその試行、それ以外はMethodExternalとして記録する。
func (b *Bootstrapper) handleChange(identity model.Identity) {
	if identity.IsZero() {
		return
	}

	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()

	b.mu.Lock()
	if b.closed || identity == b.identity {
		b.mu.Unlock()
		return
	}
	b.identity = identity
	if b.bootstrapping {
		b.method = b.attempt
	} else {
		b.method = MethodExternal
	}
	method := b.method
	b.mu.Unlock()

	b.recorder.RecordBootstrap(string(method))
	b.logger.Info("identity established",
		slog.String("user_id", identity.UserID),
		slog.String("method", string(method)),
		slog.Bool("degraded", identity.Degraded),
	)

	b.subscribers.notify(identity)
	b.readyOnce.Do(func() { close(b.ready) })
}

func (b *Bootstrapper) setErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// Ready はIDが確立済みかどうかを返す。依存する処理はtrueになるまで開始しないこと。
func (b *Bootstrapper) Ready() bool {
	select {
	case <-b.ready:
		return true
	default:
		return false
	}
}

// WaitReady はIDが確立するかctxが終了するまで待つ。
func (b *Bootstrapper) WaitReady(ctx context.Context) (model.Identity, error) {
	select {
	case <-b.ready:
		return b.Identity(), nil
	case <-ctx.Done():
		return model.Identity{}, ctx.Err()
	}
}

// Identity は現在のIDを返す。未確立の場合はゼロ値。
func (b *Bootstrapper) Identity() model.Identity {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.identity
}

// Method は現在のIDを確立した経路を返す。
func (b *Bootstrapper) Method() Method {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.method
}

// Err はフォールバックに至ったサインイン失敗をまとめて返す。失敗がなければnil。
func (b *Bootstrapper) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Close はプロバイダーへのリスナー登録を解除する。複数回呼び出しても安全。
func (b *Bootstrapper) Close() {
	b.mu.Lock()
	b.closed = true
	unsubscribe := b.unsubscribe
	b.unsubscribe = nil
	b.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}
