// Package ledger は支出コレクションの同期エンジンを提供する。
//
// エンジンはIDごとにリモートコレクションを購読し、プッシュされたスナップショットで
// ローカルのミラーを全置換する。追記はサーバータイムスタンプを要求して1回だけ書き込み、
// ミラーには触れない。書き込んだレコードは次のスナップショットで表示される。
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/tripledger/internal/model"
	"github.com/hitoshi/tripledger/internal/store"
)

// Status は同期エンジンの状態を表す。
type Status string

const (
	StatusIdle        Status = "idle"
	StatusSubscribing Status = "subscribing"
	StatusLive        Status = "live"
	StatusError       Status = "error"
	StatusClosed      Status = "closed"
)

// ErrClosed はClose後のエンジンを操作した場合のエラー。
var ErrClosed = errors.New("ledger engine is closed")

// Append結果のラベル
const (
	AppendResultOK       = "ok"
	AppendResultInvalid  = "invalid"
	AppendResultNotReady = "not_ready"
	AppendResultError    = "error"
)

// Recorder は同期エンジンのメトリクス記録先。
type Recorder interface {
	RecordSnapshot(records int)
	RecordSubscriptionError()
	RecordAppend(result string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordSnapshot(int)                 {}
func (nopRecorder) RecordSubscriptionError()           {}
func (nopRecorder) RecordAppend(string, time.Duration) {}

// View はプレゼンテーション向けの読み取り専用スナップショット。
type View struct {
	Identity         model.Identity
	Status           Status
	Loading          bool
	Records          []model.Expense
	Total            decimal.Decimal
	TotalsByCurrency map[model.Currency]decimal.Decimal
	Err              error
}

// Option はEngineの設定を変更する。
type Option func(*Engine)

// WithSanitizer は説明文のサニタイザーを設定する。
func WithSanitizer(s Sanitizer) Option {
	return func(e *Engine) { e.sanitizer = s }
}

// WithRecorder はメトリクスの記録先を設定する。
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithDefaultCurrency は通貨未指定の入力に使う通貨を設定する。
func WithDefaultCurrency(c model.Currency) Option {
	return func(e *Engine) { e.defaultCurrency = c }
}

// Engine は支出同期のステートマシン。
// storeがnilの場合はIDが設定されてもIdleのまま、追記はNotReadyで拒否する。
type Engine struct {
	store           store.CollectionStore
	appID           string
	sanitizer       Sanitizer
	recorder        Recorder
	logger          *slog.Logger
	defaultCurrency model.Currency

	mu       sync.RWMutex
	identity model.Identity
	path     string
	status   Status
	records  []model.Expense
	err      error
	gen      uint64 // 購読の世代。古い世代のスナップショットは適用しない
	sub      store.Subscription
	closed   bool

	watchers    map[int]chan View
	nextWatcher int

	wg sync.WaitGroup
}

// NewEngine はEngineを生成する。状態はIdleから始まる。
func NewEngine(st store.CollectionStore, appID string, opts ...Option) *Engine {
	e := &Engine{
		store:           st,
		appID:           appID,
		recorder:        nopRecorder{},
		logger:          slog.Default(),
		defaultCurrency: model.CurrencyJPY,
		status:          StatusIdle,
		watchers:        make(map[int]chan View),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetIdentity はidのコレクションの購読に切り替える。
// 古い購読を閉じてから新しい購読を開く。同じIDで購読中なら何もしない。
// 購読の開始に失敗した場合は状態をErrorにしてエラーを返す。
func (e *Engine) SetIdentity(ctx context.Context, id model.Identity) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if id == e.identity && e.sub != nil {
		e.mu.Unlock()
		return nil
	}

	e.gen++
	gen := e.gen
	old := e.sub
	e.sub = nil
	if old != nil {
		e.status = StatusClosed
		e.notifyLocked()
	}

	e.identity = id
	e.records = nil
	e.err = nil
	e.path = ""

	if e.store == nil || id.IsZero() {
		e.status = StatusIdle
		e.notifyLocked()
		e.mu.Unlock()
		closeSubscription(old)
		return nil
	}

	path, err := store.CollectionPath(e.appID, id.UserID)
	if err != nil {
		e.status = StatusError
		e.err = err
		e.notifyLocked()
		e.mu.Unlock()
		closeSubscription(old)
		return err
	}
	e.path = path
	e.status = StatusSubscribing
	e.notifyLocked()
	e.mu.Unlock()

	closeSubscription(old)

	sub, err := e.store.Subscribe(ctx, path)

	e.mu.Lock()
	if gen != e.gen || e.closed {
		// 購読中に別のIDへ切り替わった
		e.mu.Unlock()
		closeSubscription(sub)
		return nil
	}
	if err != nil {
		e.status = StatusError
		e.err = model.NewSubscriptionError(err)
		e.recorder.RecordSubscriptionError()
		e.notifyLocked()
		serr := e.err
		e.mu.Unlock()
		e.logger.Error("failed to subscribe",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return serr
	}
	e.sub = sub
	e.wg.Add(1)
	e.mu.Unlock()

	e.logger.Info("subscribed to expenses",
		slog.String("path", path),
		slog.Bool("degraded", id.Degraded),
	)

	go e.reconcile(gen, sub)
	return nil
}

func closeSubscription(sub store.Subscription) {
	if sub != nil {
		sub.Close()
	}
}

// reconcile は購読ごとに1つ起動し、スナップショットを順に適用する。
func (e *Engine) reconcile(gen uint64, sub store.Subscription) {
	defer e.wg.Done()

	for {
		select {
		case <-sub.Done():
			return
		case snap := <-sub.Snapshots():
			e.apply(gen, snap)
		}
	}
}

// apply はスナップショットをミラーに反映する。genが現在の世代と異なる場合は破棄する。
// エラー通知の場合はミラーを保持したまま状態をErrorにする。
func (e *Engine) apply(gen uint64, snap store.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.gen || e.closed {
		return
	}

	if snap.Err != nil {
		e.status = StatusError
		e.err = model.NewSubscriptionError(snap.Err)
		e.recorder.RecordSubscriptionError()
		e.logger.Warn("subscription error",
			slog.String("path", e.path),
			slog.String("error", snap.Err.Error()),
		)
		e.notifyLocked()
		return
	}

	e.records = sortedCopy(snap.Expenses)
	e.status = StatusLive
	e.err = nil
	e.recorder.RecordSnapshot(len(e.records))
	e.notifyLocked()
}

// Append は入力を検証し、現在のIDのコレクションへ1回だけ書き込む。
// ミラーは変更しない。検証エラーの場合は書き込みを行わない。
func (e *Engine) Append(ctx context.Context, draft model.ExpenseDraft) error {
	doc, err := Validate(draft, e.defaultCurrency, e.sanitizer)
	if err != nil {
		e.recorder.RecordAppend(AppendResultInvalid, 0)
		return err
	}

	e.mu.RLock()
	path := e.path
	status := e.status
	e.mu.RUnlock()

	if path == "" || status == StatusIdle || status == StatusClosed {
		e.recorder.RecordAppend(AppendResultNotReady, 0)
		return model.NewNotReadyError()
	}

	start := time.Now()
	id, err := e.store.Append(ctx, path, doc)
	elapsed := time.Since(start)
	if err != nil {
		e.recorder.RecordAppend(AppendResultError, elapsed)
		e.logger.Error("failed to append expense",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return model.NewWriteError(err)
	}

	e.recorder.RecordAppend(AppendResultOK, elapsed)
	e.logger.Info("expense appended",
		slog.String("id", id),
		slog.String("currency", string(doc.Currency)),
		slog.Duration("duration", elapsed),
	)
	return nil
}

// Total はミラー全体の金額合計を返す。通貨の換算は行わない。
func (e *Engine) Total() decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return sum(e.records)
}

// TotalsByCurrency は通貨ごとの合計を返す。
func (e *Engine) TotalsByCurrency() map[model.Currency]decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return sumByCurrency(e.records)
}

// Status は現在の状態を返す。
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Identity は購読中のIDを返す。
func (e *Engine) Identity() model.Identity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.identity
}

// Records はミラーの複製を表示順で返す。
func (e *Engine) Records() []model.Expense {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]model.Expense, len(e.records))
	copy(out, e.records)
	return out
}

// Err は直近の購読エラーを返す。次のスナップショットでクリアされる。
func (e *Engine) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.err
}

// View は現在の状態の読み取り専用スナップショットを返す。
func (e *Engine) View() View {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.viewLocked()
}

func (e *Engine) viewLocked() View {
	records := make([]model.Expense, len(e.records))
	copy(records, e.records)
	return View{
		Identity:         e.identity,
		Status:           e.status,
		Loading:          e.status == StatusSubscribing,
		Records:          records,
		Total:            sum(records),
		TotalsByCurrency: sumByCurrency(records),
		Err:              e.err,
	}
}

// Watch は状態が変わるたびにViewを受け取るチャネルを返す。
// 登録時点のViewが最初に届く。受信が追いつかない場合は最新のViewだけが残る。
// チャネルはcancelまたはCloseで閉じられる。
func (e *Engine) Watch() (<-chan View, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan View, 1)
	if e.closed {
		ch <- e.viewLocked()
		close(ch)
		return ch, func() {}
	}

	id := e.nextWatcher
	e.nextWatcher++
	e.watchers[id] = ch
	ch <- e.viewLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if w, ok := e.watchers[id]; ok {
				delete(e.watchers, id)
				close(w)
			}
		})
	}
}

// notifyLocked はe.muを保持した状態で呼び出すこと。
func (e *Engine) notifyLocked() {
	if len(e.watchers) == 0 {
		return
	}
	v := e.viewLocked()
	for _, ch := range e.watchers {
		for {
			select {
			case ch <- v:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Close は購読を解除してミラーを破棄する。複数回呼び出しても安全。
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.gen++
	sub := e.sub
	e.sub = nil
	e.records = nil
	e.err = nil
	e.status = StatusClosed
	e.notifyLocked()
	for id, ch := range e.watchers {
		delete(e.watchers, id)
		close(ch)
	}
	e.mu.Unlock()

	closeSubscription(sub)
	e.wg.Wait()
}
