package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/tripledger/internal/model"
)

// MemoryStore はプロセス内で完結するCollectionStore。
// STORE_BACKEND=memory での起動とテストで使用する。
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string][]model.Expense
	subs map[string]map[*subscription]struct{}

	now   func() time.Time
	newID func() string

	appendErr error
}

// MemoryOption はMemoryStoreの設定を変更する。
type MemoryOption func(*MemoryStore)

// WithClock はサーバータイムスタンプに使う時計を差し替える。
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithIDGenerator はドキュメントIDの採番方法を差し替える。
func WithIDGenerator(newID func() string) MemoryOption {
	return func(s *MemoryStore) { s.newID = newID }
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		docs:  make(map[string][]model.Expense),
		subs:  make(map[string]map[*subscription]struct{}),
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append はドキュメントを追記し、同じパスの購読者全員に新しいスナップショットを配送する。
func (s *MemoryStore) Append(ctx context.Context, path string, doc NewDocument) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateDocument(path, doc); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.appendErr != nil {
		err := s.appendErr
		s.appendErr = nil
		return "", err
	}

	createdAt := s.now()
	e := model.Expense{
		ID:          s.newID(),
		Amount:      doc.Amount,
		Description: doc.Description,
		Currency:    doc.Currency,
		CreatedAt:   &createdAt,
	}
	s.docs[path] = append(s.docs[path], e)
	s.broadcastLocked(path, Snapshot{Expenses: s.copyLocked(path)})

	return e.ID, nil
}

// Subscribe はpathの購読を開始し、現在の内容を即座に配送する。
func (s *MemoryStore) Subscribe(ctx context.Context, path string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, _, err := ParseCollectionPath(path); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub := newSubscription(path, s.remove)
	if s.subs[path] == nil {
		s.subs[path] = make(map[*subscription]struct{})
	}
	s.subs[path][sub] = struct{}{}
	sub.push(Snapshot{Expenses: s.copyLocked(path)})

	return sub, nil
}

// FailNextAppend は次回のAppendをerrで失敗させる。
func (s *MemoryStore) FailNextAppend(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendErr = err
}

// PushError はpathの購読者全員にエラー通知を配送する。
func (s *MemoryStore) PushError(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastLocked(path, Snapshot{Err: err})
}

// Resend はpathの現在の内容を購読者全員に再配送する。
func (s *MemoryStore) Resend(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastLocked(path, Snapshot{Expenses: s.copyLocked(path)})
}

// SubscriberCount はpathの有効な購読数を返す。テスト用。
func (s *MemoryStore) SubscriberCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[path])
}

func (s *MemoryStore) remove(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs[sub.path], sub)
	if len(s.subs[sub.path]) == 0 {
		delete(s.subs, sub.path)
	}
}

// broadcastLocked はs.muを保持した状態で呼び出すこと。
func (s *MemoryStore) broadcastLocked(path string, snap Snapshot) {
	for sub := range s.subs[path] {
		sub.push(snap)
	}
}

// copyLocked はs.muを保持した状態で呼び出すこと。
func (s *MemoryStore) copyLocked(path string) []model.Expense {
	src := s.docs[path]
	out := make([]model.Expense, len(src))
	copy(out, src)
	return out
}

// compile-time interface check
var _ CollectionStore = (*MemoryStore)(nil)
