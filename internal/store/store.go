// Package store は支出コレクションのリモートストアを抽象化する。
// 追記（サーバータイムスタンプ付き）と、クエリ結果全体をプッシュする購読を提供する。
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/tripledger/internal/model"
)

// TimestampRequest はドキュメントのタイムスタンプをどこで決めるかを表す。
type TimestampRequest int

const (
	// TimestampUnset はタイムスタンプ要求なし。ストアは書き込みを拒否する。
	TimestampUnset TimestampRequest = iota
	// ServerTimestamp はストアに書き込み時刻の付与を要求する。
	ServerTimestamp
)

// ErrClientTimestamp はサーバータイムスタンプ要求のないドキュメントを書き込もうとした場合のエラー。
var ErrClientTimestamp = errors.New("documents must request a server timestamp")

// NewDocument は追記するドキュメント。IDと作成日時はストアが決める。
type NewDocument struct {
	Amount      decimal.Decimal
	Description string
	Currency    model.Currency
	CreatedAt   TimestampRequest
}

// Snapshot は購読中のクエリ結果全体。Errが非nilの場合はエラー通知でExpensesは空。
type Snapshot struct {
	Expenses []model.Expense
	Err      error
}

// Subscription はひとつのコレクションパスに対する購読。
type Subscription interface {
	// Snapshots はストアが発行したスナップショットを発行順に返す。
	// 未消費のスナップショットは新しいスナップショットで置き換えられる。
	Snapshots() <-chan Snapshot
	// Done はCloseされるとクローズされる。
	Done() <-chan struct{}
	// Close は購読を解除する。複数回呼び出しても安全。
	Close() error
}

// CollectionStore はリモートのドキュメントコレクション。
type CollectionStore interface {
	// Append はドキュメントを追記し、ストアが採番したIDを返す。
	Append(ctx context.Context, path string, doc NewDocument) (string, error)
	// Subscribe はpathの購読を開始する。現在の内容が最初のスナップショットとして届く。
	Subscribe(ctx context.Context, path string) (Subscription, error)
}

// subscription はストア実装間で共有するSubscriptionの実装。
type subscription struct {
	path    string
	ch      chan Snapshot
	done    chan struct{}
	pushMu  sync.Mutex
	once    sync.Once
	onClose func(*subscription)
}

func newSubscription(path string, onClose func(*subscription)) *subscription {
	return &subscription{
		path:    path,
		ch:      make(chan Snapshot, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

func (s *subscription) Snapshots() <-chan Snapshot { return s.ch }

func (s *subscription) Done() <-chan struct{} { return s.done }

func (s *subscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		if s.onClose != nil {
			s.onClose(s)
		}
	})
	return nil
}

// push はスナップショットを配送する。受信側が未消費の古いスナップショットは破棄する。
// クローズ済みの場合はfalseを返す。
func (s *subscription) push(snap Snapshot) bool {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()

	for {
		select {
		case <-s.done:
			return false
		default:
		}

		select {
		case s.ch <- snap:
			return true
		default:
			select {
			case <-s.ch:
			default:
			}
		}
	}
}

// validateDocument はストア共通の書き込み前チェック。
func validateDocument(path string, doc NewDocument) error {
	if _, _, err := ParseCollectionPath(path); err != nil {
		return err
	}
	if doc.CreatedAt != ServerTimestamp {
		return ErrClientTimestamp
	}
	return nil
}
