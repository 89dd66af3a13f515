package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/tripledger/internal/model"
)

// ChangeChannel はexpensesテーブルの変更を通知するLISTEN/NOTIFYチャネル名。
// ペイロードは変更されたコレクションパス（migrations/000002参照）。
const ChangeChannel = "expenses_changed"

const (
	// refreshTimeout はスナップショット再取得クエリのタイムアウト。
	refreshTimeout = 10 * time.Second
	// pingInterval は通知がない間に接続を確認する間隔。
	pingInterval = 90 * time.Second
)

// Listener はLISTEN/NOTIFYの受信側のインターフェース。
// *pq.Listener をnewPQListenerでラップして使用する。
type Listener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

type pqListener struct {
	*pq.Listener
}

func (l pqListener) NotificationChannel() <-chan *pq.Notification {
	return l.Notify
}

// ListenerConfig はpq.Listenerの再接続設定。
type ListenerConfig struct {
	MinReconnect time.Duration
	MaxReconnect time.Duration
}

// NewPQListener はdatabaseURLに接続するpq.Listenerを生成する。
// 接続状態の変化はloggerに記録する。
func NewPQListener(databaseURL string, cfg ListenerConfig, logger *slog.Logger) Listener {
	l := pq.NewListener(databaseURL, cfg.MinReconnect, cfg.MaxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			logger.Info("store listener connected")
		case pq.ListenerEventDisconnected:
			logger.Warn("store listener disconnected", slog.Any("error", err))
		case pq.ListenerEventReconnected:
			logger.Info("store listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			logger.Error("store listener connection attempt failed", slog.Any("error", err))
		}
	})
	return pqListener{Listener: l}
}

// PostgresStore はPostgreSQLを使用したCollectionStore。
// 追記はcreated_at = now() でサーバー時刻を付与し、トリガーがNOTIFYを発行する。
// 購読はLISTENで通知を受け、該当パスの全件を再取得してスナップショットとして配送する。
type PostgresStore struct {
	db       *sql.DB
	listener Listener
	logger   *slog.Logger

	mu   sync.Mutex
	subs map[string]map[*subscription]struct{}

	// refreshMu は同一パスのスナップショットが発行順に配送されることを保証する。
	refreshMu sync.Mutex

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPostgresStore はPostgresStoreを生成し、通知の受信ループを開始する。
func NewPostgresStore(db *sql.DB, listener Listener, logger *slog.Logger) (*PostgresStore, error) {
	if err := listener.Listen(ChangeChannel); err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", ChangeChannel, err)
	}

	s := &PostgresStore{
		db:       db,
		listener: listener,
		logger:   logger,
		subs:     make(map[string]map[*subscription]struct{}),
		stop:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.loop()

	return s, nil
}

// Append は支出を追記する。created_atはデータベースのnow()で決まる。
func (s *PostgresStore) Append(ctx context.Context, path string, doc NewDocument) (string, error) {
	if err := validateDocument(path, doc); err != nil {
		return "", err
	}

	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO expenses (id, collection_path, amount, description, currency, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())`,
		id, path, doc.Amount, doc.Description, string(doc.Currency),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert expense: %w", err)
	}
	return id, nil
}

// Subscribe はpathの購読を開始し、現在の内容を最初のスナップショットとして配送する。
// 初回取得に失敗した場合もエラーのスナップショットを配送し、購読自体は継続する。
func (s *PostgresStore) Subscribe(ctx context.Context, path string) (Subscription, error) {
	if _, _, err := ParseCollectionPath(path); err != nil {
		return nil, err
	}

	sub := newSubscription(path, s.remove)

	s.mu.Lock()
	if s.subs[path] == nil {
		s.subs[path] = make(map[*subscription]struct{})
	}
	s.subs[path][sub] = struct{}{}
	s.mu.Unlock()

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	snap := s.query(ctx, path)
	sub.push(snap)

	return sub, nil
}

// Close は受信ループを停止し、リスナーを閉じる。購読はすべて解除される。
func (s *PostgresStore) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()

		s.mu.Lock()
		var all []*subscription
		for _, subs := range s.subs {
			for sub := range subs {
				all = append(all, sub)
			}
		}
		s.mu.Unlock()
		for _, sub := range all {
			sub.Close()
		}

		err = s.listener.Close()
	})
	return err
}

// loop は通知を受信して該当パスのスナップショットを再配送する。
// nilの通知は再接続を意味するため、購読中の全パスを再取得する。
func (s *PostgresStore) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	notifications := s.listener.NotificationChannel()
	for {
		select {
		case <-s.stop:
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			if n == nil {
				s.logger.Info("refreshing all subscriptions after reconnect")
				for _, path := range s.activePaths() {
					s.refresh(path)
				}
				continue
			}
			s.refresh(n.Extra)
		case <-ticker.C:
			if err := s.listener.Ping(); err != nil {
				s.logger.Warn("store listener ping failed", slog.String("error", err.Error()))
			}
		}
	}
}

// refresh はpathを購読中であれば全件を再取得して配送する。
func (s *PostgresStore) refresh(path string) {
	subs := s.subscribers(path)
	if len(subs) == 0 {
		return
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	snap := s.query(ctx, path)
	for _, sub := range subs {
		sub.push(snap)
	}
}

// query はpathの全件を取得する。失敗した場合はErr付きのスナップショットを返す。
func (s *PostgresStore) query(ctx context.Context, path string) Snapshot {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, amount, description, currency, created_at
		 FROM expenses
		 WHERE collection_path = $1`,
		path,
	)
	if err != nil {
		s.logger.Error("failed to query expenses",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return Snapshot{Err: fmt.Errorf("failed to query expenses: %w", err)}
	}
	defer rows.Close()

	var expenses []model.Expense
	for rows.Next() {
		var (
			e         model.Expense
			currency  string
			createdAt sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.Amount, &e.Description, &currency, &createdAt); err != nil {
			return Snapshot{Err: fmt.Errorf("failed to scan expense: %w", err)}
		}
		e.Currency = model.Currency(currency)
		if createdAt.Valid {
			t := createdAt.Time
			e.CreatedAt = &t
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{Err: fmt.Errorf("failed to iterate expenses: %w", err)}
	}

	return Snapshot{Expenses: expenses}
}

func (s *PostgresStore) subscribers(path string) []*subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*subscription, 0, len(s.subs[path]))
	for sub := range s.subs[path] {
		out = append(out, sub)
	}
	return out
}

func (s *PostgresStore) activePaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths := make([]string, 0, len(s.subs))
	for path := range s.subs {
		paths = append(paths, path)
	}
	return paths
}

func (s *PostgresStore) remove(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs[sub.path], sub)
	if len(s.subs[sub.path]) == 0 {
		delete(s.subs, sub.path)
	}
}

// compile-time interface check
var _ CollectionStore = (*PostgresStore)(nil)
