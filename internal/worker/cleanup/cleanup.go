// Package cleanup は期限切れ認証トークンの自動削除ジョブを提供する。
// 有効期限を過ぎたauth_tokensの行を定期的に削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// TokenDeleter は期限切れトークンの削除を抽象化するインターフェース。
// repository.TokenRepositoryが実装する。
type TokenDeleter interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Recorder は削除件数の記録先。
type Recorder interface {
	RecordTokensDeleted(count int64)
}

// CleanupJob は期限切れトークンの削除ジョブ。
// 削除対象がない場合もエラーにならない冪等な処理。
type CleanupJob struct {
	tokens   TokenDeleter
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
	// Grace は期限切れ後に削除を猶予する期間（デフォルト: 0）
	Grace time.Duration
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnil可。
func NewCleanupJob(tokens TokenDeleter, logger *slog.Logger, recorder Recorder) *CleanupJob {
	return &CleanupJob{
		tokens:   tokens,
		logger:   logger,
		recorder: recorder,
		now:      time.Now,
	}
}

// Run は現在時刻からGraceを引いた時点より前に期限切れとなったトークンを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()
	before := start.Add(-j.Grace)

	deletedCount, err := j.tokens.DeleteExpired(ctx, before)
	if err != nil {
		j.logger.Error("トークンクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to delete expired tokens: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordTokensDeleted(deletedCount)
	}

	j.logger.Info("トークンクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Time("before", before),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start は指定間隔のティッカーでジョブを実行する。
// 起動直後に1回実行し、コンテキストがキャンセルされるまで継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("トークンクリーンアップを開始しました",
		slog.Duration("interval", interval),
	)

	// 失敗はRun内でログ済み
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("トークンクリーンアップを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
