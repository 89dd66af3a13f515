package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/tripledger/internal/config"
	"github.com/hitoshi/tripledger/internal/database"
	"github.com/hitoshi/tripledger/internal/handler"
	"github.com/hitoshi/tripledger/internal/logger"
	"github.com/hitoshi/tripledger/internal/metrics"
	"github.com/hitoshi/tripledger/internal/middleware"
	"github.com/hitoshi/tripledger/internal/tui"
	"github.com/hitoshi/tripledger/internal/worker/cleanup"
)

// shutdownTimeout はHTTPサーバーのグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. .envと環境変数から設定を読み込む
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化する
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	logger.SetupDefault(w, level)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	// TUIは端末を占有するため、ログは出力しない
	if cmd == CommandTUI {
		w = io.Discard
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("store_backend", cfg.StoreBackend),
		slog.String("app_id", cfg.AppID),
	)

	switch cmd {
	case CommandTUI:
		return runTUI(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// signalContext はSIGINTまたはSIGTERMでキャンセルされるコンテキストを返す。
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-stop:
			slog.Info("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(stop)
	}()

	return ctx, cancel
}

// runServe はAPIサーバーモードで起動する。
// クライアントを構築してIDを確立し、HTTPサーバーとトークンクリーンアップを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := signalContext()
	defer cancel()

	// 1. クライアントの構築
	client, err := newClientContext(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to build client: %w", err)
	}
	defer client.Close()

	// 2. IDの確立と購読の開始
	identity, err := client.start(ctx)
	if err != nil {
		return err
	}
	slog.Info("session ready",
		slog.String("user_id", identity.UserID),
		slog.Bool("degraded", identity.Degraded),
	)

	// 3. 期限切れトークンのクリーンアップ（Postgres構成時のみ）
	if client.tokens != nil {
		job := cleanup.NewCleanupJob(client.tokens, slog.Default(), client.metrics)
		go job.Start(ctx, cfg.TokenCleanupInterval)
	}

	// 4. HTTPサーバーの起動
	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteConfig(cfg.RateLimitAppend),
		client.metrics.RecordRateLimited,
	)
	defer rateLimiter.Stop()

	server := newServer(client, rateLimiter)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}

	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// newServer はクライアントの依存関係をワイヤリングしたHTTPサーバーを返す。
func newServer(client *clientContext, rateLimiter *middleware.RateLimiter) *http.Server {
	deps := &handler.RouterDeps{
		Logger:            client.logger,
		StatusRecorder:    client.metrics,
		CORSAllowedOrigin: client.cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Session:           client.bootstrapper,
		Ledger:            client.engine,
		MetricsHandler:    metrics.Handler(client.registry),
	}
	if client.db != nil {
		deps.HealthChecker = client.db
	}

	return &http.Server{
		Addr:         ":" + client.cfg.ServerPort,
		Handler:      handler.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// runTUI はターミナルUIモードで起動する。
// IDの確立はバックグラウンドで行い、画面には初期化中の状態から表示する。
func runTUI(cfg *config.Config) error {
	ctx, cancel := signalContext()
	defer cancel()

	client, err := newClientContext(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to build client: %w", err)
	}
	defer client.Close()

	go func() {
		if _, err := client.start(ctx); err != nil {
			slog.Error("identity bootstrap failed", slog.String("error", err.Error()))
		}
	}()

	return tui.Run(ctx, client.engine, cfg.DefaultCurrency)
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for migrate")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
