// Package handler は支出同期エンジンのHTTP表示層を提供する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/tripledger/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	StatusRecorder    middleware.StatusRecorder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// ヘルスチェック（nil可）
	HealthChecker HealthChecker

	// セッション
	Session SessionSource

	// 支出
	Ledger LedgerService

	// メトリクス（nil可）
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Session → Logging
//
// POST /api/expenses にはさらに追記専用のレート制限を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSessionMiddleware(deps.Session))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))

	expenseHandler := NewExpenseHandler(deps.Ledger)
	sessionHandler := NewSessionHandler(deps.Session)

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Get("/api/session", sessionHandler.GetSession)

	r.Route("/api/expenses", func(r chi.Router) {
		r.Get("/", expenseHandler.ListExpenses)
		if deps.RateLimiter != nil {
			r.With(deps.RateLimiter.AppendMiddleware()).Post("/", expenseHandler.AppendExpense)
		} else {
			r.Post("/", expenseHandler.AppendExpense)
		}
	})

	return r
}
