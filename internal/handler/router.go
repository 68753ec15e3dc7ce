package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/libman/internal/metrics"
	"github.com/hitoshi/libman/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Metrics           middleware.StatusRecorder
	Gatherer          prometheus.Gatherer

	// 貸出・罰金
	LoanService LoanServiceInterface
	FineService FineServiceInterface
	Eligibility EligibilityChecker

	// 会員・蔵書
	CatalogService CatalogServiceInterface

	// 運用
	SweepRunner   SweepRunner
	HealthChecker HealthChecker
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → Metrics → SecurityHeaders → CORS → RealIP → RateLimit(General)
//
// 更新系のPOSTには更新用レート制限を追加する。/health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	loanHandler := NewLoanHandler(deps.LoanService)
	fineHandler := NewFineHandler(deps.FineService)
	catalogHandler := NewCatalogHandler(deps.CatalogService, deps.Eligibility)

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- API ---
	r.Group(func(r chi.Router) {
		r.Use(chimw.RealIP)
		r.Use(deps.RateLimiter.GeneralMiddleware())
		mutation := deps.RateLimiter.MutationMiddleware()

		// 貸出
		r.Route("/api/loans", func(r chi.Router) {
			r.Get("/", loanHandler.ListOpen)
			r.Get("/history", loanHandler.ListHistory)
			r.With(mutation).Post("/", loanHandler.Borrow)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", loanHandler.Get)
				r.Get("/fines", loanHandler.ListFines)
				r.With(mutation).Post("/return", loanHandler.Return)
				r.With(mutation).Post("/renew", loanHandler.Renew)
			})
		})

		// 罰金
		r.Route("/api/fines", func(r chi.Router) {
			r.Get("/", fineHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", fineHandler.Get)
				r.With(mutation).Post("/pay", fineHandler.Pay)
			})
		})

		// 会員
		r.Route("/api/members", func(r chi.Router) {
			r.With(mutation).Post("/", catalogHandler.RegisterMember)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", catalogHandler.GetMember)
				r.Get("/eligibility", catalogHandler.Eligibility)
			})
		})

		// 蔵書
		r.Route("/api/books", func(r chi.Router) {
			r.With(mutation).Post("/", catalogHandler.RegisterBook)
			r.Get("/{id}", catalogHandler.GetBook)
		})

		// 延滞スイープの手動実行
		if deps.SweepRunner != nil {
			r.With(mutation).Post("/api/sweeps", NewSweepHandler(deps.SweepRunner))
		}
	})

	return r
}
