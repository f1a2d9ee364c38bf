// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/twogether/internal/auth"
	"github.com/hitoshi/twogether/internal/metrics"
	"github.com/hitoshi/twogether/internal/middleware"
)

// Pinger はヘルスチェックでデータベースの疎通を確認するためのインターフェース。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Verifier          auth.TokenVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	RequestTimeout    time.Duration
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector

	// 公開エンドポイント
	DB             Pinger       // nilの場合は/healthで疎通確認しない
	MetricsHandler http.Handler // nilの場合は/metricsを公開しない

	// サービス
	AccountService AccountServiceInterface
	PartnerLinker  PartnerLinkerInterface
	CoupleService  CoupleServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → Metrics → SecurityHeaders → CORS → Timeout
//	→ (認証が必要なルートのみ) Auth → RateLimit(General) [→ RateLimit(Link)]
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(chimw.Timeout(timeout))

	accountHandler := NewAccountHandler(deps.AccountService)
	partnerHandler := NewPartnerHandler(deps.PartnerLinker)
	coupleHandler := NewCoupleHandler(deps.CoupleService)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler(deps.DB))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.Verifier))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Post("/provision-account", accountHandler.Provision)
		r.Get("/me", accountHandler.Me)

		// メールアドレスの総当たりを防ぐため連携専用のレート制限を追加
		r.With(deps.RateLimiter.LinkMiddleware()).Post("/link-partner", partnerHandler.LinkPartner)

		r.Route("/couple", func(r chi.Router) {
			r.Get("/", coupleHandler.GetCouple)
			r.Put("/next-date", coupleHandler.SetNextDate)
			r.Get("/goals", coupleHandler.ListGoals)
			r.Post("/goals", coupleHandler.AddGoal)
			r.Patch("/goals/{id}", coupleHandler.UpdateGoal)
		})

		r.Get("/moods/today", coupleHandler.GetMood)
		r.Put("/moods/today", coupleHandler.RecordMood)
	})

	return r
}

type healthResponse struct {
	Status string `json:"status"`
}

// healthHandler はプロセスとデータベースの稼働状況を返す。
func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				slog.ErrorContext(r.Context(), "health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}
