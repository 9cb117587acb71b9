package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/tenantdesk/internal/metrics"
	"github.com/hitoshi/tenantdesk/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// セッション
	Controller   SessionControllerInterface
	LoginService LoginServiceInterface
	Checker      CredentialCheckerInterface
	Navigator    NavigatorInterface

	// 電話番号確認
	OTPFlow OTPFlowInterface

	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// nilの場合は/metricsを公開しない
	Gatherer prometheus.Gatherer
}

type healthResponse struct {
	Status string `json:"status"`
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → RequestID → Logging → RateLimit(General) → JSONOnly
//
// /session/token のみゲートミドルウェアでログイン済みを要求する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.GeneralMiddleware())
	}
	r.Use(middleware.NewJSONOnlyMiddleware())

	sessionHandler := NewSessionHandler(deps.Controller, deps.LoginService, deps.Checker, deps.Navigator)
	otpHandler := NewOTPHandler(deps.OTPFlow)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Get("/navigation", sessionHandler.GetNavigation)
	r.Post("/credentials/validate", sessionHandler.ValidateCredentials)
	r.Post("/register", sessionHandler.Register)

	r.Route("/session", func(r chi.Router) {
		r.Get("/", sessionHandler.GetSession)
		r.Post("/login", sessionHandler.Login)
		r.Post("/third-party", sessionHandler.CompleteThirdParty)
		r.Post("/logout", sessionHandler.Logout)

		// --- ログイン済みのみ ---
		r.With(middleware.NewGateMiddleware(deps.Controller)).Get("/token", sessionHandler.GetToken)
	})

	r.Route("/otp", func(r chi.Router) {
		r.Get("/", otpHandler.GetChallenge)
		r.Delete("/", otpHandler.Abandon)
		r.Post("/code", otpHandler.SubmitCode)

		// POST /otp/phone - 確認コード送信（送信専用レート制限を追加）
		if deps.RateLimiter != nil {
			r.With(deps.RateLimiter.OTPMiddleware()).Post("/phone", otpHandler.SubmitPhone)
		} else {
			r.Post("/phone", otpHandler.SubmitPhone)
		}
	})

	return r
}
