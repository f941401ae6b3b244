package http

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/mwaller89/accounthub/internal/auth"
	"github.com/mwaller89/accounthub/internal/config"
	"github.com/mwaller89/accounthub/internal/http/handlers"
	"github.com/mwaller89/accounthub/internal/http/middlewares"
	"github.com/mwaller89/accounthub/internal/oauth"
	"github.com/mwaller89/accounthub/internal/observability"
	"github.com/mwaller89/accounthub/internal/queue"
	"github.com/mwaller89/accounthub/internal/repo/postgres"
	"github.com/mwaller89/accounthub/internal/tokens"
)

func NewRouter(cfg config.Config, log *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client) *gin.Engine {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// metrics registry, includes the Go runtime collectors
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg)

	// middleware
	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger())
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(cfg.CORSAllowedOrigins))
	r.Use(middlewares.MaxBodyBytes(1 << 20))
	r.Use(middlewares.RequireKnownContentType())
	r.Use(otelgin.Middleware("accounthub-api"))
	r.Use(prom.GinHandleMiddleware())

	// wire up repositories and services
	usersRepo := postgres.NewUsersRepo(pool, prom)
	refreshRepo := postgres.NewRefreshTokensRepo(pool, prom)
	tokenStore := tokens.NewStore(rdb, cfg.OneTimeTokenTTL())
	mailQueue := queue.New(rdb)
	jwtManager := auth.NewManager(cfg.JWTSecret, cfg.AccessTTL(), cfg.RefreshTTL())
	providers := oauth.NewRegistry(cfg)

	authMW := middlewares.NewAuthMiddleware(jwtManager)
	loginLimiter := middlewares.NewRateLimiter(20, time.Minute)
	credentialLimiter := middlewares.NewRateLimiter(10, time.Minute)

	// wire up handlers
	usersHandler := handlers.NewUsersHandler(usersRepo, tokenStore, mailQueue)
	accountHandler := handlers.NewAccountHandler(usersRepo, tokenStore, mailQueue, refreshRepo)
	authHandler := handlers.NewAuthHandler(usersRepo, jwtManager, refreshRepo, cfg)
	oauthHandler := handlers.NewOAuthHandler(providers, usersRepo, authHandler)
	policyHandler := handlers.NewPolicyHandler()

	healthHandler := handlers.NewHealthHandler(
		func(ctx context.Context) error { return pool.Ping(ctx) },
		func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	)

	// operational endpoints
	r.GET("/healthz", healthHandler.Healthz)
	r.GET("/readyz", healthHandler.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	r.GET("/docs", handlers.SwaggerUI)
	r.StaticFile("/docs/openapi.yaml", "./docs/openapi.yaml")

	api := r.Group("/api")

	// public pages providers link to during app review, with root aliases
	// for links registered before the /api prefix existed
	for _, g := range []gin.IRoutes{api, r} {
		g.GET("/privacy-policy/", policyHandler.PrivacyPolicy)
		g.GET("/terms-of-service/", policyHandler.TermsOfService)
		g.GET("/data-deletion-policy/", policyHandler.DataDeletionPolicy)
	}

	// unauthenticated account flows, rate limited by client IP
	public := api.Group("")
	public.Use(loginLimiter.RateLimiterMiddleware(middlewares.KeyByIP))
	{
		public.POST("/users/", usersHandler.Create)
		public.POST("/users/activation/", accountHandler.Activate)
		public.POST("/users/resend_activation/", accountHandler.ResendActivation)
		public.POST("/users/reset_password/", accountHandler.ResetPassword)
		public.POST("/users/reset_password_confirm/", accountHandler.ResetPasswordConfirm)
		public.POST("/users/reset_email/", accountHandler.ResetEmail)
		public.POST("/users/reset_email_confirm/", accountHandler.ResetEmailConfirm)

		public.POST("/jwt/create/", authHandler.Create)
		public.POST("/jwt/refresh/", authHandler.Refresh)
		public.POST("/jwt/verify/", authHandler.Verify)
		public.POST("/logout/", authHandler.Logout)

		public.GET("/o/:provider/", oauthHandler.Authorize)
		public.POST("/o/:provider/", oauthHandler.Exchange)
	}

	// authenticated user resource
	private := api.Group("")
	private.Use(authMW.RequireAuth())
	{
		private.GET("/users/", authMW.RequireRole("admin"), usersHandler.List)
		private.GET("/users/:id/", usersHandler.Retrieve)
		private.PUT("/users/:id/", usersHandler.Update)
		private.PATCH("/users/:id/", usersHandler.PartialUpdate)
		private.DELETE("/users/:id/", usersHandler.Destroy)

		// credential changes get their own, tighter limit
		sensitive := private.Group("", credentialLimiter.RateLimiterMiddleware(middlewares.KeyByUserOrIP))
		sensitive.POST("/users/set_password/", accountHandler.SetPassword)
		sensitive.POST("/users/set_email/", accountHandler.SetEmail)
	}

	log.Info("router configured", "providers", len(providers))

	return r
}
