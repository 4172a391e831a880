package main

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/rentella/property-auth-api/api/swagger"
	"github.com/rentella/property-auth-api/internal/handler"
	"github.com/rentella/property-auth-api/internal/middleware"
	"github.com/rentella/property-auth-api/internal/repository"
	"github.com/rentella/property-auth-api/internal/service"
	"github.com/rentella/property-auth-api/pkg/cache"
	"github.com/rentella/property-auth-api/pkg/config"
	"github.com/rentella/property-auth-api/pkg/database"
	"github.com/rentella/property-auth-api/pkg/logger"
	corsmiddleware "github.com/rentella/property-auth-api/pkg/middleware/cors"
	reqidmiddleware "github.com/rentella/property-auth-api/pkg/middleware/requestid"
)

// @title Property Auth API
// @version 1.0.0
// @description Authentication and session-security engine for the property management platform
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	metricsSvc := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db, cfg.Database.QueryTimeout)
	tokenRepo := repository.NewRefreshTokenRepository(db, cfg.Database.QueryTimeout)
	counterRepo := repository.NewRateLimitRepository(redisClient, 2*time.Second)

	tokenSvc, err := service.NewTokenService(service.TokenConfig{
		Secret: cfg.JWT.Secret,
		Expiry: cfg.JWT.AccessTokenExpiry,
		Issuer: cfg.JWT.Issuer,
	})
	if err != nil {
		logr.Sugar().Fatalw("failed to init token service", "error", err)
	}

	csrfSvc, err := service.NewCSRFService(service.CSRFConfig{
		Secret: cfg.CSRF.Secret,
		Expiry: cfg.CSRF.Expiry,
	})
	if err != nil {
		logr.Sugar().Fatalw("failed to init csrf service", "error", err)
	}

	ledgerSvc := service.NewLedgerService(tokenRepo, logr, metricsSvc, service.LedgerConfig{
		Expiry: cfg.JWT.RefreshTokenExpiry,
	})

	limiterSvc := service.NewRateLimitService(counterRepo, logr, service.RateLimitConfig{
		Window:        cfg.RateLimit.Window,
		LoginLimit:    int64(cfg.RateLimit.LoginLimit),
		RegisterLimit: int64(cfg.RateLimit.RegisterLimit),
		GenericLimit:  int64(cfg.RateLimit.GenericLimit),
	})

	authSvc := service.NewAuthService(userRepo, ledgerSvc, tokenSvc, validator.New(), logr, metricsSvc)

	authHandler := handler.NewAuthHandler(authSvc, csrfSvc, cfg.CSRF.CookieName, cfg.Env == config.EnvProduction)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	authPrefix := cfg.APIPrefix + "/auth"

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.SecurityHeaders(middleware.SecurityHeaderOptions{
		SSLRedirect: cfg.Security.SSLRedirect,
		ExemptPaths: cfg.Security.ExemptPaths,
	}))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	// The limiter must see every request before any other gate rejects it,
	// so the CSRF check hangs off the routes instead of the engine.
	csrfGate := middleware.CSRF(csrfSvc, metricsSvc, middleware.CSRFOptions{
		HeaderName: cfg.CSRF.HeaderName,
		CookieName: cfg.CSRF.CookieName,
		ExemptPaths: []string{
			authPrefix + "/login",
			authPrefix + "/register",
			authPrefix + "/refresh-token",
			authPrefix + "/logout",
		},
	})

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	auth := r.Group(authPrefix)
	{
		auth.POST("/login", middleware.RateLimit(limiterSvc, metricsSvc, service.ClassLogin), csrfGate, authHandler.Login)
		auth.POST("/register", middleware.RateLimit(limiterSvc, metricsSvc, service.ClassRegister), csrfGate, authHandler.Register)
		auth.POST("/refresh-token", middleware.RateLimit(limiterSvc, metricsSvc, service.ClassGeneric), csrfGate, authHandler.Refresh)
		auth.POST("/logout", middleware.RateLimit(limiterSvc, metricsSvc, service.ClassGeneric), csrfGate, authHandler.Logout)
		auth.GET("/csrf-token", middleware.RateLimit(limiterSvc, metricsSvc, service.ClassGeneric), authHandler.CSRFToken)

		protected := auth.Group("")
		protected.Use(middleware.RateLimit(limiterSvc, metricsSvc, service.ClassGeneric))
		protected.Use(csrfGate)
		protected.Use(middleware.JWT(authSvc))
		{
			protected.POST("/logout-all", authHandler.LogoutAll)
			protected.GET("/verify-token", authHandler.VerifyToken)
			protected.PUT("/change-password", authHandler.ChangePassword)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
