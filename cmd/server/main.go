// Package main runs the poll server: passkey auth, polls and the live update socket.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pollcast/backend/config"
	"github.com/pollcast/backend/internal/auth"
	"github.com/pollcast/backend/internal/middleware"
	"github.com/pollcast/backend/internal/polls"
	"github.com/pollcast/backend/internal/realtime"
	"github.com/pollcast/backend/internal/session"
	"github.com/pollcast/backend/pkg/database"
	"github.com/pollcast/backend/pkg/redis"
	"github.com/pollcast/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	var rdb *redis.Client
	if cfg.Session.Store == "redis" || cfg.Realtime.RedisFanout {
		rdb, err = redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
	}

	// Sessions
	var sessionStore session.Store
	if cfg.Session.Store == "redis" {
		sessionStore = session.NewRedisStore(rdb.Client)
	} else {
		sessionStore = session.NewMemoryStore()
		logger.Warn("using in-memory session store; sessions are lost on restart")
	}
	userRepo := auth.NewRepository(pool)
	binder := session.NewBinder(sessionStore, userRepo, cfg.Session.TTL, logger)
	cookies := session.NewCookies(session.NewTokenSigner(cfg.Session.Secret), cfg.Server.CookieSecure, cfg.Session.TTL, cfg.WebAuthn.CeremonyTTL)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	// Passkeys
	webAuthn, err := auth.NewWebAuthn(auth.RelyingParty{
		ID:          cfg.WebAuthn.RPID,
		DisplayName: cfg.WebAuthn.RPDisplayName,
		Origins:     cfg.WebAuthn.RPOrigins,
	})
	if err != nil {
		logger.Fatal("webauthn", zap.Error(err))
	}
	challenges := auth.NewChallengeStore(cfg.WebAuthn.CeremonyTTL)
	go challenges.Run(bgCtx, time.Minute)
	manager := auth.NewManager(webAuthn, auth.DefaultParser(), userRepo, challenges, logger)
	authHandler := auth.NewHandler(manager, binder, cookies, logger)

	// Live updates
	hub := realtime.NewHub(cfg.Realtime.HubBuffer, logger)
	if cfg.Realtime.RedisFanout {
		cancel, err := realtime.Bridge(hub, realtime.NewRedisPubSub(rdb.Client, logger))
		if err != nil {
			logger.Fatal("redis fan-out", zap.Error(err))
		}
		defer cancel()
		logger.Info("poll updates fan out through redis", zap.String("channel", realtime.UpdatesChannel))
	}

	// Polls
	pollRepo := polls.NewRepository(pool)
	pollHandler := polls.NewHandler(pollRepo, binder, cookies, hub, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Session(binder, cookies, logger))

	// Health
	router.GET("/health", func(c *gin.Context) {
		if err := pool.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, response.ErrorBody{Error: "database unavailable"})
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})

	// Passkey ceremonies
	router.POST("/register_start/:username", authHandler.RegisterStart)
	router.POST("/register_finish", authHandler.RegisterFinish)
	router.POST("/login_start/:username", authHandler.LoginStart)
	router.POST("/login_finish", authHandler.LoginFinish)

	requireUser := middleware.RequireUser(binder, logger)
	api := router.Group("/api")
	{
		api.GET("/user", requireUser, authHandler.CurrentUser)
		api.GET("/logout", authHandler.Logout)

		api.POST("/polls", requireUser, pollHandler.Create)
		api.GET("/polls/manage", requireUser, pollHandler.ListMine)
		api.GET("/polls/all", requireUser, pollHandler.ListAll)
		api.GET("/polls/:id", pollHandler.Get)
		api.POST("/polls/:id/vote", pollHandler.Vote)
		api.POST("/polls/:id/close", requireUser, pollHandler.Close)
		api.POST("/polls/:id/reset", requireUser, pollHandler.Reset)
		api.POST("/polls/:id/edit", requireUser, pollHandler.Edit)
		api.POST("/polls/:id/delete", requireUser, pollHandler.Delete)
	}

	// WebSocket (join_poll:<id> frames; no session required to watch)
	router.GET("/ws", realtime.ServeWs(hub, pollRepo, cfg.WebAuthn.RPOrigins, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	bgCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
