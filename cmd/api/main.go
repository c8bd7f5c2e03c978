package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clearpathsec/bastion/internal/api"
	"github.com/clearpathsec/bastion/internal/audit"
	"github.com/clearpathsec/bastion/internal/authz"
	"github.com/clearpathsec/bastion/internal/config"
	"github.com/clearpathsec/bastion/internal/credential"
	"github.com/clearpathsec/bastion/internal/identity"
	"github.com/clearpathsec/bastion/internal/risk"
	"github.com/clearpathsec/bastion/internal/session"
	"github.com/clearpathsec/bastion/internal/store"
	"github.com/clearpathsec/bastion/internal/store/postgres"
	redisstore "github.com/clearpathsec/bastion/internal/store/redis"
	"github.com/clearpathsec/bastion/internal/token"
	"github.com/clearpathsec/bastion/pkg/logger"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
)

func main() {
	// Local development reads .env files; production relies on system
	// env vars, so load errors are masked.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.Setup(cfg.Env)
	log.Info("application_startup", "env", cfg.Env)

	sentryEnabled := false
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			TracesSampleRate: 1.0,
			Environment:      cfg.Env,
		})
		if err != nil {
			log.Error("sentry_init_failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
			sentryEnabled = true
			log.Info("sentry_initialized")
		}
	} else {
		log.Warn("sentry_dsn_missing", "details", "skipping_init")
	}

	ctx := context.Background()

	if cfg.DatabaseURL == "" {
		log.Error("database_url_missing")
		os.Exit(1)
	}
	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("database_connect_failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	log.Info("database_connected")

	if cfg.RedisURL == "" {
		log.Error("redis_url_missing")
		os.Exit(1)
	}
	redisClient, err := redisstore.Connect(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("redis_connect_failed", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	log.Info("redis_connected")

	if cfg.JWTPrivateKeyPEM == "" {
		log.Error("jwt_private_key_missing", "details", "fatal")
		os.Exit(1)
	}
	privateKey, err := token.ParsePrivateKeyPEM(cfg.JWTPrivateKeyPEM)
	if err != nil {
		log.Error("jwt_private_key_invalid", "error", err)
		os.Exit(1)
	}
	keys := token.NewKeyring(token.Keypair{KID: cfg.JWTKeyID, Private: privateKey}, nil)

	clock := store.SystemClock{}
	rand := store.CryptoRandom{}

	// Stores
	users := postgres.NewUserStore(pool)
	refreshTokens := postgres.NewRefreshTokenStore(pool)
	roles := postgres.NewRoleStore(pool)
	passkeys := postgres.NewPasskeyStore(pool)
	revoked := redisstore.NewRevokedAccessTokenStore(redisClient)
	sessions := redisstore.NewSessionStore(redisClient)

	// Services
	auditSink := audit.NewAsyncSink(logger.Component(log, "audit"), cfg.AuditBufferSize, sentryEnabled)
	defer auditSink.Close()

	policy := credential.DefaultPolicy()
	policy.LockoutThreshold = cfg.LockoutThreshold
	policy.LockoutDuration = cfg.LockoutDuration
	credentials := credential.NewService(
		credential.NewArgon2Hasher(credential.DefaultArgon2Params(), rand),
		policy, clock, logger.Component(log, "credential"),
	)

	riskEngine := risk.NewEngine(logger.Component(log, "risk"))
	authzEngine := authz.NewEngine(roles, clock, logger.Component(log, "authz"))

	tokens := token.NewService(token.Config{
		Issuer:     cfg.Issuer,
		Audience:   cfg.Audience,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
		Skew:       cfg.ClockSkew,
	}, keys, refreshTokens, revoked, clock, rand, authzEngine, logger.Component(log, "token"))
	tokens.SetAuditSink(auditSink)

	sessionSvc := session.NewService(session.Config{
		TTL:        cfg.SessionTTL,
		MaxPerUser: cfg.MaxSessions,
	}, sessions, riskEngine, clock, rand, logger.Component(log, "session"))

	identitySvc := identity.NewService(
		identity.Config{MFAThreshold: cfg.MFAThreshold},
		users, credentials, tokens, sessionSvc, riskEngine, authzEngine, passkeys,
		clock, rand, auditSink, logger.Component(log, "identity"),
	)

	server := api.NewServer(identitySvc, tokens, authzEngine, log)

	// Janitor: expired refresh tokens and blacklist entries.
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-janitorCtx.Done():
				return
			case <-ticker.C:
				if n, err := tokens.CleanupExpired(janitorCtx); err != nil {
					log.Warn("token_cleanup_failed", "error", err)
				} else if n > 0 {
					log.Info("token_cleanup", "removed", n)
				}
			}
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("http_listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http_server_failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutdown_initiated")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown_failed", "error", err)
	}
	log.Info("shutdown_complete")
}
