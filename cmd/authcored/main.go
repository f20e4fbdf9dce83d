// Command authcored serves the back-office authentication API.
//
// Configuration is read from the environment:
//
//	AUTHCORED_LISTEN        listen address (default :8089)
//	AUTHCORED_DB_PATH       sqlite database path (default authcore.db)
//	AUTHCORED_REDIS_ADDR    optional Redis address for the shared
//	                        pending-challenge store; in-process when empty
//	AUTHCORED_TOTP_ISSUER   issuer label shown in authenticator apps
//	AUTHCORED_ADMIN_EMAIL   bootstrap admin email (first run only)
//	AUTHCORED_ADMIN_PASSWORD bootstrap admin password (first run only)
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sitekit/authcore"
	"github.com/sitekit/authcore/account"
	"github.com/sitekit/authcore/challenge"
	"github.com/sitekit/authcore/httpapi"
	"github.com/sitekit/authcore/password"
	"github.com/sitekit/authcore/session"
)

type daemonConfig struct {
	Listen        string
	DBPath        string
	RedisAddr     string
	TOTPIssuer    string
	AdminEmail    string
	AdminPassword string
}

func loadConfig() daemonConfig {
	return daemonConfig{
		Listen:        envOr("AUTHCORED_LISTEN", ":8089"),
		DBPath:        envOr("AUTHCORED_DB_PATH", "authcore.db"),
		RedisAddr:     os.Getenv("AUTHCORED_REDIS_ADDR"),
		TOTPIssuer:    envOr("AUTHCORED_TOTP_ISSUER", "Back Office"),
		AdminEmail:    os.Getenv("AUTHCORED_ADMIN_EMAIL"),
		AdminPassword: os.Getenv("AUTHCORED_ADMIN_PASSWORD"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("daemon failed", "err", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg := loadConfig()

	db, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return err
	}

	accounts, err := account.NewGormProvider(db)
	if err != nil {
		return err
	}
	sessions, err := session.NewGormStore(db)
	if err != nil {
		return err
	}

	engineCfg := authcore.DefaultConfig()
	engineCfg.TOTP.Issuer = cfg.TOTPIssuer
	engineCfg.Metrics.Enabled = true

	builder := authcore.New().
		WithConfig(engineCfg).
		WithAccountProvider(accounts).
		WithSessionStore(sessions).
		WithAuditSink(authcore.NewJSONWriterSink(os.Stdout)).
		WithMetricsEnabled(true)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			return err
		}
		builder = builder.WithChallengeStore(challenge.NewRedisStore(redisClient))
		log.Info("using redis challenge store", "addr", cfg.RedisAddr)
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()
	if redisClient != nil {
		defer redisClient.Close()
	}

	if err := bootstrapAdmin(context.Background(), log, cfg, engineCfg, accounts); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           httpapi.NewServer(engine, httpapi.WithLogger(log)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.Listen, "db", cfg.DBPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// bootstrapAdmin seeds the first admin account on an empty database so
// the back office is reachable after a fresh deploy.
func bootstrapAdmin(ctx context.Context, log *slog.Logger, cfg daemonConfig, engineCfg authcore.Config, accounts *account.GormProvider) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}

	n, err := accounts.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      engineCfg.Password.Memory,
		Time:        engineCfg.Password.Time,
		Parallelism: engineCfg.Password.Parallelism,
		SaltLength:  engineCfg.Password.SaltLength,
		KeyLength:   engineCfg.Password.KeyLength,
	})
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(cfg.AdminPassword)
	if err != nil {
		return err
	}

	err = accounts.Create(ctx, authcore.Account{
		ID:           uuid.NewString(),
		Email:        cfg.AdminEmail,
		Name:         "Administrator",
		PasswordHash: hash,
		Role:         authcore.RoleAdmin,
	})
	if err != nil {
		return err
	}

	log.Info("bootstrap admin created", "email", cfg.AdminEmail)
	return nil
}
