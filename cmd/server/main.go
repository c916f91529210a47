package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"campustrust/internal/anomaly"
	"campustrust/internal/authz"
	"campustrust/internal/config"
	internalhttp "campustrust/internal/http"
	"campustrust/internal/jobs"
	"campustrust/internal/registration"
	"campustrust/internal/repository"
	"campustrust/internal/revocation"
	"campustrust/internal/scan"
	"campustrust/internal/sms"
	"campustrust/internal/token"
)

func main() {
	_ = godotenv.Load(".env")

	cfg := config.Load()

	logger, err := zap.NewProduction()
	if cfg.DevMode {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(fmt.Sprintf("logger init failed: %v", err))
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RunMigrations {
		if err := runMigrations(cfg); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
	}

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connection failed", zap.Error(err))
	}
	defer pool.Close()
	store := repository.NewStore(pool)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancel()
		logger.Fatal("redis ping failed", zap.Error(err))
	}
	cancel()
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close error", zap.Error(err))
		}
	}()

	var sender sms.Sender
	if cfg.DevMode {
		sender = &sms.LogSender{Logger: logger}
	} else {
		sender, err = sms.NewSNSSender(ctx, cfg.SNSRegion)
		if err != nil {
			logger.Fatal("sns init failed", zap.Error(err))
		}
	}

	var authorizer authz.Authorizer
	if cfg.DevMode {
		authorizer = authz.AllowAll{}
	} else {
		authorizer, err = authz.NewSpiceDBAuthorizer(cfg.SpiceDBAddr, cfg.SpiceDBToken)
		if err != nil {
			logger.Fatal("spicedb init failed", zap.Error(err))
		}
	}

	authority := token.NewAuthority(cfg.TrustTokenSecret, cfg.JWTIssuer, cfg.TrustTokenTTL, store)

	registrar := registration.NewRegistrar(store, authority, sender, registration.Config{
		VerificationTTL: cfg.VerificationTTL,
		MaxTries:        cfg.VerificationMaxTries,
		StartsPerHour:   cfg.VerificationPerHour,
		SMSBodyPrefix:   cfg.SMSBodyPrefix,
		DevMode:         cfg.DevMode,
	}, logger)

	guard := scan.NewRedisGuard(redisClient)
	engine := scan.NewEngine(store, authority, guard, guard, &scan.TOTPVerifier{Skew: cfg.RotatingCodeSkew}, scan.Config{
		Cooldown: cfg.ScanCooldown,
	}, logger)

	revocations := revocation.NewService(store, authorizer, revocation.Config{
		MaxResetsPerWindow: cfg.MaxResetsPerWindow,
		ResetWindow:        cfg.ResetWindow,
	}, logger)

	reporter := anomaly.NewReporter(store, anomaly.Config{
		MinCount: cfg.AnomalyMinCount,
		Share:    cfg.AnomalyShare,
	}, logger)

	jobs.StartAnomalySweepJob(ctx, cfg, reporter, logger)

	server := internalhttp.NewServer(cfg, store, registrar, engine, authority, revocations, reporter, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", zap.Error(err))
	}
}

func runMigrations(cfg config.Config) error {
	database, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(database, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}
