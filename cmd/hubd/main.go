package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/noteduco342/om-realtime-hub/internal/auth"
	"github.com/noteduco342/om-realtime-hub/internal/bridge"
	"github.com/noteduco342/om-realtime-hub/internal/cache"
	"github.com/noteduco342/om-realtime-hub/internal/config"
	"github.com/noteduco342/om-realtime-hub/internal/conn"
	"github.com/noteduco342/om-realtime-hub/internal/directory"
	"github.com/noteduco342/om-realtime-hub/internal/hub"
	"github.com/noteduco342/om-realtime-hub/internal/logging"
	"github.com/noteduco342/om-realtime-hub/internal/metrics"
	"github.com/noteduco342/om-realtime-hub/internal/repository"
	"github.com/noteduco342/om-realtime-hub/internal/validation"
)

// Entries older than this are dropped at startup instead of being resent.
const outboxMaxAge = 7 * 24 * time.Hour

func main() {
	configPath := flag.String("config", "", "optional config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger, err := logging.New(cfg.Development(), cfg.LogLevel)
	if err != nil {
		log.Fatal("Failed to build logger:", err)
	}
	defer logger.Sync()

	session, err := auth.ParseSession(cfg.Session.Token, cfg.Session.JWTSecret, time.Now())
	if err != nil {
		logger.Fatalf("Invalid session token: %v", err)
	}
	validation.SetMaxMessageLength(cfg.Hub.MaxMessageLength)
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis is optional; without it every backfill goes to the directory.
	var dirCache directory.Cache
	if cfg.Redis.Addr != "" {
		redisCache := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
		if err := redisCache.Ping(); err != nil {
			logger.Warnf("Redis connection failed: %v. Running without cache.", err)
		} else {
			logger.Infof("Redis cache connected at %s", cfg.Redis.Addr)
			defer redisCache.Close()
			dirCache = cache.NewHistoryCache(redisCache, session.TenantID, session.UserID)
		}
	}

	// The outbox is optional too; without it queued sends die with the process.
	var outbox conn.Outbox
	if cfg.DatabaseDSN != "" {
		dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		db, err := repository.InitDB(dbCtx, cfg.DatabaseDSN)
		cancel()
		if err != nil {
			logger.Warnf("Outbox database unavailable: %v. Queued messages will not survive a restart.", err)
		} else {
			repo := repository.NewOutboxRepository(db)
			if n, err := repo.CleanupOld(ctx, outboxMaxAge); err != nil {
				logger.Warnf("Outbox cleanup failed: %v", err)
			} else if n > 0 {
				logger.Infof("Dropped %d outbox entries older than %s", n, outboxMaxAge)
			}
			if n, err := repo.Count(ctx, session.UserID, session.TenantID); err == nil && n > 0 {
				logger.Infof("%d queued messages waiting in the outbox", n)
			}
			outbox = repo
		}
	}

	dir := directory.NewClient(directory.ClientConfig{
		BaseURL:            cfg.Server.DirectoryURL,
		Timeout:            cfg.DirectoryTimeout,
		RetryMaxElapsed:    cfg.RetryMaxElapsed,
		MaxIdleConns:       4,
		IdleConnTimeout:    90 * time.Second,
		BreakerMaxFailures: cfg.Directory.BreakerMaxFailures,
		BreakerTimeout:     cfg.BreakerTimeout,
	}, session, dirCache, logger.Named("directory"))

	manager := conn.NewManager(&conn.WebSocketDialer{
		URL:              cfg.Server.URL,
		HandshakeTimeout: cfg.HandshakeTimeout,
		WriteTimeout:     cfg.WriteTimeout,
	}, conn.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		BackoffBase:       cfg.BackoffBase,
		BackoffCap:        cfg.BackoffCap,
		QueueSize:         cfg.Hub.QueueSize,
		Compress:          cfg.Server.Compress,
		Outbox:            outbox,
	}, logger.Named("conn"), m)

	h := hub.New(session, hub.Options{
		Retention:       cfg.Hub.Retention,
		CountBroadcast:  cfg.Hub.CountBroadcast,
		TypingTTL:       cfg.TypingTTL,
		TypingInterval:  cfg.TypingInterval,
		BackfillTimeout: cfg.BackfillTimeout,
	}, hub.Deps{
		Transport: manager,
		Directory: dir,
		Log:       logger.Named("hub"),
		Metrics:   m,
	})

	srv := bridge.New(h, bridge.Config{
		AllowedOrigins: cfg.Bridge.AllowedOrigins,
		RateLimit:      120,
		AccessLog:      cfg.Development(),
	}, logger.Named("bridge"), m)

	go func() {
		if err := srv.Listen(cfg.Bridge.Addr); err != nil {
			logger.Errorf("Bridge stopped: %v", err)
			stop()
		}
	}()

	logger.Infof("Hub starting for user %s (tenant %s) against %s", session.UserID, session.TenantID, cfg.Server.URL)
	runErr := h.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Bridge shutdown: %v", err)
	}

	switch {
	case runErr == nil:
		logger.Info("Hub stopped")
	case errors.Is(runErr, conn.ErrUnauthorized):
		logger.Errorf("Session rejected by server: %v", runErr)
		os.Exit(2)
	default:
		logger.Errorf("Hub stopped: %v", runErr)
		os.Exit(1)
	}
}
