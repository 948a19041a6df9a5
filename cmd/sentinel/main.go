package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentinel-spamguard/internal/analytics"
	"sentinel-spamguard/internal/arbitration"
	"sentinel-spamguard/internal/bot"
	"sentinel-spamguard/internal/config"
	"sentinel-spamguard/internal/escalation"
	"sentinel-spamguard/internal/modules/antispam"
	"sentinel-spamguard/internal/modules/audit"
	"sentinel-spamguard/internal/modules/linkfilter"
	"sentinel-spamguard/internal/signals"
	"sentinel-spamguard/internal/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()
	applied, err := store.Migrate()
	if err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}
	if applied > 0 {
		logger.Info("migrations applied", zap.Int("count", applied))
	}

	auditLogger := audit.NewLogger(store, logger)
	analyticsService := analytics.New(store)

	var counter escalation.Counter = escalation.NewMemoryCounter()
	if cfg.Escalation.Persist {
		counter = escalation.NewStoreCounter(store)
	}

	botSvc, err := bot.New(cfg, logger, store, auditLogger, analyticsService)
	if err != nil {
		logger.Fatal("bot init failed", zap.Error(err))
	}

	engine := antispam.New(antispam.SettingsFrom(cfg), antispam.Deps{
		Tracker:  signals.NewTracker(signals.ConfigFrom(cfg.Signals)),
		Policy:   escalation.NewPolicy(escalation.ConfigFrom(cfg.Escalation, cfg.Arbitration), counter),
		Board:    arbitration.NewBoard(arbitration.ConfigFrom(cfg.Arbitration), logger.Named("arbitration")),
		Links:    linkfilter.New(cfg.Detection.LinkFilter, cfg.Detection.LinkAllowlist, store),
		Executor: botSvc.Executor(),
		Audit:    auditLogger,
		Cases:    store,
		Logger:   logger.Named("antispam"),
	})
	botSvc.AttachEngine(engine)

	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started",
		zap.Bool("detection", cfg.Detection.Enabled),
		zap.Bool("link_filter", cfg.Detection.LinkFilter),
		zap.Bool("persist_escalation", cfg.Escalation.Persist),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Health.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			if err := store.Ping(r.Context()); err != nil {
				http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		if cfg.Health.Metrics {
			mux.Handle("/metrics", promhttp.Handler())
		}
		server := &http.Server{Addr: cfg.Health.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr), zap.Bool("metrics", cfg.Health.Metrics))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if cfg.AuditRetentionDays > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(24 * time.Hour)
			defer ticker.Stop()
			for {
				removed, err := store.CleanupAuditLogs(gctx, cfg.AuditRetentionDays)
				if err != nil {
					logger.Warn("audit cleanup failed", zap.Error(err))
				} else if removed > 0 {
					logger.Info("audit logs pruned", zap.Int64("removed", removed))
				}
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		})
	}

	<-gctx.Done()
	logger.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := engine.Stop(shutdownCtx); err != nil {
		logger.Warn("engine stop incomplete", zap.Error(err))
	}
	botSvc.Close(shutdownCtx)
	if err := g.Wait(); err != nil {
		logger.Error("background task failed", zap.Error(err))
	}
}
