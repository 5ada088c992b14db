package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"bazaar/internal/catalog"
	"bazaar/internal/config"
	"bazaar/internal/game"
	"bazaar/internal/store"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// The worker advances one saved game on a schedule, for long-running
// unattended markets.
func main() {
	configPath := flag.String("config", os.Getenv("BAZAAR_CONFIG"), "path to YAML config")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger(os.Stdout).With("component", "worker")

	cat, err := catalog.Load(cfg.Market.CatalogPath)
	if err != nil {
		logger.Error("catalog load failed", "err", err)
		os.Exit(1)
	}
	st, err := store.Open(ctx, cfg.Store.DSN, logger)
	if err != nil {
		logger.Error("store open failed", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	svc := game.NewService(cat, st, logger, game.Options{
		Volatility:  cfg.Market.Volatility,
		Seed:        cfg.Market.Seed,
		HistoryMax:  cfg.Market.HistoryMax,
		CacheSize:   cfg.Market.CacheSize,
		SaveTimeout: cfg.API.SaveTimeout,
	})
	defer svc.Wait()

	sessionID, err := pickSession(ctx, svc, cfg.Worker.SessionID)
	if err != nil {
		logger.Error("session init failed", "err", err)
		os.Exit(1)
	}
	logger = logger.With("session_id", sessionID)

	tick := func() {
		out, err := svc.AdvanceWeek(ctx, sessionID, uuid.NewString())
		if err != nil {
			logger.Error("weekly tick failed", "err", err)
			return
		}
		logger.Info("weekly tick complete",
			"week", out.Week,
			"rising", out.Summary.Rising,
			"falling", out.Summary.Falling,
			"condition", out.Summary.Balance.Condition,
		)
	}

	if cfg.Worker.RunOnce {
		tick()
		svc.Wait()
		logger.Info("worker run-once completed")
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.Worker.Schedule, tick); err != nil {
		logger.Error("bad worker schedule", "schedule", cfg.Worker.Schedule, "err", err)
		os.Exit(1)
	}
	c.Start()
	logger.Info("worker started", "schedule", cfg.Worker.Schedule, "volatility", cfg.Market.Volatility)

	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info("worker shutdown")
}

// pickSession resumes the configured game, else the most recent save, else
// starts a fresh one.
func pickSession(ctx context.Context, svc *game.Service, configured string) (string, error) {
	if id := strings.TrimSpace(configured); id != "" {
		info, err := svc.LoadGame(ctx, id)
		if err != nil {
			return "", err
		}
		return info.SessionID, nil
	}
	saves, err := svc.Saves(ctx)
	if err != nil {
		return "", err
	}
	if len(saves) > 0 {
		return saves[0].SessionID, nil
	}
	info, err := svc.NewGame(ctx)
	if err != nil {
		return "", err
	}
	return info.SessionID, nil
}
