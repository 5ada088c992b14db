package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bazaar/internal/api"
	"bazaar/internal/catalog"
	"bazaar/internal/config"
	"bazaar/internal/game"
	"bazaar/internal/store"
)

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
	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	cat, err := catalog.Load(cfg.Market.CatalogPath)
	if err != nil {
		logger.Error("catalog load failed", "path", cfg.Market.CatalogPath, "err", err)
		os.Exit(1)
	}

	st, err := store.Open(ctx, cfg.Store.DSN, logger)
	if err != nil {
		logger.Error("store open failed", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	gameSvc := game.NewService(cat, st, logger, game.Options{
		Volatility:   cfg.Market.Volatility,
		Seed:         cfg.Market.Seed,
		HistoryMax:   cfg.Market.HistoryMax,
		CacheSize:    cfg.Market.CacheSize,
		SaveTimeout:  cfg.API.SaveTimeout,
		SessionLimit: cfg.API.SessionLimit,
	})
	defer gameSvc.Wait()

	server := api.New(cfg.API, logger, gameSvc)
	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("bazaar api listening",
		"addr", cfg.API.Addr,
		"products", len(cat.All()),
		"volatility", cfg.Market.Volatility,
	)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		gameSvc.Wait()
		os.Exit(1)
	}
}
