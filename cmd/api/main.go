package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"tally/api/internal/app"
	"tally/api/internal/config"
	"tally/api/internal/github"
	"tally/api/internal/ratelimit"
	"tally/api/internal/store"
)

func main() {
	rollback := flag.Bool("rollback", false, "revert the last applied migration and exit")
	flag.Parse()

	setupLogging()

	cfg := config.Load()
	ctx := context.Background()

	pool := store.DefaultPoolLimits()
	pool.MaxOpenConns = cfg.DBMaxOpenConns
	pool.MaxIdleConns = cfg.DBMaxIdleConns

	db, err := store.Open(ctx, cfg.DatabaseURL, pool)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if *rollback {
		if err := store.RollbackLastMigration(ctx, db, cfg.MigrationsDir); err != nil {
			slog.Error("rollback failed", "error", err)
			os.Exit(1)
		}
		slog.Info("last migration reverted")
		return
	}

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		slog.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	dataStore := store.NewPostgresStore(db)
	githubClient := github.NewClient(cfg.GitHubAPIBase, cfg.GitHubToken, cfg.GitHubTimeout)

	var repoCache *github.Cache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		repoCache, err = github.NewCache(cfg.RedisURL, cfg.RepoCacheTTL)
		if err != nil {
			slog.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		defer repoCache.Close()
		slog.Info("repository info cache enabled", "ttl", cfg.RepoCacheTTL)
	}

	var service *app.Service
	if repoCache != nil {
		service = app.New(cfg, dataStore, githubClient, repoCache)
	} else {
		service = app.New(cfg, dataStore, githubClient, nil)
	}

	limiter := ratelimit.NewLimiter(cfg.ValidateKeyPerMinute, time.Minute, cfg.ValidateKeyPerMinute)
	defer limiter.Stop()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, limiter)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("Tally API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func setupLogging() {
	out := colorable.NewColorable(os.Stderr)
	slog.SetDefault(slog.New(tint.NewHandler(out, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})))
}
