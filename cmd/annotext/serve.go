package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"annotext/db"
	"annotext/internal/app"
	"annotext/internal/config"
	"annotext/internal/flash"
	"annotext/internal/search"
	"annotext/internal/store"
)

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	flashes, err := flash.NewRedisStore(ctx, cfg.RedisURL, cfg.FlashTTL)
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	defer flashes.Close()

	searchService, closeSearch := newSearch(cfg, database)
	defer closeSearch()

	service := app.New(cfg, store.NewPostgresStore(database), flashes, searchService)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("annotext listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := searchService.ReindexAll(gctx); err != nil {
			logger.Warn("search reindex failed", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openDatabase connects to Postgres and applies pending migrations, from
// MigrationsDir when set and from the embedded set otherwise.
func openDatabase(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	database, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	var migrations fs.FS = db.Migrations
	dir := "migrations"
	if cfg.MigrationsDir != "" {
		migrations, dir = os.DirFS(cfg.MigrationsDir), "."
	}
	if err := store.ApplyMigrations(ctx, database, migrations, dir); err != nil {
		database.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	return database, nil
}

func newSearch(cfg config.Config, database *sql.DB) (*search.Service, func()) {
	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	closeFn := func() {
		if meili != nil {
			meili.Close()
		}
	}
	return search.NewService(meili, search.NewPgFTS(database)), closeFn
}
