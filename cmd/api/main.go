package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"quill/api/internal/app"
	"quill/api/internal/config"
	"quill/api/internal/gitrepo"
	"quill/api/internal/metrics"
	"quill/api/internal/search"
	"quill/api/internal/session"
	"quill/api/internal/store"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector("quill")
	deps := app.Deps{Config: cfg, Logger: logger, Metrics: collector}

	var (
		db       *sql.DB
		fallback search.Searcher
	)
	if cfg.UsesMemoryStore() {
		logger.Warn("using in-memory store, data is lost on restart")
		memory := store.NewMemoryStore()
		deps.Store = memory
		fallback = search.NewScan(memory)
	} else {
		var err error
		db, err = store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, logger); err != nil {
			return err
		}
		deps.Store = store.NewPostgresStore(db)
		fallback = search.NewPgFTS(db)
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisStore.Close()
		deps.Refresh = redisStore
		logger.Info("refresh sessions stored in redis")
	}

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
	}
	searchService := search.NewService(meili, fallback, logger)
	defer searchService.Wait()
	deps.Search = searchService
	if meili != nil && db != nil {
		documents, comments, err := search.NewPgFTS(db).LoadAllRecords(ctx)
		if err != nil {
			logger.Warn("load search records", zap.Error(err))
		} else {
			searchService.ReindexAll(documents, comments)
		}
	}

	if dir := strings.TrimSpace(cfg.ArchiveDir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		deps.Archive = gitrepo.New(dir)
		logger.Info("git archive enabled", zap.String("dir", dir))
	}

	service := app.New(deps)
	defer service.Shutdown()
	go service.RunSessionSweeper(ctx, time.Minute)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin, logger, collector).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("quill api listening",
			zap.String("addr", cfg.Addr),
			zap.Bool("optimistic_saves", cfg.OptimisticSaves),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	zapCfg := zap.NewDevelopmentConfig()
	if cfg.Production() {
		zapCfg = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
