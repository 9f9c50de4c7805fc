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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"newscheck/api/internal/app"
	"newscheck/api/internal/config"
	"newscheck/api/internal/feed"
	"newscheck/api/internal/handle"
	"newscheck/api/internal/logging"
)

func main() {
	cfg := config.Load()
	logging.ConfigureLogging(cfg.LogLevel)

	if err := run(cfg); err != nil {
		slog.Error("newscheck-api stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipe, err := app.LoadPipeline(cfg)
	if err != nil {
		return err
	}

	storage, err := app.OpenStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer storage.Close()

	engs, err := app.Engines(cfg, storage.TextCache())
	if err != nil {
		return err
	}

	opts := handle.Options{
		TemplateDir: cfg.TemplateDir,
		OCRTimeout:  cfg.OCRTimeout,
		MaxUpload:   cfg.MaxUploadBytes(),
		Checks:      map[string]handle.Pinger{},
	}
	if cfg.FeedEnabled {
		fopts := []feed.Option{feed.MaxBytes(cfg.FeedMaxBytes)}
		if cfg.FeedAllowPrivate {
			fopts = append(fopts, feed.AllowPrivateHosts())
		}
		opts.Feeds = feed.NewChecker(pipe, cfg.FeedMaxItems, fopts...)
	}
	if storage.History != nil {
		opts.History = storage.History
		opts.Checks["database"] = storage.History
	}
	if storage.Cache != nil {
		opts.Checks["redis"] = storage.Cache
	}
	h, err := handle.New(pipe, engs, opts)
	if err != nil {
		return err
	}

	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery(), logging.Gin())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Accept", "X-Request-Timeout"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	h.Routes(router)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("newscheck-api listening", "addr", srv.Addr, "ocr_engine", cfg.OCREngine,
			"history", storage.History != nil, "ocr_cache", storage.Cache != nil, "feeds", cfg.FeedEnabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		storage.RunRetention(gctx, cfg.HistoryRetention)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down newscheck-api")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
