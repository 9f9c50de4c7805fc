// Package app wires configuration into the model pipeline, the OCR engines
// and the optional storage shared by the HTTP API and the bot.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"newscheck/api/internal/config"
	"newscheck/api/internal/detect"
	"newscheck/api/internal/ocr"
	"newscheck/api/internal/ocr/gemini"
	"newscheck/api/internal/ocr/tesseract"
	"newscheck/api/internal/ocr/yandex"
	"newscheck/api/internal/store"
	"newscheck/api/internal/wordvec"
	"newscheck/api/internal/xgb"
)

// LoadPipeline reads the vector table and the booster. Any failure is
// reported as detect.ErrClassifierUnavailable.
func LoadPipeline(cfg *config.Config) (*detect.Pipeline, error) {
	start := time.Now()
	vecs, err := wordvec.Load(cfg.WordVecPath, cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", detect.ErrClassifierUnavailable, err)
	}
	model, err := xgb.LoadFile(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", detect.ErrClassifierUnavailable, err)
	}
	if n := model.NumFeature(); n > 0 && n != vecs.Dim() {
		return nil, fmt.Errorf("%w: model expects %d features, vectors have %d",
			detect.ErrClassifierUnavailable, n, vecs.Dim())
	}
	slog.Info("model loaded",
		"vectors", cfg.WordVecPath, "vocab", vecs.Len(), "dim", vecs.Dim(),
		"model", cfg.ModelPath, "trees", model.NumTrees(), "objective", model.Objective(),
		"took", time.Since(start))
	return detect.New(vecs, model)
}

// Engines registers every OCR engine with OCR_ENGINE as the default. Each
// one is bounded by OCR_MAX_CONCURRENCY and, when cache is not nil, memoized.
func Engines(cfg *config.Config, cache ocr.TextCache) (*ocr.Engines, error) {
	tess := tesseract.New(cfg.TesseractCmd, cfg.TesseractLang)
	if err := tess.Available(); err != nil {
		slog.Warn("tesseract binary not found", "cmd", cfg.TesseractCmd, "err", err)
	}
	engs := ocr.NewEngines(cfg.OCREngine,
		tess,
		yandex.New(cfg.YCOAuthToken, cfg.YCFolderID),
		gemini.New(cfg.GeminiAPIKey, cfg.GeminiModel),
	)
	if _, err := engs.GetEngine(""); err != nil {
		return nil, fmt.Errorf("OCR_ENGINE: %w", err)
	}
	engs.Wrap(func(e ocr.Engine) ocr.Engine {
		var out ocr.Engine = ocr.NewLimited(e, cfg.OCRMaxConcurrency)
		if cache != nil {
			out = ocr.NewCached(out, cache)
		}
		return out
	})
	return engs, nil
}

// Storage holds the optional Postgres history and Redis cache. Nil fields
// mean the feature is off.
type Storage struct {
	DB      *sql.DB
	History *store.PredictionRepo
	Redis   *redis.Client
	Cache   *store.RedisTextCache
}

// OpenStorage connects to whatever DATABASE_URL / REDIS_ADDR point at.
func OpenStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	s := &Storage{}
	if cfg.DatabaseURL != "" {
		db, err := store.OpenDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		repo := store.NewPredictionRepo(db)
		if err := repo.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		s.DB, s.History = db, repo
	}
	if cfg.RedisAddr != "" {
		rdb, err := store.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Redis, s.Cache = rdb, store.NewRedisTextCache(rdb, cfg.OCRCacheTTL)
	}
	return s, nil
}

// TextCache returns the OCR cache or nil, typed so a nil cache stays a nil
// interface.
func (s *Storage) TextCache() ocr.TextCache {
	if s.Cache == nil {
		return nil
	}
	return s.Cache
}

// RunRetention purges old history rows until ctx is done. It returns at once
// when history is off or retention is not configured.
func (s *Storage) RunRetention(ctx context.Context, keep time.Duration) {
	if s.History == nil || keep <= 0 {
		return
	}
	slog.Info("history retention on", "keep", keep)
	store.RunRetention(ctx, s.History, keep, time.Hour)
}

func (s *Storage) Close() {
	if s.DB != nil {
		_ = s.DB.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
}
