package ocr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
)

// TextCache stores extracted text by key. Get reports ok=false on a miss.
type TextCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, text string) error
}

// Cached memoizes an engine by image hash. Cache errors are logged and
// otherwise ignored; only engine errors reach the caller.
type Cached struct {
	Engine
	cache TextCache
}

func NewCached(e Engine, c TextCache) *Cached {
	return &Cached{Engine: e, cache: c}
}

func (c *Cached) Extract(ctx context.Context, image []byte) (string, error) {
	key := CacheKey(c.Name(), image)
	if txt, ok, err := c.cache.Get(ctx, key); err != nil {
		slog.Warn("ocr cache get", "engine", c.Name(), "err", err)
	} else if ok {
		return txt, nil
	}

	txt, err := c.Engine.Extract(ctx, image)
	if err != nil {
		return "", err
	}
	if err := c.cache.Set(ctx, key, txt); err != nil {
		slog.Warn("ocr cache set", "engine", c.Name(), "err", err)
	}
	return txt, nil
}

func ImageHash(image []byte) string {
	sum := sha256.Sum256(image)
	return hex.EncodeToString(sum[:])
}

func CacheKey(engine string, image []byte) string {
	return "ocr:" + engine + ":" + ImageHash(image)
}
