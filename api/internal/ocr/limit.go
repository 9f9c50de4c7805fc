package ocr

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limited bounds how many extractions run at once across all callers of the
// wrapped engine. Waiting honours ctx.
type Limited struct {
	Engine
	sem *semaphore.Weighted
}

func NewLimited(e Engine, n int) *Limited {
	if n < 1 {
		n = 1
	}
	return &Limited{Engine: e, sem: semaphore.NewWeighted(int64(n))}
}

func (l *Limited) Extract(ctx context.Context, image []byte) (string, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return "", Fail(l.Name(), err)
	}
	defer l.sem.Release(1)
	return l.Engine.Extract(ctx, image)
}
