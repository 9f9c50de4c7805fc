package ocr

import (
	"context"
	"log/slog"
	"time"
)

// ExtractText validates the image and runs it through eng. Every error is
// a *Failure.
func ExtractText(ctx context.Context, eng Engine, image []byte) (string, error) {
	if eng == nil {
		return "", &Failure{Err: errNoEngine}
	}
	if _, _, err := Decode(image); err != nil {
		return "", err
	}
	start := time.Now()
	txt, err := eng.Extract(ctx, image)
	if err != nil {
		slog.Warn("ocr failed", "engine", eng.Name(), "bytes", len(image), "err", err)
		return "", Fail(eng.Name(), err)
	}
	slog.Debug("ocr done", "engine", eng.Name(), "bytes", len(image), "chars", len(txt), "took", time.Since(start))
	return txt, nil
}
