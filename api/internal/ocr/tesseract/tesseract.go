// Package tesseract runs the Tesseract OCR command line tool.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"newscheck/api/internal/ocr"
)

type Engine struct {
	Cmd  string
	Lang string
}

func New(cmd, lang string) *Engine {
	if strings.TrimSpace(cmd) == "" {
		cmd = "tesseract"
	}
	return &Engine{Cmd: cmd, Lang: strings.TrimSpace(lang)}
}

func (e *Engine) Name() string { return "tesseract" }

// native lists the formats tesseract reads from stdin without help.
var native = map[string]bool{"png": true, "jpeg": true, "tiff": true, "bmp": true}

// input returns image as is when tesseract can read it, else a PNG
// re-encoding.
func input(image []byte) ([]byte, error) {
	format, err := ocr.Sniff(image)
	if err != nil {
		return nil, err
	}
	if native[format] {
		return image, nil
	}
	img, _, err := ocr.Decode(image)
	if err != nil {
		return nil, err
	}
	out, err := ocr.EncodePNG(img)
	if err != nil {
		return nil, fmt.Errorf("re-encode png: %w", err)
	}
	return out, nil
}

// Extract pipes the image to `tesseract stdin stdout` and returns stdout as
// is, trailing form feed included.
func (e *Engine) Extract(ctx context.Context, image []byte) (string, error) {
	data, err := input(image)
	if err != nil {
		return "", err
	}

	args := []string{"stdin", "stdout"}
	if e.Lang != "" {
		args = append(args, "-l", e.Lang)
	}
	cmd := exec.CommandContext(ctx, e.Cmd, args...)
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	return stdout.String(), nil
}

// Available reports whether the configured binary can be found.
func (e *Engine) Available() error {
	_, err := exec.LookPath(e.Cmd)
	return err
}
