// Package gemini transcribes images with a Gemini multimodal model.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sethvargo/go-retry"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"newscheck/api/internal/util"
)

const transcribePrompt = `Transcribe all readable text in this image exactly as written.
Keep the original line breaks, word order, casing and punctuation.
Do not translate, summarize, correct spelling or add commentary.
If there is no readable text, return an empty response.`

type Engine struct {
	APIKey string
	Model  string
}

func New(apiKey, model string) *Engine {
	return &Engine{
		APIKey: strings.TrimSpace(apiKey),
		Model:  strings.TrimSpace(model),
	}
}

func (e *Engine) Name() string { return "gemini" }

func (e *Engine) Extract(ctx context.Context, image []byte) (string, error) {
	if e.APIKey == "" {
		return "", errors.New("GEMINI_API_KEY is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(e.APIKey))
	if err != nil {
		return "", err
	}
	defer cl.Close()

	m := cl.GenerativeModel(e.Model)
	if m == nil {
		return "", fmt.Errorf("gemini: model is nil")
	}
	m.GenerationConfig = genai.GenerationConfig{
		Temperature: ptrFloat32(0),
	}

	parts := []genai.Part{
		genai.Text(transcribePrompt),
		&genai.Blob{MIMEType: util.PickMIME("", "", image), Data: image},
	}

	var txt string
	backoff := retry.WithMaxRetries(2, retry.NewExponential(300*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, err := m.GenerateContent(ctx, parts...)
		if err != nil {
			if transient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		txt = util.StripCodeFences(firstText(resp))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("gemini transcribe: %w", err)
	}
	return txt, nil
}

// transient reports whether err is worth another attempt: rate limiting,
// server-side failures and network timeouts.
func transient(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }
