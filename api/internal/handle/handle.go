package handle

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"newscheck/api/internal/detect"
	"newscheck/api/internal/feed"
	"newscheck/api/internal/ocr"
	"newscheck/api/internal/store"
)

//go:embed templates/index.html
var templatesFS embed.FS

const pageName = "index.html"

type Predictor interface {
	Predict(text string) (detect.Prediction, error)
}

type FeedChecker interface {
	Check(ctx context.Context, url string, limit int) (feed.Result, error)
}

type History interface {
	Insert(ctx context.Context, p store.Prediction) (store.Prediction, error)
	Recent(ctx context.Context, limit int) ([]store.Prediction, error)
	Get(ctx context.Context, id string) (*store.Prediction, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Options carries the optional collaborators. Nil fields switch the matching
// endpoint off (503) or skip the side effect.
type Options struct {
	Feeds       FeedChecker
	History     History
	Checks      map[string]Pinger // name -> dependency, reported by /healthz
	TemplateDir string
	OCRTimeout  time.Duration
	MaxUpload   int64
}

type Handle struct {
	pipe Predictor
	engs *ocr.Engines
	page *template.Template
	opts Options
}

func New(pipe Predictor, engs *ocr.Engines, opts Options) (*Handle, error) {
	if pipe == nil {
		return nil, detect.ErrClassifierUnavailable
	}
	if opts.OCRTimeout <= 0 {
		opts.OCRTimeout = 60 * time.Second
	}
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = 10 << 20
	}
	page, err := loadPage(opts.TemplateDir)
	if err != nil {
		return nil, err
	}
	return &Handle{pipe: pipe, engs: engs, page: page, opts: opts}, nil
}

func loadPage(dir string) (*template.Template, error) {
	if strings.TrimSpace(dir) != "" {
		t, err := template.ParseFiles(filepath.Join(dir, pageName))
		if err != nil {
			return nil, fmt.Errorf("load template: %w", err)
		}
		return t, nil
	}
	return template.ParseFS(templatesFS, "templates/"+pageName)
}

// Routes installs the page template and every endpoint on r.
func (h *Handle) Routes(r *gin.Engine) {
	r.SetHTMLTemplate(h.page)

	r.GET("/", h.Home)
	r.GET("/healthz", h.Healthz)
	r.GET("/history", h.History)
	r.GET("/history/:id", h.HistoryItem)
	r.POST("/predict", h.Predict)
	r.POST("/predict_feed", h.PredictFeed)

	img := r.Group("/", h.limitBody)
	img.POST("/predict_from_image", h.PredictFromImage)
	img.POST("/predict_from_image_api", h.PredictFromImageAPI)
}

func (h *Handle) Home(c *gin.Context) {
	c.HTML(http.StatusOK, pageName, gin.H{})
}

// requestContext applies the per-request deadline: X-Request-Timeout header,
// then timeoutSec query, then def. Values are whole seconds.
func requestContext(c *gin.Context, def time.Duration) (context.Context, context.CancelFunc) {
	deadline := def
	if ts := c.GetHeader("X-Request-Timeout"); ts != "" {
		if v, _ := strconv.Atoi(ts); v > 0 {
			deadline = time.Duration(v) * time.Second
		}
	} else if ts := c.Query("timeoutSec"); ts != "" {
		if v, _ := strconv.Atoi(ts); v > 0 {
			deadline = time.Duration(v) * time.Second
		}
	}
	return context.WithTimeout(c.Request.Context(), deadline)
}

func writeError(c *gin.Context, code int, err error) {
	_ = c.Error(err)
	c.JSON(code, gin.H{"error": err.Error()})
}

// record stores a successful prediction. Failures are logged only.
func (h *Handle) record(ctx context.Context, source, engine, text string, p detect.Prediction) {
	if h.opts.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	_, err := h.opts.History.Insert(ctx, store.Prediction{
		Source:          source,
		Engine:          engine,
		Text:            text,
		Prediction:      string(p.Label),
		FakeProbability: p.FakeProbability,
		RealProbability: p.RealProbability,
		Score:           p.Score,
	})
	if err != nil {
		slog.Warn("history insert failed", "source", source, "err", err)
	}
}
