package handle

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"newscheck/api/internal/detect"
	"newscheck/api/internal/feed"
	"newscheck/api/internal/store"
)

type textResponse struct {
	Headline string `json:"headline"`
	detect.Prediction
}

// Predict classifies the form field "headline". An empty headline is valid
// input and classifies the zero vector; a missing one is 422.
func (h *Handle) Predict(c *gin.Context) {
	headline, ok := c.GetPostForm("headline")
	if !ok {
		writeError(c, http.StatusUnprocessableEntity, errors.New("field required: headline"))
		return
	}
	p, err := h.pipe.Predict(headline)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	h.record(c.Request.Context(), "text", "", headline, p)
	c.JSON(http.StatusOK, textResponse{Headline: headline, Prediction: p})
}

// PredictFeed classifies the item titles of the feed at "url".
func (h *Handle) PredictFeed(c *gin.Context) {
	if h.opts.Feeds == nil {
		writeError(c, http.StatusServiceUnavailable, errors.New("feed checking is disabled"))
		return
	}
	url := strings.TrimSpace(c.PostForm("url"))
	if url == "" {
		url = strings.TrimSpace(c.Query("url"))
	}
	if url == "" {
		writeError(c, http.StatusUnprocessableEntity, errors.New("field required: url"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultPostForm("limit", c.Query("limit")))

	ctx, cancel := requestContext(c, h.opts.OCRTimeout)
	defer cancel()

	res, err := h.opts.Feeds.Check(ctx, url, limit)
	switch {
	case errors.Is(err, feed.ErrInvalidURL), errors.Is(err, feed.ErrForbiddenHost):
		writeError(c, http.StatusUnprocessableEntity, err)
		return
	case errors.Is(err, feed.ErrFetch):
		writeError(c, http.StatusBadGateway, err)
		return
	case err != nil:
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	for _, it := range res.Items {
		h.record(ctx, "feed", "", it.Title, it.Prediction)
	}
	c.JSON(http.StatusOK, res)
}

// History lists recent stored predictions, newest first.
func (h *Handle) History(c *gin.Context) {
	if h.opts.History == nil {
		writeError(c, http.StatusServiceUnavailable, errors.New("history storage is disabled"))
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	items, err := h.opts.History.Recent(c.Request.Context(), store.ClampLimit(limit))
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// HistoryItem returns one stored prediction by id.
func (h *Handle) HistoryItem(c *gin.Context) {
	if h.opts.History == nil {
		writeError(c, http.StatusServiceUnavailable, errors.New("history storage is disabled"))
		return
	}
	p, err := h.opts.History.Get(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(c, http.StatusNotFound, errors.New("prediction not found"))
		return
	case err != nil:
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handle) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	ok := true
	checks := gin.H{}
	for name, p := range h.opts.Checks {
		if err := p.Ping(ctx); err != nil {
			ok = false
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}
	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	body := gin.H{"ok": ok}
	if len(checks) > 0 {
		body["checks"] = checks
	}
	c.JSON(code, body)
}
