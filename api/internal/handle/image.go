package handle

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"newscheck/api/internal/detect"
	"newscheck/api/internal/ocr"
	"newscheck/api/internal/util"
)

var (
	errNoImage  = errors.New("field required: file")
	errTooLarge = errors.New("upload too large")
)

type imageResponse struct {
	ExtractedText string `json:"extracted_text"`
	detect.Prediction
}

// limitBody caps the request body at MaxUpload and rejects bodies that
// announce a larger size up front.
func (h *Handle) limitBody(c *gin.Context) {
	if c.Request.ContentLength > h.opts.MaxUpload {
		writeError(c, http.StatusRequestEntityTooLarge, errTooLarge)
		c.Abort()
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUpload)
	c.Next()
}

// readImage takes the multipart "file" or, failing that, the form field
// "image_b64" (plain base64 or a data: URL).
func readImage(c *gin.Context) ([]byte, error) {
	fh, err := c.FormFile("file")
	if err == nil {
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(f)
	}
	if isTooLarge(err) {
		return nil, errTooLarge
	}
	b64 := strings.TrimSpace(c.PostForm("image_b64"))
	if b64 == "" {
		return nil, errNoImage
	}
	img, _, err := util.DecodeBase64MaybeDataURL(b64)
	if err != nil {
		return nil, fmt.Errorf("bad image_b64: %w", err)
	}
	return img, nil
}

func isTooLarge(err error) bool {
	if err == nil {
		return false
	}
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large")
}

func imageErrorStatus(err error) int {
	if errors.Is(err, errTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusUnprocessableEntity
}

// engine picks the OCR engine named by the "engine" query or form value,
// falling back to the default.
func (h *Handle) engine(c *gin.Context) (ocr.Engine, error) {
	name := c.Query("engine")
	if name == "" {
		name = c.PostForm("engine")
	}
	return h.engs.GetEngine(name)
}

func (h *Handle) predictImage(c *gin.Context, eng ocr.Engine, img []byte) (string, detect.Prediction, error) {
	ctx, cancel := requestContext(c, h.opts.OCRTimeout)
	defer cancel()

	txt, err := ocr.ExtractText(ctx, eng, img)
	if err != nil {
		return "", detect.Prediction{}, err
	}
	p, err := h.pipe.Predict(txt)
	if err != nil {
		return txt, detect.Prediction{}, err
	}
	h.record(ctx, "image", eng.Name(), txt, p)
	return txt, p, nil
}

// PredictFromImage serves the browser form: the page comes back with either
// the result or an error message.
func (h *Handle) PredictFromImage(c *gin.Context) {
	fail := func(code int, err error) {
		_ = c.Error(err)
		c.HTML(code, pageName, gin.H{"error": err.Error()})
	}
	img, err := readImage(c)
	if err != nil {
		if errors.Is(err, errTooLarge) {
			fail(http.StatusRequestEntityTooLarge, err)
			return
		}
		fail(http.StatusOK, err)
		return
	}
	eng, err := h.engine(c)
	if err != nil {
		fail(http.StatusOK, err)
		return
	}
	txt, p, err := h.predictImage(c, eng, img)
	if err != nil {
		fail(http.StatusOK, err)
		return
	}
	c.HTML(http.StatusOK, pageName, gin.H{
		"headline":         txt,
		"prediction":       string(p.Label),
		"fake_probability": p.FakeProbability,
		"real_probability": p.RealProbability,
	})
}

// PredictFromImageAPI is the JSON flavour for app clients.
func (h *Handle) PredictFromImageAPI(c *gin.Context) {
	img, err := readImage(c)
	if err != nil {
		writeError(c, imageErrorStatus(err), err)
		return
	}
	eng, err := h.engine(c)
	if err != nil {
		writeError(c, http.StatusUnprocessableEntity, err)
		return
	}
	txt, p, err := h.predictImage(c, eng, img)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, imageResponse{ExtractedText: txt, Prediction: p})
}
