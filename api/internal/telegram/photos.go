package telegram

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"newscheck/api/internal/ocr"
)

const photoAcceptedText = "Photo received, reading the text…"

func (r *Router) acceptPhoto(ctx context.Context, msg tgbotapi.Message) {
	cid := msg.Chat.ID
	ph := msg.Photo[len(msg.Photo)-1] // largest size
	url, err := r.Bot.GetFileDirectURL(ph.FileID)
	if err != nil {
		r.SendError(cid, err)
		return
	}
	imgBytes, err := download(ctx, url)
	if err != nil {
		r.SendError(cid, err)
		return
	}

	key := "chat:" + fmt.Sprint(cid)
	if msg.MediaGroupID != "" {
		key = "grp:" + msg.MediaGroupID
	}

	_, first := r.addToBatch(ctx, key, cid, msg.MediaGroupID, imgBytes)
	if first {
		r.send(cid, photoAcceptedText)
	}
}

// addToBatch appends img to the open batch under key, starting a new batch
// when there is none or the current one was already taken for processing.
func (r *Router) addToBatch(ctx context.Context, key string, chatID int64, groupID string, img []byte) (*photoBatch, bool) {
	for {
		bi, _ := r.batches.LoadOrStore(key, &photoBatch{
			ChatID: chatID, Key: key, MediaGroupID: groupID, images: make([][]byte, 0, 4),
		})
		b := bi.(*photoBatch)

		b.mu.Lock()
		if b.done {
			b.mu.Unlock()
			r.batches.CompareAndDelete(key, b)
			continue
		}
		b.images = append(b.images, img)
		first := len(b.images) == 1
		if b.timer != nil {
			b.timer.Stop()
		}
		b.timer = time.AfterFunc(r.debounce(), func() { r.processBatch(context.WithoutCancel(ctx), b) })
		b.mu.Unlock()
		return b, first
	}
}

func (r *Router) processBatch(ctx context.Context, b *photoBatch) {
	r.batches.CompareAndDelete(b.Key, b)

	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return
	}
	b.done = true
	if b.timer != nil {
		b.timer.Stop()
	}
	images := append([][]byte(nil), b.images...)
	chatID := b.ChatID
	b.mu.Unlock()

	if len(images) == 0 {
		return
	}

	img := images[0]
	if len(images) > 1 {
		merged, err := combineAsOne(images)
		if err != nil {
			r.SendError(chatID, ocr.Fail("", fmt.Errorf("combine pages: %w", err)))
			return
		}
		img = merged
	}

	ctx, cancel := context.WithTimeout(ctx, r.ocrTimeout())
	defer cancel()

	eng := r.EngManager.Get(chatID)
	txt, err := ocr.ExtractText(ctx, eng, img)
	if err != nil {
		r.SendError(chatID, err)
		return
	}
	p, err := r.Pipe.Predict(txt)
	if err != nil {
		r.SendError(chatID, err)
		return
	}
	slog.Debug("telegram photo classified", "chat", chatID, "pages", len(images), "engine", eng.Name(), "label", p.Label)
	r.record(ctx, eng.Name(), txt, p)
	r.send(chatID, formatImagePrediction(p, txt))
}

// combineAsOne stacks album pages vertically on white, centred, and
// downscales the result to at most maxPixels.
func combineAsOne(images [][]byte) ([]byte, error) {
	decoded := make([]image.Image, 0, len(images))
	maxW, sumH := 0, 0
	for _, b := range images {
		img, _, err := ocr.Decode(b)
		if err != nil {
			return nil, err
		}
		decoded = append(decoded, img)
		if w := img.Bounds().Dx(); w > maxW {
			maxW = w
		}
		sumH += img.Bounds().Dy()
	}
	if maxW == 0 || sumH == 0 {
		return nil, fmt.Errorf("empty images")
	}

	dst := image.NewRGBA(image.Rect(0, 0, maxW, sumH))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	y := 0
	for _, img := range decoded {
		w, h := img.Bounds().Dx(), img.Bounds().Dy()
		x := (maxW - w) / 2
		draw.Draw(dst, image.Rect(x, y, x+w, y+h), img, img.Bounds().Min, draw.Over)
		y += h
	}

	final := image.Image(dst)
	if totalPx := maxW * sumH; totalPx > maxPixels {
		scale := math.Sqrt(float64(maxPixels) / float64(totalPx))
		newW := max(int(float64(maxW)*scale+0.5), 1)
		newH := max(int(float64(sumH)*scale+0.5), 1)
		final = scaleDownNN(dst, newW, newH)
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, final, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func scaleDownNN(src image.Image, newW, newH int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	sb := src.Bounds()
	srcW, srcH := sb.Dx(), sb.Dy()
	for y := 0; y < newH; y++ {
		sy := sb.Min.Y + (y*srcH)/newH
		for x := 0; x < newW; x++ {
			sx := sb.Min.X + (x*srcW)/newW
			dst.Set(x, y, src.At(sx, sy))
		}
	}
	return dst
}

func download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("download status %d: %s", resp.StatusCode, string(b))
	}
	return io.ReadAll(resp.Body)
}

var httpClient = &http.Client{Timeout: 60 * time.Second}
