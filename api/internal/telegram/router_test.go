package telegram

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newscheck/api/internal/detect"
	"newscheck/api/internal/ocr"
	"newscheck/api/internal/store"
)

type fakeBot struct {
	mu       sync.Mutex
	texts    []string
	markups  []any
	edits    int
	acks     int
	fileBase string
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch m := c.(type) {
	case tgbotapi.MessageConfig:
		b.texts = append(b.texts, m.Text)
		b.markups = append(b.markups, m.ReplyMarkup)
	case tgbotapi.EditMessageReplyMarkupConfig:
		b.edits++
	}
	return tgbotapi.Message{}, nil
}

func (b *fakeBot) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.mu.Lock()
	b.acks++
	b.mu.Unlock()
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *fakeBot) GetFileDirectURL(fileID string) (string, error) {
	if fileID == "missing" {
		return "", errors.New("file not found")
	}
	return b.fileBase + "/" + fileID, nil
}

func (b *fakeBot) sent() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.texts...)
}

func (b *fakeBot) last() string {
	s := b.sent()
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}

// scorePipe says P(real)=0.9 unless the text mentions "hoax".
type scorePipe struct {
	mu   sync.Mutex
	seen []string
}

func (p *scorePipe) Predict(text string) (detect.Prediction, error) {
	p.mu.Lock()
	p.seen = append(p.seen, text)
	p.mu.Unlock()
	score := 0.9
	if strings.Contains(strings.ToLower(text), "hoax") {
		score = 0.1
	}
	label, fake, real := detect.Decide(score)
	return detect.Prediction{Label: label, FakeProbability: fake, RealProbability: real, Score: score}, nil
}

type echoEngine struct {
	name  string
	text  string
	mu    sync.Mutex
	sizes []image.Point
}

func (e *echoEngine) Name() string { return e.name }

func (e *echoEngine) Extract(_ context.Context, b []byte) (string, error) {
	img, _, err := ocr.Decode(b)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	e.sizes = append(e.sizes, img.Bounds().Size())
	e.mu.Unlock()
	return e.text, nil
}

type memHistory struct {
	mu    sync.Mutex
	items []store.Prediction
}

func (m *memHistory) Insert(_ context.Context, p store.Prediction) (store.Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, p)
	return p, nil
}

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newRouter(t *testing.T) (*Router, *fakeBot, *echoEngine, *memHistory) {
	t.Helper()
	files := map[string][]byte{
		"p1": pngOf(t, 40, 20),
		"p2": pngOf(t, 30, 10),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, ok := files[strings.TrimPrefix(r.URL.Path, "/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(b)
	}))
	t.Cleanup(srv.Close)

	bot := &fakeBot{fileBase: srv.URL}
	tess := &echoEngine{name: "tesseract", text: "Earth is round\n\f"}
	engs := ocr.NewEngines("tesseract", tess, &echoEngine{name: "gemini", text: "total hoax"})
	hist := &memHistory{}
	r := &Router{
		Bot:        bot,
		EngManager: ocr.NewManager(engs),
		Pipe:       &scorePipe{},
		History:    hist,
		Debounce:   20 * time.Millisecond,
	}
	return r, bot, tess, hist
}

func textUpdate(chatID int64, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}, Text: text}
	if strings.HasPrefix(text, "/") {
		cmd, _, _ := strings.Cut(text, " ")
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return tgbotapi.Update{Message: msg}
}

func photoUpdate(chatID int64, fileID, group string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:         &tgbotapi.Chat{ID: chatID},
		MediaGroupID: group,
		Photo:        []tgbotapi.PhotoSize{{FileID: "thumb"}, {FileID: fileID}},
	}}
}

func TestTextMessage(t *testing.T) {
	r, bot, _, hist := newRouter(t)
	r.HandleUpdate(context.Background(), textUpdate(7, "Scientists confirm hoax"))

	assert.Equal(t, "🔴 Likely Fake News\nFake: 90.00%\nReal: 10.00%", bot.last())
	require.Len(t, hist.items, 1)
	assert.Equal(t, "telegram", hist.items[0].Source)
}

func TestCommands(t *testing.T) {
	r, bot, _, _ := newRouter(t)
	ctx := context.Background()

	r.HandleUpdate(ctx, textUpdate(1, "/start"))
	assert.Contains(t, bot.last(), "Send me a news headline")

	r.HandleUpdate(ctx, textUpdate(1, "/nope"))
	assert.Contains(t, bot.last(), "Unknown command")

	r.HandleUpdate(ctx, textUpdate(1, "/engine"))
	assert.Equal(t, "Current OCR engine: tesseract", bot.last())

	r.HandleUpdate(ctx, textUpdate(1, "/engine Gemini"))
	assert.Equal(t, "✅ OCR engine: gemini", bot.last())
	assert.Equal(t, "gemini", r.EngManager.Get(1).Name())
	assert.Equal(t, "tesseract", r.EngManager.Get(2).Name())

	r.HandleUpdate(ctx, textUpdate(1, "/engine abbyy"))
	assert.Contains(t, bot.last(), "unknown ocr engine")
	assert.Equal(t, "gemini", r.EngManager.Get(1).Name())
}

func TestEngineCallback(t *testing.T) {
	r, bot, _, _ := newRouter(t)
	r.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		Data:    cbEnginePrefix + "gemini",
		Message: &tgbotapi.Message{MessageID: 5, Chat: &tgbotapi.Chat{ID: 3}},
	}})
	assert.Equal(t, 1, bot.acks)
	assert.Equal(t, 1, bot.edits)
	assert.Equal(t, "gemini", r.EngManager.Get(3).Name())
	assert.Equal(t, "✅ OCR engine: gemini", bot.last())
}

func TestPhotoMessage(t *testing.T) {
	r, bot, tess, hist := newRouter(t)
	r.HandleUpdate(context.Background(), photoUpdate(9, "p1", ""))

	require.Eventually(t, func() bool { return len(bot.sent()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, photoAcceptedText, bot.sent()[0])
	assert.Equal(t, "🟢 Likely Real News\nFake: 10.00%\nReal: 90.00%\n\n📝 Extracted text:\nEarth is round", bot.last())
	assert.Equal(t, []image.Point{{40, 20}}, tess.sizes)

	hist.mu.Lock()
	defer hist.mu.Unlock()
	require.Len(t, hist.items, 1)
	assert.Equal(t, "tesseract", hist.items[0].Engine)
}

func TestAlbumIsStitched(t *testing.T) {
	r, bot, tess, _ := newRouter(t)
	ctx := context.Background()
	r.HandleUpdate(ctx, photoUpdate(9, "p1", "album"))
	r.HandleUpdate(ctx, photoUpdate(9, "p2", "album"))

	require.Eventually(t, func() bool { return len(bot.sent()) == 2 }, 2*time.Second, 10*time.Millisecond)
	tess.mu.Lock()
	defer tess.mu.Unlock()
	assert.Equal(t, []image.Point{{40, 30}}, tess.sizes, "pages stacked into one image")
}

func TestPhotoAfterBatchClosedStartsNewBatch(t *testing.T) {
	r, bot, _, _ := newRouter(t)
	r.Debounce = time.Hour
	ctx := context.Background()

	r.HandleUpdate(ctx, photoUpdate(9, "p1", "album"))
	bi, ok := r.batches.Load("grp:album")
	require.True(t, ok)
	first := bi.(*photoBatch)

	r.processBatch(ctx, first)
	require.Len(t, bot.sent(), 2)

	// a late photo that still finds the old batch in the map
	r.batches.Store("grp:album", first)
	second, isFirst := r.addToBatch(ctx, "grp:album", 9, "album", pngOf(t, 30, 10))
	assert.True(t, isFirst)
	assert.NotSame(t, first, second)
	assert.Len(t, first.images, 1, "closed batch is left alone")

	r.processBatch(ctx, second)
	assert.Len(t, bot.sent(), 3, "late photo is classified, not dropped")

	r.processBatch(ctx, second)
	assert.Len(t, bot.sent(), 3, "a batch is processed once")
	_, ok = r.batches.Load("grp:album")
	assert.False(t, ok)
}

func TestPhotoErrors(t *testing.T) {
	r, bot, _, _ := newRouter(t)
	r.HandleUpdate(context.Background(), photoUpdate(9, "missing", ""))
	assert.Contains(t, bot.last(), "file not found")

	r.HandleUpdate(context.Background(), photoUpdate(9, "gone", ""))
	assert.Contains(t, bot.last(), "download status 404")
}

func TestCombineAsOneDownscales(t *testing.T) {
	wide := pngOf(t, 5000, 2000)
	tall := pngOf(t, 3000, 2000)
	out, err := combineAsOne([][]byte{wide, tall})
	require.NoError(t, err)
	img, format, err := ocr.Decode(out)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.LessOrEqual(t, img.Bounds().Dx()*img.Bounds().Dy(), maxPixels+10_000)

	_, err = combineAsOne([][]byte{wide, []byte("junk")})
	assert.Error(t, err)
}

func TestFormatImagePredictionWithoutText(t *testing.T) {
	label, fake, real := detect.Decide(0)
	got := formatImagePrediction(detect.Prediction{Label: label, FakeProbability: fake, RealProbability: real}, " \n\f")
	assert.True(t, strings.HasSuffix(got, "(no readable text found)"))
}
