package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"newscheck/api/internal/detect"
	"newscheck/api/internal/ocr"
	"newscheck/api/internal/store"
)

// Bot is the part of *tgbotapi.BotAPI the router uses.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

type Predictor interface {
	Predict(text string) (detect.Prediction, error)
}

type History interface {
	Insert(ctx context.Context, p store.Prediction) (store.Prediction, error)
}

type Router struct {
	Bot        Bot
	EngManager *ocr.Manager
	Pipe       Predictor
	History    History // optional

	OCRTimeout time.Duration
	Debounce   time.Duration

	batches sync.Map // key -> *photoBatch
}

func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.CallbackQuery != nil {
		r.handleCallback(*upd.CallbackQuery)
		return
	}
	if upd.Message == nil {
		return
	}
	msg := upd.Message

	switch {
	case msg.IsCommand():
		r.HandleCommand(msg)
	case len(msg.Photo) > 0:
		r.acceptPhoto(ctx, *msg)
	case strings.TrimSpace(msg.Text) != "":
		r.predictText(ctx, msg.Chat.ID, msg.Text)
	}
}

func (r *Router) HandleCommand(msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	switch msg.Command() {
	case "start", "help":
		r.send(cid, helpText)
	case "engine":
		r.handleEngineCommand(cid, msg.CommandArguments())
	default:
		r.send(cid, "Unknown command. See /help")
	}
}

// handleEngineCommand switches the chat's OCR engine:
//
//	/engine          shows the current engine and a picker
//	/engine yandex   switches directly
func (r *Router) handleEngineCommand(chatID int64, args string) {
	name := strings.ToLower(strings.TrimSpace(args))
	if name == "" {
		cur := r.EngManager.Get(chatID).Name()
		m := tgbotapi.NewMessage(chatID, "Current OCR engine: "+cur)
		m.ReplyMarkup = makeEngineKeyboard(r.EngManager.Engines().Names(), cur)
		_, _ = r.Bot.Send(m)
		return
	}
	r.setEngine(chatID, name)
}

func (r *Router) setEngine(chatID int64, name string) {
	eng, err := r.EngManager.Set(chatID, name)
	if err != nil {
		r.send(chatID, "❌ "+err.Error())
		return
	}
	r.send(chatID, "✅ OCR engine: "+eng.Name())
}

func (r *Router) predictText(ctx context.Context, chatID int64, text string) {
	p, err := r.Pipe.Predict(text)
	if err != nil {
		r.SendError(chatID, err)
		return
	}
	r.record(ctx, "", text, p)
	r.send(chatID, formatPrediction(p))
}

func (r *Router) record(ctx context.Context, engine, text string, p detect.Prediction) {
	if r.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	_, err := r.History.Insert(ctx, store.Prediction{
		Source:          "telegram",
		Engine:          engine,
		Text:            text,
		Prediction:      string(p.Label),
		FakeProbability: p.FakeProbability,
		RealProbability: p.RealProbability,
		Score:           p.Score,
	})
	if err != nil {
		slog.Warn("history insert failed", "source", "telegram", "err", err)
	}
}

func (r *Router) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := r.Bot.Send(msg); err != nil {
		slog.Warn("telegram send failed", "chat", chatID, "err", err)
	}
}

func (r *Router) SendError(chatID int64, err error) {
	r.send(chatID, fmt.Sprintf("⚠️ Error: %v", err))
}

func (r *Router) ocrTimeout() time.Duration {
	if r.OCRTimeout > 0 {
		return r.OCRTimeout
	}
	return 60 * time.Second
}

func (r *Router) debounce() time.Duration {
	if r.Debounce > 0 {
		return r.Debounce
	}
	return debounce
}
