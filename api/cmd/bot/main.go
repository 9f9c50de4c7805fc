package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"newscheck/api/internal/app"
	"newscheck/api/internal/config"
	"newscheck/api/internal/httpserver"
	"newscheck/api/internal/logging"
	"newscheck/api/internal/ocr"
	"newscheck/api/internal/telegram"
)

func main() {
	cfg := config.LoadBot()
	logging.ConfigureLogging(cfg.LogLevel)

	if err := run(cfg); err != nil {
		slog.Error("newscheck-bot stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipe, err := app.LoadPipeline(cfg)
	if err != nil {
		return err
	}

	storage, err := app.OpenStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer storage.Close()

	engs, err := app.Engines(cfg, storage.TextCache())
	if err != nil {
		return err
	}

	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return err
	}
	bot.Debug = false
	slog.Info("telegram bot authorized", "user", bot.Self.UserName)

	r := &telegram.Router{
		Bot:        bot,
		EngManager: ocr.NewManager(engs),
		Pipe:       pipe,
		OCRTimeout: cfg.OCRTimeout,
	}
	checks := map[string]httpserver.Pinger{}
	if storage.History != nil {
		r.History = storage.History
		checks["database"] = storage.History
	}
	if storage.Cache != nil {
		checks["redis"] = storage.Cache
	}
	mux := httpserver.NewMux(checks)
	addr := "0.0.0.0:" + cfg.Port

	g, gctx := errgroup.WithContext(ctx)
	if webhookURL := strings.TrimSpace(cfg.WebhookURL); webhookURL != "" {
		updates, err := startWebhook(bot, mux, webhookURL)
		if err != nil {
			return err
		}
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case upd := <-updates:
					r.HandleUpdate(gctx, upd)
				}
			}
		})
	} else {
		g.Go(func() error {
			runPolling(gctx, bot, func(upd tgbotapi.Update) { r.HandleUpdate(gctx, upd) })
			return nil
		})
	}
	g.Go(func() error { return httpserver.Run(gctx, addr, mux) })
	g.Go(func() error {
		storage.RunRetention(gctx, cfg.HistoryRetention)
		return nil
	})
	return g.Wait()
}

// startWebhook registers the bot's webhook under a path derived from the
// token and mounts the receiving handler on mux.
func startWebhook(bot *tgbotapi.BotAPI, mux *http.ServeMux, baseURL string) (<-chan tgbotapi.Update, error) {
	path := "/webhook/" + shortHash(bot.Token)
	public := strings.TrimRight(baseURL, "/") + path

	wh, err := tgbotapi.NewWebhook(public)
	if err != nil {
		return nil, err
	}
	wh.DropPendingUpdates = true
	if _, err := bot.Request(wh); err != nil {
		return nil, err
	}

	updates := make(chan tgbotapi.Update, bot.Buffer)
	mux.HandleFunc(path, func(w http.ResponseWriter, req *http.Request) {
		upd, err := bot.HandleUpdate(req)
		if err != nil {
			slog.Warn("bad webhook update", "err", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		select {
		case updates <- *upd:
		case <-req.Context().Done():
		}
	})
	slog.Info("webhook registered", "path", path)
	return updates, nil
}

// deleteWebhook switches a bot that used to run in webhook mode back to
// getUpdates; Telegram rejects polling while a webhook is set.
func deleteWebhook(bot *tgbotapi.BotAPI) {
	if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		slog.Warn("delete webhook failed", "err", err)
	}
}

var reRetryAfter = regexp.MustCompile(`(?i)retry after\s+(\d+)`)

func retryDelayFromError(err error) time.Duration {
	if err == nil {
		return 0
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "too many requests") {
		if m := reRetryAfter.FindStringSubmatch(s); len(m) == 2 {
			if n, _ := strconv.Atoi(m[1]); n > 0 {
				return time.Duration(n) * time.Second
			}
		}
		return 3 * time.Second
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return 2 * time.Second
	}
	return 1 * time.Second
}

func clampDelay(d, lo, hi time.Duration) time.Duration {
	return min(max(d, lo), hi)
}

func runPolling(ctx context.Context, bot *tgbotapi.BotAPI, handle func(tgbotapi.Update)) {
	deleteWebhook(bot)
	offset := 0
	for {
		if ctx.Err() != nil {
			slog.Info("polling stopped")
			return
		}

		u := tgbotapi.NewUpdate(offset)
		u.Timeout = 30

		updates, err := bot.GetUpdates(u)
		if err != nil {
			d := clampDelay(retryDelayFromError(err), time.Second, 15*time.Second)
			slog.Warn("polling error", "err", err, "retry_in", d)
			sleep(ctx, d)
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			handle(upd)
		}
		if len(updates) == 0 {
			sleep(ctx, 200*time.Millisecond)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// shortHash is FNV-1a over the token, as 16 hex digits.
func shortHash(s string) string {
	h := uint64(1469598103934665603)
	const prime = 1099511628211
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		out[i] = hexdigits[h&0xF]
		h >>= 4
	}
	return string(out)
}
