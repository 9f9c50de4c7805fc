package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"newscheck/api/internal/detect"
	"newscheck/api/internal/util"
)

const (
	cbEnginePrefix = "engine:"
	maxEchoRunes   = 3500
)

const helpText = `Send me a news headline or a screenshot of an article and I will estimate whether it looks like fake news.

Several photos sent as one album are read as a single page.

Commands:
/help - this message
/engine - show or switch the OCR engine for this chat`

// makeEngineKeyboard offers one button per OCR engine, marking the current one.
func makeEngineKeyboard(names []string, current string) tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(names))
	for _, n := range names {
		label := n
		if n == current {
			label = "✅ " + n
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, cbEnginePrefix+n))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

func labelIcon(d detect.Decision) string {
	switch d {
	case detect.LikelyReal:
		return "🟢"
	case detect.LikelyFake:
		return "🔴"
	}
	return "🟡"
}

func formatPrediction(p detect.Prediction) string {
	return fmt.Sprintf("%s %s\nFake: %s\nReal: %s", labelIcon(p.Label), p.Label, p.FakeProbability, p.RealProbability)
}

// formatImagePrediction adds the OCR text (shortened) under the verdict.
func formatImagePrediction(p detect.Prediction, extracted string) string {
	var b strings.Builder
	b.WriteString(formatPrediction(p))
	b.WriteString("\n\n📝 Extracted text:\n")
	if s := strings.TrimSpace(extracted); s != "" {
		b.WriteString(util.Truncate(s, maxEchoRunes))
	} else {
		b.WriteString("(no readable text found)")
	}
	return b.String()
}
