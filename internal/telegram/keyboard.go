package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Vovarama1992/voice_mimic/internal/session"
)

const (
	btnNewSample = "🎙 Новый образец"
	btnCancel    = "❌ Отмена"
	btnHelp      = "❓ Помощь"
)

var buttonEvents = map[string]session.EventKind{
	btnNewSample: session.EventStart,
	btnCancel:    session.EventCancel,
	btnHelp:      session.EventHelp,
}

func mainKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnNewSample),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancel),
			tgbotapi.NewKeyboardButton(btnHelp),
		),
	)
	kb.ResizeKeyboard = true
	return kb
}
