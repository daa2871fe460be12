package telegram

import (
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Vovarama1992/voice_mimic/internal/audio"
	"github.com/Vovarama1992/voice_mimic/internal/session"
)

// EventFromUpdate превращает апдейт Telegram в событие сессии. Апдейты без
// отправителя или с неподдерживаемым содержимым пропускаются.
func EventFromUpdate(u tgbotapi.Update) (session.Event, bool) {
	msg := u.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return session.Event{}, false
	}
	ev := session.Event{UserID: msg.From.ID, ChatID: msg.Chat.ID}

	switch {
	case msg.IsCommand():
		switch msg.Command() {
		case "start":
			ev.Kind = session.EventStart
		case "cancel", "stop":
			ev.Kind = session.EventCancel
		default:
			ev.Kind = session.EventHelp
		}

	case msg.Voice != nil:
		ev.Kind = session.EventVoice
		ev.Audio = &session.AudioRef{
			FileID:    msg.Voice.FileID,
			Container: audio.ContainerOggOpus,
			Duration:  time.Duration(msg.Voice.Duration) * time.Second,
			Size:      int(msg.Voice.FileSize),
		}

	case msg.Audio != nil:
		ev.Kind = session.EventVoice
		ev.Audio = &session.AudioRef{
			FileID:    msg.Audio.FileID,
			Container: containerOf(msg.Audio.MimeType),
			Duration:  time.Duration(msg.Audio.Duration) * time.Second,
			Size:      int(msg.Audio.FileSize),
		}

	case strings.TrimSpace(msg.Text) != "":
		if kind, ok := buttonEvents[msg.Text]; ok {
			ev.Kind = kind
			break
		}
		ev.Kind = session.EventText
		ev.Text = msg.Text

	default:
		return session.Event{}, false
	}
	return ev, true
}

// неизвестный mime определяем по содержимому после скачивания
func containerOf(mime string) audio.Container {
	switch strings.ToLower(mime) {
	case "audio/mpeg", "audio/mp3":
		return audio.ContainerMP3
	case "audio/ogg", "audio/opus":
		return audio.ContainerOggOpus
	case "audio/wav", "audio/x-wav", "audio/wave":
		return audio.ContainerWAV
	}
	return audio.ContainerUnknown
}
