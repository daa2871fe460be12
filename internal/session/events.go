package session

import (
	"time"

	"github.com/Vovarama1992/voice_mimic/internal/audio"
)

type EventKind string

const (
	EventStart  EventKind = "start"
	EventVoice  EventKind = "voice"
	EventText   EventKind = "text"
	EventCancel EventKind = "cancel"
	EventHelp   EventKind = "help"
)

// AudioRef указывает на аудио, которое транспорт скачает по требованию.
type AudioRef struct {
	FileID    string
	Container audio.Container
	Duration  time.Duration
	Size      int
}

// Event: одно входящее действие пользователя.
type Event struct {
	Kind   EventKind
	UserID int64
	ChatID int64
	Text   string
	Audio  *AudioRef
}
