package session

import (
	"context"

	"github.com/Vovarama1992/voice_mimic/internal/audio"
	"github.com/Vovarama1992/voice_mimic/internal/speech"
	"github.com/Vovarama1992/voice_mimic/internal/voice"
)

// Sender доставляет ответы пользователю.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendVoice(ctx context.Context, chatID int64, data []byte, caption string) error
}

// AudioSource скачивает аудио, на которое ссылается событие.
type AudioSource interface {
	Fetch(ctx context.Context, ref AudioRef) ([]byte, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) (speech.Clip, error)
}

type Recognizer interface {
	Transcribe(ctx context.Context, clip speech.Clip, lang string) (string, error)
}

type FeatureExtractor interface {
	Extract(ctx context.Context, buf audio.Buffer) (voice.Profile, error)
}

type PitchMatcher interface {
	Apply(ctx context.Context, buf audio.Buffer, p voice.Profile) (audio.Buffer, voice.Plan, error)
}

// Notifier сообщает администраторам о неожиданных сбоях.
type Notifier interface {
	Notify(ctx context.Context, err error, details string) error
}
