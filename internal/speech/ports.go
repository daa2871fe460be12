package speech

import (
	"context"
	"fmt"

	"github.com/Vovarama1992/voice_mimic/internal/audio"
)

// Clip: закодированное аудио на входе или выходе речевого движка.
type Clip struct {
	Data      []byte
	Container audio.Container
}

// Synthesizer: текст → голос
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) (Clip, error)
}

// Recognizer: голос → текст
type Recognizer interface {
	Transcribe(ctx context.Context, clip Clip, lang string) (string, error)
}

// SynthesisError: сбой TTS (сеть, квота, плохой ответ).
type SynthesisError struct {
	Provider string
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis via %s: %v", e.Provider, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// RecognitionError: сбой STT.
type RecognitionError struct {
	Provider string
	Err      error
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("recognition via %s: %v", e.Provider, e.Err)
}

func (e *RecognitionError) Unwrap() error { return e.Err }

// StatusError: ответ речевого API с кодом не 2xx.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}
