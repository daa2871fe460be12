package speech

import (
	"context"
	"errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/Vovarama1992/voice_mimic/internal/retry"
)

type named interface{ Name() string }

// Service оборачивает движки политикой повторов и типами ошибок.
type Service struct {
	tts    Synthesizer
	stt    Recognizer
	policy retry.Policy
	log    *zap.Logger
}

// stt может быть nil, если распознавание не используется.
func NewService(tts Synthesizer, stt Recognizer, policy retry.Policy, log *zap.Logger) *Service {
	if policy.Retryable == nil {
		policy.Retryable = transient
	}
	if policy.Logger == nil {
		policy.Logger = log
	}
	return &Service{
		tts:    tts,
		stt:    stt,
		policy: policy,
		log:    log.With(zap.String("component", "speech")),
	}
}

func (s *Service) Synthesize(ctx context.Context, text, lang string) (Clip, error) {
	clip, err := retry.Do(ctx, s.policy, "tts", func(ctx context.Context) (Clip, error) {
		return s.tts.Synthesize(ctx, text, lang)
	})
	if err != nil {
		s.log.Warn("[tts] failed", zap.Int("text_len", len(text)), zap.Error(err))
		return Clip{}, &SynthesisError{Provider: providerName(s.tts), Err: err}
	}
	if len(clip.Data) == 0 {
		return Clip{}, &SynthesisError{Provider: providerName(s.tts), Err: errors.New("empty audio")}
	}
	return clip, nil
}

func (s *Service) Transcribe(ctx context.Context, clip Clip, lang string) (string, error) {
	if s.stt == nil {
		return "", &RecognitionError{Provider: "none", Err: errors.New("recognizer is not configured")}
	}
	text, err := retry.Do(ctx, s.policy, "stt", func(ctx context.Context) (string, error) {
		return s.stt.Transcribe(ctx, clip, lang)
	})
	if err != nil {
		s.log.Warn("[stt] failed", zap.Int("bytes", len(clip.Data)), zap.Error(err))
		return "", &RecognitionError{Provider: providerName(s.stt), Err: err}
	}
	return strings.TrimSpace(text), nil
}

func providerName(v any) string {
	if n, ok := v.(named); ok {
		return n.Name()
	}
	return "unknown"
}

// временные: сетевые ошибки, таймауты, 429 и 5xx. Остальные 4xx повтор не исправит
func transient(err error) bool {
	code := 0
	var se *StatusError
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &se):
		code = se.Code
	case errors.As(err, &apiErr):
		code = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		code = reqErr.HTTPStatusCode
	}
	if code == 0 {
		return true
	}
	return code == http.StatusTooManyRequests || code >= 500
}
