package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Vovarama1992/voice_mimic/internal/audio"
)

// OpenAIClient работает в обе стороны: tts-1 для синтеза, whisper-1 для распознавания.
type OpenAIClient struct {
	client *openai.Client
	voice  openai.SpeechVoice
}

func NewOpenAIClient(apiKey, baseURL, voice string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if voice == "" {
		voice = string(openai.VoiceAlloy)
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		voice:  openai.SpeechVoice(voice),
	}
}

func (c *OpenAIClient) Name() string { return "openai" }

// Synthesize игнорирует lang: модель сама определяет язык по тексту.
func (c *OpenAIClient) Synthesize(ctx context.Context, text, _ string) (Clip, error) {
	resp, err := c.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          text,
		Voice:          c.voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return Clip{}, err
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return Clip{}, fmt.Errorf("read speech: %w", err)
	}
	return Clip{Data: data, Container: audio.ContainerMP3}, nil
}

func (c *OpenAIClient) Transcribe(ctx context.Context, clip Clip, lang string) (string, error) {
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   bytes.NewReader(clip.Data),
		FilePath: "voice" + clip.Container.Ext(),
		Language: lang,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}
