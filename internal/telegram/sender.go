package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/Vovarama1992/voice_mimic/internal/audio"
	"github.com/Vovarama1992/voice_mimic/internal/session"
)

// SendText отправляет сообщение с основной клавиатурой.
func (app *BotApp) SendText(ctx context.Context, chatID int64, text string) error {
	if err := app.limiter.Wait(ctx); err != nil {
		return err
	}
	m := tgbotapi.NewMessage(chatID, text)
	m.ReplyMarkup = mainKeyboard()
	if _, err := app.api.Send(m); err != nil {
		app.log.Warn("[send] text failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return err
	}
	return nil
}

// SendVoice отправляет голосовое Ogg/Opus.
func (app *BotApp) SendVoice(ctx context.Context, chatID int64, data []byte, caption string) error {
	if err := app.limiter.Wait(ctx); err != nil {
		return err
	}
	v := tgbotapi.NewVoice(chatID, tgbotapi.FileBytes{Name: "reply" + audio.DetectContainer(data).Ext(), Bytes: data})
	v.Caption = caption
	if _, err := app.api.Send(v); err != nil {
		app.log.Warn("[send] voice failed", zap.Int64("chat_id", chatID), zap.Int("bytes", len(data)), zap.Error(err))
		return err
	}
	app.log.Info("[send] voice sent 🎤", zap.Int64("chat_id", chatID), zap.Int("bytes", len(data)))
	return nil
}

// Fetch скачивает файл по ref.
func (app *BotApp) Fetch(ctx context.Context, ref session.AudioRef) ([]byte, error) {
	if ref.Size > app.maxSize {
		return nil, &audio.DecodeError{Container: ref.Container, Err: errTooLarge}
	}

	file, err := app.api.GetFile(tgbotapi.FileConfig{FileID: ref.FileID})
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", ref.FileID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, app.fileURL(file), nil)
	if err != nil {
		return nil, err
	}
	resp, err := app.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", ref.FileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: status %d", ref.FileID, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(app.maxSize)+1))
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", ref.FileID, err)
	}
	if len(data) > app.maxSize {
		return nil, &audio.DecodeError{Container: ref.Container, Err: errTooLarge}
	}
	app.log.Debug("[voice] downloaded", zap.String("file_id", ref.FileID), zap.Int("bytes", len(data)))
	return data, nil
}

// Send: прямой вызов Bot API через тот же лимитер, что и ответы.
func (app *BotApp) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if err := app.limiter.Wait(context.Background()); err != nil {
		return tgbotapi.Message{}, err
	}
	return app.api.Send(c)
}
