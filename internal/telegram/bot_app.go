package telegram

import (
	"context"
	"errors"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Vovarama1992/voice_mimic/internal/session"
)

// Telegram не отдаёт ботам файлы больше этого.
const maxFileSize = 20 << 20

var errTooLarge = errors.New("file is too large")

// botAPI: та часть *tgbotapi.BotAPI, которой пользуется приложение
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Dispatcher получает события, разобранные из апдейтов.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev session.Event)
}

type Options struct {
	// SendRate ограничивает исходящие сообщения в секунду на весь бот.
	SendRate    float64
	MaxFileSize int
	HTTPClient  *http.Client
}

type BotApp struct {
	api     botAPI
	token   string
	limiter *rate.Limiter
	client  *http.Client
	maxSize int
	log     *zap.Logger

	// fileURL строит ссылку на скачивание; токен не покидает пакет
	fileURL func(tgbotapi.File) string
}

// NewBotApp подключается к Bot API с токеном.
func NewBotApp(token string, opts Options, log *zap.Logger) (*BotApp, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	log.Info("[bot_app] ready", zap.String("username", bot.Self.UserName))
	return newBotApp(bot, token, opts, log), nil
}

func newBotApp(api botAPI, token string, opts Options, log *zap.Logger) *BotApp {
	if opts.SendRate <= 0 {
		opts.SendRate = 25
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = maxFileSize
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}

	app := &BotApp{
		api:     api,
		token:   token,
		limiter: rate.NewLimiter(rate.Limit(opts.SendRate), int(opts.SendRate)+1),
		client:  opts.HTTPClient,
		maxSize: opts.MaxFileSize,
		log:     log.With(zap.String("component", "telegram")),
	}
	app.fileURL = func(f tgbotapi.File) string { return f.Link(app.token) }
	return app
}

// Run читает апдейты, пока ctx не отменён.
func (app *BotApp) Run(ctx context.Context, d Dispatcher) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := app.api.GetUpdatesChan(u)
	defer app.api.StopReceivingUpdates()
	app.log.Info("[bot_loop] started")

	for {
		select {
		case <-ctx.Done():
			app.log.Info("[bot_loop] stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			ev, ok := EventFromUpdate(update)
			if !ok {
				continue
			}
			app.log.Debug("[bot_touch] update",
				zap.Int("update_id", update.UpdateID),
				zap.Int64("user_id", ev.UserID),
				zap.String("event", string(ev.Kind)),
			)
			d.Dispatch(ctx, ev)
		}
	}
}
