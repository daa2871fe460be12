package error_notificator

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Infra struct {
	bot         messageSender
	adminChatID int64
	log         *zap.Logger
}

func NewInfra(bot messageSender, adminChatID int64, log *zap.Logger) *Infra {
	return &Infra{bot: bot, adminChatID: adminChatID, log: log}
}

func (i *Infra) Notify(ctx context.Context, err error, details string) error {
	text := fmt.Sprintf(
		"❗ Ошибка в боте\n\nОшибка: %v\n\nДетали: %s",
		err,
		details,
	)

	if _, sendErr := i.bot.Send(tgbotapi.NewMessage(i.adminChatID, text)); sendErr != nil {
		i.log.Warn("[error_notificator] send fail", zap.Error(sendErr))
		return sendErr
	}
	return nil
}
