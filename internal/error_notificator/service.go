package error_notificator

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Service логирует каждую ошибку и пересылает в админский чат, не больше нескольких в минуту.
type Service struct {
	infra   Notificator
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewService с nil infra только логирует.
func NewService(infra Notificator, log *zap.Logger) *Service {
	return &Service{
		infra:   infra,
		limiter: rate.NewLimiter(rate.Every(10*time.Second), 5),
		log:     log.With(zap.String("component", "error_notificator")),
	}
}

func (s *Service) Notify(ctx context.Context, err error, details string) error {
	s.log.Error("[error_notificator] error", zap.Error(err), zap.String("details", details))
	if s.infra == nil {
		return nil
	}
	if !s.limiter.Allow() {
		s.log.Warn("[error_notificator] admin notification dropped, too many errors")
		return nil
	}
	return s.infra.Notify(ctx, err, details)
}
