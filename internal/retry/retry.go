// Package retry выполняет внешние вызовы с таймаутом на попытку
// и ограниченным числом повторов.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Policy описывает, как повторяется один вид внешнего вызова.
type Policy struct {
	// Всего попыток; 2 значит один повтор.
	Attempts int
	// Timeout ограничивает каждую попытку.
	Timeout time.Duration
	// Пауза перед повтором.
	Delay time.Duration
	// Retryable решает, стоит ли повторять после err. nil повторяет всё,
	// кроме Permanent.
	Retryable func(error) bool
	// Observe вызывается на каждую попытку с исходом ("ok", "error", "timeout").
	Observe func(op, outcome string)

	Logger *zap.Logger
}

func DefaultPolicy() Policy {
	return Policy{Attempts: 2, Timeout: 30 * time.Second, Delay: 500 * time.Millisecond}
}

type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent помечает err как неповторяемую.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err}
}

func isPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p)
}

// Do вызывает fn, пока не будет успеха, не кончатся попытки, ошибка не окажется
// неповторяемой или ctx не завершится. У каждой попытки свой таймаут.
func Do[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			log.Debug("[retry] retrying", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return zero, fmt.Errorf("%s: %w", op, ctx.Err())
			case <-time.After(p.Delay):
			}
		}

		res, err := runAttempt(ctx, p.Timeout, fn)
		if err == nil {
			p.observe(op, "ok")
			return res, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			p.observe(op, "error")
			return zero, err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			p.observe(op, "timeout")
		} else {
			p.observe(op, "error")
		}
		if !p.retryable(err) {
			return zero, unwrapPermanent(err)
		}
	}

	log.Warn("[retry] attempts exhausted", zap.String("op", op), zap.Int("attempts", attempts), zap.Error(lastErr))
	return zero, lastErr
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(actx)
}

func (p Policy) retryable(err error) bool {
	if isPermanent(err) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return true
}

func (p Policy) observe(op, outcome string) {
	if p.Observe != nil {
		p.Observe(op, outcome)
	}
}

func unwrapPermanent(err error) error {
	if p, ok := err.(permanent); ok {
		return p.err
	}
	return err
}
