// Package artifacts учитывает временное аудио прогонов конвейера и
// гарантирует его удаление по завершении прогона.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound: объекта в хранилище нет (уже удалён или истёк TTL).
var ErrNotFound = errors.New("artifact not found")

// Store: байтовое хранилище артефактов. Реализации должны быть безопасны
// для параллельного использования.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Name() string
}

// Artifact: ссылка на один сохранённый блоб.
type Artifact struct {
	Key       string    `json:"key"`
	Stage     string    `json:"stage"`
	RunID     string    `json:"run_id"`
	UserID    int64     `json:"user_id"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// CleanupError логируется и считается, пользователю не показывается.
type CleanupError struct {
	Key string
	Err error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup %s: %v", e.Key, e.Err)
}

func (e *CleanupError) Unwrap() error { return e.Err }
