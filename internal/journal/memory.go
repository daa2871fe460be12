package journal

import (
	"context"
	"sync"
)

// Memory хранит последние прогоны пользователя в памяти процесса, если DATABASE_URL пуст.
type Memory struct {
	mu      sync.RWMutex
	perUser int
	runs    map[int64][]Run
}

func NewMemory(perUser int) *Memory {
	if perUser <= 0 {
		perUser = 50
	}
	return &Memory{perUser: perUser, runs: make(map[int64][]Run)}
}

func (m *Memory) Record(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.runs[run.UserID], run)
	if len(list) > m.perUser {
		list = list[len(list)-m.perUser:]
	}
	m.runs[run.UserID] = list
	return nil
}

// ListByUser возвращает сначала самые новые прогоны.
func (m *Memory) ListByUser(_ context.Context, userID int64, limit int) ([]Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.runs[userID]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]Run, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}
