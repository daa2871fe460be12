package artifacts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Vovarama1992/voice_mimic/internal/metrics"
)

var errRunClosed = errors.New("run already closed")

const cleanupTimeout = 10 * time.Second

// Manager выдаёт Run и считает живые артефакты.
type Manager struct {
	store   Store
	log     *zap.Logger
	metrics *metrics.Metrics
	live    atomic.Int64
	now     func() time.Time
}

func NewManager(store Store, log *zap.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		store:   store,
		log:     log.With(zap.String("component", "artifacts"), zap.String("store", store.Name())),
		metrics: m,
		now:     time.Now,
	}
}

// Live: число сохранённых и ещё не освобождённых артефактов.
func (m *Manager) Live() int64 { return m.live.Load() }

// Begin открывает область артефактов одного прогона. Вызывающий обязан сделать Close.
func (m *Manager) Begin(kind string, userID int64) *Run {
	return &Run{
		ID:      uuid.NewString(),
		Kind:    kind,
		UserID:  userID,
		m:       m,
		tracked: make(map[string]Artifact),
	}
}

// Load читает отсоединённый артефакт.
func (m *Manager) Load(ctx context.Context, a Artifact) ([]byte, error) {
	return m.store.Get(ctx, a.Key)
}

// Release удаляет артефакт, который уже не учитывает ни один прогон (образец
// во владении сессии). Ошибки только логируются.
func (m *Manager) Release(ctx context.Context, a Artifact) {
	if a.Key == "" {
		return
	}
	m.remove(ctx, a)
}

func (m *Manager) remove(ctx context.Context, a Artifact) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	err := m.store.Delete(ctx, a.Key)
	m.live.Add(-1)
	m.metrics.ArtifactsLive.Dec()
	if err == nil {
		return
	}

	cerr := &CleanupError{Key: a.Key, Err: err}
	m.metrics.CleanupFailures.Inc()
	m.log.Warn("[artifacts] cleanup failed",
		zap.Int64("user_id", a.UserID),
		zap.String("run_id", a.RunID),
		zap.String("stage", a.Stage),
		zap.Error(cerr),
	)
}

// Run: область артефактов одного прогона.
type Run struct {
	ID     string
	Kind   string
	UserID int64

	m       *Manager
	mu      sync.Mutex
	tracked map[string]Artifact
	closed  bool
}

// Put сохраняет data и учитывает до Close или Detach.
func (r *Run) Put(ctx context.Context, stage, ext string, data []byte) (Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Artifact{}, errRunClosed
	}

	a := Artifact{
		Key:       fmt.Sprintf("%d-%s-%s-%s%s", r.UserID, r.ID[:8], stage, uuid.NewString()[:8], ext),
		Stage:     stage,
		RunID:     r.ID,
		UserID:    r.UserID,
		Size:      len(data),
		CreatedAt: r.m.now(),
	}
	if err := r.m.store.Put(ctx, a.Key, data); err != nil {
		return Artifact{}, fmt.Errorf("store %s: %w", stage, err)
	}

	r.tracked[a.Key] = a
	r.m.live.Add(1)
	r.m.metrics.ArtifactsLive.Inc()
	return a, nil
}

func (r *Run) Get(ctx context.Context, a Artifact) ([]byte, error) {
	return r.m.store.Get(ctx, a.Key)
}

// Detach перестаёт учитывать a; дальше владелец сам вызывает Manager.Release.
func (r *Run) Detach(a Artifact) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tracked[a.Key]; !ok {
		return false
	}
	delete(r.tracked, a.Key)
	return true
}

// Pending: сколько артефактов ещё принадлежит прогону.
func (r *Run) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tracked)
}

// Close освобождает всё, что ещё учитывается. Можно вызывать повторно.
func (r *Run) Close(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	left := make([]Artifact, 0, len(r.tracked))
	for _, a := range r.tracked {
		left = append(left, a)
	}
	r.tracked = map[string]Artifact{}
	r.mu.Unlock()

	for _, a := range left {
		r.m.remove(ctx, a)
	}
}
