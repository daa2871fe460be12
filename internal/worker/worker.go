package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	ErrQueueFull = errors.New("worker queue is full")
	ErrStopped   = errors.New("worker pool is stopped")
)

// Job: одна единица работы. Run получает контекст пула.
type Job struct {
	Name string
	Run  func(ctx context.Context)
}

// Pool управляет фиксированным числом воркеров и ограниченной очередью задач.
type Pool struct {
	JobQueue   chan Job
	MaxWorkers int

	log   *zap.Logger
	depth prometheus.Gauge

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// New создаёт пул; depth может быть nil.
func New(maxWorkers, queueSize int, log *zap.Logger, depth prometheus.Gauge) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Pool{
		JobQueue:   make(chan Job, queueSize),
		MaxWorkers: maxWorkers,
		log:        log.With(zap.String("component", "worker")),
		depth:      depth,
	}
}

// Start создаёт и запускает горутины воркеров.
func (p *Pool) Start(ctx context.Context) {
	for i := 1; i <= p.MaxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.log.Info("[worker] started", zap.Int("workers", p.MaxWorkers), zap.Int("queue", cap(p.JobQueue)))
}

// Submit ставит задачу в очередь, не блокируя вызывающего.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.JobQueue <- job:
		p.setDepth()
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop перестаёт принимать задачи, даёт воркерам разобрать очередь и ждёт их.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.JobQueue)
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info("[worker] stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for job := range p.JobQueue {
		p.setDepth()
		p.run(ctx, id, job)
	}
}

func (p *Pool) run(ctx context.Context, id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("[worker] job panicked",
				zap.Int("worker", id),
				zap.String("job", job.Name),
				zap.Error(fmt.Errorf("panic: %v", r)),
			)
		}
	}()
	job.Run(ctx)
}

func (p *Pool) setDepth() {
	if p.depth != nil {
		p.depth.Set(float64(len(p.JobQueue)))
	}
}
