package session

import (
	"sync"
	"time"
)

type entry struct {
	// runMu сериализует прогоны одного пользователя: чтение состояния, конвейер, запись
	runMu sync.Mutex

	mu   sync.Mutex
	sess *Session

	// очередь событий пользователя; пока draining, её разбирает ровно одна задача пула
	qmu      sync.Mutex
	pending  []Event
	draining bool
}

// enqueue ставит ev в очередь пользователя. start: очередь ещё никто не разбирает,
// вызывающий должен отправить задачу в пул. ok == false, если очередь полна.
func (e *entry) enqueue(ev Event, limit int) (start, ok bool) {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	if limit > 0 && len(e.pending) >= limit {
		return false, false
	}
	e.pending = append(e.pending, ev)
	if e.draining {
		return false, true
	}
	e.draining = true
	return true, true
}

// next снимает самое старое событие; на пустой очереди разбор заканчивается
func (e *entry) next() (Event, bool) {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	if len(e.pending) == 0 {
		e.draining = false
		return Event{}, false
	}
	ev := e.pending[0]
	e.pending[0] = Event{}
	e.pending = e.pending[1:]
	return ev, true
}

// abandon очищает очередь, если задачу разбора запустить не удалось
func (e *entry) abandon() []Event {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	out := e.pending
	e.pending = nil
	e.draining = false
	return out
}

func (e *entry) snapshot() (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return Session{}, false
	}
	return *e.sess, true
}

// replace подменяет сессию и возвращает предыдущую
func (e *entry) replace(next *Session) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev := e.sess
	e.sess = next
	return prev
}

// commit применяет fn к копии сессии, если это всё ещё сессия с тем же id и
// состоянием. Возвращает true, если копия сохранена.
func (e *entry) commit(id string, want State, now time.Time, fn func(*Session)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil || e.sess.ID != id || e.sess.State != want {
		return false
	}
	next := *e.sess
	fn(&next)
	next.UpdatedAt = now
	e.sess = &next
	return true
}

func (e *entry) current(id string, want State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess != nil && e.sess.ID == id && e.sess.State == want
}

// Registry: единственная общая карта сессий по user id.
type Registry struct {
	mu      sync.Mutex
	entries map[int64]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[int64]*entry)}
}

func (r *Registry) entry(userID int64) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[userID]
	if !ok {
		e = &entry{}
		r.entries[userID] = e
	}
	return e
}

// Get возвращает копию сессии пользователя.
func (r *Registry) Get(userID int64) (Session, bool) {
	r.mu.Lock()
	e, ok := r.entries[userID]
	r.mu.Unlock()
	if !ok {
		return Session{}, false
	}
	return e.snapshot()
}

// CountByState нужен для метрики сессий.
func (r *Registry) CountByState() map[State]int {
	r.mu.Lock()
	list := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		list = append(list, e)
	}
	r.mu.Unlock()

	out := make(map[State]int)
	for _, e := range list {
		if s, ok := e.snapshot(); ok {
			out[s.State]++
		}
	}
	return out
}
