// Package journal ведёт журнал прогонов конвейера. В основном только запись,
// в сессии журнал обратно не читается.
package journal

import (
	"context"
	"time"
)

type Status string

const (
	StatusOK        Status = "ok"
	StatusFailed    Status = "failed"
	StatusDiscarded Status = "discarded"
)

// Run: один завершённый прогон конвейера.
type Run struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	UserID        int64     `json:"user_id"`
	Kind          string    `json:"kind"`
	Status        Status    `json:"status"`
	MeanF0        float64   `json:"mean_f0,omitempty"`
	SynthF0       float64   `json:"synth_f0,omitempty"`
	SemitoneDelta float64   `json:"semitone_delta,omitempty"`
	Tempo         float64   `json:"tempo,omitempty"`
	Error         string    `json:"error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	DurationMS    int64     `json:"duration_ms"`
}

type Recorder interface {
	Record(ctx context.Context, run Run) error
}

type Reader interface {
	ListByUser(ctx context.Context, userID int64, limit int) ([]Run, error)
}

type Journal interface {
	Recorder
	Reader
}
