package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Repo struct {
	db *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS voice_runs (
			id             UUID PRIMARY KEY,
			session_id     TEXT NOT NULL,
			telegram_id    BIGINT NOT NULL,
			kind           TEXT NOT NULL,
			status         TEXT NOT NULL,
			mean_f0        DOUBLE PRECISION,
			synth_f0       DOUBLE PRECISION,
			semitone_delta DOUBLE PRECISION,
			tempo          DOUBLE PRECISION,
			error          TEXT,
			started_at     TIMESTAMPTZ NOT NULL,
			duration_ms    BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS voice_runs_telegram_id_idx ON voice_runs (telegram_id, started_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("ensure voice_runs: %w", err)
	}
	return nil
}

func (r *Repo) Record(ctx context.Context, run Run) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO voice_runs (id, session_id, telegram_id, kind, status, mean_f0, synth_f0, semitone_delta, tempo, error, started_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, run.ID, run.SessionID, run.UserID, run.Kind, string(run.Status),
		run.MeanF0, run.SynthF0, run.SemitoneDelta, run.Tempo, nullString(run.Error),
		run.StartedAt, run.DurationMS)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (r *Repo) ListByUser(ctx context.Context, userID int64, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, telegram_id, kind, status, mean_f0, synth_f0, semitone_delta, tempo, error, started_at, duration_ms
		FROM voice_runs
		WHERE telegram_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			run                           Run
			status                        string
			errMsg                        sql.NullString
			meanF0, synthF0, delta, tempo sql.NullFloat64
			started                       time.Time
		)
		if err := rows.Scan(
			&run.ID,
			&run.SessionID,
			&run.UserID,
			&run.Kind,
			&status,
			&meanF0,
			&synthF0,
			&delta,
			&tempo,
			&errMsg,
			&started,
			&run.DurationMS,
		); err != nil {
			return nil, err
		}
		run.Status = Status(status)
		run.MeanF0 = meanF0.Float64
		run.SynthF0 = synthF0.Float64
		run.SemitoneDelta = delta.Float64
		run.Tempo = tempo.Float64
		run.Error = errMsg.String
		run.StartedAt = started
		out = append(out, run)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
