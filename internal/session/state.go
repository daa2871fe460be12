// Package session ведёт сессии пользователей: захват образца голоса и синтез.
package session

import (
	"time"

	"github.com/Vovarama1992/voice_mimic/internal/artifacts"
	"github.com/Vovarama1992/voice_mimic/internal/voice"
)

type State int

const (
	None State = iota // сессии ещё нет
	AwaitingVoiceSample
	AwaitingText
	Ended
)

func (s State) String() string {
	switch s {
	case AwaitingVoiceSample:
		return "awaiting_voice_sample"
	case AwaitingText:
		return "awaiting_text"
	case Ended:
		return "ended"
	default:
		return "none"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Session заменяется целиком при каждом переходе, сохранённый *Session не меняется.
type Session struct {
	ID        string              `json:"id"`
	UserID    int64               `json:"user_id"`
	State     State               `json:"state"`
	Profile   *voice.Profile      `json:"profile,omitempty"`
	Sample    *artifacts.Artifact `json:"sample,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// MismatchPolicy решает, что делать с событием, которого текущее состояние не ждёт.
type MismatchPolicy string

const (
	MismatchIgnore MismatchPolicy = "ignore"
	MismatchGuide  MismatchPolicy = "guide"
)

func (p MismatchPolicy) Valid() bool {
	return p == MismatchIgnore || p == MismatchGuide
}
