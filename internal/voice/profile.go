// Package voice превращает аудио в компактный профиль голоса и подгоняет
// высоту синтезированной речи под этот профиль.
package voice

import (
	"math"
	"time"
)

const (
	// DefaultSourceF0, если в образце нет вокализованных кадров.
	DefaultSourceF0 = 100.0
	// DefaultSynthF0, если в синтезированной речи нет вокализованных кадров.
	DefaultSynthF0 = 200.0

	// AnalysisRate: частота, на которой идёт весь анализ высоты и темпа.
	AnalysisRate = 16000
)

// Profile: акустическая сводка образца голоса. Это значение,
// после создания не меняется.
type Profile struct {
	MeanF0       float64   `json:"mean_f0"`
	Tempo        float64   `json:"tempo"`
	Degraded     bool      `json:"degraded"` // нет вокализованных кадров, MeanF0 по умолчанию
	VoicedFrames int       `json:"voiced_frames"`
	CapturedAt   time.Time `json:"captured_at"`
}

// Plan описывает один шаг подгонки высоты. В сессии не хранится.
type Plan struct {
	SourceMeanF0  float64
	SynthMeanF0   float64
	SynthDegraded bool
	SemitoneDelta float64
	// TempoRatio: множитель длительности после сдвига; 1, если подгонка темпа выключена.
	TempoRatio float64
}

// SemitoneDelta returns 12·log2(target/synth). Extreme ratios are not clamped.
func SemitoneDelta(target, synth float64) float64 {
	return 12 * math.Log2(target/synth)
}
