package voice

import (
	"context"
	"fmt"

	"github.com/Vovarama1992/voice_mimic/internal/audio"
	"github.com/Vovarama1992/voice_mimic/internal/dsp"
)

// темп, который предполагаем у синтезированной речи при подгонке длительности
const referenceTempo = 120.0

const (
	minTempoRatio = 0.5
	maxTempoRatio = 2.0
)

type MatcherConfig struct {
	PreserveFormants bool
	// TempoMatch растягивает сдвинутую речь под темп образца.
	TempoMatch bool
}

// Matcher подгоняет высоту синтезированной речи под среднюю f0 профиля.
type Matcher struct {
	cfg   MatcherConfig
	pitch dsp.PitchConfig
}

func NewMatcher(cfg MatcherConfig) *Matcher {
	return &Matcher{cfg: cfg, pitch: dsp.DefaultPitchConfig()}
}

// Plan измеряет синтезированный буфер и считает сдвиг к p.
func (m *Matcher) Plan(buf audio.Buffer, p Profile) Plan {
	plan := Plan{SourceMeanF0: p.MeanF0, TempoRatio: 1}

	f0, _, ok := dsp.MeanVoicedF0(dsp.TrackPitch(analysisSamples(buf), AnalysisRate, m.pitch))
	if !ok {
		f0 = DefaultSynthF0
		plan.SynthDegraded = true
	}
	plan.SynthMeanF0 = f0
	plan.SemitoneDelta = SemitoneDelta(p.MeanF0, f0)

	if m.cfg.TempoMatch && p.Tempo > 0 {
		plan.TempoRatio = clamp(referenceTempo/p.Tempo, minTempoRatio, maxTempoRatio)
	}
	return plan
}

// Apply сдвигает buf на рассчитанную дельту в полутонах, длительность и частота
// дискретизации сохраняются. При нулевой дельте buf возвращается как есть.
// С подгонкой темпа длительность затем умножается на Plan.TempoRatio.
func (m *Matcher) Apply(ctx context.Context, buf audio.Buffer, p Profile) (audio.Buffer, Plan, error) {
	if buf.SampleRate <= 0 || len(buf.Samples) == 0 {
		return audio.Buffer{}, Plan{}, &audio.DecodeError{Err: errEmptyBuffer}
	}
	if !audio.ValidSampleRate(buf.SampleRate) {
		return audio.Buffer{}, Plan{}, &audio.DecodeError{Err: fmt.Errorf("%w: %d", audio.ErrSampleRate, buf.SampleRate)}
	}

	plan := m.Plan(buf, p)
	if err := ctx.Err(); err != nil {
		return audio.Buffer{}, plan, err
	}

	out := buf
	if plan.SemitoneDelta != 0 {
		out = audio.Buffer{
			Samples:    dsp.PitchShift(buf.Samples, buf.SampleRate, plan.SemitoneDelta, dsp.ShiftConfig{PreserveFormants: m.cfg.PreserveFormants}),
			SampleRate: buf.SampleRate,
		}
	}

	if plan.TempoRatio != 1 {
		if err := ctx.Err(); err != nil {
			return audio.Buffer{}, plan, err
		}
		out = audio.Buffer{
			Samples:    dsp.TimeStretch(out.Samples, out.SampleRate, plan.TempoRatio),
			SampleRate: out.SampleRate,
		}
	}

	return out, plan, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
