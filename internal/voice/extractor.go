package voice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Vovarama1992/voice_mimic/internal/audio"
	"github.com/Vovarama1992/voice_mimic/internal/dsp"
)

var errEmptyBuffer = errors.New("empty sample buffer")

// Extractor строит Profile по декодированному образцу голоса.
type Extractor struct {
	Pitch dsp.PitchConfig
	Tempo dsp.TempoConfig

	now func() time.Time
}

func NewExtractor() *Extractor {
	return &Extractor{
		Pitch: dsp.DefaultPitchConfig(),
		Tempo: dsp.DefaultTempoConfig(),
		now:   time.Now,
	}
}

// Extract измеряет среднюю f0 и темп. Буфер без вокализованных кадров не ошибка:
// профиль получает DefaultSourceF0 и пометку Degraded.
func (e *Extractor) Extract(ctx context.Context, buf audio.Buffer) (Profile, error) {
	if buf.SampleRate <= 0 || len(buf.Samples) == 0 {
		return Profile{}, &audio.DecodeError{Err: errEmptyBuffer}
	}
	if !audio.ValidSampleRate(buf.SampleRate) {
		return Profile{}, &audio.DecodeError{Err: fmt.Errorf("%w: %d", audio.ErrSampleRate, buf.SampleRate)}
	}

	samples := analysisSamples(buf)

	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	f0, voiced, ok := dsp.MeanVoicedF0(dsp.TrackPitch(samples, AnalysisRate, e.Pitch))

	p := Profile{MeanF0: f0, VoicedFrames: voiced, CapturedAt: e.now()}
	if !ok {
		p.MeanF0 = DefaultSourceF0
		p.Degraded = true
	}

	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	env, frameRate := dsp.OnsetStrength(samples, AnalysisRate)
	p.Tempo = dsp.EstimateTempo(env, frameRate, e.Tempo)

	return p, nil
}

func analysisSamples(buf audio.Buffer) []float64 {
	if buf.SampleRate == AnalysisRate {
		return buf.Samples
	}
	return audio.Resample(buf.Samples, buf.SampleRate, AnalysisRate)
}
