package dsp

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// TempoConfig ограничивает поиск темпа.
type TempoConfig struct {
	MinBPM   float64
	MaxBPM   float64
	StartBPM float64 // центр лог-нормального априорного распределения
	StdOct   float64 // ширина априорного распределения в октавах
}

func DefaultTempoConfig() TempoConfig {
	return TempoConfig{MinBPM: 30, MaxBPM: 320, StartBPM: 120, StdOct: 1.0}
}

// OnsetStrength считает огибающую спектрального потока: средний положительный прирост
// лог-амплитуды между соседними кадрами STFT. frameRate: кадров огибающей в секунду.
func OnsetStrength(samples []float64, sampleRate int) (env []float64, frameRate float64) {
	if sampleRate <= 0 {
		return nil, 0
	}
	n := frameSizeFor(sampleRate, 0)
	hop := n / 4
	frameRate = float64(sampleRate) / float64(hop)
	if len(samples) < n {
		return nil, frameRate
	}

	fft := fourier.NewFFT(n)
	window := Hann(n)
	half := n / 2
	buf := make([]float64, n)
	bins := make([]complex128, half+1)
	prev := make([]float64, half+1)
	cur := make([]float64, half+1)

	frames := (len(samples)-n)/hop + 1
	env = make([]float64, frames)
	for f := 0; f < frames; f++ {
		in := samples[f*hop : f*hop+n]
		for i := range buf {
			buf[i] = in[i] * window[i]
		}
		bins = fft.Coefficients(bins, buf)

		var flux float64
		for k := 0; k <= half; k++ {
			cur[k] = math.Log1p(100 * cmplxAbs(bins[k]))
			if f > 0 {
				if d := cur[k] - prev[k]; d > 0 {
					flux += d
				}
			}
		}
		env[f] = flux / float64(half+1)
		prev, cur = cur, prev
	}
	return env, frameRate
}

// EstimateTempo выбирает лаг автокорреляции огибающей, лучше всего похожий на период
// доли, с лог-нормальным весом. Для плоской огибающей возвращает 0.
func EstimateTempo(env []float64, frameRate float64, cfg TempoConfig) float64 {
	if len(env) < 4 || frameRate <= 0 {
		return 0
	}

	var mean float64
	for _, v := range env {
		mean += v
	}
	mean /= float64(len(env))
	if mean <= 1e-9 {
		return 0
	}

	centred := make([]float64, len(env))
	for i, v := range env {
		centred[i] = v - mean
	}

	minLag := int(math.Floor(60 * frameRate / cfg.MaxBPM))
	maxLag := int(math.Ceil(60 * frameRate / cfg.MinBPM))
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= len(env) {
		maxLag = len(env) - 1
	}

	bestLag, bestScore := 0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var ac float64
		for i := 0; i+lag < len(centred); i++ {
			ac += centred[i] * centred[i+lag]
		}
		// короткие ряды дают меньше слагаемых на больших лагах
		ac /= float64(len(centred) - lag)

		bpm := 60 * frameRate / float64(lag)
		z := math.Log2(bpm/cfg.StartBPM) / cfg.StdOct
		score := ac * math.Exp(-0.5*z*z)
		if score > bestScore {
			bestLag, bestScore = lag, score
		}
	}

	if bestLag == 0 {
		return 0
	}
	return 60 * frameRate / float64(bestLag)
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
