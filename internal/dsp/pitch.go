// Package dsp: числовые ядра голосового конвейера. Трекинг высоты тона,
// оценка темпа, сдвиг высоты и растяжение фазовым вокодером.
// Всё работает на моно float64 и безопасно для параллельного использования.
package dsp

import "math"

// Частоты нот, ограничивающие диапазон анализа (C2..C7).
const (
	NoteC2 = 65.40639132514966
	NoteC7 = 2093.004522404789
)

// PitchConfig настраивает трекер YIN.
type PitchConfig struct {
	FMin float64
	FMax float64
	// Порог на нормированную разность; кадры, чей минимум выше порога, невокализованы.
	Threshold float64
	// Кадры тише этого RMS невокализованы без анализа.
	SilenceRMS float64
	// Шаг в сэмплах; 0 значит window/2.
	Hop int
}

func DefaultPitchConfig() PitchConfig {
	return PitchConfig{
		FMin:       NoteC2,
		FMax:       NoteC7,
		Threshold:  0.15,
		SilenceRMS: 1e-3,
	}
}

// PitchFrame: оценка для одного окна анализа.
type PitchFrame struct {
	F0     float64 // Гц, 0 для невокализованного кадра
	Voiced bool
	// Aperiodicity: нормированная разность на выбранном лаге (0 = идеально периодично).
	Aperiodicity float64
}

// TrackPitch прогоняет YIN по сигналу и возвращает по кадру на шаг.
// Окно интегрирования: наименьшая степень двойки, покрывающая период FMin.
func TrackPitch(samples []float64, sampleRate int, cfg PitchConfig) []PitchFrame {
	if sampleRate <= 0 || cfg.FMin <= 0 || cfg.FMax <= cfg.FMin {
		return nil
	}

	tauMax := int(math.Ceil(float64(sampleRate) / cfg.FMin))
	tauMin := int(math.Floor(float64(sampleRate) / cfg.FMax))
	if tauMin < 2 {
		tauMin = 2
	}

	window := nextPow2(tauMax + 1)
	frameLen := window + tauMax + 1
	hop := cfg.Hop
	if hop <= 0 {
		hop = window / 2
	}
	if len(samples) < frameLen {
		return nil
	}

	diff := make([]float64, tauMax+1)
	cmnd := make([]float64, tauMax+1)

	frames := make([]PitchFrame, 0, (len(samples)-frameLen)/hop+1)
	for start := 0; start+frameLen <= len(samples); start += hop {
		frame := samples[start : start+frameLen]

		if rms(frame[:window]) < cfg.SilenceRMS {
			frames = append(frames, PitchFrame{Aperiodicity: 1})
			continue
		}

		difference(frame, window, tauMax, diff)
		cumulativeMeanNormalize(diff, cmnd)

		tau := absoluteThreshold(cmnd, tauMin, tauMax, cfg.Threshold)
		if tau < 0 {
			frames = append(frames, PitchFrame{Aperiodicity: minFrom(cmnd, tauMin)})
			continue
		}

		f0 := float64(sampleRate) / parabolic(cmnd, tau)
		if f0 < cfg.FMin || f0 > cfg.FMax || math.IsNaN(f0) {
			frames = append(frames, PitchFrame{Aperiodicity: cmnd[tau]})
			continue
		}

		frames = append(frames, PitchFrame{F0: f0, Voiced: true, Aperiodicity: cmnd[tau]})
	}
	return frames
}

// MeanVoicedF0 усредняет вокализованные кадры; ok == false, если таких нет.
func MeanVoicedF0(frames []PitchFrame) (mean float64, voiced int, ok bool) {
	var sum float64
	for _, f := range frames {
		if !f.Voiced || math.IsNaN(f.F0) {
			continue
		}
		sum += f.F0
		voiced++
	}
	if voiced == 0 {
		return 0, 0, false
	}
	return sum / float64(voiced), voiced, true
}

// d(tau) = sum_j (x[j] - x[j+tau])^2 по окну интегрирования
func difference(frame []float64, window, tauMax int, out []float64) {
	out[0] = 0
	for tau := 1; tau <= tauMax; tau++ {
		var sum float64
		for j := 0; j < window; j++ {
			d := frame[j] - frame[j+tau]
			sum += d * d
		}
		out[tau] = sum
	}
}

func cumulativeMeanNormalize(diff, out []float64) {
	out[0] = 1
	var running float64
	for tau := 1; tau < len(diff); tau++ {
		running += diff[tau]
		if running == 0 {
			out[tau] = 1
			continue
		}
		out[tau] = diff[tau] * float64(tau) / running
	}
}

// первый провал ниже порога, затем спускаемся на его дно
func absoluteThreshold(cmnd []float64, tauMin, tauMax int, threshold float64) int {
	for tau := tauMin; tau <= tauMax; tau++ {
		if cmnd[tau] >= threshold {
			continue
		}
		for tau+1 <= tauMax && cmnd[tau+1] < cmnd[tau] {
			tau++
		}
		return tau
	}
	return -1
}

func parabolic(y []float64, x int) float64 {
	if x <= 0 || x >= len(y)-1 {
		return float64(x)
	}
	s0, s1, s2 := y[x-1], y[x], y[x+1]
	denom := s0 + s2 - 2*s1
	if denom == 0 {
		return float64(x)
	}
	return float64(x) + (s0-s2)/(2*denom)
}

func minFrom(y []float64, from int) float64 {
	m := 1.0
	for i := from; i < len(y); i++ {
		if y[i] < m {
			m = y[i]
		}
	}
	return m
}

func rms(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(x)))
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
