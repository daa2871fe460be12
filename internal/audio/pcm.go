package audio

import "math"

// Resample переводит аудио в другую частоту дискретизации линейной интерполяцией.
// Для речи хватает; кому нужен чистый спектр, сначала фильтруют низкие частоты.
func Resample(samples []float64, fromRate, toRate int) []float64 {
	if fromRate == toRate || len(samples) == 0 || fromRate <= 0 || toRate <= 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	newLen := int(float64(len(samples)) / ratio)
	if newLen == 0 {
		return []float64{}
	}

	out := make([]float64, newLen)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(idx)
		out[i] = samples[idx] + frac*(samples[idx+1]-samples[idx])
	}
	return out
}

// ResampleBuffer возвращает buf в целевой частоте.
func ResampleBuffer(buf Buffer, toRate int) Buffer {
	if buf.SampleRate == toRate {
		return buf
	}
	return Buffer{Samples: Resample(buf.Samples, buf.SampleRate, toRate), SampleRate: toRate}
}

// Downmix усредняет перемежённые каналы в моно.
func Downmix(interleaved []float64, channels int) []float64 {
	if channels <= 1 {
		return interleaved
	}
	mono := make([]float64, len(interleaved)/channels)
	for i := range mono {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		mono[i] = sum / float64(channels)
	}
	return mono
}

// FromPCM16 масштабирует 16-битные сэмплы в [-1, 1).
func FromPCM16(pcm []int16) []float64 {
	out := make([]float64, len(pcm))
	for i, s := range pcm {
		out[i] = float64(s) / 32768.0
	}
	return out
}

// ToPCM16 обрезает до [-1, 1] и масштабирует в 16 бит.
func ToPCM16(samples []float64) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if math.IsNaN(s) {
			continue
		}
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[i] = int16(math.Round(s * 32767))
	}
	return out
}

// Peak возвращает наибольшее абсолютное значение сэмпла.
func Peak(samples []float64) float64 {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	return peak
}
