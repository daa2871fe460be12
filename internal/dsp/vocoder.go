package dsp

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

const oversample = 4

// ShiftConfig настраивает фазовый вокодер.
type ShiftConfig struct {
	// FrameSize: размер FFT; 0 значит ~64мс, округлённые до степени двойки.
	FrameSize int
	// PreserveFormants оставляет спектральную огибающую на месте, пока сдвигаются гармоники.
	PreserveFormants bool
}

// SemitoneRatio переводит сдвиг в полутонах в отношение частот.
func SemitoneRatio(semitones float64) float64 {
	return math.Pow(2, semitones/12)
}

// PitchShift сдвигает все партиалы на заданное число полутонов, сохраняя длину
// и частоту дискретизации. Нулевой сдвиг возвращает копию входа.
func PitchShift(samples []float64, sampleRate int, semitones float64, cfg ShiftConfig) []float64 {
	out := make([]float64, len(samples))
	if semitones == 0 || len(samples) == 0 || sampleRate <= 0 {
		copy(out, samples)
		return out
	}

	ratio := SemitoneRatio(semitones)
	n := frameSizeFor(sampleRate, cfg.FrameSize)
	v := newVocoder(n, sampleRate)

	half := n / 2
	synMagn := make([]float64, half+1)
	synFreq := make([]float64, half+1)
	var env []float64

	return v.run(samples, len(samples), v.hop, func(fr *analysisFrame) {
		for k := range synMagn {
			synMagn[k] = 0
			synFreq[k] = 0
		}

		if cfg.PreserveFormants {
			env = v.envelope(fr.magn, env)
		}

		for k := 0; k <= half; k++ {
			dst := int(float64(k) * ratio)
			if dst > half {
				break
			}
			m := fr.magn[k]
			if env != nil {
				m /= env[k]
			}
			synMagn[dst] += m
			synFreq[dst] = fr.freq[k] * ratio
		}

		if env != nil {
			for k := range synMagn {
				synMagn[k] *= env[k]
			}
		}

		copy(fr.magn, synMagn)
		copy(fr.freq, synFreq)
	})
}

// TimeStretch меняет длительность в factor раз (2 = вдвое длиннее), высота не меняется.
func TimeStretch(samples []float64, sampleRate int, factor float64) []float64 {
	if factor <= 0 || factor == 1 || len(samples) == 0 || sampleRate <= 0 {
		out := make([]float64, len(samples))
		copy(out, samples)
		return out
	}

	n := frameSizeFor(sampleRate, 0)
	v := newVocoder(n, sampleRate)
	synHop := int(math.Round(float64(v.hop) * factor))
	if synHop < 1 {
		synHop = 1
	}
	outLen := int(math.Round(float64(len(samples)) * factor))
	return v.run(samples, outLen, synHop, nil)
}

type analysisFrame struct {
	magn []float64
	freq []float64 // истинная частота бина, Гц
}

type vocoder struct {
	n          int
	hop        int
	sampleRate int
	window     []float64
	fft        *fourier.FFT
	freqPerBin float64
	expected   float64 // ожидаемый набег фазы на бин за шаг
}

func newVocoder(n, sampleRate int) *vocoder {
	hop := n / oversample
	return &vocoder{
		n:          n,
		hop:        hop,
		sampleRate: sampleRate,
		window:     Hann(n),
		fft:        fourier.NewFFT(n),
		freqPerBin: float64(sampleRate) / float64(n),
		expected:   2 * math.Pi * float64(hop) / float64(n),
	}
}

// run: анализ с шагом v.hop и синтез overlap-add с шагом synHop. process может
// переписать амплитуды и истинные частоты кадра на месте.
func (v *vocoder) run(samples []float64, outLen, synHop int, process func(*analysisFrame)) []float64 {
	n, half := v.n, v.n/2

	// нули по краям, чтобы первый и последний кадры тоже полностью перекрывались
	padded := make([]float64, len(samples)+2*n)
	copy(padded[n:], samples)

	frames := (len(padded)-n)/v.hop + 1
	total := (frames-1)*synHop + n
	acc := make([]float64, total)
	norm := make([]float64, total)

	lastPhase := make([]float64, half+1)
	sumPhase := make([]float64, half+1)
	fr := &analysisFrame{magn: make([]float64, half+1), freq: make([]float64, half+1)}
	buf := make([]float64, n)
	bins := make([]complex128, half+1)
	synthRatio := float64(synHop) / float64(v.hop)

	for f := 0; f < frames; f++ {
		in := padded[f*v.hop : f*v.hop+n]
		for i := range buf {
			buf[i] = in[i] * v.window[i]
		}
		bins = v.fft.Coefficients(bins, buf)

		for k := 0; k <= half; k++ {
			re, im := real(bins[k]), imag(bins[k])
			phase := math.Atan2(im, re)

			delta := phase - lastPhase[k]
			lastPhase[k] = phase
			delta -= float64(k) * v.expected
			delta = math.Remainder(delta, 2*math.Pi)

			fr.magn[k] = math.Hypot(re, im)
			fr.freq[k] = (float64(k) + delta*oversample/(2*math.Pi)) * v.freqPerBin
		}

		if process != nil {
			process(fr)
		}

		for k := 0; k <= half; k++ {
			dev := (fr.freq[k] - float64(k)*v.freqPerBin) / v.freqPerBin
			advance := (2*math.Pi*dev/oversample + float64(k)*v.expected) * synthRatio
			sumPhase[k] += advance
			bins[k] = complex(fr.magn[k]*math.Cos(sumPhase[k]), fr.magn[k]*math.Sin(sumPhase[k]))
		}

		buf = v.fft.Sequence(buf, bins)
		at := f * synHop
		for i := 0; i < n; i++ {
			w := v.window[i]
			acc[at+i] += buf[i] / float64(n) * w
			norm[at+i] += w * w
		}
	}

	for i := range acc {
		if norm[i] > 1e-6 {
			acc[i] /= norm[i]
		} else {
			acc[i] = 0
		}
	}

	start := int(math.Round(float64(n) * synthRatio))
	out := make([]float64, outLen)
	if start < len(acc) {
		copy(out, acc[start:])
	}
	return out
}

// envelope оценивает гладкую спектральную огибающую лифтерингом кепстра.
func (v *vocoder) envelope(magn, dst []float64) []float64 {
	n, half := v.n, v.n/2
	if len(dst) != half+1 {
		dst = make([]float64, half+1)
	}

	logMag := make([]float64, n)
	for k := 0; k <= half; k++ {
		l := math.Log(magn[k] + 1e-9)
		logMag[k] = l
		if k > 0 && k < half {
			logMag[n-k] = l
		}
	}

	cep := v.fft.Coefficients(nil, logMag)
	cutoff := v.sampleRate / 500 // кепстральное время 2мс
	if cutoff < 8 {
		cutoff = 8
	}
	for q := cutoff; q < len(cep); q++ {
		cep[q] = 0
	}
	smooth := v.fft.Sequence(nil, cep)

	for k := 0; k <= half; k++ {
		dst[k] = math.Exp(smooth[k] / float64(n))
	}
	return dst
}

// Hann возвращает периодическое окно Ханна.
func Hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

func frameSizeFor(sampleRate, requested int) int {
	if requested > 0 {
		return nextPow2(requested)
	}
	n := nextPow2(int(float64(sampleRate) * 0.064))
	if n < 256 {
		n = 256
	}
	return n
}
