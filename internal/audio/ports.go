package audio

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Границы частоты дискретизации, которую принимают декодеры.
const (
	MinSampleRate = 4000
	MaxSampleRate = 384000
)

var ErrSampleRate = errors.New("sample rate out of range")

// ValidSampleRate: rate в пределах [MinSampleRate, MaxSampleRate].
func ValidSampleRate(rate int) bool {
	return rate >= MinSampleRate && rate <= MaxSampleRate
}

// Buffer: моно PCM, сэмплы в [-1, 1].
type Buffer struct {
	Samples    []float64
	SampleRate int
}

// Duration возвращает длительность звучания буфера.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(b.Samples)) / float64(b.SampleRate) * float64(time.Second))
}

// Container определяет сжатый (или кадрированный) формат аудио.
type Container string

const (
	ContainerUnknown Container = ""
	ContainerOggOpus Container = "ogg_opus"
	ContainerMP3     Container = "mp3"
	ContainerWAV     Container = "wav"
)

// Ext возвращает расширение файла для контейнера, с точкой.
func (c Container) Ext() string {
	switch c {
	case ContainerOggOpus:
		return ".ogg"
	case ContainerMP3:
		return ".mp3"
	case ContainerWAV:
		return ".wav"
	default:
		return ".bin"
	}
}

// Codec декодирует контейнеры в буферы и кодирует обратно.
type Codec interface {
	Decode(ctx context.Context, data []byte, c Container) (Buffer, error)
	Encode(ctx context.Context, buf Buffer, c Container) ([]byte, error)
}

// DecodeError: входные данные нельзя превратить в сэмплы.
type DecodeError struct {
	Container Container
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", containerName(e.Container), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError: буфер нельзя упаковать в целевой контейнер.
type EncodeError struct {
	Container Container
	Err       error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s: %v", containerName(e.Container), e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

func containerName(c Container) string {
	if c == ContainerUnknown {
		return "unknown"
	}
	return string(c)
}
