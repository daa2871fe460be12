package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
)

// DecodeFunc превращает байты контейнера в моно буфер.
type DecodeFunc func(data []byte) (Buffer, error)

// EncodeFunc упаковывает моно буфер в байты контейнера.
type EncodeFunc func(buf Buffer) ([]byte, error)

var ErrUnsupported = errors.New("unsupported container")

// Transcoder направляет Decode/Encode в кодек, зарегистрированный для контейнера.
// WAV есть всегда; Opus и MP3 регистрируются из своих пакетов.
type Transcoder struct {
	mu       sync.RWMutex
	decoders map[Container]DecodeFunc
	encoders map[Container]EncodeFunc
}

func NewTranscoder() *Transcoder {
	t := &Transcoder{
		decoders: make(map[Container]DecodeFunc),
		encoders: make(map[Container]EncodeFunc),
	}
	t.RegisterDecoder(ContainerWAV, DecodeWAV)
	t.RegisterEncoder(ContainerWAV, EncodeWAV)
	return t
}

func (t *Transcoder) RegisterDecoder(c Container, fn DecodeFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.decoders[c] = fn
}

func (t *Transcoder) RegisterEncoder(c Container, fn EncodeFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.encoders[c] = fn
}

// Decode сам определяет контейнер, если c неизвестен.
func (t *Transcoder) Decode(ctx context.Context, data []byte, c Container) (Buffer, error) {
	if err := ctx.Err(); err != nil {
		return Buffer{}, err
	}
	if c == ContainerUnknown {
		c = DetectContainer(data)
	}
	if len(data) == 0 {
		return Buffer{}, &DecodeError{Container: c, Err: errors.New("empty input")}
	}

	t.mu.RLock()
	fn, ok := t.decoders[c]
	t.mu.RUnlock()
	if !ok {
		return Buffer{}, &DecodeError{Container: c, Err: ErrUnsupported}
	}

	buf, err := fn(data)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			return Buffer{}, err
		}
		return Buffer{}, &DecodeError{Container: c, Err: err}
	}
	if len(buf.Samples) == 0 {
		return Buffer{}, &DecodeError{Container: c, Err: fmt.Errorf("no samples (rate=%d)", buf.SampleRate)}
	}
	// от частоты зависят размеры буферов при ресемплинге
	if !ValidSampleRate(buf.SampleRate) {
		return Buffer{}, &DecodeError{Container: c, Err: fmt.Errorf("%w: %d", ErrSampleRate, buf.SampleRate)}
	}
	return buf, nil
}

func (t *Transcoder) Encode(ctx context.Context, buf Buffer, c Container) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if buf.SampleRate <= 0 {
		return nil, &EncodeError{Container: c, Err: fmt.Errorf("invalid sample rate %d", buf.SampleRate)}
	}

	t.mu.RLock()
	fn, ok := t.encoders[c]
	t.mu.RUnlock()
	if !ok {
		return nil, &EncodeError{Container: c, Err: ErrUnsupported}
	}

	out, err := fn(buf)
	if err != nil {
		var ee *EncodeError
		if errors.As(err, &ee) {
			return nil, err
		}
		return nil, &EncodeError{Container: c, Err: err}
	}
	return out, nil
}

// DetectContainer угадывает контейнер по сигнатуре.
func DetectContainer(data []byte) Container {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return ContainerWAV
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte("OggS")):
		return ContainerOggOpus
	case len(data) >= 3 && bytes.Equal(data[0:3], []byte("ID3")):
		return ContainerMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		// синхрослово кадра MPEG
		return ContainerMP3
	default:
		return ContainerUnknown
	}
}
