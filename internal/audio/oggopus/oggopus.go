// Package oggopus упаковывает моно буферы в голосовые OGG/Opus для Telegram
// и декодирует входящие голосовые. Нужны libopus и libopusfile (cgo).
package oggopus

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"
	"gopkg.in/hraban/opus.v2"

	"github.com/Vovarama1992/voice_mimic/internal/audio"
)

const (
	// Opus внутри Ogg всегда 48 кГц.
	SampleRate = 48000
	frameSize  = SampleRate / 50 // 20ms
	maxPacket  = 4000
	bitrate    = 32000
)

// Register подключает кодек Opus к транскодеру.
func Register(t *audio.Transcoder) {
	t.RegisterDecoder(audio.ContainerOggOpus, Decode)
	t.RegisterEncoder(audio.ContainerOggOpus, Encode)
}

// Decode читает весь поток OGG/Opus в моно буфер 48 кГц.
func Decode(data []byte) (audio.Buffer, error) {
	channels := headerChannels(data)

	stream, err := opus.NewStream(bytes.NewReader(data))
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("open opus stream: %w", err)
	}
	defer stream.Close()

	chunk := make([]int16, 5760*channels) // 120мс, максимальный кадр opus
	var pcm []int16
	for {
		n, err := stream.Read(chunk)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return audio.Buffer{}, fmt.Errorf("read opus stream: %w", err)
		}
		pcm = append(pcm, chunk[:n*channels]...)
	}

	return audio.Buffer{
		Samples:    audio.Downmix(audio.FromPCM16(pcm), channels),
		SampleRate: SampleRate,
	}, nil
}

// Encode ресемплирует в 48 кГц и пишет пакеты Opus по 20мс в страницы Ogg.
func Encode(buf audio.Buffer) ([]byte, error) {
	pcm := audio.ToPCM16(audio.Resample(buf.Samples, buf.SampleRate, SampleRate))

	enc, err := opus.NewEncoder(SampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	if err := enc.SetBitrate(bitrate); err != nil {
		return nil, fmt.Errorf("set bitrate: %w", err)
	}

	var out bytes.Buffer
	w, err := oggwriter.NewWith(&out, SampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("create ogg writer: %w", err)
	}

	frame := make([]int16, frameSize)
	packet := make([]byte, maxPacket)
	var (
		ts  uint32
		seq uint16
	)

	for off := 0; off < len(pcm); off += frameSize {
		// последний кадр добиваем тишиной
		n := copy(frame, pcm[off:])
		for i := n; i < frameSize; i++ {
			frame[i] = 0
		}

		size, err := enc.Encode(frame, packet)
		if err != nil {
			return nil, fmt.Errorf("encode frame %d: %w", seq, err)
		}

		payload := make([]byte, size)
		copy(payload, packet[:size])

		if err := w.WriteRTP(&rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    111,
				SequenceNumber: seq,
				Timestamp:      ts,
			},
			Payload: payload,
		}); err != nil {
			return nil, fmt.Errorf("write ogg page: %w", err)
		}

		ts += frameSize
		seq++
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close ogg writer: %w", err)
	}
	return out.Bytes(), nil
}

// headerChannels читает число каналов из пакета OpusHead, 1 если его нет
func headerChannels(data []byte) int {
	idx := bytes.Index(data, []byte("OpusHead"))
	if idx < 0 || idx+9 >= len(data) {
		return 1
	}
	if ch := int(data[idx+9]); ch > 0 {
		return ch
	}
	return 1
}
