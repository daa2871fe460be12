// Package mp3 декодирует MP3 (его отдаёт большинство TTS) в моно буферы.
package mp3

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	gomp3 "github.com/hajimehoshi/go-mp3"

	"github.com/Vovarama1992/voice_mimic/internal/audio"
)

// Register подключает декодер MP3 к транскодеру. Кодировщика MP3 нет.
func Register(t *audio.Transcoder) {
	t.RegisterDecoder(audio.ContainerMP3, Decode)
}

func Decode(data []byte) (audio.Buffer, error) {
	dec, err := gomp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("open mp3: %w", err)
	}

	raw, err := io.ReadAll(dec)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("read mp3: %w", err)
	}
	if len(raw)%4 != 0 {
		return audio.Buffer{}, fmt.Errorf("unexpected MP3 decoded length %d", len(raw))
	}

	// go-mp3 всегда отдаёт стерео 16-bit LE
	pcm := make([]int16, len(raw)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
	}

	return audio.Buffer{
		Samples:    audio.Downmix(audio.FromPCM16(pcm), 2),
		SampleRate: dec.SampleRate(),
	}, nil
}
