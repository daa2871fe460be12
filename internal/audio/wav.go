package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// EncodeWAV пишет моно PCM16 с каноническим 44-байтным заголовком.
func EncodeWAV(buf Buffer) ([]byte, error) {
	if buf.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", buf.SampleRate)
	}

	pcm := ToPCM16(buf.Samples)
	dataLen := len(pcm) * 2

	var b bytes.Buffer
	b.Grow(44 + dataLen)

	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(36+dataLen))
	b.WriteString("WAVE")

	b.WriteString("fmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&b, binary.LittleEndian, uint16(1)) // mono
	_ = binary.Write(&b, binary.LittleEndian, uint32(buf.SampleRate))
	_ = binary.Write(&b, binary.LittleEndian, uint32(buf.SampleRate*2))
	_ = binary.Write(&b, binary.LittleEndian, uint16(2))
	_ = binary.Write(&b, binary.LittleEndian, uint16(16))

	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(dataLen))
	_ = binary.Write(&b, binary.LittleEndian, pcm)

	return b.Bytes(), nil
}

// DecodeWAV читает PCM16 WAV (любое число каналов, сводится в моно).
func DecodeWAV(data []byte) (Buffer, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Buffer{}, errors.New("not a WAV")
	}

	var (
		format, channels, bits uint16
		rate                   uint32
		pcm                    []byte
		haveFmt                bool
	)

	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body+size > len(data) {
			// обрезанный чанк data, берём что есть
			if id == "data" {
				pcm = data[body:]
				break
			}
			return Buffer{}, fmt.Errorf("chunk %q truncated", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return Buffer{}, errors.New("fmt chunk too short")
			}
			format = binary.LittleEndian.Uint16(data[body : body+2])
			channels = binary.LittleEndian.Uint16(data[body+2 : body+4])
			rate = binary.LittleEndian.Uint32(data[body+4 : body+8])
			bits = binary.LittleEndian.Uint16(data[body+14 : body+16])
			haveFmt = true
		case "data":
			pcm = data[body : body+size]
		}

		pos = body + size + size%2
	}

	if !haveFmt {
		return Buffer{}, errors.New("missing fmt chunk")
	}
	if format != 1 || bits != 16 {
		return Buffer{}, fmt.Errorf("only PCM16 supported (format=%d bits=%d)", format, bits)
	}
	if channels == 0 {
		return Buffer{}, errors.New("zero channels")
	}
	if !ValidSampleRate(int(rate)) {
		return Buffer{}, fmt.Errorf("%w: %d", ErrSampleRate, rate)
	}

	raw := make([]int16, len(pcm)/2)
	for i := range raw {
		raw[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}

	return Buffer{
		Samples:    Downmix(FromPCM16(raw), int(channels)),
		SampleRate: int(rate),
	}, nil
}
