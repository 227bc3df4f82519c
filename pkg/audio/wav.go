package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const wavHeaderSize = 44

// ErrInvalidWAV is wrapped by every WAV parsing failure.
var ErrInvalidWAV = errors.New("audio: invalid WAV")

// EncodeWAV frames mono PCM16 samples as a canonical 44-byte-header WAV file.
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: sample rate must be positive, got %d", sampleRate)
	}

	const (
		channels      = 1
		bitsPerSample = 16
	)
	dataSize := uint32(len(samples) * 2)

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+int(dataSize)))
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, 36+dataSize)
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(buf, binary.LittleEndian, struct {
		Size          uint32
		Format        uint16
		Channels      uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
	}{
		Size:          16,
		Format:        1,
		Channels:      channels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * channels * bitsPerSample / 8,
		BlockAlign:    channels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
	})
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, dataSize)
	buf.Write(EncodePCM16LE(samples))
	return buf.Bytes(), nil
}

// DecodeWAV parses a mono PCM16 WAV file. Chunks other than "fmt " and
// "data" (LIST, fact) are skipped.
func DecodeWAV(data []byte) ([]int16, int, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var (
		rate    int
		haveFmt bool
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if end > len(data) {
			// Streaming encoders sometimes write a placeholder size for data.
			if id != "data" {
				return nil, 0, fmt.Errorf("%w: chunk %q overruns file", ErrInvalidWAV, id)
			}
			end = len(data)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			format := binary.LittleEndian.Uint16(data[body:])
			channels := binary.LittleEndian.Uint16(data[body+2:])
			rate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bits := binary.LittleEndian.Uint16(data[body+14:])
			if format != 1 {
				return nil, 0, fmt.Errorf("%w: unsupported format %d (only PCM)", ErrInvalidWAV, format)
			}
			if channels != 1 {
				return nil, 0, fmt.Errorf("%w: unsupported channel count %d (only mono)", ErrInvalidWAV, channels)
			}
			if bits != 16 {
				return nil, 0, fmt.Errorf("%w: unsupported bit depth %d (only 16-bit)", ErrInvalidWAV, bits)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, 0, fmt.Errorf("%w: data chunk before fmt", ErrInvalidWAV)
			}
			pcm := data[body:end]
			if len(pcm)%2 != 0 {
				pcm = pcm[:len(pcm)-1]
			}
			samples, err := DecodePCM16LE(pcm)
			if err != nil {
				return nil, 0, err
			}
			return samples, rate, nil
		}

		// Chunks are word aligned.
		pos = end + size%2
	}
	return nil, 0, fmt.Errorf("%w: no data chunk", ErrInvalidWAV)
}
