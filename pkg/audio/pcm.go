package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
)

// DefaultInputRate is the sample rate assumed for client audio that does not
// declare one.
const DefaultInputRate = 16000

// DecodePCM16LE converts little-endian 16-bit PCM bytes into samples.
func DecodePCM16LE(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("audio: odd PCM16 byte length %d", len(data))
	}
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples, nil
}

// EncodePCM16LE converts samples into little-endian 16-bit PCM bytes.
func EncodePCM16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodeBase64PCM decodes a base64 PCM16LE payload.
func DecodeBase64PCM(s string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("audio: invalid base64: %w", err)
	}
	return DecodePCM16LE(raw)
}

// EncodeBase64PCM encodes samples as a base64 PCM16LE payload.
func EncodeBase64PCM(samples []int16) string {
	return base64.StdEncoding.EncodeToString(EncodePCM16LE(samples))
}

// Duration returns the playback length of n samples at sampleRate.
func Duration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}

// Split cuts samples into frames of at most size samples. The frames share
// the backing array of samples.
func Split(samples []int16, size int) [][]int16 {
	if size <= 0 || len(samples) == 0 {
		return nil
	}
	frames := make([][]int16, 0, (len(samples)+size-1)/size)
	for len(samples) > 0 {
		n := min(size, len(samples))
		frames = append(frames, samples[:n])
		samples = samples[n:]
	}
	return frames
}
