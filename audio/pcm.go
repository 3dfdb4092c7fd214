package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const (
	// InputSampleRate is the microphone capture rate expected by the Live API.
	InputSampleRate = 16000
	// OutputSampleRate is the rate of the audio the Live API sends back.
	OutputSampleRate = 24000

	// DefaultFrameSize is the number of samples per outbound frame.
	DefaultFrameSize = 4096
)

// Format describes raw 16-bit signed little-endian linear PCM.
type Format struct {
	SampleRate int
	Channels   int
}

var (
	// Input is the outbound microphone format: mono, 16 kHz.
	Input = Format{SampleRate: InputSampleRate, Channels: 1}
	// Output is the inbound model audio format: mono, 24 kHz.
	Output = Format{SampleRate: OutputSampleRate, Channels: 1}
)

// MIMEType returns the tag sent alongside each payload, e.g. "audio/pcm;rate=16000".
func (f Format) MIMEType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", f.SampleRate)
}

// BytesPerFrame returns the size of one sample across all channels.
func (f Format) BytesPerFrame() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return 2 * ch
}

// Duration returns how long n samples (per channel) last at the format's rate.
func (f Format) Duration(samples int) time.Duration {
	return Duration(samples, f.SampleRate)
}

// Duration returns how long the given number of samples lasts at sampleRate.
func Duration(samples, sampleRate int) time.Duration {
	if sampleRate <= 0 || samples <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// Samples returns the number of whole samples that fit into d at sampleRate.
func Samples(d time.Duration, sampleRate int) int {
	if d <= 0 || sampleRate <= 0 {
		return 0
	}
	return int(d * time.Duration(sampleRate) / time.Second)
}

// EncodePCM16 converts float samples in [-1, 1] to 16-bit signed LE PCM.
// Values outside the range are clamped.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

// DecodePCM16 converts 16-bit signed LE PCM to float samples in [-1, 1).
// A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(sample) / 32768.0
	}
	return out
}

func floatToInt16(s float32) int16 {
	if math.IsNaN(float64(s)) {
		return 0
	}
	v := float64(s) * 32768
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// EncodeBase64 wraps PCM bytes for the JSON wire.
func EncodeBase64(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodeBase64 unwraps a base64 PCM payload.
func DecodeBase64(data string) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	return pcm, nil
}
