package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat_MIMEType(t *testing.T) {
	assert.Equal(t, "audio/pcm;rate=16000", Input.MIMEType())
	assert.Equal(t, "audio/pcm;rate=24000", Output.MIMEType())
}

func TestEncodePCM16(t *testing.T) {
	tests := []struct {
		name    string
		samples []float32
		want    []int16
	}{
		{name: "silence", samples: []float32{0, 0}, want: []int16{0, 0}},
		{name: "half", samples: []float32{0.5, -0.5}, want: []int16{16384, -16384}},
		{name: "full scale clamps", samples: []float32{1, -1}, want: []int16{32767, -32768}},
		{name: "out of range clamps", samples: []float32{3, -7}, want: []int16{32767, -32768}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pcm := EncodePCM16(tt.samples)
			require.Len(t, pcm, len(tt.samples)*2)
			for i, w := range tt.want {
				got := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
				assert.Equal(t, w, got, "sample %d", i)
			}
		})
	}
}

func TestDecodePCM16(t *testing.T) {
	// 16384, -32768, and a dangling byte
	pcm := []byte{0x00, 0x40, 0x00, 0x80, 0x7f}

	got := DecodePCM16(pcm)

	require.Len(t, got, 2)
	assert.InDelta(t, 0.5, got[0], 1e-6)
	assert.InDelta(t, -1.0, got[1], 1e-6)
}

func TestEncodeDecodeKeepsShape(t *testing.T) {
	in := []float32{0.25, -0.75, 0.125, 0}

	out := DecodePCM16(EncodePCM16(in))

	require.Len(t, out, len(in))
	for i := range in {
		assert.InDelta(t, in[i], out[i], 1.0/32768)
	}
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, Output.Duration(12000))
	assert.Equal(t, time.Second, Duration(16000, InputSampleRate))
	assert.Equal(t, time.Duration(0), Duration(100, 0))
	assert.Equal(t, 12000, Samples(500*time.Millisecond, OutputSampleRate))
}

func TestBase64(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}

	decoded, err := DecodeBase64(EncodeBase64(pcm))
	require.NoError(t, err)
	assert.Equal(t, pcm, decoded)

	_, err = DecodeBase64("%%%")
	assert.Error(t, err)
}
