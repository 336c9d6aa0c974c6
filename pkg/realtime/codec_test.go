package realtime

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudioRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for n := 0; n <= 256; n++ {
		b := make([]byte, n)
		for i := range b {
			b[i] = byte(rng.Intn(256))
		}

		got, err := DecodeAudio(EncodeAudio(b))
		require.NoError(t, err, "length %d", n)
		assert.True(t, bytes.Equal(b, got), "length %d", n)
	}
}

func TestDecodeAudio_AAAA(t *testing.T) {
	b, err := DecodeAudio("AAAA")
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0}, b)

	samples, err := DecodeSamples("AAAA")
	require.NoError(t, err)
	assert.Equal(t, []int16{0}, samples, "trailing odd byte is dropped")
}

func TestDecodeAudio_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"length not multiple of 4", "AAA"},
		{"length 5", "AAAAA"},
		{"newline", "AAA\n"},
		{"url alphabet", "AA-_"},
		{"space", "AA A"},
		{"misplaced padding", "A=AA"},
		{"unicode", "AAé="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeAudio(tt.input)
			assert.ErrorIs(t, err, ErrInvalidAudio)
		})
	}
}

func TestEncodeSamples_LittleEndian(t *testing.T) {
	// 0x0102 -> 02 01, -1 -> FF FF
	assert.Equal(t, EncodeAudio([]byte{0x02, 0x01, 0xFF, 0xFF}), EncodeSamples([]int16{0x0102, -1}))

	got, err := DecodeSamples(EncodeSamples([]int16{0x0102, -1, 32767, -32768}))
	require.NoError(t, err)
	assert.Equal(t, []int16{0x0102, -1, 32767, -32768}, got)
}
