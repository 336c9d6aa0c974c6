package realtime

import (
	"encoding/base64"
	"fmt"

	"github.com/teslashibe/go-deskman/pkg/audioio"
)

// EncodeAudio base64-encodes raw PCM16 bytes for the wire.
func EncodeAudio(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// EncodeSamples encodes samples as little-endian PCM16, base64.
func EncodeSamples(samples []int16) string {
	return EncodeAudio(audioio.SamplesToBytes(samples))
}

// DecodeAudio decodes a wire audio payload.
//
// Unlike the stdlib decoder it rejects embedded newlines, and it rejects
// any length that is not a multiple of 4.
func DecodeAudio(s string) ([]byte, error) {
	if len(s)%4 != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of 4", ErrInvalidAudio, len(s))
	}
	for i := 0; i < len(s); i++ {
		if !isBase64Char(s[i]) {
			return nil, fmt.Errorf("%w: invalid character %q at offset %d", ErrInvalidAudio, s[i], i)
		}
	}
	b, err := base64.StdEncoding.Strict().DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
	}
	return b, nil
}

// DecodeSamples decodes a wire audio payload into samples. A trailing odd
// byte is dropped.
func DecodeSamples(s string) ([]int16, error) {
	b, err := DecodeAudio(s)
	if err != nil {
		return nil, err
	}
	return audioio.BytesToSamples(b), nil
}

func isBase64Char(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '+', c == '/', c == '=':
		return true
	}
	return false
}
