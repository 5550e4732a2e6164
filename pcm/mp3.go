//go:build !tinygo

package pcm

import (
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// MP3Format is the decoder output: interleaved signed 16-bit stereo.
var MP3Format = Format{Channels: 2, BitsPerSample: 16}

// OpenMP3 decodes r on the fly. It returns the source and the stream's
// sample rate.
func OpenMP3(r io.Reader) (*ReaderSource, int, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, 0, fmt.Errorf("mp3: %w", err)
	}
	src, err := NewReaderSource(dec, MP3Format)
	if err != nil {
		return nil, 0, err
	}
	return src, dec.SampleRate(), nil
}
