//go:build !tinygo

package main

import (
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

func decodeMP3(r io.Reader) (io.Reader, int, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, 0, fmt.Errorf("mp3: %w", err)
	}
	return dec, dec.SampleRate(), nil
}
