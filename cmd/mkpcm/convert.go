//go:build !tinygo

package main

import (
	"errors"
	"fmt"
	"io"

	"sndpwm/pcm"
)

// frameReader yields interleaved little-endian frames in format.
type frameReader struct {
	r      io.Reader
	format pcm.Format
	rate   uint32
}

func openInput(r io.ReadSeeker, ext string) (*frameReader, error) {
	switch ext {
	case ".mp3":
		src, rate, err := decodeMP3(r)
		if err != nil {
			return nil, err
		}
		return &frameReader{r: src, format: pcm.MP3Format, rate: uint32(rate)}, nil
	case ".wav":
		wi, err := pcm.ParseWAV(r)
		if err != nil {
			return nil, err
		}
		return &frameReader{r: io.LimitReader(r, int64(wi.DataSize)), format: wi.Format, rate: wi.SampleRate}, nil
	default:
		return nil, fmt.Errorf("unsupported input %q", ext)
	}
}

// sample returns channel i of frame as a signed 16-bit value.
func sample(frame []byte, bits, i int) int16 {
	if bits == 8 {
		return int16(int(frame[i])-128) << 8
	}
	return int16(uint16(frame[2*i]) | uint16(frame[2*i+1])<<8)
}

// frameWriter takes signed 16-bit frames.
type frameWriter interface {
	WriteFrame(left, right int16) error
}

// pcmWriter writes little-endian PCM in format.
type pcmWriter struct {
	w      io.Writer
	format pcm.Format
	buf    []byte
}

func newPCMWriter(w io.Writer, f pcm.Format) *pcmWriter {
	return &pcmWriter{w: w, format: f, buf: make([]byte, f.FrameBytes())}
}

// WriteFrame drops right for mono.
func (p *pcmWriter) WriteFrame(left, right int16) error {
	put(p.buf, p.format.BitsPerSample, 0, left)
	if p.format.Channels == 2 {
		put(p.buf, p.format.BitsPerSample, 1, right)
	}
	_, err := p.w.Write(p.buf)
	return err
}

func put(buf []byte, bits, i int, v int16) {
	if bits == 8 {
		buf[i] = byte(int(v>>8) + 128)
		return
	}
	buf[2*i] = byte(v)
	buf[2*i+1] = byte(uint16(v) >> 8)
}

// convert copies every whole frame of fr into w. Mono input is duplicated
// to both channels. For mono output stereo is averaged into left.
func convert(w frameWriter, fr *frameReader, channels int) (uint64, error) {
	in := make([]byte, fr.format.FrameBytes())

	var frames uint64
	for {
		if _, err := io.ReadFull(fr.r, in); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return frames, nil
			}
			return frames, err
		}

		left := sample(in, fr.format.BitsPerSample, 0)
		right := left
		if fr.format.Channels == 2 {
			right = sample(in, fr.format.BitsPerSample, 1)
		}
		if channels == 1 {
			left = int16((int32(left) + int32(right)) / 2)
		}
		if err := w.WriteFrame(left, right); err != nil {
			return frames, err
		}
		frames++
	}
}
