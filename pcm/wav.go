package pcm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrWAV reports a file that is not a PCM WAV file this package can play.
var ErrWAV = errors.New("pcm: unsupported wav")

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// WAVInfo describes the PCM payload of a RIFF/WAVE file.
type WAVInfo struct {
	Format     Format
	SampleRate uint32
	DataOffset int64
	DataSize   uint32
}

// riffChunk reads the next chunk header. io.EOF means a clean end.
func riffChunk(r io.Reader) (id string, size uint32, err error) {
	var h [8]byte
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return "", 0, err
	}
	return string(h[:4]), binary.LittleEndian.Uint32(h[4:]), nil
}

// skipChunk seeks past a chunk body and its pad byte.
func skipChunk(r io.Seeker, size uint32) error {
	_, err := r.Seek(int64(size)+int64(size&1), io.SeekCurrent)
	return err
}

// decodeFmt turns a fmt chunk body into a Format and a sample rate.
// WAVE_FORMAT_EXTENSIBLE is accepted when its sub-format is PCM.
func decodeFmt(b []byte) (Format, uint32, error) {
	if len(b) < 16 {
		return Format{}, 0, fmt.Errorf("%w: fmt chunk of %d bytes", ErrWAV, len(b))
	}
	tag := binary.LittleEndian.Uint16(b[0:])
	if tag == wavFormatExtensible && len(b) >= 26 {
		tag = binary.LittleEndian.Uint16(b[24:])
	}
	if tag != wavFormatPCM {
		return Format{}, 0, fmt.Errorf("%w: format tag %#x", ErrWAV, tag)
	}

	f := Format{
		Channels:      int(binary.LittleEndian.Uint16(b[2:])),
		BitsPerSample: int(binary.LittleEndian.Uint16(b[14:])),
	}
	if err := f.Validate(); err != nil {
		return Format{}, 0, fmt.Errorf("%w: %v", ErrWAV, err)
	}
	if align := int(binary.LittleEndian.Uint16(b[12:])); align != f.FrameBytes() {
		return Format{}, 0, fmt.Errorf("%w: block align %d for %d-bit x%d", ErrWAV, align, f.BitsPerSample, f.Channels)
	}
	return f, binary.LittleEndian.Uint32(b[4:]), nil
}

// ParseWAV walks the chunks of a WAV file and leaves r positioned at the
// first byte of the data chunk.
func ParseWAV(r io.ReadSeeker) (*WAVInfo, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWAV, err)
	}
	if string(riff[:4]) != "RIFF" || string(riff[8:]) != "WAVE" {
		return nil, fmt.Errorf("%w: not RIFF/WAVE", ErrWAV)
	}

	var wi WAVInfo
	haveFmt := false
	for {
		id, size, err := riffChunk(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrWAV, err)
		}

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrWAV, err)
			}
			if wi.Format, wi.SampleRate, err = decodeFmt(body); err != nil {
				return nil, err
			}
			haveFmt = true
			if size&1 != 0 {
				if _, err := r.Seek(1, io.SeekCurrent); err != nil {
					return nil, err
				}
			}
			continue

		case "data":
			off, err := r.Seek(0, io.SeekCurrent)
			if err != nil {
				return nil, err
			}
			wi.DataOffset, wi.DataSize = off, size
			if haveFmt {
				return &wi, nil
			}
		}
		if err := skipChunk(r, size); err != nil {
			return nil, err
		}
	}

	if !haveFmt || wi.DataOffset == 0 {
		return nil, fmt.Errorf("%w: missing fmt or data chunk", ErrWAV)
	}
	if _, err := r.Seek(wi.DataOffset, io.SeekStart); err != nil {
		return nil, err
	}
	return &wi, nil
}

// OpenWAV parses r and returns a Source over its data chunk.
func OpenWAV(r io.ReadSeeker) (*ReaderSource, *WAVInfo, error) {
	wi, err := ParseWAV(r)
	if err != nil {
		return nil, nil, err
	}
	src, err := NewReaderSource(io.LimitReader(r, int64(wi.DataSize)), wi.Format)
	if err != nil {
		return nil, nil, err
	}
	return src, wi, nil
}

// WriteWAVHeader writes a 44-byte canonical PCM header.
func WriteWAVHeader(w io.Writer, sampleRate uint32, f Format, dataBytes uint32) error {
	channels := uint16(f.Channels)
	bits := uint16(f.BitsPerSample)
	blockAlign := channels * (bits / 8)
	byteRate := sampleRate * uint32(blockAlign)
	riffSize := 4 + (8 + 16) + (8 + dataBytes)

	var hdr [44]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], riffSize)
	copy(hdr[8:12], "WAVE")

	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1)
	binary.LittleEndian.PutUint16(hdr[22:24], channels)
	binary.LittleEndian.PutUint32(hdr[24:28], sampleRate)
	binary.LittleEndian.PutUint32(hdr[28:32], byteRate)
	binary.LittleEndian.PutUint16(hdr[32:34], blockAlign)
	binary.LittleEndian.PutUint16(hdr[34:36], bits)

	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], dataBytes)

	_, err := w.Write(hdr[:])
	return err
}
