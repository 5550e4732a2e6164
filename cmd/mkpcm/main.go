//go:build !tinygo

package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"sndpwm/pcm"
)

type options struct {
	bits     int
	channels int
	block    int
}

func main() {
	var (
		inPath  = flag.String("in", "", "Input file (.mp3 or .wav).")
		outPath = flag.String("out", "", "Output file: .wav, .adpcm, or anything else for raw PCM.")
		o       options
	)
	flag.IntVar(&o.bits, "bits", 16, "Output bits per sample for raw and WAV: 8 (unsigned) or 16 (signed).")
	flag.IntVar(&o.channels, "channels", 2, "Output channels: 1 or 2.")
	flag.IntVar(&o.block, "block", 505, "Samples per ADPCM block.")
	flag.Parse()

	if *inPath == "" || *outPath == "" {
		fatalf("usage: mkpcm -in in.mp3|in.wav -out out.pcm|out.wav|out.adpcm [-bits 8|16] [-channels 1|2] [-block 505]")
	}

	rate, n, err := convertFile(*inPath, *outPath, o)
	if err != nil {
		fatalf("mkpcm: %v", err)
	}
	fmt.Printf("%s: %d frames at %d Hz\n", *outPath, n, rate)
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(2)
}

// output is one of the file kinds mkpcm writes.
type output interface {
	// begin writes a placeholder header and returns the frame writer.
	begin(w io.Writer, rate uint32) (frameWriter, error)
	// end rewrites the header once the frame count is known.
	end(f io.WriteSeeker, rate uint32, frames uint64) error
}

type rawOutput struct{ format pcm.Format }

func (o rawOutput) begin(w io.Writer, _ uint32) (frameWriter, error) {
	return newPCMWriter(w, o.format), nil
}

func (rawOutput) end(io.WriteSeeker, uint32, uint64) error { return nil }

type wavOutput struct{ format pcm.Format }

func (o wavOutput) begin(w io.Writer, rate uint32) (frameWriter, error) {
	if err := pcm.WriteWAVHeader(w, rate, o.format, 0); err != nil {
		return nil, err
	}
	return newPCMWriter(w, o.format), nil
}

func (o wavOutput) end(f io.WriteSeeker, rate uint32, frames uint64) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return pcm.WriteWAVHeader(f, rate, o.format, uint32(frames)*uint32(o.format.FrameBytes()))
}

type adpcmOutput struct{ header pcm.ADPCMHeader }

func (o adpcmOutput) begin(w io.Writer, rate uint32) (frameWriter, error) {
	h := o.header
	h.SampleRate = rate
	if err := pcm.WriteADPCMHeader(w, h); err != nil {
		return nil, err
	}
	return pcm.NewADPCMEncoder(w, h)
}

func (o adpcmOutput) end(f io.WriteSeeker, rate uint32, frames uint64) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	h := o.header
	h.SampleRate = rate
	h.Frames = uint32(frames)
	return pcm.WriteADPCMHeader(f, h)
}

func newOutput(path string, o options) (output, error) {
	f := pcm.Format{Channels: o.channels, BitsPerSample: o.bits}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".adpcm":
		return adpcmOutput{pcm.ADPCMHeader{SamplesPerBlock: o.block, Channels: o.channels}}, nil
	case ".wav":
		return wavOutput{f}, f.Validate()
	default:
		return rawOutput{f}, f.Validate()
	}
}

// convertFile converts inPath into outPath and returns the sample rate
// and the number of frames written.
func convertFile(inPath, outPath string, o options) (uint32, uint64, error) {
	out, err := newOutput(outPath, o)
	if err != nil {
		return 0, 0, err
	}

	in, err := os.Open(inPath)
	if err != nil {
		return 0, 0, err
	}
	defer in.Close()

	fr, err := openInput(in, strings.ToLower(filepath.Ext(inPath)))
	if err != nil {
		return 0, 0, err
	}

	f, err := os.Create(outPath)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	bw := bufio.NewWriterSize(f, 64*1024)
	w, err := out.begin(bw, fr.rate)
	if err != nil {
		return 0, 0, err
	}
	n, err := convert(w, fr, o.channels)
	if err != nil {
		return 0, 0, err
	}
	if c, ok := w.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return 0, 0, err
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, 0, err
	}
	if err := out.end(f, fr.rate, n); err != nil {
		return 0, 0, err
	}
	return fr.rate, n, f.Close()
}
