//go:build !tinygo && !cgo

package hal

// Sound card backends need cgo.

func NewEbitenSink(int) (AudioSink, error) { return nil, ErrNotImplemented }

func NewOtoSink(int) (AudioSink, error) { return nil, ErrNotImplemented }
