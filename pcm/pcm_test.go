package pcm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func s16(samples ...int16) []byte {
	b := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(s))
	}
	return b
}

func TestNormalize16(t *testing.T) {
	cases := map[int16]uint32{
		0:      0x0800,
		-32768: 0x0000,
		32767:  0x0FFF,
	}
	for in, want := range cases {
		got := Normalize(uint32(uint16(in)), 16)
		assert.Equalf(t, want, got, "Normalize(%d)", in)
	}
}

func TestNormalize8(t *testing.T) {
	assert.Equal(t, uint32(0x0000), Normalize(0x00, 8))
	assert.Equal(t, uint32(0x0FF0), Normalize(0xFF, 8))
	assert.Equal(t, uint32(0x0800), Normalize(0x80, 8))
}

func TestFormatValidate(t *testing.T) {
	require.NoError(t, Format{Channels: 1, BitsPerSample: 8}.Validate())
	require.NoError(t, Format{Channels: 2, BitsPerSample: 16}.Validate())
	assert.Error(t, Format{Channels: 3, BitsPerSample: 16}.Validate())
	assert.Error(t, Format{Channels: 2, BitsPerSample: 24}.Validate())
}

func TestStreamFillsWholeChunk(t *testing.T) {
	for _, chunk := range []int{2, 4, 8, 64} {
		data := make([]byte, chunk/2*4+16)
		s, err := NewStream(data, Format{Channels: 2, BitsPerSample: 16})
		require.NoError(t, err)

		buf := make([]uint32, chunk)
		assert.Equal(t, chunk, s.Fill(buf), "chunk %d", chunk)
	}
}

func TestStreamShortStopsEarly(t *testing.T) {
	s, err := NewStream(s16(1, 2, 3, 4, 5, 6), Format{Channels: 2, BitsPerSample: 16})
	require.NoError(t, err)
	require.Equal(t, 3, s.Remaining())

	buf := make([]uint32, 16)
	assert.Equal(t, 6, s.Fill(buf))
	assert.Equal(t, 0, s.Remaining())
	assert.Equal(t, 0, s.Fill(buf))
}

func TestStreamStereoOrder(t *testing.T) {
	s, err := NewStream(s16(-32768, 32767), Format{Channels: 2, BitsPerSample: 16})
	require.NoError(t, err)

	buf := make([]uint32, 4)
	require.Equal(t, 2, s.Fill(buf))
	assert.Equal(t, []uint32{0x0000, 0x0FFF}, buf[:2])
}

func TestStreamMonoDuplicates(t *testing.T) {
	data := []byte{0x00, 0x10, 0x7F, 0x80, 0xFF}
	s, err := NewStream(data, Format{Channels: 1, BitsPerSample: 8})
	require.NoError(t, err)

	buf := make([]uint32, 2*len(data))
	require.Equal(t, len(buf), s.Fill(buf))
	for i := 0; i < len(buf); i += 2 {
		assert.Equal(t, buf[i], buf[i+1], "pair %d", i/2)
		assert.Equal(t, uint32(data[i/2])<<4, buf[i])
	}
}

func TestStreamMono16(t *testing.T) {
	s, err := NewStream(s16(0, -32768), Format{Channels: 1, BitsPerSample: 16})
	require.NoError(t, err)

	buf := make([]uint32, 4)
	require.Equal(t, 4, s.Fill(buf))
	assert.Equal(t, []uint32{0x800, 0x800, 0, 0}, buf)
}

func TestStreamIgnoresPartialFrame(t *testing.T) {
	s, err := NewStream([]byte{1, 2, 3}, Format{Channels: 2, BitsPerSample: 8})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Remaining())
}

func TestFillOddCapacityPanics(t *testing.T) {
	s, err := NewStream(s16(0, 0), Format{Channels: 2, BitsPerSample: 16})
	require.NoError(t, err)
	assert.Panics(t, func() { s.Fill(make([]uint32, 3)) })
	assert.Panics(t, func() { s.Fill(nil) })
}

func TestReaderSourceMatchesStream(t *testing.T) {
	data := s16(100, -100, 2000, -2000, 32767, -32768, 0, 1)
	f := Format{Channels: 2, BitsPerSample: 16}

	st, err := NewStream(data, f)
	require.NoError(t, err)
	rs, err := NewReaderSource(iotest.OneByteReader(bytes.NewReader(data)), f)
	require.NoError(t, err)

	want := make([]uint32, 6)
	got := make([]uint32, 6)
	for {
		n := st.Fill(want)
		m := rs.Fill(got)
		require.Equal(t, n, m)
		if n == 0 {
			break
		}
		assert.Equal(t, want[:n], got[:m])
	}
	assert.NoError(t, rs.Err())
	assert.Equal(t, uint64(4), rs.Frames())
}

func TestReaderSourceError(t *testing.T) {
	boom := errors.New("boom")
	rs, err := NewReaderSource(iotest.ErrReader(boom), Format{Channels: 1, BitsPerSample: 8})
	require.NoError(t, err)

	assert.Equal(t, 0, rs.Fill(make([]uint32, 4)))
	assert.ErrorIs(t, rs.Err(), boom)
}

func TestToneLengthAndRange(t *testing.T) {
	tone := NewTone(440, 44100, 5, 1)
	buf := make([]uint32, 8)

	require.Equal(t, 8, tone.Fill(buf))
	for i := 0; i < len(buf); i += 2 {
		assert.Equal(t, buf[i], buf[i+1])
		assert.LessOrEqual(t, buf[i], uint32(0x0FFF))
	}
	assert.Equal(t, uint32(0x0800), buf[0], "sine starts at mid-scale")

	require.Equal(t, 2, tone.Fill(buf))
	assert.Equal(t, 0, tone.Fill(buf))
}
