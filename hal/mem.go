package hal

import (
	"fmt"
	"unsafe"
)

// Words returns the 32-bit view of m. The region must be 4-byte aligned.
func Words(m Mem) []uint32 {
	b := m.Buf()
	if len(b) < 4 {
		return nil
	}
	if uintptr(unsafe.Pointer(&b[0]))%4 != 0 {
		panic("hal: unaligned DMA buffer")
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// Flush cleans and invalidates the whole of m, or its first n bytes when n > 0.
func Flush(c Cache, m Mem, n int) {
	if n <= 0 || n > len(m.Buf()) {
		n = len(m.Buf())
	}
	c.CleanAndInvalidate(m.PhysAddr(), n)
}

// AlignedWords allocates n words whose first element is aligned to align
// bytes. The returned slice keeps the backing array reachable.
func AlignedWords(n, align int) ([]uint32, error) {
	if align < 4 || align&(align-1) != 0 {
		return nil, fmt.Errorf("hal: invalid alignment %d", align)
	}
	if n <= 0 {
		return nil, fmt.Errorf("hal: invalid size %d words", n)
	}
	pad := align / 4
	back := make([]uint32, n+pad)
	off := 0
	for uintptr(unsafe.Pointer(&back[off]))%uintptr(align) != 0 {
		off++
	}
	return back[off : off+n : off+n], nil
}

// WordBytes returns the byte view of w.
func WordBytes(w []uint32) []byte {
	if len(w) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&w[0])), len(w)*4)
}
