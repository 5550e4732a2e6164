package sim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sndpwm/bcm2835"
	"sndpwm/dma"
	"sndpwm/hal"
)

func TestMemoryStaleUntilFlushed(t *testing.T) {
	m := NewMemory()
	r, err := m.Alloc(64, 32)
	require.NoError(t, err)
	assert.Zero(t, r.PhysAddr()%32)

	r.Buf()[5] = 0xAB
	b, err := m.read(r.PhysAddr(), 64)
	require.NoError(t, err)
	assert.Zero(t, b[5])
	assert.Equal(t, uint64(1), m.StaleReads())

	m.CleanAndInvalidate(r.PhysAddr()+4, 1)
	b, err = m.read(r.PhysAddr(), 32)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), b[5])
	assert.Equal(t, uint64(1), m.StaleReads())
	assert.Equal(t, uint64(1), m.Flushes())
}

func TestMemoryFlushIsLineGranular(t *testing.T) {
	m := NewMemory()
	r, err := m.Alloc(64, 32)
	require.NoError(t, err)

	r.Buf()[40] = 1
	m.CleanAndInvalidate(r.PhysAddr(), 32)
	_, err = m.read(r.PhysAddr()+32, 32)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.StaleReads())
}

func TestMemoryRegionsDoNotShareLines(t *testing.T) {
	m := NewMemory()
	a, err := m.Alloc(4, 4)
	require.NoError(t, err)
	b, err := m.Alloc(4, 4)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, b.PhysAddr()-a.PhysAddr(), uint32(LineSize))
}

func TestMemoryRejectsBadAccess(t *testing.T) {
	m := NewMemory()
	_, err := m.Alloc(0, 4)
	assert.Error(t, err)
	_, err = m.Alloc(16, 3)
	assert.Error(t, err)

	r, err := m.Alloc(16, 4)
	require.NoError(t, err)
	_, err = m.read(0x10, 4)
	assert.Error(t, err)

	require.NoError(t, r.Close())
	assert.Error(t, r.Close())
	_, err = m.read(r.PhysAddr(), 4)
	assert.Error(t, err)
}

func TestClockNeedsPassword(t *testing.T) {
	s := New(Config{})
	s.Write32(bcm2835.CMPWMCtl, bcm2835.CMCtlEnable)
	assert.Zero(t, s.Read32(bcm2835.CMPWMCtl))

	clk := hal.NewPWMClock(s, nil)
	require.NoError(t, clk.Start(2))
	assert.NotZero(t, s.Read32(bcm2835.CMPWMCtl)&bcm2835.CMCtlBusy)
	assert.Equal(t, bcm2835.CMDivI(2), s.Read32(bcm2835.CMPWMDiv))

	s.Write32(bcm2835.PWMRng1, 5669)
	assert.Equal(t, uint32(44099), s.SampleRate())

	require.NoError(t, clk.Stop())
	assert.Zero(t, s.Read32(bcm2835.CMPWMCtl)&bcm2835.CMCtlBusy)
	assert.Zero(t, s.SampleRate())

	assert.Error(t, clk.Start(0))
}

func TestInterruptStatusIsWriteOneToClear(t *testing.T) {
	s := New(Config{})
	s.mu.Lock()
	s.intStatus = 1<<3 | 1<<12
	s.mu.Unlock()

	s.Write32(bcm2835.DMAIntStatus, 1<<12)
	assert.Equal(t, uint32(1<<3), s.Read32(bcm2835.DMAIntStatus))
}

type fifo struct {
	mu    sync.Mutex
	words []uint32
}

func (f *fifo) WriteFIFO(w []uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.words = append(f.words, w...)
}

type counter struct {
	n   int
	irq int
}

func (c *counter) HandleIRQ(irq int) {
	c.n++
	c.irq = irq
}

// chain builds n linked control blocks of the given words each.
func chain(t *testing.T, s *SoC, words ...[]uint32) []hal.Mem {
	t.Helper()
	m := s.Memory()
	cbs := make([]hal.Mem, len(words))
	bufs := make([]hal.Mem, len(words))
	for i, w := range words {
		buf, err := m.Alloc(4*len(w), 4)
		require.NoError(t, err)
		copy(hal.Words(buf), w)
		hal.Flush(m, buf, 0)
		bufs[i] = buf

		cb, err := m.Alloc(dma.ControlBlockSize, dma.ControlBlockSize)
		require.NoError(t, err)
		cbs[i] = cb
	}
	for i := range words {
		block := dma.ControlBlock{
			TransferInfo: dma.PWMTransferInfo(),
			SourceAddr:   bcm2835.BusAddress(bufs[i].PhysAddr()),
			DestAddr:     bcm2835.IOBusAddress(bcm2835.PWMFif1),
			TransferLen:  uint32(4 * len(words[i])),
		}
		if i+1 < len(words) {
			block.NextBlock = bcm2835.BusAddress(cbs[i+1].PhysAddr())
		}
		block.Encode(cbs[i].Buf())
		hal.Flush(m, cbs[i], 0)
	}
	return cbs
}

func start(s *SoC, ch uint32, cb hal.Mem) {
	s.Write32(bcm2835.DMAEnable, 1<<ch)
	s.Write32(bcm2835.PWMDMAC, bcm2835.PWMDMACEnable)
	s.Write32(bcm2835.DMAChannelConblkAd(ch), bcm2835.BusAddress(cb.PhysAddr()))
	s.Write32(bcm2835.DMAChannelCS(ch), bcm2835.CSActive)
}

func TestStepWalksChain(t *testing.T) {
	out := &fifo{}
	s := New(Config{Sink: out, Record: true})
	h := &counter{}
	irq := bcm2835.IRQForDMAChannel(5)
	require.NoError(t, s.IRQ().Connect(irq, h))

	cbs := chain(t, s, []uint32{1, 2}, []uint32{3, 4, 5, 6})
	start(s, 5, cbs[0])
	assert.NotZero(t, s.Read32(bcm2835.DMAChannelCS(5))&bcm2835.CSActive)
	assert.Equal(t, uint32(8), s.Read32(bcm2835.DMAChannelTxfrLen(5)))

	require.True(t, s.Step())
	assert.Equal(t, 1, h.n)
	assert.Equal(t, irq, h.irq)
	assert.Equal(t, uint32(1<<5), s.Read32(bcm2835.DMAIntStatus))
	assert.Equal(t, bcm2835.BusAddress(cbs[1].PhysAddr()), s.Read32(bcm2835.DMAChannelConblkAd(5)))

	require.True(t, s.Step())
	assert.False(t, s.Step())
	assert.Zero(t, s.Read32(bcm2835.DMAChannelCS(5))&bcm2835.CSActive)

	assert.Equal(t, []uint32{1, 2, 3, 4, 5, 6}, s.Output())
	assert.Equal(t, []uint32{1, 2, 3, 4, 5, 6}, out.words)
	assert.Equal(t, uint64(2), s.Transfers())
	assert.Equal(t, uint64(2), s.IRQ().Raised())
	assert.Zero(t, s.Memory().StaleReads())
}

func TestStepWaitsForDREQ(t *testing.T) {
	s := New(Config{Record: true})
	cbs := chain(t, s, []uint32{1, 2})
	start(s, 0, cbs[0])
	s.Write32(bcm2835.PWMDMAC, 0)
	assert.False(t, s.Step())

	s.Write32(bcm2835.PWMDMAC, bcm2835.PWMDMACEnable)
	assert.True(t, s.Step())
	assert.Equal(t, uint64(1), s.IRQ().Spurious())
}

func TestStepNeedsChannelEnable(t *testing.T) {
	s := New(Config{})
	cbs := chain(t, s, []uint32{1, 2})
	start(s, 2, cbs[0])
	s.Write32(bcm2835.DMAEnable, 0)
	assert.False(t, s.Step())
}

func TestInjectedErrorSetsCS(t *testing.T) {
	s := New(Config{Record: true})
	h := &counter{}
	require.NoError(t, s.IRQ().Connect(bcm2835.IRQForDMAChannel(4), h))

	cbs := chain(t, s, []uint32{1, 2}, []uint32{3, 4})
	start(s, 4, cbs[0])
	s.InjectError(4)

	require.True(t, s.Step())
	cs := s.Read32(bcm2835.DMAChannelCS(4))
	assert.NotZero(t, cs&bcm2835.CSError)
	assert.NotZero(t, cs&bcm2835.CSInt)
	assert.Zero(t, cs&bcm2835.CSActive)
	assert.Equal(t, 1, h.n)
	assert.Empty(t, s.Output())

	s.Write32(bcm2835.DMAChannelCS(4), bcm2835.CSReset)
	assert.Zero(t, s.Read32(bcm2835.DMAChannelCS(4)))
	assert.Zero(t, s.Read32(bcm2835.DMAIntStatus))
}

func TestStaleControlBlockIsCounted(t *testing.T) {
	s := New(Config{})
	m := s.Memory()
	cb, err := m.Alloc(dma.ControlBlockSize, dma.ControlBlockSize)
	require.NoError(t, err)
	block := dma.ControlBlock{TransferInfo: dma.PWMTransferInfo(), TransferLen: 4}
	block.Encode(cb.Buf())

	start(s, 1, cb)
	assert.Equal(t, uint64(1), m.StaleReads())
	assert.Zero(t, s.Read32(bcm2835.DMAChannelTxfrLen(1)))
}

func TestNextConbkIsWritable(t *testing.T) {
	s := New(Config{Record: true})
	cbs := chain(t, s, []uint32{1, 2}, []uint32{3, 4})
	start(s, 3, cbs[0])

	s.Write32(bcm2835.DMAChannelNextConbk(3), 0)
	require.True(t, s.Step())
	assert.False(t, s.Step())
	assert.Equal(t, []uint32{1, 2}, s.Output())
}

func TestIRQConnect(t *testing.T) {
	c := newIRQController()
	a, b := &counter{}, &counter{}

	assert.Error(t, c.Connect(16, nil))
	require.NoError(t, c.Connect(16, a))
	require.NoError(t, c.Connect(16, a))
	assert.Error(t, c.Connect(16, b))
	assert.True(t, c.Connected(16))

	c.raise(16)
	c.raise(17)
	assert.Equal(t, 1, a.n)
	assert.Equal(t, uint64(2), c.Raised())
	assert.Equal(t, uint64(1), c.Spurious())

	c.Disconnect(16)
	assert.False(t, c.Connected(16))
}

func TestRunPacesTransfers(t *testing.T) {
	out := &fifo{}
	s := New(Config{Sink: out})
	require.NoError(t, hal.NewPWMClock(s, nil).Start(2))
	s.Write32(bcm2835.PWMRng1, 5669)

	cbs := chain(t, s, []uint32{1, 2}, []uint32{3, 4})
	start(s, 6, cbs[0])

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go s.Run(ctx)

	assert.Eventually(t, func() bool { return s.Transfers() == 2 }, time.Second, time.Millisecond)
}
