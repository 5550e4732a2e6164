package pwmsound

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sndpwm/bcm2835"
	"sndpwm/dma"
	"sndpwm/hal"
	"sndpwm/hal/sim"
	"sndpwm/kernel"
	"sndpwm/pcm"
)

var stereo16 = pcm.Format{Channels: 2, BitsPerSample: 16}

type testLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *testLogger) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, s)
}

func (l *testLogger) WriteLineBytes(b []byte) { l.WriteLineString(string(b)) }

func (l *testLogger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

func noSleep(time.Duration) {}

// ramp returns n stereo 16-bit frames with distinct samples.
func ramp(n int) []byte {
	b := make([]byte, 4*n)
	for i := 0; i < 2*n; i++ {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(int16(i*97-3000)))
	}
	return b
}

func stream(t *testing.T, data []byte) *pcm.Stream {
	t.Helper()
	s, err := pcm.NewStream(data, stereo16)
	require.NoError(t, err)
	return s
}

// expected renders data the way the device should emit it.
func expected(t *testing.T, data []byte) []uint32 {
	t.Helper()
	s := stream(t, data)
	var out []uint32
	buf := make([]uint32, 2)
	for s.Fill(buf) > 0 {
		out = append(out, buf...)
	}
	return out
}

func newDevice(t *testing.T, h hal.HAL, src pcm.Source, chunk int) *Device {
	t.Helper()
	d, err := New(h, src, Config{ChunkSize: chunk, Channel: dma.ChannelLite, Sleep: noSleep})
	require.NoError(t, err)
	require.NoError(t, d.Init())
	return d
}

func newSim(t *testing.T, src pcm.Source, chunk int) (*Device, *sim.SoC) {
	t.Helper()
	soc := sim.New(sim.Config{Record: true})
	return newDevice(t, soc.HAL(nil), src, chunk), soc
}

// run steps the SoC until the device is idle or stops making progress.
func run(t *testing.T, d *Device, soc *sim.SoC, each func()) int {
	t.Helper()
	steps := 0
	for d.IsActive() && steps < 10000 {
		if !soc.Step() {
			break
		}
		steps++
		if each != nil {
			each()
		}
	}
	return steps
}

func assertRing(t *testing.T, p *dma.Pair) {
	t.Helper()
	assert.Equal(t, p.ControlBlockBus(1), p.ControlBlock(0).NextBlock, "cb0 -> cb1")
	assert.Equal(t, p.ControlBlockBus(0), p.ControlBlock(1).NextBlock, "cb1 -> cb0")
}

func terminated(p *dma.Pair) int {
	n := 0
	for id := 0; id < 2; id++ {
		if p.ControlBlock(id).NextBlock == 0 {
			n++
		}
	}
	return n
}

func TestNewComputesRange(t *testing.T) {
	soc := sim.New(sim.Config{})
	d, err := New(soc.HAL(nil), nil, DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, uint32(5669), d.rng)
	assert.Equal(t, uint32(0), d.RangeMin())
	assert.Equal(t, uint32(5668), d.RangeMax())
	assert.Equal(t, d.RangeMax(), d.Range())
	assert.Equal(t, uint32(bcm2835.DMAChannelMax), d.Channel())
	assert.Equal(t, DefaultChunkSize, d.ChunkSize())
	assert.Equal(t, uint32(DefaultSampleRate), d.SampleRate())
	assert.Equal(t, StateIdle, d.State())
}

func TestNewRejectsBadRange(t *testing.T) {
	soc := sim.New(sim.Config{})
	for _, rate := range []uint32{1000000, 3000} {
		_, err := New(soc.HAL(nil), nil, Config{SampleRate: rate})
		assert.ErrorIs(t, err, ErrRange, "rate %d", rate)
	}
	_, err := New(soc.HAL(nil), nil, Config{SampleRate: 8000})
	assert.NoError(t, err)
}

func TestNewRejectsBadChunk(t *testing.T) {
	soc := sim.New(sim.Config{})
	for _, chunk := range []int{-2, 7, 0x4000} {
		_, err := New(soc.HAL(nil), nil, Config{ChunkSize: chunk, Channel: dma.ChannelLite})
		assert.ErrorIs(t, err, ErrChunkSize, "chunk %d", chunk)
	}
	_, err := New(soc.HAL(nil), nil, Config{ChunkSize: 0x4000, Channel: dma.ChannelNormal})
	assert.NoError(t, err, "full DMA engines take longer transfers")

	_, err = New(soc.HAL(nil), nil, Config{ChunkSize: 0x3FFE, Channel: dma.ChannelLite})
	assert.NoError(t, err)
}

func TestNewExplicitChannel(t *testing.T) {
	soc := sim.New(sim.Config{})
	for _, tc := range []struct {
		req  dma.Channel
		want uint32
	}{
		{0, 0},
		{6, 6},
		{12, 12},
		{dma.ChannelNormal, 6},
		{dma.ChannelLite, 12},
	} {
		d, err := New(soc.HAL(nil), nil, Config{Channel: tc.req})
		require.NoError(t, err, "channel %#x", uint32(tc.req))
		assert.Equal(t, tc.want, d.Channel(), "channel %#x", uint32(tc.req))
		assert.Equal(t, bcm2835.IRQForDMAChannel(tc.want), d.irq)
	}
}

func TestExplicitChannelZeroPlays(t *testing.T) {
	data := ramp(20)
	soc := sim.New(sim.Config{Record: true})
	d, err := New(soc.HAL(nil), stream(t, data), Config{ChunkSize: 8, Sleep: noSleep})
	require.NoError(t, err)
	require.NoError(t, d.Init())
	require.Equal(t, uint32(0), d.Channel())

	require.NoError(t, d.Start())
	run(t, d, soc, nil)
	assert.Equal(t, StateIdle, d.State())
	assert.Equal(t, expected(t, data), soc.Output())
	assert.NotZero(t, soc.Read32(bcm2835.DMAEnable)&1)
}

func TestNewRejectsBadChannel(t *testing.T) {
	soc := sim.New(sim.Config{})
	_, err := New(soc.HAL(nil), nil, Config{Channel: 13})
	assert.Error(t, err)
}

func TestInitProgramsHardware(t *testing.T) {
	d, soc := newSim(t, stream(t, nil), 8)

	assert.Equal(t, uint32(5669), soc.Read32(bcm2835.PWMRng1))
	assert.Equal(t, uint32(5669), soc.Read32(bcm2835.PWMRng2))
	assert.Equal(t, bcm2835.PWMCtlPWEN1|bcm2835.PWMCtlUSEF1|bcm2835.PWMCtlPWEN2|bcm2835.PWMCtlUSEF2,
		soc.Read32(bcm2835.PWMCtl))
	assert.NotZero(t, soc.Read32(bcm2835.DMAEnable)&(1<<d.Channel()))
	assert.InDelta(t, 44100, soc.SampleRate(), 2)

	p := d.Pair()
	require.True(t, p.Ready())
	assertRing(t, p)
	cb := p.ControlBlock(0)
	assert.Equal(t, dma.PWMTransferInfo(), cb.TransferInfo)
	assert.Equal(t, bcm2835.IOBusAddress(bcm2835.PWMFif1), cb.DestAddr)
}

func TestShortStreamEndToEnd(t *testing.T) {
	data := ramp(2)
	d, soc := newSim(t, stream(t, data), 8)

	require.NoError(t, d.Start())
	assert.Equal(t, StateTerminating, d.State())
	assert.True(t, d.IsActive())
	assert.Equal(t, uint64(4), d.Stats().Words)

	p := d.Pair()
	assert.Equal(t, uint32(16), p.ControlBlock(0).TransferLen)
	assert.Zero(t, p.ControlBlock(0).NextBlock)
	assert.Zero(t, soc.Read32(bcm2835.DMAChannelNextConbk(d.Channel())))
	assert.Equal(t, dma.OwnerDMA, p.Owner(0))
	assert.Equal(t, dma.OwnerCPU, p.Owner(1))

	require.True(t, soc.Step())
	assert.Equal(t, StateIdle, d.State())
	assert.False(t, d.IsActive())
	assert.False(t, soc.Step())

	assert.Equal(t, expected(t, data), soc.Output())
	assert.Zero(t, soc.Memory().StaleReads())
	assert.Equal(t, uint64(1), d.Stats().Interrupts)
}

// steppingSource runs the DMA engine from inside its second Fill, the way
// a completion interrupt could land while Start is still filling.
type steppingSource struct {
	pcm.Source
	soc     *sim.SoC
	fills   int
	stepped bool
}

func (s *steppingSource) Fill(buf []uint32) int {
	s.fills++
	if s.fills == 2 {
		s.stepped = s.soc.Step()
	}
	return s.Source.Fill(buf)
}

func TestEngineIdleUntilBothSlotsFilled(t *testing.T) {
	for _, frames := range []int{2, 6, 20} {
		data := ramp(frames)
		soc := sim.New(sim.Config{Record: true})
		src := &steppingSource{Source: stream(t, data), soc: soc}
		d := newDevice(t, soc.HAL(nil), src, 8)

		require.NotPanics(t, func() { require.NoError(t, d.Start()) }, "%d frames", frames)
		assert.GreaterOrEqual(t, src.fills, 2)
		assert.False(t, src.stepped, "%d frames: engine ran before activation", frames)
		assert.Empty(t, soc.Output())

		run(t, d, soc, nil)
		assert.Equal(t, StateIdle, d.State(), "%d frames", frames)
		assert.Equal(t, expected(t, data), soc.Output(), "%d frames", frames)
		assert.Zero(t, d.events.Dropped())
	}
}

func TestLongStreamKeepsRing(t *testing.T) {
	data := ramp(20)
	d, soc := newSim(t, stream(t, data), 8)

	require.NoError(t, d.Start())
	assertRing(t, d.Pair())

	steps := run(t, d, soc, func() {
		switch d.State() {
		case StateRunning:
			assertRing(t, d.Pair())
		case StateTerminating:
			assert.Equal(t, 1, terminated(d.Pair()))
		}
	})

	assert.Equal(t, 5, steps)
	assert.Equal(t, StateIdle, d.State())
	assert.Equal(t, expected(t, data), soc.Output())
	assert.Zero(t, soc.Memory().StaleReads())

	st := d.Stats()
	assert.Equal(t, uint64(5), st.Interrupts)
	assert.Equal(t, uint64(5), st.Refills)
	assert.Equal(t, uint64(40), st.Words)
	assert.Zero(t, st.Errors)
}

func TestPartialLastChunk(t *testing.T) {
	data := ramp(11)
	d, soc := newSim(t, stream(t, data), 8)

	require.NoError(t, d.Start())
	run(t, d, soc, nil)

	assert.Equal(t, StateIdle, d.State())
	assert.Equal(t, expected(t, data), soc.Output())
}

func TestCancelStopsAtNextBoundary(t *testing.T) {
	d, soc := newSim(t, stream(t, ramp(400)), 8)

	require.NoError(t, d.Start())
	require.True(t, soc.Step())
	require.Equal(t, StateRunning, d.State())

	d.Cancel()
	assert.Equal(t, StateCancelled, d.State())
	assertRing(t, d.Pair())

	require.True(t, soc.Step())
	assert.Equal(t, StateTerminating, d.State())
	assert.Equal(t, 1, terminated(d.Pair()))

	require.True(t, soc.Step())
	assert.Equal(t, StateIdle, d.State())
	assert.False(t, soc.Step())
	assert.Len(t, soc.Output(), 24)
	assert.NotZero(t, soc.Read32(bcm2835.PWMCtl)&bcm2835.PWMCtlRPTL1)
}

func TestCancelOutsideRunningIsNoop(t *testing.T) {
	d, soc := newSim(t, stream(t, ramp(2)), 8)

	d.Cancel()
	assert.Equal(t, StateIdle, d.State())

	require.NoError(t, d.Start())
	d.Cancel()
	assert.Equal(t, StateTerminating, d.State())

	soc.Step()
	assert.Equal(t, StateIdle, d.State())
}

func TestStartWhileActivePanics(t *testing.T) {
	d, _ := newSim(t, stream(t, ramp(100)), 8)

	require.NoError(t, d.Start())
	assert.Panics(t, func() { _ = d.Start() })
}

func TestStartBeforeInitPanics(t *testing.T) {
	soc := sim.New(sim.Config{})
	d, err := New(soc.HAL(nil), stream(t, ramp(4)), Config{ChunkSize: 8, Channel: dma.ChannelLite, Sleep: noSleep})
	require.NoError(t, err)
	assert.Panics(t, func() { _ = d.Start() })
}

func TestStartWithoutDataStaysIdle(t *testing.T) {
	d, soc := newSim(t, stream(t, nil), 8)

	assert.ErrorIs(t, d.Start(), ErrNoData)
	assert.Equal(t, StateIdle, d.State())
	assert.False(t, soc.IRQ().Connected(bcm2835.IRQForDMAChannel(d.Channel())))
	assert.Zero(t, soc.Read32(bcm2835.DMAChannelCS(d.Channel()))&bcm2835.CSActive)
}

func TestRestartAfterIdle(t *testing.T) {
	d, soc := newSim(t, stream(t, ramp(6)), 8)

	require.NoError(t, d.Start())
	run(t, d, soc, nil)
	require.Equal(t, StateIdle, d.State())

	second := ramp(9)
	require.NoError(t, d.SetSource(stream(t, second)))
	require.NoError(t, d.Start())
	run(t, d, soc, nil)

	assert.Equal(t, StateIdle, d.State())
	want := append(expected(t, ramp(6)), expected(t, second)...)
	assert.Equal(t, want, soc.Output())
}

func TestErrorIsSticky(t *testing.T) {
	d, soc := newSim(t, stream(t, ramp(100)), 8)
	soc.InjectError(d.Channel())

	require.NoError(t, d.Start())
	require.True(t, soc.Step())
	assert.Equal(t, StateError, d.State())
	assert.True(t, d.IsActive())

	soc.RaiseInterrupt(d.Channel())
	assert.Equal(t, StateError, d.State())
	assert.Panics(t, func() { _ = d.Start() })
	assert.ErrorIs(t, d.SetSource(nil), ErrBusy)

	st := d.Stats()
	assert.Equal(t, uint64(2), st.Errors)

	// Init recovers.
	require.NoError(t, d.Init())
	assert.Equal(t, StateIdle, d.State())
	data := ramp(5)
	require.NoError(t, d.SetSource(stream(t, data)))
	require.NoError(t, d.Start())
	run(t, d, soc, nil)
	assert.Equal(t, StateIdle, d.State())
	assert.Equal(t, expected(t, data), soc.Output())
}

func TestInterruptWhileIdlePanics(t *testing.T) {
	d, _ := newSim(t, stream(t, nil), 8)
	assert.Panics(t, func() { d.HandleIRQ(bcm2835.IRQForDMAChannel(d.Channel())) })
}

type nopCache struct{}

func (nopCache) CleanAndInvalidate(uint32, int) {}

type noFlushHAL struct{ hal.HAL }

func (noFlushHAL) Cache() hal.Cache { return nopCache{} }

func TestMissingCacheFlushIsCaught(t *testing.T) {
	soc := sim.New(sim.Config{Record: true})
	d := newDevice(t, noFlushHAL{soc.HAL(nil)}, stream(t, ramp(100)), 8)

	require.NoError(t, d.Start())
	run(t, d, soc, nil)

	assert.NotZero(t, soc.Memory().StaleReads())
	assert.Equal(t, StateError, d.State())
	assert.Empty(t, soc.Output())
}

func TestEventsAreQueuedAndLogged(t *testing.T) {
	log := &testLogger{}
	soc := sim.New(sim.Config{Record: true})
	d := newDevice(t, soc.HAL(log), stream(t, ramp(10)), 8)

	require.NoError(t, d.Start())
	run(t, d, soc, nil)

	var kinds []uint8
	n := d.DrainEvents(func(ev kernel.Event) { kinds = append(kinds, ev.Kind) })
	assert.Equal(t, len(kinds), n)
	assert.Equal(t, []uint8{EventStarted, EventRefill, EventTerminating, EventIdle}, kinds)
	assert.Zero(t, d.DrainEvents(nil))

	require.NoError(t, d.SetSource(stream(t, ramp(2))))
	require.NoError(t, d.Start())
	run(t, d, soc, nil)
	assert.Equal(t, 3, d.LogEvents())

	lines := log.Lines()
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0], "range 5669")
	assert.Contains(t, lines[len(lines)-1], "idle")
}

func TestCloseReleasesHardware(t *testing.T) {
	d, soc := newSim(t, stream(t, ramp(100)), 8)

	require.NoError(t, d.Start())
	assert.ErrorIs(t, d.Close(), ErrBusy)

	d.Cancel()
	run(t, d, soc, nil)
	require.Equal(t, StateIdle, d.State())

	require.NoError(t, d.Close())
	assert.Zero(t, soc.Read32(bcm2835.DMAEnable)&(1<<d.Channel()))
	assert.Zero(t, soc.Read32(bcm2835.CMPWMCtl)&bcm2835.CMCtlEnable)
	assert.Zero(t, soc.Read32(bcm2835.PWMCtl))
	assert.False(t, soc.IRQ().Connected(bcm2835.IRQForDMAChannel(d.Channel())))
	assert.False(t, d.Pair().Ready())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "terminating", StateTerminating.String())
	assert.Equal(t, "state(9)", State(9).String())
	assert.Equal(t, "refill", EventName(EventRefill))
}
