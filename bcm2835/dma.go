package bcm2835

// DMA controller block.
const (
	DMABase      = IOBase + 0x7000
	DMAIntStatus = DMABase + 0xFE0
	DMAEnable    = DMABase + 0xFF0

	dmaChannelStride = 0x100
)

// Channel numbers. Channels 7..14 are "lite" engines with a 64 KiB transfer
// limit; 15 lives in a separate block and is not used here.
const (
	DMAChannelMax = 12

	DMAChannelMask   = 0x0F
	DMAChannelNormal = 0x10
	DMAChannelLite   = 0x11
)

// DMA channel register offsets inside a channel block.
const (
	DMARegCS        = 0x00
	DMARegConblkAd  = 0x04
	DMARegTI        = 0x08
	DMARegSourceAd  = 0x0C
	DMARegDestAd    = 0x10
	DMARegTxfrLen   = 0x14
	DMARegStride    = 0x18
	DMARegNextConbk = 0x1C
	DMARegDebug     = 0x20
)

func dmaChannel(ch uint32) uint32 { return DMABase + ch*dmaChannelStride }

func DMAChannelCS(ch uint32) uint32        { return dmaChannel(ch) + DMARegCS }
func DMAChannelConblkAd(ch uint32) uint32  { return dmaChannel(ch) + DMARegConblkAd }
func DMAChannelTI(ch uint32) uint32        { return dmaChannel(ch) + DMARegTI }
func DMAChannelSourceAd(ch uint32) uint32  { return dmaChannel(ch) + DMARegSourceAd }
func DMAChannelDestAd(ch uint32) uint32    { return dmaChannel(ch) + DMARegDestAd }
func DMAChannelTxfrLen(ch uint32) uint32   { return dmaChannel(ch) + DMARegTxfrLen }
func DMAChannelStride(ch uint32) uint32    { return dmaChannel(ch) + DMARegStride }
func DMAChannelNextConbk(ch uint32) uint32 { return dmaChannel(ch) + DMARegNextConbk }
func DMAChannelDebug(ch uint32) uint32     { return dmaChannel(ch) + DMARegDebug }

// DMAChannelOf returns the channel owning a channel register address and the
// register offset inside the channel block. ok is false outside the block.
func DMAChannelOf(addr uint32) (ch, off uint32, ok bool) {
	if addr < DMABase || addr >= DMABase+15*dmaChannelStride {
		return 0, 0, false
	}
	rel := addr - DMABase
	return rel / dmaChannelStride, rel % dmaChannelStride, true
}

// Control/status register bits.
const (
	CSReset                    uint32 = 1 << 31
	CSAbort                    uint32 = 1 << 30
	CSDisableDebug             uint32 = 1 << 29
	CSWaitForOutstandingWrites uint32 = 1 << 28
	CSPanicPriorityShift              = 20
	CSPriorityShift                   = 16
	CSError                    uint32 = 1 << 8
	CSWaitingForWrites         uint32 = 1 << 6
	CSDREQStopsDMA             uint32 = 1 << 5
	CSPaused                   uint32 = 1 << 4
	CSDREQ                     uint32 = 1 << 3
	CSInt                      uint32 = 1 << 2
	CSEnd                      uint32 = 1 << 1
	CSActive                   uint32 = 1 << 0

	DefaultPriority      uint32 = 1
	DefaultPanicPriority uint32 = 15
)

// Transfer information bits.
const (
	TINoWideBursts     uint32 = 1 << 26
	TIPermapShift             = 16
	TIBurstLengthShift        = 12
	TISrcIgnore        uint32 = 1 << 11
	TISrcDREQ          uint32 = 1 << 10
	TISrcWidth         uint32 = 1 << 9
	TISrcInc           uint32 = 1 << 8
	TIDestIgnore       uint32 = 1 << 7
	TIDestDREQ         uint32 = 1 << 6
	TIDestWidth        uint32 = 1 << 5
	TIDestInc          uint32 = 1 << 4
	TIWaitResp         uint32 = 1 << 3
	TITDMode           uint32 = 1 << 1
	TIIntEnable        uint32 = 1 << 0

	DefaultBurstLength uint32 = 0
)

// DREQ is a peripheral data request line selectable through TI.PERMAP.
type DREQ uint32

const (
	DREQNone   DREQ = 0
	DREQPCMTX  DREQ = 2
	DREQPCMRX  DREQ = 3
	DREQPWM    DREQ = 5
	DREQSPITX  DREQ = 6
	DREQSPIRX  DREQ = 7
	DREQEMMC   DREQ = 11
	DREQUARTTX DREQ = 12
	DREQUARTRX DREQ = 14
)

const permapWidth = 0x1F

// TIPermap encodes a DREQ into the TI register.
func TIPermap(d DREQ) uint32 { return (uint32(d) & permapWidth) << TIPermapShift }

// Transfer length limits.
const (
	TxfrLenMax     uint32 = 0x3FFFFFFF
	TxfrLenMaxLite uint32 = 0xFFFF
)

// IsLiteChannel reports whether ch is one of the reduced "lite" engines.
func IsLiteChannel(ch uint32) bool { return ch >= 7 && ch <= 14 }
