package dma

import (
	"fmt"

	"sndpwm/bcm2835"
)

// Channel selects a DMA engine: an explicit index 0..12, or one of the
// ChannelNormal / ChannelLite requests.
type Channel uint32

const (
	ChannelNormal Channel = bcm2835.DMAChannelNormal
	ChannelLite   Channel = bcm2835.DMAChannelLite
)

// normalChannel is the fixed engine handed out for ChannelNormal.
const normalChannel = 6

// Allocate resolves a channel request to an engine index.
//
// This is a fixed assignment, not an allocator: two devices asking for the
// same kind of channel get the same engine.
func Allocate(c Channel) (uint32, error) {
	switch {
	case uint32(c)&^bcm2835.DMAChannelMask == 0:
		if uint32(c) > bcm2835.DMAChannelMax {
			return 0, fmt.Errorf("dma: channel %d out of range 0..%d", c, bcm2835.DMAChannelMax)
		}
		return uint32(c), nil
	case c == ChannelNormal:
		return normalChannel, nil
	case c == ChannelLite:
		return bcm2835.DMAChannelMax, nil
	default:
		return 0, fmt.Errorf("dma: invalid channel request %#x", uint32(c))
	}
}

// MaxTransferLen returns the transfer length limit of an engine in bytes.
func MaxTransferLen(ch uint32) uint32 {
	if bcm2835.IsLiteChannel(ch) {
		return bcm2835.TxfrLenMaxLite
	}
	return bcm2835.TxfrLenMax
}
