// Package dma builds the pair of chained BCM2835 DMA control blocks and
// sample buffers that feed the PWM FIFO.
package dma

import (
	"encoding/binary"
	"fmt"

	"sndpwm/bcm2835"
)

// ControlBlockSize is the hardware size of a control block in bytes; it is
// also the required alignment.
const ControlBlockSize = 32

// ControlBlock mirrors the hardware record the DMA engine fetches.
type ControlBlock struct {
	TransferInfo uint32
	SourceAddr   uint32
	DestAddr     uint32
	TransferLen  uint32
	Stride       uint32
	NextBlock    uint32
	Reserved     [2]uint32
}

// Field offsets inside the encoded block.
const (
	offTransferInfo = 0x00
	offSourceAddr   = 0x04
	offDestAddr     = 0x08
	offTransferLen  = 0x0C
	offStride       = 0x10
	offNextBlock    = 0x14
	offReserved     = 0x18
)

// Encode writes cb little-endian into b.
func (cb *ControlBlock) Encode(b []byte) {
	_ = b[ControlBlockSize-1]
	binary.LittleEndian.PutUint32(b[offTransferInfo:], cb.TransferInfo)
	binary.LittleEndian.PutUint32(b[offSourceAddr:], cb.SourceAddr)
	binary.LittleEndian.PutUint32(b[offDestAddr:], cb.DestAddr)
	binary.LittleEndian.PutUint32(b[offTransferLen:], cb.TransferLen)
	binary.LittleEndian.PutUint32(b[offStride:], cb.Stride)
	binary.LittleEndian.PutUint32(b[offNextBlock:], cb.NextBlock)
	binary.LittleEndian.PutUint32(b[offReserved:], cb.Reserved[0])
	binary.LittleEndian.PutUint32(b[offReserved+4:], cb.Reserved[1])
}

// DecodeControlBlock reads a control block from b.
func DecodeControlBlock(b []byte) ControlBlock {
	_ = b[ControlBlockSize-1]
	return ControlBlock{
		TransferInfo: binary.LittleEndian.Uint32(b[offTransferInfo:]),
		SourceAddr:   binary.LittleEndian.Uint32(b[offSourceAddr:]),
		DestAddr:     binary.LittleEndian.Uint32(b[offDestAddr:]),
		TransferLen:  binary.LittleEndian.Uint32(b[offTransferLen:]),
		Stride:       binary.LittleEndian.Uint32(b[offStride:]),
		NextBlock:    binary.LittleEndian.Uint32(b[offNextBlock:]),
		Reserved: [2]uint32{
			binary.LittleEndian.Uint32(b[offReserved:]),
			binary.LittleEndian.Uint32(b[offReserved+4:]),
		},
	}
}

// PWMTransferInfo is the TI word for paced word writes into the PWM FIFO.
func PWMTransferInfo() uint32 {
	return bcm2835.TIPermap(bcm2835.DREQPWM) |
		bcm2835.DefaultBurstLength<<bcm2835.TIBurstLengthShift |
		bcm2835.TISrcWidth |
		bcm2835.TISrcInc |
		bcm2835.TIDestDREQ |
		bcm2835.TIWaitResp |
		bcm2835.TIIntEnable
}

// String is used by the simulator's trace output.
func (cb ControlBlock) String() string {
	return fmt.Sprintf("cb{ti=%08x src=%08x dst=%08x len=%d next=%08x}",
		cb.TransferInfo, cb.SourceAddr, cb.DestAddr, cb.TransferLen, cb.NextBlock)
}
