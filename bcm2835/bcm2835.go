// Package bcm2835 describes the DMA, PWM, clock manager and interrupt
// controller register blocks of the BCM2835 as seen from the ARM core.
//
// Everything here is address arithmetic and bit layouts; access goes through
// hal.Bus so the same code drives the real SoC and the simulator.
package bcm2835

const (
	// IOBase is the ARM physical address of the peripheral window.
	IOBase uint32 = 0x20000000
	// GPUIOBase is the same window as addressed by bus masters (DMA).
	GPUIOBase uint32 = 0x7E000000
	// GPUMemBase is the L2-cached SDRAM alias used by the DMA engine.
	GPUMemBase uint32 = 0x40000000

	busAliasMask uint32 = 0xC0000000
)

// BusAddress translates an ARM physical SDRAM address into the alias the DMA
// engine uses.
func BusAddress(addr uint32) uint32 {
	return (addr &^ busAliasMask) | GPUMemBase
}

// PhysAddress is the inverse of BusAddress.
func PhysAddress(bus uint32) uint32 {
	return bus &^ busAliasMask
}

// IOBusAddress translates an ARM peripheral address into the bus alias.
func IOBusAddress(addr uint32) uint32 {
	return (addr & 0xFFFFFF) + GPUIOBase
}

// IOPhysAddress is the inverse of IOBusAddress.
func IOPhysAddress(bus uint32) uint32 {
	return (bus & 0xFFFFFF) + IOBase
}
