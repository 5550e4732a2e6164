package bcm2835

// Interrupt controller.
const (
	ICBase     = IOBase + 0xB200
	ICPending1 = ICBase + 0x04
	ICEnable1  = ICBase + 0x10
	ICDisable1 = ICBase + 0x1C

	IRQDMA0 = 16
)

// IRQForDMAChannel returns the GPU interrupt line raised by a DMA channel.
func IRQForDMAChannel(ch uint32) int { return IRQDMA0 + int(ch) }

// PL011 UART0, used for the bare-metal log.
const (
	UART0Base = IOBase + 0x201000
	UART0DR   = UART0Base + 0x00
	UART0FR   = UART0Base + 0x18

	UARTFRTXFF uint32 = 1 << 5
)
