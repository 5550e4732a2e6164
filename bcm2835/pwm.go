package bcm2835

// PWM block.
const (
	PWMBase = IOBase + 0x20C000

	PWMCtl  = PWMBase + 0x00
	PWMSta  = PWMBase + 0x04
	PWMDMAC = PWMBase + 0x08
	PWMRng1 = PWMBase + 0x10
	PWMDat1 = PWMBase + 0x14
	PWMFif1 = PWMBase + 0x18
	PWMRng2 = PWMBase + 0x20
	PWMDat2 = PWMBase + 0x24
)

// PWM CTL bits.
const (
	PWMCtlPWEN1 uint32 = 1 << 0
	PWMCtlMODE1 uint32 = 1 << 1
	PWMCtlRPTL1 uint32 = 1 << 2
	PWMCtlSBIT1 uint32 = 1 << 3
	PWMCtlPOLA1 uint32 = 1 << 4
	PWMCtlUSEF1 uint32 = 1 << 5
	PWMCtlCLRF1 uint32 = 1 << 6
	PWMCtlMSEN1 uint32 = 1 << 7
	PWMCtlPWEN2 uint32 = 1 << 8
	PWMCtlMODE2 uint32 = 1 << 9
	PWMCtlRPTL2 uint32 = 1 << 10
	PWMCtlSBIT2 uint32 = 1 << 11
	PWMCtlPOLA2 uint32 = 1 << 12
	PWMCtlUSEF2 uint32 = 1 << 13
	PWMCtlMSEN2 uint32 = 1 << 15
)

// PWM DMAC bits.
const (
	PWMDMACEnable     uint32 = 1 << 31
	PWMDMACPanicShift        = 8
	PWMDMACDREQShift         = 0
)

// PWM STA bits.
const (
	PWMStaFull1  uint32 = 1 << 0
	PWMStaEmpty1 uint32 = 1 << 1
	PWMStaBerr   uint32 = 1 << 8
)
