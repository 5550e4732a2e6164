package bcm2835

// Clock manager, PWM clock pair.
const (
	CMBase   = IOBase + 0x101000
	CMPWMCtl = CMBase + 0xA0
	CMPWMDiv = CMBase + 0xA4

	CMPassword uint32 = 0x5A << 24

	CMCtlEnable uint32 = 1 << 4
	CMCtlKill   uint32 = 1 << 5
	CMCtlBusy   uint32 = 1 << 7

	CMDivIShift = 12
)

// ClockSource selects the clock manager input.
type ClockSource uint32

const (
	ClockSourceOscillator ClockSource = 1
	ClockSourcePLLD       ClockSource = 6
)

// PLLDFreq is the PLLD output feeding the PWM clock, in Hz.
const PLLDFreq uint32 = 500000000

// CMDivI encodes an integer divider.
func CMDivI(div uint32) uint32 { return (div & 0xFFF) << CMDivIShift }
