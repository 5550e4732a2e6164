package hal

import (
	"fmt"
	"time"

	"sndpwm/bcm2835"
)

// busyPolls bounds the wait for the clock manager BUSY flag.
const busyPolls = 100000

type cmPWMClock struct {
	bus   Bus
	sleep func(time.Duration)
}

// NewPWMClock drives the PWM clock through the clock manager registers.
// sleep may be nil.
func NewPWMClock(bus Bus, sleep func(time.Duration)) PWMClock {
	if sleep == nil {
		sleep = func(time.Duration) {}
	}
	return &cmPWMClock{bus: bus, sleep: sleep}
}

func (c *cmPWMClock) waitIdle() error {
	for i := 0; i < busyPolls; i++ {
		if c.bus.Read32(bcm2835.CMPWMCtl)&bcm2835.CMCtlBusy == 0 {
			return nil
		}
		c.sleep(time.Microsecond)
	}
	return fmt.Errorf("pwm clock: busy after %d polls", busyPolls)
}

func (c *cmPWMClock) Start(divider uint32) error {
	if divider == 0 || divider > 0xFFF {
		return fmt.Errorf("pwm clock: invalid divider %d", divider)
	}
	if err := c.Stop(); err != nil {
		return err
	}
	src := uint32(bcm2835.ClockSourcePLLD)
	c.bus.Write32(bcm2835.CMPWMDiv, bcm2835.CMPassword|bcm2835.CMDivI(divider))
	c.bus.Write32(bcm2835.CMPWMCtl, bcm2835.CMPassword|src)
	c.bus.Write32(bcm2835.CMPWMCtl, bcm2835.CMPassword|src|bcm2835.CMCtlEnable)
	for i := 0; i < busyPolls; i++ {
		if c.bus.Read32(bcm2835.CMPWMCtl)&bcm2835.CMCtlBusy != 0 {
			return nil
		}
		c.sleep(time.Microsecond)
	}
	return fmt.Errorf("pwm clock: not running after %d polls", busyPolls)
}

func (c *cmPWMClock) Stop() error {
	ctl := c.bus.Read32(bcm2835.CMPWMCtl)
	c.bus.Write32(bcm2835.CMPWMCtl, bcm2835.CMPassword|(ctl&0xF))
	return c.waitIdle()
}
