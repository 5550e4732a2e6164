//go:build tinygo && baremetal

package hal

import (
	"time"

	"tinygo.org/x/drivers/delay"
)

// delaySleep busy-waits.
func delaySleep(d time.Duration) { delay.Sleep(d) }

// Sleep is the settle-delay function for bare-metal device configuration.
func Sleep(d time.Duration) { delaySleep(d) }
