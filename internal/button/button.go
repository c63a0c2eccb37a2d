// Package button implements the logical momentary-press abstraction on
// top of a pin.Driver, per spec §4.3's Button and
// original_source/buttonbmc.py.
package button

import (
	"time"

	"github.com/glennswest/ipmi-bmc-emulator/internal/pin"
)

type Button struct {
	Pin pin.Driver
}

func New(p pin.Driver) *Button {
	return &Button{Pin: p}
}

// Press sets the pin true, sleeps duration, then sets it false.
func (b *Button) Press(duration time.Duration) error {
	if _, err := b.Pin.SetValue(true); err != nil {
		return err
	}
	time.Sleep(duration)
	_, err := b.Pin.SetValue(false)
	return err
}

// Toggle is symmetric around the pin's current value.
func (b *Button) Toggle(duration time.Duration, current bool) error {
	if _, err := b.Pin.SetValue(!current); err != nil {
		return err
	}
	time.Sleep(duration)
	_, err := b.Pin.SetValue(current)
	return err
}
