package pin

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// hostInitialized guards periph.io's process-wide host.Init(), which
// must run exactly once before any gpioreg lookup.
var hostInitialized bool

func ensureHost() error {
	if hostInitialized {
		return nil
	}
	if _, err := host.Init(); err != nil {
		return err
	}
	hostInitialized = true
	return nil
}

// LocalGPIOPin drives a pin on the host's own GPIO header via periph.io,
// replacing original_source/pibmc.py's direct RPi.GPIO calls. No
// validation round-trip, per spec §4.3.2.
type LocalGPIOPin struct {
	Base
	pinName string
	gp      gpio.PinIO
}

// NewLocalGPIOPin takes a periph.io pin name (e.g. "GPIO2"); index is
// retained only to drive the Valid()/PIN_UNWIRED contract shared with
// other pin kinds.
func NewLocalGPIOPin(index *int, pinName string, isOutput bool, initial bool, invertLogic bool) *LocalGPIOPin {
	return &LocalGPIOPin{
		Base:    NewBase(index, isOutput, initial, invertLogic),
		pinName: pinName,
	}
}

func (p *LocalGPIOPin) Setup() error {
	if !p.Valid() {
		return nil
	}
	if err := ensureHost(); err != nil {
		return fmt.Errorf("gpio host init: %w", err)
	}
	p.gp = gpioreg.ByName(p.pinName)
	if p.gp == nil {
		return fmt.Errorf("gpio pin %s not found", p.pinName)
	}
	if p.IsOutput {
		return p.gp.Out(toLevel(p.LogicLevel()))
	}
	return p.gp.In(gpio.PullNoChange, gpio.NoEdge)
}

func toLevel(b bool) gpio.Level { return gpio.Level(b) }

func (p *LocalGPIOPin) writeLogicLevel() error {
	if p.gp == nil {
		return fmt.Errorf("gpio pin %s not set up", p.pinName)
	}
	return p.gp.Out(toLevel(p.LogicLevel()))
}

func (p *LocalGPIOPin) readLogicLevel() (bool, error) {
	if p.gp == nil {
		return false, fmt.Errorf("gpio pin %s not set up", p.pinName)
	}
	return bool(p.gp.Read()), nil
}

func (p *LocalGPIOPin) SetValue(v bool) (bool, error) {
	return p.Apply(v, p.writeLogicLevel)
}

func (p *LocalGPIOPin) GetValue() (bool, error) {
	return p.Read(p.readLogicLevel)
}
