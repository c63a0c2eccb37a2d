package pin

import "testing"

// LocalGPIOPin's Setup() touches real hardware via periph.io, so these
// tests stay within the parts of its contract that don't require a GPIO
// header: the PIN_UNWIRED short-circuit and the not-yet-set-up guard on
// writeLogicLevel/readLogicLevel.

func TestLocalGPIOPinSetupNoopWhenUnwired(t *testing.T) {
	p := NewLocalGPIOPin(nil, "GPIO2", true, false, false)
	if err := p.Setup(); err != nil {
		t.Fatalf("Setup on an unwired pin should be a no-op, got: %v", err)
	}
}

func TestLocalGPIOPinSetValueUnwiredReturnsError(t *testing.T) {
	p := NewLocalGPIOPin(nil, "GPIO2", true, false, false)
	if _, err := p.SetValue(true); err == nil {
		t.Fatal("expected ErrUnwired for an unwired pin")
	}
}

func TestLocalGPIOPinWriteBeforeSetupFails(t *testing.T) {
	idx := 2
	p := NewLocalGPIOPin(&idx, "GPIO2", true, false, false)
	// Setup() was never called, so p.gp is nil.
	if _, err := p.SetValue(true); err == nil {
		t.Fatal("expected an error writing to a pin that was never set up")
	}
}

func TestLocalGPIOPinReadBeforeSetupFails(t *testing.T) {
	idx := 2
	p := NewLocalGPIOPin(&idx, "GPIO2", false, false, false)
	if _, err := p.GetValue(); err == nil {
		t.Fatal("expected an error reading from a pin that was never set up")
	}
}
