package chassis

import (
	"testing"
	"time"
)

// fakeStatusPin toggles its reported state whenever fakePowerPin presses
// it, simulating a real chassis that actually turns on/off in response
// to a button press.
type fakeStatusPin struct {
	on bool
}

func (f *fakeStatusPin) Setup() error                  { return nil }
func (f *fakeStatusPin) SetValue(v bool) (bool, error) { f.on = v; return v, nil }
func (f *fakeStatusPin) GetValue() (bool, error)       { return f.on, nil }

// fakePowerPin flips the shared status on every press and records the
// order presses happened in, so tests can assert Cycle runs off-then-on
// sequentially rather than racing the two presses.
type fakePowerPin struct {
	status *fakeStatusPin
	events *[]string
	label  string
}

func (f *fakePowerPin) Setup() error { return nil }
func (f *fakePowerPin) SetValue(v bool) (bool, error) {
	if v { // the press is SetValue(true); the release does not flip state
		*f.events = append(*f.events, f.label+":press")
		f.status.on = !f.status.on
	}
	return v, nil
}
func (f *fakePowerPin) GetValue() (bool, error) { return false, nil }

// fakeResetPin records presses without affecting power state, matching
// real reset-button hardware (it pulses the reset line, it does not cut
// power).
type fakeResetPin struct {
	events *[]string
}

func (f *fakeResetPin) Setup() error { return nil }
func (f *fakeResetPin) SetValue(v bool) (bool, error) {
	if v {
		*f.events = append(*f.events, "reset:press")
	}
	return v, nil
}
func (f *fakeResetPin) GetValue() (bool, error) { return false, nil }

func newTestDefault(initiallyOn bool) (*Default, *fakeStatusPin) {
	status := &fakeStatusPin{on: initiallyOn}
	events := &[]string{}
	d := New(PinSet{
		Status: status,
		Power:  &fakePowerPin{status: status, events: events, label: "power"},
	}, Durations{PowerOffPress: time.Millisecond, PowerOnPress: time.Millisecond})
	return d, status
}

func TestPowerOffNoopWhenAlreadyOff(t *testing.T) {
	d, status := newTestDefault(false)
	if err := d.PowerOff(); err != nil {
		t.Fatalf("PowerOff on an already-off chassis should be a no-op, got error: %v", err)
	}
	if status.on {
		t.Fatal("status flipped even though PowerOff should have been a no-op")
	}
}

func TestPowerOnPressesWhenOff(t *testing.T) {
	d, status := newTestDefault(false)
	if err := d.PowerOn(); err != nil {
		t.Fatalf("PowerOn failed: %v", err)
	}
	if !status.on {
		t.Fatal("expected chassis to report on after PowerOn")
	}
}

// TestCycleCompletesPowerOffBeforePowerOn locks in the fix for the
// source's missing-await bug: PowerOff's full press-and-settle must
// finish before PowerOn begins, not race it.
func TestCycleCompletesPowerOffBeforePowerOn(t *testing.T) {
	status := &fakeStatusPin{on: true}
	events := []string{}
	d := New(PinSet{
		Status: status,
		Power:  &fakePowerPin{status: status, events: &events, label: "power"},
	}, Durations{PowerOffPress: 5 * time.Millisecond, PowerOnPress: time.Millisecond,
		CycleOffPress: 5 * time.Millisecond, CycleWait: time.Millisecond, CycleOnPress: time.Millisecond})

	if err := d.Cycle(); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if len(events) != 2 || events[0] != "power:press" || events[1] != "power:press" {
		t.Fatalf("expected two sequential power presses, got %v", events)
	}
	if !status.on {
		t.Fatal("chassis should be on after a cycle")
	}
}

// TestCycleUsesItsOwnDurationsNotPlainOnOff locks in the fix for the
// directive-2 regression: Cycle must press with CycleOffPress/
// CycleOnPress and sleep CycleWait between them, not reuse
// PowerOffPress/PowerOnPress (which here are set far larger, so a
// regression back to the plain durations blows well past the
// CycleWait-sized deadline).
func TestCycleUsesItsOwnDurationsNotPlainOnOff(t *testing.T) {
	status := &fakeStatusPin{on: true}
	events := []string{}
	d := New(PinSet{
		Status: status,
		Power:  &fakePowerPin{status: status, events: &events, label: "power"},
	}, Durations{
		PowerOffPress: time.Hour, PowerOnPress: time.Hour,
		CycleOffPress: time.Millisecond, CycleWait: 5 * time.Millisecond, CycleOnPress: time.Millisecond,
	})

	start := time.Now()
	if err := d.Cycle(); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed > 100*time.Millisecond {
		t.Fatalf("Cycle took %v, which means it used PowerOffPress/PowerOnPress (1h) instead of the cycle-specific durations", elapsed)
	}
	if elapsed < 5*time.Millisecond {
		t.Fatalf("Cycle took only %v, expected at least CycleWait (5ms) to have elapsed between presses", elapsed)
	}
}

func TestResetFallsBackToCycleWhenUnwired(t *testing.T) {
	d, status := newTestDefault(true)
	if err := d.Reset(); err != nil {
		t.Fatalf("Reset (falling back to cycle) failed: %v", err)
	}
	if !status.on {
		t.Fatal("chassis should be back on after reset-as-cycle")
	}
}

func TestResetPressesResetPinWhenWired(t *testing.T) {
	status := &fakeStatusPin{on: true}
	events := []string{}
	d := New(PinSet{
		Status: status,
		Power:  &fakePowerPin{status: status, events: &events, label: "power"},
		Reset:  &fakeResetPin{events: &events},
	}, Durations{ResetPress: time.Millisecond})

	if err := d.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if len(events) != 1 || events[0] != "reset:press" {
		t.Fatalf("expected exactly one reset-pin press, got %v", events)
	}
}

func TestShutdownNoopWhenAlreadyOff(t *testing.T) {
	d, _ := newTestDefault(false)
	if err := d.Shutdown(); err != nil {
		t.Fatalf("Shutdown on an already-off chassis should be a no-op: %v", err)
	}
}

func TestShutdownPressesThenWaits(t *testing.T) {
	d, status := newTestDefault(true)
	d.Durations.ShutdownWait = time.Millisecond
	if err := d.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if status.on {
		t.Fatal("chassis should be off after shutdown")
	}
}
