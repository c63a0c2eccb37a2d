package sol

import (
	"sync"
	"time"
)

// BootEvent records one observed boot cycle for a chassis, detected from
// its SOL stream. Adapted from the teacher's sol/analytics.go BootEvent,
// trimmed to the fields meaningful for a chassis emulator rather than a
// fleet of real servers (no OS/network-interface detection, since this
// system never parses host OS output beyond the BIOS reboot banner).
type BootEvent struct {
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime,omitempty"`
	BootDuration float64   `json:"bootDuration,omitempty"` // seconds
	Complete     bool      `json:"complete"`
}

// ChassisAnalytics tracks reboot history for one chassis, grounded on
// the teacher's ServerAnalytics, supplementing spec's chassis state
// machine (which only tracks instantaneous power state) with the boot
// history an operator dashboard wants — see SPEC_FULL.md's
// "Supplemented features".
type ChassisAnalytics struct {
	mu           sync.Mutex
	name         string
	detector     *RebootDetector
	current      *BootEvent
	history      []BootEvent
	totalReboots int
}

func NewChassisAnalytics(name string, detector *RebootDetector) *ChassisAnalytics {
	return &ChassisAnalytics{name: name, detector: detector}
}

// Observe feeds one chunk of SOL output through the reboot detector;
// call it from the pump's forward path.
func (a *ChassisAnalytics) Observe(chunk []byte) {
	if !a.detector.Check(string(chunk)) {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current != nil {
		return // already tracking this boot
	}
	a.current = &BootEvent{StartTime: time.Now()}
	a.totalReboots++
}

// MarkOSUp closes out the current boot event once the managed host is
// believed to have finished booting (e.g. the chassis policy reports
// power state stable and no further BIOS banners have been seen).
func (a *ChassisAnalytics) MarkOSUp(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return
	}
	a.current.EndTime = now
	a.current.BootDuration = now.Sub(a.current.StartTime).Seconds()
	a.current.Complete = true
	a.history = append(a.history, *a.current)
	a.current = nil
}

func (a *ChassisAnalytics) Snapshot() (current *BootEvent, history []BootEvent, totalReboots int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current, append([]BootEvent(nil), a.history...), a.totalReboots
}
