// Package bmc implements the per-target IPMI dispatcher (spec §4.5), its
// session response cache (spec §3 ResponseCache, Invariant #1), and the
// IPMB Master-Read-Write bridge (spec §4.7), wrapping
// github.com/ooneko/goipmi's synchronous Simulator/Handler contract —
// see DESIGN.md's "goipmi adapter design" for why this library's
// synchronous model is a good fit here, and the dispatch decisions this
// entails.
package bmc

import (
	"context"
	"fmt"
	"sync"

	goipmi "github.com/ooneko/goipmi"
	log "github.com/sirupsen/logrus"

	"github.com/glennswest/ipmi-bmc-emulator/internal/chassis"
	"github.com/glennswest/ipmi-bmc-emulator/internal/pin"
	"github.com/glennswest/ipmi-bmc-emulator/internal/sol"
	"github.com/glennswest/ipmi-bmc-emulator/internal/telnetchan"
)

// netFn/cmd constants not already exposed by goipmi (cold reset, SOL
// activate/deactivate, IPMB bridging) — numbered per spec §4.5/§4.7 and
// the netFn decision recorded in DESIGN.md (App = 0x06, never 0x18).
const (
	cmdColdReset         = 0x02
	cmdActivatePayload   = 0x48
	cmdDeactivatePayload = 0x49
	cmdMasterWriteRead   = 0x34
	cmdGetDeviceID       = 0x01
)

// Directive is the IPMI chassis-control sub-command carried in
// ChassisControlRequest data[0], spec §4.4.
type Directive byte

const (
	DirectivePowerOff Directive = 0
	DirectivePowerOn  Directive = 1
	DirectiveCycle    Directive = 2
	DirectiveReset    Directive = 3
	DirectiveDiag     Directive = 4
	DirectiveShutdown Directive = 5
)

// VirtualBMC is spec §3's "Virtual BMC": a named target keyed by a
// 1-byte IPMB address, holding its chassis policy, telnet channels, SOL
// pump, and response cache.
type VirtualBMC struct {
	Name       string
	IPMBAddr   byte
	BootDevice string

	Policy  chassis.Policy
	Control *telnetchan.Channel // GPIO/UIB command channel
	UART    *telnetchan.Channel // managed host's serial console

	// SerialBridge reconciles the Universal-IO-Bridge's UART config
	// (spec §4.3.1) over Control before the UART channel above is ever
	// connected for SOL. Nil for targets that have no serial bridge to
	// configure (e.g. local-gpio).
	SerialBridge *pin.UARTBridge

	Analytics  *sol.ChassisAnalytics
	Transcript sol.Transcript // optional console transcript writer

	console *console

	log *log.Entry

	mu        sync.Mutex
	pump      *sol.Pump
	activated bool

	cacheMu sync.Mutex
	cache   map[cacheKey]*cacheEntry
}

type cacheKey struct {
	sessionID uint32
	sequence  uint32
}

type cacheEntry struct {
	done chan struct{}
	resp goipmi.Response
}

func New(name string, addr byte, policy chassis.Policy, control, uart *telnetchan.Channel, bootDevice string) *VirtualBMC {
	return &VirtualBMC{
		Name:       name,
		IPMBAddr:   addr,
		BootDevice: bootDevice,
		Policy:     policy,
		Control:    control,
		UART:       uart,
		Analytics:  sol.NewChassisAnalytics(name, sol.NewRebootDetector(nil)),
		console:    newConsole(),
		log:        log.WithField("bmc", name),
		cache:      make(map[cacheKey]*cacheEntry),
	}
}

// SubscribeConsole returns a channel of live SOL bytes plus a catchup
// snapshot of the current screen state, for the HTTP status surface's
// SSE stream. Call Unsubscribe(ch) when the client disconnects.
func (b *VirtualBMC) SubscribeConsole() (ch chan []byte, catchup []byte) {
	return b.console.Subscribe(), b.console.Catchup()
}

func (b *VirtualBMC) UnsubscribeConsole(ch chan []byte) {
	b.console.Unsubscribe(ch)
}

// Setup (re-)establishes the control channel. Invoked once at startup
// and again on Cold Reset (spec §4.5, §5 "Setup on cold reset") — unlike
// the source's historical sys.exit(0), this never tears down the
// process (see DESIGN.md Open Question #4).
func (b *VirtualBMC) Setup() {
	if b.Control != nil {
		b.Control.Connect()
	}
	if b.SerialBridge != nil {
		if err := b.SerialBridge.Setup(); err != nil {
			b.log.Warnf("serial bridge setup: %v", err)
		}
	}
}

// dedup wraps a raw handler with the per-session at-most-once response
// cache of spec §4.5 / Invariant #1. Because goipmi's Simulator calls
// handlers synchronously and expects a Response back from the call, a
// duplicate seen while the original is still executing blocks until
// that original completes and then replays its exact Response — this
// achieves "byte-identical replay" (and the at-most-once execution
// guarantee) without requiring the handler contract to support
// withholding a reply, which goipmi's API has no hook for. See
// DESIGN.md Open Question #2.
func (b *VirtualBMC) dedup(handler func(*goipmi.Message) goipmi.Response) func(*goipmi.Message) goipmi.Response {
	return func(m *goipmi.Message) goipmi.Response {
		key := cacheKey{sessionID: m.SessionID, sequence: m.Sequence}

		b.cacheMu.Lock()
		if entry, ok := b.cache[key]; ok {
			b.cacheMu.Unlock()
			<-entry.done
			return entry.resp
		}
		entry := &cacheEntry{done: make(chan struct{})}
		b.cache[key] = entry
		b.cacheMu.Unlock()

		resp := handler(m)

		entry.resp = resp
		close(entry.done)
		return resp
	}
}

// HandleChassisStatus implements spec §4.5's `(0x00, 0x01)` entry.
func (b *VirtualBMC) HandleChassisStatus(m *goipmi.Message) goipmi.Response {
	on, err := b.Policy.PowerState()
	if err != nil {
		b.log.Warnf("chassis status: %v", err)
		return goipmi.CompletionCode(0xff)
	}
	var powerByte byte
	if on {
		powerByte = 1
	}
	return &goipmi.ChassisStatusResponse{
		CompletionCode: goipmi.CommandCompleted,
		PowerState:     powerByte,
	}
}

// HandleChassisControl implements spec §4.5's `(0x00, 0x02)` entry,
// dispatching to the chassis policy per the directive table in §4.4.
func (b *VirtualBMC) HandleChassisControl(m *goipmi.Message) goipmi.Response {
	req := &goipmi.ChassisControlRequest{}
	if err := m.Request(req); err != nil {
		return goipmi.CompletionCode(0xc1)
	}

	var err error
	switch Directive(req.ChassisControl) {
	case DirectivePowerOff:
		err = b.Policy.PowerOff()
	case DirectivePowerOn:
		err = b.Policy.PowerOn()
	case DirectiveCycle:
		err = b.Policy.Cycle()
	case DirectiveReset:
		err = b.Policy.Reset()
	case DirectiveDiag:
		b.log.Info("diagnostic interrupt requested: not implemented")
		return goipmi.CompletionCode(0xcc)
	case DirectiveShutdown:
		err = b.Policy.Shutdown()
	default:
		return goipmi.CompletionCode(0xc1)
	}

	if err != nil {
		b.log.Errorf("chassis control directive %d failed: %v", req.ChassisControl, err)
		return goipmi.CompletionCode(0xff)
	}
	return goipmi.CommandCompleted
}

// HandleColdReset implements spec §4.5's `(0x06, 0x02)` entry: re-run
// setup(), never exit the process (DESIGN.md Open Question #4).
func (b *VirtualBMC) HandleColdReset(m *goipmi.Message) goipmi.Response {
	b.log.Info("cold reset: re-running setup")
	b.Setup()
	return goipmi.CommandCompleted
}

// HandleGetDeviceID implements spec §4.5's `(0x06, 0x01)` entry. The
// spec marks Get Device ID "library-provided" for the directly
// addressed session, but an IPMB-bridged inner request never reaches
// goipmi's own auto-reply (the bridge hand-builds the inner response
// itself in dispatchInner), so a target still needs to answer it here.
func (b *VirtualBMC) HandleGetDeviceID(m *goipmi.Message) goipmi.Response {
	data := []byte{
		0x00,             // device id
		0x01,             // device revision
		0x01,             // firmware revision 1 (device available)
		0x00,             // firmware revision 2
		0x02,             // ipmi version 2.0
		0x00,             // additional device support
		0x00, 0x00, 0x00, // manufacturer id
		0x00, 0x00,       // product id
	}
	return rawResponse{code: goipmi.CommandCompleted, data: data}
}

// HandleSetBootOptions / HandleGetBootOptions implement spec §4.5's
// `(0x00, 0x08)`/`(0x00, 0x09)` entries, grounded on
// other_examples/roopakparikh-vbmc-vsphere's handleSetSystemBootOptions.
func (b *VirtualBMC) HandleSetBootOptions(m *goipmi.Message) goipmi.Response {
	req := &goipmi.SetSystemBootOptionsRequest{}
	if err := m.Request(req); err != nil {
		return goipmi.CompletionCode(0xff)
	}
	if req.Param != goipmi.BootParamBootFlags {
		return &goipmi.SetSystemBootOptionsResponse{CompletionCode: goipmi.CommandCompleted}
	}
	switch goipmi.BootDevice(req.Data[1] & 0x3f) {
	case goipmi.BootDeviceNone:
	case goipmi.BootDeviceDisk:
		b.BootDevice = "disk"
	case goipmi.BootDeviceCdrom:
		b.BootDevice = "cdrom"
	case goipmi.BootDevicePxe:
		b.BootDevice = "pxe"
	case goipmi.BootDeviceFloppy:
		b.BootDevice = "floppy"
	default:
		return goipmi.CompletionCode(0xc9)
	}
	return &goipmi.SetSystemBootOptionsResponse{CompletionCode: goipmi.CommandCompleted}
}

func (b *VirtualBMC) HandleGetBootOptions(m *goipmi.Message) goipmi.Response {
	return &goipmi.GetSystemBootOptionsResponse{
		CompletionCode: goipmi.CommandCompleted,
		BootDevice:     b.BootDevice,
	}
}

// HandleActivatePayload / HandleDeactivatePayload implement spec §4.6.
func (b *VirtualBMC) HandleActivatePayload(ctx context.Context, listenPort uint16, sink sol.PayloadSink) goipmi.Response {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.UART == nil {
		return goipmi.CompletionCode(0x81)
	}
	if b.activated {
		return goipmi.CompletionCode(0x80)
	}

	b.activated = true
	b.pump = sol.NewPump(b.UART, sink, b.Name)
	if b.Transcript != nil {
		b.pump.SetTranscript(b.Transcript)
	}
	b.pump.AddObserver(b.console.observe)
	b.pump.AddObserver(func(data []byte) {
		b.Analytics.Observe(data)
	})
	b.pump.Start(ctx)

	payload := make([]byte, 12)
	payload[8] = byte(listenPort >> 8)
	payload[9] = byte(listenPort)
	payload[10] = 0xff
	payload[11] = 0xff
	return rawResponse{code: goipmi.CommandCompleted, data: payload}
}

func (b *VirtualBMC) HandleDeactivatePayload() goipmi.Response {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.activated {
		return goipmi.CompletionCode(0x80)
	}
	if b.pump != nil {
		b.pump.Stop()
		b.pump = nil
	}
	b.activated = false
	return goipmi.CommandCompleted
}

// WriteToHost forwards an inbound SOL payload to the UART channel —
// spec §4.6's io_handler(data).
func (b *VirtualBMC) WriteToHost(data []byte) {
	b.mu.Lock()
	pump := b.pump
	b.mu.Unlock()
	if pump == nil {
		return
	}
	pump.WriteToHost(data)
}

// rawResponse is a minimal goipmi.Response implementation for payloads
// (like Activate Payload's 12-byte reply) that don't correspond to one
// of goipmi's named response structs.
type rawResponse struct {
	code goipmi.CompletionCode
	data []byte
}

func (r rawResponse) Code() goipmi.CompletionCode { return r.code }
func (r rawResponse) Data() []byte                { return r.data }
func (r rawResponse) String() string {
	return fmt.Sprintf("rawResponse{code: %#x, len(data): %d}", byte(r.code), len(r.data))
}
