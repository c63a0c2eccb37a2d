// Package targets assembles VirtualBMC instances from configuration and
// reconciles them against the target list, adapted from the teacher's
// discovery/scanner.go: there it watched a Kubernetes bare-metal-host API
// for servers coming and going; here the source is the config file's
// target list, read at startup. The OnChange reconciliation shape is
// kept: diff by name, build what's new, drop what's gone. An entry whose
// name is already registered is not rebuilt, even if its settings
// changed, and nothing is stopped or restarted.
package targets

import (
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/glennswest/ipmi-bmc-emulator/internal/bmc"
	"github.com/glennswest/ipmi-bmc-emulator/internal/chassis"
	"github.com/glennswest/ipmi-bmc-emulator/internal/pin"
	"github.com/glennswest/ipmi-bmc-emulator/internal/telnetchan"

	"github.com/glennswest/ipmi-bmc-emulator/config"
)

// Registry owns the set of live VirtualBMCs, keyed by name, and notifies
// subscribers when the set changes.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]*bmc.VirtualBMC
	onChange []func(added, removed []*bmc.VirtualBMC)
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*bmc.VirtualBMC)}
}

func (r *Registry) OnChange(fn func(added, removed []*bmc.VirtualBMC)) {
	r.onChange = append(r.onChange, fn)
}

// Reconcile builds VirtualBMCs for entries not already present, removes
// ones no longer configured, and notifies subscribers — the same
// add/remove diffing shape as discovery/scanner.go's applyBMH.
func (r *Registry) Reconcile(entries []config.TargetEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[string]config.TargetEntry, len(entries))
	for _, e := range entries {
		wanted[e.Name] = e
	}

	var added, removed []*bmc.VirtualBMC
	for name, existing := range r.byName {
		if _, ok := wanted[name]; !ok {
			removed = append(removed, existing)
			delete(r.byName, name)
		}
	}
	for name, entry := range wanted {
		if _, ok := r.byName[name]; ok {
			continue
		}
		b, err := Build(entry)
		if err != nil {
			log.Errorf("targets: failed building %q: %v", name, err)
			continue
		}
		r.byName[name] = b
		added = append(added, b)
	}

	for _, fn := range r.onChange {
		fn(added, removed)
	}
	return nil
}

func (r *Registry) List() []*bmc.VirtualBMC {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*bmc.VirtualBMC, 0, len(r.byName))
	for _, b := range r.byName {
		out = append(out, b)
	}
	return out
}

// ByName looks up a single registered target by its configured name,
// for the status HTTP surface's per-chassis routes.
func (r *Registry) ByName(name string) (*bmc.VirtualBMC, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byName[name]
	return b, ok
}

// Build assembles one VirtualBMC (pins, telnet channels, chassis policy)
// from a config.TargetEntry, per spec §9's flat composition: one BMC
// struct, a ChassisPolicy, a PinSet, and two TelnetChannels.
func Build(e config.TargetEntry) (*bmc.VirtualBMC, error) {
	control := telnetchan.New(telnetchan.Config{
		Host:              e.Telnet.Host,
		Port:              e.Telnet.Port,
		CRLF:              e.Telnet.CRLF,
		ResponseTimeout:   e.Telnet.ResponseTimeout,
		ConnectionTimeout: e.Telnet.ConnectionTimeout,
		ConnectionRetries: e.Telnet.ConnectionRetries,
		Label:             e.Name + "-control",
	})
	uart := telnetchan.New(telnetchan.Config{
		Host:              e.Telnet.Host,
		Port:              e.UART.BridgePort,
		CRLF:              e.Telnet.CRLF,
		ResponseTimeout:   5 * time.Second, // per spec §6's SOL response_timeout
		ConnectionTimeout: e.Telnet.ConnectionTimeout,
		ConnectionRetries: e.Telnet.ConnectionRetries,
		Label:             e.Name + "-uart",
	})

	durations := chassis.Durations{
		PowerOffPress: e.Durations.PowerOffPress,
		PowerOnPress:  e.Durations.PowerOnPress,
		CycleOffPress: e.Durations.CycleOffPress,
		CycleWait:     e.Durations.CycleWait,
		CycleOnPress:  e.Durations.CycleOnPress,
		ResetPress:    e.Durations.ResetPress,
		ShutdownPress: e.Durations.ShutdownPress,
		ShutdownWait:  e.Durations.ShutdownWait,
	}

	pins, err := buildPins(e, control)
	if err != nil {
		return nil, err
	}

	var policy chassis.Policy
	switch e.Kind {
	case "esp8266", "local-gpio":
		policy = chassis.New(pins, durations)
	case "esp8266-wol":
		mac, err := net.ParseMAC(e.WOL.MAC)
		if err != nil {
			return nil, fmt.Errorf("target %q: invalid wol mac: %w", e.Name, err)
		}
		policy = chassis.NewWakeOnLAN(pins, durations, control, chassis.WOLConfig{
			MAC:  mac,
			IP:   e.WOL.IP,
			Port: e.WOL.Port,
		})
	default:
		return nil, fmt.Errorf("target %q: unknown kind %q", e.Name, e.Kind)
	}

	b := bmc.New(e.Name, e.IPMBAddr, policy, control, uart, e.BootDevice)
	switch e.Kind {
	case "esp8266", "esp8266-wol":
		b.SerialBridge = pin.NewUARTBridge(e.UART.BridgePort, e.UART.TxPin, e.UART.RxPin,
			e.UART.Baud, e.UART.DataBits, e.UART.StopBits, e.UART.Parity, control)
	}
	return b, nil
}

func buildPins(e config.TargetEntry, control *telnetchan.Channel) (chassis.PinSet, error) {
	var pins chassis.PinSet
	switch e.Kind {
	case "esp8266", "esp8266-wol":
		pins.Status = pin.NewESP8266Pin(e.GPIO.StatusPin, derefOr(e.GPIO.StatusPin, 0), false, false, e.GPIO.InvertStatusPinLogic, control)
		pins.Power = pin.NewESP8266Pin(e.GPIO.PowerPin, derefOr(e.GPIO.PowerPin, 0), true, false, e.GPIO.InvertPowerPinLogic, control)
		if e.GPIO.ResetPin != nil {
			pins.Reset = pin.NewESP8266Pin(e.GPIO.ResetPin, *e.GPIO.ResetPin, true, false, e.GPIO.InvertResetPinLogic, control)
		}
	case "local-gpio":
		pins.Status = pin.NewLocalGPIOPin(e.GPIO.StatusPin, gpioName(e.GPIO.StatusPin), false, false, e.GPIO.InvertStatusPinLogic)
		pins.Power = pin.NewLocalGPIOPin(e.GPIO.PowerPin, gpioName(e.GPIO.PowerPin), true, false, e.GPIO.InvertPowerPinLogic)
		if e.GPIO.ResetPin != nil {
			pins.Reset = pin.NewLocalGPIOPin(e.GPIO.ResetPin, gpioName(e.GPIO.ResetPin), true, false, e.GPIO.InvertResetPinLogic)
		}
	}
	return pins, nil
}

func derefOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func gpioName(p *int) string {
	if p == nil {
		return ""
	}
	return fmt.Sprintf("GPIO%d", *p)
}
