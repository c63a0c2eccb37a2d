package targets

import (
	"testing"

	"github.com/glennswest/ipmi-bmc-emulator/config"
	"github.com/glennswest/ipmi-bmc-emulator/internal/bmc"
)

func baseEntry(name string, addr byte, kind string) config.TargetEntry {
	return config.TargetEntry{
		Name:       name,
		IPMBAddr:   addr,
		Kind:       kind,
		BootDevice: "default",
		Telnet:     config.TelnetConfig{Host: "192.168.4.1", Port: 24},
		UART:       config.UARTConfig{BridgePort: 25},
	}
}

func TestBuildESP8266Target(t *testing.T) {
	b, err := Build(baseEntry("node1", 0x20, "esp8266"))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if b.Name != "node1" || b.IPMBAddr != 0x20 {
		t.Fatalf("unexpected identity: %+v", b)
	}
	if b.Control == nil || b.UART == nil {
		t.Fatal("expected both control and uart channels to be built")
	}
	if b.Policy == nil {
		t.Fatal("expected a chassis policy to be assembled")
	}
}

func TestBuildLocalGPIOTarget(t *testing.T) {
	status, power := 17, 27
	e := baseEntry("node2", 0x22, "local-gpio")
	e.GPIO.StatusPin = &status
	e.GPIO.PowerPin = &power
	b, err := Build(e)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if b.Policy == nil {
		t.Fatal("expected a chassis policy to be assembled for local-gpio")
	}
}

func TestBuildWakeOnLANTarget(t *testing.T) {
	e := baseEntry("node3", 0x24, "esp8266-wol")
	e.WOL = config.WOLConfig{MAC: "AA:BB:CC:DD:EE:FF", IP: "192.168.4.255", Port: 9}
	b, err := Build(e)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if b.Policy == nil {
		t.Fatal("expected a WakeOnLAN policy to be assembled")
	}
}

func TestBuildRejectsUnknownKind(t *testing.T) {
	if _, err := Build(baseEntry("node4", 0x26, "bogus")); err == nil {
		t.Fatal("expected an error for an unknown target kind")
	}
}

func TestBuildRejectsInvalidWOLMac(t *testing.T) {
	e := baseEntry("node5", 0x28, "esp8266-wol")
	e.WOL = config.WOLConfig{MAC: "not-a-mac", IP: "192.168.4.255", Port: 9}
	if _, err := Build(e); err == nil {
		t.Fatal("expected an error for a malformed wol mac")
	}
}

func TestRegistryReconcileAddsAndRemoves(t *testing.T) {
	r := NewRegistry()

	var addedNames, removedNames []string
	r.OnChange(func(added, removed []*bmc.VirtualBMC) {
		for _, b := range added {
			addedNames = append(addedNames, b.Name)
		}
		for _, b := range removed {
			removedNames = append(removedNames, b.Name)
		}
	})

	if err := r.Reconcile([]config.TargetEntry{baseEntry("a", 0x20, "esp8266")}); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(r.List()) != 1 {
		t.Fatalf("expected 1 target after first reconcile, got %d", len(r.List()))
	}
	if b, ok := r.ByName("a"); !ok || b.Name != "a" {
		t.Fatal("expected target \"a\" to be registered")
	}
	if len(addedNames) != 1 || addedNames[0] != "a" {
		t.Fatalf("expected OnChange to report \"a\" added, got %v", addedNames)
	}

	if err := r.Reconcile([]config.TargetEntry{baseEntry("b", 0x22, "esp8266")}); err != nil {
		t.Fatalf("second Reconcile failed: %v", err)
	}
	if _, ok := r.ByName("a"); ok {
		t.Fatal("expected target \"a\" to be removed")
	}
	if _, ok := r.ByName("b"); !ok {
		t.Fatal("expected target \"b\" to be registered")
	}
	if len(removedNames) != 1 || removedNames[0] != "a" {
		t.Fatalf("expected OnChange to report \"a\" removed, got %v", removedNames)
	}
}

func TestRegistryReconcileIsStableForUnchangedEntries(t *testing.T) {
	r := NewRegistry()
	entries := []config.TargetEntry{baseEntry("a", 0x20, "esp8266")}
	if err := r.Reconcile(entries); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	first, _ := r.ByName("a")

	if err := r.Reconcile(entries); err != nil {
		t.Fatalf("second Reconcile failed: %v", err)
	}
	second, _ := r.ByName("a")
	if first != second {
		t.Fatal("expected an unchanged target to keep its existing VirtualBMC instance, not rebuild it")
	}
}

func TestRegistryReconcileSkipsUnbuildableEntry(t *testing.T) {
	r := NewRegistry()
	err := r.Reconcile([]config.TargetEntry{baseEntry("bad", 0x20, "bogus")})
	if err != nil {
		t.Fatalf("Reconcile itself should not fail, it should log and skip: %v", err)
	}
	if len(r.List()) != 0 {
		t.Fatalf("expected the unbuildable entry to be skipped, got %d targets", len(r.List()))
	}
}
