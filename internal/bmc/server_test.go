package bmc

import (
	"testing"

	goipmi "github.com/ooneko/goipmi"
)

func newTestServerWithTarget(addr byte, policy *fakePolicy) (*Server, *VirtualBMC) {
	s := NewServer(0)
	target := newTestBMC(policy)
	target.IPMBAddr = addr
	s.targets[addr] = target
	s.self = target
	return s, target
}

// masterWriteReadData builds the [channel, addr, netfn, _, client_addr,
// _, command, payload..., checksum] layout of spec §4.7.
func masterWriteReadData(targetAddr, netFn, cmd byte, payload []byte) []byte {
	data := []byte{0x00, targetAddr, netFn, 0x00, 0x00, 0x00, cmd}
	data = append(data, payload...)
	data = append(data, 0x00) // checksum byte, ignored by the bridge
	return data
}

// TestHandleMasterWriteReadUsesBareNetFn locks in the fix for the
// netFn-shift regression: a real bare App netFn byte (0x06) must reach
// HandleColdReset, not get right-shifted into something that never
// matches goipmi.NetworkFunctionApp.
func TestHandleMasterWriteReadUsesBareNetFn(t *testing.T) {
	policy := &fakePolicy{}
	s, _ := newTestServerWithTarget(0x52, policy)

	data := masterWriteReadData(0x52, goipmi.NetworkFunctionApp, cmdColdReset, nil)
	resp := s.handleMasterWriteRead(&goipmi.Message{Data: data})

	if resp.Code() != goipmi.CommandCompleted {
		t.Fatalf("expected cold reset to complete via the bridge, got code %#x", byte(resp.Code()))
	}
}

func TestHandleMasterWriteReadUnknownTargetReturns0xCB(t *testing.T) {
	s, _ := newTestServerWithTarget(0x52, &fakePolicy{})

	data := masterWriteReadData(0x99, goipmi.NetworkFunctionApp, cmdColdReset, nil)
	resp := s.handleMasterWriteRead(&goipmi.Message{Data: data})

	if resp.Code() != goipmi.CompletionCode(0xcb) {
		t.Fatalf("expected 0xcb for an unregistered target address, got %#x", byte(resp.Code()))
	}
}

func TestHandleMasterWriteReadShortDataReturns0xC7(t *testing.T) {
	s, _ := newTestServerWithTarget(0x52, &fakePolicy{})

	resp := s.handleMasterWriteRead(&goipmi.Message{Data: []byte{0x00, 0x52, 0x00}})

	if resp.Code() != goipmi.CompletionCode(0xc7) {
		t.Fatalf("expected 0xc7 for undersized bridge data, got %#x", byte(resp.Code()))
	}
}

// TestDispatchInnerReachesTargetsFullDispatcher covers spec §4.7 step 4:
// the bridge must invoke the target's full dispatcher, not a
// hand-picked subset. Every in-scope bridged operation is exercised
// here, each with a payload its handler can actually parse, so a
// regression to the old 3-case switch makes any of the new cases fall
// through to the 0xc1 default instead of completing normally.
func TestDispatchInnerReachesTargetsFullDispatcher(t *testing.T) {
	cases := []struct {
		name    string
		netFn   byte
		cmd     byte
		payload []byte
	}{
		{"chassis status", goipmi.NetworkFunctionChassis, goipmi.CommandChassisStatus, nil},
		{"chassis control", goipmi.NetworkFunctionChassis, goipmi.CommandChassisControl, []byte{byte(DirectivePowerOff)}},
		// Param 0xff never matches BootParamBootFlags, so
		// HandleSetBootOptions's early-return path fires regardless of
		// the rest of the payload's exact shape.
		{"set boot options", goipmi.NetworkFunctionChassis, goipmi.CommandSetSystemBootOptions, []byte{0xff, 0x00, 0x00, 0x00, 0x00, 0x00}},
		{"get boot options", goipmi.NetworkFunctionChassis, goipmi.CommandGetSystemBootOptions, nil},
		{"cold reset", goipmi.NetworkFunctionApp, cmdColdReset, nil},
		{"get device id", goipmi.NetworkFunctionApp, cmdGetDeviceID, nil},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s, target := newTestServerWithTarget(0x52, &fakePolicy{})
			resp := s.dispatchInner(target, c.netFn, c.cmd, c.payload, &goipmi.Message{})
			if resp.Code() != goipmi.CommandCompleted {
				t.Fatalf("%s: expected CommandCompleted, got %#x", c.name, byte(resp.Code()))
			}
		})
	}
}

func TestDispatchInnerUnknownCommandReturns0xC1(t *testing.T) {
	s, target := newTestServerWithTarget(0x52, &fakePolicy{})
	resp := s.dispatchInner(target, goipmi.NetworkFunctionApp, 0xee, nil, &goipmi.Message{})
	if resp.Code() != goipmi.CompletionCode(0xc1) {
		t.Fatalf("expected 0xc1 for a genuinely unknown bridged command, got %#x", byte(resp.Code()))
	}
}

func TestHandleMasterWriteReadGetDeviceIDRoundTrip(t *testing.T) {
	s, _ := newTestServerWithTarget(0x52, &fakePolicy{})

	data := masterWriteReadData(0x52, goipmi.NetworkFunctionApp, cmdGetDeviceID, nil)
	resp := s.handleMasterWriteRead(&goipmi.Message{Data: data})

	if resp.Code() != goipmi.CommandCompleted {
		t.Fatalf("expected get device id to complete via the bridge, got %#x", byte(resp.Code()))
	}
	if len(resp.Data()) == 0 {
		t.Fatal("expected a non-empty device id payload")
	}
}
