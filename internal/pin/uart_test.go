package pin

import (
	"bufio"
	"net"
	"strings"
	"testing"
)

// startUARTBridgeServer fakes the Universal-IO-Bridge's serial config
// shell. When configured is true every validate command succeeds, so
// Setup should never send a reconfigure command; when false every
// validate fails until the matching config command runs, forcing the
// reconfigure-batch path.
func startUARTBridgeServer(t *testing.T, bridgePort, txPin, rxPin, baud, dataBits, stopBits int, parity string, configured bool) (port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		configuredNow := configured
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			fields := strings.Fields(line)
			if len(fields) == 0 {
				conn.Write([]byte(": command unknown\r\n"))
				continue
			}
			switch {
			case fields[0] == "fu" && len(fields) > 1:
				configuredNow = true
				conn.Write([]byte("> log-to-uart\r\n"))
			case fields[0] == "fu":
				if configuredNow {
					conn.Write([]byte("> log-to-uart\r\n"))
				} else {
					conn.Write([]byte("> no log-to-uart\r\n"))
				}
			case fields[0] == "bp" && len(fields) > 1:
				conn.Write([]byte("> port: " + fields[1] + "\r\n"))
			case fields[0] == "bp":
				if configuredNow {
					conn.Write([]byte("> port: 23\r\n"))
				} else {
					conn.Write([]byte("> port: 9999\r\n"))
				}
			case fields[0] == "im" && len(fields) > 3 && fields[3] == "uart":
				conn.Write([]byte("mode: uart flags: []\r\n"))
			case fields[0] == "im":
				if configuredNow {
					conn.Write([]byte("mode: uart flags: []\r\n"))
				} else {
					conn.Write([]byte("mode: output flags: []\r\n"))
				}
			case fields[0] == "ub" && len(fields) > 2:
				conn.Write([]byte("> baudrate[0]: " + fields[2] + "\r\n"))
			case fields[0] == "ub":
				if configuredNow {
					conn.Write([]byte("> baudrate[0]: 9600\r\n"))
				} else {
					conn.Write([]byte("> baudrate[0]: 1200\r\n"))
				}
			case fields[0] == "ud" && len(fields) > 2:
				conn.Write([]byte("> data bits[0]: " + fields[2] + "\r\n"))
			case fields[0] == "ud":
				if configuredNow {
					conn.Write([]byte("> data bits[0]: 8\r\n"))
				} else {
					conn.Write([]byte("> data bits[0]: 7\r\n"))
				}
			case fields[0] == "us" && len(fields) > 2:
				conn.Write([]byte("> stop bits[0]: " + fields[2] + "\r\n"))
			case fields[0] == "us":
				if configuredNow {
					conn.Write([]byte("> stop bits[0]: 1\r\n"))
				} else {
					conn.Write([]byte("> stop bits[0]: 2\r\n"))
				}
			case fields[0] == "up" && len(fields) > 2:
				conn.Write([]byte("> parity[0]: " + fields[2] + "\r\n"))
			case fields[0] == "up":
				if configuredNow {
					conn.Write([]byte("> parity[0]: none\r\n"))
				} else {
					conn.Write([]byte("> parity[0]: even\r\n"))
				}
			default:
				conn.Write([]byte(": command unknown\r\n"))
			}
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().(*net.TCPAddr).Port
}

func TestUARTBridgeSetupNoopWhenAlreadyConfigured(t *testing.T) {
	port := startUARTBridgeServer(t, 23, 1, 3, 9600, 8, 1, "none", true)
	u := NewUARTBridge(23, 1, 3, 9600, 8, 1, "none", newTestPinChannel(port))
	if err := u.Setup(); err != nil {
		t.Fatalf("Setup on an already-configured bridge failed: %v", err)
	}
}

func TestUARTBridgeSetupReconfiguresWhenDrifted(t *testing.T) {
	port := startUARTBridgeServer(t, 23, 1, 3, 9600, 8, 1, "none", false)
	u := NewUARTBridge(23, 1, 3, 9600, 8, 1, "none", newTestPinChannel(port))
	if err := u.Setup(); err != nil {
		t.Fatalf("Setup failed to reconfigure a drifted bridge: %v", err)
	}
}

func TestUARTBridgeSetupUnreachableChannel(t *testing.T) {
	u := NewUARTBridge(23, 1, 3, 9600, 8, 1, "none", newTestPinChannel(1))
	if err := u.Setup(); err == nil {
		t.Fatal("expected an error when the control channel is unreachable")
	}
}
