package pin

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/glennswest/ipmi-bmc-emulator/internal/telnetchan"
)

// startUIBServer fakes just enough of the ESP8266 Universal-IO-Bridge
// shell to drive a pin through Setup/SetValue/GetValue: it always
// reports the pin already configured the way it was asked, and echoes
// back whatever level an "iw" write requested.
func startUIBServer(t *testing.T) (port int) {
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
		lastLevel := "1"
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			fields := strings.Fields(line)
			switch {
			case len(fields) > 0 && fields[0] == "im":
				conn.Write([]byte("mode: output flags: autostart state: on\r\n"))
			case len(fields) > 0 && fields[0] == "iw":
				if len(fields) > 0 {
					lastLevel = fields[len(fields)-1]
				}
				conn.Write([]byte(lastLevel + "\r\n"))
			case len(fields) > 0 && fields[0] == "ir":
				conn.Write([]byte(lastLevel + "\r\n"))
			default:
				conn.Write([]byte(": command unknown\r\n"))
			}
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().(*net.TCPAddr).Port
}

func newTestPinChannel(port int) *telnetchan.Channel {
	return telnetchan.New(telnetchan.Config{
		Host: "127.0.0.1", Port: port, CRLF: "\r\n",
		ResponseTimeout: time.Second, ConnectionTimeout: time.Second, ConnectionRetries: 1,
	})
}

func TestESP8266PinSetupOnAlreadyConfiguredPin(t *testing.T) {
	port := startUIBServer(t)
	idx := 2
	p := NewESP8266Pin(&idx, 2, true, true, false, newTestPinChannel(port))
	if err := p.Setup(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
}

func TestESP8266PinSetupNoopWhenUnwired(t *testing.T) {
	p := NewESP8266Pin(nil, 2, true, false, false, newTestPinChannel(1))
	if err := p.Setup(); err != nil {
		t.Fatalf("Setup on an unwired pin should be a no-op, got: %v", err)
	}
}

func TestESP8266PinSetValueRoundTrips(t *testing.T) {
	port := startUIBServer(t)
	idx := 2
	p := NewESP8266Pin(&idx, 2, true, false, false, newTestPinChannel(port))

	got, err := p.SetValue(true)
	if err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	if !got {
		t.Fatal("expected SetValue(true) with no inversion to report true")
	}
}

func TestESP8266PinSetValueUnwiredReturnsError(t *testing.T) {
	p := NewESP8266Pin(nil, 2, true, false, false, newTestPinChannel(1))
	if _, err := p.SetValue(true); err == nil {
		t.Fatal("expected ErrUnwired for an unwired pin")
	}
}

func TestESP8266PinGetValueAppliesInversion(t *testing.T) {
	port := startUIBServer(t)
	idx := 2
	p := NewESP8266Pin(&idx, 2, false, false, true, newTestPinChannel(port))

	// The fake server's "ir" reply defaults to last written level "1".
	got, err := p.GetValue()
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if got {
		t.Fatal("expected a raw logic level of 1 inverted to value false")
	}
}
