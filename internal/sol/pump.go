// Package sol implements the Serial-Over-LAN byte pump of spec §4.6: while
// a chassis's payload is activated, shuttle bytes between the managed
// host's UART (a telnet stream) and the IPMI SOL payload channel.
// Grounded on the teacher's sol/manager.go connect/reconnect/broadcast
// loop (generalized here from an outbound SOL client session to a
// telnet-sourced byte pump) and original_source/asyncbmc.py's
// AsyncSerialSession serial-poll task.
package sol

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/glennswest/ipmi-bmc-emulator/internal/telnetchan"
)

// PayloadSink is the outbound half of the pump: whatever hands bytes to
// the IPMI SOL channel. In production this is the goipmi session's SOL
// payload writer; tests can supply a simple channel-backed fake.
type PayloadSink interface {
	SendSOL(data []byte) error
}

// Transcript persists a copy of the console byte stream for later
// inspection, keyed by chassis name — satisfied by logs.Writer.
type Transcript interface {
	Write(chassisName string, data []byte) error
}

// Pump shuttles bytes between a UART-side telnet channel and a
// PayloadSink for as long as it is running. One Pump exists per
// activated chassis payload; spec §4.6 / §5 treats it as the only
// long-lived cancellable task in the system. Every chunk read from the
// UART is also fanned out to any attached observers (transcript
// writer, boot analytics, screen buffer/SSE broadcast) before being
// forwarded to sink — the same tee the teacher's sol/manager.go read
// loop does for its log writer, analytics and SSE subscribers.
type Pump struct {
	uart      *telnetchan.Channel
	sink      PayloadSink
	label     string
	log       *log.Entry
	observers []func([]byte)

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

func NewPump(uart *telnetchan.Channel, sink PayloadSink, label string) *Pump {
	return &Pump{uart: uart, sink: sink, label: label, log: log.WithField("sol", label)}
}

// SetTranscript attaches a transcript sink; bytes read from the UART
// are fed to it alongside being forwarded to the SOL payload sink. Must
// be called before Start.
func (p *Pump) SetTranscript(t Transcript) {
	p.AddObserver(func(data []byte) {
		if err := t.Write(p.label, data); err != nil {
			p.log.Warnf("sol: failed writing transcript: %v", err)
		}
	})
}

// AddObserver registers fn to be called, synchronously and in order,
// with every non-empty chunk read from the UART. Must be called before
// Start.
func (p *Pump) AddObserver(fn func(data []byte)) {
	p.observers = append(p.observers, fn)
}

// Start begins the serial-poll task: while running, read up to 1024
// bytes from the UART stream and forward non-empty reads to the sink.
// Exceptions are logged and iteration continues, per spec §4.6.
func (p *Pump) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.mu.Unlock()

	go p.loop(ctx)
}

func (p *Pump) loop(ctx context.Context) {
	defer p.uart.Disconnect()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		data, ok := p.uart.Read(1024)
		if !ok {
			continue // timeout: keep polling until Stop cancels us
		}
		if len(data) == 0 {
			continue
		}
		for _, obs := range p.observers {
			obs(data)
		}
		if err := p.sink.SendSOL(data); err != nil {
			p.log.Warnf("sol: failed forwarding %d bytes to client: %v", len(data), err)
		}
	}
}

// Stop cancels the poll task and disconnects the UART stream,
// best-effort per spec §4.6's Deactivate Payload handling.
func (p *Pump) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	p.cancel()
}

// WriteToHost implements the io_handler(data) contract of spec §4.6:
// forward inbound SOL payload bytes to the UART-side telnet stream.
func (p *Pump) WriteToHost(data []byte) {
	if !p.uart.WriteRaw(data) {
		p.log.Warn("sol: failed writing inbound payload to UART channel")
	}
}
