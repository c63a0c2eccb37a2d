package pin

import (
	"fmt"
	"regexp"

	"github.com/glennswest/ipmi-bmc-emulator/internal/cmdengine"
	"github.com/glennswest/ipmi-bmc-emulator/internal/telnetchan"
)

// UARTBridge reconciles the ESP8266 Universal-IO-Bridge's serial config
// (bridge port, tx/rx pin mode, baud, data/stop bits, parity, and the
// log-to-uart flag) over the control telnet channel, per spec §4.3.1's
// VALIDATE_UART_*/CONFIG_UART_* family and
// original_source/esp8266bmc.py's Esp8266TelnetSerialCommandClient.setup:
// probe, validate every parameter in one batch, and if any of them
// don't match reconfigure the whole batch rather than hunting down which
// one drifted.
type UARTBridge struct {
	ch         *telnetchan.Channel
	invoker    *cmdengine.Invoker
	bridgePort int
	txPin      int
	rxPin      int
	baud       int
	dataBits   int
	stopBits   int
	parity     string
}

func NewUARTBridge(bridgePort, txPin, rxPin, baud, dataBits, stopBits int, parity string, ch *telnetchan.Channel) *UARTBridge {
	return &UARTBridge{
		ch:         ch,
		invoker:    cmdengine.NewInvoker(2),
		bridgePort: bridgePort,
		txPin:      txPin,
		rxPin:      rxPin,
		baud:       baud,
		dataBits:   dataBits,
		stopBits:   stopBits,
		parity:     parity,
	}
}

func (u *UARTBridge) Channel() *telnetchan.Channel { return u.ch }

// OnMatch is a no-op: every validate/config command here is judged by
// whether its regex matched at all, not by any captured group.
func (u *UARTBridge) OnMatch(map[string]string) {}

func uartModeRegex() *regexp.Regexp { return regexp.MustCompile(`mode:\s*uart`) }

// Setup implements the probe/validate-batch/reconfigure-batch sequence.
// Unlike ESP8266Pin.Setup, which validates config and state in two
// separate phases, the serial bridge's eight parameters are validated
// (and, if needed, reconfigured) as a single all-or-nothing batch,
// matching the source's single invoker.invoke(...) call over all eight
// commands.
func (u *UARTBridge) Setup() error {
	probe := cmdengine.New(u, cmdengine.KeepAlive, cmdengine.Template{Text: "", Regex: keepAliveRegex})
	if !u.invoker.Invoke(probe) {
		return fmt.Errorf("uart bridge: channel unreachable")
	}

	if u.invoker.Invoke(u.validateCommands()...) {
		return nil
	}

	if !u.invoker.Invoke(u.configCommands()...) {
		return fmt.Errorf("uart bridge: failed to configure serial bridge")
	}
	return nil
}

func (u *UARTBridge) validateCommands() []*cmdengine.Command {
	return []*cmdengine.Command{
		cmdengine.New(u, cmdengine.ValidateLogToUART, cmdengine.Template{
			Text:  "fu",
			Regex: regexp.MustCompile(`>\s*log-to-uart`),
		}),
		cmdengine.New(u, cmdengine.ValidateUARTBridgePort, cmdengine.Template{
			Text:  "bp",
			Regex: regexp.MustCompile(fmt.Sprintf(`port:\s*%d`, u.bridgePort)),
		}),
		cmdengine.New(u, cmdengine.ValidateUARTTxConfig, cmdengine.Template{
			Text:  fmt.Sprintf("im 0 %d", u.txPin),
			Regex: uartModeRegex(),
		}),
		cmdengine.New(u, cmdengine.ValidateUARTRxConfig, cmdengine.Template{
			Text:  fmt.Sprintf("im 0 %d", u.rxPin),
			Regex: uartModeRegex(),
		}),
		cmdengine.New(u, cmdengine.ValidateUARTBaud, cmdengine.Template{
			Text:  "ub 0",
			Regex: regexp.MustCompile(fmt.Sprintf(`baudrate.*%d`, u.baud)),
		}),
		cmdengine.New(u, cmdengine.ValidateUARTDataBits, cmdengine.Template{
			Text:  "ud 0",
			Regex: regexp.MustCompile(fmt.Sprintf(`data bits.*%d`, u.dataBits)),
		}),
		cmdengine.New(u, cmdengine.ValidateUARTStopBits, cmdengine.Template{
			Text:  "us 0",
			Regex: regexp.MustCompile(fmt.Sprintf(`stop bits.*%d`, u.stopBits)),
		}),
		cmdengine.New(u, cmdengine.ValidateUARTParity, cmdengine.Template{
			Text:  "up 0",
			Regex: regexp.MustCompile(fmt.Sprintf(`parity.*%s`, u.parity)),
		}),
	}
}

func (u *UARTBridge) configCommands() []*cmdengine.Command {
	return []*cmdengine.Command{
		cmdengine.New(u, cmdengine.ConfigLogToUART, cmdengine.Template{
			Text:  "fu log-to-uart",
			Regex: regexp.MustCompile(`>\s*log-to-uart`),
		}),
		cmdengine.New(u, cmdengine.ConfigUARTBridgePort, cmdengine.Template{
			Text:  fmt.Sprintf("bp %d", u.bridgePort),
			Regex: regexp.MustCompile(fmt.Sprintf(`port:\s*%d`, u.bridgePort)),
		}),
		cmdengine.New(u, cmdengine.ConfigUARTTx, cmdengine.Template{
			Text:  fmt.Sprintf("im 0 %d uart", u.txPin),
			Regex: uartModeRegex(),
		}),
		cmdengine.New(u, cmdengine.ConfigUARTRx, cmdengine.Template{
			Text:  fmt.Sprintf("im 0 %d uart", u.rxPin),
			Regex: uartModeRegex(),
		}),
		cmdengine.New(u, cmdengine.ConfigUARTBaud, cmdengine.Template{
			Text:  fmt.Sprintf("ub 0 %d", u.baud),
			Regex: regexp.MustCompile(fmt.Sprintf(`baudrate.*%d`, u.baud)),
		}),
		cmdengine.New(u, cmdengine.ConfigUARTDataBits, cmdengine.Template{
			Text:  fmt.Sprintf("ud 0 %d", u.dataBits),
			Regex: regexp.MustCompile(fmt.Sprintf(`data bits.*%d`, u.dataBits)),
		}),
		cmdengine.New(u, cmdengine.ConfigUARTStopBits, cmdengine.Template{
			Text:  fmt.Sprintf("us 0 %d", u.stopBits),
			Regex: regexp.MustCompile(fmt.Sprintf(`stop bits.*%d`, u.stopBits)),
		}),
		cmdengine.New(u, cmdengine.ConfigUARTParity, cmdengine.Template{
			Text:  fmt.Sprintf("up 0 %s", u.parity),
			Regex: regexp.MustCompile(fmt.Sprintf(`parity.*%s`, u.parity)),
		}),
	}
}
