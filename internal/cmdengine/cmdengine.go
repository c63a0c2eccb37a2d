// Package cmdengine implements the generic "send command text, match a
// response regex, extract named groups, retry" executor of spec §4.2,
// grounded on original_source/commandbmc.py's CommandInvoker.invoke and
// the teacher's sol/reboot.go named-pattern matching style.
package cmdengine

import (
	"regexp"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/glennswest/ipmi-bmc-emulator/internal/telnetchan"
)

// CommandEnum is the flat, numerically namespaced enumeration from
// spec §3: 0x0000s generic, 0x0100s pin, 0x1000 telnet keep-alive,
// 0x2100s ESP8266 UIB io config, 0x2200s ESP8266 UIB serial config.
type CommandEnum uint16

const (
	None       CommandEnum = 0x0000
	Handled    CommandEnum = 0x0001
	KeepAlive  CommandEnum = 0x1000
	WriteState CommandEnum = 0x0100
	ReadState  CommandEnum = 0x0101

	ValidateIOConfig CommandEnum = 0x2100
	ConfigIO         CommandEnum = 0x2101
	ConfigIOFlag     CommandEnum = 0x2102
	ValidateIOState  CommandEnum = 0x2103

	// UART/serial Universal-IO-Bridge family, grounded on
	// original_source/esp8266bmc.py's Esp8266TelnetSerialCommand.CommandEnum.
	ValidateUARTBridgePort CommandEnum = 0x2201
	ValidateUARTRxConfig   CommandEnum = 0x2202
	ValidateUARTTxConfig   CommandEnum = 0x2203
	ValidateUARTBaud       CommandEnum = 0x2204
	ValidateUARTDataBits   CommandEnum = 0x2205
	ValidateUARTStopBits   CommandEnum = 0x2206
	ValidateUARTParity     CommandEnum = 0x2207
	ValidateLogToUART      CommandEnum = 0x2208
	ConfigUARTBridgePort   CommandEnum = 0x2211
	ConfigUARTRx           CommandEnum = 0x2212
	ConfigUARTTx           CommandEnum = 0x2213
	ConfigUARTBaud         CommandEnum = 0x2214
	ConfigUARTDataBits     CommandEnum = 0x2215
	ConfigUARTStopBits     CommandEnum = 0x2216
	ConfigUARTParity       CommandEnum = 0x2217
	ConfigLogToUART        CommandEnum = 0x2218
)

// Template supplies the command text and response regex for one
// CommandEnum value. Receivers build one of these per invocation since
// the text is parameterized (pin number, desired level, ...).
type Template struct {
	Text  string
	Regex *regexp.Regexp
}

// Receiver is anything a Command can run against: it owns a telnet
// channel and reacts to a successful regex match (e.g. a pin updating
// its observed logic level from a captured group).
type Receiver interface {
	Channel() *telnetchan.Channel
	// OnMatch is called with the named capture groups of a successful
	// match; receivers that don't care about captures may ignore it.
	OnMatch(groups map[string]string)
}

// Command is a single request/response exchange against a Receiver.
type Command struct {
	Receiver Receiver
	Enum     CommandEnum
	Template Template
}

func New(r Receiver, enum CommandEnum, tmpl Template) *Command {
	return &Command{Receiver: r, Enum: enum, Template: tmpl}
}

// execute implements spec §4.2 step 1-3: write, read-until-match-or-
// timeout, update receiver on match. Returns true iff a match happened.
func (c *Command) execute() bool {
	ch := c.Receiver.Channel()
	if !ch.Write(c.Template.Text) {
		return false
	}

	var accumulated string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		line, ok := ch.ReadLine()
		if !ok {
			// timeout or EOF on this read: one retry attempt is handled
			// by the invoker, so give up this execution.
			return false
		}
		accumulated += line

		if c.Template.Regex == nil {
			return true
		}
		m := c.Template.Regex.FindStringSubmatch(accumulated)
		if m == nil {
			continue
		}
		groups := map[string]string{}
		for i, name := range c.Template.Regex.SubexpNames() {
			if i == 0 || name == "" {
				continue
			}
			groups[name] = m[i]
		}
		c.Enum = Handled
		c.Receiver.OnMatch(groups)
		return true
	}
	return false
}

// Invoker runs commands with a bounded per-command retry and
// all-or-nothing short-circuit, per spec §4.2's contract.
type Invoker struct {
	Retries int
}

func NewInvoker(retries int) *Invoker {
	if retries < 1 {
		retries = 2
	}
	return &Invoker{Retries: retries}
}

// Invoke returns true iff every command succeeds; a failing command
// short-circuits the remaining ones, matching
// original_source/commandbmc.py's CommandInvoker.invoke.
func (inv *Invoker) Invoke(cmds ...*Command) bool {
	for _, cmd := range cmds {
		if cmd == nil {
			log.Warn("cmdengine: command is nil")
			continue
		}
		handled := false
		for tries := 0; tries < inv.Retries && !handled; tries++ {
			log.Debugf("cmdengine: executing %#x attempt %d", uint16(cmd.Enum), tries+1)
			handled = cmd.execute()
			log.Debugf("cmdengine: %#x %s", uint16(cmd.Enum), map[bool]string{true: "succeeded", false: "failed"}[handled])
		}
		if !handled {
			return false
		}
	}
	return true
}
