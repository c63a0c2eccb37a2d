package pin

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/glennswest/ipmi-bmc-emulator/internal/cmdengine"
	"github.com/glennswest/ipmi-bmc-emulator/internal/telnetchan"
)

// Regexes below mirror the ESP8266 Universal-IO-Bridge shell's response
// grammar described in spec §4.3.1 / original_source/esp8266bmc.py.
var (
	keepAliveRegex    = regexp.MustCompile(`(> empty command|: command unknown)`)
	ioConfigRegex     = regexp.MustCompile(`mode:\s*(?P<mode>output|input).*flags:\s*(?P<flags>autostart|none)`)
	ioStateRegex      = regexp.MustCompile(`mode:\s*(?P<mode>output|input).*state:\s*(?P<state>on|off)`)
	levelRegex        = regexp.MustCompile(`(?P<logic_level>0|1)`)
	cannotWriteRegex  = regexp.MustCompile(`digital input: cannot write to gpio \d+`)
)

// ESP8266Pin drives a pin on the remote Universal-IO-Bridge shell over a
// telnet command channel, per spec §4.3.1.
type ESP8266Pin struct {
	Base
	pinNumber int
	ch        *telnetchan.Channel
	invoker   *cmdengine.Invoker
	lastGroups map[string]string
}

func NewESP8266Pin(index *int, pinNumber int, isOutput bool, initial bool, invertLogic bool, ch *telnetchan.Channel) *ESP8266Pin {
	return &ESP8266Pin{
		Base:      NewBase(index, isOutput, initial, invertLogic),
		pinNumber: pinNumber,
		ch:        ch,
		invoker:   cmdengine.NewInvoker(2),
	}
}

func (p *ESP8266Pin) Channel() *telnetchan.Channel { return p.ch }

func (p *ESP8266Pin) OnMatch(groups map[string]string) { p.lastGroups = groups }

func boolLevel(s string) bool { return s == "1" }

func wantedLevelDigit(level bool) string {
	if level {
		return "1"
	}
	return "0"
}

func wantedState(level bool) string {
	if level {
		return "on"
	}
	return "off"
}

func wantedMode(isOutput bool) string {
	if isOutput {
		return "output"
	}
	return "input"
}

// Setup implements spec §4.3.1's probe/validate/reconcile sequence.
func (p *ESP8266Pin) Setup() error {
	if !p.Valid() {
		return nil
	}
	pinNum := p.pinNumber

	probe := cmdengine.New(p, cmdengine.KeepAlive, cmdengine.Template{Text: "", Regex: keepAliveRegex})
	if !p.invoker.Invoke(probe) {
		return fmt.Errorf("esp8266 pin %d: channel unreachable", pinNum)
	}

	validateConfig := cmdengine.New(p, cmdengine.ValidateIOConfig, cmdengine.Template{
		Text:  fmt.Sprintf("im 0 %d", pinNum),
		Regex: ioConfigRegex,
	})
	p.invoker.Invoke(validateConfig)

	configValid := p.lastGroups != nil &&
		p.lastGroups["mode"] == wantedMode(p.IsOutput) &&
		(p.lastGroups["flags"] == "autostart") == p.needsAutostart()

	if !configValid {
		mode := "dinput"
		if p.IsOutput {
			mode = "doutput"
		}
		configure := cmdengine.New(p, cmdengine.ConfigIO, cmdengine.Template{
			Text:  fmt.Sprintf("im 0 %d %s", pinNum, mode),
			Regex: ioConfigRegex,
		})
		flagCmd := "icf"
		if p.needsAutostart() {
			flagCmd = "isf"
		}
		setFlag := cmdengine.New(p, cmdengine.ConfigIOFlag, cmdengine.Template{
			Text:  fmt.Sprintf("%s 0 %d autostart", flagCmd, pinNum),
			Regex: ioConfigRegex,
		})
		if !p.invoker.Invoke(configure, setFlag) {
			return fmt.Errorf("esp8266 pin %d: failed to configure io", pinNum)
		}
	}

	validateState := cmdengine.New(p, cmdengine.ValidateIOState, cmdengine.Template{
		Text:  fmt.Sprintf("im 0 %d", pinNum),
		Regex: ioStateRegex,
	})
	p.invoker.Invoke(validateState)

	stateValid := p.lastGroups != nil && p.lastGroups["state"] == wantedState(p.LogicLevel())

	if !stateValid && p.IsOutput {
		write := cmdengine.New(p, cmdengine.WriteState, cmdengine.Template{
			Text:  fmt.Sprintf("iw 0 %d %s", pinNum, wantedLevelDigit(p.LogicLevel())),
			Regex: levelRegex,
		})
		if !p.invoker.Invoke(write) {
			return fmt.Errorf("esp8266 pin %d: failed to write initial state", pinNum)
		}
	}
	return nil
}

// needsAutostart: spec §4.3.1 — "The pin needs autostart iff it is an
// output and its initial logic state maps to on."
func (p *ESP8266Pin) needsAutostart() bool {
	return p.IsOutput && p.LogicLevel()
}

func (p *ESP8266Pin) writeLogicLevel() error {
	pinNum := p.pinNumber
	cmd := cmdengine.New(p, cmdengine.WriteState, cmdengine.Template{
		Text:  fmt.Sprintf("iw 0 %d %s", pinNum, wantedLevelDigit(p.LogicLevel())),
		Regex: regexp.MustCompile(levelRegex.String() + "|" + cannotWriteRegex.String()),
	})
	if !p.invoker.Invoke(cmd) {
		return fmt.Errorf("esp8266 pin %d: write failed", pinNum)
	}
	return nil
}

func (p *ESP8266Pin) readLogicLevel() (bool, error) {
	pinNum := p.pinNumber
	cmd := cmdengine.New(p, cmdengine.ReadState, cmdengine.Template{
		Text:  fmt.Sprintf("ir 0 %d", pinNum),
		Regex: levelRegex,
	})
	if !p.invoker.Invoke(cmd) {
		return false, fmt.Errorf("esp8266 pin %d: read failed", pinNum)
	}
	raw := p.lastGroups["logic_level"]
	lvl, err := strconv.Atoi(raw)
	if err != nil {
		return false, err
	}
	return boolLevel(strconv.Itoa(lvl)), nil
}

func (p *ESP8266Pin) SetValue(v bool) (bool, error) {
	return p.Apply(v, p.writeLogicLevel)
}

func (p *ESP8266Pin) GetValue() (bool, error) {
	return p.Read(p.readLogicLevel)
}
