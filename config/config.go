// Package config loads and validates the emulator's YAML configuration,
// merging caller overrides onto a set of documented defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	IPMI     IPMIConfig    `yaml:"ipmi"`
	Targets  []TargetEntry `yaml:"targets"`
	Logs     LogsConfig    `yaml:"logs"`
	Server   ServerConfig  `yaml:"server"`
	DataDir  string        `yaml:"data_dir"`
}

// IPMIConfig controls the UDP RMCP+/IPMI listener shared by every target.
type IPMIConfig struct {
	Port int `yaml:"port"`
}

// TargetEntry describes one virtual BMC: its IPMB address, which chassis
// policy drives it, and the pin/telnet wiring behind that policy.
type TargetEntry struct {
	Name       string `yaml:"name"`
	IPMBAddr   byte   `yaml:"ipmb_addr"`
	Kind       string `yaml:"kind"` // "esp8266", "esp8266-wol", "local-gpio"
	BootDevice string `yaml:"boot_device"`

	GPIO   GPIOConfig   `yaml:"gpio"`
	Telnet TelnetConfig `yaml:"telnet"`
	UART   UARTConfig   `yaml:"uart"`
	WOL    WOLConfig    `yaml:"wol"`

	Durations ChassisDurations `yaml:"durations"`
}

type GPIOConfig struct {
	StatusPin             *int `yaml:"status_pin"`
	PowerPin              *int `yaml:"power_pin"`
	ResetPin              *int `yaml:"reset_pin"`
	InvertStatusPinLogic  bool `yaml:"invert_status_pin_logic"`
	InvertPowerPinLogic   bool `yaml:"invert_power_pin_logic"`
	InvertResetPinLogic   bool `yaml:"invert_reset_pin_logic"`
}

type TelnetConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	CRLF              string        `yaml:"crlf"`
	ResponseTimeout   time.Duration `yaml:"response_timeout"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	ConnectionRetries int           `yaml:"connection_retries"`
}

type UARTConfig struct {
	BridgePort int    `yaml:"bridge_port"`
	TxPin      int    `yaml:"tx_pin"`
	RxPin      int    `yaml:"rx_pin"`
	Baud       int    `yaml:"baud"`
	DataBits   int    `yaml:"data_bits"`
	StopBits   int    `yaml:"stop_bits"`
	Parity     string `yaml:"parity"` // none, even, odd
}

type WOLConfig struct {
	MAC  string `yaml:"mac"`
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
}

type ChassisDurations struct {
	PowerOffPress time.Duration `yaml:"power_off_press"`
	PowerOnPress  time.Duration `yaml:"power_on_press"`
	CycleOffPress time.Duration `yaml:"cycle_off_press"`
	CycleWait     time.Duration `yaml:"cycle_wait"`
	CycleOnPress  time.Duration `yaml:"cycle_on_press"`
	ResetPress    time.Duration `yaml:"reset_press"`
	ShutdownPress time.Duration `yaml:"shutdown_press"`
	ShutdownWait  time.Duration `yaml:"shutdown_wait"`
}

type LogsConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

func intPtr(v int) *int { return &v }

// defaultDurations mirrors the seconds-valued defaults in spec §4.4.
func defaultDurations() ChassisDurations {
	return ChassisDurations{
		PowerOffPress: 5 * time.Second,
		PowerOnPress:  1 * time.Second,
		CycleOffPress: 5 * time.Second,
		CycleWait:     1 * time.Second,
		CycleOnPress:  1 * time.Second,
		ResetPress:    1 * time.Second,
		ShutdownPress: 1 * time.Second,
		ShutdownWait:  20 * time.Second,
	}
}

func defaultGPIO() GPIOConfig {
	return GPIOConfig{
		StatusPin:           intPtr(2),
		PowerPin:            intPtr(0),
		ResetPin:            nil,
		InvertPowerPinLogic: true,
	}
}

func defaultTelnet() TelnetConfig {
	return TelnetConfig{
		Host:              "192.168.4.1",
		Port:              24,
		CRLF:              "\r\n",
		ResponseTimeout:   150 * time.Millisecond,
		ConnectionTimeout: 2100 * time.Millisecond,
		ConnectionRetries: 1,
	}
}

func defaultUART() UARTConfig {
	return UARTConfig{
		BridgePort: 23,
		TxPin:      1,
		RxPin:      3,
		Baud:       9600,
		DataBits:   8,
		StopBits:   1,
		Parity:     "none",
	}
}

func defaultWOL() WOLConfig {
	return WOLConfig{
		MAC:  "AA:BB:CC:DD:EE:FF",
		IP:   "255.255.255.255",
		Port: 9,
	}
}

// Load reads path, merging it onto documented defaults the same way the
// source's per-module default dicts used to be merged: start from a fully
// populated struct and let YAML only override what the caller sets.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		IPMI: IPMIConfig{Port: 623},
		Logs: LogsConfig{
			Path:          "/data/logs",
			RetentionDays: 30,
		},
		Server:  ServerConfig{Port: 8080},
		DataDir: "/data",
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	for i := range cfg.Targets {
		applyTargetDefaults(&cfg.Targets[i])
	}

	return cfg, validate(cfg)
}

// UnmarshalYAML seeds every per-target section with its defaults before
// decoding, so a target that sets only some keys of a section keeps the
// defaults for the rest (yaml.v3 only overwrites keys actually present).
func (t *TargetEntry) UnmarshalYAML(value *yaml.Node) error {
	type plain TargetEntry
	p := plain{
		BootDevice: "default",
		GPIO:       defaultGPIO(),
		Telnet:     defaultTelnet(),
		UART:       defaultUART(),
		WOL:        defaultWOL(),
		Durations:  defaultDurations(),
	}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*t = TargetEntry(p)
	return nil
}

// applyTargetDefaults replaces any per-target section that is still
// entirely at its zero value with the defaults, and fills an empty boot
// device. Targets decoded by UnmarshalYAML already carry the defaults,
// so for them this only changes a section whose every field was written
// out as a zero value.
func applyTargetDefaults(t *TargetEntry) {
	zeroGPIO := GPIOConfig{}
	if t.GPIO == zeroGPIO {
		t.GPIO = defaultGPIO()
	}
	zeroTelnet := TelnetConfig{}
	if t.Telnet == zeroTelnet {
		t.Telnet = defaultTelnet()
	}
	zeroUART := UARTConfig{}
	if t.UART == zeroUART {
		t.UART = defaultUART()
	}
	zeroWOL := WOLConfig{}
	if t.WOL == zeroWOL {
		t.WOL = defaultWOL()
	}
	zeroDur := ChassisDurations{}
	if t.Durations == zeroDur {
		t.Durations = defaultDurations()
	}
	if t.BootDevice == "" {
		t.BootDevice = "default"
	}
}

func validate(cfg *Config) error {
	seen := map[byte]bool{}
	for _, t := range cfg.Targets {
		if t.Name == "" {
			return fmt.Errorf("target with empty name")
		}
		if seen[t.IPMBAddr] {
			return fmt.Errorf("duplicate ipmb_addr %#x for target %q", t.IPMBAddr, t.Name)
		}
		seen[t.IPMBAddr] = true
		switch t.Kind {
		case "esp8266", "esp8266-wol", "local-gpio":
		default:
			return fmt.Errorf("target %q: unknown kind %q", t.Name, t.Kind)
		}
	}
	return nil
}
