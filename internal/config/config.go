// internal/config/config.go
package config

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/flynn/json5"
	"gopkg.in/yaml.v3"

	"github.com/fisaks/mountlink/internal/logging"
)

/* =========================
   Types
   ========================= */

type Config struct {
	Mount        MountConfig  `yaml:"mount" json:"mount"`
	Cycles       CycleConfig  `yaml:"cycles" json:"cycles"`
	Workers      int          `yaml:"workers" json:"workers"`           // worker pool size
	SettleFlipMs int          `yaml:"settleFlipMs" json:"settleFlipMs"` // settle delay after a pier flip
	ClockSamples int          `yaml:"clockSamples" json:"clockSamples"` // clock ring buffer length
	Dome         *DomeConfig  `yaml:"dome" json:"dome"`
	MQTT         *MQTTConfig  `yaml:"mqtt" json:"mqtt"`
	Redis        *RedisConfig `yaml:"redis" json:"redis"`
}

type MountConfig struct {
	Host             string `yaml:"host" json:"host"`
	Port             int    `yaml:"port" json:"port"`
	MacAddress       string `yaml:"macAddress" json:"macAddress"`
	Broadcast        string `yaml:"broadcast" json:"broadcast"`
	SocketTimeoutMs  int    `yaml:"socketTimeoutMs" json:"socketTimeoutMs"`
	ConnectTimeoutMs int    `yaml:"connectTimeoutMs" json:"connectTimeoutMs"`
}

type CycleConfig struct {
	PointingMs int `yaml:"pointingMs" json:"pointingMs"`
	DomeMs     int `yaml:"domeMs" json:"domeMs"`
	ClockMs    int `yaml:"clockMs" json:"clockMs"`
	LivenessMs int `yaml:"livenessMs" json:"livenessMs"`
	SettingsMs int `yaml:"settingsMs" json:"settingsMs"`
}

type DomeConfig struct {
	Type      string `yaml:"type" json:"type"` // "rtu" | "tcp"
	TCPAddr   string `yaml:"tcpAddr" json:"tcpAddr"`
	Port      string `yaml:"port" json:"port"`
	Baud      int    `yaml:"baud" json:"baud"`
	DataBits  int    `yaml:"dataBits" json:"dataBits"`
	StopBits  int    `yaml:"stopBits" json:"stopBits"`
	Parity    string `yaml:"parity" json:"parity"`
	UnitId    uint8  `yaml:"unitId" json:"unitId"`
	TimeoutMs int    `yaml:"timeoutMs" json:"timeoutMs"`
	Debug     bool   `yaml:"debug" json:"debug"`
}

type MQTTConfig struct {
	BrokerURL        string `yaml:"brokerUrl" json:"brokerUrl"`
	ClientName       string `yaml:"clientName" json:"clientName"`
	TopicPrefix      string `yaml:"topicPrefix" json:"topicPrefix"`
	HeartbeatSeconds int    `yaml:"heartbeatSeconds" json:"heartbeatSeconds"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	KeyPrefix string `yaml:"keyPrefix" json:"keyPrefix"`
}

/* =========================
   Helpers
   ========================= */

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (m MountConfig) SocketTimeout() time.Duration  { return ms(m.SocketTimeoutMs) }
func (m MountConfig) ConnectTimeout() time.Duration { return ms(m.ConnectTimeoutMs) }

func (c CycleConfig) Pointing() time.Duration { return ms(c.PointingMs) }
func (c CycleConfig) Dome() time.Duration     { return ms(c.DomeMs) }
func (c CycleConfig) Clock() time.Duration    { return ms(c.ClockMs) }
func (c CycleConfig) Liveness() time.Duration { return ms(c.LivenessMs) }
func (c CycleConfig) Settings() time.Duration { return ms(c.SettingsMs) }

func (c *Config) SettleFlip() time.Duration { return ms(c.SettleFlipMs) }

func (d DomeConfig) Timeout() time.Duration { return ms(d.TimeoutMs) }

func (d DomeConfig) Address() string {
	if d.Type == "rtu" {
		return d.Port
	}
	return d.TCPAddr
}

func (m MQTTConfig) Heartbeat() time.Duration {
	return time.Duration(m.HeartbeatSeconds) * time.Second
}

/* =========================
   Strict load + validate
   ========================= */

// Load reads a YAML (.yaml, .yml) or JSON5 (.json, .json5) file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return Parse(raw, format)
}

func Parse(raw []byte, format string) (*Config, error) {
	var cfg Config
	switch format {
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
	case "json", "json5":
		if err := json5.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("invalid JSON5: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate fills defaults and reports every problem found.
func (c *Config) Validate() error {
	var errs multiErr

	/* Mount */
	if strings.TrimSpace(c.Mount.Host) == "" {
		errs.add("mount.host is required")
	}
	if c.Mount.Port == 0 {
		c.Mount.Port = 3490
	}
	if c.Mount.Port < 0 || c.Mount.Port > 65535 {
		errs.addf("mount.port %d out of range", c.Mount.Port)
	}
	if c.Mount.MacAddress != "" {
		if _, err := net.ParseMAC(c.Mount.MacAddress); err != nil {
			errs.addf("mount.macAddress: %v", err)
		}
	}
	defaultMs(&c.Mount.SocketTimeoutMs, 2000)
	defaultMs(&c.Mount.ConnectTimeoutMs, 2000)

	/* Cycles */
	defaultMs(&c.Cycles.PointingMs, 500)
	defaultMs(&c.Cycles.DomeMs, 950)
	defaultMs(&c.Cycles.ClockMs, 1000)
	defaultMs(&c.Cycles.LivenessMs, 1000)
	defaultMs(&c.Cycles.SettingsMs, 3000)
	for name, v := range map[string]int{
		"pointingMs": c.Cycles.PointingMs,
		"domeMs":     c.Cycles.DomeMs,
		"clockMs":    c.Cycles.ClockMs,
		"livenessMs": c.Cycles.LivenessMs,
		"settingsMs": c.Cycles.SettingsMs,
	} {
		if v < 0 {
			errs.addf("cycles.%s must be > 0", name)
		}
	}

	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.Workers < 0 {
		errs.add("workers must be > 0")
	}
	defaultMs(&c.SettleFlipMs, 10000)
	if c.SettleFlipMs < 0 {
		errs.add("settleFlipMs cannot be negative")
	}
	if c.ClockSamples == 0 {
		c.ClockSamples = 5
	}
	if c.ClockSamples < 0 {
		errs.add("clockSamples must be > 0")
	}

	/* Dome */
	if d := c.Dome; d != nil {
		switch strings.ToLower(d.Type) {
		case "tcp":
			d.Type = "tcp"
			if strings.TrimSpace(d.TCPAddr) == "" {
				errs.add("dome: tcpAddr is required for type=tcp")
			}
		case "rtu":
			d.Type = "rtu"
			if strings.TrimSpace(d.Port) == "" {
				errs.add("dome: port is required for type=rtu")
			}
			if d.Baud <= 0 {
				errs.add("dome: baud must be > 0 for type=rtu")
			}
			if d.DataBits == 0 {
				d.DataBits = 8
			}
			if d.StopBits == 0 {
				d.StopBits = 1
			}
			if d.Parity == "" {
				d.Parity = "N"
			}
			d.Parity = strings.ToUpper(d.Parity)
			if !slices.Contains([]string{"N", "E", "O"}, d.Parity) {
				errs.add("dome: parity must be one of N,E,O")
			}
		default:
			errs.add("dome: type must be 'rtu' or 'tcp'")
		}
		if d.UnitId == 0 {
			d.UnitId = 1
		}
		if d.UnitId > 247 {
			errs.add("dome: unitId must be 1..247")
		}
		if d.TimeoutMs <= 0 {
			d.TimeoutMs = 500
		}
	}

	/* MQTT */
	if m := c.MQTT; m != nil {
		if strings.TrimSpace(m.BrokerURL) == "" {
			errs.add("mqtt: brokerUrl is required")
		}
		if m.ClientName == "" {
			m.ClientName = "mountd"
		}
		if m.TopicPrefix == "" {
			m.TopicPrefix = "mount"
		}
		m.TopicPrefix = strings.TrimSuffix(m.TopicPrefix, "/")
		if m.HeartbeatSeconds < 0 {
			m.HeartbeatSeconds = 60
		}
		if m.HeartbeatSeconds == 0 {
			logging.Warn("mqtt.heartbeatSeconds=0 configured, heartbeats disabled")
		}
	}

	/* Redis */
	if r := c.Redis; r != nil {
		if strings.TrimSpace(r.Addr) == "" {
			errs.add("redis: addr is required")
		}
		if r.KeyPrefix == "" {
			r.KeyPrefix = "mount"
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func defaultMs(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

// small multi-error
type multiErr []string

func (m *multiErr) add(s string)            { *m = append(*m, s) }
func (m *multiErr) addf(f string, a ...any) { *m = append(*m, fmt.Sprintf(f, a...)) }
func (m multiErr) Error() string            { return "validation errors: " + strings.Join(m, "; ") }
