package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const yamlConfig = `
mount:
  host: 192.168.1.50
  macAddress: "00:c0:08:87:35:db"
cycles:
  pointingMs: 250
dome:
  type: TCP
  tcpAddr: 127.0.0.1:5020
mqtt:
  brokerUrl: tcp://localhost:1883
  topicPrefix: observatory/mount/
`

func TestParseYAMLDefaults(t *testing.T) {
	cfg, err := Parse([]byte(yamlConfig), "yaml")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Mount.Port != 3490 || cfg.Mount.SocketTimeout() != 2*time.Second {
		t.Errorf("mount defaults not applied: %+v", cfg.Mount)
	}
	if cfg.Cycles.Pointing() != 250*time.Millisecond || cfg.Cycles.Settings() != 3*time.Second {
		t.Errorf("cycles: %+v", cfg.Cycles)
	}
	if cfg.Workers != 4 || cfg.ClockSamples != 5 || cfg.SettleFlip() != 10*time.Second {
		t.Errorf("orchestrator defaults: workers=%d samples=%d settle=%v", cfg.Workers, cfg.ClockSamples, cfg.SettleFlip())
	}
	if cfg.Dome == nil || cfg.Dome.Type != "tcp" || cfg.Dome.UnitId != 1 || cfg.Dome.Address() != "127.0.0.1:5020" {
		t.Errorf("dome: %+v", cfg.Dome)
	}
	if cfg.MQTT.TopicPrefix != "observatory/mount" || cfg.MQTT.ClientName != "mountd" {
		t.Errorf("mqtt: %+v", cfg.MQTT)
	}
	if cfg.Redis != nil {
		t.Error("redis should stay unset")
	}
}

func TestParseYAMLUnknownField(t *testing.T) {
	_, err := Parse([]byte("mount:\n  host: a\n  hots: b\n"), "yaml")
	if err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestParseJSON5(t *testing.T) {
	raw := `{
		// mount on the pier
		mount: {host: "mount.local", port: 3492},
		workers: 2,
		redis: {addr: "localhost:6379"},
	}`
	cfg, err := Parse([]byte(raw), "json5")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Mount.Host != "mount.local" || cfg.Mount.Port != 3492 || cfg.Workers != 2 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Redis == nil || cfg.Redis.KeyPrefix != "mount" {
		t.Errorf("redis: %+v", cfg.Redis)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Config{
		Mount: MountConfig{Port: 70000, MacAddress: "nope"},
		Dome:  &DomeConfig{Type: "rtu", Parity: "x"},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"mount.host", "mount.port", "macAddress", "port is required", "baud", "parity"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %v", want, err)
		}
	}
}

func TestLoadByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mountd.yml")
	if err := os.WriteFile(path, []byte("mount:\n  host: 10.0.0.2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mount.Host != "10.0.0.2" {
		t.Errorf("host %q", cfg.Mount.Host)
	}

	if _, err := Load(filepath.Join(dir, "mountd.toml")); err == nil {
		t.Error("missing file accepted")
	}
	if _, err := Parse(nil, "toml"); err == nil {
		t.Error("unknown format accepted")
	}
}
