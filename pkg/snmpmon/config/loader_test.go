package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snmpmon.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const fullConfig = `
monitor:
  interval_seconds: 30
  max_in_flight: 4
  timezone: UTC
  status_dir: /var/lib/snmpmon/status
  logs_dir: /var/lib/snmpmon/logs

notify:
  chat_ids: ["1001", "1002"]
  retries: 5

defaults:
  community: corpnet
  cpu_threshold: 70

devices:
  - name: router-1
    address: 10.0.0.1
    interfaces:
      - index: 1
        label: wan
      - index: 2
        label: lan
        counter64: true
  - name: router-2
    address: 10.0.0.2
    port: 1161
    community: special
    cpu_threshold: 95
    ram_threshold: 80
    oids:
      cpu: 1.3.6.1.4.1.9.9.109.1.1.1.1.7.1
`

func TestLoadFullConfig(t *testing.T) {
	loaded, err := Load(writeConfig(t, fullConfig), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(loaded.Registry) != 2 {
		t.Fatalf("got %d devices, want 2", len(loaded.Registry))
	}
	if loaded.Monitor.IntervalSeconds != 30 {
		t.Errorf("IntervalSeconds = %d, want 30", loaded.Monitor.IntervalSeconds)
	}
	if loaded.Location.String() != "UTC" {
		t.Errorf("Location = %s, want UTC", loaded.Location)
	}
	if len(loaded.Notify.ChatIDs) != 2 {
		t.Errorf("ChatIDs = %v, want 2 entries", loaded.Notify.ChatIDs)
	}

	r1 := loaded.Registry[0]
	if r1.Name != "router-1" {
		t.Fatalf("Registry[0] = %q, want router-1", r1.Name)
	}
	// Group default applies.
	if r1.Community != "corpnet" {
		t.Errorf("r1.Community = %q, want corpnet (from defaults)", r1.Community)
	}
	if r1.CPUThreshold != 70 {
		t.Errorf("r1.CPUThreshold = %v, want 70 (from defaults)", r1.CPUThreshold)
	}
	// Built-in defaults apply where neither entry nor defaults specify.
	if r1.Port != 161 {
		t.Errorf("r1.Port = %d, want 161", r1.Port)
	}
	if r1.RAMThreshold != 90 {
		t.Errorf("r1.RAMThreshold = %v, want 90", r1.RAMThreshold)
	}
	if r1.OIDs.CPU == "" || r1.OIDs.RAMTotal == "" || r1.OIDs.RAMUsed == "" {
		t.Errorf("r1.OIDs incomplete: %+v", r1.OIDs)
	}
	if len(r1.Interfaces) != 2 || !r1.Interfaces[1].Counter64 {
		t.Errorf("r1.Interfaces = %+v", r1.Interfaces)
	}

	// Per-device values win over defaults.
	r2 := loaded.Registry[1]
	if r2.Port != 1161 || r2.Community != "special" {
		t.Errorf("r2 transport = %d/%q, want 1161/special", r2.Port, r2.Community)
	}
	if r2.CPUThreshold != 95 || r2.RAMThreshold != 80 {
		t.Errorf("r2 thresholds = %v/%v, want 95/80", r2.CPUThreshold, r2.RAMThreshold)
	}
	if r2.OIDs.CPU != "1.3.6.1.4.1.9.9.109.1.1.1.1.7.1" {
		t.Errorf("r2.OIDs.CPU = %q, custom OID lost", r2.OIDs.CPU)
	}
}

func TestLoadSkipsMalformedAndDuplicateDevices(t *testing.T) {
	path := writeConfig(t, `
devices:
  - name: good
    address: 10.0.0.1
  - name: ""
    address: 10.0.0.2
  - name: no-address
  - name: good
    address: 10.0.0.3
  - name: bad-interface
    address: 10.0.0.4
    interfaces:
      - index: 0
        label: wan
`)

	loaded, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Registry) != 1 {
		t.Fatalf("got %d devices, want only the first valid one", len(loaded.Registry))
	}
	if loaded.Registry[0].Address != "10.0.0.1" {
		t.Errorf("surviving device = %+v, want the first occurrence", loaded.Registry[0])
	}
}

func TestLoadFailsWithNoValidDevices(t *testing.T) {
	if _, err := Load(writeConfig(t, "devices: []\n"), nil); err == nil {
		t.Error("Load accepted an empty registry")
	}
	if _, err := Load(writeConfig(t, "devices:\n  - name: x\n"), nil); err == nil {
		t.Error("Load accepted a registry with only malformed entries")
	}
}

func TestLoadUnknownTimezone(t *testing.T) {
	path := writeConfig(t, `
monitor:
  timezone: Mars/Olympus
devices:
  - name: router-1
    address: 10.0.0.1
`)
	if _, err := Load(path, nil); err == nil {
		t.Error("Load accepted an unknown timezone")
	}
}

func TestLoadDefaultTimezone(t *testing.T) {
	path := writeConfig(t, `
devices:
  - name: router-1
    address: 10.0.0.1
`)
	loaded, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Location.String() != "Asia/Jakarta" {
		t.Errorf("Location = %s, want Asia/Jakarta", loaded.Location)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Error("Load accepted a missing file")
	}
}

func TestTokenFromEnv(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "default-token")
	t.Setenv("CUSTOM_TOKEN", "custom-token")

	if got := (NotifyConfig{}).Token(); got != "default-token" {
		t.Errorf("Token() = %q, want default-token", got)
	}
	cfg := NotifyConfig{TelegramTokenEnv: "CUSTOM_TOKEN"}
	if got := cfg.Token(); got != "custom-token" {
		t.Errorf("Token() = %q, want custom-token", got)
	}
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv("SNMPMON_CONFIG_PATH", "")
	if got := PathFromEnv(); got != DefaultPath {
		t.Errorf("PathFromEnv() = %q, want %q", got, DefaultPath)
	}
	t.Setenv("SNMPMON_CONFIG_PATH", "/etc/snmpmon/config.yaml")
	if got := PathFromEnv(); got != "/etc/snmpmon/config.yaml" {
		t.Errorf("PathFromEnv() = %q", got)
	}
}
