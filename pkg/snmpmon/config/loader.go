// Package config loads the monitor's YAML configuration: the device registry,
// polling options, and notification settings.
//
// The registry is loaded once at startup and immutable for the process
// lifetime. A structurally broken device entry (missing name or address)
// fails only that device; the rest of the registry continues to load.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opsdesk/snmpmon/models"
)

// DefaultPath is the configuration file used when none is specified.
const DefaultPath = "snmpmon.yaml"

// PathFromEnv returns SNMPMON_CONFIG_PATH, falling back to DefaultPath.
func PathFromEnv() string {
	return envOr("SNMPMON_CONFIG_PATH", DefaultPath)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ─────────────────────────────────────────────────────────────────────────────
// Schema
// ─────────────────────────────────────────────────────────────────────────────

// MonitorConfig holds polling-loop settings.
type MonitorConfig struct {
	IntervalSeconds     int     `yaml:"interval_seconds"`
	MaxInFlight         int     `yaml:"max_in_flight"`
	FetchTimeoutSeconds int     `yaml:"fetch_timeout_seconds"`
	Timezone            string  `yaml:"timezone"`
	StatusDir           string  `yaml:"status_dir"`
	LogsDir             string  `yaml:"logs_dir"`
	MaxRateBytesPerSec  float64 `yaml:"max_rate_bytes_per_sec"`
}

// NotifyConfig holds notification settings. The bot token itself is read from
// the environment, never from the file.
type NotifyConfig struct {
	// TelegramTokenEnv names the environment variable holding the bot token.
	// Default "TELEGRAM_BOT_TOKEN". An unset variable disables Telegram
	// delivery (notifications go to the log).
	TelegramTokenEnv string `yaml:"telegram_token_env"`

	// ChatIDs are the recipient identifiers.
	ChatIDs []string `yaml:"chat_ids"`

	Retries            int `yaml:"retries"`
	RetryDelaySeconds  int `yaml:"retry_delay_seconds"`
	MinIntervalSeconds int `yaml:"min_interval_seconds"`
}

// Token resolves the bot token from the environment.
func (n NotifyConfig) Token() string {
	env := n.TelegramTokenEnv
	if env == "" {
		env = "TELEGRAM_BOT_TOKEN"
	}
	return os.Getenv(env)
}

type rawDefaults struct {
	Community    string  `yaml:"community"`
	Port         uint16  `yaml:"port"`
	TimeoutMS    int     `yaml:"timeout_ms"`
	Retries      int     `yaml:"retries"`
	CPUThreshold float64 `yaml:"cpu_threshold"`
	RAMThreshold float64 `yaml:"ram_threshold"`
}

type rawDevice struct {
	Name         string                 `yaml:"name"`
	Address      string                 `yaml:"address"`
	Port         uint16                 `yaml:"port"`
	Community    string                 `yaml:"community"`
	TimeoutMS    int                    `yaml:"timeout_ms"`
	Retries      int                    `yaml:"retries"`
	CPUThreshold float64                `yaml:"cpu_threshold"`
	RAMThreshold float64                `yaml:"ram_threshold"`
	OIDs         models.MetricOIDs      `yaml:"oids"`
	Interfaces   []models.InterfaceSpec `yaml:"interfaces"`
}

type fileSchema struct {
	Devices  []rawDevice   `yaml:"devices"`
	Defaults rawDefaults   `yaml:"defaults"`
	Monitor  MonitorConfig `yaml:"monitor"`
	Notify   NotifyConfig  `yaml:"notify"`
}

// Loaded is the fully resolved configuration.
type Loaded struct {
	// Registry is the ordered, immutable device list.
	Registry []models.DeviceDescriptor

	Monitor MonitorConfig
	Notify  NotifyConfig

	// Location is the resolved fixed time zone for calendar boundaries.
	Location *time.Location
}

// ─────────────────────────────────────────────────────────────────────────────
// Load
// ─────────────────────────────────────────────────────────────────────────────

// Load reads and resolves the configuration file at path. Malformed device
// entries are skipped with a warning; Load fails only when the file itself is
// unreadable, the time zone is unknown, or no valid devices remain.
func Load(path string, logger *slog.Logger) (*Loaded, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}

	var raw fileSchema
	if err := decodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	tz := raw.Monitor.Timezone
	if tz == "" {
		tz = "Asia/Jakarta"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("config: unknown timezone %q: %w", tz, err)
	}

	seen := make(map[string]bool)
	registry := make([]models.DeviceDescriptor, 0, len(raw.Devices))
	for i, entry := range raw.Devices {
		dev, err := resolveDevice(entry, raw.Defaults)
		if err != nil {
			logger.Warn("config: skip malformed device entry",
				"index", i, "name", entry.Name, "error", err.Error())
			continue
		}
		if seen[dev.Name] {
			logger.Warn("config: skip duplicate device name", "name", dev.Name)
			continue
		}
		seen[dev.Name] = true
		registry = append(registry, dev)
	}
	if len(registry) == 0 {
		return nil, fmt.Errorf("config: %s: no valid devices", path)
	}

	logger.Info("config: registry loaded",
		"file", path,
		"devices", len(registry),
		"skipped", len(raw.Devices)-len(registry),
		"timezone", loc.String(),
	)
	return &Loaded{
		Registry: registry,
		Monitor:  raw.Monitor,
		Notify:   raw.Notify,
		Location: loc,
	}, nil
}

// resolveDevice merges a raw entry with defaults, producing a fully resolved
// descriptor, or an error when structurally required fields are missing.
func resolveDevice(e rawDevice, d rawDefaults) (models.DeviceDescriptor, error) {
	var zero models.DeviceDescriptor
	if e.Name == "" {
		return zero, fmt.Errorf("device name is required")
	}
	if e.Address == "" {
		return zero, fmt.Errorf("device address is required")
	}
	for _, ifc := range e.Interfaces {
		if ifc.Index <= 0 {
			return zero, fmt.Errorf("interface %q: index must be positive", ifc.Label)
		}
		if ifc.Label == "" {
			return zero, fmt.Errorf("interface index %d: label is required", ifc.Index)
		}
	}

	port := e.Port
	if port == 0 {
		port = d.Port
	}
	if port == 0 {
		port = 161
	}

	community := e.Community
	if community == "" {
		community = d.Community
	}
	if community == "" {
		community = "public"
	}

	timeout := e.TimeoutMS
	if timeout == 0 {
		timeout = d.TimeoutMS
	}
	if timeout == 0 {
		timeout = 2000
	}

	retries := e.Retries
	if retries == 0 {
		retries = d.Retries
	}
	if retries == 0 {
		retries = 2
	}

	cpuThresh := e.CPUThreshold
	if cpuThresh == 0 {
		cpuThresh = d.CPUThreshold
	}
	if cpuThresh == 0 {
		cpuThresh = 85
	}

	ramThresh := e.RAMThreshold
	if ramThresh == 0 {
		ramThresh = d.RAMThreshold
	}
	if ramThresh == 0 {
		ramThresh = 90
	}

	oids := e.OIDs
	if oids.CPU == "" {
		oids.CPU = models.DefaultCPUOID
	}
	if oids.RAMTotal == "" {
		oids.RAMTotal = models.DefaultRAMTotalOID
	}
	if oids.RAMUsed == "" {
		oids.RAMUsed = models.DefaultRAMUsedOID
	}

	return models.DeviceDescriptor{
		Name:         e.Name,
		Address:      e.Address,
		Port:         port,
		Community:    community,
		TimeoutMS:    timeout,
		Retries:      retries,
		CPUThreshold: cpuThresh,
		RAMThreshold: ramThresh,
		OIDs:         oids,
		Interfaces:   append([]models.InterfaceSpec(nil), e.Interfaces...),
	}, nil
}

// decodeFile opens path and unmarshals the YAML content into out.
func decodeFile(path string, out interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(false) // tolerate extra keys
	return dec.Decode(out)
}

// noopWriter discards log output.
type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
