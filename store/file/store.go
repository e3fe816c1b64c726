// Package file implements durable storage for monitor state: per-device
// current-state records, the daily accumulator snapshot, the script-level
// rollover checkpoint, and the append-only per-device-per-month sequence of
// finalized daily records.
//
// Writes of mutable state use atomic replace-on-write (temp file + rename) so
// an independent reader never observes a partially-written file. Daily records
// are JSON Lines, one record per line, append-only.
package file

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/opsdesk/snmpmon/models"
	"github.com/opsdesk/snmpmon/pkg/snmpmon/accumulate"
)

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// Config locates the storage trees.
type Config struct {
	// StatusDir holds mutable state files (device states, accumulator,
	// script state). Default "status".
	StatusDir string

	// LogsDir holds the per-device, per-month daily summaries, monthly
	// records, and archives. Default "logs".
	LogsDir string
}

func (c *Config) withDefaults() {
	if c.StatusDir == "" {
		c.StatusDir = "status"
	}
	if c.LogsDir == "" {
		c.LogsDir = "logs"
	}
}

// PersistError wraps a failed durable write. Persistence failures risk losing
// accumulated data, so callers surface them loudly.
type PersistError struct {
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("store: write %s: %v", e.Path, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// ─────────────────────────────────────────────────────────────────────────────
// Store
// ─────────────────────────────────────────────────────────────────────────────

// Store reads and writes all persisted monitor state. Writers follow the
// single-writer discipline (only the dispatch loop mutates state); readers
// may run in other processes and rely on the atomic-replace write pattern.
type Store struct {
	cfg    Config
	logger *slog.Logger
}

// New creates the storage directories and returns a Store.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	cfg.withDefaults()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	for _, dir := range []string{cfg.StatusDir, cfg.LogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
		}
	}
	return &Store{cfg: cfg, logger: logger}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Device state
// ─────────────────────────────────────────────────────────────────────────────

// SaveDeviceState atomically replaces the device's current-state file.
func (s *Store) SaveDeviceState(st models.PersistedDeviceState) error {
	return s.writeJSONAtomic(s.deviceStatePath(st.Device), st)
}

// LoadDeviceState reads the device's state. The second return is false when
// the device has never been persisted.
func (s *Store) LoadDeviceState(device string) (models.PersistedDeviceState, bool, error) {
	var st models.PersistedDeviceState
	ok, err := s.readJSON(s.deviceStatePath(device), &st)
	if ok && st.Interfaces == nil {
		st.Interfaces = make(map[int]models.InterfaceState)
	}
	return st, ok, err
}

// ─────────────────────────────────────────────────────────────────────────────
// Accumulator snapshot
// ─────────────────────────────────────────────────────────────────────────────

// SaveAccumulator atomically replaces the daily accumulator snapshot.
// Persisted every pass so a crash loses at most one cycle.
func (s *Store) SaveAccumulator(acc *accumulate.Daily) error {
	return s.writeJSONAtomic(s.accumulatorPath(), acc)
}

// LoadAccumulator reads the persisted accumulator snapshot, if any.
func (s *Store) LoadAccumulator() (*accumulate.Daily, bool, error) {
	var acc accumulate.Daily
	ok, err := s.readJSON(s.accumulatorPath(), &acc)
	if !ok || err != nil {
		return nil, ok, err
	}
	if acc.Devices == nil {
		acc.Devices = make(map[string]*accumulate.DeviceDay)
	}
	return &acc, true, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Script state
// ─────────────────────────────────────────────────────────────────────────────

// SaveScriptState atomically replaces the rollover checkpoint.
func (s *Store) SaveScriptState(st models.ScriptState) error {
	return s.writeJSONAtomic(s.scriptStatePath(), st)
}

// LoadScriptState reads the rollover checkpoint, returning a zero value when
// none exists yet.
func (s *Store) LoadScriptState() (models.ScriptState, error) {
	var st models.ScriptState
	_, err := s.readJSON(s.scriptStatePath(), &st)
	return st, err
}

// ─────────────────────────────────────────────────────────────────────────────
// Daily / monthly records
// ─────────────────────────────────────────────────────────────────────────────

// AppendDailyRecord appends one finalized record to the device's month file.
func (s *Store) AppendDailyRecord(rec models.DailyRecord) error {
	month := rec.Date
	if len(month) >= 7 {
		month = month[:7]
	}
	path := filepath.Join(s.MonthDir(rec.Device, month), "daily_summary.jsonl")

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal daily record: %w", err)
	}
	return s.appendLine(path, data)
}

// ReadDailyRecords returns all finalized daily records for a device-month.
// A missing file yields an empty slice; malformed lines are skipped with a
// warning so one corrupt line does not hide a month of data.
func (s *Store) ReadDailyRecords(device, month string) ([]models.DailyRecord, error) {
	path := filepath.Join(s.MonthDir(device, month), "daily_summary.jsonl")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	defer f.Close()

	var records []models.DailyRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec models.DailyRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			s.logger.Warn("store: skip malformed daily record",
				"file", path, "line", line, "error", err.Error())
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return records, fmt.Errorf("store: read %s: %w", path, err)
	}
	return records, nil
}

// SaveMonthlyRecord writes the finalized monthly record into the month dir.
func (s *Store) SaveMonthlyRecord(rec models.MonthlyRecord) error {
	path := filepath.Join(s.MonthDir(rec.Device, rec.Month), "monthly_summary.json")
	return s.writeJSONAtomic(path, rec)
}

// LoadMonthlyRecord reads a finalized monthly record, if present.
func (s *Store) LoadMonthlyRecord(device, month string) (models.MonthlyRecord, bool, error) {
	var rec models.MonthlyRecord
	path := filepath.Join(s.MonthDir(device, month), "monthly_summary.json")
	ok, err := s.readJSON(path, &rec)
	return rec, ok, err
}

// MonthDir returns the directory holding one device-month's records.
func (s *Store) MonthDir(device, month string) string {
	return filepath.Join(s.cfg.LogsDir, sanitize(device), month)
}

// ─────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ─────────────────────────────────────────────────────────────────────────────

func (s *Store) deviceStatePath(device string) string {
	return filepath.Join(s.cfg.StatusDir, sanitize(device)+".json")
}

func (s *Store) accumulatorPath() string {
	return filepath.Join(s.cfg.StatusDir, "daily_accumulator.json")
}

func (s *Store) scriptStatePath() string {
	return filepath.Join(s.cfg.StatusDir, "script_state.json")
}

// sanitize keeps device names usable as file names.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, name)
}

// writeJSONAtomic marshals v and replaces path atomically: write to a temp
// file in the same directory, fsync, rename. One retry on failure.
func (s *Store) writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", path, err)
	}

	err = replaceFile(path, data)
	if err != nil {
		s.logger.Warn("store: atomic write failed, retrying", "file", path, "error", err.Error())
		err = replaceFile(path, data)
	}
	if err != nil {
		return &PersistError{Path: path, Err: err}
	}
	return nil
}

func replaceFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// readJSON unmarshals path into v. Returns (false, nil) when the file does
// not exist.
func (s *Store) readJSON(path string, v interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("store: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("store: parse %s: %w", path, err)
	}
	return true, nil
}

// appendLine appends data plus a newline to path, creating parents as needed.
// One retry on failure.
func (s *Store) appendLine(path string, data []byte) error {
	err := appendOnce(path, data)
	if err != nil {
		s.logger.Warn("store: append failed, retrying", "file", path, "error", err.Error())
		err = appendOnce(path, data)
	}
	if err != nil {
		return &PersistError{Path: path, Err: err}
	}
	return nil
}

func appendOnce(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// noopWriter discards log output.
type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
