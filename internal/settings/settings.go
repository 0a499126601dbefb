// Package settings implements Risk & Settings (spec §4.G): the runtime
// min-confidence/auto-trade gates, atomically persisted to a single JSON
// file on every update.
//
// No atomic-rename pattern exists anywhere in the teacher repo (grepped
// for os.Rename/O_CREATE/TempFile — only a plain os.WriteFile for a
// deployment status file); this persistence layer is therefore hand-rolled
// using the standard write-temp-then-rename idiom, justified in DESIGN.md.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/tradebridge/internal/market"
)

// Broadcaster publishes a Settings change to Dashboard subscribers
// (current_settings channel, spec §3/§4.G), via a narrow interface so
// this package never depends on the Subscriber Hub directly.
type Broadcaster interface {
	BroadcastSettings(market.Settings)
}

// Store is the Risk & Settings component.
type Store struct {
	log  zerolog.Logger
	path string
	bc   Broadcaster

	mu       sync.Mutex
	settings market.Settings
}

// New builds a Store, loading persisted Settings from path if present
// (spec §3: "Process start MUST load and adopt persisted values if the
// file exists"), otherwise seeding from defaults.
func New(log zerolog.Logger, path string, defaults market.Settings, bc Broadcaster) (*Store, error) {
	s := &Store{
		log:      log.With().Str("component", "settings").Logger(),
		path:     path,
		bc:       bc,
		settings: defaults,
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var loaded market.Settings
		if jsonErr := json.Unmarshal(data, &loaded); jsonErr != nil {
			return nil, fmt.Errorf("settings: parse %s: %w", path, jsonErr)
		}
		s.settings = loaded
		s.log.Info().Str("path", path).Msg("loaded persisted settings")
	case os.IsNotExist(err):
		s.log.Info().Str("path", path).Msg("no persisted settings, using defaults")
	default:
		return nil, fmt.Errorf("settings: read %s: %w", path, err)
	}

	return s, nil
}

// Get returns the current Settings.
func (s *Store) Get() market.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Update applies patch fields, persists atomically, and broadcasts the
// effective Settings before returning — spec §4.G: "atomic read-modify-
// persist-then-ack."
func (s *Store) Update(patch map[string]any) (market.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	effective := s.settings
	if v, ok := patch["min_confidence"]; ok {
		if f, ok := toFloat(v); ok {
			effective.MinConfidence = clamp01(f)
		}
	}
	if v, ok := patch["auto_trading_enabled"]; ok {
		if b, ok := v.(bool); ok {
			effective.AutoTradingEnabled = b
		}
	}

	if err := s.persist(effective); err != nil {
		return s.settings, err
	}

	s.settings = effective
	if s.bc != nil {
		s.bc.BroadcastSettings(effective)
	}
	return effective, nil
}

// persist writes settings to s.path, atomically.
func (s *Store) persist(settings market.Settings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("settings: marshal: %w", err)
	}
	return writeAtomic(s.path, data)
}

// Backup writes the current Settings to path (e.g. a `.bak` sibling of the
// primary settings file), atomically. Intended to be called periodically
// by the Supervisor's maintenance loop as a belt-and-suspenders recovery
// copy alongside the always-current primary file (spec §4.G/§6).
func (s *Store) Backup(path string) error {
	s.mu.Lock()
	settings := s.settings
	s.mu.Unlock()

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("settings: marshal backup: %w", err)
	}
	return writeAtomic(path, data)
}

// writeAtomic writes data to a temp file in path's directory, then renames
// it over path — rename is atomic on the same filesystem, so a reader
// never observes a partially-written file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".settings-*.tmp")
	if err != nil {
		return fmt.Errorf("settings: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("settings: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("settings: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("settings: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("settings: rename into place: %w", err)
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
