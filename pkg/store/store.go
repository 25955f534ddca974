// Package store provides the durable, file-backed persistence layer: one
// JSON file per recorded match plus a single file for the arena session
// state. All writes are atomic (temp file + rename); all reads tolerate
// missing or malformed files by logging and skipping rather than failing.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ebot1234/var-coordinator/pkg/models"
)

const (
	arenaClientStateFile = "arena_client.json"
	matchesDir           = "matches"
)

// Store is the durable persistence layer rooted at a single data directory.
type Store struct {
	dataDir string
	log     *slog.Logger
}

// New creates a Store rooted at dataDir, creating the directory (and its
// matches subdirectory) if it does not yet exist.
func New(dataDir string) (*Store, error) {
	s := &Store{
		dataDir: dataDir,
		log:     slog.With("component", "store"),
	}
	if err := os.MkdirAll(s.matchesDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return s, nil
}

func (s *Store) matchesDir() string {
	return filepath.Join(s.dataDir, matchesDir)
}

func (s *Store) matchPath(internalID string) string {
	return filepath.Join(s.matchesDir(), internalID+".json")
}

// writeAtomic marshals v as pretty JSON (nulls omitted via struct tags) and
// writes it to path by writing a temp file in the same directory and
// renaming over the destination, so a reader never observes a partial file.
func writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op if the rename below succeeded

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// LoadArenaClientState loads the persisted arena session credential. Returns
// (nil, nil) if no state has ever been saved, and (nil, nil) — logged — if
// the file exists but fails to parse.
func (s *Store) LoadArenaClientState() (*models.ArenaClientState, error) {
	path := filepath.Join(s.dataDir, arenaClientStateFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read arena client state: %w", err)
	}

	var state models.ArenaClientState
	if err := json.Unmarshal(data, &state); err != nil {
		s.log.Warn("arena client state file is malformed, ignoring", "path", path, "error", err)
		return nil, nil
	}
	return &state, nil
}

// SaveArenaClientState persists the arena session credential.
func (s *Store) SaveArenaClientState(state *models.ArenaClientState) error {
	path := filepath.Join(s.dataDir, arenaClientStateFile)
	if err := writeAtomic(path, state); err != nil {
		return fmt.Errorf("save arena client state: %w", err)
	}
	return nil
}

// ListMatchIDs returns the internal ids of every match file in the data
// directory, derived by globbing (no index file is maintained).
func (s *Store) ListMatchIDs() ([]string, error) {
	entries, err := filepath.Glob(filepath.Join(s.matchesDir(), "*.json"))
	if err != nil {
		return nil, fmt.Errorf("glob matches directory: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		base := filepath.Base(entry)
		ids = append(ids, strings.TrimSuffix(base, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// LoadMatch loads a single recorded match by internal id. Returns (nil, nil)
// if the file does not exist or fails schema validation (logged, not
// fatal) — callers must treat a nil, nil result as "no such match".
func (s *Store) LoadMatch(internalID string) (*models.RecordedMatch, error) {
	path := s.matchPath(internalID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read match %q: %w", internalID, err)
	}

	var match models.RecordedMatch
	if err := json.Unmarshal(data, &match); err != nil {
		s.log.Warn("match file is malformed, skipping", "internal_id", internalID, "error", err)
		return nil, nil
	}
	if match.InternalID == "" {
		s.log.Warn("match file missing internal_id, skipping", "path", path)
		return nil, nil
	}
	return &match, nil
}

// SaveMatch persists a recorded match, overwriting any existing file for
// its internal id.
func (s *Store) SaveMatch(match *models.RecordedMatch) error {
	if err := writeAtomic(s.matchPath(match.InternalID), match); err != nil {
		return fmt.Errorf("save match %q: %w", match.InternalID, err)
	}
	return nil
}

// LoadAllMatches loads every match in the data directory, skipping any file
// that is missing or fails to parse (logged by LoadMatch).
func (s *Store) LoadAllMatches() (map[string]*models.RecordedMatch, error) {
	ids, err := s.ListMatchIDs()
	if err != nil {
		return nil, err
	}

	matches := make(map[string]*models.RecordedMatch, len(ids))
	for _, id := range ids {
		match, err := s.LoadMatch(id)
		if err != nil {
			s.log.Warn("failed to load match, skipping", "internal_id", id, "error", err)
			continue
		}
		if match == nil {
			continue
		}
		matches[id] = match
	}
	return matches, nil
}
