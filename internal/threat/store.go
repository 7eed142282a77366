package threat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
)

// Store is the in-memory list of confirmed threats backed by a JSON snapshot.
// It keeps insertion order and at most one entry per ID. A Store is owned by
// the driver loop and is not safe for concurrent use.
type Store struct {
	path    string
	threats []Threat
	index   map[string]int
}

// Open loads the snapshot at path. A missing or empty file yields an empty
// store; a file that is not a JSON list of threats is an error.
func Open(path string) (*Store, error) {
	threats, err := ReadFile(path)
	if err != nil {
		return nil, err
	}

	s := &Store{path: path, threats: make([]Threat, 0, len(threats)), index: make(map[string]int, len(threats))}
	for _, t := range threats {
		if !s.Append(t) {
			slog.Warn("threat: duplicate entry in snapshot ignored", "cve_id", t.ID, "path", path)
		}
	}
	return s, nil
}

// ReadFile decodes the snapshot at path without opening a Store. Missing and
// empty files read as no threats.
func ReadFile(path string) ([]Threat, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []Threat{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading threat snapshot: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []Threat{}, nil
	}

	var threats []Threat
	if err := json.Unmarshal(data, &threats); err != nil {
		return nil, fmt.Errorf("decoding threat snapshot %s: %w", path, err)
	}
	if threats == nil {
		threats = []Threat{}
	}
	return threats, nil
}

// Path returns the snapshot location.
func (s *Store) Path() string { return s.path }

// Append adds t unless a threat with the same ID is already stored. The first
// stored entry always wins. Reports whether t was added.
func (s *Store) Append(t Threat) bool {
	if _, ok := s.index[t.ID]; ok {
		return false
	}
	s.index[t.ID] = len(s.threats)
	s.threats = append(s.threats, t)
	return true
}

// Len returns the number of stored threats.
func (s *Store) Len() int { return len(s.threats) }

// All returns a copy of the stored threats in insertion order.
func (s *Store) All() []Threat { return slices.Clone(s.threats) }

// Get returns the threat with the given ID.
func (s *Store) Get(id string) (Threat, bool) {
	i, ok := s.index[id]
	if !ok {
		return Threat{}, false
	}
	return s.threats[i], true
}

// Flush writes the full list to the snapshot, replacing the previous file
// atomically. The output is indented with two spaces.
func (s *Store) Flush() error {
	threats := s.threats
	if threats == nil {
		threats = []Threat{}
	}
	data, err := json.MarshalIndent(threats, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding threats: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp snapshot: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("setting snapshot permissions: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	return nil
}
