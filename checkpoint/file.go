package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
)

// FileStore keeps one JSON file per snapshot under dir/<scope>/.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) scopeDir(scope string) string {
	return filepath.Join(s.dir, url.PathEscape(scope))
}

func (s *FileStore) path(scope string, id uuid.UUID) string {
	return filepath.Join(s.scopeDir(scope), id.String()+".json")
}

// Save writes the snapshot atomically through a temporary file.
func (s *FileStore) Save(_ context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.MkdirAll(s.scopeDir(snap.Scope), 0o755); err != nil {
		return fmt.Errorf("create scope directory: %w", err)
	}
	final := s.path(snap.Scope, snap.ID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

func (s *FileStore) read(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot %s: %w", filepath.Base(path), err)
	}
	return &snap, nil
}

// Get reads one snapshot.
func (s *FileStore) Get(_ context.Context, scope string, id uuid.UUID) (*Snapshot, error) {
	snap, err := s.read(s.path(scope, id))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, scope, id)
	}
	return snap, err
}

func (s *FileStore) all(scope string) ([]*Snapshot, error) {
	matches, err := filepath.Glob(filepath.Join(s.scopeDir(scope), "*.json"))
	if err != nil {
		return nil, err
	}
	out := make([]*Snapshot, 0, len(matches))
	for _, m := range matches {
		snap, err := s.read(m)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Load returns the newest snapshot of scope.
func (s *FileStore) Load(_ context.Context, scope string) (*Snapshot, error) {
	snaps, err := s.all(scope)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("%w: scope %s", ErrNotFound, scope)
	}
	return snaps[len(snaps)-1], nil
}

// List returns the snapshots of scope, oldest first.
func (s *FileStore) List(_ context.Context, scope string) ([]Info, error) {
	snaps, err := s.all(scope)
	if err != nil {
		return nil, err
	}
	out := make([]Info, len(snaps))
	for i, snap := range snaps {
		out[i] = snap.Info()
	}
	return out, nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }
