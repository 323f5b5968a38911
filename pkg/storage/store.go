package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ErrFragmentNotFound is returned when a fragment doesn't exist on the node.
var ErrFragmentNotFound = errors.New("fragment not found")

// FragmentStore is a storage node's private namespace of named fragments,
// one regular file per fragment inside a single directory. It performs no
// locking of its own; the node serializes access by handling one
// connection at a time.
type FragmentStore struct {
	dir string
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Fragments int
	Bytes     int64
}

// NodeDirectory returns the directory owned by the node listening on port.
func NodeDirectory(base string, port int) string {
	return filepath.Join(base, fmt.Sprintf("sub_server_directory_%d", port))
}

// NewFragmentStore opens (creating if needed) the fragment directory.
func NewFragmentStore(dir string) (*FragmentStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create fragment directory: %w", err)
	}
	return &FragmentStore{dir: dir}, nil
}

func (s *FragmentStore) Dir() string {
	return s.dir
}

// Create opens the named fragment for writing, truncating any previous
// version.
func (s *FragmentStore) Create(name string) (*os.File, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(s.path(name), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create fragment %s: %w", name, err)
	}
	return f, nil
}

// Open opens the named fragment for reading and returns its size.
func (s *FragmentStore) Open(name string) (*os.File, int64, error) {
	if err := ValidateName(name); err != nil {
		return nil, 0, err
	}

	f, err := os.Open(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrFragmentNotFound
		}
		return nil, 0, fmt.Errorf("failed to open fragment %s: %w", name, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat fragment %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, 0, ErrFragmentNotFound
	}

	return f, info.Size(), nil
}

// Exists reports whether the named fragment is present.
func (s *FragmentStore) Exists(name string) bool {
	if ValidateName(name) != nil {
		return false
	}
	info, err := os.Stat(s.path(name))
	return err == nil && info.Mode().IsRegular()
}

// List returns the names of all stored fragments, sorted.
func (s *FragmentStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read fragment directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Stats returns storage statistics
func (s *FragmentStore) Stats() (StoreStats, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return StoreStats{}, fmt.Errorf("failed to read fragment directory: %w", err)
	}

	var stats StoreStats
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		stats.Fragments++
		stats.Bytes += info.Size()
	}
	return stats, nil
}

func (s *FragmentStore) path(name string) string {
	return filepath.Join(s.dir, name)
}
