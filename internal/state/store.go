// Package state persists the accumulated name set as a sorted JSON array.
//
// Every write re-reads the file, unions it with the caller's set, filters
// artifacts, then writes a temporary sibling and renames it into place. A
// reader always sees either the previous or the new complete file.
package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/cardname-harvester/internal/names"
)

const tmpSuffix = ".tmp"

// errCorrupt marks a state file that was read but is not a JSON string array.
var errCorrupt = errors.New("corrupt state")

// Store owns the persisted state file.
type Store struct {
	path   string
	filter *names.Filter
	logger *zap.Logger

	mu sync.Mutex

	// readFile and rename are swapped in tests to simulate I/O faults.
	readFile func(name string) ([]byte, error)
	rename   func(oldpath, newpath string) error
	// observe receives the duration of each successful save.
	observe  func(time.Duration)
}

// Option customizes a Store.
type Option func(*Store)

// WithSaveObserver registers a callback fed with every save's duration.
func WithSaveObserver(fn func(time.Duration)) Option {
	return func(s *Store) { s.observe = fn }
}

// New builds a Store for path. A nil filter uses the default blacklist.
func New(path string, filter *names.Filter, logger *zap.Logger, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("state path is required")
	}
	if filter == nil {
		filter = names.NewFilter(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		path:   path,
		filter: filter,
		logger: logger,
		readFile: os.ReadFile,
		rename:   os.Rename,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the persisted file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the persisted names. A missing or unreadable file yields an
// empty set.
func (s *Store) Load() names.Set {
	set, err := s.read()
	if err != nil {
		s.logger.Warn("ignoring unreadable state", zap.String("path", s.path), zap.Error(err))
		return names.NewSet()
	}
	return set
}

// SaveUnion merges current with whatever is on disk, drops artifacts, and
// atomically replaces the file. It returns the set that was written.
func (s *Store) SaveUnion(current names.Set) (names.Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	disk, err := s.read()
	switch {
	case errors.Is(err, errCorrupt):
		s.logger.Warn("state corrupt during save; rewriting from memory",
			zap.String("path", s.path), zap.Error(err))
		disk = names.NewSet()
	case err != nil:
		return nil, err
	}
	merged := s.filter.Clean(names.Union(disk, current))

	payload, err := Encode(merged)
	if err != nil {
		return nil, err
	}
	if err := s.writeAtomic(payload); err != nil {
		return nil, err
	}
	if s.observe != nil {
		s.observe(time.Since(start))
	}
	s.logger.Info("state saved", zap.String("path", s.path), zap.Int("names", merged.Len()))
	return merged, nil
}

func (s *Store) read() (names.Set, error) {
	// #nosec G304 -- path comes from operator configuration.
	data, err := s.readFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return names.NewSet(), nil
		}
		return nil, fmt.Errorf("read state %s: %w", s.path, err)
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", errCorrupt, s.path, err)
	}
	return names.NewSet(list...), nil
}

func (s *Store) writeAtomic(payload []byte) (err error) {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create state dir %s: %w", dir, err)
	}
	// Unique per save; concurrent runs may share the state file.
	f, err := os.CreateTemp(dir, filepath.Base(s.path)+".*"+tmpSuffix)
	if err != nil {
		return fmt.Errorf("create temp state in %s: %w", dir, err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		return fmt.Errorf("write temp state %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync temp state %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp state %s: %w", tmp, err)
	}
	// #nosec G302 -- the state file is published for the frontend to read.
	if err := os.Chmod(tmp, 0o644); err != nil {
		return fmt.Errorf("chmod temp state %s: %w", tmp, err)
	}
	if err := s.rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state %s: %w", s.path, err)
	}
	return nil
}

// Encode renders names as the persisted format: a sorted, two-space
// indented JSON array with non-ASCII text kept literal.
func Encode(set names.Set) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(set.Sorted()); err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return buf.Bytes(), nil
}
