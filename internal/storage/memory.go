package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/rafaeljc/bifrost/internal/definition"
	"github.com/rafaeljc/bifrost/internal/ruleengine"
)

// MemoryStorage keeps compiled flags and segments in process. It backs tests
// and deployments that load a static definitions snapshot.
type MemoryStorage struct {
	logger *slog.Logger

	mu       sync.RWMutex
	flags    map[string]*ruleengine.Flag
	sets     map[string]map[string]struct{}
	segments map[string]map[string]struct{}
}

// NewMemoryStorage creates an empty storage.
func NewMemoryStorage(logger *slog.Logger) *MemoryStorage {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStorage{
		logger:   logger,
		flags:    make(map[string]*ruleengine.Flag),
		sets:     make(map[string]map[string]struct{}),
		segments: make(map[string]map[string]struct{}),
	}
}

// Update adds or replaces toAdd and removes the flags named in toRemove,
// keeping the flag set index consistent.
func (s *MemoryStorage) Update(toAdd []*ruleengine.Flag, toRemove []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range toRemove {
		s.removeLocked(name)
	}
	for _, flag := range toAdd {
		if flag == nil {
			continue
		}
		s.removeLocked(flag.Name)
		s.putLocked(flag)
	}
}

func (s *MemoryStorage) putLocked(flag *ruleengine.Flag) {
	s.flags[flag.Name] = flag
	for set := range flag.Sets {
		names, ok := s.sets[set]
		if !ok {
			names = make(map[string]struct{})
			s.sets[set] = names
		}
		names[flag.Name] = struct{}{}
	}
}

func (s *MemoryStorage) removeLocked(name string) {
	old, ok := s.flags[name]
	if !ok {
		return
	}
	delete(s.flags, name)
	for set := range old.Sets {
		names := s.sets[set]
		delete(names, name)
		if len(names) == 0 {
			delete(s.sets, set)
		}
	}
}

// UpdateSegment adds and removes keys of a segment.
func (s *MemoryStorage) UpdateSegment(name string, toAdd, toRemove []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, ok := s.segments[name]
	if !ok {
		keys = make(map[string]struct{}, len(toAdd))
		s.segments[name] = keys
	}
	for _, k := range toAdd {
		keys[k] = struct{}{}
	}
	for _, k := range toRemove {
		delete(keys, k)
	}
}

// Flag returns the named flag, or nil when it is unknown.
func (s *MemoryStorage) Flag(_ context.Context, name string) (*ruleengine.Flag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags[name], nil
}

// Flags returns the known flags among names.
func (s *MemoryStorage) Flags(_ context.Context, names []string) (map[string]*ruleengine.Flag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*ruleengine.Flag, len(names))
	for _, name := range names {
		if flag, ok := s.flags[name]; ok {
			out[name] = flag
		}
	}
	return out, nil
}

// FlagNamesBySets returns the names of the flags in any of sets. Names are
// sorted within each set; a flag in several sets may appear more than once.
func (s *MemoryStorage) FlagNamesBySets(_ context.Context, sets []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for _, set := range sets {
		names := make([]string, 0, len(s.sets[set]))
		for name := range s.sets[set] {
			names = append(names, name)
		}
		slices.Sort(names)
		out = append(out, names...)
	}
	return out, nil
}

// IsInSegment reports whether key belongs to segment.
func (s *MemoryStorage) IsInSegment(_ context.Context, segment, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.segments[segment][key]
	return ok, nil
}

// Snapshot is the file format accepted by LoadSnapshot.
type Snapshot struct {
	Flags    []definition.Flag   `json:"flags"`
	Segments map[string][]string `json:"segments,omitempty"`
}

// LoadSnapshot decodes a Snapshot from r and replaces the storage contents
// with it. Archived flags are skipped. On error the contents are unchanged.
func (s *MemoryStorage) LoadSnapshot(r io.Reader) error {
	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode definitions snapshot: %w", err)
	}

	flags := make([]*ruleengine.Flag, 0, len(snap.Flags))
	for i := range snap.Flags {
		def := &snap.Flags[i]
		if def.Status == definition.StatusArchived {
			continue
		}
		flags = append(flags, ruleengine.Compile(def, s.logger))
	}

	segments := make(map[string]map[string]struct{}, len(snap.Segments))
	for name, keys := range snap.Segments {
		members := make(map[string]struct{}, len(keys))
		for _, k := range keys {
			members[k] = struct{}{}
		}
		segments[name] = members
	}

	s.mu.Lock()
	s.flags = make(map[string]*ruleengine.Flag, len(flags))
	s.sets = make(map[string]map[string]struct{})
	for _, flag := range flags {
		s.putLocked(flag)
	}
	s.segments = segments
	s.mu.Unlock()

	s.logger.Info("definitions snapshot loaded",
		slog.Int("flags", len(flags)),
		slog.Int("segments", len(segments)),
	)
	return nil
}
