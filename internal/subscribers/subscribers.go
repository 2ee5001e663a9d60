// Package subscribers keeps the file-backed set of chat identifiers that
// receive alerts. The on-disk form is a JSON array of integers; insertion
// order is preserved because dispatch order depends on it.
package subscribers

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/pawsture/wellmon/internal/logging"
)

// Set is the ordered subscriber collection. All methods are safe for
// concurrent use.
type Set struct {
	mu   sync.RWMutex
	path string
	ids  []int64
}

// Load reads the subscriber list at path. A missing file yields an empty set;
// a corrupt file is an error so a bad deploy does not silently drop everyone.
func Load(path string) (*Set, error) {
	s := &Set{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logging.Info("bot", "no subscriber file at %s, starting empty", path)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read subscriber file: %w", err)
	}
	if err := json.Unmarshal(data, &s.ids); err != nil {
		return nil, fmt.Errorf("parse subscriber file %s: %w", path, err)
	}
	logging.Info("bot", "loaded %d subscribers from %s", len(s.ids), path)
	return s, nil
}

// Add registers an id, persisting the set. Adding an existing id is a no-op.
func (s *Set) Add(id int64) (added bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.ids {
		if existing == id {
			return false, nil
		}
	}
	s.ids = append(s.ids, id)
	return true, s.persist()
}

// Remove deletes an id, persisting the set.
func (s *Set) Remove(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.ids {
		if existing == id {
			s.ids = append(s.ids[:i], s.ids[i+1:]...)
			return s.persist()
		}
	}
	return nil
}

// All returns the subscribers in insertion order.
func (s *Set) All() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, len(s.ids))
	copy(out, s.ids)
	return out
}

// Contains reports membership.
func (s *Set) Contains(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, existing := range s.ids {
		if existing == id {
			return true
		}
	}
	return false
}

// persist writes the list atomically. Caller holds the lock.
func (s *Set) persist() error {
	data, err := json.Marshal(s.ids)
	if err != nil {
		return fmt.Errorf("marshal subscribers: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write subscriber file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace subscriber file: %w", err)
	}
	return nil
}
