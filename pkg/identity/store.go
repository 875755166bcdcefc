// Package identity maps external bridge display names to local Discord
// account ids. Multiple names may point at the same id: the bridge
// refers to the bridging account both by its real name and by the
// literal "your", so both keys have to exist.
package identity

import (
	"strings"
	"sync"

	"github.com/dotsetgreg/namesync/pkg/logger"
)

// Entry is one name → id mapping. Entries keep their insertion order so
// fallback resolution is stable across runs instead of depending on map
// iteration order.
type Entry struct {
	Name string
	ID   uint64
}

// Persistence is the backing store collaborator.
type Persistence interface {
	// Load returns the persisted entries in file order. found is false
	// when no backing file exists yet.
	Load() (entries []Entry, found bool, err error)
	Save(entries []Entry) error
}

// Store is the lock-guarded name → id mapping. The mutex covers the
// in-memory access and the follow-up persistence write as one unit, so
// a concurrent resync never observes a half-replaced mapping.
type Store struct {
	mu      sync.Mutex
	order   []string
	ids     map[string]uint64
	persist Persistence
	special map[string]bool
}

func NewStore(persist Persistence, specialNames []string) *Store {
	special := make(map[string]bool, len(specialNames))
	for _, name := range specialNames {
		special[name] = true
	}
	return &Store{
		ids:     make(map[string]uint64),
		persist: persist,
		special: special,
	}
}

// Resolve maps an external display name to a local id. Exact key match
// first, then a first-name fallback: any key equal to name
// case-insensitively or starting with name + " " case-insensitively.
// With several fallback candidates the first in insertion order wins.
func (s *Store) Resolve(name string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveLocked(name)
}

func (s *Store) resolveLocked(name string) (uint64, bool) {
	if id, ok := s.ids[name]; ok {
		return id, true
	}

	lower := strings.ToLower(name)
	prefix := lower + " "
	var matches []string
	for _, key := range s.order {
		keyLower := strings.ToLower(key)
		if keyLower == lower || strings.HasPrefix(keyLower, prefix) {
			matches = append(matches, key)
		}
	}

	if len(matches) == 0 {
		return 0, false
	}
	if len(matches) > 1 {
		logger.WarnCF("identity", "Ambiguous first-name match, using first mapping", map[string]interface{}{
			"name":    name,
			"matches": len(matches),
		})
	}
	return s.ids[matches[0]], true
}

// PreferredName picks the best display name for an id. Among several
// mapped names the special keywords (the bridge sentinel "your") are
// excluded and the longest remaining name wins, first-encountered on
// ties. Only when every mapped name is special does a special name come
// back.
func (s *Store) PreferredName(id uint64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preferredNameLocked(id)
}

func (s *Store) preferredNameLocked(id uint64) (string, bool) {
	var names []string
	for _, key := range s.order {
		if s.ids[key] == id {
			names = append(names, key)
		}
	}

	switch len(names) {
	case 0:
		return "", false
	case 1:
		return names[0], true
	}

	best := ""
	for _, name := range names {
		if s.special[name] {
			continue
		}
		if len([]rune(name)) > len([]rune(best)) {
			best = name
		}
	}
	if best == "" {
		return names[0], true
	}
	return best, true
}

// Upsert adds or overwrites a mapping and persists the store. The
// returned flag tells whether the key was new, for user-facing replies.
func (s *Store) Upsert(name string, id uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.ids[name]
	if !existed {
		s.order = append(s.order, name)
	}
	s.ids[name] = id

	if err := s.persist.Save(s.entriesLocked()); err != nil {
		return !existed, err
	}
	return !existed, nil
}

// Remove deletes a mapping. The store is persisted only when something
// was actually removed.
func (s *Store) Remove(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[name]; !ok {
		return false, nil
	}
	delete(s.ids, name)
	for i, key := range s.order {
		if key == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	if err := s.persist.Save(s.entriesLocked()); err != nil {
		return true, err
	}
	return true, nil
}

// Snapshot returns a copy of all entries in insertion order.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entriesLocked()
}

// IDs returns the distinct mapped local ids in first-seen order.
func (s *Store) IDs() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[uint64]bool)
	var ids []uint64
	for _, key := range s.order {
		id := s.ids[key]
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Reload discards the in-memory mapping and re-reads the backing store.
// A missing backing file produces a freshly persisted template with two
// illustrative entries; a corrupt file logs a warning and leaves the
// store empty rather than failing.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, found, err := s.persist.Load()
	if err != nil {
		logger.WarnCF("identity", "Mapping store unreadable, starting empty", map[string]interface{}{
			"error": err.Error(),
		})
		s.replaceLocked(nil)
		return nil
	}

	if !found {
		logger.InfoC("identity", "No mapping store found, writing template")
		entries = templateEntries()
		s.replaceLocked(entries)
		return s.persist.Save(entries)
	}

	s.replaceLocked(entries)
	logger.InfoCF("identity", "Mapping store loaded", map[string]interface{}{
		"entries": len(entries),
	})
	return nil
}

func (s *Store) replaceLocked(entries []Entry) {
	s.order = s.order[:0]
	s.ids = make(map[string]uint64, len(entries))
	for _, e := range entries {
		if _, ok := s.ids[e.Name]; !ok {
			s.order = append(s.order, e.Name)
		}
		s.ids[e.Name] = e.ID
	}
}

func (s *Store) entriesLocked() []Entry {
	entries := make([]Entry, 0, len(s.order))
	for _, key := range s.order {
		entries = append(entries, Entry{Name: key, ID: s.ids[key]})
	}
	return entries
}

// templateEntries illustrate the expected shape: a real name plus the
// bridge sentinel pointing at the same account.
func templateEntries() []Entry {
	return []Entry{
		{Name: "John Smith", ID: 111111111111111111},
		{Name: "your", ID: 111111111111111111},
	}
}
