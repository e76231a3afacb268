package memory

import (
	"sort"
	"sync"
	"time"

	"engramd/internal/logging"

	"github.com/google/uuid"
)

// Store is the deduplicated in-memory collection of live entries, keyed by
// identifier. It holds the live view only; durable history lives in the
// event log. A Store is owned by one coordinating task at a time (see
// core.Manager); the internal lock exists so cheap concurrent reads stay
// safe regardless.
type Store struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*Entry
	order   []uuid.UUID // insertion order, for recency peeks
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[uuid.UUID]*Entry)}
}

// Insert adds an entry to the live view. Re-inserting an existing identifier
// is a no-op, which makes replay of duplicated log events idempotent.
// Returns true if the entry was actually added.
func (s *Store) Insert(e *Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[e.ID]; exists {
		logging.StoreDebug("duplicate insert ignored: %s", e.ID)
		return false
	}
	s.entries[e.ID] = e
	s.order = append(s.order, e.ID)
	return true
}

// Get returns the entry with the given identifier, or nil.
func (s *Store) Get(id uuid.UUID) *Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[id]
}

// Remove deletes an entry from the live view. Returns true if it was present.
func (s *Store) Remove(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[id]; !exists {
		return false
	}
	delete(s.entries, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// All returns all live entries in insertion order.
func (s *Store) All() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Entry, 0, len(s.order))
	for _, id := range s.order {
		if e, ok := s.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Snapshot returns a deep copy of all live entries, for use by long-running
// passes that must not observe concurrent mutation.
func (s *Store) Snapshot() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Entry, 0, len(s.order))
	for _, id := range s.order {
		if e, ok := s.entries[id]; ok {
			out = append(out, e.Clone())
		}
	}
	return out
}

// ByTier returns all live entries in the given tier, insertion order.
func (s *Store) ByTier(tier Tier) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Entry
	for _, id := range s.order {
		if e, ok := s.entries[id]; ok && e.Tier == tier {
			out = append(out, e)
		}
	}
	return out
}

// Recent returns the n most recently created entries, newest first.
func (s *Store) Recent(n int) []*Entry {
	all := s.All()
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

// RecentPromotions returns the n most recent entries created by a
// consolidation pass (source prefix "sleep:"), newest first.
func (s *Store) RecentPromotions(n int) []*Entry {
	var promoted []*Entry
	for _, e := range s.All() {
		if ParseSource(e.Source).Kind == SourceSleep {
			promoted = append(promoted, e)
		}
	}
	sort.SliceStable(promoted, func(i, j int) bool {
		return promoted[i].CreatedAt.After(promoted[j].CreatedAt)
	})
	if n > 0 && len(promoted) > n {
		promoted = promoted[:n]
	}
	return promoted
}

// AllBeliefs returns live belief entries, excluding retracted ones.
func (s *Store) AllBeliefs() []*Entry {
	var out []*Entry
	for _, e := range s.All() {
		kind := ParseSource(e.Source).Kind
		if kind == SourceBelief || (kind == SourceOther && e.HasTag("belief")) {
			out = append(out, e)
		}
	}
	return out
}

// PendingFollowUpIDs returns identifiers of entries recorded with the
// "follow-up" source that have not yet been consumed.
func (s *Store) PendingFollowUpIDs() []uuid.UUID {
	var out []uuid.UUID
	for _, e := range s.All() {
		if ParseSource(e.Source).Kind == SourceFollowUp {
			out = append(out, e.ID)
		}
	}
	return out
}

// CountByTier returns live entry counts for every tier. All six tiers are
// present in the result, zero-valued when empty.
func (s *Store) CountByTier() map[Tier]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[Tier]int, len(AllTiers))
	for _, tier := range AllTiers {
		counts[tier] = 0
	}
	for _, e := range s.entries {
		counts[e.Tier]++
	}
	return counts
}

// WipeAll removes every entry from the live view and returns how many were
// removed. Callers must rewrite the event log via Overwrite to make the wipe
// durable.
func (s *Store) WipeAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.entries)
	s.entries = make(map[uuid.UUID]*Entry)
	s.order = nil
	logging.Store("wiped all %d entries", n)
	return n
}

// WipeTiers removes all entries in the given tiers and returns how many were
// removed.
func (s *Store) WipeTiers(tiers []Tier) int {
	wipe := make(map[Tier]bool, len(tiers))
	for _, t := range tiers {
		wipe[t] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	kept := s.order[:0]
	for _, id := range s.order {
		e, ok := s.entries[id]
		if !ok {
			continue
		}
		if wipe[e.Tier] {
			delete(s.entries, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	logging.Store("wiped %d entries across %d tiers", removed, len(tiers))
	return removed
}

// CompactEpisodic removes episodic entries created before the cutoff and
// returns the removed entries.
func (s *Store) CompactEpisodic(cutoff time.Time) []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []*Entry
	kept := s.order[:0]
	for _, id := range s.order {
		e, ok := s.entries[id]
		if !ok {
			continue
		}
		if e.Tier == TierEpisodic && e.CreatedAt.Before(cutoff) {
			delete(s.entries, id)
			removed = append(removed, e)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed
}

// FindByShortID returns live entries whose identifier matches the given
// short prefix.
func (s *Store) FindByShortID(prefix string) []*Entry {
	var out []*Entry
	for _, e := range s.All() {
		if e.MatchesShortID(prefix) {
			out = append(out, e)
		}
	}
	return out
}
