// Package memory defines the persistent memory core: the entry schema, the
// deduplicated in-memory store, and the append-only event log that is the
// single durable source of truth.
package memory

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tier classifies an entry by durability and curation level.
// Core is the most durable and curated; Episodic is the highest-volume and
// least curated.
type Tier string

const (
	TierCore        Tier = "core"
	TierUserProfile Tier = "userprofile"
	TierReflective  Tier = "reflective"
	TierSemantic    Tier = "semantic"
	TierProcedural  Tier = "procedural"
	TierEpisodic    Tier = "episodic"
)

// AllTiers lists every tier in durability order, most durable first.
// Store, event log, and vault logic iterate this list so a new tier cannot be
// silently skipped.
var AllTiers = []Tier{
	TierCore,
	TierUserProfile,
	TierReflective,
	TierSemantic,
	TierProcedural,
	TierEpisodic,
}

// Valid reports whether t is one of the six known tiers.
func (t Tier) Valid() bool {
	for _, known := range AllTiers {
		if t == known {
			return true
		}
	}
	return false
}

// ParseTier converts a user-supplied string into a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown memory tier: %q", s)
	}
	return t, nil
}

// Entry is the atomic unit of memory. Entries are immutable once created:
// retirement and rewrite are modeled as removal plus a new entry, never as an
// edit of history.
type Entry struct {
	ID             uuid.UUID `json:"id"`
	Tier           Tier      `json:"tier"`
	Content        string    `json:"content"`
	Source         string    `json:"source"`
	Confidence     float64   `json:"confidence"` // [0,1]
	Valence        float64   `json:"valence"`    // [-1,1]
	CreatedAt      time.Time `json:"created_at"`
	ProvenanceHash uint64    `json:"provenance_hash"`
	Tags           []string  `json:"tags,omitempty"`
	Embedding      []float32 `json:"embedding,omitempty"`
}

// NewEntry builds an entry with a fresh identifier and default confidence.
func NewEntry(tier Tier, content, source string) *Entry {
	now := time.Now().UTC()
	e := &Entry{
		ID:         uuid.New(),
		Tier:       tier,
		Content:    content,
		Source:     source,
		Confidence: 0.5,
		CreatedAt:  now,
	}
	e.ProvenanceHash = provenanceHash(content, source, now)
	return e
}

// provenanceHash computes the integrity tag for an entry. This is the dev-mode
// placeholder derivation; production deployments should bind it to an
// auditable chain.
func provenanceHash(content, source string, at time.Time) uint64 {
	h := fnv.New64a()
	h.Write([]byte(content))
	h.Write([]byte{0})
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(at.Format(time.RFC3339Nano)))
	return h.Sum64()
}

// HasTag reports whether the entry carries the given tag (case-insensitive).
func (e *Entry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// AddTag adds a tag if not already present, preserving set semantics.
func (e *Entry) AddTag(tag string) {
	if tag == "" || e.HasTag(tag) {
		return
	}
	e.Tags = append(e.Tags, tag)
	sort.Strings(e.Tags)
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	cp := *e
	if e.Tags != nil {
		cp.Tags = append([]string(nil), e.Tags...)
	}
	if e.Embedding != nil {
		cp.Embedding = append([]float32(nil), e.Embedding...)
	}
	return &cp
}

// ShortID returns the first eight hex characters of the entry identifier,
// the form used in specialist proposals and vault wiki-links.
func (e *Entry) ShortID() string {
	return strings.ReplaceAll(e.ID.String(), "-", "")[:8]
}

// MatchesShortID reports whether the given prefix matches this entry's
// identifier. Prefixes shorter than four characters never match.
func (e *Entry) MatchesShortID(prefix string) bool {
	if len(prefix) < 4 {
		return false
	}
	full := strings.ReplaceAll(e.ID.String(), "-", "")
	return strings.HasPrefix(full, strings.ToLower(prefix))
}
