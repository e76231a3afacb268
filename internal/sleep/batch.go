package sleep

import (
	"sort"

	"engramd/internal/memory"
)

// =============================================================================
// BATCHING
// =============================================================================

// Batch pairs the anchor context with one chunk of the variable pool.
type Batch struct {
	Anchors  []*memory.Entry
	Variable []*memory.Entry
}

// Entries returns anchors followed by the variable chunk.
func (b Batch) Entries() []*memory.Entry {
	out := make([]*memory.Entry, 0, len(b.Anchors)+len(b.Variable))
	out = append(out, b.Anchors...)
	out = append(out, b.Variable...)
	return out
}

// BatchMemories partitions entries for specialist review. Core and
// UserProfile entries are anchors replicated into every batch; the
// remaining tiers form a variable pool ordered Reflective by recency,
// Semantic by confidence, Procedural by recency, Episodic by recency,
// chunked by batchSize. An empty variable pool still yields one
// anchor-only batch.
func BatchMemories(entries []*memory.Entry, batchSize int) []Batch {
	if batchSize <= 0 {
		batchSize = 60
	}

	var anchors []*memory.Entry
	byTier := make(map[memory.Tier][]*memory.Entry)

	for _, e := range entries {
		switch e.Tier {
		case memory.TierCore, memory.TierUserProfile:
			anchors = append(anchors, e)
		default:
			byTier[e.Tier] = append(byTier[e.Tier], e)
		}
	}

	recencyDesc := func(entries []*memory.Entry) {
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		})
	}
	confidenceDesc := func(entries []*memory.Entry) {
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].Confidence > entries[j].Confidence
		})
	}

	recencyDesc(byTier[memory.TierReflective])
	confidenceDesc(byTier[memory.TierSemantic])
	recencyDesc(byTier[memory.TierProcedural])
	recencyDesc(byTier[memory.TierEpisodic])

	var pool []*memory.Entry
	pool = append(pool, byTier[memory.TierReflective]...)
	pool = append(pool, byTier[memory.TierSemantic]...)
	pool = append(pool, byTier[memory.TierProcedural]...)
	pool = append(pool, byTier[memory.TierEpisodic]...)

	if len(pool) == 0 {
		return []Batch{{Anchors: anchors}}
	}

	var batches []Batch
	for start := 0; start < len(pool); start += batchSize {
		end := start + batchSize
		if end > len(pool) {
			end = len(pool)
		}
		batches = append(batches, Batch{
			Anchors:  anchors,
			Variable: pool[start:end],
		})
	}
	return batches
}
