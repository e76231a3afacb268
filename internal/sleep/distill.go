package sleep

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"engramd/internal/memory"
)

// =============================================================================
// HEURISTIC DISTILLATION
// =============================================================================

// Promotion is one proposed tier change from the heuristic pass.
type Promotion struct {
	TargetTier memory.Tier
	Content    string
	Reason     string
	SourceID   uuid.UUID
}

// Summary reports the outcome of a consolidation run.
type Summary struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Distilled  string        `json:"distilled"`
	Batches    int           `json:"batches"`
	CreatedIDs []uuid.UUID   `json:"created_ids"`
	Errors     []string      `json:"errors,omitempty"`
}

// Distill scans a point-in-time snapshot and proposes promotions using
// the scorer. It never errors; an empty snapshot yields zero promotions
// and a summary that still reports the review count.
func Distill(snapshot []*memory.Entry, now time.Time) ([]Promotion, string) {
	var promotions []Promotion

	for _, entry := range snapshot {
		// Core entries are already at the top of the hierarchy.
		if entry.Tier == memory.TierCore {
			continue
		}

		signals := ComputeSignals(entry, snapshot, now)
		if IsCoreEligible(entry, signals) {
			promotions = append(promotions, Promotion{
				TargetTier: memory.TierCore,
				Content:    entry.Content,
				Reason:     fmt.Sprintf("promotion score %.2f", signals.Aggregate()),
				SourceID:   entry.ID,
			})
			continue
		}

		// Episodic entries with sustained utility graduate to Semantic.
		if entry.Tier == memory.TierEpisodic && signals.RepetitionScore >= 0.5 && entry.Confidence >= minPromotionConfidence {
			promotions = append(promotions, Promotion{
				TargetTier: memory.TierSemantic,
				Content:    entry.Content,
				Reason:     fmt.Sprintf("repeated episodic observation (repetition %.2f)", signals.RepetitionScore),
				SourceID:   entry.ID,
			})
		}
	}

	distilled := fmt.Sprintf("Reviewed %d memories, promoted %d", len(snapshot), len(promotions))
	return promotions, distilled
}
