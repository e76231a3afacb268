// Package sleep implements memory consolidation: the promotion scorer,
// the heuristic single-pass distillation, and the multi-specialist
// deliberation pipeline that reviews accumulated experience and
// promotes, retires, rewrites, or synthesizes entries.
package sleep

import (
	"math"
	"strings"
	"time"

	"engramd/internal/memory"
)

// =============================================================================
// PROMOTION SCORER
// =============================================================================

// PromotionSignals are the behavioral inputs to core-promotion scoring.
// Each signal is normalized to [0,1].
type PromotionSignals struct {
	RepetitionScore         float64 `json:"repetition_score"`
	EmotionalSalience       float64 `json:"emotional_salience"`
	UserConfirmedImportance float64 `json:"user_confirmed_importance"`
	TaskUtility             float64 `json:"task_utility"`
	LongevityBonus          float64 `json:"longevity_bonus"`
}

// Aggregate computes the weighted promotion score.
func (s PromotionSignals) Aggregate() float64 {
	return 0.25*s.RepetitionScore +
		0.25*s.EmotionalSalience +
		0.25*s.UserConfirmedImportance +
		0.15*s.TaskUtility +
		0.10*s.LongevityBonus
}

// coreEligibilityThreshold is the minimum aggregate score for promotion.
const coreEligibilityThreshold = 0.75

// minPromotionConfidence gates promotion on the entry's own confidence.
const minPromotionConfidence = 0.6

// IsCoreEligible reports whether an entry qualifies for Core promotion.
// Empty content and low-confidence entries are never eligible.
func IsCoreEligible(entry *memory.Entry, signals PromotionSignals) bool {
	if strings.TrimSpace(entry.Content) == "" {
		return false
	}
	if entry.Confidence < minPromotionConfidence {
		return false
	}
	return signals.Aggregate() >= coreEligibilityThreshold
}

// ComputeSignals derives promotion signals for one entry from a
// point-in-time snapshot. The heuristics are deliberately simple: the
// multi-specialist pipeline exists for the judgment calls this scorer
// cannot make.
func ComputeSignals(entry *memory.Entry, snapshot []*memory.Entry, now time.Time) PromotionSignals {
	var s PromotionSignals

	// Repetition: near-duplicate content elsewhere in the snapshot.
	needle := normalizeContent(entry.Content)
	repeats := 0
	for _, other := range snapshot {
		if other.ID == entry.ID {
			continue
		}
		if normalizeContent(other.Content) == needle {
			repeats++
		}
	}
	s.RepetitionScore = math.Min(float64(repeats)/3.0, 1.0)

	// Emotional salience tracks valence magnitude.
	s.EmotionalSalience = math.Min(math.Abs(entry.Valence), 1.0)

	if entry.HasTag("important") || entry.HasTag("confirmed") {
		s.UserConfirmedImportance = 1.0
	}

	// Procedural knowledge and tool-use records carry task utility.
	prov := memory.ParseSource(entry.Source)
	if entry.Tier == memory.TierProcedural || prov.Kind == memory.SourceToolUse {
		s.TaskUtility = 1.0
	}

	// Longevity: full bonus at 30 days of age.
	age := now.Sub(entry.CreatedAt)
	s.LongevityBonus = math.Min(age.Hours()/(30*24), 1.0)

	return s
}

func normalizeContent(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
