package sleep

import (
	"sort"
	"strings"
)

// =============================================================================
// INSIGHT RECORD + MERGE
// =============================================================================

// ProfileUpdate replaces a keyed user-profile fact.
type ProfileUpdate struct {
	Category string `json:"category"`
	Key      string `json:"key"`
	Value    string `json:"value"`
}

// CoreRewrite replaces one Core entry's content.
type CoreRewrite struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// CoreConsolidation merges several Core entries into one synthesis.
type CoreConsolidation struct {
	IDs       []string `json:"ids"`
	Synthesis string   `json:"synthesis"`
}

// Perspective is a developed stance on a topic.
type Perspective struct {
	Topic  string `json:"topic"`
	Stance string `json:"stance"`
}

// ValenceCorrection adjusts the emotional weight of an entry.
type ValenceCorrection struct {
	ID      string  `json:"id"`
	Valence float64 `json:"valence"`
}

// TierPromotion moves an entry to a more durable tier.
type TierPromotion struct {
	ID   string `json:"id"`
	Tier string `json:"tier"`
}

// NewMemory is a free-form entry proposed by a specialist.
type NewMemory struct {
	Tier    string `json:"tier"`
	Content string `json:"content"`
}

// Insights is the structured output of one specialist, one deliberation,
// or one merged consolidation run.
type Insights struct {
	LearnedAboutUser       []string            `json:"learned_about_user"`
	FollowUps              []string            `json:"follow_ups"`
	ReflectiveThoughts     []string            `json:"reflective_thoughts"`
	ProfileUpdates         []ProfileUpdate     `json:"profile_updates"`
	Contradictions         []string            `json:"contradictions"`
	RetireCoreIDs          []string            `json:"retire_core_ids"`
	RewriteCore            []CoreRewrite       `json:"rewrite_core"`
	ConsolidateCore        []CoreConsolidation `json:"consolidate_core"`
	ToolInsights           []string            `json:"tool_insights"`
	Syntheses              []string            `json:"syntheses"`
	Perspectives           []Perspective       `json:"perspectives"`
	RelationshipMilestones []string            `json:"relationship_milestones"`
	CommStyleUpdate        string              `json:"comm_style_update"`
	PersonalityReinforced  string              `json:"personality_reinforced"`
	NewGoals               []string            `json:"new_goals"`
	ValenceCorrections     []ValenceCorrection `json:"valence_corrections"`
	TierPromotions         []TierPromotion     `json:"tier_promotions"`
	NewMemories            []NewMemory         `json:"new_memories"`
}

// IsEmpty reports whether the record carries no insight at all.
func (in Insights) IsEmpty() bool {
	return len(in.LearnedAboutUser) == 0 && len(in.FollowUps) == 0 &&
		len(in.ReflectiveThoughts) == 0 && len(in.ProfileUpdates) == 0 &&
		len(in.Contradictions) == 0 && len(in.RetireCoreIDs) == 0 &&
		len(in.RewriteCore) == 0 && len(in.ConsolidateCore) == 0 &&
		len(in.ToolInsights) == 0 && len(in.Syntheses) == 0 &&
		len(in.Perspectives) == 0 && len(in.RelationshipMilestones) == 0 &&
		in.CommStyleUpdate == "" && in.PersonalityReinforced == "" &&
		len(in.NewGoals) == 0 && len(in.ValenceCorrections) == 0 &&
		len(in.TierPromotions) == 0 && len(in.NewMemories) == 0
}

// MergeInsights folds per-batch insight records into one run-wide
// record. List fields union with case-insensitive deduplication, scalar
// fields take the last non-empty value, keyed fields deduplicate by key
// with the last value winning, and a retire proposal loses to any
// rewrite or consolidate proposal for the same identifier across the
// whole run.
func MergeInsights(records []Insights) Insights {
	var out Insights

	seenList := func() map[string]bool { return make(map[string]bool) }
	appendUnique := func(dst []string, seen map[string]bool, items []string) []string {
		for _, item := range items {
			key := strings.ToLower(strings.TrimSpace(item))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			dst = append(dst, item)
		}
		return dst
	}

	learnedSeen := seenList()
	followSeen := seenList()
	reflectSeen := seenList()
	contraSeen := seenList()
	toolSeen := seenList()
	synthSeen := seenList()
	milestoneSeen := seenList()
	goalSeen := seenList()
	retireSeen := seenList()
	memSeen := seenList()

	profileIdx := make(map[string]int)
	valenceIdx := make(map[string]int)
	perspectiveIdx := make(map[string]int)
	promotionIdx := make(map[string]int)
	rewriteIdx := make(map[string]int)
	consolidateIdx := make(map[string]int)

	for _, rec := range records {
		out.LearnedAboutUser = appendUnique(out.LearnedAboutUser, learnedSeen, rec.LearnedAboutUser)
		out.FollowUps = appendUnique(out.FollowUps, followSeen, rec.FollowUps)
		out.ReflectiveThoughts = appendUnique(out.ReflectiveThoughts, reflectSeen, rec.ReflectiveThoughts)
		out.Contradictions = appendUnique(out.Contradictions, contraSeen, rec.Contradictions)
		out.ToolInsights = appendUnique(out.ToolInsights, toolSeen, rec.ToolInsights)
		out.Syntheses = appendUnique(out.Syntheses, synthSeen, rec.Syntheses)
		out.RelationshipMilestones = appendUnique(out.RelationshipMilestones, milestoneSeen, rec.RelationshipMilestones)
		out.NewGoals = appendUnique(out.NewGoals, goalSeen, rec.NewGoals)
		out.RetireCoreIDs = appendUnique(out.RetireCoreIDs, retireSeen, rec.RetireCoreIDs)

		for _, m := range rec.NewMemories {
			key := strings.ToLower(m.Tier + "|" + strings.TrimSpace(m.Content))
			if strings.TrimSpace(m.Content) == "" || memSeen[key] {
				continue
			}
			memSeen[key] = true
			out.NewMemories = append(out.NewMemories, m)
		}

		for _, p := range rec.ProfileUpdates {
			key := strings.ToLower(p.Category + "|" + p.Key)
			if i, ok := profileIdx[key]; ok {
				out.ProfileUpdates[i] = p
			} else {
				profileIdx[key] = len(out.ProfileUpdates)
				out.ProfileUpdates = append(out.ProfileUpdates, p)
			}
		}
		for _, v := range rec.ValenceCorrections {
			key := strings.ToLower(v.ID)
			if i, ok := valenceIdx[key]; ok {
				out.ValenceCorrections[i] = v
			} else {
				valenceIdx[key] = len(out.ValenceCorrections)
				out.ValenceCorrections = append(out.ValenceCorrections, v)
			}
		}
		for _, p := range rec.Perspectives {
			key := strings.ToLower(p.Topic)
			if i, ok := perspectiveIdx[key]; ok {
				out.Perspectives[i] = p
			} else {
				perspectiveIdx[key] = len(out.Perspectives)
				out.Perspectives = append(out.Perspectives, p)
			}
		}
		for _, p := range rec.TierPromotions {
			key := strings.ToLower(p.ID)
			if i, ok := promotionIdx[key]; ok {
				out.TierPromotions[i] = p
			} else {
				promotionIdx[key] = len(out.TierPromotions)
				out.TierPromotions = append(out.TierPromotions, p)
			}
		}
		for _, r := range rec.RewriteCore {
			key := strings.ToLower(r.ID)
			if i, ok := rewriteIdx[key]; ok {
				out.RewriteCore[i] = r
			} else {
				rewriteIdx[key] = len(out.RewriteCore)
				out.RewriteCore = append(out.RewriteCore, r)
			}
		}
		for _, c := range rec.ConsolidateCore {
			key := consolidationKey(c.IDs)
			if i, ok := consolidateIdx[key]; ok {
				out.ConsolidateCore[i] = c
			} else {
				consolidateIdx[key] = len(out.ConsolidateCore)
				out.ConsolidateCore = append(out.ConsolidateCore, c)
			}
		}

		if s := strings.TrimSpace(rec.CommStyleUpdate); s != "" {
			out.CommStyleUpdate = s
		}
		if s := strings.TrimSpace(rec.PersonalityReinforced); s != "" {
			out.PersonalityReinforced = s
		}
	}

	// A rewrite or consolidate proposal overrides a retire proposal for
	// the same identifier, run-wide.
	protected := make(map[string]bool)
	for key := range rewriteIdx {
		protected[key] = true
	}
	for _, c := range out.ConsolidateCore {
		for _, id := range c.IDs {
			protected[strings.ToLower(id)] = true
		}
	}
	if len(protected) > 0 {
		kept := out.RetireCoreIDs[:0]
		for _, id := range out.RetireCoreIDs {
			if !protected[strings.ToLower(strings.TrimSpace(id))] {
				kept = append(kept, id)
			}
		}
		out.RetireCoreIDs = kept
	}

	return out
}

// consolidationKey builds the identifier-set key: order-insensitive,
// case-insensitive.
func consolidationKey(ids []string) string {
	normalized := make([]string, 0, len(ids))
	for _, id := range ids {
		normalized = append(normalized, strings.ToLower(strings.TrimSpace(id)))
	}
	sort.Strings(normalized)
	return strings.Join(normalized, ",")
}
