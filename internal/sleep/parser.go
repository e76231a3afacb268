package sleep

import (
	"bufio"
	"strconv"
	"strings"

	"engramd/internal/logging"
	"engramd/internal/memory"
)

// =============================================================================
// SPECIALIST OUTPUT PARSER
// =============================================================================

// knownFields maps the labels a specialist may emit. Unknown labels are
// ignored rather than failing the batch.
var knownFields = map[string]bool{
	"LEARNED_FACTS":       true,
	"FOLLOW_UPS":          true,
	"REFLECTIONS":         true,
	"PROFILE_UPDATES":     true,
	"CONTRADICTIONS":      true,
	"RETIRE_CORE":         true,
	"REWRITE_CORE":        true,
	"CONSOLIDATE_CORE":    true,
	"TOOL_INSIGHTS":       true,
	"SYNTHESES":           true,
	"PERSPECTIVES":        true,
	"MILESTONES":          true,
	"COMM_STYLE":          true,
	"PERSONALITY":         true,
	"NEW_GOALS":           true,
	"VALENCE_CORRECTIONS": true,
	"TIER_PROMOTIONS":     true,
	"NEW_MEMORIES":        true,
}

// ParseInsights parses a specialist's labeled-field response. Missing
// fields and NONE answers are tolerated; a malformed item is skipped
// without discarding the rest of the field or the batch.
func ParseInsights(raw string) Insights {
	fields := splitFields(raw)
	var in Insights

	in.LearnedAboutUser = fields["LEARNED_FACTS"]
	in.FollowUps = fields["FOLLOW_UPS"]
	in.ReflectiveThoughts = fields["REFLECTIONS"]
	in.Contradictions = fields["CONTRADICTIONS"]
	in.ToolInsights = fields["TOOL_INSIGHTS"]
	in.Syntheses = fields["SYNTHESES"]
	in.RelationshipMilestones = fields["MILESTONES"]
	in.NewGoals = fields["NEW_GOALS"]
	in.RetireCoreIDs = fields["RETIRE_CORE"]

	for _, item := range fields["PROFILE_UPDATES"] {
		parts := splitParts(item, 3)
		if parts == nil {
			logging.SleepDebug("Skipping malformed PROFILE_UPDATES item: %q", item)
			continue
		}
		in.ProfileUpdates = append(in.ProfileUpdates, ProfileUpdate{
			Category: parts[0], Key: parts[1], Value: parts[2],
		})
	}

	for _, item := range fields["REWRITE_CORE"] {
		parts := splitParts(item, 2)
		if parts == nil {
			logging.SleepDebug("Skipping malformed REWRITE_CORE item: %q", item)
			continue
		}
		in.RewriteCore = append(in.RewriteCore, CoreRewrite{ID: parts[0], Content: parts[1]})
	}

	for _, item := range fields["CONSOLIDATE_CORE"] {
		parts := splitParts(item, 2)
		if parts == nil {
			logging.SleepDebug("Skipping malformed CONSOLIDATE_CORE item: %q", item)
			continue
		}
		var ids []string
		for _, id := range strings.Split(parts[0], ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		if len(ids) < 2 {
			logging.SleepDebug("Skipping CONSOLIDATE_CORE item with fewer than two ids: %q", item)
			continue
		}
		in.ConsolidateCore = append(in.ConsolidateCore, CoreConsolidation{IDs: ids, Synthesis: parts[1]})
	}

	for _, item := range fields["PERSPECTIVES"] {
		parts := splitParts(item, 2)
		if parts == nil {
			logging.SleepDebug("Skipping malformed PERSPECTIVES item: %q", item)
			continue
		}
		in.Perspectives = append(in.Perspectives, Perspective{Topic: parts[0], Stance: parts[1]})
	}

	for _, item := range fields["VALENCE_CORRECTIONS"] {
		parts := splitParts(item, 2)
		if parts == nil {
			continue
		}
		val, err := strconv.ParseFloat(parts[1], 64)
		if err != nil || val < -1 || val > 1 {
			logging.SleepDebug("Skipping VALENCE_CORRECTIONS item with bad value: %q", item)
			continue
		}
		in.ValenceCorrections = append(in.ValenceCorrections, ValenceCorrection{ID: parts[0], Valence: val})
	}

	for _, item := range fields["TIER_PROMOTIONS"] {
		parts := splitParts(item, 2)
		if parts == nil {
			continue
		}
		if _, err := memory.ParseTier(parts[1]); err != nil {
			logging.SleepDebug("Skipping TIER_PROMOTIONS item with unknown tier: %q", item)
			continue
		}
		in.TierPromotions = append(in.TierPromotions, TierPromotion{ID: parts[0], Tier: parts[1]})
	}

	for _, item := range fields["NEW_MEMORIES"] {
		parts := splitParts(item, 2)
		if parts == nil {
			continue
		}
		if _, err := memory.ParseTier(parts[0]); err != nil {
			logging.SleepDebug("Skipping NEW_MEMORIES item with unknown tier: %q", item)
			continue
		}
		in.NewMemories = append(in.NewMemories, NewMemory{Tier: parts[0], Content: parts[1]})
	}

	if items := fields["COMM_STYLE"]; len(items) > 0 {
		in.CommStyleUpdate = items[len(items)-1]
	}
	if items := fields["PERSONALITY"]; len(items) > 0 {
		in.PersonalityReinforced = items[len(items)-1]
	}

	return in
}

// splitFields scans the response into label -> items. A field's answer
// may be inline on the label line or on following "- " lines; NONE and
// empty answers yield no items.
func splitFields(raw string) map[string][]string {
	fields := make(map[string][]string)
	var current string

	addItem := func(field, item string) {
		item = strings.TrimSpace(item)
		if item == "" || strings.EqualFold(item, "NONE") {
			return
		}
		fields[field] = append(fields[field], item)
	}

	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if label, rest, ok := matchLabel(line); ok {
			current = label
			addItem(current, rest)
			continue
		}

		if current == "" {
			continue
		}
		if after, ok := strings.CutPrefix(line, "- "); ok {
			addItem(current, after)
		} else if after, ok := strings.CutPrefix(line, "* "); ok {
			addItem(current, after)
		} else {
			// Continuation of the previous item on a wrapped line.
			if items := fields[current]; len(items) > 0 {
				items[len(items)-1] += " " + line
			}
		}
	}

	return fields
}

func matchLabel(line string) (label, rest string, ok bool) {
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return "", "", false
	}
	candidate := strings.ToUpper(strings.TrimSpace(line[:idx]))
	candidate = strings.ReplaceAll(candidate, " ", "_")
	if !knownFields[candidate] {
		return "", "", false
	}
	return candidate, line[idx+1:], true
}

// splitParts splits a structured item on " | " into exactly n parts,
// the last part absorbing any extra separators. Returns nil when the
// item has fewer than n non-empty parts.
func splitParts(item string, n int) []string {
	parts := strings.SplitN(item, "|", n)
	if len(parts) != n {
		return nil
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
		if parts[i] == "" {
			return nil
		}
	}
	return parts
}
