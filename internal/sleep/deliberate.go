package sleep

import (
	"fmt"
	"strings"
)

// =============================================================================
// DELIBERATION
// =============================================================================

// FindConflicts lists identifiers proposed for retirement by one
// specialist while simultaneously proposed for rewrite or consolidation
// by another.
func FindConflicts(contributions map[Role]Insights) []string {
	retired := make(map[string]bool)
	mutated := make(map[string]bool)

	for _, in := range contributions {
		for _, id := range in.RetireCoreIDs {
			retired[strings.ToLower(strings.TrimSpace(id))] = true
		}
		for _, r := range in.RewriteCore {
			mutated[strings.ToLower(strings.TrimSpace(r.ID))] = true
		}
		for _, c := range in.ConsolidateCore {
			for _, id := range c.IDs {
				mutated[strings.ToLower(strings.TrimSpace(id))] = true
			}
		}
	}

	var conflicts []string
	for id := range retired {
		if mutated[id] {
			conflicts = append(conflicts, id)
		}
	}
	return conflicts
}

// BuildDeliberationPrompt assembles the synthesis prompt from all four
// specialists' raw responses plus the explicit conflict list.
func BuildDeliberationPrompt(identity IdentityContext, raw map[Role]string, conflicts []string) string {
	var b strings.Builder
	b.WriteString(`You are the synthesis chair of a memory consolidation panel.
Four specialists have reviewed the same memory batch. Produce ONE final
answer in the same labeled-field format, combining their proposals.
Resolve conservatively: only include core retirement, rewrite, or
consolidation when more than one specialist supports the change.`)
	b.WriteString("\n\n")
	b.WriteString(identity.render())

	for _, role := range AllRoles {
		fmt.Fprintf(&b, "\n== %s ==\n%s\n", strings.ToUpper(string(role)), strings.TrimSpace(raw[role]))
	}

	if len(conflicts) > 0 {
		b.WriteString("\n== CONFLICTS ==\n")
		b.WriteString("These core ids are proposed for retirement by one specialist and for rewrite or consolidation by another. A rewrite or consolidation always wins over retirement:\n")
		for _, id := range conflicts {
			fmt.Fprintf(&b, "- %s\n", id)
		}
	}

	b.WriteString("\n")
	b.WriteString(fieldInstructions)
	return b.String()
}
