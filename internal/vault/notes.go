package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"engramd/internal/logging"
	"engramd/internal/memory"
)

// =============================================================================
// NOTE EXPORT + INDICES
// =============================================================================

// SyncNotes rebuilds the managed notes/ and indices/ subdirectories:
// one note per entry plus tier, day, and topic index files. The rebuild
// is incremental: unchanged files are not rewritten, and managed files
// with no corresponding entry are removed. Files at the vault root are
// left alone.
func (v *Vault) SyncNotes(entries []*memory.Entry) (written, removed int, err error) {
	desired := make(map[string][]byte)

	tierIndex := make(map[memory.Tier][]*memory.Entry)
	dayIndex := make(map[string][]*memory.Entry)
	topicIndex := make(map[string][]*memory.Entry)

	for _, e := range entries {
		desired[filepath.Join(notesDir, e.ShortID()+".md")] = renderNote(e)
		tierIndex[e.Tier] = append(tierIndex[e.Tier], e)
		day := e.CreatedAt.Format("2006-01-02")
		dayIndex[day] = append(dayIndex[day], e)
		for _, tag := range e.Tags {
			topicIndex[tag] = append(topicIndex[tag], e)
		}
	}

	for tier, members := range tierIndex {
		name := filepath.Join(indicesDir, "tier-"+strings.ToLower(string(tier))+".md")
		desired[name] = renderIndex(fmt.Sprintf("%s memories", tier), members)
	}
	for day, members := range dayIndex {
		name := filepath.Join(indicesDir, "day-"+day+".md")
		desired[name] = renderIndex(day, members)
	}
	for topic, members := range topicIndex {
		name := filepath.Join(indicesDir, "topic-"+topic+".md")
		desired[name] = renderIndex("Topic: "+topic, members)
	}

	for rel, content := range desired {
		changed, werr := writeIfChanged(filepath.Join(v.root, rel), content)
		if werr != nil {
			return written, removed, werr
		}
		if changed {
			written++
		}
	}

	// Drop managed files that no longer correspond to any entry.
	for _, dir := range []string{notesDir, indicesDir} {
		full := filepath.Join(v.root, dir)
		items, derr := os.ReadDir(full)
		if derr != nil {
			continue
		}
		for _, item := range items {
			if item.IsDir() {
				continue
			}
			rel := filepath.Join(dir, item.Name())
			if _, keep := desired[rel]; !keep {
				if rerr := os.Remove(filepath.Join(v.root, rel)); rerr == nil {
					removed++
				}
			}
		}
	}

	if written > 0 || removed > 0 {
		logging.VaultDebug("Note export: %d written, %d removed", written, removed)
	}
	return written, removed, nil
}

// renderNote produces the markdown body for one entry, cross-linked to
// its tier, day, and topic indices.
func renderNote(e *memory.Entry) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", sanitizeTitle(e.Content))
	fmt.Fprintf(&b, "- id: `%s`\n", e.ID)
	fmt.Fprintf(&b, "- tier: [[tier-%s]]\n", strings.ToLower(string(e.Tier)))
	fmt.Fprintf(&b, "- day: [[day-%s]]\n", e.CreatedAt.Format("2006-01-02"))
	fmt.Fprintf(&b, "- source: `%s`\n", e.Source)
	fmt.Fprintf(&b, "- confidence: %.2f, valence: %+.2f\n", e.Confidence, e.Valence)
	if len(e.Tags) > 0 {
		links := make([]string, 0, len(e.Tags))
		for _, tag := range e.Tags {
			links = append(links, "[[topic-"+tag+"]]")
		}
		fmt.Fprintf(&b, "- topics: %s\n", strings.Join(links, " "))
	}
	fmt.Fprintf(&b, "\n%s\n", strings.TrimSpace(e.Content))
	return []byte(b.String())
}

// renderIndex lists member notes newest first.
func renderIndex(title string, members []*memory.Entry) []byte {
	sorted := append([]*memory.Entry(nil), members...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	for _, e := range sorted {
		fmt.Fprintf(&b, "- [[%s]] %s\n", e.ShortID(), sanitizeTitle(e.Content))
	}
	return []byte(b.String())
}
