package vault

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"engramd/internal/logging"
	"engramd/internal/memory"
)

// =============================================================================
// CHECKSUMMED SUMMARIES
// =============================================================================

// summaryDoc is the serialized form of one tier summary. The checksum
// covers the canonical item lines, so a human edit to any item goes
// stale against the embedded value.
type summaryDoc struct {
	Tier     string        `yaml:"tier"`
	Checksum string        `yaml:"checksum"`
	Items    []summaryItem `yaml:"items"`
}

type summaryItem struct {
	ID         string  `yaml:"id"`
	Content    string  `yaml:"content"`
	Confidence float64 `yaml:"confidence"`
	Valence    float64 `yaml:"valence"`
	Recorded   string  `yaml:"recorded"`
}

func (i summaryItem) canonical() string {
	return fmt.Sprintf("%s|%s|%.4f|%.4f", i.ID, i.Content, i.Confidence, i.Valence)
}

func checksumItems(items []summaryItem) string {
	lines := make([]string, len(items))
	for n, item := range items {
		lines[n] = item.canonical()
	}
	return checksumLines(lines)
}

var summaryTiers = map[string]memory.Tier{
	CoreSummaryFile:        memory.TierCore,
	UserProfileSummaryFile: memory.TierUserProfile,
	ReflectiveSummaryFile:  memory.TierReflective,
}

// SyncSummaries writes the three tier summaries and the narrative
// digest, skipping any file whose content is byte-identical to what is
// already on disk. Returns the number of files written.
func (v *Vault) SyncSummaries(entries []*memory.Entry) (int, error) {
	byTier := make(map[memory.Tier][]*memory.Entry)
	for _, e := range entries {
		byTier[e.Tier] = append(byTier[e.Tier], e)
	}

	written := 0
	for file, tier := range summaryTiers {
		content, err := v.renderSummary(tier, byTier[tier])
		if err != nil {
			return written, err
		}
		changed, err := writeIfChanged(v.SummaryPath(file), content)
		if err != nil {
			return written, err
		}
		if changed {
			written++
		}
	}

	changed, err := writeIfChanged(v.SummaryPath(DigestFile), v.renderDigest(byTier))
	if err != nil {
		return written, err
	}
	if changed {
		written++
	}

	if written > 0 {
		logging.Vault("Summaries updated: %d files", written)
	}
	return written, nil
}

func (v *Vault) renderSummary(tier memory.Tier, entries []*memory.Entry) ([]byte, error) {
	ranked := rankEntries(entries)
	if len(ranked) > v.summaryTop {
		ranked = ranked[:v.summaryTop]
	}

	doc := summaryDoc{Tier: string(tier)}
	for _, e := range ranked {
		doc.Items = append(doc.Items, summaryItem{
			ID:         e.ShortID(),
			Content:    e.Content,
			Confidence: e.Confidence,
			Valence:    e.Valence,
			Recorded:   e.CreatedAt.Format("2006-01-02"),
		})
	}
	doc.Checksum = checksumItems(doc.Items)

	body, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s summary: %w", tier, err)
	}
	return body, nil
}

// digestChecksumRe extracts the checksum comment from the digest.
var digestChecksumRe = regexp.MustCompile(`<!-- checksum: ([0-9a-f]{64}) -->`)

// renderDigest builds the narrative markdown digest. Its checksum lives
// in an HTML comment so the watcher can verify it like the YAML files.
func (v *Vault) renderDigest(byTier map[memory.Tier][]*memory.Entry) []byte {
	var lines []string
	var b strings.Builder
	b.WriteString("# Memory digest\n\n")

	for _, tier := range memory.AllTiers {
		entries := byTier[tier]
		if len(entries) == 0 {
			continue
		}
		ranked := rankEntries(entries)
		top := ranked
		if len(top) > 3 {
			top = top[:3]
		}
		fmt.Fprintf(&b, "## %s (%d)\n\n", tier, len(entries))
		for _, e := range top {
			line := sanitizeTitle(e.Content)
			fmt.Fprintf(&b, "- %s\n", line)
			lines = append(lines, line)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "<!-- checksum: %s -->\n", checksumLines(lines))
	return []byte(b.String())
}

// =============================================================================
// CHECKSUM VERIFICATION
// =============================================================================

// ChecksumHealth reports verification state per summary artifact.
type ChecksumHealth struct {
	File     string `json:"file"`
	Exists   bool   `json:"exists"`
	Verified bool   `json:"verified"`
}

// VerifyFile recomputes the checksum over the artifact's current item
// body and compares it to the embedded value. A mismatch means the file
// was edited by something other than the daemon.
func (v *Vault) VerifyFile(name string) (ChecksumHealth, error) {
	health := ChecksumHealth{File: name}

	data, err := os.ReadFile(v.SummaryPath(name))
	if os.IsNotExist(err) {
		return health, nil
	}
	if err != nil {
		return health, fmt.Errorf("failed to read summary: %w", err)
	}
	health.Exists = true

	if name == DigestFile {
		match := digestChecksumRe.FindSubmatch(data)
		if match == nil {
			return health, nil
		}
		var lines []string
		for _, line := range strings.Split(string(data), "\n") {
			if after, ok := strings.CutPrefix(line, "- "); ok {
				lines = append(lines, after)
			}
		}
		health.Verified = string(match[1]) == checksumLines(lines)
		return health, nil
	}

	var doc summaryDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		// An unparseable summary counts as an external edit.
		return health, nil
	}
	health.Verified = doc.Checksum == checksumItems(doc.Items)
	return health, nil
}

// Health verifies all four summary artifacts.
func (v *Vault) Health() []ChecksumHealth {
	out := make([]ChecksumHealth, 0, len(SummaryFiles))
	for _, name := range SummaryFiles {
		h, err := v.VerifyFile(name)
		if err != nil {
			logging.Get(logging.CategoryVault).Warn("Checksum verification failed for %s: %v", name, err)
		}
		out = append(out, h)
	}
	return out
}
