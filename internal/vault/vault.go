// Package vault maintains the human-readable mirror of memory state: a
// wiki-link note export, tier/day/topic indices, checksummed YAML tier
// summaries, and a narrative digest. The vault is a projection, never a
// source of truth; everything here is rebuildable from the store.
package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"engramd/internal/logging"
	"engramd/internal/memory"
)

// =============================================================================
// VAULT
// =============================================================================

// Managed subdirectories. Files at the vault root other than the four
// summary artifacts are never touched.
const (
	notesDir   = "notes"
	indicesDir = "indices"
)

// Summary artifact file names at the vault root.
const (
	CoreSummaryFile        = "core_summary.yaml"
	UserProfileSummaryFile = "user_profile_summary.yaml"
	ReflectiveSummaryFile  = "reflective_summary.yaml"
	DigestFile             = "memory_digest.md"
)

// SummaryFiles lists the four watched artifacts.
var SummaryFiles = []string{
	CoreSummaryFile,
	UserProfileSummaryFile,
	ReflectiveSummaryFile,
	DigestFile,
}

// Vault projects memory entries onto a directory tree.
type Vault struct {
	root       string
	summaryTop int
}

// New creates a Vault rooted at dir, keeping at most summaryTop items
// per tier summary.
func New(dir string, summaryTop int) *Vault {
	if summaryTop <= 0 {
		summaryTop = 25
	}
	return &Vault{root: dir, summaryTop: summaryTop}
}

// Root returns the vault directory.
func (v *Vault) Root() string {
	return v.root
}

// SummaryPath returns the absolute path of one summary artifact.
func (v *Vault) SummaryPath(name string) string {
	return filepath.Join(v.root, name)
}

// Sync rebuilds the whole projection: notes, indices, summaries,
// digest. Idempotent; returns the number of files actually written.
func (v *Vault) Sync(entries []*memory.Entry) (int, error) {
	written, _, err := v.SyncNotes(entries)
	if err != nil {
		return written, err
	}
	n, err := v.SyncSummaries(entries)
	written += n
	if err != nil {
		return written, err
	}
	logging.Vault("Vault sync complete: %d files written", written)
	return written, nil
}

// writeIfChanged writes content only when it differs byte for byte from
// what is on disk. Reports whether a write happened.
func writeIfChanged(path string, content []byte) (bool, error) {
	existing, err := os.ReadFile(path)
	if err == nil && string(existing) == string(content) {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("failed to create vault directory: %w", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return false, fmt.Errorf("failed to write vault file: %w", err)
	}
	return true, nil
}

// rankEntries orders entries for the summaries: confidence desc, then
// recency desc, then valence desc.
func rankEntries(entries []*memory.Entry) []*memory.Entry {
	ranked := append([]*memory.Entry(nil), entries...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.Valence > b.Valence
	})
	return ranked
}

// checksumLines hashes the canonical item lines of a summary.
func checksumLines(lines []string) string {
	h := sha256.New()
	for _, line := range lines {
		h.Write([]byte(line))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sanitizeTitle(content string) string {
	title := strings.TrimSpace(content)
	if i := strings.IndexAny(title, "\n"); i >= 0 {
		title = title[:i]
	}
	if len(title) > 80 {
		title = title[:80]
	}
	return title
}
