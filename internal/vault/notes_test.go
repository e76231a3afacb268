package vault

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"engramd/internal/memory"
)

func TestNoteExportAndIndices(t *testing.T) {
	v := New(t.TempDir(), 25)

	e := memory.NewEntry(memory.TierSemantic, "The build farm lives in the basement", "chat")
	e.AddTag("infrastructure")

	written, removed, err := v.SyncNotes([]*memory.Entry{e})
	if err != nil {
		t.Fatalf("SyncNotes: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d", removed)
	}
	// One note + tier index + day index + topic index.
	if written != 4 {
		t.Errorf("written = %d, want 4", written)
	}

	note, err := os.ReadFile(filepath.Join(v.Root(), "notes", e.ShortID()+".md"))
	if err != nil {
		t.Fatalf("note missing: %v", err)
	}
	for _, want := range []string{
		"[[tier-semantic]]",
		"[[day-" + e.CreatedAt.Format("2006-01-02") + "]]",
		"[[topic-infrastructure]]",
		"The build farm lives in the basement",
	} {
		if !strings.Contains(string(note), want) {
			t.Errorf("note missing %q", want)
		}
	}

	index, err := os.ReadFile(filepath.Join(v.Root(), "indices", "tier-semantic.md"))
	if err != nil {
		t.Fatalf("tier index missing: %v", err)
	}
	if !strings.Contains(string(index), "[["+e.ShortID()+"]]") {
		t.Error("tier index missing note link")
	}
}

func TestNoteExportIncremental(t *testing.T) {
	v := New(t.TempDir(), 25)
	e := memory.NewEntry(memory.TierEpisodic, "something happened", "chat")

	if _, _, err := v.SyncNotes([]*memory.Entry{e}); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	written, removed, err := v.SyncNotes([]*memory.Entry{e})
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if written != 0 || removed != 0 {
		t.Errorf("second sync: written=%d removed=%d, want 0/0", written, removed)
	}
}

func TestNoteExportRemovesStaleManagedFiles(t *testing.T) {
	v := New(t.TempDir(), 25)
	a := memory.NewEntry(memory.TierEpisodic, "first", "chat")
	b := memory.NewEntry(memory.TierEpisodic, "second", "chat")

	if _, _, err := v.SyncNotes([]*memory.Entry{a, b}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if _, _, err := v.SyncNotes([]*memory.Entry{b}); err != nil {
		t.Fatalf("resync: %v", err)
	}

	if _, err := os.Stat(filepath.Join(v.Root(), "notes", a.ShortID()+".md")); !os.IsNotExist(err) {
		t.Error("stale note should have been removed")
	}
	if _, err := os.Stat(filepath.Join(v.Root(), "notes", b.ShortID()+".md")); err != nil {
		t.Errorf("surviving note missing: %v", err)
	}
}

func TestNoteExportLeavesRootFilesAlone(t *testing.T) {
	v := New(t.TempDir(), 25)

	rootFile := filepath.Join(v.Root(), "my-own-notes.md")
	if err := os.MkdirAll(v.Root(), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(rootFile, []byte("hands off"), 0644); err != nil {
		t.Fatal(err)
	}

	e := memory.NewEntry(memory.TierEpisodic, "note", "chat")
	if _, _, err := v.SyncNotes([]*memory.Entry{e}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if _, _, err := v.SyncNotes(nil); err != nil {
		t.Fatalf("empty sync: %v", err)
	}

	data, err := os.ReadFile(rootFile)
	if err != nil || string(data) != "hands off" {
		t.Errorf("root file touched: %q, %v", data, err)
	}
}
