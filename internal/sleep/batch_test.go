package sleep

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"engramd/internal/memory"
)

func TestBatchAnchorReplication(t *testing.T) {
	var entries []*memory.Entry
	for i := 0; i < 5; i++ {
		entries = append(entries, memory.NewEntry(memory.TierCore, fmt.Sprintf("core %d", i), "genesis"))
	}
	for i := 0; i < 5; i++ {
		entries = append(entries, memory.NewEntry(memory.TierUserProfile, fmt.Sprintf("profile %d", i), "chat"))
	}
	episodic := make(map[uuid.UUID]int)
	for i := 0; i < 150; i++ {
		e := memory.NewEntry(memory.TierEpisodic, fmt.Sprintf("episode %d", i), "chat")
		episodic[e.ID] = 0
		entries = append(entries, e)
	}

	batches := BatchMemories(entries, 60)

	if len(batches) < 2 {
		t.Fatalf("got %d batches, want at least 2", len(batches))
	}
	for i, b := range batches {
		cores, profiles := 0, 0
		for _, e := range b.Anchors {
			switch e.Tier {
			case memory.TierCore:
				cores++
			case memory.TierUserProfile:
				profiles++
			}
		}
		if cores != 5 || profiles != 5 {
			t.Errorf("batch %d: %d core + %d profile anchors, want 5+5", i, cores, profiles)
		}
		if len(b.Variable) > 60 {
			t.Errorf("batch %d: variable chunk %d exceeds batch size", i, len(b.Variable))
		}
		for _, e := range b.Variable {
			episodic[e.ID]++
		}
	}
	for id, count := range episodic {
		if count != 1 {
			t.Errorf("episodic entry %s appeared in %d batches, want 1", id, count)
		}
	}
}

func TestBatchEmptyVariablePool(t *testing.T) {
	entries := []*memory.Entry{
		memory.NewEntry(memory.TierCore, "identity", "genesis"),
		memory.NewEntry(memory.TierUserProfile, "name", "chat"),
	}

	batches := BatchMemories(entries, 60)

	if len(batches) != 1 {
		t.Fatalf("got %d batches, want exactly 1", len(batches))
	}
	if len(batches[0].Anchors) != 2 || len(batches[0].Variable) != 0 {
		t.Errorf("anchor-only batch shape wrong: %d anchors, %d variable",
			len(batches[0].Anchors), len(batches[0].Variable))
	}
}

func TestBatchVariablePoolOrdering(t *testing.T) {
	now := time.Now()
	at := func(e *memory.Entry, age time.Duration) *memory.Entry {
		e.CreatedAt = now.Add(-age)
		return e
	}

	oldReflective := at(memory.NewEntry(memory.TierReflective, "old reflection", "chat"), 48*time.Hour)
	newReflective := at(memory.NewEntry(memory.TierReflective, "new reflection", "chat"), time.Hour)
	lowSemantic := memory.NewEntry(memory.TierSemantic, "uncertain fact", "chat")
	lowSemantic.Confidence = 0.3
	highSemantic := memory.NewEntry(memory.TierSemantic, "solid fact", "chat")
	highSemantic.Confidence = 0.9
	episode := memory.NewEntry(memory.TierEpisodic, "episode", "chat")

	batches := BatchMemories([]*memory.Entry{
		lowSemantic, episode, oldReflective, highSemantic, newReflective,
	}, 100)

	if len(batches) != 1 {
		t.Fatalf("got %d batches", len(batches))
	}
	got := make([]string, 0, len(batches[0].Variable))
	for _, e := range batches[0].Variable {
		got = append(got, e.Content)
	}
	want := []string{"new reflection", "old reflection", "solid fact", "uncertain fact", "episode"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("variable pool order = %v, want %v", got, want)
		}
	}
}
