package memory

import (
	"strings"
	"testing"
)

// rejectGate quarantines entries whose content contains a marker substring.
type rejectGate struct {
	marker string
}

func (g *rejectGate) Evaluate(identity *IdentityKernel, entry *Entry) Decision {
	if g.marker != "" && strings.Contains(entry.Content, g.marker) {
		return Quarantine("test marker matched")
	}
	return Accept()
}

func TestReplayIdempotence(t *testing.T) {
	log := tempLog(t)

	e := NewEntry(TierEpisodic, "user asked for road map", "chat")
	ev := NewEvent(e)
	if err := log.Append(ev); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	// Duplicate the underlying event on disk.
	if err := log.Append(ev); err != nil {
		t.Fatalf("duplicate Append failed: %v", err)
	}

	store, _, result, err := OpenWithLog(log.Path(), &rejectGate{}, NewIdentityKernel())
	if err != nil {
		t.Fatalf("OpenWithLog failed: %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 entry after duplicate replay, got %d", store.Len())
	}
	if result.Duplicates != 1 {
		t.Errorf("expected 1 duplicate counted, got %d", result.Duplicates)
	}
}

func TestReplaySkipsQuarantinedEvents(t *testing.T) {
	log := tempLog(t)
	if err := log.Append(NewEvent(NewEntry(TierCore, "benign fact", "chat"))); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := log.Append(NewEvent(NewEntry(TierCore, "now-forbidden fact", "chat"))); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// Firewall rules changed between runs: startup must continue anyway.
	store, _, result, err := OpenWithLog(log.Path(), &rejectGate{marker: "forbidden"}, NewIdentityKernel())
	if err != nil {
		t.Fatalf("OpenWithLog failed: %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 live entry, got %d", store.Len())
	}
	if result.Quarantined != 1 {
		t.Errorf("expected 1 quarantined event, got %d", result.Quarantined)
	}
}

func TestEventsFromStorePreservesIdentity(t *testing.T) {
	s := NewStore()
	e := NewEntry(TierCore, "value", "chat")
	s.Insert(e)

	events := EventsFromStore(s)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Entry.ID != e.ID {
		t.Error("rewrite events must preserve entry identity")
	}
	if !events[0].Entry.CreatedAt.Equal(e.CreatedAt) {
		t.Error("rewrite events must preserve creation time")
	}
}
