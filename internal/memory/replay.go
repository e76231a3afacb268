package memory

import (
	"engramd/internal/logging"
)

// ReplayResult summarizes one startup replay.
type ReplayResult struct {
	Replayed    int // Events applied to the live view
	Duplicates  int // Events whose entry was already present (no-op inserts)
	Quarantined int // Events skipped by the firewall under current rules
}

// OpenWithLog constructs a Store by loading all events from the log at the
// given path and replaying each through the same firewall evaluation used
// for live writes. An event quarantined on replay is skipped with a warning
// rather than aborting startup, which keeps firewall-rule evolution
// non-fatal to historical data.
func OpenWithLog(path string, gate Gate, identity *IdentityKernel) (*Store, *EventLog, ReplayResult, error) {
	log, err := NewEventLog(path)
	if err != nil {
		return nil, nil, ReplayResult{}, err
	}

	events, err := log.Load()
	if err != nil {
		return nil, nil, ReplayResult{}, err
	}

	store, result := Replay(events, gate, identity)
	logging.Boot("replayed %d events: %d live, %d duplicate, %d quarantined",
		len(events), result.Replayed, result.Duplicates, result.Quarantined)
	return store, log, result, nil
}

// Replay applies events in order to a fresh Store, re-evaluating the firewall
// per event. Duplicate event identifiers referencing the same entry replay
// idempotently: the second occurrence is a no-op insert.
func Replay(events []Event, gate Gate, identity *IdentityKernel) (*Store, ReplayResult) {
	store := NewStore()
	var result ReplayResult

	for _, ev := range events {
		entry := ev.Entry.Clone()

		if gate != nil {
			decision := gate.Evaluate(identity, entry)
			if !decision.Accepted {
				logging.Get(logging.CategoryBoot).Warn(
					"replay quarantined event %s (entry %s): %s", ev.EventID, entry.ID, decision.Reason)
				result.Quarantined++
				continue
			}
		}

		if store.Insert(entry) {
			result.Replayed++
		} else {
			result.Duplicates++
		}
	}
	return store, result
}

// EventsFromStore builds one event per live entry, preserving entry identity
// and creation time. Used by log rewrites (tier wipes, follow-up
// consumption, core retirement) where the removed entries must vanish from
// the durable view as well.
func EventsFromStore(store *Store) []Event {
	entries := store.All()
	events := make([]Event, 0, len(entries))
	for _, e := range entries {
		events = append(events, NewEvent(e))
	}
	return events
}
