package memory

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"engramd/internal/logging"

	"github.com/google/uuid"
)

// Event is one accepted mutation in the durable log. The log is append-only
// newline-delimited JSON; everything in the Store is reconstructible from it.
type Event struct {
	EventID    uuid.UUID `json:"event_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Entry      Entry     `json:"entry"`
}

// NewEvent wraps an entry in a fresh event.
func NewEvent(e *Entry) Event {
	return Event{
		EventID:    uuid.New(),
		OccurredAt: time.Now().UTC(),
		Entry:      *e.Clone(),
	}
}

// EventLog is the durable append-only record of accepted mutations.
// Overwrite is the single serialization point for log rewrites; callers must
// hold external mutual exclusion around it.
type EventLog struct {
	path string
}

// NewEventLog opens (or prepares) an event log at the given path. The file
// is created lazily on first append.
func NewEventLog(path string) (*EventLog, error) {
	if path == "" {
		return nil, fmt.Errorf("event log path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}
	return &EventLog{path: path}, nil
}

// Path returns the log file location.
func (l *EventLog) Path() string {
	return l.path
}

// Append writes one event to the end of the log, fsyncing before returning.
// On error nothing is guaranteed to have become visible; callers must treat
// the append as failed and not insert the entry into the live view.
func (l *EventLog) Append(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync event log: %w", err)
	}

	logging.EventLog("appended event %s (entry %s, tier %s)", ev.EventID, ev.Entry.ID, ev.Entry.Tier)
	return nil
}

// Load reads all events from the log in file order. A missing file yields an
// empty slice. Unparseable lines are skipped with a warning so one corrupt
// record never blocks startup.
func (l *EventLog) Load() ([]Event, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			logging.Get(logging.CategoryEventLog).Warn("skipping malformed event at line %d: %v", line, err)
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}
	return events, nil
}

// Overwrite atomically replaces the entire log content with the given
// events. The new content is staged to a temporary file in the same
// directory, fsynced, then renamed over the log, so a crash never leaves the
// log truncated or half-written.
func (l *EventLog) Overwrite(events []Event) error {
	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, ".events-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to stage log rewrite: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // No-op after a successful rename

	w := bufio.NewWriter(tmp)
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("failed to encode event %s: %w", ev.EventID, err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to stage event: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush staged log: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync staged log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close staged log: %w", err)
	}

	if err := os.Rename(tmpPath, l.path); err != nil {
		return fmt.Errorf("failed to swap staged log into place: %w", err)
	}

	logging.EventLog("overwrote log with %d events", len(events))
	return nil
}

// Backup snapshots the current log next to it, suffixed with a timestamp.
// Called before any consolidation run. A missing log is not an error.
func (l *EventLog) Backup() (string, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read event log for backup: %w", err)
	}

	backupPath := fmt.Sprintf("%s.bak.%s", l.path, time.Now().UTC().Format("20060102T150405"))
	if err := os.WriteFile(backupPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}
	logging.EventLog("backed up log to %s", backupPath)
	return backupPath, nil
}
