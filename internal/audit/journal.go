package audit

import (
	"context"
	"slices"

	"go.uber.org/zap"
)

// Journal appends decision records to a tamper-evident log
type Journal interface {
	Record(ctx context.Context, entry *Entry) error
}

// MemoryJournal keeps the chain in process memory
type MemoryJournal struct {
	chain
	entries []*Entry
}

// NewMemoryJournal creates an empty in-memory journal
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (j *MemoryJournal) Record(ctx context.Context, entry *Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.link(entry)
	j.commit(entry)
	j.entries = append(j.entries, entry)
	return nil
}

// Entries returns the recorded entries in append order
func (j *MemoryJournal) Entries() []*Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.entries)
}

// LogJournal chains entries and writes them to the structured log.
// It is the journal of choice when no event store is configured.
type LogJournal struct {
	chain
	log *zap.SugaredLogger
}

// NewLogJournal creates a journal that writes to log
func NewLogJournal(log *zap.SugaredLogger) *LogJournal {
	return &LogJournal{log: log}
}

func (j *LogJournal) Record(ctx context.Context, entry *Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.link(entry)
	j.commit(entry)
	j.log.Infow("audit",
		"action", entry.Action,
		"notification_id", entry.NotificationID,
		"actor", entry.Actor,
		"sequence", entry.Sequence,
		"hash", entry.Hash,
		"details", entry.Details,
	)
	return nil
}
