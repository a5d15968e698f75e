package repository

import (
	"context"
	"sync"
	"time"

	"Treasury/internal/domain/models"
	domrepo "Treasury/internal/domain/repository"
)

// MemoryJournal keeps the journal in process. Entries are copied in and out.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries []models.JournalEntry
}

var _ domrepo.JournalStore = (*MemoryJournal)(nil)

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (j *MemoryJournal) Append(ctx context.Context, entry models.JournalEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
	return nil
}

func (j *MemoryJournal) LastTriggered(ctx context.Context) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	j.mu.RLock()
	defer j.mu.RUnlock()

	var last time.Time
	found := false
	for _, e := range j.entries {
		if e.Kind == models.JournalDecision && e.Triggered && e.Timestamp.After(last) {
			last, found = e.Timestamp, true
		}
	}
	return last, found, nil
}

// Recent returns up to limit entries, newest first.
func (j *MemoryJournal) Recent(ctx context.Context, limit int) ([]models.JournalEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	j.mu.RLock()
	defer j.mu.RUnlock()

	if limit <= 0 || limit > len(j.entries) {
		limit = len(j.entries)
	}
	out := make([]models.JournalEntry, 0, limit)
	for i := len(j.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, j.entries[i])
	}
	return out, nil
}
