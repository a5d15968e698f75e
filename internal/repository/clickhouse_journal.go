package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"Treasury/internal/domain/models"
	domrepo "Treasury/internal/domain/repository"
	pkgch "Treasury/pkg/clickhouse"
	applogger "Treasury/pkg/logger"
)

// JournalSchema creates the journal table. The full entry is kept as JSON in
// payload; the other columns exist for querying.
var JournalSchema = []string{
	`CREATE TABLE IF NOT EXISTS decision_journal (
		id           String,
		ts           DateTime64(3, 'UTC'),
		kind         LowCardinality(String),
		triggered    UInt8,
		executable   UInt8,
		reason       LowCardinality(String),
		abort_reason String,
		payload      String
	) ENGINE = MergeTree
	ORDER BY (ts, id)`,
}

// CHJournalStore implements JournalStore on ClickHouse. Rows are only ever
// inserted.
type CHJournalStore struct {
	db *sql.DB
	l  *applogger.Logger
}

var _ domrepo.JournalStore = (*CHJournalStore)(nil)

func NewCHJournalStore(ch *pkgch.Client, l *applogger.Logger) *CHJournalStore {
	return &CHJournalStore{db: ch.DB(), l: l.With(applogger.String("component", "ch_journal"))}
}

func (s *CHJournalStore) Append(ctx context.Context, e models.JournalEntry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}

	const q = `INSERT INTO decision_journal (id, ts, kind, triggered, executable, reason, abort_reason, payload) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		e.ID, e.Timestamp.UTC(), string(e.Kind), boolToUInt8(e.Triggered), boolToUInt8(e.Executable),
		string(e.Reason), e.AbortReason, string(payload),
	)
	if err != nil {
		s.l.Error("clickhouse journal insert error",
			applogger.String("id", e.ID),
			applogger.String("kind", string(e.Kind)),
			applogger.Error(err),
		)
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

func (s *CHJournalStore) LastTriggered(ctx context.Context) (time.Time, bool, error) {
	const q = `SELECT ts FROM decision_journal WHERE kind = ? AND triggered = 1 ORDER BY ts DESC LIMIT 1`

	var ts time.Time
	err := s.db.QueryRowContext(ctx, q, string(models.JournalDecision)).Scan(&ts)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return time.Time{}, false, nil
	case err != nil:
		s.l.Error("clickhouse journal last_triggered error", applogger.Error(err))
		return time.Time{}, false, fmt.Errorf("last triggered: %w", err)
	}
	return ts, true, nil
}

func (s *CHJournalStore) Recent(ctx context.Context, limit int) ([]models.JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `SELECT payload FROM decision_journal ORDER BY ts DESC, id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		s.l.Error("clickhouse journal recent query error", applogger.Error(err))
		return nil, fmt.Errorf("recent journal entries: %w", err)
	}
	defer rows.Close()

	out := make([]models.JournalEntry, 0, limit)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		var e models.JournalEntry
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("decode journal entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
