package repository

import (
	"context"
	"database/sql"
	"fmt"

	"Treasury/internal/domain/models"
	domrepo "Treasury/internal/domain/repository"
	pkgch "Treasury/pkg/clickhouse"
	applogger "Treasury/pkg/logger"

	"github.com/shopspring/decimal"
)

// PositionSchema keeps the latest row per (asset, bucket, protocol).
var PositionSchema = []string{
	`CREATE TABLE IF NOT EXISTS treasury_positions (
		asset       LowCardinality(String),
		bucket      LowCardinality(String),
		protocol    String,
		quantity    Decimal(38, 8),
		value_usd   Decimal(38, 2),
		entry_price Nullable(Decimal(38, 8)),
		updated_at  DateTime64(3, 'UTC')
	) ENGINE = ReplacingMergeTree(updated_at)
	ORDER BY (bucket, asset, protocol)`,
}

// CHPositionStore reads the current holdings from ClickHouse.
type CHPositionStore struct {
	db *sql.DB
	l  *applogger.Logger
}

var _ domrepo.PositionStore = (*CHPositionStore)(nil)

func NewCHPositionStore(ch *pkgch.Client, l *applogger.Logger) *CHPositionStore {
	return &CHPositionStore{db: ch.DB(), l: l.With(applogger.String("component", "ch_positions"))}
}

func (s *CHPositionStore) ListPositions(ctx context.Context) ([]models.Position, error) {
	const q = `
		SELECT asset, bucket, protocol, quantity, value_usd, entry_price
		FROM treasury_positions FINAL
		ORDER BY bucket, asset, protocol
	`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		s.l.Error("clickhouse list_positions query error", applogger.Error(err))
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	out := make([]models.Position, 0, 16)
	for rows.Next() {
		var (
			p      models.Position
			bucket string
			entry  decimal.NullDecimal
		)
		if err := rows.Scan(&p.Asset, &bucket, &p.Protocol, &p.Quantity, &p.ValueUSD, &entry); err != nil {
			s.l.Error("clickhouse list_positions scan error", applogger.Error(err))
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.Bucket = models.Bucket(bucket)
		if entry.Valid {
			ep := entry.Decimal
			p.EntryPrice = &ep
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
