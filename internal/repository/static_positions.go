package repository

import (
	"context"
	"fmt"
	"sync"

	"Treasury/internal/domain/models"
	domrepo "Treasury/internal/domain/repository"
	"Treasury/pkg/config"

	"github.com/shopspring/decimal"
)

// StaticPositionStore serves a fixed position list, replaced wholesale by
// Replace.
type StaticPositionStore struct {
	mu        sync.RWMutex
	positions []models.Position
}

var _ domrepo.PositionStore = (*StaticPositionStore)(nil)

func NewStaticPositionStore(positions []models.Position) *StaticPositionStore {
	s := &StaticPositionStore{}
	s.Replace(positions)
	return s
}

// NewStaticPositionStoreFromConfig parses the configured seed holdings.
func NewStaticPositionStoreFromConfig(seeds []config.PositionSeed) (*StaticPositionStore, error) {
	positions := make([]models.Position, 0, len(seeds))
	for i, s := range seeds {
		p, err := positionFromSeed(s)
		if err != nil {
			return nil, fmt.Errorf("positions[%d] %s: %w", i, s.Asset, err)
		}
		positions = append(positions, p)
	}
	return NewStaticPositionStore(positions), nil
}

func positionFromSeed(s config.PositionSeed) (models.Position, error) {
	qty, err := decimal.NewFromString(s.Quantity)
	if err != nil {
		return models.Position{}, fmt.Errorf("quantity: %w", err)
	}
	value, err := decimal.NewFromString(s.ValueUSD)
	if err != nil {
		return models.Position{}, fmt.Errorf("value_usd: %w", err)
	}
	p := models.Position{
		Asset:    s.Asset,
		Bucket:   models.Bucket(s.Bucket),
		Protocol: s.Protocol,
		Quantity: qty,
		ValueUSD: value,
	}
	if s.EntryPrice != "" {
		ep, err := decimal.NewFromString(s.EntryPrice)
		if err != nil {
			return models.Position{}, fmt.Errorf("entry_price: %w", err)
		}
		p.EntryPrice = &ep
	}
	return p, nil
}

func (s *StaticPositionStore) ListPositions(ctx context.Context) ([]models.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Position, len(s.positions))
	copy(out, s.positions)
	return out, nil
}

func (s *StaticPositionStore) Replace(positions []models.Position) {
	next := make([]models.Position, len(positions))
	copy(next, positions)
	s.mu.Lock()
	s.positions = next
	s.mu.Unlock()
}
