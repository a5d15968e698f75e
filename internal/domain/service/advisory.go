package service

import (
	"context"

	"Treasury/internal/domain/models"
)

// AdvisoryReviewer is the external veto on a proposed plan. Implementations
// return an error for transport or parse failures; the gate turns those into
// the safe default.
type AdvisoryReviewer interface {
	Name() string
	Review(ctx context.Context, req models.AdvisoryRequest) (models.AdvisoryVerdict, error)
}
