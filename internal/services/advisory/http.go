package advisory

import (
	"context"
	"fmt"
	"time"

	"Treasury/internal/domain/models"
	"Treasury/internal/domain/service"
	xhttp "Treasury/pkg/http"
)

// HTTPReviewer posts the advisory request as JSON to an external review
// service.
type HTTPReviewer struct {
	url    string
	client *xhttp.Client
	now    func() time.Time
}

var _ service.AdvisoryReviewer = (*HTTPReviewer)(nil)

func NewHTTPReviewer(url string, timeout time.Duration) *HTTPReviewer {
	return &HTTPReviewer{
		url:    url,
		client: xhttp.NewClient(xhttp.WithTimeout(timeout)),
		now:    time.Now,
	}
}

func (r *HTTPReviewer) Name() string { return "http" }

type reviewResponse struct {
	Approved   *bool    `json:"approved" validate:"required"`
	Confidence *float64 `json:"confidence" validate:"required,gte=0,lte=1"`
	Reasoning  string   `json:"reasoning" validate:"max=4000"`
}

func (r *HTTPReviewer) Review(ctx context.Context, req models.AdvisoryRequest) (models.AdvisoryVerdict, error) {
	var resp reviewResponse
	err := r.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    r.url,
		Body:   req,
	}, &resp)
	if err != nil {
		return models.AdvisoryVerdict{}, fmt.Errorf("post review: %w", err)
	}
	if err := xhttp.ValidateStruct(ctx, resp); err != nil {
		return models.AdvisoryVerdict{}, fmt.Errorf("invalid review response: %w", err)
	}

	return models.AdvisoryVerdict{
		Approved:   *resp.Approved,
		Confidence: *resp.Confidence,
		Reasoning:  resp.Reasoning,
		Reviewer:   r.Name(),
		ReviewedAt: r.now(),
	}, nil
}
