package worklist

import (
	"context"

	"github.com/studyflow/studyflow/pkg/pagination"
)

// Repository answers worklist reads. Implementations must apply the Filter
// exactly as buildQuery does and never cache.
type Repository interface {
	Page(ctx context.Context, f Filter, p pagination.Params) ([]StudyView, int, error)
	Summarize(ctx context.Context, f Filter) ([]Bucket, error)
	// Stream calls fn once per matching row in sort order without holding
	// the full result in memory. A non-nil error from fn stops the stream.
	Stream(ctx context.Context, f Filter, fn func(StudyView) error) error
}
