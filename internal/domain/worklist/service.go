package worklist

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/studyflow/studyflow/internal/platform/cache"
	"github.com/studyflow/studyflow/pkg/pagination"
)

// SummaryCache stores summaries for a bounded time. cache.JSONStore
// satisfies it; Get must return cache.ErrMiss for absent keys.
type SummaryCache interface {
	Get(ctx context.Context, key string, dst interface{}) error
	Set(ctx context.Context, key string, v interface{}) error
}

// Result is one worklist page plus the summary of the whole filtered set.
type Result struct {
	Items   []StudyView
	Total   int
	Page    pagination.Params
	Summary Summary
}

type Service struct {
	repo   Repository
	cache  SummaryCache
	logger zerolog.Logger
	now    func() time.Time
}

// NewService builds a worklist service. summaries may be nil, in which case
// every summary is computed against the store.
func NewService(repo Repository, summaries SummaryCache, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		cache:  summaries,
		logger: logger.With().Str("component", "worklist").Logger(),
		now:    time.Now,
	}
}

func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) Now() time.Time { return s.now() }

func (s *Service) Query(ctx context.Context, f Filter, p pagination.Params) (*Result, error) {
	items, total, err := s.repo.Page(ctx, f, p)
	if err != nil {
		return nil, err
	}
	sum, err := s.Summary(ctx, f)
	if err != nil {
		return nil, err
	}
	return &Result{Items: items, Total: total, Page: p, Summary: sum}, nil
}

// Summary returns counts and TAT averages for the filtered set. A cached
// value may be up to the cache TTL old; cache failures fall through to the
// store.
func (s *Service) Summary(ctx context.Context, f Filter) (Summary, error) {
	key := f.Key()
	if s.cache != nil {
		var cached Summary
		err := s.cache.Get(ctx, key, &cached)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn().Err(err).Str("filter_key", key).Msg("summary cache read failed")
		}
	}

	buckets, err := s.repo.Summarize(ctx, f)
	if err != nil {
		return Summary{}, err
	}
	sum := Fold(buckets, s.logger)

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, sum); err != nil {
			s.logger.Warn().Err(err).Str("filter_key", key).Msg("summary cache write failed")
		}
	}
	return sum, nil
}

func (s *Service) Stream(ctx context.Context, f Filter, fn func(StudyView) error) error {
	return s.repo.Stream(ctx, f, fn)
}
