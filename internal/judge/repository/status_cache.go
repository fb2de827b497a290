package repository

import (
	"context"
	"encoding/json"
	"time"

	"techfolks/internal/common/cache"
	"techfolks/internal/judge/model"
	appErr "techfolks/pkg/errors"
)

const statusCacheTTL = 24 * time.Hour

// StatusCache keeps a compact per-submission view in Redis so status
// polling does not hit the database while a submission is in flight.
// It is best-effort: the store remains authoritative.
type StatusCache struct {
	cache cache.Cache
}

func NewStatusCache(c cache.Cache) *StatusCache {
	return &StatusCache{cache: c}
}

func statusCacheKey(submissionID string) string {
	return "judge:status:" + submissionID
}

func (s *StatusCache) Save(ctx context.Context, view model.StatusView) error {
	b, err := json.Marshal(view)
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "marshal status view")
	}
	return s.cache.Set(ctx, statusCacheKey(view.SubmissionID), string(b), statusCacheTTL)
}

// Get returns (nil, nil) on a cache miss.
func (s *StatusCache) Get(ctx context.Context, submissionID string) (*model.StatusView, error) {
	raw, err := s.cache.Get(ctx, statusCacheKey(submissionID))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "read status view")
	}
	if raw == "" {
		return nil, nil
	}
	var view model.StatusView
	if err := json.Unmarshal([]byte(raw), &view); err != nil {
		// Treat a corrupt entry as a miss and let the caller fall back.
		return nil, nil
	}
	return &view, nil
}
