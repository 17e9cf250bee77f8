package logstore

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"ojcore/internal/common/cache"
	"ojcore/internal/judge/model"
	appErr "ojcore/pkg/errors"
	"ojcore/pkg/utils/logger"
)

const logKeyPrefix = "judge:log:"

// CachedStore is a read-through Redis cache in front of another store.
// Cache faults degrade to the inner store; they never fail a request.
type CachedStore struct {
	inner Store
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedStore wraps inner with a Redis read-through cache.
func NewCachedStore(inner Store, cacheClient cache.Cache, ttl time.Duration) *CachedStore {
	return &CachedStore{inner: inner, cache: cacheClient, ttl: ttl}
}

func (s *CachedStore) Save(ctx context.Context, log *model.SubmissionLog) error {
	if err := s.inner.Save(ctx, log); err != nil {
		return err
	}
	s.fill(ctx, log)
	return nil
}

func (s *CachedStore) Get(ctx context.Context, submissionID string) (*model.SubmissionLog, error) {
	if s.cache != nil && submissionID != "" {
		raw, err := s.cache.Get(ctx, logKeyPrefix+submissionID)
		if err == nil && raw != "" {
			var log model.SubmissionLog
			if err := json.Unmarshal([]byte(raw), &log); err == nil {
				return &log, nil
			}
			logger.Warn(ctx, "drop corrupt cached log", zap.String("submission_id", submissionID))
			_ = s.cache.Del(ctx, logKeyPrefix+submissionID)
		}
	}
	log, err := s.inner.Get(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, log)
	return log, nil
}

func (s *CachedStore) Delete(ctx context.Context, submissionID string) error {
	if s.cache == nil {
		return s.inner.Delete(ctx, submissionID)
	}
	return cache.DeleteCached(ctx, s.cache, logKeyPrefix+submissionID, func(ctx context.Context) error {
		if err := s.inner.Delete(ctx, submissionID); err != nil && !appErr.Is(err, appErr.NotFound) {
			return err
		}
		return nil
	})
}

func (s *CachedStore) fill(ctx context.Context, log *model.SubmissionLog) {
	if s.cache == nil || log == nil {
		return
	}
	data, err := json.Marshal(log)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, logKeyPrefix+log.SubmissionID, string(data), cache.JitterTTL(s.ttl)); err != nil {
		logger.Warn(ctx, "fill log cache failed", zap.String("submission_id", log.SubmissionID), zap.Error(err))
	}
}
