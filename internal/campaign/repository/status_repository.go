package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rvcampaign/internal/campaign/model"
	"rvcampaign/internal/common/cache"
	appErr "rvcampaign/pkg/errors"
)

const (
	statusKeyPrefix = "rvcampaign:status:"
	recentKey       = "rvcampaign:recent"
	recentLimit     = 100
)

// StatusRepository keeps campaign status in the cache.
type StatusRepository struct {
	cache cache.Cache
	TTL   time.Duration
}

// NewStatusRepository creates a new repository.
func NewStatusRepository(cacheClient cache.Cache, ttl time.Duration) *StatusRepository {
	return &StatusRepository{cache: cacheClient, TTL: ttl}
}

// Get returns status by campaign id.
func (r *StatusRepository) Get(ctx context.Context, id string) (model.CampaignStatus, error) {
	if id == "" {
		return model.CampaignStatus{}, appErr.ValidationError("id", "required")
	}
	if r.cache == nil {
		return model.CampaignStatus{}, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	val, err := r.cache.Get(ctx, statusKeyPrefix+id)
	if err != nil {
		return model.CampaignStatus{}, appErr.Wrapf(err, appErr.CacheError, "load status failed")
	}
	if val == "" {
		return model.CampaignStatus{}, appErr.New(appErr.NotFound).WithMessage("campaign status not found")
	}
	var status model.CampaignStatus
	if err := json.Unmarshal([]byte(val), &status); err != nil {
		return model.CampaignStatus{}, appErr.Wrapf(err, appErr.CacheError, "decode status failed")
	}
	return status, nil
}

// Save persists status. A campaign seen for the first time is also added
// to the recent list.
func (r *StatusRepository) Save(ctx context.Context, status model.CampaignStatus) error {
	if status.ID == "" {
		return appErr.ValidationError("id", "required")
	}
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status failed: %w", err)
	}
	prev, err := r.cache.Get(ctx, statusKeyPrefix+status.ID)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "load status failed")
	}
	if err := r.cache.Set(ctx, statusKeyPrefix+status.ID, string(data), r.TTL); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store status failed")
	}
	if prev != "" {
		return nil
	}
	if err := r.cache.LPush(ctx, recentKey, status.ID); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "record recent campaign failed")
	}
	if err := r.cache.LTrim(ctx, recentKey, 0, recentLimit-1); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "trim recent campaigns failed")
	}
	return nil
}

// Recent returns up to limit statuses, newest first. Expired entries are
// skipped.
func (r *StatusRepository) Recent(ctx context.Context, limit int) ([]model.CampaignStatus, error) {
	if r.cache == nil {
		return nil, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	if limit <= 0 || limit > recentLimit {
		limit = recentLimit
	}
	ids, err := r.cache.LRange(ctx, recentKey, 0, int64(limit-1))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "list recent campaigns failed")
	}
	out := make([]model.CampaignStatus, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		st, err := r.Get(ctx, id)
		if appErr.Is(err, appErr.NotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}
