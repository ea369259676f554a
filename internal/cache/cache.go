package cache

import (
	"context"
	"time"

	"dukalink/backend/internal/domain"
)

// TransferCountsCache fronts the pending-transfer counters shown on every
// store dashboard. Entries are invalidated whenever a transfer for the store
// is requested, approved or rejected.
type TransferCountsCache interface {
	Get(ctx context.Context, storeID string) (*domain.TransferCounts, bool, error)
	Set(ctx context.Context, storeID string, counts domain.TransferCounts, ttl time.Duration) error
	Invalidate(ctx context.Context, storeIDs ...string) error
}

type NoopTransferCountsCache struct{}

func (NoopTransferCountsCache) Get(_ context.Context, _ string) (*domain.TransferCounts, bool, error) {
	return nil, false, nil
}

func (NoopTransferCountsCache) Set(_ context.Context, _ string, _ domain.TransferCounts, _ time.Duration) error {
	return nil
}

func (NoopTransferCountsCache) Invalidate(_ context.Context, _ ...string) error {
	return nil
}
