package cache

import (
	"context"
	"time"

	"berezcashier/backend/internal/domain"
)

// AccountCache fronts the ledger account directory for hot lookups (the
// service-fee payable account is resolved on every sale carrying a fee).
type AccountCache interface {
	Get(ctx context.Context, key string) (*domain.Account, bool, error)
	Set(ctx context.Context, key string, value *domain.Account, ttl time.Duration) error
}

type NoopAccountCache struct{}

func (NoopAccountCache) Get(_ context.Context, _ string) (*domain.Account, bool, error) {
	return nil, false, nil
}

func (NoopAccountCache) Set(_ context.Context, _ string, _ *domain.Account, _ time.Duration) error {
	return nil
}
