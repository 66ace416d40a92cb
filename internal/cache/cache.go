package cache

import (
	"context"
	"strings"
	"time"

	"pasal/backend/internal/domain"
)

// HistoryCache memoises item/account transaction history lookups.
type HistoryCache interface {
	Get(ctx context.Context, key string) ([]domain.ItemTransaction, bool, error)
	Set(ctx context.Context, key string, value []domain.ItemTransaction, ttl time.Duration) error
}

// TokenDenylist records revoked session tokens until they would have expired.
type TokenDenylist interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// HistoryKey scopes a history lookup to one company.
func HistoryKey(companyID, itemID, accountID, kind string) string {
	return strings.Join([]string{"history", companyID, itemID, accountID, kind}, ":")
}

type NoopHistoryCache struct{}

func (NoopHistoryCache) Get(_ context.Context, _ string) ([]domain.ItemTransaction, bool, error) {
	return nil, false, nil
}

func (NoopHistoryCache) Set(_ context.Context, _ string, _ []domain.ItemTransaction, _ time.Duration) error {
	return nil
}
