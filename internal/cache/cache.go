package cache

import (
	"context"
	"time"

	"tillpoint/backend/internal/domain"
)

// QuoteCache memoizes pricing results keyed by a digest of the cart, the
// active promotions and the pricing date. Entries are short-lived: a new
// discount or offer changes the digest, so stale hits cannot occur.
type QuoteCache interface {
	Get(ctx context.Context, key string) (*domain.Quote, bool, error)
	Set(ctx context.Context, key string, value *domain.Quote, ttl time.Duration) error
}

type NoopQuoteCache struct{}

func (NoopQuoteCache) Get(_ context.Context, _ string) (*domain.Quote, bool, error) {
	return nil, false, nil
}

func (NoopQuoteCache) Set(_ context.Context, _ string, _ *domain.Quote, _ time.Duration) error {
	return nil
}
