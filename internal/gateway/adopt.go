package gateway

import (
	"context"
	"fmt"

	"github.com/jeanpaul/fitcache/internal/namespace"
)

// Adopt copies a raw value into logical for the account unless the account
// already has a value there. Objects are stamped with the account id; other
// values, including ones that are not JSON, are copied verbatim. It reports
// whether the value was written.
func (g *Gateway) Adopt(ctx context.Context, logical namespace.LogicalKey, raw string, accountID string) (bool, error) {
	id, err := g.resolve(ctx, accountID)
	if err != nil {
		return false, err
	}
	key := namespace.AccountKey(logical, id)

	unlock := g.locks.lock(id)
	defer unlock()

	_, exists, err := g.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if exists {
		return false, nil
	}
	if err := g.store.Set(ctx, key, restamp(raw, id)); err != nil {
		return false, fmt.Errorf("write %s: %w", key, err)
	}
	return true, nil
}
