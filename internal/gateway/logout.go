package gateway

import (
	"context"
	"fmt"

	"github.com/jeanpaul/fitcache/internal/identity"
	"github.com/jeanpaul/fitcache/internal/namespace"
)

// LogoutResult lists the keys a logout asked the store to remove.
type LogoutResult struct {
	Removed []string `json:"removed"`
}

// Logout removes the non-preserved legacy global keys and, when an account
// resolves, that account's transient keys. Keys are named one by one from
// the legacy allow-list and the transient list; nothing is removed by prefix
// and no other account's data is touched.
func (g *Gateway) Logout(ctx context.Context, accountID string, transient []namespace.LogicalKey) (LogoutResult, error) {
	var keys []string
	for _, lk := range namespace.LegacyGlobalKeys() {
		if !lk.Preserve {
			keys = append(keys, lk.Name)
		}
	}

	id, err := g.resolve(ctx, accountID)
	if err == nil {
		for _, k := range transient {
			keys = append(keys, namespace.AccountKey(k, id))
		}
		unlock := g.locks.lock(id)
		defer unlock()
	} else {
		id = ""
	}

	if err := g.store.MultiRemove(ctx, keys); err != nil {
		g.log.Error("logout cleanup failed", "account", id, "error", err)
		return LogoutResult{}, fmt.Errorf("logout cleanup: %w", err)
	}
	g.log.Info("logout cleanup finished", "account", id, "keys", len(keys))
	return LogoutResult{Removed: keys}, nil
}

// SignOut runs Logout for the resolved account. When that account is the
// tracked one, or no account resolves, the tracked account and its
// credential are forgotten too. Signing out another account leaves the
// active sign-in alone.
func SignOut(ctx context.Context, g *Gateway, ids *identity.Resolver, transient []namespace.LogicalKey) (LogoutResult, error) {
	id := ids.Resolve(ctx, "")
	current := ids.Current(ctx)
	res, err := g.Logout(ctx, id, transient)
	if err != nil {
		return res, err
	}
	if id != current {
		g.log.Debug("signed out account is not the tracked one", "account", id, "current", current)
		return res, nil
	}
	if err := g.store.Remove(ctx, identity.CredentialKey); err != nil {
		g.log.Warn("credential removal failed", "error", err)
	}
	if err := ids.Clear(ctx); err != nil {
		return res, err
	}
	return res, nil
}
