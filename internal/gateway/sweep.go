package gateway

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/jeanpaul/fitcache/internal/namespace"
)

// SweepResult counts what a validation pass did.
type SweepResult struct {
	Scanned    int `json:"scanned"`
	Removed    int `json:"removed"`
	Tagged     int `json:"tagged"`
	Unreadable int `json:"unreadable"`
}

// Sweep validates every key stored under accountID: records tagged for
// another account are removed, untagged objects are tagged. Values that
// cannot be read or parsed are counted and left alone.
func (g *Gateway) Sweep(ctx context.Context, accountID string) (SweepResult, error) {
	id, err := g.resolve(ctx, accountID)
	if err != nil {
		return SweepResult{}, err
	}
	keys, err := g.store.ListKeys(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list keys: %w", err)
	}

	unlock := g.locks.lock(id)
	defer unlock()
	res := g.reconcile(ctx, id, keys)
	if res.Removed > 0 || res.Tagged > 0 {
		g.log.Info("sweep finished", "account", id, "removed", res.Removed, "tagged", res.Tagged)
	}
	return res, nil
}

// Reconcile applies the sweep rules to the given physical keys only. Keys
// that do not belong to accountID are ignored.
func (g *Gateway) Reconcile(ctx context.Context, accountID string, keys []string) (SweepResult, error) {
	id, err := g.resolve(ctx, accountID)
	if err != nil {
		return SweepResult{}, err
	}
	unlock := g.locks.lock(id)
	defer unlock()
	return g.reconcile(ctx, id, keys), nil
}

// reconcile runs with the account lock held.
func (g *Gateway) reconcile(ctx context.Context, id string, keys []string) SweepResult {
	var res SweepResult
	for _, key := range keys {
		if !namespace.BelongsTo(key, id) {
			continue
		}
		res.Scanned++

		raw, ok, err := g.store.Get(ctx, key)
		if err != nil {
			g.log.Warn("sweep read failed", "key", key, "error", err)
			res.Unreadable++
			continue
		}
		if !ok {
			continue
		}
		value, err := decode(raw)
		if err != nil {
			res.Unreadable++
			continue
		}
		obj, isObj := value.(map[string]any)
		if !isObj {
			continue
		}
		owner, tagged := ownerTag(obj)
		switch {
		case tagged && !ownedBy(owner, id):
			if err := g.store.Remove(ctx, key); err != nil {
				g.log.Error("sweep purge failed", "key", key, "error", err)
				continue
			}
			g.log.Warn("purged foreign record", "key", key, "account", id, "owner", owner)
			res.Removed++
		case !tagged:
			obj[OwnerField] = id
			if err := g.write(ctx, key, obj); err != nil {
				g.log.Warn("sweep tag failed", "key", key, "error", err)
				continue
			}
			res.Tagged++
		}
	}
	return res
}

// Snapshot is an in-memory copy of one account's stored values, keyed by
// physical key. Values are kept exactly as stored.
type Snapshot struct {
	AccountID string            `json:"account_id"`
	TakenAt   time.Time         `json:"taken_at"`
	Entries   map[string]string `json:"entries"`
	Skipped   []string          `json:"skipped,omitempty"`
}

// Len returns the number of captured entries.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Entries)
}

// Snapshot copies every key of accountID. A key that fails to read is
// recorded in Skipped and does not fail the snapshot.
func (g *Gateway) Snapshot(ctx context.Context, accountID string) (*Snapshot, error) {
	id, err := g.resolve(ctx, accountID)
	if err != nil {
		return nil, err
	}
	keys, err := g.store.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	unlock := g.locks.lock(id)
	defer unlock()

	snap := &Snapshot{AccountID: id, TakenAt: time.Now().UTC(), Entries: map[string]string{}}
	for _, key := range keys {
		if !namespace.BelongsTo(key, id) {
			continue
		}
		raw, ok, err := g.store.Get(ctx, key)
		if err != nil {
			g.log.Warn("snapshot read failed", "key", key, "error", err)
			snap.Skipped = append(snap.Skipped, key)
			continue
		}
		if ok {
			snap.Entries[key] = raw
		}
	}
	g.log.Debug("snapshot taken", "account", id, "entries", len(snap.Entries), "skipped", len(snap.Skipped))
	return snap, nil
}

// Restore writes snapshot entries back for accountID and returns how many
// were written. Entries whose key does not belong to accountID are skipped.
// Objects are re-stamped with accountID. Per-key write failures do not stop
// the restore; they are returned together.
func (g *Gateway) Restore(ctx context.Context, snap *Snapshot, accountID string) (int, error) {
	id, err := g.resolve(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if snap == nil {
		return 0, nil
	}

	keys := make([]string, 0, len(snap.Entries))
	for k := range snap.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	unlock := g.locks.lock(id)
	defer unlock()

	var (
		restored int
		errs     *multierror.Error
	)
	for _, key := range keys {
		if !namespace.BelongsTo(key, id) {
			g.log.Warn("restore skipped key of another account", "key", key, "account", id)
			continue
		}
		raw := restamp(snap.Entries[key], id)
		if err := g.store.Set(ctx, key, raw); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("restore %s: %w", key, err))
			continue
		}
		restored++
	}
	return restored, errs.ErrorOrNil()
}

// restamp sets the ownership tag on an object value. Values that are not
// objects, or already carry the right tag, are returned untouched.
func restamp(raw, id string) string {
	value, err := decode(raw)
	if err != nil {
		return raw
	}
	obj, ok := value.(map[string]any)
	if !ok || ownedBy(obj[OwnerField], id) {
		return raw
	}
	obj[OwnerField] = id
	out, err := marshal(obj)
	if err != nil {
		return raw
	}
	return out
}
