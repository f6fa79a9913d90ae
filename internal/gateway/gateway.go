// Package gateway is the only path between application code and the raw
// store for account-scoped cache data.
//
// Every JSON object written through the gateway carries an ownership tag
// (OwnerField) holding the account id that wrote it. Reads verify the tag and
// purge records that belong to another account instead of returning them, so
// in the worst case a caller sees missing data, never foreign data. Calls with
// no resolvable account fail closed without touching storage.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/jeanpaul/fitcache/internal/identity"
	"github.com/jeanpaul/fitcache/internal/logging"
	"github.com/jeanpaul/fitcache/internal/namespace"
	"github.com/jeanpaul/fitcache/internal/store"
)

// OwnerField is the ownership tag injected into stored objects.
const OwnerField = "userId"

var (
	ErrNoAccount     = errors.New("gateway: no active account")
	ErrNotFound      = errors.New("gateway: not found")
	ErrCorrupt       = errors.New("gateway: stored value is not valid JSON")
	ErrForeignRecord = errors.New("gateway: record belongs to another account")
)

// Gateway wraps a raw store with ownership tagging and validation.
type Gateway struct {
	store    store.Store
	accounts namespace.AccountSource
	log      hclog.Logger
	locks    accountLocks
}

// New returns a gateway over s. accounts resolves the account when a call
// does not name one; it may be nil.
func New(s store.Store, accounts namespace.AccountSource, log hclog.Logger) *Gateway {
	return &Gateway{
		store:    s,
		accounts: accounts,
		log:      logging.OrNull(log).Named("gateway"),
	}
}

// Store exposes the underlying raw store to sibling infrastructure
// (migration, diagnostics). Application code must not use it.
func (g *Gateway) Store() store.Store { return g.store }

func (g *Gateway) resolve(ctx context.Context, accountID string) (string, error) {
	id := strings.TrimSpace(accountID)
	if id == "" && g.accounts != nil {
		id = g.accounts.Resolve(ctx, "")
	}
	if identity.IsPlaceholder(id) {
		return "", ErrNoAccount
	}
	return id, nil
}

// Lookup reads logical for the account. It returns ErrNoAccount,
// ErrNotFound, ErrCorrupt, ErrForeignRecord or a wrapped store error.
// Untagged objects are tagged and rewritten before being returned.
func (g *Gateway) Lookup(ctx context.Context, logical namespace.LogicalKey, accountID string) (any, error) {
	id, err := g.resolve(ctx, accountID)
	if err != nil {
		return nil, err
	}
	key := namespace.AccountKey(logical, id)

	unlock := g.locks.lock(id)
	defer unlock()

	raw, ok, err := g.store.Get(ctx, key)
	if err != nil {
		g.log.Warn("read failed", "key", key, "error", err)
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	value, err := decode(raw)
	if err != nil {
		g.log.Debug("unreadable value", "key", key, "error", err)
		return nil, ErrCorrupt
	}

	obj, isObj := value.(map[string]any)
	if !isObj {
		return value, nil
	}
	owner, tagged := ownerTag(obj)
	if tagged && !ownedBy(owner, id) {
		if err := g.store.Remove(ctx, key); err != nil {
			g.log.Error("purge of foreign record failed", "key", key, "account", id, "error", err)
		} else {
			g.log.Warn("purged foreign record", "key", key, "account", id, "owner", owner)
		}
		return nil, ErrForeignRecord
	}
	if !tagged {
		obj[OwnerField] = id
		if err := g.write(ctx, key, obj); err != nil {
			g.log.Warn("lazy tag failed", "key", key, "error", err)
		}
	}
	return obj, nil
}

// Get reads logical for the account, reporting absence for every failure.
func (g *Gateway) Get(ctx context.Context, logical namespace.LogicalKey, accountID string) (any, bool) {
	v, err := g.Lookup(ctx, logical, accountID)
	if err != nil {
		return nil, false
	}
	return v, true
}

// Set stamps value with the account id when it is an object and writes it.
// A nil error means the value was written.
func (g *Gateway) Set(ctx context.Context, logical namespace.LogicalKey, value any, accountID string) error {
	id, err := g.resolve(ctx, accountID)
	if err != nil {
		return err
	}
	normalized, err := normalize(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", logical, err)
	}
	if obj, ok := normalized.(map[string]any); ok {
		obj[OwnerField] = id
	}
	if !Validate(normalized, id) {
		return ErrForeignRecord
	}

	key := namespace.AccountKey(logical, id)
	unlock := g.locks.lock(id)
	defer unlock()
	if err := g.write(ctx, key, normalized); err != nil {
		g.log.Warn("write failed", "key", key, "error", err)
		return err
	}
	return nil
}

// Remove deletes logical for the account.
func (g *Gateway) Remove(ctx context.Context, logical namespace.LogicalKey, accountID string) error {
	id, err := g.resolve(ctx, accountID)
	if err != nil {
		return err
	}
	key := namespace.AccountKey(logical, id)
	unlock := g.locks.lock(id)
	defer unlock()
	if err := g.store.Remove(ctx, key); err != nil {
		g.log.Warn("remove failed", "key", key, "error", err)
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// Validate reports whether value may be stored for accountID. Tagged
// objects must carry exactly accountID; untagged objects (including a null
// tag) and non-object values are accepted.
func Validate(value any, accountID string) bool {
	if accountID == "" {
		return false
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return true
	}
	owner, tagged := ownerTag(obj)
	if !tagged {
		return true
	}
	return ownedBy(owner, accountID)
}

// ownerTag returns the ownership tag of obj. A null tag counts as no tag.
func ownerTag(obj map[string]any) (any, bool) {
	v, ok := obj[OwnerField]
	return v, ok && v != nil
}

func ownedBy(owner any, accountID string) bool {
	s, ok := owner.(string)
	return ok && s == accountID
}

func (g *Gateway) write(ctx context.Context, key string, value any) error {
	data, err := marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := g.store.Set(ctx, key, data); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func marshal(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decode(raw string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// normalize turns any JSON-encodable value into its generic decoded form,
// copying maps so the caller's value is never mutated.
func normalize(value any) (any, error) {
	var data []byte
	switch v := value.(type) {
	case json.RawMessage:
		data = v
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return decode(string(data))
}

// accountLocks serializes mutations per account. Entries are never
// released; a device holds a handful of accounts at most.
type accountLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (l *accountLocks) lock(accountID string) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = map[string]*sync.Mutex{}
	}
	m, ok := l.m[accountID]
	if !ok {
		m = &sync.Mutex{}
		l.m[accountID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
