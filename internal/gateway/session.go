package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jeanpaul/fitcache/internal/namespace"
)

// Session binds a gateway to one account so call sites do not repeat the id.
// A Session with an empty AccountID resolves the account on every call.
type Session struct {
	g         *Gateway
	AccountID string
}

// For returns a session acting on accountID.
func (g *Gateway) For(accountID string) Session {
	return Session{g: g, AccountID: accountID}
}

// FromContext returns a session for the account resolved from ctx at the
// time of the call.
func (g *Gateway) FromContext(ctx context.Context) Session {
	id := ""
	if g.accounts != nil {
		id = g.accounts.Resolve(ctx, "")
	}
	return g.For(id)
}

func (s Session) Get(ctx context.Context, logical namespace.LogicalKey) (any, bool) {
	return s.g.Get(ctx, logical, s.AccountID)
}

func (s Session) Set(ctx context.Context, logical namespace.LogicalKey, value any) error {
	return s.g.Set(ctx, logical, value, s.AccountID)
}

func (s Session) Remove(ctx context.Context, logical namespace.LogicalKey) error {
	return s.g.Remove(ctx, logical, s.AccountID)
}

func (s Session) Sweep(ctx context.Context) (SweepResult, error) {
	return s.g.Sweep(ctx, s.AccountID)
}

// Decode reads logical into a T. Absence, ownership faults and values that
// do not fit T all report false.
func Decode[T any](ctx context.Context, g *Gateway, logical namespace.LogicalKey, accountID string) (T, bool) {
	var out T
	v, err := g.Lookup(ctx, logical, accountID)
	if err != nil {
		return out, false
	}
	data, err := json.Marshal(v)
	if err != nil {
		return out, false
	}
	if err := json.Unmarshal(data, &out); err != nil {
		g.log.Debug("value does not fit target type", "key", logical, "type", fmt.Sprintf("%T", out), "error", err)
		return out, false
	}
	return out, true
}
