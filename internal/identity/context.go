package identity

import (
	"context"
	"strings"
)

// accountContextKey is the context key for the account a call acts on.
type accountContextKey struct{}

// WithAccount stores an account identifier in context.
func WithAccount(ctx context.Context, accountID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, accountContextKey{}, strings.TrimSpace(accountID))
}

// AccountFromContext returns the account identifier stored in context.
func AccountFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(accountContextKey{}).(string)
	return value
}

// Resolve picks the account for one call: an explicit id wins, then the
// context, then the tracked identifier.
func (r *Resolver) Resolve(ctx context.Context, explicit string) string {
	if id := strings.TrimSpace(explicit); id != "" {
		return id
	}
	if id := AccountFromContext(ctx); id != "" {
		return id
	}
	if r == nil {
		return ""
	}
	return r.Current(ctx)
}
