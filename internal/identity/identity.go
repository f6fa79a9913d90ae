// Package identity tracks which account is active on the device and derives
// account identifiers from bearer credentials.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-hclog"

	"github.com/jeanpaul/fitcache/internal/logging"
	"github.com/jeanpaul/fitcache/internal/schema"
	"github.com/jeanpaul/fitcache/internal/store"
)

// Store keys owned by the resolver.
const (
	CurrentAccountKey = "current_user_id"
	CredentialKey     = "authToken"
)

// claimsSchema is the minimum shape of a credential payload.
const claimsSchema = `{
	"type": "object",
	"required": ["id"],
	"properties": {"id": {"type": ["string", "number"]}}
}`

// Resolver reads and writes the tracked account identifier.
type Resolver struct {
	store     store.Store
	log       hclog.Logger
	validator *schema.Validator
	parser    *jwt.Parser
}

// NewResolver creates a resolver over s.
func NewResolver(s store.Store, log hclog.Logger) *Resolver {
	return &Resolver{
		store:     s,
		log:       logging.OrNull(log).Named("identity"),
		validator: schema.NewValidator(),
		parser:    jwt.NewParser(jwt.WithPaddingAllowed()),
	}
}

// Current returns the tracked account id, or "" when none is tracked or the
// store cannot be read.
func (r *Resolver) Current(ctx context.Context) string {
	id, ok, err := r.store.Get(ctx, CurrentAccountKey)
	if err != nil {
		r.log.Warn("read current account failed", "error", err)
		return ""
	}
	if !ok {
		return ""
	}
	return strings.TrimSpace(id)
}

// SetCurrent records id as the active account. Failures are logged and
// returned; callers may treat them as best-effort.
func (r *Resolver) SetCurrent(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return r.Clear(ctx)
	}
	if err := r.store.Set(ctx, CurrentAccountKey, id); err != nil {
		r.log.Warn("write current account failed", "account", id, "error", err)
		return fmt.Errorf("set current account: %w", err)
	}
	return nil
}

// Clear forgets the active account.
func (r *Resolver) Clear(ctx context.Context) error {
	if err := r.store.Remove(ctx, CurrentAccountKey); err != nil {
		r.log.Warn("clear current account failed", "error", err)
		return fmt.Errorf("clear current account: %w", err)
	}
	return nil
}

// StoredCredential returns the bearer credential kept on the device.
func (r *Resolver) StoredCredential(ctx context.Context) (string, bool) {
	token, ok, err := r.store.Get(ctx, CredentialKey)
	if err != nil {
		r.log.Warn("read credential failed", "error", err)
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}

// DeriveAccount extracts the account id from a three-segment bearer
// credential. Only the payload segment is decoded; the signature is not
// verified. Any malformed input yields ("", false).
func (r *Resolver) DeriveAccount(token string) (string, bool) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 || parts[1] == "" {
		return "", false
	}
	payload, err := r.parser.DecodeSegment(parts[1])
	if err != nil {
		r.log.Debug("credential payload is not base64url", "error", err)
		return "", false
	}
	if err := r.validator.Validate(claimsSchema, payload); err != nil {
		r.log.Debug("credential payload rejected", "error", err)
		return "", false
	}

	var claims struct {
		ID any `json:"id"`
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&claims); err != nil {
		return "", false
	}
	var id string
	switch v := claims.ID.(type) {
	case string:
		id = strings.TrimSpace(v)
	case json.Number:
		id = v.String()
	}
	if id == "" {
		return "", false
	}
	return id, true
}

// IsPlaceholder reports whether id is empty or a transient id that must never
// own cached data.
func IsPlaceholder(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" || id == "anonymous" {
		return true
	}
	return strings.HasPrefix(id, "temp_") || strings.HasPrefix(id, "temp-")
}
