// Package namespace maps logical cache keys to physical storage keys.
//
// An active account's data lives under "user_<id>_<logical>". With no active
// account, keys fall into the "temp_" namespace, which never coincides with
// any account's keys: anonymous reads always miss and anonymous writes are
// invisible to any account that signs in later.
package namespace

import (
	"context"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	TempPrefix    = "temp_"
	AccountPrefix = "user_"
)

// AccountSource resolves the account a call acts on. An explicit id wins.
type AccountSource interface {
	Resolve(ctx context.Context, explicit string) string
}

// Namespacer builds physical keys, falling back to an AccountSource when
// the caller does not name an account.
type Namespacer struct {
	accounts AccountSource
}

// New returns a Namespacer. accounts may be nil, in which case only
// explicit ids are used.
func New(accounts AccountSource) *Namespacer {
	return &Namespacer{accounts: accounts}
}

// PhysicalKey maps logical to the storage key of accountID, or of the
// resolved account when accountID is empty.
func (n *Namespacer) PhysicalKey(ctx context.Context, logical LogicalKey, accountID string) string {
	id := strings.TrimSpace(accountID)
	if id == "" && n != nil && n.accounts != nil {
		id = n.accounts.Resolve(ctx, "")
	}
	return AccountKey(logical, id)
}

// AccountKey is the pure form of PhysicalKey.
func AccountKey(logical LogicalKey, accountID string) string {
	if accountID == "" {
		return TempKey(logical)
	}
	return Prefix(accountID) + string(logical)
}

// TempKey returns the placeholder key used when no account is active.
func TempKey(logical LogicalKey) string {
	return TempPrefix + string(logical)
}

// Prefix returns the key prefix shared by every key of accountID.
func Prefix(accountID string) string {
	return AccountPrefix + accountID + "_"
}

// AccountKeyPatterns lists every logical key an account may own.
func AccountKeyPatterns(accountID string) []LogicalKey {
	return Catalogue()
}

// GlobPatterns returns one doublestar pattern per logical key matching the
// key itself and any suffixed variant of it for accountID.
func GlobPatterns(accountID string) []string {
	keys := AccountKeyPatterns(accountID)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, escapeGlob(Prefix(accountID)+string(k))+"*")
	}
	return out
}

// MatchKeys returns the keys matching pattern, in input order.
func MatchKeys(pattern string, keys []string) ([]string, error) {
	var out []string
	for _, k := range keys {
		ok, err := doublestar.Match(pattern, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, k)
		}
	}
	return out, nil
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '{', '}', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// longest first so a catalogue key is never shadowed by one of its suffixes
var byLength = func() []LogicalKey {
	keys := Catalogue()
	sort.SliceStable(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	return keys
}()

// Owner splits a physical account key into its account id and logical
// name. The split point is the last "_" followed by a catalogue key (exact
// or "_"-suffixed), so ids containing "_" are not mistaken for another
// account's prefix. Keys with no catalogue name are not attributed to any
// account.
func Owner(physicalKey string) (accountID, logical string, ok bool) {
	if !strings.HasPrefix(physicalKey, AccountPrefix) {
		return "", "", false
	}
	rest := physicalKey[len(AccountPrefix):]

	for i := len(rest) - 1; i > 0; i-- {
		if rest[i] != '_' {
			continue
		}
		tail := rest[i+1:]
		for _, k := range byLength {
			if tail == string(k) || strings.HasPrefix(tail, string(k)+"_") {
				return rest[:i], tail, true
			}
		}
	}
	return "", "", false
}

// BelongsTo reports whether physicalKey is one of accountID's keys.
func BelongsTo(physicalKey, accountID string) bool {
	if accountID == "" {
		return false
	}
	owner, _, ok := Owner(physicalKey)
	return ok && owner == accountID
}
