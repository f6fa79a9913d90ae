package health

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jeanpaul/fitcache/internal/identity"
	"github.com/jeanpaul/fitcache/internal/namespace"
	"github.com/jeanpaul/fitcache/internal/orchestrator"
	"github.com/jeanpaul/fitcache/internal/store"
)

// ProbeKey is written and removed again to prove the store accepts writes.
const ProbeKey = "__fitcache_probe__"

type Status struct {
	Backend   string
	Path      string
	Reachable bool
	Writable  bool
	Keys      int
	Accounts  []string
	Legacy    []string
	Ledger    string
	Current   string
	Error     string
	Latency   time.Duration
}

// Check verifies that the store answers reads and writes and summarises what
// it holds: account namespaces, legacy keys awaiting migration, and the
// migration ledger.
func Check(ctx context.Context, s store.Store, cfg store.Config) (st Status) {
	st = Status{Backend: cfg.Backend, Path: cfg.Path}
	start := time.Now()
	defer func() { st.Latency = time.Since(start) }()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	keys, err := s.ListKeys(ctx)
	if err != nil {
		st.Error = fmt.Sprintf("cannot list keys: %s", friendlyError(err))
		return st
	}
	st.Reachable = true
	st.Keys = len(keys)

	if err := s.Set(ctx, ProbeKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
		st.Error = fmt.Sprintf("store is read-only: %s", friendlyError(err))
	} else if err := s.Remove(ctx, ProbeKey); err != nil {
		st.Error = fmt.Sprintf("probe key left behind: %s", friendlyError(err))
	} else {
		st.Writable = true
	}

	st.Accounts = Accounts(keys)
	st.Legacy = LegacyPresent(keys)
	if v, ok, err := s.Get(ctx, orchestrator.LedgerKey); err == nil && ok {
		st.Ledger = v
	}
	if v, ok, err := s.Get(ctx, identity.CurrentAccountKey); err == nil && ok {
		st.Current = strings.TrimSpace(v)
	}
	return st
}

// Accounts returns the distinct account ids that own at least one key.
func Accounts(keys []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, k := range keys {
		id, _, ok := namespace.Owner(k)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// LegacyPresent returns the legacy global keys still present in keys.
func LegacyPresent(keys []string) []string {
	present := make(map[string]bool, len(keys))
	for _, k := range keys {
		present[k] = true
	}
	var out []string
	for _, lk := range namespace.LegacyGlobalKeys() {
		if present[lk.Name] {
			out = append(out, lk.Name)
		}
	}
	return out
}

func friendlyError(err error) string {
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") {
		return "database is locked (is another fitcache running?)"
	}
	if strings.Contains(msg, "permission denied") {
		return "permission denied (check store.path)"
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return "store did not answer in time"
	}
	return msg
}
