package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/jeanpaul/fitcache/internal/config"
	"github.com/jeanpaul/fitcache/internal/gateway"
	"github.com/jeanpaul/fitcache/internal/health"
	"github.com/jeanpaul/fitcache/internal/identity"
	"github.com/jeanpaul/fitcache/internal/logging"
	"github.com/jeanpaul/fitcache/internal/namespace"
	"github.com/jeanpaul/fitcache/internal/orchestrator"
	"github.com/jeanpaul/fitcache/internal/store"
)

type app struct {
	cfg   *config.Config
	log   hclog.Logger
	store store.Store
	ids   *identity.Resolver
	gw    *gateway.Gateway
	orch  *orchestrator.Orchestrator
	out   io.Writer
}

func newApp(configPath string, out io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	log := logging.New(cfg.Log)

	s, err := store.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	ids := identity.NewResolver(s, log)
	gw := gateway.New(s, ids, log)
	orch := orchestrator.NewOrchestrator(gw, ids, orchestrator.StaticVersion(cfg.AppVersion),
		&orchestrator.Config{StateDir: cfg.Migration.StateDir}, log)

	return &app{cfg: cfg, log: log, store: s, ids: ids, gw: gw, orch: orch, out: out}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("closing store failed", "error", err)
	}
}

// withAccountArg attaches args[i] as the account when it was given.
func withAccountArg(ctx context.Context, args []string, i int) context.Context {
	if len(args) > i && strings.TrimSpace(args[i]) != "" {
		return identity.WithAccount(ctx, args[i])
	}
	return ctx
}

func logicalKey(name string) (namespace.LogicalKey, error) {
	if !namespace.IsLogicalKey(name) {
		known := make([]string, 0)
		for _, k := range namespace.Catalogue() {
			known = append(known, string(k))
		}
		return "", fmt.Errorf("unknown key %q (known: %s)", name, strings.Join(known, ", "))
	}
	return namespace.LogicalKey(name), nil
}

func explain(err error) error {
	switch {
	case errors.Is(err, gateway.ErrNoAccount):
		return errors.New("no active account (pass one or run 'fitcache login <token>')")
	case errors.Is(err, gateway.ErrForeignRecord):
		return errors.New("stored record belonged to another account and was removed")
	}
	return err
}

func (a *app) transientKeys() []namespace.LogicalKey {
	out := make([]namespace.LogicalKey, 0, len(a.cfg.Logout.TransientKeys))
	for _, k := range a.cfg.Logout.TransientKeys {
		out = append(out, namespace.LogicalKey(k))
	}
	return out
}

func (a *app) cmdMigrate(ctx context.Context) error {
	state := a.orch.Run(ctx)

	fmt.Fprintln(a.out, titleStyle.Render("  Migration "+state.RunID))
	fmt.Fprintln(a.out)
	row := func(label, value string) {
		fmt.Fprintf(a.out, "  %s %s\n", labelStyle.Render(fmt.Sprintf("%-10s", label)), value)
	}
	row("versions", fmt.Sprintf("%q -> %q", state.PreviousVersion, state.AppVersion))
	if state.Direction != "" {
		row("direction", string(state.Direction))
	}
	if state.AccountID != "" {
		row("account", state.AccountID)
	}
	row("phase", string(state.Phase))
	if state.BackupTaken {
		row("backup", fmt.Sprintf("%d entries", state.BackupEntries))
	}
	row("copied", fmt.Sprintf("%d %s", len(state.Copied), dimStyle.Render(strings.Join(state.Copied, " "))))
	row("skipped", fmt.Sprintf("%d %s", len(state.Skipped), dimStyle.Render(strings.Join(state.Skipped, " "))))
	row("failed", fmt.Sprintf("%d %s", len(state.Failed), dimStyle.Render(strings.Join(state.Failed, " "))))
	row("sweep", fmt.Sprintf("removed %d, tagged %d", state.Sweep.Removed, state.Sweep.Tagged))
	if state.Phase == orchestrator.PhaseRolledBack {
		row("restored", fmt.Sprintf("%d", state.Restored))
	}
	for _, w := range state.Warnings {
		fmt.Fprintf(a.out, "  %s %s\n", warnStyle.Render("!"), w)
	}
	for _, e := range state.Errors {
		fmt.Fprintf(a.out, "  %s %s\n", errorStyle.Render("✗"), e)
	}

	if !state.Completed {
		return fmt.Errorf("migration incomplete (phase %s)", state.Phase)
	}
	fmt.Fprintln(a.out, okStyle.Render("  ✓ Done"))
	return nil
}

func (a *app) cmdSweep(ctx context.Context) error {
	res, err := a.gw.Sweep(ctx, "")
	if err != nil {
		return explain(err)
	}
	fmt.Fprintf(a.out, "%s scanned %d, removed %d, tagged %d, unreadable %d\n",
		okStyle.Render("✓"), res.Scanned, res.Removed, res.Tagged, res.Unreadable)
	return nil
}

func (a *app) cmdGet(ctx context.Context, name string) error {
	lk, err := logicalKey(name)
	if err != nil {
		return err
	}
	v, err := a.gw.Lookup(ctx, lk, "")
	if errors.Is(err, gateway.ErrNotFound) {
		return fmt.Errorf("no value for %s", name)
	}
	if err != nil {
		return explain(err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, string(data))
	return nil
}

func (a *app) cmdSet(ctx context.Context, name, value string) error {
	lk, err := logicalKey(name)
	if err != nil {
		return err
	}
	if !json.Valid([]byte(value)) {
		return fmt.Errorf("value for %s is not valid JSON", name)
	}
	if err := a.gw.Set(ctx, lk, json.RawMessage(value), ""); err != nil {
		return explain(err)
	}
	fmt.Fprintln(a.out, okStyle.Render("✓ Stored "+name))
	return nil
}

func (a *app) cmdRemove(ctx context.Context, name string) error {
	lk, err := logicalKey(name)
	if err != nil {
		return err
	}
	if err := a.gw.Remove(ctx, lk, ""); err != nil {
		return explain(err)
	}
	fmt.Fprintln(a.out, okStyle.Render("✓ Removed "+name))
	return nil
}

func (a *app) cmdKeys(ctx context.Context) error {
	keys, err := a.store.ListKeys(ctx)
	if err != nil {
		return err
	}
	legacy := map[string]bool{}
	for _, lk := range namespace.LegacyGlobalKeys() {
		legacy[lk.Name] = true
	}
	for _, k := range keys {
		owner := ""
		switch id, _, ok := namespace.Owner(k); {
		case ok:
			owner = "account " + id
		case strings.HasPrefix(k, namespace.TempPrefix):
			owner = "temporary"
		case legacy[k]:
			owner = "legacy"
		}
		fmt.Fprintf(a.out, "  %s %s  %s\n", bulletStyle.Render("●"), keyStyle.Render(k), dimStyle.Render(owner))
	}
	if len(keys) == 0 {
		fmt.Fprintln(a.out, dimStyle.Render("  No keys stored"))
	}
	return nil
}

func (a *app) cmdLogin(ctx context.Context, token string) error {
	id, ok := a.ids.DeriveAccount(token)
	if !ok {
		return errors.New("token carries no account id")
	}
	if err := a.store.Set(ctx, identity.CredentialKey, strings.TrimSpace(token)); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	if err := a.ids.SetCurrent(ctx, id); err != nil {
		return err
	}
	fmt.Fprintln(a.out, okStyle.Render("✓ Logged in as "+id))
	return nil
}

func (a *app) cmdWhoami(ctx context.Context) error {
	current := a.ids.Current(ctx)
	if current == "" {
		fmt.Fprintln(a.out, dimStyle.Render("not logged in"))
	} else {
		fmt.Fprintln(a.out, current)
	}
	if token, ok := a.ids.StoredCredential(ctx); ok {
		if id, ok := a.ids.DeriveAccount(token); ok && id != current {
			fmt.Fprintf(a.out, "%s stored credential belongs to %s\n", warnStyle.Render("!"), id)
		}
	}
	return nil
}

func (a *app) cmdLogout(ctx context.Context) error {
	res, err := gateway.SignOut(ctx, a.gw, a.ids, a.transientKeys())
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s Logged out (%d keys cleared)\n", okStyle.Render("✓"), len(res.Removed))
	return nil
}

func (a *app) cmdSnapshot(ctx context.Context, path string) error {
	snap, err := a.gw.Snapshot(ctx, "")
	if err != nil {
		return explain(err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	fmt.Fprintf(a.out, "%s %d entries of %s written to %s\n", okStyle.Render("✓"), snap.Len(), snap.AccountID, path)
	for _, k := range snap.Skipped {
		fmt.Fprintf(a.out, "  %s skipped unreadable %s\n", warnStyle.Render("!"), k)
	}
	return nil
}

func loadSnapshot(path string) (*gateway.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap gateway.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	return &snap, nil
}

func (a *app) cmdRestore(ctx context.Context, path string) error {
	snap, err := loadSnapshot(path)
	if err != nil {
		return err
	}
	n, err := a.gw.Restore(ctx, snap, "")
	if n > 0 || err == nil {
		fmt.Fprintf(a.out, "%s %d of %d entries restored\n", okStyle.Render("✓"), n, snap.Len())
	}
	return explain(err)
}

func (a *app) cmdDiff(ctx context.Context, path string) error {
	saved, err := loadSnapshot(path)
	if err != nil {
		return err
	}
	live, err := a.gw.Snapshot(ctx, "")
	if err != nil {
		return explain(err)
	}
	d := snapshotDiff(path, saved, live)
	if d == "" {
		fmt.Fprintln(a.out, okStyle.Render("✓ No differences"))
		return nil
	}
	fmt.Fprint(a.out, colorizeDiff(d))
	return nil
}

func cmdDoctor(ctx context.Context, configPath string, out io.Writer) error {
	fmt.Fprintln(out, titleStyle.Render("  Store Health Check"))
	fmt.Fprintln(out)

	check := func(name string) {
		fmt.Fprintf(out, "  %s %s ... ", bulletStyle.Render("●"), labelStyle.Render(name))
	}

	check("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(out, errorStyle.Render("✗ "+err.Error()))
		return errors.New("configuration is invalid")
	}
	if configPath != "" {
		fmt.Fprintln(out, okStyle.Render("✓ "+configPath))
	} else {
		fmt.Fprintln(out, okStyle.Render("✓ OK"))
	}

	check("store")
	s, err := store.Open(cfg.Store)
	if err != nil {
		fmt.Fprintln(out, errorStyle.Render("✗ "+err.Error()))
		return errors.New("store cannot be opened")
	}
	defer s.Close()

	st := health.Check(ctx, s, cfg.Store)
	switch {
	case !st.Reachable:
		fmt.Fprintln(out, errorStyle.Render("✗ "+st.Error))
		return errors.New("store is unreachable")
	case !st.Writable:
		fmt.Fprintln(out, warnStyle.Render("! "+st.Error))
	default:
		fmt.Fprintf(out, "%s %s\n", okStyle.Render("✓ "+cfg.Store.Backend), dimStyle.Render(st.Latency.Round(time.Millisecond).String()))
	}

	fmt.Fprintf(out, "\n  %s %d\n", labelStyle.Render("keys      "), st.Keys)
	fmt.Fprintf(out, "  %s %s\n", labelStyle.Render("accounts  "), strings.Join(st.Accounts, ", "))
	fmt.Fprintf(out, "  %s %s\n", labelStyle.Render("current   "), st.Current)
	fmt.Fprintf(out, "  %s %q (running %q)\n", labelStyle.Render("ledger    "), st.Ledger, cfg.AppVersion)
	if len(st.Legacy) > 0 {
		fmt.Fprintf(out, "  %s %s\n", warnStyle.Render("legacy    "), strings.Join(st.Legacy, ", "))
	}
	return nil
}
