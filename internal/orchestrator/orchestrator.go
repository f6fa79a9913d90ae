// Package orchestrator runs the one-time migration of legacy unscoped cache
// keys into the per-account key scheme when the app version changes.
//
// A run never fails its caller: every phase is contained, and the only side
// effect guaranteed to happen is recording the new version in the ledger.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-version"

	"github.com/jeanpaul/fitcache/internal/gateway"
	"github.com/jeanpaul/fitcache/internal/identity"
	"github.com/jeanpaul/fitcache/internal/logging"
	"github.com/jeanpaul/fitcache/internal/namespace"
)

// LedgerKey holds the last app version a run was started for.
const LedgerKey = "last_app_version"

// Step names used to tag report entries.
const (
	stepVersionCheck = "version_check"
	stepAuthRecovery = "auth_recovery"
	stepBackup       = "backup"
	stepMigrate      = "migrate"
	stepValidate     = "validate"
	stepRollback     = "rollback"
	stepSweep        = "sweep"
)

// VersionReporter returns the running application's version string.
type VersionReporter interface {
	Version() string
}

// StaticVersion reports a fixed version.
type StaticVersion string

func (v StaticVersion) Version() string { return string(v) }

// Config holds orchestrator configuration
type Config struct {
	// StateDir receives a JSON report of every run. Empty disables reports.
	StateDir string
}

// Orchestrator coordinates the migration phases.
type Orchestrator struct {
	gw       *gateway.Gateway
	ids      *identity.Resolver
	version  VersionReporter
	stateDir string
	log      hclog.Logger
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(gw *gateway.Gateway, ids *identity.Resolver, v VersionReporter, cfg *Config, log hclog.Logger) *Orchestrator {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Orchestrator{
		gw:       gw,
		ids:      ids,
		version:  v,
		stateDir: cfg.StateDir,
		log:      logging.OrNull(log).Named("migration"),
	}
}

// Run executes the state machine once and returns its report.
func (o *Orchestrator) Run(ctx context.Context) *MigrationState {
	state := NewMigrationState(o.version.Version())
	log := o.log.With("run_id", state.RunID)
	defer o.save(state, log)

	// version check
	needed := false
	err := o.runStep(state, stepVersionCheck, func() error {
		var err error
		needed, err = o.checkVersion(ctx, state)
		return err
	})
	if err != nil {
		log.Error("version check failed, migration incomplete", "error", err)
		return state
	}
	state.SetPhase(PhaseVersionChecked)
	if !needed {
		o.noop(ctx, state, log)
		return state
	}
	state.SetPhase(PhaseMigrationNeeded)
	log.Info("migration needed", "from", state.PreviousVersion, "to", state.AppVersion, "direction", state.Direction)

	// auth recovery
	var id string
	err = o.runStep(state, stepAuthRecovery, func() error {
		id = o.recoverAccount(ctx, state)
		return nil
	})
	if err != nil || id == "" {
		log.Info("no account to migrate")
		o.noop(ctx, state, log)
		return state
	}
	state.AccountID = id
	state.SetPhase(PhaseAuthRecovered)
	log = log.With("account", id)

	// backup
	var snap *gateway.Snapshot
	err = o.runStep(state, stepBackup, func() error {
		var err error
		snap, err = o.gw.Snapshot(ctx, id)
		return err
	})
	if err != nil {
		log.Warn("backup failed, continuing without rollback point", "error", err)
		snap = nil
	} else {
		state.BackupTaken = true
		state.BackupEntries = snap.Len()
	}
	state.SetPhase(PhaseBackedUp)

	// migrate and validate
	err = o.runStep(state, stepMigrate, func() error { return o.migrate(ctx, state, id, log) })
	if err == nil {
		state.SetPhase(PhaseMigrated)
		err = o.runStep(state, stepValidate, func() error { return o.validate(ctx, state, id) })
	}
	if err != nil {
		o.rollback(ctx, state, snap, id, log)
		return state
	}
	state.SetPhase(PhaseValidated)

	state.SetPhase(PhaseCommitted)
	state.Completed = true
	log.Info("migration committed", "copied", len(state.Copied), "skipped", len(state.Skipped),
		"failed", len(state.Failed), "removed", state.Sweep.Removed, "tagged", state.Sweep.Tagged)
	return state
}

// runStep runs fn, turning a panic into an error and recording any error
// in the report.
func (o *Orchestrator) runStep(state *MigrationState, step string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		state.AddError(step, err)
	}()
	return fn()
}

// checkVersion compares the ledger with the running version and, when they
// differ, records the running version before anything else happens.
func (o *Orchestrator) checkVersion(ctx context.Context, state *MigrationState) (bool, error) {
	s := o.gw.Store()
	prev, _, err := s.Get(ctx, LedgerKey)
	if err != nil {
		return false, fmt.Errorf("read ledger: %w", err)
	}
	state.PreviousVersion = prev
	if prev == state.AppVersion {
		return false, nil
	}
	state.Direction = classify(prev, state.AppVersion)
	if err := s.Set(ctx, LedgerKey, state.AppVersion); err != nil {
		return false, fmt.Errorf("write ledger: %w", err)
	}
	return true, nil
}

func classify(prev, cur string) Direction {
	if prev == "" {
		return DirectionInitial
	}
	pv, err := version.NewVersion(prev)
	if err != nil {
		return DirectionUnknown
	}
	cv, err := version.NewVersion(cur)
	if err != nil {
		return DirectionUnknown
	}
	switch {
	case cv.GreaterThan(pv):
		return DirectionUpgrade
	case cv.LessThan(pv):
		return DirectionDowngrade
	default:
		return DirectionSame
	}
}

// noop runs the hygiene sweep for the tracked account.
func (o *Orchestrator) noop(ctx context.Context, state *MigrationState, log hclog.Logger) {
	state.SetPhase(PhaseNoop)
	state.Completed = true

	id := o.ids.Resolve(ctx, "")
	if identity.IsPlaceholder(id) {
		log.Debug("version unchanged, no account to sweep")
		return
	}
	state.AccountID = id
	_ = o.runStep(state, stepSweep, func() error {
		res, err := o.gw.Sweep(ctx, id)
		state.Sweep = res
		return err
	})
}

// recoverAccount derives the account from the stored credential and makes
// it the tracked account. It returns "" when there is nothing to migrate,
// including when the credential names a placeholder account.
func (o *Orchestrator) recoverAccount(ctx context.Context, state *MigrationState) string {
	token, ok := o.ids.StoredCredential(ctx)
	if !ok {
		state.AddWarning(stepAuthRecovery, "no stored credential")
		return ""
	}
	id, ok := o.ids.DeriveAccount(token)
	if !ok {
		state.AddWarning(stepAuthRecovery, "credential carries no account id")
		return ""
	}
	if identity.IsPlaceholder(id) {
		state.AddWarning(stepAuthRecovery, fmt.Sprintf("credential carries placeholder id %q", id))
		return ""
	}
	if o.ids.Current(ctx) != id {
		if err := o.ids.SetCurrent(ctx, id); err != nil {
			state.AddWarning(stepAuthRecovery, fmt.Sprintf("could not update tracked account: %v", err))
		}
	}
	return id
}

// migrate copies every present legacy key into the account's namespace
// without overwriting. Per-key failures are recorded and skipped.
func (o *Orchestrator) migrate(ctx context.Context, state *MigrationState, id string, log hclog.Logger) error {
	s := o.gw.Store()
	keys, err := s.ListKeys(ctx)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}
	present := make(map[string]bool, len(keys))
	for _, k := range keys {
		present[k] = true
	}

	var errs *multierror.Error
	for _, lk := range namespace.LegacyGlobalKeys() {
		if lk.Target == "" || !present[lk.Name] {
			continue
		}
		raw, ok, err := s.Get(ctx, lk.Name)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("read %s: %w", lk.Name, err))
			state.Failed = append(state.Failed, lk.Name)
			continue
		}
		if !ok {
			continue
		}
		copied, err := o.gw.Adopt(ctx, lk.Target, raw, id)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("copy %s: %w", lk.Name, err))
			state.Failed = append(state.Failed, lk.Name)
			continue
		}
		if copied {
			state.Copied = append(state.Copied, lk.Name)
		} else {
			state.Skipped = append(state.Skipped, lk.Name)
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		log.Warn("some legacy keys were not migrated", "failed", len(state.Failed), "error", err)
		for _, e := range errs.Errors {
			state.AddWarning(stepMigrate, e.Error())
		}
	}
	return nil
}

// validate runs the account sweep and then reconciles every key matching
// the account's logical key patterns.
func (o *Orchestrator) validate(ctx context.Context, state *MigrationState, id string) error {
	res, err := o.gw.Sweep(ctx, id)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	keys, err := o.gw.Store().ListKeys(ctx)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}
	for _, pattern := range namespace.GlobPatterns(id) {
		matched, err := namespace.MatchKeys(pattern, keys)
		if err != nil {
			return fmt.Errorf("match %s: %w", pattern, err)
		}
		if len(matched) == 0 {
			continue
		}
		r, err := o.gw.Reconcile(ctx, id, matched)
		if err != nil {
			return fmt.Errorf("reconcile %s: %w", pattern, err)
		}
		res.Removed += r.Removed
		res.Tagged += r.Tagged
		res.Unreadable += r.Unreadable
	}
	state.Sweep = res
	return nil
}

func (o *Orchestrator) rollback(ctx context.Context, state *MigrationState, snap *gateway.Snapshot, id string, log hclog.Logger) {
	state.SetPhase(PhaseRolledBack)
	if snap == nil {
		log.Error("migration failed and no backup was taken")
		return
	}
	_ = o.runStep(state, stepRollback, func() error {
		n, err := o.gw.Restore(ctx, snap, id)
		state.Restored = n
		return err
	})
	log.Warn("migration rolled back", "restored", state.Restored, "entries", snap.Len())
}

func (o *Orchestrator) save(state *MigrationState, log hclog.Logger) {
	state.finish()
	if o.stateDir == "" {
		return
	}
	path, err := state.Save(o.stateDir)
	if err != nil {
		log.Warn("could not save migration report", "error", err)
		return
	}
	log.Debug("migration report saved", "path", path)
}
