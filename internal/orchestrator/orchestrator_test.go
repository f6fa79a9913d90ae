package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanpaul/fitcache/internal/gateway"
	"github.com/jeanpaul/fitcache/internal/identity"
	"github.com/jeanpaul/fitcache/internal/store"
	"github.com/jeanpaul/fitcache/internal/store/storetest"
)

func token(payload string) string {
	return "eyJhbGciOiJIUzI1NiJ9." + base64.RawURLEncoding.EncodeToString([]byte(payload)) + ".sig"
}

type fixture struct {
	mem  *store.Memory
	ids  *identity.Resolver
	orch *Orchestrator
}

func newFixture(t *testing.T, s store.Store, mem *store.Memory, version string) *fixture {
	t.Helper()
	ids := identity.NewResolver(s, nil)
	gw := gateway.New(s, ids, nil)
	return &fixture{
		mem:  mem,
		ids:  ids,
		orch: NewOrchestrator(gw, ids, StaticVersion(version), nil, nil),
	}
}

func seed(t *testing.T, s store.Store, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		require.NoError(t, s.Set(context.Background(), k, v))
	}
}

func get(t *testing.T, s store.Store, key string) (string, bool) {
	t.Helper()
	v, ok, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	return v, ok
}

// scripted fails or panics on chosen ListKeys calls, counted from 1.
type scripted struct {
	store.Store

	mu      sync.Mutex
	n       int
	failOn  map[int]bool
	panicOn int
}

func (s *scripted) ListKeys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	s.n++
	n := s.n
	s.mu.Unlock()
	if n == s.panicOn {
		panic("list keys exploded")
	}
	if s.failOn[n] {
		return nil, errors.New("list keys unavailable")
	}
	return s.Store.ListKeys(ctx)
}

func TestRun_MigrationNeverOverwrites(t *testing.T) {
	mem := store.NewMemory()
	f := newFixture(t, mem, mem, "1.1.0")
	seed(t, mem, map[string]string{
		LedgerKey:                   "1.0.0",
		identity.CredentialKey:      token(`{"id":"u123"}`),
		"completed_meals":           `["m1"]`,
		"user_u123_completed_meals": `["m2"]`,
	})

	state := f.orch.Run(context.Background())

	assert.Equal(t, PhaseCommitted, state.Phase)
	assert.True(t, state.Completed)
	assert.Equal(t, "u123", state.AccountID)
	assert.Equal(t, DirectionUpgrade, state.Direction)
	assert.Contains(t, state.Skipped, "completed_meals")
	assert.Empty(t, state.Copied)

	v, _ := get(t, mem, "user_u123_completed_meals")
	assert.Equal(t, `["m2"]`, v)
	v, _ = get(t, mem, LedgerKey)
	assert.Equal(t, "1.1.0", v)
}

func TestRun_CopiesLegacyKeys(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	f := newFixture(t, mem, mem, "2.0.0")
	seed(t, mem, map[string]string{
		identity.CredentialKey:    token(`{"id":4711}`),
		"cached_user_profile":     `{"name":"ana"}`,
		"water_intake":            `5`,
		"has_seen_onboarding":     `true`,
		"user_9_cached_diet_plan": `{"userId":"9"}`,
	})

	state := f.orch.Run(ctx)

	require.Equal(t, PhaseCommitted, state.Phase, state.Errors)
	assert.Equal(t, DirectionInitial, state.Direction)
	assert.ElementsMatch(t, []string{"cached_user_profile", "water_intake"}, state.Copied)
	assert.Equal(t, []Phase{
		PhaseIdle, PhaseVersionChecked, PhaseMigrationNeeded, PhaseAuthRecovered,
		PhaseBackedUp, PhaseMigrated, PhaseValidated, PhaseCommitted,
	}, state.History)

	v, _ := get(t, mem, "user_4711_cached_user_profile")
	assert.JSONEq(t, `{"name":"ana","userId":"4711"}`, v)
	v, _ = get(t, mem, "user_4711_water_intake")
	assert.Equal(t, `5`, v)

	// legacy keys stay until logout; other accounts are untouched
	_, ok := get(t, mem, "cached_user_profile")
	assert.True(t, ok)
	_, ok = get(t, mem, "user_4711_has_seen_onboarding")
	assert.False(t, ok)
	v, _ = get(t, mem, "user_9_cached_diet_plan")
	assert.Equal(t, `{"userId":"9"}`, v)

	assert.Equal(t, "4711", f.ids.Current(ctx))
}

func TestRun_ValidationPurgesForeignRecords(t *testing.T) {
	mem := store.NewMemory()
	f := newFixture(t, mem, mem, "1.1.0")
	seed(t, mem, map[string]string{
		identity.CredentialKey:         token(`{"id":"u1"}`),
		"user_u1_cached_diet_plan":     `{"userId":"u2"}`,
		"user_u1_cached_workout_plan":  `{"days":2}`,
		"user_u1_water_intake_archive": `{"glasses":1}`,
	})

	state := f.orch.Run(context.Background())

	require.Equal(t, PhaseCommitted, state.Phase)
	assert.Equal(t, 1, state.Sweep.Removed)
	assert.Equal(t, 2, state.Sweep.Tagged)
	_, ok := get(t, mem, "user_u1_cached_diet_plan")
	assert.False(t, ok)
	v, _ := get(t, mem, "user_u1_water_intake_archive")
	assert.JSONEq(t, `{"glasses":1,"userId":"u1"}`, v)
}

func TestRun_VersionUnchangedSweepsOnly(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	f := newFixture(t, mem, mem, "1.0.0")
	seed(t, mem, map[string]string{
		LedgerKey:                  "1.0.0",
		identity.CurrentAccountKey: "u1",
		identity.CredentialKey:     token(`{"id":"u1"}`),
		"completed_meals":          `["m1"]`,
		"user_u1_cached_diet_plan": `{"userId":"u2"}`,
	})

	state := f.orch.Run(ctx)

	assert.Equal(t, PhaseNoop, state.Phase)
	assert.True(t, state.Completed)
	assert.Equal(t, 1, state.Sweep.Removed)
	assert.False(t, state.Reached(PhaseMigrationNeeded))
	_, ok := get(t, mem, "user_u1_completed_meals")
	assert.False(t, ok, "no migration on unchanged version")
	_, ok = get(t, mem, "user_u1_cached_diet_plan")
	assert.False(t, ok)
}

func TestRun_NoCredentialIsNoop(t *testing.T) {
	mem := store.NewMemory()
	f := newFixture(t, mem, mem, "1.2.0")
	seed(t, mem, map[string]string{
		LedgerKey:                    "1.1.0",
		"completed_meals":            `["m1"]`,
		identity.CurrentAccountKey:   "u123",
		"user_u123_cached_diet_plan": `{"calories":1800,"userId":"u999"}`,
	})

	state := f.orch.Run(context.Background())

	assert.Equal(t, PhaseNoop, state.Phase)
	assert.True(t, state.Completed)
	assert.True(t, state.Reached(PhaseMigrationNeeded))
	assert.Contains(t, state.Warnings, "[auth_recovery] no stored credential")
	v, _ := get(t, mem, LedgerKey)
	assert.Equal(t, "1.2.0", v)

	// the tracked account is still swept
	assert.Equal(t, "u123", state.AccountID)
	assert.Equal(t, 1, state.Sweep.Removed)
	_, ok := get(t, mem, "user_u123_cached_diet_plan")
	assert.False(t, ok)
	keys, _ := mem.ListKeys(context.Background())
	assert.ElementsMatch(t, []string{LedgerKey, "completed_meals", identity.CurrentAccountKey}, keys)
}

func TestRun_PlaceholderCredentialIsNoop(t *testing.T) {
	for _, id := range []string{"anonymous", "temp_42", "temp-device"} {
		t.Run(id, func(t *testing.T) {
			mem := store.NewMemory()
			f := newFixture(t, mem, mem, "1.2.0")
			seed(t, mem, map[string]string{
				LedgerKey:              "1.1.0",
				identity.CredentialKey: token(`{"id":"` + id + `"}`),
				"completed_meals":      `["m1"]`,
			})

			state := f.orch.Run(context.Background())

			assert.Equal(t, PhaseNoop, state.Phase)
			assert.False(t, state.Reached(PhaseAuthRecovered))
			assert.Empty(t, state.AccountID)
			require.Len(t, state.Warnings, 1)
			assert.Contains(t, state.Warnings[0], "placeholder")
			_, ok := get(t, mem, identity.CurrentAccountKey)
			assert.False(t, ok)
			raw, ok := get(t, mem, "completed_meals")
			require.True(t, ok)
			assert.Equal(t, `["m1"]`, raw)
		})
	}
}

func TestRun_MalformedCredentialIsNoop(t *testing.T) {
	mem := store.NewMemory()
	f := newFixture(t, mem, mem, "1.2.0")
	seed(t, mem, map[string]string{identity.CredentialKey: "not-a-token"})

	state := f.orch.Run(context.Background())

	assert.Equal(t, PhaseNoop, state.Phase)
	assert.Empty(t, state.AccountID)
	assert.Len(t, state.Warnings, 1)
}

func TestRun_LedgerReadFailureLeavesRunIncomplete(t *testing.T) {
	mem := store.NewMemory()
	faulty := storetest.NewFaulty(mem)
	faulty.Fail(storetest.OpGet, LedgerKey)
	f := newFixture(t, faulty, mem, "1.0.0")

	state := f.orch.Run(context.Background())

	assert.False(t, state.Completed)
	assert.Equal(t, PhaseIdle, state.Phase)
	require.Len(t, state.Errors, 1)
	assert.Contains(t, state.Errors[0], "[version_check]")
}

func TestRun_PerKeyFailuresDoNotAbort(t *testing.T) {
	mem := store.NewMemory()
	faulty := storetest.NewFaulty(mem)
	f := newFixture(t, faulty, mem, "1.1.0")
	seed(t, mem, map[string]string{
		identity.CredentialKey: token(`{"id":"u1"}`),
		"completed_meals":      `["m1"]`,
		"completed_exercises":  `["e1"]`,
	})
	faulty.Fail(storetest.OpGet, "completed_meals")

	state := f.orch.Run(context.Background())

	assert.Equal(t, PhaseCommitted, state.Phase)
	assert.Equal(t, []string{"completed_meals"}, state.Failed)
	assert.Equal(t, []string{"completed_exercises"}, state.Copied)
	assert.NotEmpty(t, state.Warnings)
	_, ok := get(t, mem, "user_u1_completed_exercises")
	assert.True(t, ok)
}

func TestRun_RollsBackOnValidationFailure(t *testing.T) {
	mem := store.NewMemory()
	faulty := storetest.NewFaulty(mem)
	f := newFixture(t, faulty, mem, "1.1.0")
	seed(t, mem, map[string]string{
		LedgerKey:              "1.0.0",
		identity.CredentialKey: token(`{"id":"u1"}`),
		"user_u1_water_intake": `{"glasses":2,"userId":"u1"}`,
		"completed_meals":      `["m1"]`,
	})
	// snapshot and migrate list keys; the sweep does not get to
	faulty.FailAfter(storetest.OpListKeys, 2)

	state := f.orch.Run(context.Background())

	assert.Equal(t, PhaseRolledBack, state.Phase)
	assert.False(t, state.Completed)
	assert.True(t, state.Reached(PhaseMigrated))
	assert.False(t, state.Reached(PhaseValidated))
	assert.True(t, state.BackupTaken)
	assert.Equal(t, 1, state.Restored)
	require.NotEmpty(t, state.Errors)
	assert.Contains(t, state.Errors[0], "[validate]")

	v, _ := get(t, mem, "user_u1_water_intake")
	assert.JSONEq(t, `{"glasses":2,"userId":"u1"}`, v)
	v, _ = get(t, mem, LedgerKey)
	assert.Equal(t, "1.1.0", v, "ledger is written even when migration fails")
}

func TestRun_RecoversFromPanic(t *testing.T) {
	mem := store.NewMemory()
	s := &scripted{Store: mem, panicOn: 2}
	f := newFixture(t, s, mem, "1.1.0")
	seed(t, mem, map[string]string{
		identity.CredentialKey:    token(`{"id":"u1"}`),
		"user_u1_completed_meals": `["m2"]`,
	})

	var state *MigrationState
	require.NotPanics(t, func() { state = f.orch.Run(context.Background()) })

	assert.Equal(t, PhaseRolledBack, state.Phase)
	assert.Equal(t, 1, state.Restored)
	require.NotEmpty(t, state.Errors)
	assert.Contains(t, state.Errors[0], "[migrate] panic: list keys exploded")
}

func TestRun_BackupFailureDoesNotBlock(t *testing.T) {
	mem := store.NewMemory()
	s := &scripted{Store: mem, failOn: map[int]bool{1: true}}
	f := newFixture(t, s, mem, "1.1.0")
	seed(t, mem, map[string]string{
		identity.CredentialKey: token(`{"id":"u1"}`),
		"completed_meals":      `["m1"]`,
	})

	state := f.orch.Run(context.Background())

	assert.Equal(t, PhaseCommitted, state.Phase)
	assert.False(t, state.BackupTaken)
	assert.Contains(t, state.Errors[0], "[backup]")
	assert.Equal(t, []string{"completed_meals"}, state.Copied)
}

func TestRun_FailureWithoutBackupRollsBackNothing(t *testing.T) {
	mem := store.NewMemory()
	s := &scripted{Store: mem, failOn: map[int]bool{1: true, 2: true}}
	f := newFixture(t, s, mem, "1.1.0")
	seed(t, mem, map[string]string{identity.CredentialKey: token(`{"id":"u1"}`)})

	state := f.orch.Run(context.Background())

	assert.Equal(t, PhaseRolledBack, state.Phase)
	assert.Zero(t, state.Restored)
}

func TestRun_SavesReport(t *testing.T) {
	dir := t.TempDir()
	mem := store.NewMemory()
	ids := identity.NewResolver(mem, nil)
	gw := gateway.New(mem, ids, nil)
	orch := NewOrchestrator(gw, ids, StaticVersion("3.0.0"), &Config{StateDir: dir}, nil)
	seed(t, mem, map[string]string{identity.CredentialKey: token(`{"id":"u1"}`), "water_completed": `true`})

	state := orch.Run(context.Background())

	loaded, err := LoadState(filepath.Join(dir, state.RunID+".json"))
	require.NoError(t, err)
	assert.Equal(t, state.RunID, loaded.RunID)
	assert.Equal(t, PhaseCommitted, loaded.Phase)
	assert.Equal(t, []string{"water_completed"}, loaded.Copied)
	assert.False(t, loaded.FinishedAt.IsZero())
}

func TestLoadState_Errors(t *testing.T) {
	_, err := LoadState(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		prev, cur string
		want      Direction
	}{
		{"", "1.0.0", DirectionInitial},
		{"1.0.0", "1.0.1", DirectionUpgrade},
		{"1.10.0", "1.9.0", DirectionDowngrade},
		{"1.0", "1.0.0", DirectionSame},
		{"build-42", "1.0.0", DirectionUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.prev+"->"+tt.cur, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.prev, tt.cur))
		})
	}
}
