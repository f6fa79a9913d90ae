package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanpaul/fitcache/internal/gateway"
	"github.com/jeanpaul/fitcache/internal/store"
)

func writeConfig(t *testing.T) (configPath, storePath string) {
	t.Helper()
	dir := t.TempDir()
	storePath = filepath.Join(dir, "cache.json")
	configPath = filepath.Join(dir, "config.yaml")
	cfg := "app_version: \"2.0.0\"\n" +
		"store:\n  backend: file\n  path: " + storePath + "\n" +
		"log:\n  level: error\n" +
		"migration:\n  enabled: true\n"
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0644))
	return configPath, storePath
}

func token(payload string) string {
	return "eyJhbGciOiJIUzI1NiJ9." + base64.RawURLEncoding.EncodeToString([]byte(payload)) + ".sig"
}

func runCmd(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), configPath, args, &out)
	return out.String(), err
}

func TestCLI_SessionFlow(t *testing.T) {
	cfg, _ := writeConfig(t)

	_, err := runCmd(t, cfg, "get", "cached_diet_plan")
	assert.ErrorContains(t, err, "no active account")

	out, err := runCmd(t, cfg, "login", token(`{"id":"u123"}`))
	require.NoError(t, err)
	assert.Contains(t, out, "u123")

	out, err = runCmd(t, cfg, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "u123")

	_, err = runCmd(t, cfg, "set", "cached_diet_plan", `{"calories":2000}`)
	require.NoError(t, err)

	out, err = runCmd(t, cfg, "get", "cached_diet_plan")
	require.NoError(t, err)
	assert.Contains(t, out, `"calories": 2000`)
	assert.Contains(t, out, `"userId": "u123"`)

	_, err = runCmd(t, cfg, "get", "cached_diet_plan", "someone-else")
	assert.ErrorContains(t, err, "no value for cached_diet_plan")

	out, err = runCmd(t, cfg, "keys")
	require.NoError(t, err)
	assert.Contains(t, out, "user_u123_cached_diet_plan")
	assert.Contains(t, out, "account u123")

	_, err = runCmd(t, cfg, "set", "cached_diet_plan", `{not json`)
	assert.ErrorContains(t, err, "not valid JSON")
	_, err = runCmd(t, cfg, "set", "diet", `{}`)
	assert.ErrorContains(t, err, "unknown key")

	_, err = runCmd(t, cfg, "logout")
	require.NoError(t, err)
	out, err = runCmd(t, cfg, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "not logged in")

	// account data survives logout
	out, err = runCmd(t, cfg, "get", "cached_diet_plan", "u123")
	require.NoError(t, err)
	assert.Contains(t, out, "2000")
}

func TestCLI_SnapshotDiffRestore(t *testing.T) {
	cfg, _ := writeConfig(t)
	file := filepath.Join(t.TempDir(), "u1.json")

	_, err := runCmd(t, cfg, "set", "completed_meals", `["m1"]`, "u1")
	require.NoError(t, err)
	_, err = runCmd(t, cfg, "set", "cached_user_profile", `{"name":"ana"}`, "u1")
	require.NoError(t, err)

	out, err := runCmd(t, cfg, "snapshot", file, "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "2 entries")

	out, err = runCmd(t, cfg, "diff", file, "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "No differences")

	_, err = runCmd(t, cfg, "rm", "completed_meals", "u1")
	require.NoError(t, err)
	out, err = runCmd(t, cfg, "diff", file, "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "-user_u1_completed_meals")

	out, err = runCmd(t, cfg, "restore", file, "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "2 of 2 entries restored")

	out, err = runCmd(t, cfg, "get", "completed_meals", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, `"m1"`)

	// a snapshot never restores into another account
	out, err = runCmd(t, cfg, "restore", file, "u2")
	require.NoError(t, err)
	assert.Contains(t, out, "0 of 2 entries restored")
}

func TestCLI_Migrate(t *testing.T) {
	cfg, storePath := writeConfig(t)

	s, err := store.OpenFile(storePath)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "authToken", token(`{"id":"u9"}`)))
	require.NoError(t, s.Set(ctx, "completed_meals", `["m1"]`))
	require.NoError(t, s.Close())

	out, err := runCmd(t, cfg, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "committed")
	assert.Contains(t, out, "completed_meals")

	out, err = runCmd(t, cfg, "get", "completed_meals", "u9")
	require.NoError(t, err)
	assert.Contains(t, out, `"m1"`)

	out, err = runCmd(t, cfg, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "noop")
}

func TestCLI_Misc(t *testing.T) {
	cfg, _ := writeConfig(t)

	out, err := runCmd(t, cfg, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "2.0.0")

	out, err = runCmd(t, cfg, "doctor")
	require.NoError(t, err)
	assert.Contains(t, out, "Store Health Check")

	_, err = runCmd(t, cfg, "frobnicate")
	assert.ErrorContains(t, err, "unknown command")

	_, err = runCmd(t, cfg, "get")
	assert.ErrorContains(t, err, "usage: fitcache get")

	_, err = runCmd(t, cfg, "login", "garbage")
	assert.ErrorContains(t, err, "no account id")

	_, err = runCmd(t, filepath.Join(t.TempDir(), "missing.yaml"), "version")
	assert.NoError(t, err)
}

func TestSnapshotDiff(t *testing.T) {
	saved := &gateway.Snapshot{Entries: map[string]string{
		"user_u1_water_intake": `{"glasses":2,"userId":"u1"}`,
	}}
	live := &gateway.Snapshot{Entries: map[string]string{
		"user_u1_water_intake": `{"glasses":3,"userId":"u1"}`,
	}}

	d := snapshotDiff("saved.json", saved, live)
	assert.Contains(t, d, `-  "glasses": 2,`)
	assert.Contains(t, d, `+  "glasses": 3,`)
	assert.Empty(t, snapshotDiff("saved.json", saved, saved))
}
