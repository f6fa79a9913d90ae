package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanpaul/fitcache/internal/identity"
	"github.com/jeanpaul/fitcache/internal/namespace"
)

func TestLogout(t *testing.T) {
	ctx := context.Background()
	g, mem, _ := newTestGateway(t)

	require.NoError(t, mem.Set(ctx, "completed_meals", `["m1"]`))
	require.NoError(t, mem.Set(ctx, "has_seen_onboarding", `true`))
	require.NoError(t, mem.Set(ctx, "user_u1_water_intake", `{"glasses":2,"userId":"u1"}`))
	require.NoError(t, mem.Set(ctx, "user_u1_cached_diet_plan", `{"userId":"u1"}`))
	require.NoError(t, mem.Set(ctx, "user_u2_water_intake", `{"userId":"u2"}`))

	res, err := g.Logout(ctx, "u1", []namespace.LogicalKey{namespace.WaterIntake})
	require.NoError(t, err)
	assert.Contains(t, res.Removed, "completed_meals")
	assert.Contains(t, res.Removed, "user_u1_water_intake")
	assert.NotContains(t, res.Removed, "has_seen_onboarding")

	for key, want := range map[string]bool{
		"completed_meals":          false,
		"has_seen_onboarding":      true,
		"user_u1_water_intake":     false,
		"user_u1_cached_diet_plan": true,
		"user_u2_water_intake":     true,
	} {
		_, ok := rawValue(t, mem, key)
		assert.Equal(t, want, ok, key)
	}
}

func TestSignOut_TrackedAccount(t *testing.T) {
	ctx := context.Background()
	g, mem, ids := newTestGateway(t)

	require.NoError(t, ids.SetCurrent(ctx, "u1"))
	require.NoError(t, mem.Set(ctx, identity.CredentialKey, "a.b.c"))
	require.NoError(t, mem.Set(ctx, "user_u1_water_intake", `{"userId":"u1"}`))

	_, err := SignOut(ctx, g, ids, []namespace.LogicalKey{namespace.WaterIntake})
	require.NoError(t, err)

	assert.Empty(t, ids.Current(ctx))
	_, ok := rawValue(t, mem, identity.CredentialKey)
	assert.False(t, ok)
	_, ok = rawValue(t, mem, "user_u1_water_intake")
	assert.False(t, ok)
}

func TestSignOut_OtherAccountKeepsSignIn(t *testing.T) {
	ctx := context.Background()
	g, mem, ids := newTestGateway(t)

	require.NoError(t, ids.SetCurrent(ctx, "u1"))
	require.NoError(t, mem.Set(ctx, identity.CredentialKey, "a.b.c"))
	require.NoError(t, mem.Set(ctx, "user_u1_water_intake", `{"userId":"u1"}`))
	require.NoError(t, mem.Set(ctx, "user_u2_water_intake", `{"userId":"u2"}`))

	_, err := SignOut(identity.WithAccount(ctx, "u2"), g, ids, []namespace.LogicalKey{namespace.WaterIntake})
	require.NoError(t, err)

	assert.Equal(t, "u1", ids.Current(ctx))
	token, ok := rawValue(t, mem, identity.CredentialKey)
	require.True(t, ok)
	assert.Equal(t, "a.b.c", token)
	_, ok = rawValue(t, mem, "user_u1_water_intake")
	assert.True(t, ok)
	_, ok = rawValue(t, mem, "user_u2_water_intake")
	assert.False(t, ok)
}

func TestSignOut_NoAccount(t *testing.T) {
	ctx := context.Background()
	g, mem, ids := newTestGateway(t)

	require.NoError(t, mem.Set(ctx, identity.CredentialKey, "a.b.c"))
	require.NoError(t, mem.Set(ctx, "completed_meals", `["m1"]`))

	_, err := SignOut(ctx, g, ids, nil)
	require.NoError(t, err)

	_, ok := rawValue(t, mem, identity.CredentialKey)
	assert.False(t, ok)
	_, ok = rawValue(t, mem, "completed_meals")
	assert.False(t, ok)
}
