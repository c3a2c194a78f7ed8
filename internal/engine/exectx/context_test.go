package exectx

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreGetSet(t *testing.T) {
	ctx := New(Resources{})
	_, ok := ctx.Get("missing")
	assert.False(t, ok)

	ctx.Set("k", "v")
	v, ok := ctx.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestSessionsAreInstanceScoped(t *testing.T) {
	first := New(Resources{})
	second := New(Resources{})

	first.SetSession("rest", map[string]any{"id": "a"})
	_, ok := second.GetSession("rest")
	assert.False(t, ok, "a session set on one context must not leak into another")

	session, ok := first.GetSession("rest")
	require.True(t, ok)
	assert.Equal(t, "a", session["id"])
}

func TestAuthPopulatedOnlyAfterSetAuth(t *testing.T) {
	ctx := New(Resources{})
	_, ok := ctx.GetAuth()
	assert.False(t, ok)

	ctx.SetAuth(AuthResult{UserID: "u1", OrganizationID: "org1"})
	auth, ok := ctx.GetAuth()
	require.True(t, ok)
	assert.Equal(t, "u1", auth.UserID)

	user, ok := ctx.GetUser()
	require.True(t, ok)
	assert.Equal(t, "u1", user)
}

func TestResetHookContextIsPrivatePerCall(t *testing.T) {
	ctx := New(Resources{})
	ctx.ResetHookContext("users.createUser", map[string]any{"name": "Alice"})
	ctx.AddHookLog("before", HookLogEntry{Name: "hooks.before", Passed: true})
	ctx.UpdateHookState("seen", true)
	ctx.SetHookOutput("output")

	snapshot := ctx.HookSnapshot()
	assert.Equal(t, "users.createUser", snapshot.ActionName)
	assert.Len(t, snapshot.Log.Before, 1)
	assert.Equal(t, "output", snapshot.Output)
	assert.Equal(t, true, snapshot.State["seen"])

	ctx.ResetHookContext("users.otherAction", nil)
	reset := ctx.HookSnapshot()
	assert.Empty(t, reset.Log.Before)
	assert.Empty(t, reset.State)
	assert.Nil(t, reset.Output)
}

func TestContextIsSafeForConcurrentUse(t *testing.T) {
	ctx := New(Resources{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ctx.Set("k", n)
			ctx.UpdateHookState("k", n)
			ctx.AddHookLog("before", HookLogEntry{Name: "x"})
		}(i)
	}
	wg.Wait()
}

func TestStoreSnapshotIsACopy(t *testing.T) {
	ctx := New(Resources{})
	ctx.Set("a", 1)
	snap := ctx.StoreSnapshot()
	snap["a"] = 2
	v, _ := ctx.Get("a")
	assert.Equal(t, 1, v, "mutating a snapshot must not affect the live store")
}

func TestWithContextFromContext(t *testing.T) {
	ectx := New(Resources{})
	ctx := WithContext(context.Background(), ectx)

	recovered, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, ectx, recovered)

	_, ok = FromContext(context.Background())
	assert.False(t, ok)
}
