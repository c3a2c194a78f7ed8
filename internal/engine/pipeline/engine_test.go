package pipeline

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actionkit/actionkit/internal/engine/accesscontrol"
	"github.com/actionkit/actionkit/internal/engine/auth"
	"github.com/actionkit/actionkit/internal/engine/cache"
	"github.com/actionkit/actionkit/internal/engine/catalog"
	"github.com/actionkit/actionkit/internal/engine/exectx"
	"github.com/actionkit/actionkit/internal/engine/validation"
)

type createUserPayload struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
}

func newContext() *exectx.Context {
	return exectx.New(exectx.Resources{})
}

func TestExecuteActionHappyPath(t *testing.T) {
	reg, err := catalog.NewRegistry([]catalog.Service{
		{Name: "users", Actions: []catalog.Action{
			{
				Name:       "createUser",
				Validation: validation.NewStructSchema[createUserPayload](),
				Handler: func(_ catalog.Context, payload any) (any, error) {
					p := payload.(createUserPayload)
					return map[string]any{"id": "u1", "name": p.Name}, nil
				},
			},
		}},
	})
	require.NoError(t, err)

	engine := New(reg, Options{})
	res := engine.ExecuteAction(context.Background(), newContext(), nil, "users", "createUser", map[string]any{
		"name": "Alice", "email": "alice@test.com",
	})
	require.True(t, res.IsOk())
	assert.Equal(t, "u1", res.Value().(map[string]any)["id"])
}

func TestExecuteActionValidationFailure(t *testing.T) {
	reg, err := catalog.NewRegistry([]catalog.Service{
		{Name: "users", Actions: []catalog.Action{
			{
				Name:       "createUser",
				Validation: validation.NewStructSchema[createUserPayload](),
				Handler:    func(_ catalog.Context, payload any) (any, error) { return payload, nil },
			},
		}},
	})
	require.NoError(t, err)

	engine := New(reg, Options{})
	res := engine.ExecuteAction(context.Background(), newContext(), nil, "users", "createUser", map[string]any{"name": "Alice"})
	require.True(t, res.IsErr())
	assert.Contains(t, res.Error(), "Validation failed: ")
}

func TestExecuteActionUnknownAction(t *testing.T) {
	reg, err := catalog.NewRegistry([]catalog.Service{{Name: "users", Actions: []catalog.Action{{Name: "a", Handler: noop}}}})
	require.NoError(t, err)

	engine := New(reg, Options{})
	res := engine.ExecuteAction(context.Background(), newContext(), nil, "users", "missing", nil)
	require.True(t, res.IsErr())
	assert.Equal(t, "Action 'missing' not found in service 'users'", res.Error())
}

func noop(_ catalog.Context, payload any) (any, error) { return payload, nil }

func TestExecuteActionRequiresAuthContextWhenProtected(t *testing.T) {
	reg, err := catalog.NewRegistry([]catalog.Service{
		{Name: "users", Actions: []catalog.Action{{Name: "deleteUser", IsProtected: true, Handler: noop}}},
	})
	require.NoError(t, err)

	engine := New(reg, Options{Auth: &auth.Config{Secret: "s"}})
	res := engine.ExecuteAction(context.Background(), newContext(), nil, "users", "deleteUser", nil)
	require.True(t, res.IsErr())
	assert.Equal(t, "Authentication required: no auth context provided", res.Error())
}

func TestExecuteActionPopulatesAuthResultOnSuccess(t *testing.T) {
	reg, err := catalog.NewRegistry([]catalog.Service{
		{Name: "users", Actions: []catalog.Action{{
			Name:        "deleteUser",
			IsProtected: true,
			Handler: func(ctx catalog.Context, payload any) (any, error) {
				ectx := ctx.(*exectx.Context)
				user, ok := ectx.GetUser()
				if !ok {
					return nil, errors.New("expected auth result to be populated before handler runs")
				}
				return map[string]any{"deletedBy": user}, nil
			},
		}}},
	})
	require.NoError(t, err)

	secret := "top-secret"
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"userId": "u9", "organizationId": "org9"})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+signed)

	engine := New(reg, Options{Auth: &auth.Config{Secret: secret}})
	authCtx := &auth.AuthContext{Headers: headers}
	res := engine.ExecuteAction(context.Background(), newContext(), authCtx, "users", "deleteUser", nil)
	require.True(t, res.IsOk())
	assert.Equal(t, "u9", res.Value().(map[string]any)["deletedBy"])
}

func TestExecuteActionCriticalHookAbortsOnFailure(t *testing.T) {
	reg, err := catalog.NewRegistry([]catalog.Service{
		{Name: "users", Actions: []catalog.Action{
			{
				Name:    "createUser",
				Handler: noop,
				Hooks: catalog.Hooks{Before: []catalog.HookRef{
					{Service: "users", Action: "guard", IsCritical: true},
				}},
			},
			{Name: "guard", Handler: func(_ catalog.Context, _ any) (any, error) {
				return nil, errors.New("blocked")
			}},
		}},
	})
	require.NoError(t, err)

	engine := New(reg, Options{})
	res := engine.ExecuteAction(context.Background(), newContext(), nil, "users", "createUser", map[string]any{})
	require.True(t, res.IsErr())
	assert.Equal(t, "blocked", res.Error(), "a critical hook's error must reach the client verbatim, unwrapped")
}

func TestExecuteActionNonCriticalHookFailureContinues(t *testing.T) {
	reg, err := catalog.NewRegistry([]catalog.Service{
		{Name: "users", Actions: []catalog.Action{
			{
				Name: "createUser",
				Handler: func(_ catalog.Context, payload any) (any, error) {
					return payload, nil
				},
				Hooks: catalog.Hooks{Before: []catalog.HookRef{
					{Service: "users", Action: "audit", IsCritical: false},
				}},
			},
			{Name: "audit", Handler: func(_ catalog.Context, _ any) (any, error) {
				return nil, errors.New("logging backend unavailable")
			}},
		}},
	})
	require.NoError(t, err)

	engine := New(reg, Options{})
	res := engine.ExecuteAction(context.Background(), newContext(), nil, "users", "createUser", map[string]any{"ok": true})
	require.True(t, res.IsOk())
	assert.Equal(t, map[string]any{"ok": true}, res.Value())
}

func TestExecuteActionMissingNonCriticalHookContinuesUnchanged(t *testing.T) {
	reg, err := catalog.NewRegistry([]catalog.Service{
		{Name: "users", Actions: []catalog.Action{
			{
				Name:    "createUser",
				Handler: noop,
				Hooks: catalog.Hooks{Before: []catalog.HookRef{
					{Service: "users", Action: "ghost", IsCritical: false},
				}},
			},
		}},
	})
	require.NoError(t, err)

	engine := New(reg, Options{})
	res := engine.ExecuteAction(context.Background(), newContext(), nil, "users", "createUser", "unchanged")
	require.True(t, res.IsOk())
	assert.Equal(t, "unchanged", res.Value())
}

func TestExecuteActionHookContextNameMatchesServiceDotAction(t *testing.T) {
	var observedName string
	reg, err := catalog.NewRegistry([]catalog.Service{
		{Name: "users", Actions: []catalog.Action{{
			Name: "createUser",
			Handler: func(ctx catalog.Context, payload any) (any, error) {
				ectx := ctx.(*exectx.Context)
				observedName = ectx.HookSnapshot().ActionName
				return payload, nil
			},
		}}},
	})
	require.NoError(t, err)

	engine := New(reg, Options{})
	res := engine.ExecuteAction(context.Background(), newContext(), nil, "users", "createUser", nil)
	require.True(t, res.IsOk())
	assert.Equal(t, "users.createUser", observedName)
}

func TestExecuteActionResultPipelineWrapsHookLog(t *testing.T) {
	reg, err := catalog.NewRegistry([]catalog.Service{
		{Name: "users", Actions: []catalog.Action{{
			Name:    "createUser",
			Handler: noop,
			Hooks: catalog.Hooks{Before: []catalog.HookRef{
				{Service: "users", Action: "audit"},
			}},
			Result: catalog.ResultOptions{Pipeline: true},
		}, {
			Name:    "audit",
			Handler: noop,
		}}},
	})
	require.NoError(t, err)

	engine := New(reg, Options{})
	res := engine.ExecuteAction(context.Background(), newContext(), nil, "users", "createUser", "payload")
	require.True(t, res.IsOk())
	wrapped := res.Value().(map[string]any)
	assert.Equal(t, "payload", wrapped["data"])
	hookLog := wrapped["pipeline"].(exectx.HookLog)
	require.Len(t, hookLog.Before, 1)
	assert.True(t, hookLog.Before[0].Passed)
}

func TestExecuteActionGlobalBeforeHookAbortsOnError(t *testing.T) {
	reg, err := catalog.NewRegistry([]catalog.Service{
		{Name: "users", Actions: []catalog.Action{{Name: "createUser", Handler: noop}}},
	})
	require.NoError(t, err)

	engine := New(reg, Options{
		OnBeforeAction: func(_ context.Context, _ *exectx.Context, _ *catalog.Action, _ any) error {
			return errors.New("maintenance mode")
		},
	})
	res := engine.ExecuteAction(context.Background(), newContext(), nil, "users", "createUser", nil)
	require.True(t, res.IsErr())
	assert.Equal(t, "maintenance mode", res.Error())
}

func TestExecuteActionGlobalAfterHookReplacesValue(t *testing.T) {
	reg, err := catalog.NewRegistry([]catalog.Service{
		{Name: "users", Actions: []catalog.Action{{Name: "createUser", Handler: func(_ catalog.Context, _ any) (any, error) {
			return "original", nil
		}}}},
	})
	require.NoError(t, err)

	engine := New(reg, Options{
		OnAfterAction: func(_ context.Context, _ *exectx.Context, _ *catalog.Action, _ any, handlerResult any) (any, error) {
			return handlerResult.(string) + "-wrapped", nil
		},
	})
	res := engine.ExecuteAction(context.Background(), newContext(), nil, "users", "createUser", nil)
	require.True(t, res.IsOk())
	assert.Equal(t, "original-wrapped", res.Value())
}

func TestExecuteActionGlobalAfterHookSeesValidatedPayloadNotOriginal(t *testing.T) {
	reg, err := catalog.NewRegistry([]catalog.Service{
		{Name: "users", Actions: []catalog.Action{{
			Name: "createUser",
			Hooks: catalog.Hooks{
				Before: []catalog.HookRef{{Service: "mutators", Action: "rename", IsCritical: true}},
			},
			Validation: validation.NewStructSchema[createUserPayload](),
			Handler: func(_ catalog.Context, _ any) (any, error) {
				return "handled", nil
			},
		}}},
		{Name: "mutators", Actions: []catalog.Action{{
			Name: "rename",
			Handler: func(_ catalog.Context, payload any) (any, error) {
				p := payload.(map[string]any)
				return map[string]any{"name": "Mutated", "email": p["email"]}, nil
			},
		}}},
	})
	require.NoError(t, err)

	var seenPayload any
	engine := New(reg, Options{
		OnAfterAction: func(_ context.Context, _ *exectx.Context, _ *catalog.Action, payload any, handlerResult any) (any, error) {
			seenPayload = payload
			return handlerResult, nil
		},
	})

	original := map[string]any{"name": "Original", "email": "alice@test.com"}
	res := engine.ExecuteAction(context.Background(), newContext(), nil, "users", "createUser", original)
	require.True(t, res.IsOk())

	validated, ok := seenPayload.(createUserPayload)
	require.True(t, ok, "expected validatedPayload, got %T", seenPayload)
	assert.Equal(t, "Mutated", validated.Name, "global after-hook must see the before-hook-mutated, post-validation payload, not the original request payload")
	assert.Equal(t, "alice@test.com", validated.Email)
}

func TestExecuteActionAccessControlDeniesWhenPredicateFalse(t *testing.T) {
	reg, err := catalog.NewRegistry([]catalog.Service{
		{Name: "billing", Actions: []catalog.Action{{
			Name:          "charge",
			IsProtected:   true,
			AccessControl: []string{`auth["organizationId"] == "org1"`},
			Handler:       noop,
		}}},
	})
	require.NoError(t, err)

	secret := "s"
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"userId": "u1", "organizationId": "org2"})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+signed)

	accessEnv, err := accesscontrol.NewEnvironment()
	require.NoError(t, err)

	engine := New(reg, Options{Auth: &auth.Config{Secret: secret}, AccessControl: accessEnv})
	res := engine.ExecuteAction(context.Background(), newContext(), &auth.AuthContext{Headers: headers}, "billing", "charge", nil)
	require.True(t, res.IsErr())
	assert.Contains(t, res.Error(), "Access denied")
}

func TestExecuteActionResultCacheShortCircuitsOnHit(t *testing.T) {
	calls := 0
	reg, err := catalog.NewRegistry([]catalog.Service{
		{Name: "reports", Actions: []catalog.Action{{
			Name: "summary",
			Handler: func(_ catalog.Context, payload any) (any, error) {
				calls++
				return map[string]any{"calls": calls}, nil
			},
			Result: catalog.ResultOptions{CacheTTL: 60},
		}}},
	})
	require.NoError(t, err)

	memCache := cache.NewMemory(time.Minute)
	engine := New(reg, Options{
		ResultCache: memCache,
		HashPayload: func(payload any) string { return "fixed-key" },
	})

	first := engine.ExecuteAction(context.Background(), newContext(), nil, "reports", "summary", nil)
	require.True(t, first.IsOk())

	second := engine.ExecuteAction(context.Background(), newContext(), nil, "reports", "summary", nil)
	require.True(t, second.IsOk())
	assert.Equal(t, first.Value(), second.Value())
	assert.Equal(t, 1, calls, "a cache hit must not invoke the handler a second time")
}

func TestExecuteActionCacheHitStillRequiresAuth(t *testing.T) {
	reg, err := catalog.NewRegistry([]catalog.Service{
		{Name: "reports", Actions: []catalog.Action{{
			Name:        "summary",
			IsProtected: true,
			Handler: func(_ catalog.Context, _ any) (any, error) {
				return map[string]any{"total": 42}, nil
			},
			Result: catalog.ResultOptions{CacheTTL: 60},
		}}},
	})
	require.NoError(t, err)

	secret := "s"
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"userId": "u1", "organizationId": "org1"})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+signed)

	engine := New(reg, Options{
		Auth:        &auth.Config{Secret: secret},
		ResultCache: cache.NewMemory(time.Minute),
		HashPayload: func(any) string { return "fixed-key" },
	})

	first := engine.ExecuteAction(context.Background(), newContext(), &auth.AuthContext{Headers: headers}, "reports", "summary", nil)
	require.True(t, first.IsOk())

	second := engine.ExecuteAction(context.Background(), newContext(), nil, "reports", "summary", nil)
	require.True(t, second.IsErr(), "a warm cache must not bypass authentication")
	assert.Equal(t, "Authentication required: no auth context provided", second.Error())
}

func TestExecuteActionCacheIsScopedToPrincipal(t *testing.T) {
	calls := 0
	reg, err := catalog.NewRegistry([]catalog.Service{
		{Name: "reports", Actions: []catalog.Action{{
			Name:        "summary",
			IsProtected: true,
			Handler: func(ctx catalog.Context, _ any) (any, error) {
				calls++
				ectx := ctx.(*exectx.Context)
				user, _ := ectx.GetUser()
				return map[string]any{"for": user}, nil
			},
			Result: catalog.ResultOptions{CacheTTL: 60},
		}}},
	})
	require.NoError(t, err)

	secret := "s"
	authHeaders := func(userID string) http.Header {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"userId": userID, "organizationId": "org1"})
		signed, err := token.SignedString([]byte(secret))
		require.NoError(t, err)
		headers := http.Header{}
		headers.Set("Authorization", "Bearer "+signed)
		return headers
	}

	engine := New(reg, Options{
		Auth:        &auth.Config{Secret: secret},
		ResultCache: cache.NewMemory(time.Minute),
		HashPayload: func(any) string { return "fixed-key" },
	})

	alice := &auth.AuthContext{Headers: authHeaders("alice")}
	bob := &auth.AuthContext{Headers: authHeaders("bob")}

	first := engine.ExecuteAction(context.Background(), newContext(), alice, "reports", "summary", nil)
	require.True(t, first.IsOk())

	second := engine.ExecuteAction(context.Background(), newContext(), bob, "reports", "summary", nil)
	require.True(t, second.IsOk())
	assert.Equal(t, "bob", second.Value().(map[string]any)["for"], "one principal's cached result must not be served to another")
	assert.Equal(t, 2, calls)

	third := engine.ExecuteAction(context.Background(), newContext(), alice, "reports", "summary", nil)
	require.True(t, third.IsOk())
	assert.Equal(t, "alice", third.Value().(map[string]any)["for"])
	assert.Equal(t, 2, calls, "a repeat call by the same principal must hit its own cache entry")
}

func TestExecuteActionPipelineResultIsNeverCached(t *testing.T) {
	calls := 0
	reg, err := catalog.NewRegistry([]catalog.Service{
		{Name: "reports", Actions: []catalog.Action{{
			Name: "summary",
			Handler: func(_ catalog.Context, _ any) (any, error) {
				calls++
				return "fresh", nil
			},
			Result: catalog.ResultOptions{Pipeline: true, CacheTTL: 60},
		}}},
	})
	require.NoError(t, err)

	engine := New(reg, Options{
		ResultCache: cache.NewMemory(time.Minute),
		HashPayload: func(any) string { return "fixed-key" },
	})

	first := engine.ExecuteAction(context.Background(), newContext(), nil, "reports", "summary", nil)
	require.True(t, first.IsOk())
	second := engine.ExecuteAction(context.Background(), newContext(), nil, "reports", "summary", nil)
	require.True(t, second.IsOk())

	assert.Equal(t, 2, calls, "pipeline-wrapped responses carry a per-request hook log and must not be cached")
	wrapped := second.Value().(map[string]any)
	assert.Equal(t, "fresh", wrapped["data"])
}

func TestExecuteActionIdenticalInputsProduceIdenticalOutputs(t *testing.T) {
	reg, err := catalog.NewRegistry([]catalog.Service{
		{Name: "math", Actions: []catalog.Action{{
			Name: "square",
			Handler: func(_ catalog.Context, payload any) (any, error) {
				n := payload.(int)
				return n * n, nil
			},
		}}},
	})
	require.NoError(t, err)

	engine := New(reg, Options{})
	a := engine.ExecuteAction(context.Background(), newContext(), nil, "math", "square", 7)
	b := engine.ExecuteAction(context.Background(), newContext(), nil, "math", "square", 7)
	require.True(t, a.IsOk())
	require.True(t, b.IsOk())
	assert.Equal(t, a.Value(), b.Value())
}

