// Package pipeline implements the Action Pipeline: the sequential stages
// (auth, access control, global before-hook, per-action before-hooks,
// validation, handler, per-action after-hooks, global after-hook) that turn
// a (service, action, payload) triple into a Result, and the Engine that
// orchestrates them for a single request.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/actionkit/actionkit/internal/engine/accesscontrol"
	"github.com/actionkit/actionkit/internal/engine/auth"
	"github.com/actionkit/actionkit/internal/engine/cache"
	"github.com/actionkit/actionkit/internal/engine/catalog"
	"github.com/actionkit/actionkit/internal/engine/exectx"
	"github.com/actionkit/actionkit/internal/metrics"
	"github.com/actionkit/actionkit/internal/result"
)

// GlobalBeforeHook is invoked as Step 1, before any per-action hook. Unlike
// the after-hook, its return value is not threaded into later stages — it
// only gates the request, matching the source contract's "any Err
// short-circuits" wording.
type GlobalBeforeHook func(ctx context.Context, ectx *exectx.Context, action *catalog.Action, payload any) error

// GlobalAfterHook is invoked as Step 6. payload is validatedPayload: the
// in-flight value as it stood after validation (Step 3) and any before-hook
// mutation (Step 2), not the original request payload. Its Ok return
// replaces the in-flight value before response shaping; its Err
// short-circuits.
type GlobalAfterHook func(ctx context.Context, ectx *exectx.Context, action *catalog.Action, payload any, handlerResult any) (any, error)

// Options configures an Engine. All fields are optional; a zero Options
// disables auth, access control, global hooks, and result caching.
type Options struct {
	Auth           *auth.Config
	Verifier       auth.Verifier
	AccessControl  *accesscontrol.Environment
	OnBeforeAction GlobalBeforeHook
	OnAfterAction  GlobalAfterHook
	ResultCache    cache.ResultCache
	HashPayload    func(payload any) string
	Metrics        *metrics.Recorder
}

// Engine orchestrates the pipeline for a single (service, action, payload)
// over a shared Registry. One Engine serves every request; it holds no
// per-request state itself.
type Engine struct {
	registry *catalog.Registry
	opts     Options

	policyMu sync.Mutex
	policies map[string]accesscontrol.Policy
}

// New builds an Engine over a Registry with the given Options.
func New(registry *catalog.Registry, opts Options) *Engine {
	return &Engine{registry: registry, opts: opts, policies: make(map[string]accesscontrol.Policy)}
}

// ExecuteAction runs the full pipeline for one (service, action, payload)
// against the given request-scoped Context and optional auth context.
// authCtx is nil when the transport supplied none at all, distinct from an
// AuthContext with no recoverable token.
func (e *Engine) ExecuteAction(ctx context.Context, ectx *exectx.Context, authCtx *auth.AuthContext, service, action string, payload any) result.Result[any] {
	actionRes := e.registry.GetAction(service, action)
	if actionRes.IsErr() {
		return result.Err[any](actionRes.Error())
	}
	act := actionRes.Value()

	ectx.ResetHookContext(service+"."+action, payload)

	if res := e.runAuth(ctx, ectx, authCtx, act); res.IsErr() {
		ectx.SetHookError(res.Error())
		return result.Err[any](res.Error())
	}

	if res := e.runAccessControl(ectx, act, service+"."+action); res.IsErr() {
		ectx.SetHookError(res.Error())
		return result.Err[any](res.Error())
	}

	// The cache is consulted only after auth and access control have
	// passed, and never for pipeline-wrapped responses (their hook log is
	// per-request). An empty cacheKey disables the store at the end.
	cacheKey := ""
	if act.Result.CacheTTL > 0 && !act.Result.Pipeline && e.opts.ResultCache != nil && e.opts.HashPayload != nil {
		cacheKey = e.cacheKeyFor(ectx, service, action, payload)
		started := time.Now()
		entry, ok, err := e.opts.ResultCache.Lookup(ctx, cacheKey)
		outcome := metrics.CacheLookupMiss
		switch {
		case err != nil:
			outcome = metrics.CacheLookupError
		case ok:
			outcome = metrics.CacheLookupHit
		}
		e.opts.Metrics.ObserveCacheLookup(service, action, outcome, time.Since(started))
		if err == nil && ok {
			return result.Ok(entry.Data)
		}
	}

	current := payload

	if e.opts.OnBeforeAction != nil {
		invoked := result.Invoke(ctx, func() (struct{}, error) {
			return struct{}{}, e.opts.OnBeforeAction(ctx, ectx, act, current)
		})
		if invoked.IsErr() {
			ectx.SetHookError(invoked.Error())
			return result.Err[any](invoked.Error())
		}
	}

	if v, errMsg, ok := e.runHookChain(ctx, ectx, act.Hooks.Before, "before", current); !ok {
		ectx.SetHookError(errMsg)
		return result.Err[any](errMsg)
	} else {
		current = v
	}

	if act.Validation != nil {
		data, prettyErr, ok := act.Validation.SafeParse(current)
		if !ok {
			msg := "Validation failed: " + prettyErr
			ectx.SetHookError(msg)
			return result.Err[any](msg)
		}
		current = data
	}
	validatedPayload := current

	handlerRes := result.Invoke(ctx, func() (any, error) {
		return act.Handler(ectx, current)
	})
	if handlerRes.IsErr() {
		ectx.SetHookError(handlerRes.Error())
		return result.Err[any](handlerRes.Error())
	}
	current = handlerRes.Value()
	ectx.SetHookOutput(current)

	if v, errMsg, ok := e.runHookChain(ctx, ectx, act.Hooks.After, "after", current); !ok {
		ectx.SetHookError(errMsg)
		return result.Err[any](errMsg)
	} else {
		current = v
	}

	if e.opts.OnAfterAction != nil {
		invoked := result.Invoke(ctx, func() (any, error) {
			return e.opts.OnAfterAction(ctx, ectx, act, validatedPayload, current)
		})
		if invoked.IsErr() {
			ectx.SetHookError(invoked.Error())
			return result.Err[any](invoked.Error())
		}
		current = invoked.Value()
	}

	if cacheKey != "" {
		now := time.Now().UTC()
		started := time.Now()
		err := e.opts.ResultCache.Store(ctx, cacheKey, cache.Entry{
			Data:      current,
			StoredAt:  now,
			ExpiresAt: now.Add(time.Duration(act.Result.CacheTTL) * time.Second),
		})
		outcome := metrics.CacheStoreStored
		if err != nil {
			outcome = metrics.CacheStoreError
		}
		e.opts.Metrics.ObserveCacheStore(service, action, outcome, time.Since(started))
	}

	if act.Result.Pipeline {
		snapshot := ectx.HookSnapshot()
		return result.Ok[any](map[string]any{"data": current, "pipeline": snapshot.Log})
	}
	return result.Ok(current)
}

// cacheKeyFor builds the result-cache key for one request. When the request
// carries a verified auth result the key is scoped to that principal, so
// one caller's cached data is never served to another.
func (e *Engine) cacheKeyFor(ectx *exectx.Context, service, action string, payload any) string {
	hash := e.opts.HashPayload(payload)
	if authResult, ok := ectx.GetAuth(); ok {
		hash = authResult.UserID + "@" + authResult.OrganizationID + ":" + hash
	}
	return cache.Key(service, action, hash)
}

// runAuth implements Step 0.
func (e *Engine) runAuth(ctx context.Context, ectx *exectx.Context, authCtx *auth.AuthContext, act *catalog.Action) result.Result[struct{}] {
	if !act.IsProtected || e.opts.Auth == nil {
		return result.Ok(struct{}{})
	}
	if authCtx == nil {
		return result.Err[struct{}]("Authentication required: no auth context provided")
	}
	verifier := e.opts.Verifier
	if verifier == nil {
		verifier = auth.NewJWTVerifier()
	}
	verified := verifier.Verify(ctx, *authCtx, *e.opts.Auth)
	if verified.IsErr() {
		return result.Err[struct{}](verified.Error())
	}
	ectx.SetAuth(exectx.AuthResult{
		UserID:         verified.Value().UserID,
		OrganizationID: verified.Value().OrganizationID,
		Claims:         verified.Value().Claims,
	})
	return result.Ok(struct{}{})
}

// runAccessControl implements Step 0.5: CEL predicates evaluated against
// the auth claims and the context store, immediately after authentication
// and before the global before-hook.
func (e *Engine) runAccessControl(ectx *exectx.Context, act *catalog.Action, qualifiedName string) result.Result[struct{}] {
	if len(act.AccessControl) == 0 || e.opts.AccessControl == nil {
		return result.Ok(struct{}{})
	}

	policy, err := e.compiledPolicy(act, qualifiedName)
	if err != nil {
		return result.Err[struct{}](fmt.Sprintf("Access denied: %v", err))
	}

	claims := map[string]any{}
	if authResult, ok := ectx.GetAuth(); ok {
		claims = map[string]any{
			"userId":         authResult.UserID,
			"organizationId": authResult.OrganizationID,
		}
		for k, v := range authResult.Claims {
			claims[k] = v
		}
	}

	allowed, err := policy.Allows(map[string]any{"auth": claims, "store": ectx.StoreSnapshot()})
	if err != nil {
		return result.Err[struct{}](fmt.Sprintf("Access denied: %v", err))
	}
	if !allowed {
		return result.Err[struct{}]("Access denied")
	}
	return result.Ok(struct{}{})
}

func (e *Engine) compiledPolicy(act *catalog.Action, qualifiedName string) (accesscontrol.Policy, error) {
	e.policyMu.Lock()
	defer e.policyMu.Unlock()
	key := qualifiedName
	if p, ok := e.policies[key]; ok {
		return p, nil
	}
	p, err := e.opts.AccessControl.Compile(act.AccessControl)
	if err != nil {
		return accesscontrol.Policy{}, err
	}
	e.policies[key] = p
	return p, nil
}

// runHookChain implements Steps 2 and 5: iterate a HookRef chain in order,
// threading the in-flight value and appending a HookLogEntry per hook.
func (e *Engine) runHookChain(ctx context.Context, ectx *exectx.Context, refs []catalog.HookRef, phase string, current any) (any, string, bool) {
	for _, ref := range refs {
		target := e.registry.GetAction(ref.Service, ref.Action)
		name := ref.Service + "." + ref.Action
		if target.IsErr() {
			if ref.IsCritical {
				return current, fmt.Sprintf("Hook '%s' not found", name), false
			}
			ectx.AddHookLog(phase, exectx.HookLogEntry{Name: name, Input: current, Passed: false})
			continue
		}

		invoked := result.Invoke(ctx, func() (any, error) {
			return target.Value().Handler(ectx, current)
		})
		if invoked.IsErr() {
			ectx.AddHookLog(phase, exectx.HookLogEntry{Name: name, Input: current, Passed: false})
			if ref.IsCritical {
				// The hook handler's own error, verbatim; the qualified
				// hook name is already recorded in the hook log.
				return current, invoked.Error(), false
			}
			continue
		}

		ectx.AddHookLog(phase, exectx.HookLogEntry{Name: name, Input: current, Output: invoked.Value(), Passed: true})
		current = invoked.Value()
	}
	return current, "", true
}
