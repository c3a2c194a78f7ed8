// Package dispatcher implements the Intent Dispatcher: it maps the three
// wire intents (explore, execute, schema) onto Registry/Engine operations
// and shapes the external response.
package dispatcher

import (
	"context"
	"fmt"

	"github.com/actionkit/actionkit/internal/engine/auth"
	"github.com/actionkit/actionkit/internal/engine/catalog"
	"github.com/actionkit/actionkit/internal/engine/exectx"
	"github.com/actionkit/actionkit/internal/engine/pipeline"
	"github.com/actionkit/actionkit/internal/result"
)

const wildcard = "*"

// ExternalRequest is the transport-neutral routing envelope.
type ExternalRequest struct {
	Intent  string
	Service string
	Action  string
	Payload map[string]any
}

// ExternalResponse is the transport-neutral response envelope. The HTTP
// status mapping (200/400) is applied by the transport adapter, not here.
type ExternalResponse struct {
	Status  bool
	Message string
	Data    map[string]any
}

// Dispatcher routes ExternalRequests to the Registry (explore, schema) or
// the Engine (execute).
type Dispatcher struct {
	registry *catalog.Registry
	engine   *pipeline.Engine
}

// New builds a Dispatcher over a Registry and the Engine that shares it.
func New(registry *catalog.Registry, engine *pipeline.Engine) *Dispatcher {
	return &Dispatcher{registry: registry, engine: engine}
}

// Handle implements the three-intent table.
func (d *Dispatcher) Handle(ctx context.Context, ectx *exectx.Context, authCtx *auth.AuthContext, req ExternalRequest) ExternalResponse {
	switch req.Intent {
	case "explore":
		return d.handleExplore(req)
	case "schema":
		return d.handleSchema(req)
	case "execute":
		return d.handleExecute(ctx, ectx, authCtx, req)
	default:
		return toExternalResponse(result.Err[any](fmt.Sprintf("Unknown intent '%s'", req.Intent)), "")
	}
}

func (d *Dispatcher) handleExplore(req ExternalRequest) ExternalResponse {
	switch {
	case req.Service == wildcard && req.Action == wildcard:
		services := d.registry.GetServices()
		if services.IsErr() {
			return toExternalResponse(result.Err[any](services.Error()), "")
		}
		return toExternalResponse(result.Ok[any](services.Value()), "Service catalog retrieved")

	case req.Service != wildcard && req.Action == wildcard:
		actions := d.registry.GetServiceActions(req.Service)
		if actions.IsErr() {
			return toExternalResponse(result.Err[any](actions.Error()), "")
		}
		return toExternalResponse(result.Ok[any](actions.Value()), fmt.Sprintf("Actions for service '%s' retrieved", req.Service))

	default:
		found := d.registry.GetAction(req.Service, req.Action)
		if found.IsErr() {
			return toExternalResponse(result.Err[any](found.Error()), "")
		}
		return toExternalResponse(result.Ok[any](actionMetadata(found.Value())), "Action metadata retrieved")
	}
}

func (d *Dispatcher) handleSchema(req ExternalRequest) ExternalResponse {
	switch {
	case req.Service == wildcard && req.Action == wildcard:
		services := d.registry.GetServices()
		if services.IsErr() {
			return toExternalResponse(result.Err[any](services.Error()), "")
		}
		out := make(map[string]any, len(services.Value()))
		for _, svc := range services.Value() {
			out[svc.Name] = d.schemasForService(svc.Name)
		}
		return toExternalResponse(result.Ok[any](out), "Schema catalog retrieved")

	case req.Service != wildcard && req.Action == wildcard:
		actions := d.registry.GetServiceActions(req.Service)
		if actions.IsErr() {
			return toExternalResponse(result.Err[any](actions.Error()), "")
		}
		return toExternalResponse(result.Ok[any](d.schemasForService(req.Service)), fmt.Sprintf("Schemas for service '%s' retrieved", req.Service))

	default:
		found := d.registry.GetAction(req.Service, req.Action)
		if found.IsErr() {
			return toExternalResponse(result.Err[any](found.Error()), "")
		}
		return toExternalResponse(result.Ok[any](map[string]any{req.Action: renderSchema(found.Value())}), "Schema retrieved")
	}
}

func (d *Dispatcher) schemasForService(service string) map[string]any {
	actions := d.registry.GetServiceActions(service)
	if actions.IsErr() {
		return map[string]any{}
	}
	out := make(map[string]any, len(actions.Value()))
	for _, summary := range actions.Value() {
		found := d.registry.GetAction(service, summary.Name)
		if found.IsErr() {
			out[summary.Name] = nil
			continue
		}
		out[summary.Name] = renderSchema(found.Value())
	}
	return out
}

func (d *Dispatcher) handleExecute(ctx context.Context, ectx *exectx.Context, authCtx *auth.AuthContext, req ExternalRequest) ExternalResponse {
	if req.Service == wildcard || req.Action == wildcard {
		return toExternalResponse(result.Err[any]("wildcards not allowed"), "")
	}
	var payload any = req.Payload
	res := d.engine.ExecuteAction(ctx, ectx, authCtx, req.Service, req.Action, payload)
	return toExternalResponse(res, fmt.Sprintf("Action '%s.%s' executed", req.Service, req.Action))
}

// renderSchema converts an action's validation schema to a JSON-Schema
// equivalent. Conversion failure, or no validation schema at all, yields
// nil — schemas are advisory.
func renderSchema(act *catalog.Action) any {
	if act.Validation == nil {
		return nil
	}
	schema, ok := act.Validation.ToJSONSchema()
	if !ok {
		return nil
	}
	return schema
}

func actionMetadata(act *catalog.Action) map[string]any {
	var hooks any
	if len(act.Hooks.Before) > 0 || len(act.Hooks.After) > 0 {
		hooks = map[string]any{
			"before": hookRefsToMaps(act.Hooks.Before),
			"after":  hookRefsToMaps(act.Hooks.After),
		}
	}
	return map[string]any{
		"name":          act.Name,
		"description":   act.Description,
		"isProtected":   act.IsProtected,
		"accessControl": act.AccessControl,
		"hooks":         hooks,
		"meta":          act.Meta,
	}
}

func hookRefsToMaps(refs []catalog.HookRef) []map[string]any {
	out := make([]map[string]any, 0, len(refs))
	for _, ref := range refs {
		out = append(out, map[string]any{
			"service":    ref.Service,
			"action":     ref.Action,
			"isCritical": ref.IsCritical,
		})
	}
	return out
}

// toExternalResponse implements the shaping rule verbatim: Ok(v) uses v as
// data when v is a non-nil, non-array map; otherwise it wraps v as
// {result: v}. Err(e) always yields status=false, message=e, data={}.
func toExternalResponse(res result.Result[any], successMessage string) ExternalResponse {
	if res.IsErr() {
		return ExternalResponse{Status: false, Message: res.Error(), Data: map[string]any{}}
	}

	v := res.Value()
	if m, ok := asDataMap(v); ok {
		return ExternalResponse{Status: true, Message: successMessage, Data: m}
	}
	return ExternalResponse{Status: true, Message: successMessage, Data: map[string]any{"result": v}}
}

func asDataMap(v any) (map[string]any, bool) {
	if v == nil {
		return nil, false
	}
	switch m := v.(type) {
	case map[string]any:
		return m, true
	default:
		return nil, false
	}
}
