// Package catalog implements the Action Registry: the precomputed,
// construction-time lookup tables that give every (service, action) pair an
// O(1) path to its handler, hooks, validation schema, and access control
// predicates.
package catalog

import (
	"fmt"

	"github.com/actionkit/actionkit/internal/result"
)

// HookRef is a reference to another registered action used as a before/after
// hook. isCritical determines whether a failing hook aborts the pipeline.
type HookRef struct {
	Service    string
	Action     string
	IsCritical bool
}

// Hooks groups the before/after hook chains declared on an action.
type Hooks struct {
	Before []HookRef
	After  []HookRef
}

// Handler is the function signature every action's business logic
// implements. It is invoked through the crash-safe invoker at every call
// site, never called directly by the registry.
type Handler func(ctx Context, payload any) (any, error)

// Context is the minimal view of the execution context a handler needs,
// kept as an interface here so the catalog package does not import exectx
// and create a dependency cycle with the pipeline package that wires both
// together.
type Context interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// Schema is the validation plug-in contract an action's payload is checked
// against. The concrete implementation lives in internal/engine/validation;
// the registry only needs the interface to store it alongside an action.
type Schema interface {
	SafeParse(value any) (data any, prettyErr string, ok bool)
	ToJSONSchema() (map[string]any, bool)
}

// IsSpecial declares a non-default wire content-type an action requires,
// e.g. multipart/form-data for file uploads.
type IsSpecial struct {
	ContentType string
	UploadMode  string
}

// ResultOptions controls response shaping for a single action.
type ResultOptions struct {
	Pipeline bool
	CacheTTL int64 // seconds; 0 disables the decision/result cache for this action
}

// Action is a named, validated unit of work belonging to a Service.
type Action struct {
	Name          string
	Description   string
	Handler       Handler
	Validation    Schema
	IsProtected   bool
	Hooks         Hooks
	AccessControl []string
	IsSpecial     *IsSpecial
	Result        ResultOptions
	Meta          map[string]any
}

// Service is a named group of actions, immutable after registration.
type Service struct {
	Name        string
	Description string
	Actions     []Action
	Meta        map[string]any
}

// ServiceSummary is the explore-intent projection of a Service.
type ServiceSummary struct {
	Name        string
	Description string
	ActionNames []string
}

// ActionSummary is the explore-intent projection of an Action.
type ActionSummary struct {
	Name          string
	Description   string
	IsProtected   bool
	Validation    bool
	AccessControl []string
}

// Registry holds the precomputed O(1) lookup tables built from a static
// list of services. It is immutable once NewRegistry returns successfully.
type Registry struct {
	serviceSummaries []ServiceSummary
	serviceActions   map[string][]ActionSummary
	actions          map[string]map[string]*Action
	serviceOrder     []string
}

// NewRegistry builds a Registry from a static service list. Duplicate
// service names, duplicate action names within a service, and hook
// reference cycles are all fail-fast construction errors.
func NewRegistry(services []Service) (*Registry, error) {
	reg := &Registry{
		serviceActions: make(map[string][]ActionSummary),
		actions:        make(map[string]map[string]*Action),
	}

	for _, svc := range services {
		if _, exists := reg.actions[svc.Name]; exists {
			return nil, fmt.Errorf("registry: duplicate service %q", svc.Name)
		}

		actionMap := make(map[string]*Action, len(svc.Actions))
		summaries := make([]ActionSummary, 0, len(svc.Actions))
		actionNames := make([]string, 0, len(svc.Actions))

		for i := range svc.Actions {
			act := svc.Actions[i]
			if _, exists := actionMap[act.Name]; exists {
				return nil, fmt.Errorf("registry: duplicate action %q in service %q", act.Name, svc.Name)
			}
			stored := act
			actionMap[act.Name] = &stored
			summaries = append(summaries, ActionSummary{
				Name:          act.Name,
				Description:   act.Description,
				IsProtected:   act.IsProtected,
				Validation:    act.Validation != nil,
				AccessControl: act.AccessControl,
			})
			actionNames = append(actionNames, act.Name)
		}

		reg.actions[svc.Name] = actionMap
		reg.serviceActions[svc.Name] = summaries
		reg.serviceOrder = append(reg.serviceOrder, svc.Name)
		reg.serviceSummaries = append(reg.serviceSummaries, ServiceSummary{
			Name:        svc.Name,
			Description: svc.Description,
			ActionNames: actionNames,
		})
	}

	if cyclePath, found := reg.findHookCycle(); found {
		return nil, fmt.Errorf("registry: hook cycle detected: %s", cyclePath)
	}

	return reg, nil
}

// GetServices returns the service summaries in registration order.
func (r *Registry) GetServices() result.Result[[]ServiceSummary] {
	return result.Ok(r.serviceSummaries)
}

// GetServiceActions returns the action summaries for a single service.
func (r *Registry) GetServiceActions(service string) result.Result[[]ActionSummary] {
	summaries, ok := r.serviceActions[service]
	if !ok {
		return result.Err[[]ActionSummary](fmt.Sprintf("Service '%s' not found", service))
	}
	return result.Ok(summaries)
}

// GetAction resolves a (service, action) pair to its registered Action.
func (r *Registry) GetAction(service, action string) result.Result[*Action] {
	actionsByName, ok := r.actions[service]
	if !ok {
		return result.Err[*Action](fmt.Sprintf("Service '%s' not found", service))
	}
	act, ok := actionsByName[action]
	if !ok {
		return result.Err[*Action](fmt.Sprintf("Action '%s' not found in service '%s'", action, service))
	}
	return result.Ok(act)
}

// node identifies one action in the hook graph for cycle detection.
type node struct {
	service string
	action  string
}

func (n node) String() string { return n.service + "." + n.action }

// findHookCycle walks every action's before/after hook references with a
// DFS over the declared hook graph. It only covers hooks that are
// themselves registered actions; a handler recursively invoking the engine
// at runtime is outside what static construction-time analysis can see.
func (r *Registry) findHookCycle() (string, bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[node]int)
	var path []node

	var visit func(n node) (string, bool)
	visit = func(n node) (string, bool) {
		color[n] = gray
		path = append(path, n)

		actionsByName, ok := r.actions[n.service]
		if ok {
			if act, ok := actionsByName[n.action]; ok {
				refs := make([]HookRef, 0, len(act.Hooks.Before)+len(act.Hooks.After))
				refs = append(refs, act.Hooks.Before...)
				refs = append(refs, act.Hooks.After...)
				for _, ref := range refs {
					next := node{service: ref.Service, action: ref.Action}
					switch color[next] {
					case white:
						if cycle, found := visit(next); found {
							return cycle, true
						}
					case gray:
						return cyclePathString(path, next), true
					}
				}
			}
		}

		path = path[:len(path)-1]
		color[n] = black
		return "", false
	}

	for _, svcName := range r.serviceOrder {
		for _, summary := range r.serviceActions[svcName] {
			n := node{service: svcName, action: summary.Name}
			if color[n] == white {
				if cycle, found := visit(n); found {
					return cycle, true
				}
			}
		}
	}
	return "", false
}

func cyclePathString(path []node, back node) string {
	start := 0
	for i, n := range path {
		if n == back {
			start = i
			break
		}
	}
	out := ""
	for _, n := range path[start:] {
		out += n.String() + " -> "
	}
	out += back.String()
	return out
}
