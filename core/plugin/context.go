package plugin

import "maps"

// Principal is the authenticated caller.
type Principal struct {
	Subject string
	Role    string
	Claims  map[string]any
}

// ExecutionContext carries request-scoped state through the pipeline.
// It belongs to a single request and is not safe for concurrent use.
type ExecutionContext struct {
	principal *Principal
	values    map[string]any
}

// NewExecutionContext creates an empty context.
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{values: make(map[string]any)}
}

// SetPrincipal records the authenticated caller.
func (ec *ExecutionContext) SetPrincipal(p Principal) {
	p.Claims = maps.Clone(p.Claims)
	ec.principal = &p
}

// Principal returns the authenticated caller, if any.
func (ec *ExecutionContext) Principal() (Principal, bool) {
	if ec.principal == nil {
		return Principal{}, false
	}
	return *ec.principal, true
}

// Set stores a value for later stages.
func (ec *ExecutionContext) Set(key string, value any) {
	if ec.values == nil {
		ec.values = make(map[string]any)
	}
	ec.values[key] = value
}

// Get returns a stored value.
func (ec *ExecutionContext) Get(key string) (any, bool) {
	v, ok := ec.values[key]
	return v, ok
}

// Env returns the context as expression variables: principal and values.
func (ec *ExecutionContext) Env() map[string]any {
	env := map[string]any{"values": maps.Clone(ec.values)}
	if ec.principal != nil {
		env["principal"] = map[string]any{
			"subject": ec.principal.Subject,
			"role":    ec.principal.Role,
			"claims":  maps.Clone(ec.principal.Claims),
		}
	} else {
		env["principal"] = map[string]any{"subject": "", "role": "", "claims": map[string]any{}}
	}
	return env
}
