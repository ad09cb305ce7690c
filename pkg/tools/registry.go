// Package tools implements the tool registry: registration-time schema
// validation, stable schema listing for the platform, and dispatch of
// model-requested tool calls to local handlers.
package tools

import (
	"context"
	"fmt"
	"sync"

	"foundry/pkg/logx"
	"foundry/pkg/metrics"
)

// DuplicateToolError reports an attempt to register a tool name twice.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q is already registered", e.Name)
}

// Tool is the interface implemented by self-describing tools. Anything
// satisfying it can be registered without spelling out the definition and
// handler separately.
type Tool interface {
	Definition() Definition
	Exec(ctx context.Context, args map[string]any) (any, error)
}

type registration struct {
	def     Definition
	handler Handler
}

// Registry holds the set of registered tools. Registration order is
// preserved so that schema listings are stable across calls. All methods
// are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]registration
	order    []string
	metrics  *metrics.Metrics
	recorder metrics.Recorder
	logger   *logx.Logger

	// allowExtraArgs lets dispatch pass through argument keys that are
	// not declared in the schema instead of rejecting the call.
	allowExtraArgs bool
}

// RegistryOption customizes a Registry at construction time.
type RegistryOption func(*Registry)

// WithMetrics attaches a shared in-process metrics collector.
func WithMetrics(m *metrics.Metrics) RegistryOption {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithRecorder attaches an external metrics recorder (e.g. Prometheus).
func WithRecorder(rec metrics.Recorder) RegistryOption {
	return func(r *Registry) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// WithAllowExtraArgs makes dispatch tolerate undeclared argument keys,
// forwarding them to the handler unvalidated.
func WithAllowExtraArgs() RegistryOption {
	return func(r *Registry) {
		r.allowExtraArgs = true
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tools:    make(map[string]registration),
		metrics:  metrics.NewMetrics(),
		recorder: metrics.Nop(),
		logger:   logx.NewLogger("tools"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool under def.Name. The definition is validated up
// front; a second registration of the same name fails with
// *DuplicateToolError and leaves the original untouched.
func (r *Registry) Register(def Definition, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("tool %q: handler must not be nil", def.Name)
	}
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return &DuplicateToolError{Name: def.Name}
	}
	r.tools[def.Name] = registration{def: def, handler: handler}
	r.order = append(r.order, def.Name)
	r.logger.Debug("registered tool %s (%d parameters)", def.Name, len(def.InputSchema.Properties))
	return nil
}

// RegisterTool registers a self-describing Tool.
func (r *Registry) RegisterTool(t Tool) error {
	return r.Register(t.Definition(), t.Exec)
}

// Schemas returns the function-tool schemas for every registered tool,
// in registration order.
func (r *Registry) Schemas() []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]map[string]any, 0, len(r.order))
	for _, name := range r.order {
		schemas = append(schemas, r.tools[name].def.FunctionSchema())
	}
	return schemas
}

// Definitions returns the registered definitions in registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].def)
	}
	return defs
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	return reg.def, ok
}

// Metrics exposes the registry's collector so callers can snapshot
// dispatch counters alongside run counters.
func (r *Registry) Metrics() *metrics.Metrics {
	return r.metrics
}

func (r *Registry) lookupHandler(name string) (registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	return reg, ok
}
