package tools

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"
)

// State tracks a dispatch through its lifecycle. A result always carries
// the terminal state; intermediate transitions are logged at debug level.
type State string

const (
	StateReceived  State = "received"
	StateValidated State = "validated"
	StateExecuting State = "executing"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// FailureKind classifies why a dispatch failed.
type FailureKind string

const (
	// FailureNotFound means no tool is registered under the requested name.
	FailureNotFound FailureKind = "not_found"
	// FailureInvalidArguments means the arguments did not match the schema.
	FailureInvalidArguments FailureKind = "invalid_arguments"
	// FailureHandlerError means the handler returned an error, panicked,
	// or was abandoned because the context expired.
	FailureHandlerError FailureKind = "handler_error"
)

// Result is the structured outcome of a single dispatch. Dispatch never
// panics and never returns a Go error; every failure mode is encoded here
// so the caller can relay it to the platform.
type Result struct {
	Tool     string        `json:"tool"`
	OK       bool          `json:"ok"`
	Payload  any           `json:"payload,omitempty"`
	Kind     FailureKind   `json:"kind,omitempty"`
	Message  string        `json:"message,omitempty"`
	State    State         `json:"state"`
	Duration time.Duration `json:"duration"`
}

// Outcome is the label recorded for this result: "success" or the
// failure kind.
func (res Result) Outcome() string {
	if res.OK {
		return "success"
	}
	return string(res.Kind)
}

func (res Result) fail(kind FailureKind, msg string) Result {
	res.OK = false
	res.Kind = kind
	res.Message = msg
	res.State = StateFailed
	return res
}

// Dispatch routes one tool call by name. The handler runs at most once;
// if the context expires while it is still running, Dispatch stops
// waiting and reports a handler error carrying the context's reason.
// Dispatch counters are recorded exactly once per call, whatever the
// outcome.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (res Result) {
	start := time.Now()
	res = Result{Tool: name, State: StateReceived}
	defer func() {
		res.Duration = time.Since(start)
		r.metrics.RecordDispatch(res.OK, res.Duration)
		r.recorder.ObserveToolDispatch(name, res.Outcome(), res.Duration)
		if res.OK {
			r.logger.Debug("%s: succeeded in %s", name, res.Duration)
		} else {
			r.logger.Warn("%s: %s: %s", name, res.Kind, res.Message)
		}
	}()

	reg, ok := r.lookupHandler(name)
	if !ok {
		return res.fail(FailureNotFound, fmt.Sprintf("tool %q is not registered", name))
	}

	validated, msg := r.validateArgs(reg.def, args)
	if msg != "" {
		return res.fail(FailureInvalidArguments, msg)
	}
	res.State = StateValidated
	r.logger.Debug("%s: arguments validated", name)

	res.State = StateExecuting
	type handlerOut struct {
		payload any
		err     error
	}
	done := make(chan handlerOut, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- handlerOut{err: fmt.Errorf("handler panicked: %v", p)}
			}
		}()
		payload, err := reg.handler(ctx, validated)
		done <- handlerOut{payload: payload, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return res.fail(FailureHandlerError, out.err.Error())
		}
		res.OK = true
		res.Payload = out.payload
		res.State = StateSucceeded
		return res
	case <-ctx.Done():
		return res.fail(FailureHandlerError, fmt.Sprintf("abandoned handler: %v", ctx.Err()))
	}
}

// validateArgs checks args against the schema and returns a normalized
// copy for the handler: numeric values become float64 and declared
// defaults fill in missing optional parameters. The caller's map is
// never mutated.
func (r *Registry) validateArgs(def Definition, args map[string]any) (map[string]any, string) {
	props := def.InputSchema.Properties
	validated := make(map[string]any, len(args))

	if !r.allowExtraArgs {
		for _, key := range sortedNames(args) {
			if _, declared := props[key]; !declared {
				return nil, fmt.Sprintf("unknown parameter %q", key)
			}
		}
	}

	for _, name := range sortedNames(props) {
		prop := props[name]
		value, present := args[name]
		if !present {
			if prop.Default != nil {
				validated[name] = normalizeDefault(prop, prop.Default)
			}
			continue
		}
		normalized, msg := checkValue(name, prop, value)
		if msg != "" {
			return nil, msg
		}
		validated[name] = normalized
	}

	for _, req := range def.InputSchema.Required {
		if _, ok := validated[req]; !ok {
			return nil, fmt.Sprintf("missing required parameter %q", req)
		}
	}

	if r.allowExtraArgs {
		for key, value := range args {
			if _, declared := props[key]; !declared {
				validated[key] = value
			}
		}
	}

	return validated, ""
}

func checkValue(name string, prop Property, value any) (any, string) {
	if value == nil {
		return nil, fmt.Sprintf("parameter %q must not be null", name)
	}
	switch prop.Type {
	case "string":
		s, ok := value.(string)
		if !ok {
			return nil, typeMismatch(name, "string", value)
		}
		if len(prop.Enum) > 0 && !slices.Contains(prop.Enum, s) {
			return nil, fmt.Sprintf("parameter %q must be one of %v, got %q", name, prop.Enum, s)
		}
		return s, ""
	case "integer":
		f, ok := asFloat(value)
		if !ok || f != math.Trunc(f) {
			return nil, typeMismatch(name, "integer", value)
		}
		return f, ""
	case "number":
		f, ok := asFloat(value)
		if !ok {
			return nil, typeMismatch(name, "number", value)
		}
		return f, ""
	case "boolean":
		b, ok := value.(bool)
		if !ok {
			return nil, typeMismatch(name, "boolean", value)
		}
		return b, ""
	case "array":
		arr, ok := value.([]any)
		if !ok {
			return nil, typeMismatch(name, "array", value)
		}
		out := make([]any, len(arr))
		for i, elem := range arr {
			norm, msg := checkValue(fmt.Sprintf("%s[%d]", name, i), *prop.Items, elem)
			if msg != "" {
				return nil, msg
			}
			out[i] = norm
		}
		return out, ""
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			return nil, typeMismatch(name, "object", value)
		}
		if len(prop.Properties) == 0 {
			return obj, ""
		}
		out := make(map[string]any, len(obj))
		for k, v := range obj {
			out[k] = v
		}
		for _, child := range sortedNames(prop.Properties) {
			v, present := obj[child]
			if !present {
				continue
			}
			norm, msg := checkValue(name+"."+child, *prop.Properties[child], v)
			if msg != "" {
				return nil, msg
			}
			out[child] = norm
		}
		return out, ""
	}
	return nil, fmt.Sprintf("parameter %q has unsupported type %q", name, prop.Type)
}

func typeMismatch(name, want string, got any) string {
	return fmt.Sprintf("parameter %q: expected %s, got %T", name, want, got)
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// normalizeDefault coerces a declared default to the same shape decoded
// JSON arguments take, so handlers see one representation either way.
func normalizeDefault(prop Property, value any) any {
	switch prop.Type {
	case "integer", "number":
		if f, ok := asFloat(value); ok {
			return f
		}
	}
	return value
}
