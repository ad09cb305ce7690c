package tools

import (
	"context"
	"fmt"
	"regexp"
	"sort"
)

// Property describes a single parameter in a tool's input schema.
type Property struct {
	Type        string               `json:"type"`
	Description string               `json:"description,omitempty"`
	Enum        []string             `json:"enum,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Default     any                  `json:"default,omitempty"`
}

// InputSchema is the JSON-schema fragment describing a tool's arguments.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Definition is the platform-facing contract for a tool: its wire name,
// the description shown to the model, and the argument schema.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// Handler executes one tool call. Arguments arrive as decoded JSON with
// numeric values normalized to float64; the returned payload must be
// JSON-serializable.
type Handler func(ctx context.Context, args map[string]any) (any, error)

var validTypes = map[string]bool{
	"string":  true,
	"integer": true,
	"number":  true,
	"boolean": true,
	"array":   true,
	"object":  true,
}

var toolNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// Validate checks a definition at registration time so that a bad schema
// surfaces immediately instead of at first dispatch.
func (d Definition) Validate() error {
	if !toolNameRe.MatchString(d.Name) {
		return fmt.Errorf("invalid tool name %q: must match %s", d.Name, toolNameRe.String())
	}
	if d.Description == "" {
		return fmt.Errorf("tool %q: description must not be empty", d.Name)
	}
	if d.InputSchema.Type != "object" {
		return fmt.Errorf("tool %q: input schema type must be \"object\", got %q", d.Name, d.InputSchema.Type)
	}
	for _, name := range sortedNames(d.InputSchema.Properties) {
		prop := d.InputSchema.Properties[name]
		if err := validateProperty(name, &prop); err != nil {
			return fmt.Errorf("tool %q: %w", d.Name, err)
		}
	}
	seen := make(map[string]bool, len(d.InputSchema.Required))
	for _, req := range d.InputSchema.Required {
		prop, ok := d.InputSchema.Properties[req]
		if !ok {
			return fmt.Errorf("tool %q: required parameter %q is not declared", d.Name, req)
		}
		if seen[req] {
			return fmt.Errorf("tool %q: parameter %q listed as required more than once", d.Name, req)
		}
		seen[req] = true
		if prop.Default != nil {
			return fmt.Errorf("tool %q: required parameter %q must not declare a default", d.Name, req)
		}
	}
	return nil
}

func validateProperty(name string, p *Property) error {
	if !validTypes[p.Type] {
		return fmt.Errorf("parameter %q: unknown type %q", name, p.Type)
	}
	if len(p.Enum) > 0 {
		if p.Type != "string" {
			return fmt.Errorf("parameter %q: enum is only supported on string parameters", name)
		}
		for _, v := range p.Enum {
			if v == "" {
				return fmt.Errorf("parameter %q: enum values must not be empty", name)
			}
		}
	}
	if p.Type == "array" && p.Items == nil {
		return fmt.Errorf("parameter %q: array type requires items", name)
	}
	if p.Items != nil {
		if err := validateProperty(name+".items", p.Items); err != nil {
			return err
		}
	}
	for _, child := range sortedNames(p.Properties) {
		if err := validateProperty(name+"."+child, p.Properties[child]); err != nil {
			return err
		}
	}
	return nil
}

// ParametersMap renders the input schema as the generic map shape the
// platform's function-tool API expects.
func (d Definition) ParametersMap() map[string]any {
	properties := make(map[string]any, len(d.InputSchema.Properties))
	for name, prop := range d.InputSchema.Properties {
		p := prop
		properties[name] = propertySchema(&p)
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(d.InputSchema.Required) > 0 {
		schema["required"] = append([]string(nil), d.InputSchema.Required...)
	}
	return schema
}

// FunctionSchema renders the full function-tool envelope for this
// definition, suitable for handing straight to the platform.
func (d Definition) FunctionSchema() map[string]any {
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        d.Name,
			"description": d.Description,
			"parameters":  d.ParametersMap(),
		},
	}
}

func propertySchema(p *Property) map[string]any {
	schema := map[string]any{"type": p.Type}
	if p.Description != "" {
		schema["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		schema["enum"] = append([]string(nil), p.Enum...)
	}
	if p.Items != nil {
		schema["items"] = propertySchema(p.Items)
	}
	if len(p.Properties) > 0 {
		children := make(map[string]any, len(p.Properties))
		for name, child := range p.Properties {
			children[name] = propertySchema(child)
		}
		schema["properties"] = children
	}
	if p.Default != nil {
		schema["default"] = p.Default
	}
	return schema
}

func sortedNames[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
