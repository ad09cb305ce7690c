package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func builtinRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	if err := RegisterBuiltins(reg); err != nil {
		t.Fatalf("RegisterBuiltins failed: %v", err)
	}
	return reg
}

// TestRegisterBuiltins verifies all four demo tools register in a fixed
// order and re-registration reports the duplicate.
func TestRegisterBuiltins(t *testing.T) {
	reg := builtinRegistry(t)

	want := []string{
		ToolQueryKnowledgeBase,
		ToolLookupCustomer,
		ToolCreateSupportTicket,
		ToolCalculateAzureCost,
	}
	got := reg.Names()
	if len(got) != len(want) {
		t.Fatalf("Expected %d tools, got %d: %v", len(want), len(got), got)
	}
	for i, name := range want {
		if got[i] != name {
			t.Errorf("Expected tool %d to be %s, got %s", i, name, got[i])
		}
	}

	err := RegisterBuiltins(reg)
	var dup *DuplicateToolError
	if !errors.As(err, &dup) {
		t.Fatalf("Expected *DuplicateToolError on re-registration, got %T: %v", err, err)
	}
}

// TestKnowledgeBase_Query verifies the knowledge base returns documents
// capped by max_results and echoes the query.
func TestKnowledgeBase_Query(t *testing.T) {
	reg := builtinRegistry(t)

	res := reg.Dispatch(context.Background(), ToolQueryKnowledgeBase, map[string]any{
		"query":       "remote work policy",
		"max_results": float64(2),
	})
	if !res.OK {
		t.Fatalf("Dispatch failed: %s", res.Message)
	}
	payload := res.Payload.(map[string]any)
	if payload["query"] != "remote work policy" {
		t.Errorf("Expected query echoed, got %v", payload["query"])
	}
	results := payload["results"].([]map[string]any)
	if len(results) != 2 {
		t.Errorf("Expected 2 results, got %d", len(results))
	}
	if payload["total_results"] != 2 {
		t.Errorf("Expected total_results 2, got %v", payload["total_results"])
	}
	first := results[0]
	for _, key := range []string{"title", "content", "relevance_score", "source"} {
		if _, ok := first[key]; !ok {
			t.Errorf("Expected result to carry %q", key)
		}
	}
}

// TestKnowledgeBase_DefaultMaxResults verifies the declared default kicks
// in when max_results is omitted.
func TestKnowledgeBase_DefaultMaxResults(t *testing.T) {
	reg := builtinRegistry(t)

	res := reg.Dispatch(context.Background(), ToolQueryKnowledgeBase, map[string]any{
		"query": "anything",
	})
	if !res.OK {
		t.Fatalf("Dispatch failed: %s", res.Message)
	}
	results := res.Payload.(map[string]any)["results"].([]map[string]any)
	if len(results) == 0 || len(results) > 5 {
		t.Errorf("Expected between 1 and 5 results by default, got %d", len(results))
	}
}

// TestLookupCustomer verifies the CRM stub honors include_history.
func TestLookupCustomer(t *testing.T) {
	reg := builtinRegistry(t)

	res := reg.Dispatch(context.Background(), ToolLookupCustomer, map[string]any{
		"customer_id": "cust-42",
	})
	if !res.OK {
		t.Fatalf("Dispatch failed: %s", res.Message)
	}
	payload := res.Payload.(map[string]any)
	if payload["customer_id"] != "cust-42" {
		t.Errorf("Expected customer_id echoed, got %v", payload["customer_id"])
	}
	if payload["tier"] != "Enterprise" {
		t.Errorf("Expected Enterprise tier, got %v", payload["tier"])
	}
	if history := payload["history"].([]map[string]any); len(history) != 0 {
		t.Errorf("Expected empty history by default, got %v", history)
	}

	res = reg.Dispatch(context.Background(), ToolLookupCustomer, map[string]any{
		"customer_id":     "cust-42",
		"include_history": true,
	})
	if !res.OK {
		t.Fatalf("Dispatch failed: %s", res.Message)
	}
	history := res.Payload.(map[string]any)["history"].([]map[string]any)
	if len(history) != 1 {
		t.Fatalf("Expected one history entry, got %d", len(history))
	}
	if history[0]["type"] != "Support Ticket" {
		t.Errorf("Expected history entry type, got %v", history[0]["type"])
	}
}

// TestCreateSupportTicket verifies ticket creation returns a unique ID,
// the default priority, and a tracking URL.
func TestCreateSupportTicket(t *testing.T) {
	reg := builtinRegistry(t)

	args := map[string]any{
		"title":       "VM unreachable",
		"description": "Production VM stopped responding to SSH.",
	}
	res := reg.Dispatch(context.Background(), ToolCreateSupportTicket, args)
	if !res.OK {
		t.Fatalf("Dispatch failed: %s", res.Message)
	}
	payload := res.Payload.(map[string]any)
	ticketID := payload["ticket_id"].(string)
	if !strings.HasPrefix(ticketID, "TICK-") {
		t.Errorf("Expected TICK- prefix, got %q", ticketID)
	}
	if payload["status"] != "created" {
		t.Errorf("Expected status created, got %v", payload["status"])
	}
	if payload["priority"] != "medium" {
		t.Errorf("Expected default priority medium, got %v", payload["priority"])
	}
	if url := payload["url"].(string); !strings.Contains(url, ticketID) {
		t.Errorf("Expected URL to contain ticket ID, got %q", url)
	}
	if _, present := payload["customer_id"]; present {
		t.Error("Expected no customer_id when not supplied")
	}

	second := reg.Dispatch(context.Background(), ToolCreateSupportTicket, args)
	if !second.OK {
		t.Fatalf("Second dispatch failed: %s", second.Message)
	}
	if second.Payload.(map[string]any)["ticket_id"] == ticketID {
		t.Error("Expected unique ticket IDs across calls")
	}
}

// TestCreateSupportTicket_PriorityEnum verifies the enum is enforced at
// dispatch and valid members pass.
func TestCreateSupportTicket_PriorityEnum(t *testing.T) {
	reg := builtinRegistry(t)

	res := reg.Dispatch(context.Background(), ToolCreateSupportTicket, map[string]any{
		"title":       "x",
		"description": "y",
		"priority":    "urgent",
	})
	if res.OK || res.Kind != FailureInvalidArguments {
		t.Fatalf("Expected enum rejection, got %+v", res)
	}

	res = reg.Dispatch(context.Background(), ToolCreateSupportTicket, map[string]any{
		"title":       "x",
		"description": "y",
		"priority":    "critical",
		"customer_id": "cust-1",
	})
	if !res.OK {
		t.Fatalf("Expected critical to be accepted, got: %s", res.Message)
	}
	payload := res.Payload.(map[string]any)
	if payload["priority"] != "critical" {
		t.Errorf("Expected critical priority, got %v", payload["priority"])
	}
	if payload["customer_id"] != "cust-1" {
		t.Errorf("Expected customer_id passed through, got %v", payload["customer_id"])
	}
}

// TestCalculateAzureCost verifies rate lookup, the default hours, and the
// flat fallback rate for unknown combinations.
func TestCalculateAzureCost(t *testing.T) {
	reg := builtinRegistry(t)

	res := reg.Dispatch(context.Background(), ToolCalculateAzureCost, map[string]any{
		"resource_type":   "vm",
		"tier":            "standard",
		"hours_per_month": float64(100),
	})
	if !res.OK {
		t.Fatalf("Dispatch failed: %s", res.Message)
	}
	payload := res.Payload.(map[string]any)
	if payload["hourly_rate"] != 0.15 {
		t.Errorf("Expected vm/standard rate 0.15, got %v", payload["hourly_rate"])
	}
	if payload["estimated_monthly_cost"] != 15.0 {
		t.Errorf("Expected monthly cost 15.0, got %v", payload["estimated_monthly_cost"])
	}
	if payload["currency"] != "USD" {
		t.Errorf("Expected USD, got %v", payload["currency"])
	}

	res = reg.Dispatch(context.Background(), ToolCalculateAzureCost, map[string]any{
		"resource_type": "sql",
		"tier":          "hyperscale",
	})
	if !res.OK {
		t.Fatalf("Dispatch failed: %s", res.Message)
	}
	payload = res.Payload.(map[string]any)
	if payload["hourly_rate"] != fallbackHourlyRate {
		t.Errorf("Expected fallback rate, got %v", payload["hourly_rate"])
	}
	if payload["monthly_hours"] != 730.0 {
		t.Errorf("Expected default 730 hours, got %v", payload["monthly_hours"])
	}
	if payload["estimated_monthly_cost"] != 73.0 {
		t.Errorf("Expected 73.0 for fallback full month, got %v", payload["estimated_monthly_cost"])
	}
}

// TestCalculateAzureCost_Validation verifies the resource enum and the
// required tier argument.
func TestCalculateAzureCost_Validation(t *testing.T) {
	reg := builtinRegistry(t)

	res := reg.Dispatch(context.Background(), ToolCalculateAzureCost, map[string]any{
		"resource_type": "mainframe",
		"tier":          "basic",
	})
	if res.OK || res.Kind != FailureInvalidArguments {
		t.Fatalf("Expected resource_type enum rejection, got %+v", res)
	}

	res = reg.Dispatch(context.Background(), ToolCalculateAzureCost, map[string]any{
		"resource_type": "vm",
	})
	if res.OK || !strings.Contains(res.Message, "tier") {
		t.Fatalf("Expected missing tier rejection, got %+v", res)
	}
}

// TestBuiltinSchemas verifies every built-in renders a platform-ready
// function schema.
func TestBuiltinSchemas(t *testing.T) {
	reg := builtinRegistry(t)

	schemas := reg.Schemas()
	if len(schemas) != 4 {
		t.Fatalf("Expected 4 schemas, got %d", len(schemas))
	}
	for _, schema := range schemas {
		fn, ok := schema["function"].(map[string]any)
		if !ok {
			t.Fatalf("Schema missing function envelope: %v", schema)
		}
		if fn["name"] == "" || fn["description"] == "" {
			t.Errorf("Expected name and description, got %v", fn)
		}
		params, ok := fn["parameters"].(map[string]any)
		if !ok || params["type"] != "object" {
			t.Errorf("Expected object parameters, got %v", fn["parameters"])
		}
	}
}
