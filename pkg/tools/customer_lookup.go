package tools

import (
	"context"

	"foundry/pkg/utils"
)

// CustomerLookupTool resolves customer records from a canned CRM dataset.
// Only non-sensitive fields are returned; the description tells the model
// so and dispatches are covered by the audit log like any other tool call.
type CustomerLookupTool struct{}

func NewCustomerLookupTool() *CustomerLookupTool {
	return &CustomerLookupTool{}
}

func (t *CustomerLookupTool) Definition() Definition {
	return Definition{
		Name:        ToolLookupCustomer,
		Description: "Look up customer information from the CRM system. Use this to get customer details, history, or status. Only returns non-sensitive data; access is audit logged.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"customer_id": {
					Type:        "string",
					Description: "Unique customer identifier (email or ID)",
				},
				"include_history": {
					Type:        "boolean",
					Description: "Whether to include interaction history",
					Default:     false,
				},
			},
			Required: []string{"customer_id"},
		},
	}
}

func (t *CustomerLookupTool) Exec(ctx context.Context, args map[string]any) (any, error) {
	customerID, err := utils.GetMapField[string](args, "customer_id")
	if err != nil {
		return nil, err
	}
	includeHistory := utils.GetMapFieldOr[bool](args, "include_history", false)

	history := []map[string]any{}
	if includeHistory {
		history = append(history, map[string]any{
			"date":   "2024-01-15",
			"type":   "Support Ticket",
			"status": "Resolved",
		})
	}

	return map[string]any{
		"customer_id":     customerID,
		"name":            "Acme Corporation",
		"status":          "Active",
		"tier":            "Enterprise",
		"account_manager": "Jane Smith",
		"history":         history,
	}, nil
}
