package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"foundry/pkg/utils"
)

// SupportTicketTool files a support ticket and returns the tracking
// information. Ticket IDs are random so repeated demo runs never collide.
type SupportTicketTool struct{}

func NewSupportTicketTool() *SupportTicketTool {
	return &SupportTicketTool{}
}

func (t *SupportTicketTool) Definition() Definition {
	return Definition{
		Name:        ToolCreateSupportTicket,
		Description: "Create a new support ticket in the ticketing system. Use this when a customer reports an issue that requires follow-up. Returns the ticket ID and tracking information.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"title": {
					Type:        "string",
					Description: "Brief summary of the issue",
				},
				"description": {
					Type:        "string",
					Description: "Detailed description of the issue",
				},
				"priority": {
					Type:        "string",
					Description: "Ticket priority level",
					Enum:        []string{"low", "medium", "high", "critical"},
					Default:     "medium",
				},
				"customer_id": {
					Type:        "string",
					Description: "Associated customer ID",
				},
			},
			Required: []string{"title", "description"},
		},
	}
}

func (t *SupportTicketTool) Exec(ctx context.Context, args map[string]any) (any, error) {
	title, err := utils.GetMapField[string](args, "title")
	if err != nil {
		return nil, err
	}
	if _, err := utils.GetMapField[string](args, "description"); err != nil {
		return nil, err
	}
	priority := utils.GetMapFieldOr[string](args, "priority", "medium")

	ticketID := fmt.Sprintf("TICK-%s", uuid.NewString())
	result := map[string]any{
		"ticket_id":  ticketID,
		"status":     "created",
		"priority":   priority,
		"title":      title,
		"created_at": time.Now().UTC().Format(time.RFC3339),
		"url":        fmt.Sprintf("https://support.example.com/tickets/%s", ticketID),
	}
	if customerID, err := utils.GetMapField[string](args, "customer_id"); err == nil {
		result["customer_id"] = customerID
	}
	return result, nil
}
