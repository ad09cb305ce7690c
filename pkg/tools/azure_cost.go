package tools

import (
	"context"
	"math"

	"foundry/pkg/utils"
)

// AzureCostTool estimates monthly Azure resource cost from a small static
// rate table. Unknown resource/tier combinations fall back to a flat rate
// rather than failing, matching how a pricing stub should degrade.
type AzureCostTool struct{}

const fallbackHourlyRate = 0.10

var hourlyRates = map[string]map[string]float64{
	"vm":      {"basic": 0.05, "standard": 0.15, "premium": 0.50},
	"storage": {"basic": 0.01, "standard": 0.02, "premium": 0.05},
}

func NewAzureCostTool() *AzureCostTool {
	return &AzureCostTool{}
}

func (t *AzureCostTool) Definition() Definition {
	return Definition{
		Name:        ToolCalculateAzureCost,
		Description: "Calculate a cost estimate for Azure resources based on configuration. Use this to provide pricing information to customers.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"resource_type": {
					Type:        "string",
					Description: "Type of Azure resource",
					Enum:        []string{"vm", "storage", "sql", "app_service", "ai_service"},
				},
				"tier": {
					Type:        "string",
					Description: "Service tier/SKU",
				},
				"hours_per_month": {
					Type:        "integer",
					Description: "Expected usage hours per month",
					Default:     730,
				},
			},
			Required: []string{"resource_type", "tier"},
		},
	}
}

func (t *AzureCostTool) Exec(ctx context.Context, args map[string]any) (any, error) {
	resourceType, err := utils.GetMapField[string](args, "resource_type")
	if err != nil {
		return nil, err
	}
	tier, err := utils.GetMapField[string](args, "tier")
	if err != nil {
		return nil, err
	}
	hours := utils.GetMapFieldOr[float64](args, "hours_per_month", 730)

	rate := fallbackHourlyRate
	if tiers, ok := hourlyRates[resourceType]; ok {
		if r, ok := tiers[tier]; ok {
			rate = r
		}
	}
	monthlyCost := math.Round(rate*hours*100) / 100

	return map[string]any{
		"resource_type":          resourceType,
		"tier":                   tier,
		"hourly_rate":            rate,
		"monthly_hours":          hours,
		"estimated_monthly_cost": monthlyCost,
		"currency":               "USD",
	}, nil
}
