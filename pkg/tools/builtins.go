package tools

// RegisterBuiltins adds the four demo tools to reg. Registration is
// explicit and ordered so schema listings stay deterministic.
func RegisterBuiltins(reg *Registry) error {
	builtins := []Tool{
		NewKnowledgeBaseTool(),
		NewCustomerLookupTool(),
		NewSupportTicketTool(),
		NewAzureCostTool(),
	}
	for _, t := range builtins {
		if err := reg.RegisterTool(t); err != nil {
			return err
		}
	}
	return nil
}
