package tools

// Built-in tool names. Keep these in sync with the definitions in the
// corresponding files; handlers and tests refer to tools by constant.
const (
	ToolQueryKnowledgeBase  = "query_knowledge_base"
	ToolLookupCustomer      = "lookup_customer"
	ToolCreateSupportTicket = "create_support_ticket"
	ToolCalculateAzureCost  = "calculate_azure_cost"
)
