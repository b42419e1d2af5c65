package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Sentinel MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolListRules = mcp.NewTool("list_rules",
	mcp.WithDescription(
		"List the fraud detection rule catalog. "+
			"Shows each rule's key, whether it is enabled, and its tunable "+
			"parameters (window in days, fiat threshold, counts, percentages)."),
)

var ToolGetRule = mcp.NewTool("get_rule",
	mcp.WithDescription(
		"Get one fraud detection rule by key, including its current parameters."),
	mcp.WithString("key",
		mcp.Required(),
		mcp.Description("Rule key, e.g. 'SPLITTING' or 'DORMANT_ACTIVITY'")),
)

var ToolUpdateRule = mcp.NewTool("update_rule",
	mcp.WithDescription(
		"Tune a fraud detection rule: enable or disable it, or change its "+
			"thresholds. Changes take effect on new evaluations within the "+
			"rule cache TTL. Requires admin access."),
	mcp.WithString("key",
		mcp.Required(),
		mcp.Description("Rule key, e.g. 'SPLITTING'")),
	mcp.WithBoolean("enabled",
		mcp.Description("Enable or disable the rule")),
	mcp.WithNumber("period_days",
		mcp.Description("Lookback window in days")),
	mcp.WithString("threshold_fiat",
		mcp.Description("Fiat threshold in the canonical currency, e.g. '600000'")),
	mcp.WithNumber("min_count",
		mcp.Description("Minimum transaction or sender count")),
	mcp.WithString("percent_threshold",
		mcp.Description("Percentage threshold, e.g. '80'")),
)

var ToolListCases = mcp.NewTool("list_cases",
	mcp.WithDescription(
		"List fraud review cases. Each case links a flagged transaction to "+
			"the rule that triggered and a human-readable reason. "+
			"Filter by status to see the open review queue."),
	mcp.WithString("status",
		mcp.Description("Filter by status"),
		mcp.Enum("OPEN", "APPROVED", "REJECTED")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of cases to return (default 20)")),
)

var ToolGetCase = mcp.NewTool("get_case",
	mcp.WithDescription(
		"Get one fraud review case by ID, including the rule that opened it "+
			"and the reason."),
	mcp.WithNumber("case_id",
		mcp.Required(),
		mcp.Description("The case ID")),
)

var ToolResolveCase = mcp.NewTool("resolve_case",
	mcp.WithDescription(
		"Resolve an open fraud review case. APPROVED releases the flagged "+
			"transaction; REJECTED blocks it. Resolution is final. "+
			"Requires admin access."),
	mcp.WithNumber("case_id",
		mcp.Required(),
		mcp.Description("The case ID to resolve")),
	mcp.WithString("decision",
		mcp.Required(),
		mcp.Description("The review decision"),
		mcp.Enum("APPROVED", "REJECTED")),
)

var ToolScreenTransaction = mcp.NewTool("screen_transaction",
	mcp.WithDescription(
		"Record a transaction and screen it against the fraud rule catalog. "+
			"Returns whether a rule matched and, if so, the review case that "+
			"was opened."),
	mcp.WithString("kind",
		mcp.Required(),
		mcp.Description("Transaction kind"),
		mcp.Enum("deposit", "withdrawal", "transfer")),
	mcp.WithString("asset",
		mcp.Required(),
		mcp.Description("Asset code, e.g. 'USD', 'USDC', 'BTC', 'ETH'")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Amount in the asset's native unit, e.g. '1500.00'")),
	mcp.WithNumber("sender_customer_id",
		mcp.Description("Internal customer ID of the sender, if known")),
	mcp.WithNumber("receiver_customer_id",
		mcp.Description("Internal customer ID of the receiver, if known")),
)
