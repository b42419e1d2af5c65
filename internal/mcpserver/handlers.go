package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *SentinelClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *SentinelClient) *Handlers {
	return &Handlers{client: client}
}

// HandleListRules returns the rule catalog.
func (h *Handlers) HandleListRules(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListRules(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list rules: %v", err)), nil
	}

	text, err := formatRuleList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse rules: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetRule returns one rule by key.
func (h *Handlers) HandleGetRule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := req.GetString("key", "")
	if key == "" {
		return mcp.NewToolResultError("key is required"), nil
	}

	raw, err := h.client.GetRule(ctx, key)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get rule: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// HandleUpdateRule tunes a rule's parameters.
func (h *Handlers) HandleUpdateRule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := req.GetString("key", "")
	if key == "" {
		return mcp.NewToolResultError("key is required"), nil
	}

	// Only forward fields the caller actually set; the API treats
	// absent fields as "leave unchanged"
	patch := make(map[string]any)
	args := req.GetArguments()
	if v, ok := args["enabled"].(bool); ok {
		patch["enabled"] = v
	}
	if v, ok := args["period_days"].(float64); ok {
		patch["periodDays"] = int(v)
	}
	if v, ok := args["threshold_fiat"].(string); ok && v != "" {
		patch["thresholdFiat"] = v
	}
	if v, ok := args["min_count"].(float64); ok {
		patch["minCount"] = int(v)
	}
	if v, ok := args["percent_threshold"].(string); ok && v != "" {
		patch["percentThreshold"] = v
	}

	if len(patch) == 0 {
		return mcp.NewToolResultError("nothing to update: provide enabled or at least one parameter"), nil
	}

	raw, err := h.client.UpdateRule(ctx, key, patch)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to update rule: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Rule %s updated.\n\n%s", key, formatJSON(raw))), nil
}

// HandleListCases lists review cases.
func (h *Handlers) HandleListCases(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := req.GetString("status", "")
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListCases(ctx, status, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list cases: %v", err)), nil
	}

	text, err := formatCaseList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse cases: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetCase returns one case by ID.
func (h *Handlers) HandleGetCase(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetInt("case_id", 0)
	if id <= 0 {
		return mcp.NewToolResultError("case_id is required"), nil
	}

	raw, err := h.client.GetCase(ctx, int64(id))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get case: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// HandleResolveCase resolves an open case.
func (h *Handlers) HandleResolveCase(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetInt("case_id", 0)
	if id <= 0 {
		return mcp.NewToolResultError("case_id is required"), nil
	}
	decision := req.GetString("decision", "")
	if decision != "APPROVED" && decision != "REJECTED" {
		return mcp.NewToolResultError("decision must be APPROVED or REJECTED"), nil
	}

	raw, err := h.client.ResolveCase(ctx, int64(id), decision)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to resolve case: %v", err)), nil
	}

	outcome := "released"
	if decision == "REJECTED" {
		outcome = "blocked"
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Case %d resolved: %s. The flagged transaction was %s.\n\n%s",
		id, decision, outcome, formatJSON(raw))), nil
}

// HandleScreenTransaction records and evaluates a transaction.
func (h *Handlers) HandleScreenTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind := req.GetString("kind", "")
	asset := req.GetString("asset", "")
	amount := req.GetString("amount", "")
	if kind == "" || asset == "" || amount == "" {
		return mcp.NewToolResultError("kind, asset, and amount are required"), nil
	}

	tx := map[string]any{
		"kind":   kind,
		"asset":  asset,
		"amount": amount,
	}
	if v := req.GetInt("sender_customer_id", 0); v > 0 {
		tx["sender_customer_id"] = v
	}
	if v := req.GetInt("receiver_customer_id", 0); v > 0 {
		tx["receiver_customer_id"] = v
	}

	raw, err := h.client.ScreenTransaction(ctx, tx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Screening failed: %v", err)), nil
	}

	text, err := formatScreenResult(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse result: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// --- Formatting helpers ---

type ruleInfo struct {
	Key              string  `json:"key"`
	Enabled          bool    `json:"enabled"`
	PeriodDays       *int    `json:"periodDays"`
	ThresholdFiat    *string `json:"thresholdFiat"`
	MinCount         *int    `json:"minCount"`
	PercentThreshold *string `json:"percentThreshold"`
	Description      string  `json:"description"`
}

func formatRuleList(raw json.RawMessage) (string, error) {
	var wrapper struct {
		Rules []ruleInfo `json:"rules"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return "", err
	}
	if len(wrapper.Rules) == 0 {
		return "The rule catalog is empty.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Rule catalog (%d rules, in priority order):\n\n", len(wrapper.Rules))
	for i, r := range wrapper.Rules {
		state := "enabled"
		if !r.Enabled {
			state = "DISABLED"
		}
		fmt.Fprintf(&sb, "%d. %s [%s]\n", i+1, r.Key, state)
		if r.Description != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Description)
		}
		var params []string
		if r.PeriodDays != nil {
			params = append(params, fmt.Sprintf("window %dd", *r.PeriodDays))
		}
		if r.ThresholdFiat != nil {
			params = append(params, "threshold "+*r.ThresholdFiat)
		}
		if r.MinCount != nil {
			params = append(params, fmt.Sprintf("min count %d", *r.MinCount))
		}
		if r.PercentThreshold != nil {
			params = append(params, *r.PercentThreshold+"%")
		}
		if len(params) > 0 {
			fmt.Fprintf(&sb, "   Parameters: %s\n", strings.Join(params, ", "))
		}
		if i < len(wrapper.Rules)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

type caseInfo struct {
	ID            int64  `json:"id"`
	TransactionID int64  `json:"transactionId"`
	RuleKey       string `json:"ruleKey"`
	Reason        string `json:"reason"`
	Status        string `json:"status"`
	CreatedAt     string `json:"createdAt"`
}

func formatCaseList(raw json.RawMessage) (string, error) {
	var wrapper struct {
		Cases []caseInfo `json:"cases"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return "", err
	}
	if len(wrapper.Cases) == 0 {
		return "No cases found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d case(s):\n\n", len(wrapper.Cases))
	for i, c := range wrapper.Cases {
		fmt.Fprintf(&sb, "%d. Case #%d [%s] rule %s, transaction %d\n",
			i+1, c.ID, c.Status, c.RuleKey, c.TransactionID)
		if c.Reason != "" {
			fmt.Fprintf(&sb, "   Reason: %s\n", c.Reason)
		}
		if c.CreatedAt != "" {
			fmt.Fprintf(&sb, "   Opened: %s\n", c.CreatedAt)
		}
		if i < len(wrapper.Cases)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

func formatScreenResult(raw json.RawMessage) (string, error) {
	var resp struct {
		Transaction struct {
			ID         int64  `json:"id"`
			Status     string `json:"status"`
			AmountBase string `json:"amountBase"`
		} `json:"transaction"`
		Result struct {
			Matched bool   `json:"matched"`
			RuleKey string `json:"ruleKey"`
			CaseID  int64  `json:"caseId"`
			Reason  string `json:"reason"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Transaction %d recorded (status %s).\n",
		resp.Transaction.ID, resp.Transaction.Status)
	if resp.Result.Matched {
		fmt.Fprintf(&sb, "\nFLAGGED by rule %s: case #%d opened.\n",
			resp.Result.RuleKey, resp.Result.CaseID)
		if resp.Result.Reason != "" {
			fmt.Fprintf(&sb, "Reason: %s\n", resp.Result.Reason)
		}
		sb.WriteString("Use get_case or resolve_case to review it.")
	} else {
		sb.WriteString("\nClean: no rule matched.")
	}
	return sb.String(), nil
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}
