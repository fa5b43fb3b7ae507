package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexus3/nexus3/internal/rpc"
	"github.com/nexus3/nexus3/pkg/models"
)

type createRequest struct {
	AgentID           string   `json:"agent_id,omitempty"`
	Preset            string   `json:"preset,omitempty"`
	DisableTools      []string `json:"disable_tools,omitempty"`
	CWD               string   `json:"cwd,omitempty"`
	Model             string   `json:"model,omitempty"`
	SystemPrompt      string   `json:"system_prompt,omitempty"`
	AllowedWritePaths []string `json:"allowed_write_paths,omitempty"`
}

// newClient reads the port-scoped token and builds an RPC client.
func newClient(flags clientFlags) (*rpc.Client, error) {
	token, err := rpc.ReadToken(flags.port)
	if err != nil {
		return nil, fmt.Errorf("read rpc token (is the server running?): %w", err)
	}
	base := fmt.Sprintf("http://%s:%d", flags.host, flags.port)
	return rpc.NewClient(base, token), nil
}

func runCreate(cmd *cobra.Command, flags clientFlags, req createRequest) error {
	client, err := newClient(flags)
	if err != nil {
		return err
	}
	var result struct {
		AgentID string `json:"agent_id"`
	}
	if err := client.Call(cmd.Context(), "create_agent", req, &result); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), result.AgentID)
	return nil
}

func runList(cmd *cobra.Command, flags clientFlags) error {
	client, err := newClient(flags)
	if err != nil {
		return err
	}
	var result struct {
		Agents []models.AgentInfo `json:"agents"`
	}
	if err := client.Call(cmd.Context(), "list_agents", nil, &result); err != nil {
		return err
	}
	if len(result.Agents) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no agents")
		return nil
	}
	for _, a := range result.Agents {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d messages\tcreated %s\n",
			a.AgentID, a.MessageCount, a.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runDestroy(cmd *cobra.Command, flags clientFlags, agentID string) error {
	client, err := newClient(flags)
	if err != nil {
		return err
	}
	var result struct {
		Destroyed bool `json:"destroyed"`
	}
	params := map[string]string{"agent_id": agentID}
	if err := client.Call(cmd.Context(), "destroy_agent", params, &result); err != nil {
		return err
	}
	if !result.Destroyed {
		return fmt.Errorf("agent %s not found", agentID)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "destroyed %s\n", agentID)
	return nil
}

func runSend(cmd *cobra.Command, flags clientFlags, agentID, content string) error {
	client, err := newClient(flags)
	if err != nil {
		return err
	}
	var result struct {
		Content   string `json:"content"`
		RequestID string `json:"request_id"`
		Cancelled bool   `json:"cancelled"`
		Halted    bool   `json:"halted"`
	}
	params := map[string]string{"content": content}
	if err := client.CallAgent(cmd.Context(), agentID, "send", params, &result); err != nil {
		return err
	}
	switch {
	case result.Cancelled:
		fmt.Fprintf(cmd.OutOrStdout(), "[cancelled] request %s\n", result.RequestID)
	default:
		fmt.Fprintln(cmd.OutOrStdout(), result.Content)
	}
	return nil
}

func runCancel(cmd *cobra.Command, flags clientFlags, agentID, requestID string) error {
	client, err := newClient(flags)
	if err != nil {
		return err
	}
	var result struct {
		Cancelled bool   `json:"cancelled"`
		Reason    string `json:"reason"`
	}
	params := map[string]string{"request_id": requestID}
	if err := client.CallAgent(cmd.Context(), agentID, "cancel", params, &result); err != nil {
		return err
	}
	if result.Cancelled {
		fmt.Fprintln(cmd.OutOrStdout(), "cancelled")
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "not cancelled: %s\n", result.Reason)
	}
	return nil
}

func runStatus(cmd *cobra.Command, flags clientFlags, agentID string) error {
	client, err := newClient(flags)
	if err != nil {
		return err
	}
	var tokens struct {
		System   int `json:"system"`
		Tools    int `json:"tools"`
		Messages int `json:"messages"`
		Total    int `json:"total"`
	}
	if err := client.CallAgent(cmd.Context(), agentID, "get_tokens", nil, &tokens); err != nil {
		return err
	}
	var info struct {
		MessageCount int  `json:"message_count"`
		SystemPrompt bool `json:"system_prompt"`
	}
	if err := client.CallAgent(cmd.Context(), agentID, "get_context", nil, &info); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "agent:          %s\n", agentID)
	fmt.Fprintf(out, "messages:       %d\n", info.MessageCount)
	fmt.Fprintf(out, "system prompt:  %v\n", info.SystemPrompt)
	fmt.Fprintf(out, "tokens:         system=%d tools=%d messages=%d total=%d\n",
		tokens.System, tokens.Tools, tokens.Messages, tokens.Total)
	return nil
}

func runCompact(cmd *cobra.Command, flags clientFlags, agentID string) error {
	client, err := newClient(flags)
	if err != nil {
		return err
	}
	var result struct {
		BeforeTokens int `json:"before_tokens"`
		AfterTokens  int `json:"after_tokens"`
		Replaced     int `json:"replaced"`
	}
	if err := client.CallAgent(cmd.Context(), agentID, "compact", nil, &result); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "compacted: %d -> %d tokens (%d messages replaced)\n",
		result.BeforeTokens, result.AfterTokens, result.Replaced)
	return nil
}

func runShutdown(cmd *cobra.Command, flags clientFlags) error {
	client, err := newClient(flags)
	if err != nil {
		return err
	}
	if err := client.Call(cmd.Context(), "shutdown_server", nil, nil); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "shutdown requested")
	return nil
}
