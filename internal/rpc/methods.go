package rpc

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nexus3/nexus3/internal/pool"
	"github.com/nexus3/nexus3/pkg/models"
)

type createAgentParams struct {
	AgentID           string   `json:"agent_id"`
	Preset            string   `json:"preset"`
	DisableTools      []string `json:"disable_tools"`
	CWD               string   `json:"cwd"`
	Model             string   `json:"model"`
	SystemPrompt      string   `json:"system_prompt"`
	AllowedWritePaths []string `json:"allowed_write_paths"`
}

type agentIDParams struct {
	AgentID string `json:"agent_id"`
}

type sendParams struct {
	Content string `json:"content"`
}

type cancelParams struct {
	RequestID string `json:"request_id"`
}

func (s *Server) dispatchGlobal(ctx context.Context, req *rpcRequest) (any, *Error) {
	switch req.Method {
	case "create_agent":
		var p createAgentParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		if strings.EqualFold(p.Preset, "yolo") {
			return nil, rpcError(CodePermissionDenied, "yolo preset is not available over rpc")
		}
		agent, err := s.pool.Create(pool.Spec{
			ID:                p.AgentID,
			Preset:            p.Preset,
			DisableTools:      p.DisableTools,
			CWD:               p.CWD,
			Model:             p.Model,
			SystemPrompt:      p.SystemPrompt,
			AllowedWritePaths: p.AllowedWritePaths,
		})
		if err != nil {
			if strings.Contains(err.Error(), "already exists") {
				return nil, rpcError(CodeDuplicateAgent, err.Error())
			}
			return nil, rpcError(CodeInvalidParams, err.Error())
		}
		return map[string]string{"agent_id": agent.ID}, nil

	case "list_agents":
		infos := s.pool.List()
		if infos == nil {
			infos = []models.AgentInfo{}
		}
		return map[string]any{"agents": infos}, nil

	case "destroy_agent":
		var p agentIDParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		if p.AgentID == "" {
			return nil, rpcError(CodeInvalidParams, "agent_id is required")
		}
		return map[string]bool{"destroyed": s.pool.Destroy(p.AgentID)}, nil

	case "shutdown_server":
		s.requestShutdown()
		return map[string]any{}, nil
	}
	return nil, rpcError(CodeMethodNotFound, "unknown method "+req.Method)
}

func (s *Server) dispatchAgent(ctx context.Context, agentID string, req *rpcRequest) (any, *Error) {
	agent, ok := s.pool.Get(agentID)
	if !ok {
		return nil, rpcError(CodeAgentNotFound, "unknown agent "+agentID)
	}
	d := agent.Dispatcher

	switch req.Method {
	case "send":
		var p sendParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		if p.Content == "" {
			return nil, rpcError(CodeInvalidParams, "content is required")
		}
		result, err := d.Send(ctx, p.Content)
		if err != nil {
			return nil, classifySendError(err)
		}
		return result, nil

	case "cancel":
		var p cancelParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		if p.RequestID == "" {
			return nil, rpcError(CodeInvalidParams, "request_id is required")
		}
		return d.Cancel(p.RequestID), nil

	case "get_tokens":
		return d.GetTokens(), nil

	case "get_context":
		return d.GetContext(), nil

	case "compact":
		result, err := d.Compact(ctx)
		if err != nil {
			return nil, rpcError(CodeInternal, err.Error())
		}
		return result, nil

	case "shutdown":
		s.pool.Destroy(agentID)
		return map[string]any{}, nil
	}
	return nil, rpcError(CodeMethodNotFound, "unknown method "+req.Method)
}

func decodeParams(raw json.RawMessage, v any) *Error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return rpcError(CodeInvalidParams, "invalid params: "+err.Error())
	}
	return nil
}

func classifySendError(err error) *Error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "permission den"):
		return rpcError(CodePermissionDenied, msg)
	case strings.Contains(msg, "timeout"):
		return rpcError(CodeToolTimeout, msg)
	case strings.Contains(msg, "cancel"):
		return rpcError(CodeCancelled, msg)
	}
	return rpcError(CodeInternal, msg)
}

// requestShutdown fires the shutdown channel exactly once.
func (s *Server) requestShutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)
		s.logger.Info("shutdown requested over rpc")
	})
}
