package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/nexus3/nexus3/internal/permission"
	"github.com/nexus3/nexus3/internal/sandbox"
)

// Output caps for builtin tools. Oversized payloads are truncated with
// a marker rather than failing the call.
const (
	maxFileReadBytes = 256 << 10
	maxFetchBytes    = 1 << 20
)

func reflectSchema(v any) json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.Reflect(v)
	raw, err := json.Marshal(schema)
	if err != nil {
		// Reflection of our own arg structs cannot fail to marshal.
		panic(fmt.Sprintf("reflect tool schema: %v", err))
	}
	return raw
}

// RegisterBuiltins installs the built-in tool set into r.
func RegisterBuiltins(r *Registry) error {
	builtins := []struct {
		desc    Descriptor
		factory Factory
	}{
		{
			desc: Descriptor{
				Name:        "echo",
				Description: "Return the given text unchanged. Useful for testing the tool pipeline.",
				Parameters:  reflectSchema(&echoArgs{}),
				Enabled:     true,
				Requires:    permission.CapNone,
			},
			factory: func() (Tool, error) { return &echoTool{}, nil },
		},
		{
			desc: Descriptor{
				Name:        "read_file",
				Description: "Read a UTF-8 text file from an allowed path and return its contents.",
				Parameters:  reflectSchema(&readFileArgs{}),
				Enabled:     true,
				Requires:    permission.CapRead,
			},
			factory: func() (Tool, error) { return &readFileTool{}, nil },
		},
		{
			desc: Descriptor{
				Name:        "write_file",
				Description: "Write text content to a file under an allowed write path, creating parent directories.",
				Parameters:  reflectSchema(&writeFileArgs{}),
				Enabled:     true,
				Requires:    permission.CapWrite,
			},
			factory: func() (Tool, error) { return &writeFileTool{}, nil },
		},
		{
			desc: Descriptor{
				Name:        "fetch_url",
				Description: "Fetch an http(s) URL from an allowed host and return the response body as text.",
				Parameters:  reflectSchema(&fetchURLArgs{}),
				Enabled:     true,
				Requires:    permission.CapNetwork,
			},
			factory: func() (Tool, error) {
				return &fetchURLTool{client: &http.Client{Timeout: 30 * time.Second}}, nil
			},
		},
	}
	for _, b := range builtins {
		desc := b.desc
		if err := r.Register(&desc, b.factory); err != nil {
			return err
		}
	}
	return nil
}

type echoArgs struct {
	Text string `json:"text" jsonschema:"description=Text to echo back"`
}

type echoTool struct{}

func (t *echoTool) Name() string            { return "echo" }
func (t *echoTool) Description() string     { return "Return the given text unchanged." }
func (t *echoTool) Schema() json.RawMessage { return reflectSchema(&echoArgs{}) }

func (t *echoTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var a echoArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return &Result{Error: "invalid arguments: " + err.Error()}, nil
	}
	return &Result{Output: a.Text}, nil
}

type readFileArgs struct {
	Path string `json:"path" jsonschema:"description=Path of the file to read"`
}

type readFileTool struct{}

func (t *readFileTool) Name() string            { return "read_file" }
func (t *readFileTool) Description() string     { return "Read a text file." }
func (t *readFileTool) Schema() json.RawMessage { return reflectSchema(&readFileArgs{}) }

func (t *readFileTool) Resources(args json.RawMessage) (reads, writes, urls []string) {
	var a readFileArgs
	if err := json.Unmarshal(args, &a); err == nil && a.Path != "" {
		reads = []string{a.Path}
	}
	return reads, nil, nil
}

func (t *readFileTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var a readFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return &Result{Error: "invalid arguments: " + err.Error()}, nil
	}
	path := a.Path
	// Policy enforcement happens again here so the tool stays safe even
	// when invoked outside the session engine.
	if policy, ok := PolicyFromContext(ctx); ok && policy.EffectiveLevel() == permission.Sandboxed {
		canonical, err := sandbox.ValidatePath(path, policy.AllowedReadPaths, true)
		if err != nil {
			return &Result{Error: err.Error()}, nil
		}
		path = canonical
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return &Result{Error: err.Error()}, nil
	}
	if len(data) > maxFileReadBytes {
		return &Result{Output: string(data[:maxFileReadBytes]) + "\n[truncated]"}, nil
	}
	return &Result{Output: string(data)}, nil
}

type writeFileArgs struct {
	Path    string `json:"path" jsonschema:"description=Path of the file to write"`
	Content string `json:"content" jsonschema:"description=Content to write"`
}

type writeFileTool struct{}

func (t *writeFileTool) Name() string            { return "write_file" }
func (t *writeFileTool) Description() string     { return "Write a text file." }
func (t *writeFileTool) Schema() json.RawMessage { return reflectSchema(&writeFileArgs{}) }

func (t *writeFileTool) Resources(args json.RawMessage) (reads, writes, urls []string) {
	var a writeFileArgs
	if err := json.Unmarshal(args, &a); err == nil && a.Path != "" {
		writes = []string{a.Path}
	}
	return nil, writes, nil
}

func (t *writeFileTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var a writeFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return &Result{Error: "invalid arguments: " + err.Error()}, nil
	}
	path := a.Path
	if policy, ok := PolicyFromContext(ctx); ok && policy.EffectiveLevel() == permission.Sandboxed {
		canonical, err := sandbox.ValidatePath(path, policy.AllowedWritePaths, true)
		if err != nil {
			return &Result{Error: err.Error()}, nil
		}
		path = canonical
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &Result{Error: err.Error()}, nil
	}
	if err := os.WriteFile(path, []byte(a.Content), 0o644); err != nil {
		return &Result{Error: err.Error()}, nil
	}
	return &Result{Output: fmt.Sprintf("wrote %d bytes to %s", len(a.Content), path)}, nil
}

type fetchURLArgs struct {
	URL string `json:"url" jsonschema:"description=The http(s) URL to fetch"`
}

type fetchURLTool struct {
	client *http.Client
}

func (t *fetchURLTool) Name() string            { return "fetch_url" }
func (t *fetchURLTool) Description() string     { return "Fetch an http(s) URL." }
func (t *fetchURLTool) Schema() json.RawMessage { return reflectSchema(&fetchURLArgs{}) }

func (t *fetchURLTool) Resources(args json.RawMessage) (reads, writes, urls []string) {
	var a fetchURLArgs
	if err := json.Unmarshal(args, &a); err == nil && a.URL != "" {
		urls = []string{a.URL}
	}
	return nil, nil, urls
}

func (t *fetchURLTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var a fetchURLArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return &Result{Error: "invalid arguments: " + err.Error()}, nil
	}
	target := a.URL
	if policy, ok := PolicyFromContext(ctx); ok && policy.EffectiveLevel() == permission.Sandboxed {
		if !policy.NetworkAllowed {
			return &Result{Error: "network not permitted in sandboxed mode"}, nil
		}
		validator := sandbox.NewURLValidator(policy.AllowHosts)
		canonical, err := validator.Validate(ctx, target)
		if err != nil {
			return &Result{Error: err.Error()}, nil
		}
		target = canonical
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return &Result{Error: err.Error()}, nil
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return &Result{Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return &Result{Error: err.Error()}, nil
	}
	truncated := ""
	if len(body) > maxFetchBytes {
		body = body[:maxFetchBytes]
		truncated = "\n[truncated]"
	}
	if resp.StatusCode >= 400 {
		return &Result{Error: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body))}, nil
	}
	return &Result{Output: string(body) + truncated}, nil
}
