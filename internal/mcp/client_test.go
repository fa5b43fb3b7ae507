package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

type fakeTransport struct {
	connected bool
	calls     []string
	notifies  []string
	respond   func(method string, params any) (json.RawMessage, error)
}

func (f *fakeTransport) Connect(ctx context.Context) error { f.connected = true; return nil }
func (f *fakeTransport) Close() error                      { f.connected = false; return nil }
func (f *fakeTransport) Connected() bool                   { return f.connected }

func (f *fakeTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	f.calls = append(f.calls, method)
	return f.respond(method, params)
}

func (f *fakeTransport) Notify(ctx context.Context, method string, params any) error {
	f.notifies = append(f.notifies, method)
	return nil
}

func newFakeClient(respond func(method string, params any) (json.RawMessage, error)) (*Client, *fakeTransport) {
	transport := &fakeTransport{respond: respond}
	return &Client{name: "test", transport: transport, logger: slog.New(slog.DiscardHandler)}, transport
}

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		cfg    ServerConfig
		wantOK bool
	}{
		{"stdio", ServerConfig{Name: "fs", Command: "mcp-fs"}, true},
		{"http", ServerConfig{Name: "web", URL: "http://localhost:3000"}, true},
		{"both transports", ServerConfig{Name: "x", Command: "a", URL: "http://b"}, false},
		{"no transport", ServerConfig{Name: "x"}, false},
		{"no name", ServerConfig{Command: "a"}, false},
		{"bad consent", ServerConfig{Name: "x", Command: "a", Consent: "maybe"}, false},
		{"bad visibility", ServerConfig{Name: "x", Command: "a", Visibility: "hidden"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err == nil) != tt.wantOK {
				t.Errorf("Validate() = %v, wantOK %v", err, tt.wantOK)
			}
		})
	}
}

func TestConnectHandshakeOrder(t *testing.T) {
	client, transport := newFakeClient(func(method string, params any) (json.RawMessage, error) {
		if method != "initialize" {
			t.Fatalf("unexpected call before handshake: %s", method)
		}
		return json.RawMessage(`{"protocolVersion":"2024-11-05","serverInfo":{"name":"srv","version":"1.0"}}`), nil
	})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(transport.calls) != 1 || transport.calls[0] != "initialize" {
		t.Errorf("calls = %v", transport.calls)
	}
	if len(transport.notifies) != 1 || transport.notifies[0] != "notifications/initialized" {
		t.Errorf("notifies = %v", transport.notifies)
	}
	if client.serverInfo.ServerInfo.Name != "srv" {
		t.Errorf("serverInfo = %+v", client.serverInfo)
	}
}

func TestListToolsFollowsPagination(t *testing.T) {
	pages := []string{
		`{"tools":[{"name":"a"},{"name":"b"}],"nextCursor":"p2"}`,
		`{"tools":[{"name":"c"}],"nextCursor":"p3"}`,
		`{"tools":[{"name":"d"}]}`,
	}
	var cursors []string
	client, _ := newFakeClient(func(method string, params any) (json.RawMessage, error) {
		p := params.(listToolsParams)
		cursors = append(cursors, p.Cursor)
		page := pages[0]
		pages = pages[1:]
		return json.RawMessage(page), nil
	})
	client.transport.Connect(context.Background())

	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(tools) != 4 {
		t.Fatalf("got %d tools, want 4", len(tools))
	}
	wantCursors := []string{"", "p2", "p3"}
	for i, c := range wantCursors {
		if cursors[i] != c {
			t.Errorf("cursor[%d] = %q, want %q", i, cursors[i], c)
		}
	}
}

func TestCallToolDecodesResult(t *testing.T) {
	client, _ := newFakeClient(func(method string, params any) (json.RawMessage, error) {
		p := params.(callToolParams)
		if p.Name != "search" {
			t.Errorf("tool name = %s", p.Name)
		}
		return json.RawMessage(`{"content":[{"type":"text","text":"hit 1"},{"type":"image"}]}`), nil
	})
	client.transport.Connect(context.Background())

	result, err := client.CallTool(context.Background(), "search", json.RawMessage(`{"q":"go"}`))
	if err != nil {
		t.Fatal(err)
	}
	if got := result.Text(); got != "hit 1[image content]" {
		t.Errorf("Text() = %q", got)
	}
}

func TestCallToolResultTextOnError(t *testing.T) {
	r := &CallToolResult{
		IsError: true,
		Content: []ContentBlock{{Type: "text", Text: "not found"}},
	}
	if r.Text() != "not found" {
		t.Errorf("Text() = %q", r.Text())
	}
}
