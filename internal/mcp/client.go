package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snowgoose/snowgoose/internal/schema"
)

const protocolVersion = "2024-11-05"

// ErrClosed is returned by calls on a connection whose server has gone away.
var ErrClosed = errors.New("mcp connection closed")

// Resource is an entry of resources/list.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// Prompt is an entry of prompts/list.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Conn is one live session with an MCP server.
type Conn interface {
	ListTools(ctx context.Context) ([]schema.ToolDefinition, error)
	CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
	ListResources(ctx context.Context) ([]Resource, error)
	ReadResource(ctx context.Context, uri string) (json.RawMessage, error)
	ListPrompts(ctx context.Context) ([]Prompt, error)
	GetPrompt(ctx context.Context, name string, args map[string]string) (json.RawMessage, error)
	Close() error
}

// Dialer opens a connection to the server described by tool.
type Dialer func(ctx context.Context, tool schema.MCPTool) (Conn, error)

// Dial is the default Dialer: it parses tool.Path, starts or addresses the
// server and performs the initialize handshake.
func Dial(ctx context.Context, tool schema.MCPTool) (Conn, error) {
	cfg, err := ServerConfigFromPath(tool.Path)
	if err != nil {
		return nil, err
	}
	c := newClient(tool.Name, cfg)
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message) }

type rpcResponse struct {
	ID     *int64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// client manages JSON-RPC communication with a single MCP server (stdio or HTTP).
type client struct {
	name       string
	cfg        ServerConfig
	httpClient *http.Client

	// Stdio fields (non-nil when command-based)
	cmd   *exec.Cmd
	stdin io.WriteCloser
	done  chan struct{}

	writeMu sync.Mutex
	mu      sync.Mutex
	pending map[int64]chan rpcResponse
	session string // Mcp-Session-Id for HTTP servers

	nextID    atomic.Int64
	closed    atomic.Bool
	closeOnce sync.Once
}

func newClient(name string, cfg ServerConfig) *client {
	return &client{
		name:       name,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		pending:    make(map[int64]chan rpcResponse),
		done:       make(chan struct{}),
	}
}

// connect starts the MCP server subprocess (or prepares HTTP) and initializes.
func (c *client) connect(ctx context.Context) error {
	switch {
	case c.cfg.Command != "":
		if err := c.startStdio(); err != nil {
			return err
		}
	case c.cfg.URL != "":
	default:
		return fmt.Errorf("MCP server %q: no command or url configured", c.name)
	}
	if err := c.initialize(ctx); err != nil {
		_ = c.Close()
		return fmt.Errorf("initialize %q: %w", c.name, err)
	}
	return nil
}

// startStdio spawns the server. The process outlives the request that
// triggered it and is stopped by Close.
func (c *client) startStdio() error {
	c.cmd = exec.Command(c.cfg.Command, c.cfg.Args...)
	c.cmd.Env = os.Environ()
	for k, v := range c.cfg.Env {
		c.cmd.Env = append(c.cmd.Env, k+"="+v)
	}

	stdin, err := c.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := c.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	c.stdin = stdin

	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("start MCP server %q: %w", c.name, err)
	}
	go c.readLoop(stdout)
	return nil
}

// readLoop routes response lines to their waiting callers until stdout closes.
func (c *client) readLoop(r io.Reader) {
	defer close(c.done)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil || resp.ID == nil {
			continue // server log output or notifications
		}
		c.mu.Lock()
		ch, ok := c.pending[*resp.ID]
		delete(c.pending, *resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
	c.closed.Store(true)
	slog.Debug("MCP server stdout closed", "server", c.name)
}

// ---------------------------------------------------------------------------
// Protocol operations
// ---------------------------------------------------------------------------

func (c *client) ListTools(ctx context.Context) ([]schema.ToolDefinition, error) {
	raw, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []schema.ToolDefinition `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode tools/list: %w", err)
	}
	return result.Tools, nil
}

// CallTool returns the raw tools/call result; see NormalizeToolResult.
func (c *client) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	if args == nil {
		args = map[string]any{}
	}
	return c.call(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
}

func (c *client) ListResources(ctx context.Context) ([]Resource, error) {
	raw, err := c.call(ctx, "resources/list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Resources []Resource `json:"resources"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode resources/list: %w", err)
	}
	return result.Resources, nil
}

func (c *client) ReadResource(ctx context.Context, uri string) (json.RawMessage, error) {
	return c.call(ctx, "resources/read", map[string]any{"uri": uri})
}

func (c *client) ListPrompts(ctx context.Context) ([]Prompt, error) {
	raw, err := c.call(ctx, "prompts/list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Prompts []Prompt `json:"prompts"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode prompts/list: %w", err)
	}
	return result.Prompts, nil
}

func (c *client) GetPrompt(ctx context.Context, name string, args map[string]string) (json.RawMessage, error) {
	params := map[string]any{"name": name}
	if len(args) > 0 {
		params["arguments"] = args
	}
	return c.call(ctx, "prompts/get", params)
}

// Close stops a subprocess server. HTTP sessions have nothing to release.
func (c *client) Close() error {
	c.closed.Store(true)
	if c.cmd == nil || c.cmd.Process == nil {
		return nil
	}
	var err error
	c.closeOnce.Do(func() {
		_ = c.stdin.Close()
		if kerr := c.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			err = fmt.Errorf("kill MCP server %q: %w", c.name, kerr)
		}
		_ = c.cmd.Wait()
	})
	return err
}

// ---------------------------------------------------------------------------
// JSON-RPC plumbing
// ---------------------------------------------------------------------------

func (c *client) initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "snowgoose", "version": "1.0"},
	}
	if _, err := c.call(ctx, "initialize", params); err != nil {
		return err
	}
	return c.notify(ctx, "notifications/initialized")
}

func (c *client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	req := map[string]any{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		req["params"] = params
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var resp rpcResponse
	if c.cfg.URL != "" {
		resp, err = c.roundTripHTTP(ctx, id, data)
	} else {
		resp, err = c.roundTripStdio(ctx, id, data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s: %w", method, resp.Error)
	}
	return resp.Result, nil
}

func (c *client) notify(ctx context.Context, method string) error {
	data, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": method})
	if c.cfg.URL != "" {
		resp, err := c.postHTTP(ctx, data)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
	return c.writeLine(data)
}

func (c *client) writeLine(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write to MCP stdin: %w", err)
	}
	return nil
}

func (c *client) roundTripStdio(ctx context.Context, id int64, data []byte) (rpcResponse, error) {
	if c.closed.Load() {
		return rpcResponse{}, ErrClosed
	}
	ch := make(chan rpcResponse, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.writeLine(data); err != nil {
		return rpcResponse{}, err
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-c.done:
		return rpcResponse{}, ErrClosed
	case <-ctx.Done():
		return rpcResponse{}, ctx.Err()
	}
}

func (c *client) postHTTP(ctx context.Context, data []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	c.mu.Lock()
	if c.session != "" {
		httpReq.Header.Set("Mcp-Session-Id", c.session)
	}
	c.mu.Unlock()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" {
		c.mu.Lock()
		c.session = sid
		c.mu.Unlock()
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("MCP HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

// roundTripHTTP accepts either a plain JSON body or an SSE stream carrying
// the response as a data event.
func (c *client) roundTripHTTP(ctx context.Context, id int64, data []byte) (rpcResponse, error) {
	resp, err := c.postHTTP(ctx, data)
	if err != nil {
		return rpcResponse{}, err
	}
	defer resp.Body.Close()

	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		var out rpcResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return rpcResponse{}, fmt.Errorf("decode MCP response: %w", err)
		}
		return out, nil
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var out rpcResponse
		if err := json.Unmarshal([]byte(strings.TrimSpace(line[5:])), &out); err != nil {
			continue
		}
		if out.ID != nil && *out.ID == id {
			return out, nil
		}
	}
	if err := sc.Err(); err != nil {
		return rpcResponse{}, err
	}
	return rpcResponse{}, fmt.Errorf("MCP stream ended without response %d", id)
}
