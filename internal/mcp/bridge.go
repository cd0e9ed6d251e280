// Package mcp connects to Model Context Protocol tool servers and exposes
// their tools, resources and prompts to the vendor adapters.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/snowgoose/snowgoose/internal/schema"
)

// connectTimeout bounds a shared connect attempt.
const connectTimeout = 30 * time.Second

// ConnState is the lifecycle state of one tool id in the Bridge.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

type session struct {
	tool  schema.MCPTool
	conn  Conn
	tools []schema.ToolDefinition
}

// Bridge owns one cached connection per tool id for the life of the process.
// The first use of a tool id connects and caches the server's tool list;
// concurrent first uses share a single connect attempt.
type Bridge struct {
	dial Dialer

	mu         sync.Mutex
	sessions   map[int64]*session
	connecting map[int64]struct{}
	inflight   singleflight.Group
}

// NewBridge returns a Bridge using dial, or Dial when nil.
func NewBridge(dial Dialer) *Bridge {
	if dial == nil {
		dial = Dial
	}
	return &Bridge{
		dial:       dial,
		sessions:   make(map[int64]*session),
		connecting: make(map[int64]struct{}),
	}
}

// State reports the connection state of a tool id.
func (b *Bridge) State(toolID int64) ConnState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[toolID]; ok {
		return Connected
	}
	if _, ok := b.connecting[toolID]; ok {
		return Connecting
	}
	return Disconnected
}

func (b *Bridge) cached(toolID int64) *session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions[toolID]
}

// ensure returns the session for tool, connecting when needed.
func (b *Bridge) ensure(ctx context.Context, tool schema.MCPTool) (*session, error) {
	if s := b.cached(tool.ID); s != nil {
		return s, nil
	}
	v, err, _ := b.inflight.Do(strconv.FormatInt(tool.ID, 10), func() (any, error) {
		if s := b.cached(tool.ID); s != nil {
			return s, nil
		}
		b.mu.Lock()
		b.connecting[tool.ID] = struct{}{}
		b.mu.Unlock()
		defer func() {
			b.mu.Lock()
			delete(b.connecting, tool.ID)
			b.mu.Unlock()
		}()

		// The connect is shared by every waiter, so it must not end with
		// the first caller's request.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), connectTimeout)
		defer cancel()

		conn, err := b.dial(ctx, tool)
		if err != nil {
			return nil, fmt.Errorf("connect MCP tool %q: %w", tool.Name, err)
		}
		defs, err := conn.ListTools(ctx)
		if err != nil {
			if cerr := conn.Close(); cerr != nil {
				slog.Warn("MCP close after failed list", "tool", tool.Name, "err", cerr)
			}
			return nil, fmt.Errorf("list tools of %q: %w", tool.Name, err)
		}

		s := &session{tool: tool, conn: conn, tools: defs}
		b.mu.Lock()
		b.sessions[tool.ID] = s
		b.mu.Unlock()
		slog.Info("MCP server connected", "tool", tool.Name, "id", tool.ID, "tools", len(defs))
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*session), nil
}

// ListTools returns the cached tool list of tool, connecting on first use.
func (b *Bridge) ListTools(ctx context.Context, tool schema.MCPTool) ([]schema.ToolDefinition, error) {
	s, err := b.ensure(ctx, tool)
	if err != nil {
		return nil, err
	}
	return s.tools, nil
}

// CallTool invokes name on the tool server. A connection found dead is
// dropped and reopened once.
func (b *Bridge) CallTool(ctx context.Context, tool schema.MCPTool, name string, args map[string]any) (json.RawMessage, error) {
	var out json.RawMessage
	err := b.withConn(ctx, tool, func(c Conn) error {
		var err error
		out, err = c.CallTool(ctx, name, args)
		return err
	})
	return out, err
}

func (b *Bridge) ListResources(ctx context.Context, tool schema.MCPTool) ([]Resource, error) {
	var out []Resource
	err := b.withConn(ctx, tool, func(c Conn) error {
		var err error
		out, err = c.ListResources(ctx)
		return err
	})
	return out, err
}

func (b *Bridge) ReadResource(ctx context.Context, tool schema.MCPTool, uri string) (json.RawMessage, error) {
	var out json.RawMessage
	err := b.withConn(ctx, tool, func(c Conn) error {
		var err error
		out, err = c.ReadResource(ctx, uri)
		return err
	})
	return out, err
}

func (b *Bridge) ListPrompts(ctx context.Context, tool schema.MCPTool) ([]Prompt, error) {
	var out []Prompt
	err := b.withConn(ctx, tool, func(c Conn) error {
		var err error
		out, err = c.ListPrompts(ctx)
		return err
	})
	return out, err
}

func (b *Bridge) GetPrompt(ctx context.Context, tool schema.MCPTool, name string, args map[string]string) (json.RawMessage, error) {
	var out json.RawMessage
	err := b.withConn(ctx, tool, func(c Conn) error {
		var err error
		out, err = c.GetPrompt(ctx, name, args)
		return err
	})
	return out, err
}

func (b *Bridge) withConn(ctx context.Context, tool schema.MCPTool, fn func(Conn) error) error {
	for attempt := 0; ; attempt++ {
		s, err := b.ensure(ctx, tool)
		if err != nil {
			return err
		}
		err = fn(s.conn)
		if errors.Is(err, ErrClosed) && attempt == 0 {
			slog.Warn("MCP connection lost, reconnecting", "tool", tool.Name)
			b.drop(tool.ID, s)
			continue
		}
		return err
	}
}

// drop removes s from the cache if it is still the current session.
func (b *Bridge) drop(toolID int64, s *session) {
	b.mu.Lock()
	if b.sessions[toolID] == s {
		delete(b.sessions, toolID)
	}
	b.mu.Unlock()
	if err := s.conn.Close(); err != nil {
		slog.Warn("MCP disconnect failed", "tool", s.tool.Name, "err", err)
	}
}

// Disconnect closes and forgets the connection for toolID. Close failures
// are logged.
func (b *Bridge) Disconnect(toolID int64) {
	b.mu.Lock()
	s, ok := b.sessions[toolID]
	delete(b.sessions, toolID)
	b.mu.Unlock()
	if !ok {
		return
	}
	if err := s.conn.Close(); err != nil {
		slog.Warn("MCP disconnect failed", "tool", s.tool.Name, "err", err)
		return
	}
	slog.Info("MCP server disconnected", "tool", s.tool.Name)
}

// DisconnectAll tears down every cached connection.
func (b *Bridge) DisconnectAll() {
	b.mu.Lock()
	ids := make([]int64, 0, len(b.sessions))
	for id := range b.sessions {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	for _, id := range ids {
		b.Disconnect(id)
	}
}
