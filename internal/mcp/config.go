package mcp

import (
	"errors"
	"path/filepath"
	"strings"
)

// ServerConfig holds the connection parameters for a single MCP server.
type ServerConfig struct {
	Command string
	Args    []string
	Env     map[string]string
	URL     string
	Headers map[string]string
}

// ServerConfigFromPath turns an MCPTool path descriptor into connection
// parameters. An http(s) URL is reached over HTTP; a .js script runs under
// node, a .py script under python3, anything else is executed directly.
// Extra whitespace-separated fields are passed as arguments.
func ServerConfigFromPath(path string) (ServerConfig, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return ServerConfig{}, errors.New("empty MCP tool path")
	}
	lower := strings.ToLower(path)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return ServerConfig{URL: path}, nil
	}

	fields := strings.Fields(path)
	switch strings.ToLower(filepath.Ext(fields[0])) {
	case ".js", ".mjs", ".cjs":
		return ServerConfig{Command: "node", Args: fields}, nil
	case ".py":
		return ServerConfig{Command: "python3", Args: fields}, nil
	default:
		return ServerConfig{Command: fields[0], Args: fields[1:]}, nil
	}
}
