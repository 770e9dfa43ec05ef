package mcp

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jllopis/camel/pkg/tools"
)

// ServerConfig describes how to reach one MCP server. Command starts a
// stdio server; URL connects to a streamable HTTP endpoint.
type ServerConfig struct {
	Name    string
	Command string
	Args    []string
	URL     string
	// Prefix namespaces the server's tools, e.g. "fs_".
	Prefix string
}

// Connection is a set of connected servers acting as one executor.
type Connection struct {
	tools.Multi
	clients []*Client
}

// Connect opens every server in order. On failure the servers already
// opened are closed.
func Connect(ctx context.Context, servers []ServerConfig, opts ...ClientOption) (*Connection, error) {
	conn := &Connection{}
	sorted := slices.Clone(servers)
	slices.SortStableFunc(sorted, func(a, b ServerConfig) int { return strings.Compare(a.Name, b.Name) })
	for _, s := range sorted {
		var (
			c   *Client
			err error
		)
		switch {
		case s.Command != "":
			c, err = NewClientWithStdio(ctx, s.Command, s.Args, opts...)
		case s.URL != "":
			c, err = NewClientWithStreamableHTTP(ctx, s.URL, opts...)
		default:
			err = errors.New("command or url is required")
		}
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("mcp server %s: %w", s.Name, err)
		}
		conn.clients = append(conn.clients, c)
		ex, err := NewExecutor(c, WithPrefix(s.Prefix))
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		conn.Multi = append(conn.Multi, ex)
	}
	return conn, nil
}

// Close closes every client.
func (c *Connection) Close() error {
	var errs []error
	for _, cl := range c.clients {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.clients = nil
	return errors.Join(errs...)
}
