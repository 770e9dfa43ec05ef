// Package mcp connects plan runs to tools served over the Model Context
// Protocol.
package mcp

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultRetries  = 2
	defaultBackoff  = 200 * time.Millisecond
	defaultCacheTTL = 30 * time.Second

	clientName    = "camel"
	clientVersion = "0.1.0"
)

// ClientOption customizes the client.
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithListRetry configures retries for tool discovery. Tool calls are
// never retried: a repeated call could repeat its side effect.
func WithListRetry(retries int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		if retries >= 0 {
			c.maxRetries = retries
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// WithToolCacheTTL sets the tool discovery cache TTL. Use 0 to disable caching.
func WithToolCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		if ttl >= 0 {
			c.cacheTTL = ttl
		}
	}
}

// Client wraps an mcp-go client with timeouts, discovery retries and a
// tool list cache.
type Client struct {
	mcpClient  client.MCPClient
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	cacheTTL   time.Duration

	mu          sync.Mutex
	toolsCache  []mcp.Tool
	cacheExpiry time.Time
}

// NewClient wraps an initialized mcp-go client.
func NewClient(c client.MCPClient, opts ...ClientOption) *Client {
	cl := &Client{
		mcpClient:  c,
		timeout:    defaultTimeout,
		maxRetries: defaultRetries,
		backoff:    defaultBackoff,
		cacheTTL:   defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

// NewClientWithStdio starts command and connects to it over stdio.
func NewClientWithStdio(ctx context.Context, command string, args []string, opts ...ClientOption) (*Client, error) {
	return NewClientWithStdioProtocol(ctx, command, args, mcp.LATEST_PROTOCOL_VERSION, opts...)
}

// NewClientWithStdioProtocol is NewClientWithStdio with an explicit
// protocol version.
func NewClientWithStdioProtocol(ctx context.Context, command string, args []string, protocolVersion string, opts ...ClientOption) (*Client, error) {
	stdioClient, err := client.NewStdioMCPClient(command, nil, args...)
	if err != nil {
		return nil, err
	}
	if err := stdioClient.Start(ctx); err != nil {
		return nil, err
	}
	if err := initialize(ctx, stdioClient, protocolVersion); err != nil {
		_ = stdioClient.Close()
		return nil, err
	}
	return NewClient(stdioClient, opts...), nil
}

// NewClientWithStreamableHTTP connects to a streamable HTTP endpoint.
func NewClientWithStreamableHTTP(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	return NewClientWithStreamableHTTPProtocol(ctx, url, mcp.LATEST_PROTOCOL_VERSION, opts...)
}

// NewClientWithStreamableHTTPProtocol is NewClientWithStreamableHTTP with
// an explicit protocol version.
func NewClientWithStreamableHTTPProtocol(ctx context.Context, url string, protocolVersion string, opts ...ClientOption) (*Client, error) {
	httpClient, err := client.NewStreamableHttpClient(url)
	if err != nil {
		return nil, err
	}
	if err := httpClient.Start(ctx); err != nil {
		return nil, err
	}
	if err := initialize(ctx, httpClient, protocolVersion); err != nil {
		_ = httpClient.Close()
		return nil, err
	}
	return NewClient(httpClient, opts...), nil
}

func initialize(ctx context.Context, c client.MCPClient, protocolVersion string) error {
	if protocolVersion == "" {
		protocolVersion = mcp.LATEST_PROTOCOL_VERSION
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = protocolVersion
	req.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	_, err := c.Initialize(ctx, req)
	return err
}

// ListTools retrieves the tools available on the server.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if cached := c.cachedTools(); cached != nil {
		return cached, nil
	}
	resp, err := c.listToolsWithRetry(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	c.storeTools(resp.Tools)
	return resp.Tools, nil
}

// CallTool executes a tool on the server once.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	reqCtx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.mcpClient.CallTool(reqCtx, req)
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.mcpClient.Close()
}

func (c *Client) cachedTools() []mcp.Tool {
	if c.cacheTTL == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.toolsCache) == 0 || time.Now().After(c.cacheExpiry) {
		return nil
	}
	return append([]mcp.Tool(nil), c.toolsCache...)
}

func (c *Client) storeTools(tools []mcp.Tool) {
	if c.cacheTTL == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolsCache = append([]mcp.Tool(nil), tools...)
	c.cacheExpiry = time.Now().Add(c.cacheTTL)
}

func (c *Client) listToolsWithRetry(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	var lastErr error
	attempts := c.maxRetries + 1
	for i := 0; i < attempts; i++ {
		reqCtx, cancel := c.withTimeout(ctx)
		res, err := c.mcpClient.ListTools(reqCtx, req)
		cancel()
		if err == nil {
			return res, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		if err := c.sleepBackoff(ctx, i); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	timer := time.NewTimer(c.backoff * time.Duration(1<<attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
