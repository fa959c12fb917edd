// Package toolproc connects to an external MCP tool server started as a
// child process and exposes its tools to the language-model backends.
package toolproc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/antoniostano/heygemini/internal/llm"
	"github.com/antoniostano/heygemini/internal/policy"
)

var (
	ErrNotConnected = errors.New("tool server not connected")
	ErrToolRefused  = errors.New("tool call refused")
)

var _ llm.ToolProvider = (*Manager)(nil)

// ServerConfig describes how to launch the tool server process.
type ServerConfig struct {
	Command string
	Args    []string
	Env     map[string]string
}

// Manager owns one MCP client session. Concurrent calls are safe.
type Manager struct {
	mu      sync.Mutex
	cfg     ServerConfig
	client  *mcp.Client
	session *mcp.ClientSession
	tools   []*mcp.Tool
}

func NewManager(cfg ServerConfig) *Manager {
	return &Manager{
		cfg:    cfg,
		client: newClient(),
	}
}

func newClient() *mcp.Client {
	return mcp.NewClient(&mcp.Implementation{
		Name:    "heygemini",
		Version: "1.0.0",
	}, nil)
}

// Connect starts the server process and caches its tool list. It is a no-op
// when already connected.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectLocked(ctx)
}

func (m *Manager) connectLocked(ctx context.Context) error {
	if m.session != nil {
		return nil
	}
	transport, err := m.buildTransport()
	if err != nil {
		return err
	}
	session, err := m.client.Connect(ctx, transport, nil)
	if err != nil {
		// Connect is one-shot per client.
		m.client = newClient()
		return fmt.Errorf("connect tool server: %w", err)
	}
	m.session = session

	result, err := session.ListTools(ctx, nil)
	if err != nil {
		log.Printf("toolproc: list tools failed: %v", err)
		m.tools = nil
		return nil
	}
	m.tools = result.Tools
	log.Printf("toolproc: connected to %s (%d tools)", m.describe(), len(m.tools))
	return nil
}

func (m *Manager) buildTransport() (mcp.Transport, error) {
	if strings.TrimSpace(m.cfg.Command) == "" {
		return nil, errors.New("tool server command is empty")
	}
	cmd := exec.Command(m.cfg.Command, m.cfg.Args...)
	if len(m.cfg.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range m.cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	return &mcp.CommandTransport{Command: cmd}, nil
}

func (m *Manager) describe() string {
	return strings.TrimSpace(m.cfg.Command + " " + strings.Join(m.cfg.Args, " "))
}

// Tools returns the cached tool list, connecting first if needed.
func (m *Manager) Tools(ctx context.Context) ([]llm.Tool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.connectLocked(ctx); err != nil {
		return nil, err
	}
	out := make([]llm.Tool, 0, len(m.tools))
	for _, t := range m.tools {
		out = append(out, llm.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaMap(t.InputSchema),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CallTool runs a tool and returns its text content. A transport failure
// triggers one reconnect and retry. Tool-reported errors come back as errors.
func (m *Manager) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	if d := policy.DecideToolCall(name, args); d.Blocked {
		log.Printf("toolproc: refused tool %s: %s", name, d.Reason)
		return "", fmt.Errorf("%w: %s", ErrToolRefused, d.Reason)
	}
	result, err := m.callOnce(ctx, name, args)
	if err != nil && ctx.Err() == nil {
		m.mu.Lock()
		m.disconnectLocked()
		reconnErr := m.connectLocked(ctx)
		m.mu.Unlock()
		if reconnErr != nil {
			return "", fmt.Errorf("call tool %q (reconnect failed: %v): %w", name, reconnErr, err)
		}
		result, err = m.callOnce(ctx, name, args)
	}
	if err != nil {
		return "", fmt.Errorf("call tool %q: %w", name, err)
	}
	text := extractContent(result)
	if result.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", fmt.Errorf("tool %q: %s", name, text)
	}
	return text, nil
}

func (m *Manager) callOnce(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	m.mu.Lock()
	if err := m.connectLocked(ctx); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	session := m.session
	m.mu.Unlock()
	if session == nil {
		return nil, ErrNotConnected
	}
	return session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
}

// Close terminates the session and the server process.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectLocked()
}

func (m *Manager) disconnectLocked() {
	if m.session != nil {
		if err := m.session.Close(); err != nil {
			log.Printf("toolproc: close session: %v", err)
		}
		m.session = nil
	}
	m.tools = nil
}

func extractContent(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// schemaMap normalises a tool input schema to a plain JSON object map.
func schemaMap(schema any) map[string]any {
	switch v := schema.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return v
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}
