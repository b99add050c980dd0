package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProtocolVersion is the handshake version negotiated in initialize.
const ProtocolVersion = "2024-11-05"

// Methods
const (
	MethodInitialize = "initialize"
	MethodToolsList  = "tools/list"
	MethodToolsCall  = "tools/call"

	// MethodCapabilitiesList and MethodCapabilitiesInvoke are accepted as aliases.
	MethodCapabilitiesList   = "capabilities/list"
	MethodCapabilitiesInvoke = "capabilities/invoke"

	MethodPing = "ping"

	NotificationInitialized = "notifications/initialized"
	NotificationCancelled   = "notifications/cancelled"
)

// Implementation identifies a client or a server.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams is sent by the client in the handshake.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      Implementation `json:"clientInfo"`
}

// ToolsCapability is advertised by servers that expose tools.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerCapabilities describes what a server supports.
type ServerCapabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// InitializeResult is the handshake response.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// Tool describes a named operation exposed by a provider.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ListToolsResult is the response to tools/list.
type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// CallToolParams is the request of tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ContentTypeText is the only content type produced by the providers in this module.
const ContentTypeText = "text"

// Content is one block of an invocation result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallToolResult is the result of tools/call.
// IsError reports a failed operation, the exchange itself succeeded.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

// TextResult returns a successful result with a single text block.
func TextResult(text string) *CallToolResult {
	return &CallToolResult{
		Content: []Content{{Type: ContentTypeText, Text: text}},
	}
}

// ErrorResult returns an error-flagged result with a single text block.
func ErrorResult(format string, args ...any) *CallToolResult {
	return &CallToolResult{
		Content: []Content{{Type: ContentTypeText, Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

// Text returns the text blocks joined by newlines.
func (r *CallToolResult) Text() string {
	if r == nil {
		return ""
	}
	parts := make([]string, 0, len(r.Content))
	for _, c := range r.Content {
		if c.Type == ContentTypeText || c.Type == "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// CancelledParams is sent with notifications/cancelled.
type CancelledParams struct {
	RequestID ID     `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
}
