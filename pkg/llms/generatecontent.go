package llms

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrUnexpectedRole is returned when a message role is of an unexpected type.
var ErrUnexpectedRole = errors.New("unexpected role")

// Role is the type of chat message.
type Role string

const (
	// RoleAI is a message sent by an AI.
	RoleAI Role = "ai"
	// RoleHuman is a message sent by a human, tool results included.
	RoleHuman Role = "human"
	// RoleSystem is a message sent by the system.
	RoleSystem Role = "system"
	// RoleTool is a message carrying a single tool response.
	// Adapters accept it for compatibility, the orchestrator sends tool
	// results in RoleHuman messages.
	RoleTool Role = "tool"
)

// Stop reasons reported by the adapters.
const (
	StopReasonEndTurn   = "end_turn"
	StopReasonToolUse   = "tool_use"
	StopReasonMaxTokens = "max_tokens"
	// StopReasonToolCalls is the OpenAI spelling of StopReasonToolUse.
	StopReasonToolCalls = "tool_calls"
)

// Message is one turn of a conversation. It has a role and a sequence of parts.
type Message struct {
	Role  Role          `json:"role"`
	Parts []ContentPart `json:"parts"`
}

// TextPart creates TextContent from a given string.
func TextPart(s string) TextContent {
	return TextContent{Text: s}
}

// ContentPart is the closed set of message parts:
// TextContent, ToolCall and ToolCallResponse.
type ContentPart interface {
	isPart()
}

// TextContent is content with some text.
type TextContent struct {
	Text string `json:"text"`
}

func (tc TextContent) String() string {
	return tc.Text
}

func (TextContent) isPart() {}

// FunctionCall is the name and arguments of a function call.
type FunctionCall struct {
	// The name of the function to call.
	Name string `json:"name"`
	// The arguments to pass to the function, as a JSON string.
	Arguments string `json:"arguments"`
}

// ToolCall is a call to a tool (as requested by the model) that should be executed.
type ToolCall struct {
	// ID is the unique identifier of the tool call.
	ID string `json:"id"`
	// Type is the type of the tool call. Typically, this would be "function".
	Type string `json:"type"`
	// FunctionCall is the function call to be executed.
	FunctionCall *FunctionCall `json:"function,omitempty"`
}

// Name returns the function name, or empty string.
func (tc ToolCall) Name() string {
	if tc.FunctionCall == nil {
		return ""
	}
	return tc.FunctionCall.Name
}

// Arguments returns the JSON arguments, "{}" when empty.
func (tc ToolCall) Arguments() string {
	if tc.FunctionCall == nil || strings.TrimSpace(tc.FunctionCall.Arguments) == "" {
		return "{}"
	}
	return tc.FunctionCall.Arguments
}

func (tc ToolCall) String() string {
	return fmt.Sprintf("ToolCall: %s (%s), input: %s", tc.ID, tc.Name(), tc.Arguments())
}

func (ToolCall) isPart() {}

// ToolCallResponse is the response returned by a tool call.
type ToolCallResponse struct {
	// ToolCallID is the ID of the tool call this response is for.
	ToolCallID string `json:"tool_call_id"`
	// Name is the name of the tool that was called.
	Name string `json:"name"`
	// Content is the textual content of the response.
	Content string `json:"content"`
	// IsError reports that the tool failed or could not be reached.
	IsError bool `json:"is_error,omitempty"`
}

func (tc ToolCallResponse) String() string {
	return fmt.Sprintf("ToolCallResponse: %s (%s), response size: %d, error: %t", tc.ToolCallID, tc.Name, len(tc.Content), tc.IsError)
}

func (ToolCallResponse) isPart() {}

// ContentResponse is the response returned by a GenerateContent call.
type ContentResponse struct {
	Choices []*ContentChoice
}

// ContentChoice is one of the response choices returned by GenerateContent calls.
type ContentChoice struct {
	// Content is the textual content of a response
	Content string `json:"content"`

	// StopReason is the reason the model stopped generating output.
	StopReason string `json:"stop_reason"`

	// GenerationInfo is arbitrary information the model adds to the response.
	// Token counters are reported as InputTokens, OutputTokens and TotalTokens.
	GenerationInfo map[string]any `json:"generation_info"`

	// ToolCalls is a list of tool calls the model asks to invoke.
	ToolCalls []ToolCall `json:"tool_calls"`
}

// Text returns the text of all choices joined by newlines.
func (r *ContentResponse) Text() string {
	if r == nil {
		return ""
	}
	var parts []string
	for _, c := range r.Choices {
		if c != nil && c.Content != "" {
			parts = append(parts, c.Content)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolCalls returns the tool calls of all choices in order.
func (r *ContentResponse) ToolCalls() []ToolCall {
	if r == nil {
		return nil
	}
	var calls []ToolCall
	for _, c := range r.Choices {
		if c != nil {
			calls = append(calls, c.ToolCalls...)
		}
	}
	return calls
}

// StopReason returns the first non-empty stop reason.
func (r *ContentResponse) StopReason() string {
	if r == nil {
		return ""
	}
	for _, c := range r.Choices {
		if c != nil && c.StopReason != "" {
			return c.StopReason
		}
	}
	return ""
}

// WantsTools reports whether the model stopped to use tools.
func (r *ContentResponse) WantsTools() bool {
	switch r.StopReason() {
	case StopReasonToolUse, StopReasonToolCalls:
		return true
	}
	return len(r.ToolCalls()) > 0
}

// MessageFromParts is a helper function to create a Message with a role and a
// list of parts.
func MessageFromParts(role Role, parts ...ContentPart) Message {
	return Message{
		Role:  role,
		Parts: parts,
	}
}

// MessageFromTextParts is a helper function to create a Message with a role and a
// list of text parts.
func MessageFromTextParts(role Role, parts ...string) Message {
	result := Message{
		Role:  role,
		Parts: make([]ContentPart, 0, len(parts)),
	}
	for _, part := range parts {
		result.Parts = append(result.Parts, TextPart(part))
	}
	return result
}

// MessageFromToolCalls is a helper function to create an AI Message with
// optional text and a list of tool calls.
func MessageFromToolCalls(text string, toolCalls ...ToolCall) Message {
	result := Message{
		Role:  RoleAI,
		Parts: make([]ContentPart, 0, len(toolCalls)+1),
	}
	if text != "" {
		result.Parts = append(result.Parts, TextPart(text))
	}
	for _, toolCall := range toolCalls {
		fc := &FunctionCall{Name: toolCall.Name(), Arguments: toolCall.Arguments()}
		result.Parts = append(result.Parts, ToolCall{
			ID:           toolCall.ID,
			Type:         toolCall.Type,
			FunctionCall: fc,
		})
	}
	return result
}

// MessageFromToolResponses is a helper function to create a single Human Message
// answering a set of tool calls.
func MessageFromToolResponses(responses ...ToolCallResponse) Message {
	result := Message{
		Role:  RoleHuman,
		Parts: make([]ContentPart, 0, len(responses)),
	}
	for _, r := range responses {
		result.Parts = append(result.Parts, r)
	}
	return result
}

// ToolCalls returns the tool call parts of the message.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range m.Parts {
		if tc, ok := p.(ToolCall); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// ToolResponses returns the tool response parts of the message.
func (m Message) ToolResponses() []ToolCallResponse {
	var res []ToolCallResponse
	for _, p := range m.Parts {
		if tr, ok := p.(ToolCallResponse); ok {
			res = append(res, tr)
		}
	}
	return res
}

// GetContent returns a printable rendering of the message.
func (m Message) GetContent() string {
	var buf strings.Builder
	lastNewLine := true
	for _, p := range m.Parts {
		if !lastNewLine {
			buf.WriteString("\n")
		}
		switch typ := p.(type) {
		case TextContent:
			buf.WriteString(typ.Text)
			lastNewLine = strings.HasSuffix(typ.Text, "\n")
		case ToolCall:
			buf.WriteString("Tool Call: ")
			js, _ := json.Marshal(typ)
			buf.Write(js)
			buf.WriteString("\n")
			lastNewLine = true
		case ToolCallResponse:
			buf.WriteString("Response: ")
			js, _ := json.Marshal(typ)
			buf.Write(js)
			buf.WriteString("\n")
			lastNewLine = true
		}
	}
	if !lastNewLine {
		buf.WriteString("\n")
	}
	return buf.String()
}

// ValidateToolPairing checks that every tool call in an AI message is answered
// one to one by the tool responses of the next message.
func ValidateToolPairing(messages []Message) error {
	for i, m := range messages {
		calls := m.ToolCalls()
		if len(calls) == 0 {
			continue
		}
		if i+1 >= len(messages) {
			// the last message may carry pending calls
			return nil
		}
		responses := messages[i+1].ToolResponses()
		if len(responses) != len(calls) {
			return errors.Newf("message %d: %d tool calls answered by %d responses", i, len(calls), len(responses))
		}
		ids := make(map[string]int, len(calls))
		for _, c := range calls {
			ids[c.ID]++
		}
		for _, r := range responses {
			if ids[r.ToolCallID] == 0 {
				return errors.Newf("message %d: unexpected tool response %q", i+1, r.ToolCallID)
			}
			ids[r.ToolCallID]--
		}
	}
	return nil
}
