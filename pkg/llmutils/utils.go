package llmutils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/effective-security/toolmesh/pkg/llms"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/x/values"
)

// CleanJSON returns JSON by trimming prefixes and postfixes,
// as LLM can reply like,
// `Here you go: {json}`
func CleanJSON(bs []byte) []byte {
	trimmedPrefix := trimPrefixBeforeJSON(bs)
	trimmedJSON := trimPostfixAfterJSON(trimmedPrefix)
	return trimmedJSON
}

// Removes any prefixes before the JSON (like "Sure, here you go:")
func trimPrefixBeforeJSON(bs []byte) []byte {
	startObject := bytes.IndexByte(bs, '{')
	startArray := bytes.IndexByte(bs, '[')

	var start int
	if startObject == -1 && startArray == -1 {
		return bs
	} else if startObject == -1 {
		start = startArray
	} else if startArray == -1 {
		start = startObject
	} else {
		start = min(startObject, startArray)
	}

	return bs[start:]
}

// Removes any postfixes after the JSON
func trimPostfixAfterJSON(bs []byte) []byte {
	endObject := bytes.LastIndexByte(bs, '}')
	endArray := bytes.LastIndexByte(bs, ']')

	var end int
	if endObject == -1 && endArray == -1 {
		return bs
	} else if endObject == -1 {
		end = endArray
	} else if endArray == -1 {
		end = endObject
	} else {
		end = max(endObject, endArray)
	}

	return bs[:end+1]
}

// ToolArguments returns the tool call arguments as a JSON object,
// recovering from surrounding text the model may add.
func ToolArguments(args string) (json.RawMessage, bool) {
	args = strings.TrimSpace(args)
	if args == "" {
		return json.RawMessage(`{}`), true
	}
	if isJSONObject([]byte(args)) {
		return json.RawMessage(args), true
	}
	cleaned := CleanJSON([]byte(args))
	if isJSONObject(cleaned) {
		return json.RawMessage(cleaned), true
	}
	return nil, false
}

func isJSONObject(bs []byte) bool {
	var m map[string]any
	return json.Unmarshal(bs, &m) == nil
}

// Summarize returns a single line prefix of s, at most n bytes.
func Summarize(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	return slices.StringUpto(s, n)
}

// PrintMessages is a debugging helper for a conversation.
func PrintMessages(w io.Writer, msgs []llms.Message) {
	for _, mc := range msgs {
		fmt.Fprintf(w, "%s: ", strings.ToUpper(string(mc.Role)))
		for _, p := range mc.Parts {
			switch pp := p.(type) {
			case llms.TextContent:
				fmt.Fprintln(w, pp.Text)
			case llms.ToolCall:
				fmt.Fprintf(w, "ToolCall ID=%s, Type=%s, Func=%s(%s)\n", pp.ID, pp.Type, pp.Name(), pp.Arguments())
			case llms.ToolCallResponse:
				fmt.Fprintf(w, "ToolCallResponse ID=%s, Name=%s, IsError=%t, Content=%s\n", pp.ToolCallID, pp.Name, pp.IsError, pp.Content)
			}
		}
	}
}

// CountMessagesContentSize counts the size of the content in the messages
func CountMessagesContentSize(msgs []llms.Message) uint64 {
	var size uint64
	for _, mc := range msgs {
		size += uint64(len(mc.Role))
		for _, p := range mc.Parts {
			switch pp := p.(type) {
			case llms.TextContent:
				size += uint64(len(pp.Text))
			case llms.ToolCall:
				size += uint64(len(pp.ID))
				size += uint64(len(pp.Type))
				if pp.FunctionCall != nil {
					size += uint64(len(pp.FunctionCall.Name))
					size += uint64(len(pp.FunctionCall.Arguments))
				}
			case llms.ToolCallResponse:
				size += uint64(len(pp.ToolCallID))
				size += uint64(len(pp.Name))
				size += uint64(len(pp.Content))
			}
		}
	}
	return size
}

// CountResponseContentSize counts the size of the content in the content response
func CountResponseContentSize(resp *llms.ContentResponse) uint64 {
	var size uint64
	for _, choice := range resp.Choices {
		size += uint64(len(choice.Content))
		for _, toolCall := range choice.ToolCalls {
			size += uint64(len(toolCall.ID))
			size += uint64(len(toolCall.Type))
			if toolCall.FunctionCall != nil {
				size += uint64(len(toolCall.FunctionCall.Name))
				size += uint64(len(toolCall.FunctionCall.Arguments))
			}
		}
	}
	return size
}

// CountTokens returns the token counters reported in GenerationInfo.
// Adapters report the same usage on every choice of one response,
// so the first choice carrying counters is used.
func CountTokens(resp *llms.ContentResponse) (in, out, total int64) {
	if resp == nil {
		return
	}
	for _, choice := range resp.Choices {
		ma := values.MapAny(choice.GenerationInfo)
		in = ma.Int64("InputTokens")
		out = ma.Int64("OutputTokens")
		total = ma.Int64("TotalTokens")
		if in != 0 || out != 0 || total != 0 {
			break
		}
	}
	if total == 0 {
		total = in + out
	}
	return
}
