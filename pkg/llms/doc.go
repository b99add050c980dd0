// Package llms is the provider-neutral boundary between the orchestrator and model APIs.
//
// A conversation is a slice of Message values. Each Message carries parts from a
// closed set: TextContent, ToolCall (requested by the model) and ToolCallResponse
// (the result of a tool call, sent back in the next human turn).
//
// Subpackages adapt vendor SDKs to the Model interface.
package llms
