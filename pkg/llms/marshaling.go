package llms

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// Part types used in the JSON form of a Message.
const (
	PartTypeText         = "text"
	PartTypeToolCall     = "tool_call"
	PartTypeToolResponse = "tool_response"
)

// contentPartJSON is the tagged JSON form of a ContentPart
type contentPartJSON struct {
	Type         string            `json:"type"`
	Text         string            `json:"text,omitempty"`
	ToolCall     *ToolCall         `json:"tool_call,omitempty"`
	ToolResponse *ToolCallResponse `json:"tool_response,omitempty"`
}

type messageJSON struct {
	Role  Role              `json:"role"`
	Text  string            `json:"text,omitempty"`
	Parts []contentPartJSON `json:"parts,omitempty"`
}

// MarshalJSON implements json.Marshaler for Message.
// A message with a single text part is written as {"role","text"}.
func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Parts) == 1 {
		if tp, ok := m.Parts[0].(TextContent); ok {
			return json.Marshal(messageJSON{Role: m.Role, Text: tp.Text})
		}
	}

	out := messageJSON{
		Role:  m.Role,
		Parts: make([]contentPartJSON, 0, len(m.Parts)),
	}
	for _, p := range m.Parts {
		switch typ := p.(type) {
		case TextContent:
			out.Parts = append(out.Parts, contentPartJSON{Type: PartTypeText, Text: typ.Text})
		case ToolCall:
			tc := typ
			out.Parts = append(out.Parts, contentPartJSON{Type: PartTypeToolCall, ToolCall: &tc})
		case ToolCallResponse:
			tr := typ
			out.Parts = append(out.Parts, contentPartJSON{Type: PartTypeToolResponse, ToolResponse: &tr})
		default:
			return nil, errors.Errorf("unsupported content part: %T", p)
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler for Message
func (m *Message) UnmarshalJSON(data []byte) error {
	var in messageJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	m.Role = in.Role
	m.Parts = nil
	if in.Text != "" {
		m.Parts = []ContentPart{TextContent{Text: in.Text}}
		return nil
	}

	for _, p := range in.Parts {
		switch p.Type {
		case PartTypeText, "":
			m.Parts = append(m.Parts, TextContent{Text: p.Text})
		case PartTypeToolCall:
			if p.ToolCall == nil {
				return errors.New("tool_call field is required for tool_call type")
			}
			m.Parts = append(m.Parts, *p.ToolCall)
		case PartTypeToolResponse:
			if p.ToolResponse == nil {
				return errors.New("tool_response field is required for tool_response type")
			}
			m.Parts = append(m.Parts, *p.ToolResponse)
		default:
			return errors.Errorf("unknown content part type: %s", p.Type)
		}
	}
	return nil
}
