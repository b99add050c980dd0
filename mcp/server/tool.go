package server

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/bububa/ljson"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolmesh/mcp/protocol"
	"github.com/effective-security/toolmesh/pkg/schema"
	"github.com/go-playground/validator/v10"
)

// ToolDefinition pairs a declared tool with its handler.
type ToolDefinition struct {
	Tool    protocol.Tool
	Handler Handler
}

// TypedHandler is a handler with decoded arguments.
type TypedHandler[T any] func(ctx context.Context, in *T) (*protocol.CallToolResult, error)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// AddTool returns a tool definition whose input schema is reflected from T.
// Arguments are decoded into T and checked with its `validate` tags before fn is called.
// Decoding is lenient: arguments written by a model often quote numbers and booleans.
func AddTool[T any](name, description string, fn TypedHandler[T]) (ToolDefinition, error) {
	s, err := schema.For[T]()
	if err != nil {
		return ToolDefinition{}, err
	}

	h := func(ctx context.Context, args json.RawMessage) (*protocol.CallToolResult, error) {
		in := new(T)
		if err := ljson.Unmarshal(args, in); err != nil {
			return protocol.ErrorResult("invalid arguments for %s: %s", name, err.Error()), nil
		}
		if err := validate.Struct(in); err != nil {
			return protocol.ErrorResult("invalid arguments for %s: %s", name, describeValidation(err)), nil
		}
		return fn(ctx, in)
	}

	return ToolDefinition{
		Tool: protocol.Tool{
			Name:        name,
			Description: description,
			InputSchema: s.JSON(),
		},
		Handler: h,
	}, nil
}

// MustAddTool is AddTool that panics on a schema error.
func MustAddTool[T any](name, description string, fn TypedHandler[T]) ToolDefinition {
	d, err := AddTool(name, description, fn)
	if err != nil {
		panic(err)
	}
	return d
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
