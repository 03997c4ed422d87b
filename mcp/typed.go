package mcp

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/pkg/schema"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

var validate = validator.New()

// RegisterFunc registers a tool whose arguments are decoded into T.
// The input schema is reflected from T; `validate` struct tags are enforced
// and a violation is reported as a failure result.
func RegisterFunc[T any](r *Registry, name, description string, fn func(ctx context.Context, args *T) (*ToolResult, error)) error {
	sc, err := schema.For[T]()
	if err != nil {
		return errors.WithMessagef(err, "tool %s", name)
	}

	handler := func(ctx context.Context, raw json.RawMessage) (*ToolResult, error) {
		args := new(T)
		if err := DecodeArguments(raw, args); err != nil {
			return NewErrorResult("invalid arguments: %s", err.Error()), nil
		}
		if err := validate.StructCtx(ctx, args); err != nil {
			return NewErrorResult("invalid arguments: %s", err.Error()), nil
		}
		return fn(ctx, args)
	}

	return r.Register(Tool{
		Name:        name,
		Description: description,
		InputSchema: sc.Parameters,
	}, handler)
}

// DecodeArguments decodes the JSON arguments of a call into v.
// Values are converted to the field types, so "3" decodes into an int field.
func DecodeArguments(raw json.RawMessage, v any) error {
	args := map[string]any{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &args); err != nil {
			return errors.Wrap(err, "arguments must be a JSON object")
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           v,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}
	if err = decoder.Decode(args); err != nil {
		return errors.Wrap(err, "failed to decode arguments")
	}
	return nil
}
