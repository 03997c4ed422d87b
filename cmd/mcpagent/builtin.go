package main

import (
	"context"
	"strconv"
	"time"

	"github.com/effective-security/mcpagent/mcp"
)

type echoArgs struct {
	Message string `json:"message" jsonschema:"description=Message to echo" validate:"required"`
}

type addArgs struct {
	A float64 `json:"a" jsonschema:"description=First number"`
	B float64 `json:"b" jsonschema:"description=Second number"`
}

type sleepArgs struct {
	Duration string `json:"duration" jsonschema:"description=Duration to wait such as 2s" validate:"required"`
}

// newBuiltinRegistry returns a registry with the built-in tools
func newBuiltinRegistry() (*mcp.Registry, error) {
	reg := mcp.NewRegistry()
	if err := mcp.RegisterFunc(reg, "echo", "Echoes the message back", echo); err != nil {
		return nil, err
	}
	if err := mcp.RegisterFunc(reg, "add", "Adds two numbers", add); err != nil {
		return nil, err
	}
	if err := mcp.RegisterFunc(reg, "sleep", "Waits for the duration", sleep); err != nil {
		return nil, err
	}
	return reg, nil
}

func echo(_ context.Context, args *echoArgs) (*mcp.ToolResult, error) {
	return mcp.NewTextResult(args.Message), nil
}

func add(_ context.Context, args *addArgs) (*mcp.ToolResult, error) {
	return mcp.NewTextResult(strconv.FormatFloat(args.A+args.B, 'f', -1, 64)), nil
}

func sleep(ctx context.Context, args *sleepArgs) (*mcp.ToolResult, error) {
	d, err := time.ParseDuration(args.Duration)
	if err != nil {
		return mcp.NewErrorResult("invalid duration: %s", args.Duration), nil
	}
	select {
	case <-time.After(d):
		return mcp.NewTextResult("slept " + d.String()), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
