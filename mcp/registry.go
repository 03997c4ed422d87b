package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/pkg/metricskey"
	"github.com/effective-security/xlog"
)

// ToolHandler executes a tool call.
// A returned error is reported to the caller as a failure result, not as a protocol error.
type ToolHandler func(ctx context.Context, arguments json.RawMessage) (*ToolResult, error)

type registeredTool struct {
	tool    Tool
	handler ToolHandler
}

// Registry maps tool names to descriptors and handlers.
// Tools are listed in registration order.
type Registry struct {
	mu        sync.RWMutex
	tools     []*registeredTool
	listeners []func()
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a tool.
// A name that is already registered is rejected with ErrToolExists.
func (r *Registry) Register(tool Tool, handler ToolHandler) error {
	if tool.Name == "" {
		return errors.New("tool name is required")
	}
	if handler == nil {
		return errors.Newf("tool %s: handler is required", tool.Name)
	}

	r.mu.Lock()
	if r.find(tool.Name) >= 0 {
		r.mu.Unlock()
		return errors.Wrapf(ErrToolExists, "%s", tool.Name)
	}
	r.tools = append(r.tools, &registeredTool{tool: tool, handler: handler})
	r.mu.Unlock()

	logger.KV(xlog.DEBUG, "status", "registered", "tool", tool.Name)
	r.notify()
	return nil
}

// Deregister removes a tool, so the name can be registered again
func (r *Registry) Deregister(name string) error {
	r.mu.Lock()
	idx := r.find(name)
	if idx < 0 {
		r.mu.Unlock()
		return errors.Wrapf(ErrToolNotFound, "%s", name)
	}
	r.tools = slices.Delete(r.tools, idx, idx+1)
	r.mu.Unlock()

	logger.KV(xlog.DEBUG, "status", "deregistered", "tool", name)
	r.notify()
	return nil
}

// OnChange adds a callback invoked after every Register and Deregister
func (r *Registry) OnChange(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Registry) notify() {
	r.mu.RLock()
	listeners := slices.Clone(r.listeners)
	r.mu.RUnlock()

	for _, fn := range listeners {
		fn()
	}
}

func (r *Registry) find(name string) int {
	return slices.IndexFunc(r.tools, func(t *registeredTool) bool {
		return t.tool.Name == name
	})
}

// List returns the registered tools in registration order
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		list = append(list, t.tool)
	}
	return list
}

// Lookup returns the descriptor of the tool
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if idx := r.find(name); idx >= 0 {
		return r.tools[idx].tool, true
	}
	return Tool{}, false
}

// Len returns the number of registered tools
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Dispatch invokes the handler of the named tool.
// An unknown name returns ErrToolNotFound. Handler failures, including panics,
// are returned as a failure result with a nil error.
func (r *Registry) Dispatch(ctx context.Context, name string, arguments json.RawMessage) (*ToolResult, error) {
	r.mu.RLock()
	var handler ToolHandler
	if idx := r.find(name); idx >= 0 {
		handler = r.tools[idx].handler
	}
	r.mu.RUnlock()

	if handler == nil {
		metricskey.StatsToolCallsNotFound.IncrCounter(1, name)
		return nil, errors.Wrapf(ErrToolNotFound, "%s", name)
	}

	defer metricskey.PerfToolCall.MeasureSince(time.Now(), name)

	result, err := invoke(ctx, handler, arguments)
	if err != nil {
		metricskey.StatsToolCallsFailed.IncrCounter(1, name)
		logger.ContextKV(ctx, xlog.DEBUG, "tool", name, "err", err.Error())
		return NewErrorResult("tool %s failed: %s", name, err.Error()), nil
	}
	if result == nil {
		result = NewToolResult()
	}
	if result.IsError {
		metricskey.StatsToolCallsFailed.IncrCounter(1, name)
	} else {
		metricskey.StatsToolCallsSucceeded.IncrCounter(1, name)
	}
	return result, nil
}

func invoke(ctx context.Context, handler ToolHandler, arguments json.RawMessage) (result *ToolResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf("panic: %s", fmt.Sprint(p))
		}
	}()
	return handler(ctx, arguments)
}
