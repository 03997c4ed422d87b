// Package chatmodel carries the chat identity of an agent conversation
// through context.Context.
package chatmodel

import (
	"context"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xdb/pkg/flake"
	"github.com/google/uuid"
)

// ErrInvalidChatContext is returned when the context has no chat context
var ErrInvalidChatContext = errors.New("invalid chat context")

// ChatContext identifies the conversation a run belongs to.
// Conversations are persisted by chat ID.
type ChatContext interface {
	GetChatID() string
	// RunID is unique per ChatContext instance
	RunID() string
	// GetMetadata retrieves metadata by key
	GetMetadata(key string) (value any, ok bool)
	// SetMetadata sets metadata by key
	SetMetadata(key string, value any)
}

type chatContext struct {
	chatID   string
	runID    string
	metadata sync.Map
}

func (c *chatContext) GetChatID() string {
	return c.chatID
}

func (c *chatContext) RunID() string {
	return c.runID
}

func (c *chatContext) GetMetadata(key string) (value any, ok bool) {
	return c.metadata.Load(key)
}

func (c *chatContext) SetMetadata(key string, value any) {
	c.metadata.Store(key, value)
}

// NewChatContext returns a chat context, a new chat ID is generated if empty
func NewChatContext(chatID string) ChatContext {
	return &chatContext{
		chatID: values.StringsCoalesce(chatID, NewChatID()),
		runID:  uuid.NewString(),
	}
}

type contextKey int

const (
	keyContext contextKey = iota
)

// WithChatContext returns a new context with ChatContext value
func WithChatContext(ctx context.Context, chatCtx ChatContext) context.Context {
	return context.WithValue(ctx, keyContext, chatCtx)
}

// GetChatContext retrieves the ChatContext from the context
func GetChatContext(ctx context.Context) ChatContext {
	if v, ok := ctx.Value(keyContext).(ChatContext); ok {
		return v
	}
	return nil
}

// EnsureChatContext returns the context and its ChatContext,
// a new ChatContext is attached if the context has none.
func EnsureChatContext(ctx context.Context) (context.Context, ChatContext) {
	if c := GetChatContext(ctx); c != nil {
		return ctx, c
	}
	c := NewChatContext("")
	return WithChatContext(ctx, c), c
}

// GetChatID retrieves the chat ID from the context
func GetChatID(ctx context.Context) (string, error) {
	c := GetChatContext(ctx)
	if c == nil || c.GetChatID() == "" {
		return "", ErrInvalidChatContext
	}
	return c.GetChatID(), nil
}

// NewChatID generates a new chat ID using the flake ID generator.
func NewChatID() string {
	return strconv.FormatUint(flake.DefaultIDGenerator.NextID(), 10)
}
