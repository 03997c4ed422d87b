// Package store persists agent conversations keyed by the chat ID carried
// in the context, see chatmodel.
package store

import (
	"context"

	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent", "store")

// MessageStore stores the conversation of the chat from the context.
// Methods return chatmodel.ErrInvalidChatContext when the context has no chat.
type MessageStore interface {
	// Messages returns the conversation in append order
	Messages(ctx context.Context) ([]llms.Message, error)
	// Add appends messages to the conversation
	Add(ctx context.Context, msgs ...llms.Message) error
	// Reset deletes the conversation
	Reset(ctx context.Context) error
	// ListChats returns the IDs of stored conversations
	ListChats(ctx context.Context) ([]string, error)
}
