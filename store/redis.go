package store

import (
	"context"
	"encoding/json"
	"path"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/chatmodel"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/xlog"
	"github.com/redis/go-redis/v9"
)

// The Redis store keeps one list of JSON encoded messages per chat.
// The keys namespace is organized as follows:
// - `<prefix>/chatstore/messages/<chatID>` list of messages
// - `<prefix>/chatstore/chats` set of chat IDs

// RedisOption configures the Redis store
type RedisOption func(*redisStore)

// WithMaxMessages keeps only the last n messages of a chat, 0 keeps all
func WithMaxMessages(n int) RedisOption {
	return func(s *redisStore) {
		s.maxMessages = n
	}
}

// WithTTL expires a chat after the period without updates, 0 never expires
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *redisStore) {
		s.ttl = ttl
	}
}

type redisStore struct {
	client      redis.UniversalClient
	prefix      string
	maxMessages int
	ttl         time.Duration
}

// NewRedisStore returns a store backed by Redis
func NewRedisStore(client redis.UniversalClient, prefix string, opts ...RedisOption) MessageStore {
	s := &redisStore{
		client: client,
		prefix: prefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (m *redisStore) messagesKey(chatID string) string {
	return path.Join(m.prefix, "chatstore", "messages", chatID)
}

func (m *redisStore) chatsKey() string {
	return path.Join(m.prefix, "chatstore", "chats")
}

func (m *redisStore) Messages(ctx context.Context) ([]llms.Message, error) {
	chatID, err := chatmodel.GetChatID(ctx)
	if err != nil {
		return nil, err
	}

	data, err := m.client.LRange(ctx, m.messagesKey(chatID), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get messages from Redis")
	}

	messages := make([]llms.Message, 0, len(data))
	for _, item := range data {
		var msg llms.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			logger.ContextKV(ctx, xlog.ERROR,
				"reason", "unmarshal",
				"chat_id", chatID,
				"err", err.Error())
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (m *redisStore) Add(ctx context.Context, msgs ...llms.Message) error {
	chatID, err := chatmodel.GetChatID(ctx)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	items := make([]any, 0, len(msgs))
	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal message")
		}
		items = append(items, data)
	}

	key := m.messagesKey(chatID)
	pipe := m.client.TxPipeline()
	pipe.RPush(ctx, key, items...)
	if m.maxMessages > 0 {
		pipe.LTrim(ctx, key, int64(-m.maxMessages), -1)
	}
	if m.ttl > 0 {
		pipe.Expire(ctx, key, m.ttl)
	}
	pipe.SAdd(ctx, m.chatsKey(), chatID)
	if _, err = pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to store message in Redis")
	}
	return nil
}

func (m *redisStore) Reset(ctx context.Context) error {
	chatID, err := chatmodel.GetChatID(ctx)
	if err != nil {
		return err
	}

	pipe := m.client.TxPipeline()
	pipe.Del(ctx, m.messagesKey(chatID))
	pipe.SRem(ctx, m.chatsKey(), chatID)
	if _, err = pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to reset chat in Redis")
	}
	return nil
}

// ListChats returns the chats with stored messages.
// Chats whose messages expired are removed from the set.
func (m *redisStore) ListChats(ctx context.Context) ([]string, error) {
	chatIDs, err := m.client.SMembers(ctx, m.chatsKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to list chats from Redis")
	}

	var list []string
	for _, id := range chatIDs {
		n, err := m.client.Exists(ctx, m.messagesKey(id)).Result()
		if err != nil {
			return nil, errors.Wrap(err, "failed to check chat in Redis")
		}
		if n == 0 {
			m.client.SRem(ctx, m.chatsKey(), id)
			continue
		}
		list = append(list, id)
	}
	sort.Strings(list)
	return list, nil
}
