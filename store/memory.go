package store

import (
	"context"
	"sort"
	"sync"

	"github.com/effective-security/mcpagent/chatmodel"
	"github.com/effective-security/mcpagent/pkg/llms"
)

type inMemory struct {
	mu      sync.RWMutex
	storage map[string][]llms.Message
}

// NewMemoryStore returns a store that lives as long as the process
func NewMemoryStore() MessageStore {
	return &inMemory{}
}

func (m *inMemory) Messages(ctx context.Context) ([]llms.Message, error) {
	chatID, err := chatmodel.GetChatID(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]llms.Message(nil), m.storage[chatID]...), nil
}

func (m *inMemory) Add(ctx context.Context, msgs ...llms.Message) error {
	chatID, err := chatmodel.GetChatID(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storage == nil {
		// create on first use
		m.storage = make(map[string][]llms.Message)
	}
	m.storage[chatID] = append(m.storage[chatID], msgs...)
	return nil
}

func (m *inMemory) Reset(ctx context.Context) error {
	chatID, err := chatmodel.GetChatID(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.storage, chatID)
	return nil
}

func (m *inMemory) ListChats(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]string, 0, len(m.storage))
	for id := range m.storage {
		list = append(list, id)
	}
	sort.Strings(list)
	return list, nil
}
