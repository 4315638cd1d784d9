package journal

import (
	"context"
	"sync"
)

// Memory keeps exchanges in process. Useful for tests and single-instance
// deployments that only need history across session eviction.
type Memory struct {
	mu    sync.RWMutex
	max   int
	byKey map[string][]Exchange
}

// NewMemory returns an in-memory journal keeping at most max exchanges per
// conversation (0 keeps all).
func NewMemory(max int) *Memory {
	return &Memory{max: max, byKey: make(map[string][]Exchange)}
}

func (m *Memory) Record(_ context.Context, ex Exchange) error {
	ex = Stamp(ex)
	ex.Attachments = append([]string(nil), ex.Attachments...)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byKey == nil {
		m.byKey = make(map[string][]Exchange)
	}
	list := append(m.byKey[ex.ConversationID], ex)
	if m.max > 0 && len(list) > m.max {
		list = append([]Exchange(nil), list[len(list)-m.max:]...)
	}
	m.byKey[ex.ConversationID] = list
	return nil
}

func (m *Memory) Recent(_ context.Context, conversationID string, limit int) ([]Exchange, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.byKey[conversationID]
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	return append([]Exchange(nil), list...), nil
}

func (m *Memory) Close() error { return nil }
