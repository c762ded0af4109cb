package repo

import (
	"context"
	"sync"

	"github.com/chainlens-core/server/internal/agent/model"
)

// MemoryConversationRepository is used when REDIS_URL is not set and in tests.
type MemoryConversationRepository struct {
	mu       sync.RWMutex
	turns    map[string][]model.ConversationTurn
	maxTurns int
}

func NewMemoryConversationRepository(cfg model.ConversationConfig) *MemoryConversationRepository {
	return &MemoryConversationRepository{turns: map[string][]model.ConversationTurn{}, maxTurns: cfg.MaxTurns}
}

func (m *MemoryConversationRepository) Append(_ context.Context, conversationID string, turn model.ConversationTurn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	turns := append(m.turns[conversationID], turn)
	if m.maxTurns > 0 && len(turns) > m.maxTurns {
		turns = append([]model.ConversationTurn(nil), turns[len(turns)-m.maxTurns:]...)
	}
	m.turns[conversationID] = turns
	return nil
}

func (m *MemoryConversationRepository) History(_ context.Context, conversationID string) ([]model.ConversationTurn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.turns[conversationID]
	out := make([]model.ConversationTurn, len(src))
	copy(out, src)
	return out, nil
}

func (m *MemoryConversationRepository) Clear(_ context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.turns, conversationID)
	return nil
}

func (m *MemoryConversationRepository) Count(_ context.Context, conversationID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.turns[conversationID]), nil
}

var _ model.ConversationRepository = (*MemoryConversationRepository)(nil)
