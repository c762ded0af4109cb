package conversations

import (
	"context"
	"strings"

	"github.com/chainlens-core/server/internal/agent/model"
	logx "github.com/chainlens-core/server/pkg/logger"
)

type MessagesManager struct {
	conversationRepo model.ConversationRepository
	maxTurns         int
}

func NewMessagesManager(conversationRepo model.ConversationRepository, config model.ConversationConfig) *MessagesManager {
	return &MessagesManager{
		conversationRepo: conversationRepo,
		maxTurns:         config.MaxTurns,
	}
}

// BeginTurn loads the history of the conversation, then appends query as a
// user turn. The returned history excludes query.
func (cm *MessagesManager) BeginTurn(ctx context.Context, conversationID string, query string) ([]model.ConversationTurn, error) {
	history, err := cm.conversationRepo.History(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := cm.conversationRepo.Append(ctx, conversationID, model.ConversationTurn{Role: model.RoleUser, Content: query}); err != nil {
		return nil, err
	}
	return model.LastTurns(history, cm.maxTurns), nil
}

// SaveResponse stores the assistant turn. Blank replies are skipped.
func (cm *MessagesManager) SaveResponse(ctx context.Context, conversationID string, content string) error {
	if strings.TrimSpace(content) == "" {
		logx.Debug().Str("conversation_id", conversationID).Msg("Empty assistant response; not saved")
		return nil
	}
	return cm.conversationRepo.Append(ctx, conversationID, model.ConversationTurn{Role: model.RoleAssistant, Content: content})
}

// History returns the stored turns, oldest first.
func (cm *MessagesManager) History(ctx context.Context, conversationID string) ([]model.ConversationTurn, error) {
	return cm.conversationRepo.History(ctx, conversationID)
}
