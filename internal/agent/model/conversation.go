package model

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one message of the chronological, append-only history.
type ConversationTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// MentionedVisualization is a prior artifact the user refers to. Read-only.
type MentionedVisualization struct {
	VisualizationID string `json:"visualization_id"`
	PNGPath         string `json:"png_path"`
	JSONData        string `json:"json_data"`
	FilePath        string `json:"file_path"`
}

// LastTurns returns the trailing n turns in their original order.
// n <= 0 returns the full history.
func LastTurns(turns []ConversationTurn, n int) []ConversationTurn {
	if n <= 0 || len(turns) <= n {
		out := make([]ConversationTurn, len(turns))
		copy(out, turns)
		return out
	}
	src := turns[len(turns)-n:]
	out := make([]ConversationTurn, len(src))
	copy(out, src)
	return out
}

// ToMessages converts turns to eino messages, keeping order.
func ToMessages(turns []ConversationTurn) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case RoleUser:
			msgs = append(msgs, schema.UserMessage(t.Content))
		case RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(t.Content, nil))
		}
	}
	return msgs
}

// TurnsFromMessages keeps only user and assistant messages with content.
func TurnsFromMessages(msgs []*schema.Message) []ConversationTurn {
	turns := make([]ConversationTurn, 0, len(msgs))
	for _, m := range msgs {
		if m == nil || m.Content == "" {
			continue
		}
		switch m.Role {
		case schema.User:
			turns = append(turns, ConversationTurn{Role: RoleUser, Content: m.Content})
		case schema.Assistant:
			turns = append(turns, ConversationTurn{Role: RoleAssistant, Content: m.Content})
		}
	}
	return turns
}

// ConversationRepository stores the chronological history of a conversation.
// Turns are never reordered or deduplicated.
type ConversationRepository interface {
	// Append adds a turn at the end of the history.
	Append(ctx context.Context, conversationID string, turn ConversationTurn) error
	// History returns all stored turns in insertion order.
	History(ctx context.Context, conversationID string) ([]ConversationTurn, error)
	Clear(ctx context.Context, conversationID string) error
	Count(ctx context.Context, conversationID string) (int, error)
}
