// Package llmtest provides a scripted chat model for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ChatModel replays Replies in order, or delegates to Respond when set.
// Every input and bound tool list is recorded.
type ChatModel struct {
	Replies []*schema.Message
	Respond func(call int, input []*schema.Message) (*schema.Message, error)

	mu    sync.Mutex
	calls [][]*schema.Message
	tools []*schema.ToolInfo
}

func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	call := len(m.calls)
	m.calls = append(m.calls, input)
	respond := m.Respond
	var reply *schema.Message
	if call < len(m.Replies) {
		reply = m.Replies[call]
	}
	m.mu.Unlock()

	if respond != nil {
		return respond(call, input)
	}
	if reply == nil {
		return nil, fmt.Errorf("llmtest: no reply scripted for call %d", call)
	}
	return reply, nil
}

func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *ChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.mu.Lock()
	m.tools = tools
	m.mu.Unlock()
	return m, nil
}

// Calls returns the recorded inputs, one entry per Generate call.
func (m *ChatModel) Calls() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]*schema.Message, len(m.calls))
	copy(out, m.calls)
	return out
}

// Tools returns the tools bound by the last WithTools call.
func (m *ChatModel) Tools() []*schema.ToolInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tools
}

// ToolCalls builds an assistant message requesting the given calls.
// Each pair is name, raw JSON arguments.
func ToolCalls(pairs ...string) *schema.Message {
	var calls []schema.ToolCall
	for i := 0; i+1 < len(pairs); i += 2 {
		calls = append(calls, schema.ToolCall{
			ID:       fmt.Sprintf("call_%d", i/2+1),
			Type:     "function",
			Function: schema.FunctionCall{Name: pairs[i], Arguments: pairs[i+1]},
		})
	}
	return schema.AssistantMessage("", calls)
}

// LastUserText returns the content of the last user message of input.
func LastUserText(input []*schema.Message) string {
	for i := len(input) - 1; i >= 0; i-- {
		if input[i] != nil && input[i].Role == schema.User {
			if input[i].Content != "" {
				return input[i].Content
			}
			for _, p := range input[i].MultiContent {
				if p.Type == schema.ChatMessagePartTypeText {
					return p.Text
				}
			}
		}
	}
	return ""
}

var _ model.ToolCallingChatModel = (*ChatModel)(nil)
