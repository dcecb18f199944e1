package agent

import (
	"ChainPilot/internal/llm"
)

// Conversation 维护一次会话的有序消息日志。消息只追加，
// 永远不会被删除或重排；前两条固定为 system 与 user。
type Conversation struct {
	messages []llm.Message
}

// NewConversation 以 system 提示词和用户问题初始化消息日志。
func NewConversation(systemPrompt, question string) *Conversation {
	return &Conversation{
		messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: question},
		},
	}
}

// Append 追加一条消息。
func (c *Conversation) Append(msg llm.Message) {
	c.messages = append(c.messages, msg)
}

// AppendToolResult 追加一条与指定调用关联的 tool 角色消息。
func (c *Conversation) AppendToolResult(call llm.ToolCall, payload string) {
	c.Append(llm.Message{
		Role:       llm.RoleTool,
		Content:    payload,
		ToolCallID: call.ID,
		ToolName:   call.Name,
	})
}

// Messages 返回发送给大模型的完整有序消息列表。
// 不做任何截断或窗口化，返回副本以防止调用方篡改日志。
func (c *Conversation) Messages() []llm.Message {
	out := make([]llm.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len 返回当前消息数量。
func (c *Conversation) Len() int {
	return len(c.messages)
}
