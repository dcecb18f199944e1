package llm

import (
	"context"
	"encoding/json"
)

// Role 表示对话消息的角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall 描述大模型请求执行的一次工具调用。
// Arguments 是模型给出的原始 JSON 负载，由上层解析与校验。
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message 表示对话中的一轮消息。tool 角色的消息必须携带
// ToolCallID，用于与触发它的助手消息关联。
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ParameterSpec 描述工具的单个参数。
type ParameterSpec struct {
	Name        string
	Type        string
	Required    bool
	Enum        []string
	Description string
}

// ToolSpec 是提供给大模型用于工具选择的声明式描述。
type ToolSpec struct {
	Name        string
	Description string
	Parameters  []ParameterSpec
}

// ChatRequest 描述一次补全请求：完整的有序消息历史与可用工具目录。
type ChatRequest struct {
	Messages []Message
	Tools    []ToolSpec
}

// ChatResponse 是大模型返回的助手消息。ToolCalls 为空时表示
// 模型给出了最终的自由文本回答。
type ChatResponse struct {
	Message Message
}

// Client 定义了调用大模型的统一接口。每一轮都重发完整历史。
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}
