package agent

import (
	"context"
	"fmt"
	"strings"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/llm"
	"ChainPilot/internal/tooling"
)

// defaultMaxTurns 限制单次会话的大模型轮数，防止模型
// 永远不停地请求工具调用。
const defaultMaxTurns = 10

const defaultSystemPrompt = "" +
	"You are ChainPilot, an assistant that operates DeFi protocols on EVM chains " +
	"on behalf of the user. Use the provided tools to answer the question. " +
	"Never fabricate on-chain data: every claim must be backed by a tool result. " +
	"When all required operations are done, reply with a short closing comment."

// noOperationMessage 是零工具调用会话的固定失败文案。
const noOperationMessage = "Could not identify any operations to perform."

// Question 描述一次用户提问及其权威会话上下文。Chain 与 Account
// 由调用方（API 或任务处理器）从进程配置注入，绝不来自大模型。
type Question struct {
	Text    string
	Chain   string
	Account string
}

// StepResult 记录一次已执行的工具调用结果，用于最终渲染。
type StepResult struct {
	ToolName string `json:"tool_name"`
	Data     string `json:"data"`
}

// Answer 汇总一次会话的最终结果。Failed=true 时 Output 是单条
// 失败文案；否则 Output 是按执行顺序拼接的带标签结果块。
type Answer struct {
	Output       string       `json:"output"`
	Steps        []StepResult `json:"steps,omitempty"`
	FinalComment string       `json:"final_comment,omitempty"`
	Failed       bool         `json:"failed"`
	ErrorKind    xerrors.Code `json:"error_kind,omitempty"`
	Turns        int          `json:"turns"`
}

// Loop 是工具调用会话的状态机：反复询问大模型、顺序执行其请求的
// 工具调用、把结果追加回对话，直到模型停止请求工具或触达轮数上限。
type Loop struct {
	llmClient    llm.Client
	registry     *tooling.Registry
	invoker      *tooling.Invoker
	notifier     tooling.Notifier
	maxTurns     int
	systemPrompt string
}

// Option 定义可选的 Loop 配置。
type Option func(*Loop)

// WithMaxTurns 设置会话的最大大模型轮数。
func WithMaxTurns(turns int) Option {
	return func(l *Loop) {
		if turns > 0 {
			l.maxTurns = turns
		}
	}
}

// WithSystemPrompt 覆盖默认的 system 提示词。
func WithSystemPrompt(prompt string) Option {
	return func(l *Loop) {
		if strings.TrimSpace(prompt) != "" {
			l.systemPrompt = prompt
		}
	}
}

// WithNotifier 配置进度通知通道。
func WithNotifier(notifier tooling.Notifier) Option {
	return func(l *Loop) {
		l.notifier = notifier
	}
}

// NewLoop 构造会话状态机。
func NewLoop(llmClient llm.Client, registry *tooling.Registry, opts ...Option) *Loop {
	l := &Loop{
		llmClient:    llmClient,
		registry:     registry,
		invoker:      tooling.NewInvoker(registry),
		maxTurns:     defaultMaxTurns,
		systemPrompt: defaultSystemPrompt,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Ask 运行一次完整的会话。会话级失败（失败的工具结果、零工具调用、
// 轮数超限）以 Failed=true 的 Answer 返回；大模型提供方本身的错误
// 作为 error 向上传播，本层不做重试。
func (l *Loop) Ask(ctx context.Context, q Question) (*Answer, error) {
	if l.llmClient == nil {
		return nil, xerrors.New(xerrors.CodeInitialization, "未配置大模型客户端")
	}
	if strings.TrimSpace(q.Text) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "问题不能为空")
	}

	session := tooling.Session{
		Chain:    q.Chain,
		Account:  q.Account,
		Notifier: l.notifier,
	}

	conv := NewConversation(l.systemPrompt, q.Text)
	specs := l.registry.Specs()

	var steps []StepResult
	for turn := 1; turn <= l.maxTurns; turn++ {
		resp, err := l.llmClient.Chat(ctx, llm.ChatRequest{
			Messages: conv.Messages(),
			Tools:    specs,
		})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "大模型推理失败")
		}
		conv.Append(resp.Message)

		// 无工具调用：有证据则结束，否则判定为未识别出任何操作。
		if len(resp.Message.ToolCalls) == 0 {
			if len(steps) == 0 {
				return &Answer{
					Output:    noOperationMessage,
					Failed:    true,
					ErrorKind: xerrors.CodeNoOperation,
					Turns:     turn,
				}, nil
			}
			return &Answer{
				Output:       render(steps, resp.Message.Content),
				Steps:        steps,
				FinalComment: strings.TrimSpace(resp.Message.Content),
				Turns:        turn,
			}, nil
		}

		// 顺序执行本批工具调用：后面的调用可能依赖前面调用改写的
		// 链上状态（例如先授权后兑换），绝不并发。
		for _, call := range resp.Message.ToolCalls {
			result := l.invoker.Invoke(ctx, call, session)
			conv.AppendToolResult(call, result.Data)
			if !result.OK {
				// 首个失败即短路：放弃本批剩余调用，
				// 失败文案原样作为会话结果。
				return &Answer{
					Output:    result.Data,
					Steps:     steps,
					Failed:    true,
					ErrorKind: failureKind(result.Code),
					Turns:     turn,
				}, nil
			}
			steps = append(steps, StepResult{ToolName: call.Name, Data: result.Data})
		}
	}

	return &Answer{
		Output:    fmt.Sprintf("Aborted after %d turns without a final answer.", l.maxTurns),
		Steps:     steps,
		Failed:    true,
		ErrorKind: xerrors.CodeTurnLimit,
		Turns:     l.maxTurns,
	}, nil
}

// render 按执行顺序拼接带标签的结果块，并在结尾附上助手的总结。
func render(steps []StepResult, finalComment string) string {
	parts := make([]string, 0, len(steps)+1)
	for i, step := range steps {
		parts = append(parts, fmt.Sprintf("TOOL CALL %d: %s\n%s", i+1, step.ToolName, step.Data))
	}
	if comment := strings.TrimSpace(finalComment); comment != "" {
		parts = append(parts, "ASSISTANT FINAL COMMENT\n"+comment)
	}
	return strings.Join(parts, "\n")
}

// failureKind 把工具结果携带的错误码归一化为会话级错误码。
func failureKind(code xerrors.Code) xerrors.Code {
	if code == "" {
		return xerrors.CodeUnknown
	}
	return code
}
