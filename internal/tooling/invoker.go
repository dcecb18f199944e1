package tooling

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/llm"
)

// Invoker 负责安全地执行单次工具调用：解析、注入会话上下文、
// 调用实现并归类结果。对同一次调用，底层实现至多被执行一次，
// 链上提交不做任何自动重试。
type Invoker struct {
	registry *Registry
}

// NewInvoker 构造 Invoker。
func NewInvoker(registry *Registry) *Invoker {
	return &Invoker{registry: registry}
}

// Invoke 执行一次工具调用。所有失败（未知工具、参数非法、实现
// 返回失败、实现 panic）都被转换为失败的 Result，永远不会以
// 未捕获错误的形式冒出。
func (inv *Invoker) Invoke(ctx context.Context, call llm.ToolCall, session Session) Result {
	if inv == nil || inv.registry == nil {
		return Fail(xerrors.CodeInitialization, "tool invoker is not initialized")
	}

	tool, err := inv.registry.Lookup(call.Name)
	if err != nil {
		return Fail(xerrors.CodeUnknownTool, "unknown function %q", call.Name)
	}

	args, err := parseArguments(call.Arguments)
	if err != nil {
		return Fail(xerrors.CodeInvalidArgument, "invalid arguments for %s: %v", call.Name, err)
	}

	// 信任边界：链与钱包永远以会话的权威值为准，
	// 丢弃大模型给出的任何取值。
	if tool.declaresParam(ParamChain) {
		args[ParamChain] = session.Chain
	}
	if tool.declaresParam(ParamAccount) {
		args[ParamAccount] = session.Account
	}

	session.Notify(fmt.Sprintf("Calling %s...", tool.Name))

	return invokeSafely(ctx, tool, args, session)
}

// invokeSafely 调用实现并将 panic 兜底转换为失败结果。
func invokeSafely(ctx context.Context, tool *Tool, args Args, session Session) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Fail(xerrors.CodeUnknown, "%s failed: %v", tool.Name, r)
		}
	}()
	return tool.Handler(ctx, args, session)
}

// parseArguments 将原始 JSON 负载解析为参数表。空负载视为空参数。
func parseArguments(raw json.RawMessage) (Args, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return Args{}, nil
	}
	var args Args
	if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = Args{}
	}
	return args, nil
}
