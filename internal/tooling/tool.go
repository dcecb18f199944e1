package tooling

import (
	"context"
	"fmt"
	"sort"
	"strings"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/llm"
)

// 会话上下文中被强制覆盖的参数名。大模型可以选择调用哪个工具、
// 传哪些业务参数，但永远不能决定链与钱包。
const (
	ParamChain   = "chain"
	ParamAccount = "account"
)

// Args 是解析后的工具参数。
type Args map[string]any

// String 返回字符串参数，缺失或类型不符时返回空串。
func (a Args) String(key string) string {
	if a == nil {
		return ""
	}
	value, _ := a[key].(string)
	return strings.TrimSpace(value)
}

// Bool 返回布尔参数。
func (a Args) Bool(key string) bool {
	if a == nil {
		return false
	}
	value, _ := a[key].(bool)
	return value
}

// Result 描述一次工具调用的结果。OK=false 对整个会话回合是终止性的。
type Result struct {
	OK   bool
	Data string
	Code xerrors.Code
}

// Ok 构造成功结果。
func Ok(data string) Result {
	return Result{OK: true, Data: data}
}

// Fail 构造失败结果。
func Fail(code xerrors.Code, format string, args ...any) Result {
	return Result{OK: false, Code: code, Data: fmt.Sprintf(format, args...)}
}

// Notifier 将进度消息以 fire-and-forget 的方式发送给终端用户。
// 实现必须保持消息顺序，且不得阻塞调用方。
type Notifier interface {
	Notify(message string)
}

// Session 携带一次提问的权威上下文：链、钱包地址与通知通道。
type Session struct {
	Chain    string
	Account  string
	Notifier Notifier
}

// Notify 发送一条进度通知，未配置通知器时静默丢弃。
func (s Session) Notify(message string) {
	if s.Notifier == nil {
		return
	}
	s.Notifier.Notify(message)
}

// Handler 执行工具的业务逻辑。实现应始终返回结构化结果而不是
// panic；invoker 会兜底捕获 panic，但那只是安全网。
type Handler func(ctx context.Context, args Args, session Session) Result

// Tool 描述一个可被大模型调用的远程操作。进程启动时静态注册，
// 生命周期内不可变。
type Tool struct {
	Name        string
	Description string
	Parameters  []llm.ParameterSpec
	Handler     Handler
}

// Spec 返回提供给大模型的声明式描述。
func (t *Tool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  t.Parameters,
	}
}

// declaresParam 判断工具是否声明了指定参数。
func (t *Tool) declaresParam(name string) bool {
	for _, param := range t.Parameters {
		if param.Name == name {
			return true
		}
	}
	return false
}

// Registry 是进程级只读的工具目录。通过显式注册构建，
// 查找失败返回统一错误而不是做任何模糊匹配。
type Registry struct {
	tools map[string]*Tool
}

// NewRegistry 创建空的工具目录。
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register 注册一个工具。名称冲突或缺少处理函数视为编程错误。
func (r *Registry) Register(tool *Tool) error {
	if tool == nil || strings.TrimSpace(tool.Name) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "工具名称不能为空")
	}
	if tool.Handler == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("工具 %s 缺少处理函数", tool.Name))
	}
	if _, ok := r.tools[tool.Name]; ok {
		return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("工具 %s 已注册", tool.Name))
	}
	r.tools[tool.Name] = tool
	return nil
}

// MustRegister 批量注册工具，冲突时 panic。仅用于启动阶段。
func (r *Registry) MustRegister(tools ...*Tool) {
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			panic(err)
		}
	}
}

// Lookup 按名称解析工具。未注册的名称返回 UNKNOWN_TOOL。
func (r *Registry) Lookup(name string) (*Tool, error) {
	if r == nil {
		return nil, xerrors.New(xerrors.CodeInitialization, "工具目录未初始化")
	}
	tool, ok := r.tools[name]
	if !ok {
		return nil, xerrors.New(xerrors.CodeUnknownTool, fmt.Sprintf("unknown function %q", name))
	}
	return tool, nil
}

// Specs 返回所有工具的声明，按名称排序以保证稳定输出。
func (r *Registry) Specs() []llm.ToolSpec {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	specs := make([]llm.ToolSpec, 0, len(names))
	for _, name := range names {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}

// Names 返回已注册的工具名称列表。
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
