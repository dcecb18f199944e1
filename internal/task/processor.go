package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"ChainPilot/internal/agent"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/observability/alerting"
	"ChainPilot/pkg/logger"
)

// Runner 定义了处理器所需的智能体能力。
type Runner interface {
	Ask(ctx context.Context, q agent.Question) (*agent.Answer, error)
}

// Processor 负责从队列消费任务并交给智能体执行。
//
// 失败分两类处理：会话级失败（Answer.Failed）说明问题本身无法完成，
// 直接落终态不再重试；基础设施错误（Go error）按错误码的可重试属性
// 决定是否重投队列。
type Processor struct {
	runner      Runner
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	recovery    RecoveryHandler
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRecoveryHandler 配置失败补偿策略。
func WithRecoveryHandler(handler RecoveryHandler) ProcessorOption {
	return func(p *Processor) {
		p.recovery = handler
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(runner Runner, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		runner:      runner,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动任务处理循环，阻塞到 ctx 取消。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitialization, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.Handle)
}

// Handle 处理单个任务 ID，是队列回调入口。
func (p *Processor) Handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.runner == nil {
		return xerrors.New(xerrors.CodeInitialization, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, taskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrTaskCompleted) || stdErrors.Is(err, ErrTaskExhausted) || stdErrors.Is(err, ErrTaskConflict) {
			p.logDebug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		p.emitAlert(ctx, &Task{ID: taskID}, CodeTaskProcessing, err, "claim")
		return err
	}

	answer, runErr := p.runner.Ask(ctx, agent.Question{
		Text:    task.Question,
		Chain:   task.Chain,
		Account: task.Account,
	})
	if runErr != nil {
		return p.handleRunnerError(ctx, task, runErr)
	}
	if answer != nil && answer.Failed {
		return p.handleSessionFailure(ctx, task, answer)
	}

	var record ExecutionResult
	if answer != nil {
		record = answerToResult(answer)
	}
	if err := p.store.MarkSucceeded(ctx, task.ID, record); err != nil {
		logger.L().Error("标记任务成功状态失败", slog.Any("error", err), slog.String("task_id", task.ID))
		if storeErr := p.store.MarkFailed(ctx, task.ID, CodeTaskProcessing, err.Error(), false); storeErr != nil {
			logger.L().Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("task_id", task.ID))
			return storeErr
		}
		if pubErr := p.producer.Publish(ctx, task.ID); pubErr != nil {
			return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 在标记成功失败后重投失败", task.ID))
		}
		return nil
	}
	logger.Audit().Info("任务执行成功",
		slog.String("task_id", task.ID),
		slog.String("question", task.Question),
		slog.String("chain", task.Chain),
		slog.Int("turns", record.Turns),
		slog.Int("steps", len(record.Steps)),
	)
	return nil
}

// handleSessionFailure 处理会话级失败。这类失败意味着对问题本身的
// 回答已有结论（失败文案），重试不会改变结果，直接落终态。
func (p *Processor) handleSessionFailure(ctx context.Context, task *Task, answer *agent.Answer) error {
	code := answer.ErrorKind
	if code == "" {
		code = CodeTaskProcessing
	}
	if storeErr := p.store.MarkFailed(ctx, task.ID, code, answer.Output, true); storeErr != nil {
		logger.L().Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("task_id", task.ID))
		return storeErr
	}
	logger.Audit().Warn("任务会话失败",
		slog.String("task_id", task.ID),
		slog.String("question", task.Question),
		slog.String("error_code", string(code)),
		slog.String("output", answer.Output),
		slog.Int("turns", answer.Turns),
	)
	p.emitAlert(ctx, task, code, stdErrors.New(answer.Output), "session")
	return nil
}

// handleRunnerError 处理基础设施错误，按错误码属性决定重试。
func (p *Processor) handleRunnerError(ctx context.Context, task *Task, runErr error) error {
	code := xerrors.CodeOf(runErr)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	retryable := xerrors.RetryableError(runErr)
	terminal := task.Attempts >= task.MaxRetries || !retryable

	if !retryable && p.recovery != nil {
		if fallback, recErr := p.recovery.Recover(ctx, task, runErr); recErr != nil {
			logger.L().Error("执行补偿逻辑失败",
				slog.Any("error", recErr),
				slog.String("task_id", task.ID))
			p.emitAlert(ctx, task, code, recErr, "compensate")
		} else if fallback != nil {
			if fallback.Output == "" {
				fallback.Output = fmt.Sprintf("降级处理: %v", runErr)
			}
			if err := p.store.MarkSucceeded(ctx, task.ID, *fallback); err != nil {
				logger.L().Error("记录降级结果失败", slog.Any("error", err), slog.String("task_id", task.ID))
				if storeErr := p.store.MarkFailed(ctx, task.ID, code, err.Error(), false); storeErr != nil {
					return storeErr
				}
				if pubErr := p.producer.Publish(ctx, task.ID); pubErr != nil {
					return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 在降级失败后重投失败", task.ID))
				}
				return nil
			}
			logger.Audit().Warn("任务降级完成",
				slog.String("task_id", task.ID),
				slog.String("question", task.Question),
				slog.String("output", fallback.Output),
			)
			p.emitAlert(ctx, task, code, runErr, "degraded")
			return nil
		}
	}

	if storeErr := p.store.MarkFailed(ctx, task.ID, code, runErr.Error(), terminal); storeErr != nil {
		logger.L().Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("task_id", task.ID))
		return storeErr
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", task.ID),
		slog.String("question", task.Question),
		slog.Bool("terminal", terminal),
		slog.String("error", runErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_retries", task.MaxRetries),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
	} else if !retryable {
		stage = "non_retryable"
	}
	p.emitAlert(ctx, task, code, runErr, stage)

	if retryable && !terminal {
		if pubErr := p.producer.Publish(ctx, task.ID); pubErr != nil {
			return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 重投失败", task.ID))
		}
		p.logDebug("任务已重新排队", slog.String("task_id", task.ID), slog.Int("attempts", task.Attempts))
	}
	return nil
}

func answerToResult(answer *agent.Answer) ExecutionResult {
	steps := make([]StepRecord, 0, len(answer.Steps))
	for _, step := range answer.Steps {
		steps = append(steps, StepRecord{Tool: step.ToolName, Data: step.Data})
	}
	if len(steps) == 0 {
		steps = nil
	}
	return ExecutionResult{
		Output:       answer.Output,
		FinalComment: answer.FinalComment,
		Steps:        steps,
		Turns:        answer.Turns,
	}
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, task *Task, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || task == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	metadata := map[string]string{
		"stage": stage,
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		TaskID:     task.ID,
		Chain:      task.Chain,
		Account:    task.Account,
		Attempts:   task.Attempts,
		MaxRetries: task.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("task_id", task.ID),
			slog.String("stage", stage),
		)
	}
}
