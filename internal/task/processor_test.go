package task

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"ChainPilot/internal/agent"
	xerrors "ChainPilot/internal/errors"
)

type stubRunner struct {
	processed atomic.Int32
	latency   time.Duration
	answer    *agent.Answer
	err       error
}

func (s *stubRunner) Ask(ctx context.Context, q agent.Question) (*agent.Answer, error) {
	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.processed.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	if s.answer != nil {
		return s.answer, nil
	}
	return &agent.Answer{
		Output:       "TOOL CALL 1: checkBalance\nBalance is 5 S.",
		Steps:        []agent.StepResult{{ToolName: "checkBalance", Data: "Balance is 5 S."}},
		FinalComment: "Done.",
		Turns:        2,
	}, nil
}

func TestProcessorHandlesConcurrentTasks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	runner := &stubRunner{latency: 10 * time.Millisecond}

	service := NewService(store, queue, 3)
	processor := NewProcessor(runner, store, queue, queue, WithWorkerCount(8))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 200
	for i := 0; i < total; i++ {
		question := fmt.Sprintf("question-%d", i)
		if _, err := service.Submit(ctx, SubmitRequest{Question: question}); err != nil {
			t.Fatalf("提交任务失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		if int(runner.processed.Load()) >= total {
			cancel()
			break
		}
		select {
		case <-deadline:
			t.Fatalf("任务未能及时处理，已完成 %d", runner.processed.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestHandleRecordsSuccessfulAnswer(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	runner := &stubRunner{}
	processor := NewProcessor(runner, store, queue, queue)

	service := NewService(store, queue, 3)
	task, err := service.Submit(ctx, SubmitRequest{Question: "check balance", Chain: "sonic"})
	if err != nil {
		t.Fatalf("提交任务失败: %v", err)
	}

	if err := processor.Handle(ctx, task.ID); err != nil {
		t.Fatalf("处理任务失败: %v", err)
	}

	got, err := store.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("查询任务失败: %v", err)
	}
	if got.Status != StatusSucceeded {
		t.Fatalf("状态错误: %s", got.Status)
	}
	if got.Result == nil || got.Result.Turns != 2 || len(got.Result.Steps) != 1 {
		t.Fatalf("结果未记录: %+v", got.Result)
	}
	if got.Result.Steps[0].Tool != "checkBalance" {
		t.Fatalf("步骤记录错误: %+v", got.Result.Steps)
	}
}

func TestHandleSessionFailureIsTerminal(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	runner := &stubRunner{answer: &agent.Answer{
		Output:    "Could not identify any operations to perform.",
		Failed:    true,
		ErrorKind: xerrors.CodeNoOperation,
		Turns:     1,
	}}
	processor := NewProcessor(runner, store, queue, queue)

	service := NewService(store, queue, 3)
	task, err := service.Submit(ctx, SubmitRequest{Question: "hello"})
	if err != nil {
		t.Fatalf("提交任务失败: %v", err)
	}
	// 模拟消费者取走 Submit 入队的消息后再回调 Handle。
	<-queue.ch

	if err := processor.Handle(ctx, task.ID); err != nil {
		t.Fatalf("处理任务失败: %v", err)
	}

	got, err := store.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("查询任务失败: %v", err)
	}
	if got.Status != StatusFailed {
		t.Fatalf("状态错误: %s", got.Status)
	}
	if got.ErrorCode != string(xerrors.CodeNoOperation) {
		t.Fatalf("错误码错误: %s", got.ErrorCode)
	}
	if got.LastError != "Could not identify any operations to perform." {
		t.Fatalf("失败文案错误: %s", got.LastError)
	}
	if _, err := store.Claim(ctx, task.ID); !errors.Is(err, ErrTaskExhausted) {
		t.Fatalf("会话失败应为终态, Claim 得到 %v", err)
	}
	select {
	case id := <-queue.ch:
		t.Fatalf("会话失败不应重投队列, 发现 %s", id)
	default:
	}
}

func TestHandleRetriesInfrastructureError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	runner := &stubRunner{err: xerrors.New(xerrors.CodeUpstreamFailure, "大模型推理失败")}
	processor := NewProcessor(runner, store, queue, queue)

	service := NewService(store, queue, 3)
	task, err := service.Submit(ctx, SubmitRequest{Question: "swap"})
	if err != nil {
		t.Fatalf("提交任务失败: %v", err)
	}

	if err := processor.Handle(ctx, task.ID); err != nil {
		t.Fatalf("处理任务失败: %v", err)
	}

	got, err := store.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("查询任务失败: %v", err)
	}
	if got.Status != StatusFailed || got.Attempts != 1 {
		t.Fatalf("重试前状态错误: %+v", got)
	}

	requeued := false
	for i := 0; i < 2; i++ {
		select {
		case id := <-queue.ch:
			if id == task.ID {
				requeued = true
			}
		default:
		}
	}
	if !requeued {
		t.Fatal("可重试错误应重投队列")
	}
}

func TestHandleSkipsCompletedTask(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	runner := &stubRunner{}
	processor := NewProcessor(runner, store, queue, queue)

	service := NewService(store, queue, 3)
	task, err := service.Submit(ctx, SubmitRequest{Question: "done already"})
	if err != nil {
		t.Fatalf("提交任务失败: %v", err)
	}
	if _, err := store.Claim(ctx, task.ID); err != nil {
		t.Fatalf("领取任务失败: %v", err)
	}
	if err := store.MarkSucceeded(ctx, task.ID, ExecutionResult{Output: "ok"}); err != nil {
		t.Fatalf("标记成功失败: %v", err)
	}

	if err := processor.Handle(ctx, task.ID); err != nil {
		t.Fatalf("已完成任务应被跳过: %v", err)
	}
	if runner.processed.Load() != 0 {
		t.Fatal("已完成任务不应再次执行")
	}
}
