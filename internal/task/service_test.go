package task

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSubmitGeneratesIDAndPublishes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	service := NewService(store, queue, 3)

	task, err := service.Submit(ctx, SubmitRequest{
		Question: "swap 1 S for USDC",
		Chain:    "sonic",
		Account:  "0x00000000000000000000000000000000000A11CE",
	})
	if err != nil {
		t.Fatalf("提交任务失败: %v", err)
	}
	if task.ID == "" {
		t.Fatal("期望自动生成任务 ID")
	}
	if task.Status != StatusPending || task.MaxRetries != 3 {
		t.Fatalf("任务初始状态错误: %+v", task)
	}

	select {
	case got := <-queue.ch:
		if got != task.ID {
			t.Fatalf("队列中的任务 ID 错误: %s", got)
		}
	default:
		t.Fatal("任务未入队")
	}
}

func TestSubmitIdempotentWithExplicitID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	service := NewService(store, queue, 3)

	first, err := service.Submit(ctx, SubmitRequest{ID: "fixed", Question: "stake 10 S"})
	if err != nil {
		t.Fatalf("首次提交失败: %v", err)
	}
	second, err := service.Submit(ctx, SubmitRequest{ID: "fixed", Question: "stake 10 S"})
	if err != nil {
		t.Fatalf("重复提交失败: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("重复提交应返回同一任务: %s vs %s", second.ID, first.ID)
	}

	count := 0
	for {
		select {
		case <-queue.ch:
			count++
			continue
		default:
		}
		break
	}
	if count != 1 {
		t.Fatalf("重复提交不应再次入队, 入队 %d 次", count)
	}
}

func TestSubmitRejectsEmptyQuestion(t *testing.T) {
	service := NewService(NewMemoryStore(), NewMemoryQueue(1), 3)
	if _, err := service.Submit(context.Background(), SubmitRequest{Question: "   "}); err == nil {
		t.Fatal("期望空问题被拒绝")
	}
}

func TestWaitUntilCompleted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	service := NewService(store, queue, 3)

	task, err := service.Submit(ctx, SubmitRequest{Question: "check balance"})
	if err != nil {
		t.Fatalf("提交任务失败: %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		if _, err := store.Claim(ctx, task.ID); err != nil {
			return
		}
		_ = store.MarkSucceeded(ctx, task.ID, ExecutionResult{Output: "balance is 5 S"})
	}()

	done, err := service.WaitUntilCompleted(ctx, task.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("等待任务完成失败: %v", err)
	}
	if done.Status != StatusSucceeded || done.Result == nil {
		t.Fatalf("任务未完成: %+v", done)
	}
}

func TestWaitUntilCompletedHonorsContext(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	service := NewService(store, queue, 3)

	task, err := service.Submit(context.Background(), SubmitRequest{Question: "never finishes"})
	if err != nil {
		t.Fatalf("提交任务失败: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := service.WaitUntilCompleted(ctx, task.ID, 10*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("期望超时错误, 得到 %v", err)
	}
}
