package task

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func newStoredTask(t *testing.T, store *MemoryStore, id, question string) *Task {
	t.Helper()
	task := &Task{
		ID:         id,
		Question:   question,
		Chain:      "sonic",
		Account:    "0x00000000000000000000000000000000000A11CE",
		Status:     StatusPending,
		MaxRetries: 3,
	}
	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}
	return task
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	newStoredTask(t, store, "t1", "swap 1 S for USDC")

	claimed, err := store.Claim(ctx, "t1")
	if err != nil {
		t.Fatalf("领取任务失败: %v", err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("领取后状态异常: %+v", claimed)
	}

	result := ExecutionResult{
		Output:       "TOOL CALL 1: executeSwapExactIn\nSwapped.",
		FinalComment: "Done.",
		Steps:        []StepRecord{{Tool: "executeSwapExactIn", Data: "Swapped."}},
		Turns:        2,
	}
	if err := store.MarkSucceeded(ctx, "t1", result); err != nil {
		t.Fatalf("标记成功失败: %v", err)
	}

	got, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("查询任务失败: %v", err)
	}
	if got.Status != StatusSucceeded {
		t.Fatalf("状态错误: %s", got.Status)
	}
	if got.Result == nil || got.Result.Turns != 2 || len(got.Result.Steps) != 1 {
		t.Fatalf("结果未持久化: %+v", got.Result)
	}

	if _, err := store.Claim(ctx, "t1"); !errors.Is(err, ErrTaskCompleted) {
		t.Fatalf("期望 ErrTaskCompleted, 得到 %v", err)
	}
}

func TestMemoryStoreCreateConflict(t *testing.T) {
	store := NewMemoryStore()
	newStoredTask(t, store, "dup", "first")
	err := store.Create(context.Background(), &Task{ID: "dup", Question: "second", MaxRetries: 3})
	if !errors.Is(err, ErrTaskConflict) {
		t.Fatalf("期望 ErrTaskConflict, 得到 %v", err)
	}
}

func TestMemoryStoreClaimExhausted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	newStoredTask(t, store, "t2", "stake")

	if _, err := store.Claim(ctx, "t2"); err != nil {
		t.Fatalf("第一次领取应成功: %v", err)
	}
	_ = store.MarkFailed(ctx, "t2", CodeTaskProcessing, "boom", false)
	if _, err := store.Claim(ctx, "t2"); err != nil {
		t.Fatalf("第二次领取应成功: %v", err)
	}
	_ = store.MarkFailed(ctx, "t2", CodeTaskProcessing, "boom", false)
	if _, err := store.Claim(ctx, "t2"); err != nil {
		t.Fatalf("第三次领取应成功: %v", err)
	}
	_ = store.MarkFailed(ctx, "t2", CodeTaskProcessing, "boom", false)
	if _, err := store.Claim(ctx, "t2"); !errors.Is(err, ErrTaskExhausted) {
		t.Fatalf("期望 ErrTaskExhausted, 得到 %v", err)
	}
}

func TestMemoryStoreTerminalFailureBlocksClaim(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	newStoredTask(t, store, "t3", "vote")

	if err := store.MarkFailed(ctx, "t3", CodeTaskProcessing, "no-op", true); err != nil {
		t.Fatalf("标记失败出错: %v", err)
	}
	if _, err := store.Claim(ctx, "t3"); !errors.Is(err, ErrTaskExhausted) {
		t.Fatalf("终态失败后不应可领取, 得到 %v", err)
	}
}

func TestMemoryStoreListFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for i := 0; i < 5; i++ {
		newStoredTask(t, store, fmt.Sprintf("task-%d", i), fmt.Sprintf("question %d", i))
	}
	if _, err := store.Claim(ctx, "task-0"); err != nil {
		t.Fatalf("领取任务失败: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "task-0", ExecutionResult{Output: "swapped wS for USDC"}); err != nil {
		t.Fatalf("标记成功失败: %v", err)
	}

	succeeded, err := store.List(ctx, ListOptions{Statuses: []Status{StatusSucceeded}})
	if err != nil {
		t.Fatalf("查询列表失败: %v", err)
	}
	if len(succeeded) != 1 || succeeded[0].ID != "task-0" {
		t.Fatalf("状态过滤结果错误: %+v", succeeded)
	}

	byQuery, err := store.List(ctx, ListOptions{Query: "wS for USDC"})
	if err != nil {
		t.Fatalf("查询列表失败: %v", err)
	}
	if len(byQuery) != 1 || byQuery[0].ID != "task-0" {
		t.Fatalf("模糊匹配结果错误: %+v", byQuery)
	}

	hasResult := true
	withResult, err := store.List(ctx, ListOptions{HasResult: &hasResult})
	if err != nil {
		t.Fatalf("查询列表失败: %v", err)
	}
	if len(withResult) != 1 {
		t.Fatalf("结果过滤错误: %d", len(withResult))
	}

	paged, err := store.List(ctx, ListOptions{Limit: 2, Offset: 2, Order: SortByUpdatedAsc})
	if err != nil {
		t.Fatalf("查询列表失败: %v", err)
	}
	if len(paged) != 2 {
		t.Fatalf("分页结果错误: %d", len(paged))
	}
}

func TestMemoryStoreStats(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	newStoredTask(t, store, "s1", "a")
	newStoredTask(t, store, "s2", "b")
	if _, err := store.Claim(ctx, "s1"); err != nil {
		t.Fatalf("领取任务失败: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "s1", ExecutionResult{Output: "done"}); err != nil {
		t.Fatalf("标记成功失败: %v", err)
	}

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("查询统计失败: %v", err)
	}
	if stats.Total != 2 || stats.Succeeded != 1 || stats.Pending != 1 {
		t.Fatalf("统计结果错误: %+v", stats)
	}
	if stats.NewestUpdatedAt == 0 || stats.OldestUpdatedAt == 0 {
		t.Fatalf("时间范围缺失: %+v", stats)
	}
}
