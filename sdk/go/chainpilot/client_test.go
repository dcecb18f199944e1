package chainpilot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAskSendsAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/ask" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if got := r.Header.Get(APIKeyHeader); got != "secret" {
			t.Fatalf("expected api key header, got %q", got)
		}
		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		if req.Question != "what is my balance?" {
			t.Fatalf("unexpected question: %q", req.Question)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Answer{Output: "Balance is 5 S.", Turns: 1})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, WithAPIKey("secret"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	answer, err := client.Ask(context.Background(), AskRequest{Question: "what is my balance?"})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if answer.Output != "Balance is 5 S." {
		t.Fatalf("unexpected answer: %+v", answer)
	}
}

func TestSubmitAndWaitForTask(t *testing.T) {
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/tasks":
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(Task{ID: "task-1", Status: "pending"})
		case "/api/v1/tasks/task-1":
			polls++
			status := "running"
			var result *ExecutionResult
			if polls >= 2 {
				status = StatusSucceeded
				result = &ExecutionResult{Output: "done", Turns: 1}
			}
			_ = json.NewEncoder(w).Encode(Task{ID: "task-1", Status: status, Result: result})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	created, err := client.SubmitTask(context.Background(), TaskSubmission{Question: "swap 1 S for USDC"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if created.ID != "task-1" {
		t.Fatalf("unexpected task id: %q", created.ID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done, err := client.WaitForTask(ctx, "task-1", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusSucceeded || done.Result == nil || done.Result.Output != "done" {
		t.Fatalf("unexpected final task: %+v", done)
	}
}

func TestGetTaskSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "task not found", "code": "TASK_NOT_FOUND"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.GetTask(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "TASK_NOT_FOUND" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestListTasksBuildsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("limit") != "5" || q.Get("status") != "pending,running" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]Task{{ID: "a"}, {ID: "b"}})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	results, err := client.ListTasks(context.Background(), 5, 0, "pending", "running")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("unexpected results: %d", len(results))
	}
}
