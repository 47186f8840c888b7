package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/storepilot/backend/internal/config"
)

func TestTaskTypeAutomation_Constant(t *testing.T) {
	if TaskTypeAutomation != "automation:process" {
		t.Errorf("TaskTypeAutomation = %q, expected %q", TaskTypeAutomation, "automation:process")
	}
}

func TestAutomationTask_JSONPayload(t *testing.T) {
	task := &AutomationTask{
		Kind:          TaskKindApply,
		ProjectID:     10,
		UserID:        3,
		PlaybookID:    "missing_seo_title",
		Rules:         json.RawMessage(`{"prefix":"Buy "}`),
		ScopeID:       "abc",
		RulesHash:     "def",
		UserConfirmed: true,
	}
	prepareTask(task)

	payload, err := json.Marshal(task)
	if err != nil {
		t.Fatal(err)
	}
	var decoded AutomationTask
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.ID == "" || decoded.ID != task.ID {
		t.Errorf("ID = %q, expected %q", decoded.ID, task.ID)
	}
	if decoded.EnqueuedAt.IsZero() {
		t.Error("EnqueuedAt should be set")
	}
	if string(decoded.Rules) != `{"prefix":"Buy "}` {
		t.Errorf("Rules = %s", decoded.Rules)
	}
	if !decoded.UserConfirmed || decoded.ScopeID != "abc" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestSyncQueue_IsAsync(t *testing.T) {
	queue := NewSyncQueue()
	if queue.IsAsync() {
		t.Error("SyncQueue.IsAsync() should return false")
	}
	if err := queue.Close(); err != nil {
		t.Errorf("SyncQueue.Close() should return nil, got %v", err)
	}
}

func TestSyncQueue_EnqueueWithoutProcessor(t *testing.T) {
	queue := NewSyncQueue()
	id, err := queue.Enqueue(context.Background(), &AutomationTask{Kind: TaskKindPreview, ProjectID: 1})
	if err != nil {
		t.Errorf("Enqueue without processor should not error, got %v", err)
	}
	if id == "" {
		t.Error("task id should be assigned")
	}
}

func TestSyncQueue_RunsProcessor(t *testing.T) {
	queue := NewSyncQueue()
	var calls atomic.Int32
	queue.SetProcessor(func(ctx context.Context, task *AutomationTask) error {
		calls.Add(1)
		if task.Kind == TaskKindApply {
			return errors.New("boom")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // request context ending must not cancel the task
	queue.Enqueue(ctx, &AutomationTask{Kind: TaskKindPreview})
	queue.Enqueue(ctx, &AutomationTask{Kind: TaskKindApply})
	queue.Wait()

	if calls.Load() != 2 {
		t.Errorf("processor calls = %d, expected 2", calls.Load())
	}
}

func TestAsyncQueue_IsAsync(t *testing.T) {
	queue := &AsyncQueue{}
	if !queue.IsAsync() {
		t.Error("AsyncQueue.IsAsync() should return true")
	}
}

func TestNewWorker_DisabledRedis(t *testing.T) {
	if w := NewWorker(&config.RedisConfig{Enabled: false}, 2); w != nil {
		t.Error("worker should be nil when Redis is disabled")
	}
}

func TestWorker_HandleAutomationTask(t *testing.T) {
	w := &Worker{}
	var got *AutomationTask
	w.SetProcessor(func(ctx context.Context, task *AutomationTask) error {
		got = task
		return nil
	})

	payload, _ := json.Marshal(&AutomationTask{ID: "t1", Kind: TaskKindPreview, ProjectID: 5})
	if err := w.handleAutomationTask(context.Background(), asynq.NewTask(TaskTypeAutomation, payload)); err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "t1" || got.ProjectID != 5 {
		t.Errorf("processor got %+v", got)
	}

	err := w.handleAutomationTask(context.Background(), asynq.NewTask(TaskTypeAutomation, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("malformed payload should skip retry, got %v", err)
	}
}
