package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/storepilot/backend/internal/config"
	"github.com/storepilot/backend/pkg/logger"
)

const (
	TaskTypeAutomation = "automation:process"
)

// Automation task kinds
const (
	TaskKindPreview = "preview"
	TaskKindApply   = "apply"
)

// AutomationTask is the job payload for a background preview or apply. It is
// handled by the same engine code as the synchronous endpoints.
type AutomationTask struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	ProjectID     uint            `json:"project_id"`
	UserID        uint            `json:"user_id"`
	PlaybookID    string          `json:"playbook_id"`
	Rules         json.RawMessage `json:"rules,omitempty"`
	SampleSize    int             `json:"sample_size,omitempty"`
	ScopeID       string          `json:"scope_id,omitempty"`
	RulesHash     string          `json:"rules_hash,omitempty"`
	UserConfirmed bool            `json:"user_confirmed"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
}

// TaskProcessor handles one automation task.
type TaskProcessor func(context.Context, *AutomationTask) error

// TaskQueue defines the interface for automation task processing
type TaskQueue interface {
	// Enqueue adds a task to the queue and returns its id
	Enqueue(ctx context.Context, task *AutomationTask) (string, error)
	// IsAsync returns true if queue processes tasks asynchronously
	IsAsync() bool
	// Close gracefully shuts down the queue
	Close() error
}

// Global task queue instance
var (
	globalTaskQueue TaskQueue
	taskQueueOnce   sync.Once
)

// InitTaskQueue initializes the global task queue based on config
func InitTaskQueue(cfg *config.Config) TaskQueue {
	taskQueueOnce.Do(func() {
		if cfg.Redis.Enabled {
			queue, err := NewAsyncQueue(&cfg.Redis)
			if err != nil {
				logger.Warnf("[TaskQueue] Redis unavailable, falling back to sync mode: %v", err)
				globalTaskQueue = NewSyncQueue()
			} else {
				logger.Infof("[TaskQueue] Async queue initialized with Redis at %s", cfg.Redis.Addr)
				globalTaskQueue = queue
			}
		} else {
			logger.Infof("[TaskQueue] Sync queue initialized (Redis disabled)")
			globalTaskQueue = NewSyncQueue()
		}
	})
	return globalTaskQueue
}

// GetTaskQueue returns the global task queue instance
func GetTaskQueue() TaskQueue {
	return globalTaskQueue
}

func prepareTask(task *AutomationTask) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
}

func redisOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// AsyncQueue implements TaskQueue using asynq (Redis-based)
type AsyncQueue struct {
	client *asynq.Client
}

// NewAsyncQueue creates a new Redis-based async queue
func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	opt := redisOpt(cfg)
	client := asynq.NewClient(opt)

	inspector := asynq.NewInspector(opt)
	defer inspector.Close()

	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client}, nil
}

// Enqueue adds an automation task to the async queue
func (q *AsyncQueue) Enqueue(ctx context.Context, task *AutomationTask) (string, error) {
	prepareTask(task)
	payload, err := json.Marshal(task)
	if err != nil {
		return "", err
	}

	// Applies are not retried: a half-finished apply is reported, not repeated.
	retries := 3
	if task.Kind == TaskKindApply {
		retries = 0
	}

	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeAutomation, payload),
		asynq.TaskID(task.ID),
		asynq.Queue("default"),
		asynq.MaxRetry(retries),
	)
	if err != nil {
		return "", err
	}

	tasksEnqueuedTotal.WithLabelValues(task.Kind, "async").Inc()
	logger.Infof("[AsyncQueue] Task enqueued: id=%s, kind=%s, queue=%s", info.ID, task.Kind, info.Queue)
	return info.ID, nil
}

// IsAsync returns true for async queue
func (q *AsyncQueue) IsAsync() bool {
	return true
}

// Close closes the async queue client
func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// SyncQueue implements TaskQueue in-process (no Redis)
type SyncQueue struct {
	processor TaskProcessor
	wg        sync.WaitGroup
}

// NewSyncQueue creates a new synchronous queue
func NewSyncQueue() *SyncQueue {
	return &SyncQueue{}
}

// SetProcessor sets the function to process tasks
func (q *SyncQueue) SetProcessor(processor TaskProcessor) {
	q.processor = processor
}

// Enqueue processes the task in a background goroutine so the caller is not
// blocked. The request context is not propagated; the task outlives it.
func (q *SyncQueue) Enqueue(_ context.Context, task *AutomationTask) (string, error) {
	prepareTask(task)
	if q.processor == nil {
		logger.Warnf("[SyncQueue] No processor set, task %s dropped", task.ID)
		return task.ID, nil
	}

	tasksEnqueuedTotal.WithLabelValues(task.Kind, "sync").Inc()
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if err := q.processor(context.Background(), task); err != nil {
			logger.Errorf("[SyncQueue] Task %s (%s) failed: %v", task.ID, task.Kind, err)
		}
	}()

	return task.ID, nil
}

// Wait blocks until every enqueued task has finished.
func (q *SyncQueue) Wait() {
	q.wg.Wait()
}

// IsAsync returns false for sync queue
func (q *SyncQueue) IsAsync() bool {
	return false
}

// Close waits for in-flight tasks
func (q *SyncQueue) Close() error {
	q.wg.Wait()
	return nil
}
