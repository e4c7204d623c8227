package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"promptcut/config"
	"promptcut/logger"
)

var ErrQueueFull = errors.New("task queue is full")

// Finished task records are kept this long for the queue status endpoint.
const taskRetention = time.Hour

// Stage handlers get a little longer than STAGE_TIMEOUT so their own timeout
// fires first and is recorded on the job.
const timeoutGrace = 30 * time.Second

// Dispatcher delivers a task to its stage handler. A non-nil error means the
// delivery should be retried.
type Dispatcher interface {
	Dispatch(ctx context.Context, t *Task) error
}

type Manager struct {
	cfg            *config.Config
	tasks          sync.Map // More scalable than a mutex-protected map
	taskQueue      chan *Task
	concurrencySem chan struct{}
	dispatcher     Dispatcher
	now            func() time.Time
}

func NewManager(cfg *config.Config) *Manager {
	size := cfg.QueueSize
	if size <= 0 {
		size = 100
	}
	return &Manager{
		cfg:            cfg,
		taskQueue:      make(chan *Task, size), // Buffered queue
		concurrencySem: make(chan struct{}, cfg.MaxConcurrency),
		now:            time.Now,
	}
}

func (m *Manager) Start(ctx context.Context, d Dispatcher) {
	m.dispatcher = d
	logger.Infof("Task manager started. Concurrency limit: %d", m.cfg.MaxConcurrency)
	go m.cleanupLoop(ctx)
	go m.workerLoop(ctx)
}

// Enqueue schedules one delivery of jobID to the stage. It never blocks: a full
// queue is reported as ErrQueueFull.
func (m *Manager) Enqueue(ctx context.Context, stage Stage, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := &Task{
		ID:        fmt.Sprintf("%s_%d", shortuuid.New(), m.now().Unix()),
		Stage:     stage,
		JobID:     jobID,
		Status:    StatusQueued,
		CreatedAt: m.now(),
	}
	if err := m.push(t); err != nil {
		return err
	}
	logger.WithFields(logger.Fields{"task_id": t.ID, "job_id": jobID, "stage": stage}).Info("Task submitted to queue.")
	return nil
}

func (m *Manager) push(t *Task) error {
	m.tasks.Store(t.ID, t.snapshot())
	select {
	case m.taskQueue <- t:
		return nil
	default:
		m.tasks.Delete(t.ID)
		return fmt.Errorf("%w (%d pending)", ErrQueueFull, len(m.taskQueue))
	}
}

// workerLoop pulls tasks from the queue and processes them
func (m *Manager) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("Worker loop shutting down.")
			return
		case t := <-m.taskQueue:
			// Wait for a free processing slot
			select {
			case m.concurrencySem <- struct{}{}:
			case <-ctx.Done():
				logger.Info("Worker loop shutting down.")
				return
			}
			go func(t *Task) {
				defer func() { <-m.concurrencySem }() // Release slot
				m.processTask(ctx, t)
			}(t)
		}
	}
}

// processTask delivers a single task and schedules a redelivery on failure.
func (m *Manager) processTask(parentCtx context.Context, t *Task) {
	taskCtx, cancel := context.WithTimeout(parentCtx, m.cfg.StageTimeout+timeoutGrace)
	defer cancel()

	log := logger.WithFields(logger.Fields{"task_id": t.ID, "job_id": t.JobID, "stage": t.Stage})
	t.Attempt++
	t.Status = StatusProcessing
	t.StartedAt = m.now()
	m.tasks.Store(t.ID, t.snapshot())
	log.Debugf("Delivering task (attempt %d)", t.Attempt)

	err := m.dispatch(taskCtx, t)
	t.CompletedAt = m.now()
	if err == nil {
		t.Status = StatusCompleted
		t.Error = ""
		m.tasks.Store(t.ID, t.snapshot())
		log.Debug("Task delivered.")
		return
	}

	t.Error = err.Error()
	if t.Attempt >= m.cfg.QueueMaxAttempts || parentCtx.Err() != nil {
		t.Status = StatusFailed
		m.tasks.Store(t.ID, t.snapshot())
		log.Errorf("Task failed after %d attempts: %v", t.Attempt, err)
		return
	}

	t.Status = StatusRetrying
	m.tasks.Store(t.ID, t.snapshot())
	log.Warnf("Task delivery failed, retrying in %s: %v", m.cfg.QueueRetryDelay, err)
	time.AfterFunc(m.cfg.QueueRetryDelay, func() {
		if parentCtx.Err() != nil {
			return
		}
		t.Status = StatusQueued
		if err := m.push(t); err != nil {
			t.Status = StatusFailed
			m.tasks.Store(t.ID, t.snapshot())
			log.Errorf("Task could not be requeued: %v", err)
		}
	})
}

func (m *Manager) dispatch(ctx context.Context, t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatcher panic: %v", r)
		}
	}()
	return m.dispatcher.Dispatch(ctx, t.snapshot())
}

// cleanupLoop periodically forgets finished task records.
func (m *Manager) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(taskRetention / 4) // Check 4 times per lifetime
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Cleanup loop shutting down.")
			return
		case <-ticker.C:
			m.prune()
		}
	}
}

func (m *Manager) prune() {
	m.tasks.Range(func(key, value interface{}) bool {
		t := value.(*Task)
		if (t.Status == StatusCompleted || t.Status == StatusFailed) && m.now().Sub(t.CompletedAt) > taskRetention {
			m.tasks.Delete(key)
		}
		return true
	})
}

func (m *Manager) Get(taskID string) (*Task, bool) {
	if val, ok := m.tasks.Load(taskID); ok {
		return val.(*Task), true
	}
	return nil, false
}

// List returns the known tasks, oldest first, optionally only those of one job.
func (m *Manager) List(jobID string) []*Task {
	var taskList []*Task
	m.tasks.Range(func(key, value interface{}) bool {
		t := value.(*Task)
		if jobID == "" || t.JobID == jobID {
			taskList = append(taskList, t)
		}
		return true
	})
	sort.Slice(taskList, func(i, j int) bool {
		if taskList[i].CreatedAt.Equal(taskList[j].CreatedAt) {
			return taskList[i].ID < taskList[j].ID
		}
		return taskList[i].CreatedAt.Before(taskList[j].CreatedAt)
	})
	return taskList
}

// Pending reports how many tasks wait in the queue.
func (m *Manager) Pending() int {
	return len(m.taskQueue)
}
