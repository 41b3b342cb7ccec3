package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/panocam/internal/logging"
	"github.com/therealutkarshpriyadarshi/panocam/internal/stitch"
	"github.com/therealutkarshpriyadarshi/panocam/internal/storage"
	"github.com/therealutkarshpriyadarshi/panocam/pkg/models"
)

// lockTTL bounds how long a crashed worker can hold a source
const lockTTL = 2 * time.Hour

// Locker serializes work on one source directory across worker processes
type Locker interface {
	AcquireLock(ctx context.Context, resource string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, resource string) error
}

// Archiver uploads finished panoramas
type Archiver interface {
	UploadFile(ctx context.Context, objectName, filePath string, metadata map[string]string) error
}

// TaskStore persists stitch task state
type TaskStore interface {
	UpsertStitchTask(ctx context.Context, t *models.StitchTask) error
}

// Worker turns queued stitch jobs into stitch tasks and waits for each to
// finish. The stitch queue reports finished tasks through Worker.finished.
type Worker struct {
	logger *logging.Logger
	prober stitch.Prober
	queue  *stitch.Queue

	// optional, nil when the backing service is disabled
	locks   Locker
	archive Archiver
	store   TaskStore
	now     func() time.Time
	// timeout bounds the wait for one task; zero waits until ctx ends
	timeout time.Duration

	mu      sync.Mutex
	waiters map[string]chan models.StitchTask
}

// NewWorker creates a worker; set queue before handling jobs, with
// finished as its OnFinished option
func NewWorker(logger *logging.Logger, prober stitch.Prober) *Worker {
	return &Worker{
		logger:  logger.WithComponent("worker"),
		prober:  prober,
		now:     time.Now,
		waiters: make(map[string]chan models.StitchTask),
	}
}

// finished wakes the job waiting on task
func (w *Worker) finished(task models.StitchTask) {
	w.mu.Lock()
	ch, ok := w.waiters[task.ID]
	delete(w.waiters, task.ID)
	w.mu.Unlock()
	if ok {
		ch <- task
	}
}

func (w *Worker) wait(taskID string) chan models.StitchTask {
	ch := make(chan models.StitchTask, 1)
	w.mu.Lock()
	w.waiters[taskID] = ch
	w.mu.Unlock()
	return ch
}

func (w *Worker) forget(taskID string) {
	w.mu.Lock()
	delete(w.waiters, taskID)
	w.mu.Unlock()
}

// ProcessJob stitches one job and blocks until the task stops
func (w *Worker) ProcessJob(ctx context.Context, job *models.StitchJob, retryCount int) error {
	log := w.logger.WithTaskID(job.ID).WithField("source", job.SourcePath)

	if w.locks != nil {
		resource := "stitch:" + job.SourcePath
		ok, err := w.locks.AcquireLock(ctx, resource, lockTTL)
		if err != nil {
			return fmt.Errorf("failed to lock source: %w", err)
		}
		if !ok {
			return fmt.Errorf("source %s is being stitched by another worker", job.SourcePath)
		}
		defer func() {
			if err := w.locks.ReleaseLock(context.Background(), resource); err != nil {
				log.ErrorWithErr("Failed to release source lock", err)
			}
		}()
	}

	task, err := stitch.Prepare(ctx, w.prober, job.SourcePath)
	if err != nil {
		return err
	}
	// A retried job gets a fresh task ID; the queue never reuses one
	task.ID = job.ID
	if retryCount > 0 {
		task.ID = fmt.Sprintf("%s.%d", job.ID, retryCount)
	}
	task.Priority = job.Priority
	task.Bitrate = job.Bitrate

	id := task.ID
	done := w.wait(id)
	task, err = w.queue.Submit(task)
	if err != nil {
		w.forget(id)
		return err
	}
	w.persist(ctx, &task)

	if err := w.queue.Start(); err != nil {
		if !errors.Is(err, models.ErrPrecondition) {
			w.forget(id)
			return err
		}
		log.Info("Stitch worker busy, task queued")
	}

	log.Infof("Processing stitch job (attempt %d)", retryCount+1)

	waitCtx := ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	select {
	case task = <-done:
	case <-waitCtx.Done():
		w.forget(id)
		if err := ctx.Err(); err != nil {
			return err
		}
		return models.EngineError(-1, fmt.Sprintf("stitch of %s did not finish within %s", job.SourcePath, w.timeout))
	}
	w.persist(ctx, &task)

	if task.OutputPath == "" {
		return models.EngineError(-1, fmt.Sprintf("stitch of %s stopped without output", job.SourcePath))
	}

	if w.archive != nil {
		key := storage.ObjectKey("stitched", task.OutputPath, w.now())
		err := w.archive.UploadFile(ctx, key, task.OutputPath, map[string]string{
			"task-id": task.ID,
			"source":  job.SourcePath,
		})
		if err != nil {
			return fmt.Errorf("failed to archive %s: %w", task.OutputPath, err)
		}
		log.Infof("Archived panorama to %s", key)
	}

	log.Infof("Stitch job completed: %s", task.OutputPath)
	return nil
}

func (w *Worker) persist(ctx context.Context, task *models.StitchTask) {
	if w.store == nil {
		return
	}
	if err := w.store.UpsertStitchTask(ctx, task); err != nil {
		w.logger.WithTaskID(task.ID).ErrorWithErr("Failed to persist stitch task", err)
	}
}
