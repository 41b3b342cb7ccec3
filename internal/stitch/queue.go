// Package stitch queues unstitched recordings for the stitch worker, which
// runs at most one task at a time.
package stitch

import (
	"container/heap"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/panocam/internal/engine"
	"github.com/therealutkarshpriyadarshi/panocam/internal/logging"
	"github.com/therealutkarshpriyadarshi/panocam/internal/metrics"
	"github.com/therealutkarshpriyadarshi/panocam/internal/session"
	"github.com/therealutkarshpriyadarshi/panocam/pkg/models"
)

// Session receives the queue's busy flag
type Session interface {
	SetStitching(busy bool)
}

// Options configures a Queue
type Options struct {
	// AutoAdvance starts the next queued task once the current one stops
	AutoAdvance bool
	// OnFinished receives every task that stops, with OutputPath set when
	// the stitched file exists. It is called outside the queue lock.
	OnFinished func(task models.StitchTask)
	Now        func() time.Time
}

// Status is a snapshot of the queue
type Status struct {
	Busy    bool                `json:"busy"`
	Current *models.StitchTask  `json:"current,omitempty"`
	Queued  []models.StitchTask `json:"queued"`
}

// Queue holds pending stitch tasks and drives the worker through them
type Queue struct {
	worker   engine.StitchWorker
	session  Session
	notifier session.Notifier
	logger   *logging.Logger
	opts     Options

	mu          sync.Mutex
	pending     *taskHeap
	tasks       map[string]*item
	current     *item
	dispatching bool
	busy        bool
	seq         uint64
	// set once the current task reports stopped / finishes deleting lens files
	stopped bool
	deleted bool
	// finished tasks not yet handed to OnFinished
	finished []models.StitchTask
}

// New creates a Queue and registers it as the worker's listener
func New(worker engine.StitchWorker, sess Session, notifier session.Notifier, logger *logging.Logger, opts Options) *Queue {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if notifier == nil {
		notifier = session.Discard
	}
	q := &Queue{
		worker:   worker,
		session:  sess,
		notifier: notifier,
		logger:   logger.WithComponent(string(models.SourceStitch)),
		opts:     opts,
		pending:  &taskHeap{},
		tasks:    make(map[string]*item),
	}
	heap.Init(q.pending)
	worker.SetListener(listener{q})
	return q
}

// Submit appends a task. It never starts the worker.
func (q *Queue) Submit(task models.StitchTask) (models.StitchTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if task.SourcePath == "" {
		return models.StitchTask{}, &models.Error{Kind: models.KindValidation, Message: "stitch source path is empty"}
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if _, ok := q.tasks[task.ID]; ok {
		return models.StitchTask{}, models.Precondition("stitch task %s already submitted", task.ID)
	}
	task.State = models.StitchQueued
	task.ProgressPercent = 0
	task.OutputPath = ""
	task.CreatedAt = q.opts.Now()

	it := &item{task: &task, seq: q.seq}
	q.seq++
	q.tasks[task.ID] = it
	heap.Push(q.pending, it)

	metrics.RecordStitchSubmitted(priorityName(task.Priority))
	metrics.UpdateStitchMetrics(q.busy, q.pending.Len())
	q.logger.WithTaskID(task.ID).WithFields(map[string]interface{}{
		"source":   task.SourcePath,
		"priority": task.Priority,
		"output":   task.OutputDims.String(),
	}).Info("Stitch task queued")
	q.emitLocked(models.Event{Kind: models.EventStitchState, TaskID: task.ID, State: string(task.State)})
	return task, nil
}

// Start resumes the paused current task, or else dispatches the head of the
// queue. Starting while a task runs is a precondition violation; starting an
// empty queue does nothing.
func (q *Queue) Start() error {
	defer q.flush()
	q.mu.Lock()
	if q.dispatching || (q.current != nil && q.current.task.State == models.StitchRunning) {
		q.mu.Unlock()
		return models.Precondition("a stitch task is already running")
	}
	if q.current != nil && q.current.task.State == models.StitchStopped {
		q.finalizeLocked()
	}

	it := q.current
	resumed := it != nil
	if it == nil {
		if q.pending.Len() == 0 {
			q.mu.Unlock()
			return nil
		}
		it = heap.Pop(q.pending).(*item)
		q.current = it
		q.stopped, q.deleted = false, false
	}
	prev := it.task.State
	it.task.State = models.StitchRunning
	q.dispatching = true
	task := *it.task
	q.mu.Unlock()

	// The worker may call back synchronously, so it is never called under mu.
	err := q.worker.Start(task)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.dispatching = false
	log := q.logger.WithTaskID(task.ID)

	if err != nil {
		if q.current == it {
			it.task.State = prev
			if !resumed {
				q.current = nil
				heap.Push(q.pending, it)
			}
		}
		e := models.EngineError(-1, err.Error())
		metrics.RecordError(string(models.SourceStitch), string(e.Kind))
		log.ErrorWithErr("Failed to start stitch task", err)
		q.emitLocked(models.Event{Kind: models.EventError, TaskID: task.ID, Message: e.Message, Err: e})
		return e
	}

	if q.current == it && it.task.State == models.StitchRunning {
		q.setBusyLocked(true)
	}
	if resumed {
		log.Infof("Stitch task resumed at %.1f%%", task.ProgressPercent)
	} else {
		log.Info("Stitch task started")
	}
	return nil
}

// Pause asks the worker to suspend the running task. The task stays current
// and is resumed by the next Start.
func (q *Queue) Pause() error {
	q.mu.Lock()
	if q.dispatching || q.current == nil || q.current.task.State != models.StitchRunning {
		q.mu.Unlock()
		return models.Precondition("no stitch task is running")
	}
	id := q.current.task.ID
	q.mu.Unlock()

	if err := q.worker.Pause(id); err != nil {
		q.logger.WithTaskID(id).ErrorWithErr("Failed to pause stitch task", err)
		return models.EngineError(-1, err.Error())
	}
	return nil
}

// Task returns a submitted task by ID
func (q *Queue) Task(id string) (models.StitchTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.tasks[id]
	if !ok {
		return models.StitchTask{}, false
	}
	return *it.task, true
}

// Status returns the current task and the queued ones in dispatch order
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := Status{Busy: q.busy, Queued: make([]models.StitchTask, 0, q.pending.Len())}
	if q.current != nil {
		t := *q.current.task
		st.Current = &t
	}
	ordered := append(taskHeap(nil), (*q.pending)...)
	sort.Slice(ordered, ordered.Less)
	for _, it := range ordered {
		st.Queued = append(st.Queued, *it.task)
	}
	return st
}

func (q *Queue) onProgress(id string, percent float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.tasks[id]
	if !ok {
		return
	}

	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}
	if percent < it.task.ProgressPercent {
		return
	}
	it.task.ProgressPercent = percent

	metrics.UpdateStitchProgress(id, percent, false)
	q.logger.LogStitchProgress(id, percent, string(it.task.State))
	q.emitLocked(models.Event{Kind: models.EventStitchProgress, TaskID: id, Progress: percent})
}

func (q *Queue) onState(id string, state models.StitchState) {
	advance := false
	defer func() {
		q.flush()
		if advance {
			q.advance()
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.tasks[id]
	if !ok {
		return
	}

	q.logger.LogStateChange(string(models.SourceStitch), string(it.task.State), string(state))
	it.task.State = state
	q.emitLocked(models.Event{Kind: models.EventStitchState, TaskID: id, State: string(state), Progress: it.task.ProgressPercent})

	switch state {
	case models.StitchRunning:
		q.setBusyLocked(true)
	case models.StitchPaused:
		q.setBusyLocked(false)
	case models.StitchStopped:
		q.setBusyLocked(false)
		if q.current == it {
			q.stopped = true
			if q.deleted {
				advance = q.finalizeLocked()
			}
		}
	}
}

func (q *Queue) onDeleteFinish(id string) {
	advance := false
	defer func() {
		q.flush()
		if advance {
			q.advance()
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil || q.current.task.ID != id {
		return
	}
	q.deleted = true
	if q.stopped {
		advance = q.finalizeLocked()
	}
}

// finalizeLocked reports the outcome of the stopped current task and reports
// whether the next task should be started.
func (q *Queue) finalizeLocked() bool {
	it := q.current
	q.current = nil
	q.stopped, q.deleted = false, false

	task := it.task
	log := q.logger.WithTaskID(task.ID)
	out := OutputPath(task.SourcePath)
	if _, err := os.Stat(out); err == nil {
		task.OutputPath = out
		metrics.RecordStitchFinished("completed")
		log.Infof("Stitch task completed: %s", out)
		q.emitLocked(models.Event{Kind: models.EventStitchCompleted, TaskID: task.ID, Path: out, Progress: task.ProgressPercent})
	} else {
		metrics.RecordStitchFinished("finished")
		log.Warn("Stitch task stopped without output")
		q.emitLocked(models.Event{Kind: models.EventStitchFinished, TaskID: task.ID, Progress: task.ProgressPercent})
	}
	metrics.UpdateStitchProgress(task.ID, 0, true)
	metrics.UpdateStitchMetrics(q.busy, q.pending.Len())
	if q.opts.OnFinished != nil {
		q.finished = append(q.finished, *task)
	}

	return q.opts.AutoAdvance && q.pending.Len() > 0
}

// flush hands finished tasks to OnFinished
func (q *Queue) flush() {
	if q.opts.OnFinished == nil {
		return
	}
	q.mu.Lock()
	done := q.finished
	q.finished = nil
	q.mu.Unlock()
	for _, task := range done {
		q.opts.OnFinished(task)
	}
}

func (q *Queue) advance() {
	if err := q.Start(); err != nil {
		q.logger.Warnf("Failed to advance stitch queue: %v", err)
	}
}

func (q *Queue) setBusyLocked(busy bool) {
	if q.busy == busy {
		return
	}
	q.busy = busy
	if q.session != nil {
		q.session.SetStitching(busy)
	}
	metrics.UpdateStitchMetrics(busy, q.pending.Len())
	if busy {
		q.emitLocked(models.Event{Kind: models.EventBusy, Message: "stitch"})
	} else {
		q.emitLocked(models.Event{Kind: models.EventIdle})
	}
}

func (q *Queue) emitLocked(ev models.Event) {
	ev.Source = models.SourceStitch
	ev.At = q.opts.Now()
	q.notifier.Notify(ev)
}

func priorityName(p int) string {
	switch {
	case p >= models.StitchPriorityHigh:
		return "high"
	case p >= models.StitchPriorityNormal:
		return "normal"
	}
	return "low"
}

// listener adapts worker callbacks onto the queue
type listener struct {
	q *Queue
}

func (l listener) OnProgressChange(taskID string, percent float64) {
	l.q.onProgress(taskID, percent)
}

func (l listener) OnStateChange(taskID string, state models.StitchState) {
	l.q.onState(taskID, state)
}

func (l listener) OnDeleteDeleting(taskID string) {
	l.q.logger.WithTaskID(taskID).Debug("Removing lens files")
}

func (l listener) OnDeleteFinish(taskID string) {
	l.q.onDeleteFinish(taskID)
}
