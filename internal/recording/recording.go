// Package recording toggles video recording on the capture engine and keeps
// the per-second duration display.
package recording

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/panocam/internal/engine"
	"github.com/therealutkarshpriyadarshi/panocam/internal/logging"
	"github.com/therealutkarshpriyadarshi/panocam/internal/metrics"
	"github.com/therealutkarshpriyadarshi/panocam/internal/session"
	"github.com/therealutkarshpriyadarshi/panocam/internal/tick"
	"github.com/therealutkarshpriyadarshi/panocam/pkg/models"
)

// Failure phases reported on recording errors
const (
	PhaseStart  = "start"
	PhaseStop   = "stop"
	PhaseRecord = "record"
)

// Session is the part of the session state machine a recording needs
type Session interface {
	Acquire(a session.Activity) (models.Bundle, error)
	Release(a session.Activity)
}

// Config configures a Controller
type Config struct {
	OutputDir string
	Ticks     tick.SourceFunc
	Now       func() time.Time
}

// Status is a snapshot of the controller
type Status struct {
	State   string                   `json:"state"`
	Session *models.RecordingSession `json:"session,omitempty"`
	Display string                   `json:"display,omitempty"`
}

// Controller runs one recording at a time: stopped, starting, recording,
// stopping, and back to stopped.
type Controller struct {
	session  Session
	engine   engine.CaptureEngine
	notifier session.Notifier
	logger   *logging.Logger
	cfg      Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	state   string
	current *models.RecordingSession
	tick    *tick.Task
	stale   []*tick.Task
}

// New creates a stopped Controller
func New(sess Session, eng engine.CaptureEngine, notifier session.Notifier, logger *logging.Logger, cfg Config) *Controller {
	if cfg.Ticks == nil {
		cfg.Ticks = tick.Ticker(tick.Interval)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if notifier == nil {
		notifier = session.Discard
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		session:  sess,
		engine:   eng,
		notifier: notifier,
		logger:   logger.WithComponent(string(models.SourceRecording)),
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		state:    models.RecordingStatusStopped,
	}
}

// Toggle starts a recording when stopped and stops it when recording
func (c *Controller) Toggle(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case models.RecordingStatusStopped:
		return c.startLocked(ctx)
	case models.RecordingStatusRecording:
		c.stopLocked(ctx)
		return nil
	default:
		return models.Precondition("recording is %s", c.state)
	}
}

// Status returns the current state and recording, if any
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{State: c.state}
	if c.current != nil {
		rs := *c.current
		st.Session = &rs
		st.Display = models.FormatClock(rs.ElapsedSeconds)
	}
	return st
}

// Active reports whether a recording is starting, running or stopping
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != models.RecordingStatusStopped
}

func (c *Controller) startLocked(ctx context.Context) error {
	b, err := c.session.Acquire(session.ActivityRecording)
	if err != nil {
		return err
	}

	rs := &models.RecordingSession{
		ID:          uuid.New().String(),
		Mode:        b.Mode,
		IsTimelapse: b.Mode == models.ModeVideoTimelapse,
	}
	if rs.IsTimelapse {
		rs.LapseIntervalSeconds = b.LapseMultiplier
	}
	req := engine.RecordRequest{
		Bundle:   b,
		Dir:      c.cfg.OutputDir,
		FileName: models.MediaFileName(c.cfg.Now(), b.Mode),
	}

	c.current = rs
	c.setStateLocked(models.RecordingStatusStarting)
	c.emitLocked(models.Event{Kind: models.EventBusy, Mode: b.Mode, Message: string(engine.OpStartRecord)})

	p := engine.Issue(ctx, c.ctx, c.logger, engine.OpStartRecord, b.Mode, func(ctx context.Context) <-chan engine.Result {
		return c.engine.StartRecord(ctx, req)
	})
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.started(rs, p.Wait())
	}()
	return nil
}

func (c *Controller) started(rs *models.RecordingSession, r engine.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != rs {
		return
	}

	if r.Err != nil {
		c.finishLocked(models.RecordingStatusStopped)
		metrics.RecordRecordingFinished(string(rs.Mode), "failed", 0)
		c.failLocked(rs, r.Err, PhaseStart)
		c.emitLocked(models.Event{Kind: models.EventIdle, Mode: rs.Mode})
		return
	}

	rs.FilePath = r.Path
	rs.StartTimestamp = c.cfg.Now()
	c.setStateLocked(models.RecordingStatusRecording)
	metrics.SetRecordingActive(true)
	c.startTickLocked()

	c.emitLocked(models.Event{Kind: models.EventRecordingStarted, Mode: rs.Mode, Path: rs.FilePath, Display: models.FormatClock(0)})
	c.emitLocked(models.Event{Kind: models.EventIdle, Mode: rs.Mode})
}

func (c *Controller) startTickLocked() {
	var task *tick.Task
	task = tick.Start(c.cfg.Ticks(), func(time.Time) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.tick != task || c.current == nil {
			return
		}
		c.onTickLocked()
	})
	c.tick = task
}

func (c *Controller) stopTickLocked() {
	if c.tick == nil {
		return
	}
	c.tick.Stop()
	c.stale = append(tick.Running(c.stale), c.tick)
	c.tick = nil
}

func (c *Controller) onTickLocked() {
	rs := c.current
	rs.ElapsedSeconds++

	ev := models.Event{
		Kind:    models.EventRecordingTick,
		Mode:    rs.Mode,
		Path:    rs.FilePath,
		Elapsed: rs.ElapsedSeconds,
		Display: models.FormatClock(rs.ElapsedSeconds),
	}
	if rs.IsTimelapse {
		ev.Effective = models.FormatClock(rs.EffectiveSeconds())
	}
	c.emitLocked(ev)
}

func (c *Controller) stopLocked(ctx context.Context) {
	rs := c.current
	c.stopTickLocked()
	c.setStateLocked(models.RecordingStatusStopping)
	c.emitLocked(models.Event{Kind: models.EventBusy, Mode: rs.Mode, Message: string(engine.OpStopRecord)})

	p := engine.Issue(ctx, c.ctx, c.logger, engine.OpStopRecord, rs.Mode, c.engine.StopRecord)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.stopped(rs, p.Wait())
	}()
}

func (c *Controller) stopped(rs *models.RecordingSession, r engine.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != rs {
		return
	}

	c.finishLocked(models.RecordingStatusStopped)
	if r.Err != nil {
		metrics.RecordRecordingFinished(string(rs.Mode), "failed", float64(rs.ElapsedSeconds))
		c.failLocked(rs, r.Err, PhaseStop)
	} else {
		path := r.Path
		if path == "" {
			path = rs.FilePath
		}
		metrics.RecordRecordingFinished(string(rs.Mode), "saved", float64(rs.ElapsedSeconds))
		c.emitLocked(models.Event{
			Kind:    models.EventRecordingSaved,
			Mode:    rs.Mode,
			Path:    path,
			Elapsed: rs.ElapsedSeconds,
			Display: models.FormatClock(rs.ElapsedSeconds),
		})
	}
	c.emitLocked(models.Event{Kind: models.EventIdle, Mode: rs.Mode})
}

// HandleFault ends a running recording after an engine fault. It reports
// whether the fault was consumed.
func (c *Controller) HandleFault(err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != models.RecordingStatusRecording {
		return false
	}

	rs := c.current
	c.finishLocked(models.RecordingStatusStopped)
	metrics.RecordRecordingFinished(string(rs.Mode), "failed", float64(rs.ElapsedSeconds))
	c.failLocked(rs, err, PhaseRecord)
	c.emitLocked(models.Event{Kind: models.EventIdle, Mode: rs.Mode})
	return true
}

// Close cancels the tick and any outstanding engine call and waits for
// their goroutines. It does not stop the engine's recording.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.current != nil {
		c.finishLocked(models.RecordingStatusStopped)
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	stale := c.stale
	c.stale = nil
	c.mu.Unlock()
	for _, t := range stale {
		t.Wait()
	}
}

// finishLocked is the single exit from an active recording
func (c *Controller) finishLocked(state string) {
	c.stopTickLocked()
	c.current = nil
	c.setStateLocked(state)
	c.session.Release(session.ActivityRecording)
	metrics.SetRecordingActive(false)
}

func (c *Controller) setStateLocked(state string) {
	if state == c.state {
		return
	}
	c.logger.LogStateChange(string(models.SourceRecording), c.state, state)
	c.state = state
}

func (c *Controller) failLocked(rs *models.RecordingSession, err error, phase string) {
	e := models.WithPhase(err, phase)
	metrics.RecordError(string(models.SourceRecording), string(e.Kind))
	c.logger.WithField("phase", phase).ErrorWithErr("Recording failed", err)
	c.emitLocked(models.Event{Kind: models.EventError, Mode: rs.Mode, Path: rs.FilePath, Message: e.Message, Err: e})
}

func (c *Controller) emitLocked(ev models.Event) {
	ev.Source = models.SourceRecording
	ev.At = c.cfg.Now()
	c.notifier.Notify(ev)
}
