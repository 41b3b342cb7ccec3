// Package live drives a live push through the stream pusher: validation,
// push parameters, pusher events and the per-second telemetry tick.
package live

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/panocam/internal/engine"
	"github.com/therealutkarshpriyadarshi/panocam/internal/logging"
	"github.com/therealutkarshpriyadarshi/panocam/internal/metrics"
	"github.com/therealutkarshpriyadarshi/panocam/internal/resolver"
	"github.com/therealutkarshpriyadarshi/panocam/internal/session"
	"github.com/therealutkarshpriyadarshi/panocam/internal/tick"
	"github.com/therealutkarshpriyadarshi/panocam/pkg/models"
)

// URLScheme is the only accepted push scheme
const URLScheme = "rtmp://"

// DefaultBitrateMbps is used when no bitrate tier is configured
const DefaultBitrateMbps = 8

// Session is the part of the session state machine a live push needs
type Session interface {
	Acquire(a session.Activity) (models.Bundle, error)
	Release(a session.Activity)
	Renegotiate(ctx context.Context) error
}

// Config configures a Controller
type Config struct {
	URL string
	// Label overrides the push resolution; empty uses the session label
	Label models.ResolutionLabel
	// AspectRatio applies to screen live; empty uses the session ratio
	AspectRatio  string
	BitrateMbps  int
	Record       bool
	RecordDir    string
	SplitMinutes int

	Ticks tick.SourceFunc
	Now   func() time.Time
}

// Status is a snapshot of the controller
type Status struct {
	State   string              `json:"state"`
	Session *models.LiveSession `json:"session,omitempty"`
	Display string              `json:"display,omitempty"`
	Bitrate string              `json:"bitrate,omitempty"`
}

// Controller runs one live push at a time: idle, starting, preparing, live,
// paused, and back to idle.
type Controller struct {
	session  Session
	pusher   engine.Pusher
	notifier session.Notifier
	logger   *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	cfg      Config
	state    string
	current  *models.LiveSession
	toggle   engine.PushEventKind
	stopping bool
	tick     *tick.Task
	stale    []*tick.Task
}

// New creates an idle Controller
func New(sess Session, pusher engine.Pusher, notifier session.Notifier, logger *logging.Logger, cfg Config) *Controller {
	if cfg.Ticks == nil {
		cfg.Ticks = tick.Ticker(tick.Interval)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.BitrateMbps <= 0 {
		cfg.BitrateMbps = DefaultBitrateMbps
	}
	if notifier == nil {
		notifier = session.Discard
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		session:  sess,
		pusher:   pusher,
		notifier: notifier,
		logger:   logger.WithComponent(string(models.SourceLive)),
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		state:    models.LiveStatusIdle,
	}
}

// Configure replaces the push settings used by the next Start
func (c *Controller) Configure(fn func(cfg *Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.cfg)
	if c.cfg.BitrateMbps <= 0 {
		c.cfg.BitrateMbps = DefaultBitrateMbps
	}
}

// ValidateURL checks a push URL before any pusher call is made
func ValidateURL(url string) error {
	if url == "" {
		return &models.Error{Kind: models.KindValidation, Message: "live url is empty"}
	}
	if !strings.HasPrefix(url, URLScheme) {
		return &models.Error{Kind: models.KindValidation, Message: fmt.Sprintf("live url %q must start with %s", url, URLScheme)}
	}
	return nil
}

// Bitrate converts a megabit tier to bits per second
func Bitrate(mbps int) int64 {
	return int64(mbps) * 1024 * 1024
}

// Start validates the configuration, takes the session and prepares the push
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != models.LiveStatusIdle {
		return models.Precondition("live is %s", c.state)
	}
	if err := ValidateURL(c.cfg.URL); err != nil {
		return err
	}

	b, err := c.session.Acquire(session.ActivityLive)
	if err != nil {
		return err
	}

	params, err := c.paramsLocked(b)
	if err != nil {
		c.session.Release(session.ActivityLive)
		return err
	}

	ls := &models.LiveSession{
		ID:              uuid.New().String(),
		URL:             params.URL,
		Resolution:      params.Size,
		Fps:             params.Fps,
		Bitrate:         params.Bitrate,
		IsPanorama:      params.Panorama,
		RecordWhileLive: params.RecordPath != "",
		RecordPath:      params.RecordPath,
		SplitSeconds:    params.SplitSeconds,
	}

	events, err := c.pusher.Prepare(ctx, params)
	if err != nil {
		c.session.Release(session.ActivityLive)
		metrics.RecordLiveFinished("failed", 0)
		return models.EngineError(-1, fmt.Sprintf("prepare push: %v", err))
	}

	c.current = ls
	c.stopping = false
	c.setStateLocked(models.LiveStatusStarting)
	c.emitLocked(models.Event{Kind: models.EventBusy, Message: "prepare"})

	c.wg.Add(1)
	go c.listen(ls, events)

	if err := c.pusher.StartPush(); err != nil {
		_ = c.pusher.StopPush()
		c.finishLocked()
		metrics.RecordLiveFinished("failed", 0)
		c.failLocked(ls, models.EngineError(-1, fmt.Sprintf("start push: %v", err)))
		c.emitLocked(models.Event{Kind: models.EventIdle})
		return nil
	}
	c.logger.WithSessionID(ls.ID).WithFields(map[string]interface{}{
		"url":        ls.URL,
		"resolution": ls.Resolution.String(),
		"bitrate":    ls.Bitrate,
		"record":     ls.RecordWhileLive,
	}).Info("Live push prepared")
	return nil
}

func (c *Controller) paramsLocked(b models.Bundle) (engine.PushParams, error) {
	label := c.cfg.Label
	if label == "" {
		label = b.Label
	}
	ratio := c.cfg.AspectRatio
	if ratio == "" {
		ratio = b.AspectRatio
	}
	size, err := resolver.PushSize(b.Mode, label, ratio)
	if err != nil {
		return engine.PushParams{}, err
	}

	p := engine.PushParams{
		URL:      c.cfg.URL,
		Size:     size,
		Fps:      b.Fps,
		Bitrate:  Bitrate(c.cfg.BitrateMbps),
		Encoding: b.Encoding,
		Panorama: b.Mode == models.ModeLivePanorama,
	}
	if c.cfg.Record && p.Bitrate <= models.MaxRecordWhileLiveBitrate {
		p.RecordPath = c.cfg.RecordDir
		p.SplitSeconds = c.cfg.SplitMinutes * 60
	}
	return p, nil
}

func (c *Controller) listen(ls *models.LiveSession, events <-chan engine.PushEvent) {
	defer c.wg.Done()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				c.handle(ls, engine.PushEvent{Kind: engine.PushStopped})
				return
			}
			c.handle(ls, ev)
			if ev.Kind == engine.PushStopped || ev.Kind == engine.PushError {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Controller) handle(ls *models.LiveSession, ev engine.PushEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != ls {
		return
	}

	switch ev.Kind {
	case engine.PushStart:
		c.setStateLocked(models.LiveStatusPreparing)
		c.emitLocked(models.Event{Kind: models.EventLiveStarting})

	case engine.PushPrepared:
		ls.StartedAt = c.cfg.Now()
		ls.ElapsedSeconds = 0
		c.setStateLocked(models.LiveStatusLive)
		c.startTickLocked()
		metrics.SetLiveActive(true)
		c.emitLocked(models.Event{Kind: models.EventLiveStarted, Display: models.FormatClock(0)})
		c.emitLocked(models.Event{Kind: models.EventIdle})

	case engine.PushPaused:
		c.toggle = ""
		c.setStateLocked(models.LiveStatusPaused)
		c.emitLocked(models.Event{Kind: models.EventLivePaused})

	case engine.PushResumed:
		c.toggle = ""
		c.setStateLocked(models.LiveStatusLive)
		c.emitLocked(models.Event{Kind: models.EventLiveResumed})

	case engine.PushStopped:
		elapsed := ls.ElapsedSeconds
		c.finishLocked()
		metrics.RecordLiveFinished("stopped", float64(elapsed))
		c.emitLocked(models.Event{Kind: models.EventLiveStopped, Elapsed: elapsed})
		c.emitLocked(models.Event{Kind: models.EventIdle})

	case engine.PushError:
		elapsed := ls.ElapsedSeconds
		c.finishLocked()
		metrics.RecordLiveFinished("failed", float64(elapsed))
		c.failLocked(ls, models.EngineError(ev.Code, ev.Message))
		c.emitLocked(models.Event{Kind: models.EventIdle})

	case engine.PushPathSuccess:
		c.logger.WithSessionID(ls.ID).Infof("Live segment saved to %s", ev.Path)
		c.emitLocked(models.Event{Kind: models.EventLiveSegmentSaved, Path: ev.Path})
	}
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
	ls := c.current
	ls.ElapsedSeconds++
	ls.CurrentThroughput = c.pusher.CurrentThroughput()

	metrics.UpdateLiveThroughput(ls.CurrentThroughput)
	c.logger.LogLiveTelemetry(ls.ID, ls.ElapsedSeconds, ls.CurrentThroughput)
	c.emitLocked(models.Event{
		Kind:       models.EventLiveTick,
		Elapsed:    ls.ElapsedSeconds,
		Display:    models.FormatClock(ls.ElapsedSeconds),
		Throughput: ls.CurrentThroughput,
		Message:    models.FormatBitrate(ls.CurrentThroughput),
	})
}

// PauseResume pauses a live push or resumes a paused one. The state only
// changes when the pusher confirms; a second toggle before then is rejected.
func (c *Controller) PauseResume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.toggle != "" {
		return models.Precondition("live %s is still pending", c.toggle)
	}

	var err error
	switch c.state {
	case models.LiveStatusLive:
		c.toggle = engine.PushPaused
		err = c.pusher.PausePush()
	case models.LiveStatusPaused:
		c.toggle = engine.PushResumed
		err = c.pusher.ResumePush()
	default:
		return models.Precondition("cannot pause or resume while %s", c.state)
	}
	if err != nil {
		c.toggle = ""
		return models.EngineError(-1, err.Error())
	}
	return nil
}

// Stop ends the push. Calling it while idle or already stopping is a no-op.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

func (c *Controller) stopLocked() error {
	if c.state == models.LiveStatusIdle || c.stopping {
		return nil
	}
	c.stopping = true
	c.stopTickLocked()

	if err := c.pusher.StopPush(); err != nil {
		ls := c.current
		c.logger.ErrorWithErr("Failed to stop push, releasing session", err)
		c.finishLocked()
		metrics.RecordLiveFinished("failed", float64(ls.ElapsedSeconds))
		c.emitLocked(models.Event{Kind: models.EventLiveStopped, Elapsed: ls.ElapsedSeconds})
		c.emitLocked(models.Event{Kind: models.EventIdle})
	}
	return nil
}

// HandleFault reacts to an engine fault: outside a push the session is
// renegotiated, during one the push is stopped.
func (c *Controller) HandleFault(ctx context.Context, err error) error {
	c.mu.Lock()
	if c.state != models.LiveStatusIdle {
		defer c.mu.Unlock()
		c.logger.ErrorWithErr("Engine fault during live push, stopping", err)
		return c.stopLocked()
	}
	c.mu.Unlock()

	c.logger.ErrorWithErr("Engine fault, renegotiating resolution", err)
	return c.session.Renegotiate(ctx)
}

// Status returns the current state and push, if any
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{State: c.state}
	if c.current != nil {
		ls := *c.current
		st.Session = &ls
		st.Display = models.FormatClock(ls.ElapsedSeconds)
		st.Bitrate = models.FormatBitrate(ls.CurrentThroughput)
	}
	return st
}

// Close stops any push and waits for the event listener and tick
func (c *Controller) Close() {
	c.mu.Lock()
	if c.current != nil {
		_ = c.pusher.StopPush()
		c.finishLocked()
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

// finishLocked is the single exit from an active push
func (c *Controller) finishLocked() {
	c.stopTickLocked()
	c.current = nil
	c.toggle = ""
	c.stopping = false
	c.setStateLocked(models.LiveStatusIdle)
	c.session.Release(session.ActivityLive)
	metrics.SetLiveActive(false)
}

func (c *Controller) setStateLocked(state string) {
	if state == c.state {
		return
	}
	c.logger.LogStateChange(string(models.SourceLive), c.state, state)
	c.state = state
}

func (c *Controller) failLocked(ls *models.LiveSession, err error) {
	e := models.AsError(err)
	metrics.RecordError(string(models.SourceLive), string(e.Kind))
	c.logger.WithSessionID(ls.ID).ErrorWithErr("Live push failed", err)
	c.emitLocked(models.Event{Kind: models.EventError, SessionID: ls.ID, Message: e.Message, Err: e})
}

func (c *Controller) emitLocked(ev models.Event) {
	ev.Source = models.SourceLive
	if ev.SessionID == "" && c.current != nil {
		ev.SessionID = c.current.ID
	}
	ev.At = c.cfg.Now()
	c.notifier.Notify(ev)
}
