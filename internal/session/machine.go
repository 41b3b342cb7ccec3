// Package session owns the capture session: mode selection, resolution
// negotiation with the capture engine and still capture.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/panocam/internal/engine"
	"github.com/therealutkarshpriyadarshi/panocam/internal/logging"
	"github.com/therealutkarshpriyadarshi/panocam/internal/metrics"
	"github.com/therealutkarshpriyadarshi/panocam/internal/resolver"
	"github.com/therealutkarshpriyadarshi/panocam/pkg/models"
)

// Selection is a caller's mode choice with everything needed to resolve it
type Selection struct {
	Mode    models.CaptureMode     `json:"mode"`
	Label   models.ResolutionLabel `json:"label"`
	Pro     models.ProParameters   `json:"pro"`
	Extras  resolver.Extras        `json:"extras"`
	Preview models.PreviewSettings `json:"preview"`
}

func (s Selection) request() resolver.Request {
	return resolver.Request{Mode: s.Mode, Label: s.Label, Pro: s.Pro, Extras: s.Extras}
}

// Activity is a long-running use of the preview owned by another controller
type Activity string

// Activity constants
const (
	ActivityRecording Activity = "recording"
	ActivityLive      Activity = "live"
)

// Config configures a Machine
type Config struct {
	Resolver  resolver.Resolver
	OutputDir string
	Now       func() time.Time
}

// Machine is the session state machine. Engine results are awaited on
// goroutines and applied under mu.
type Machine struct {
	engine   engine.CaptureEngine
	notifier Notifier
	logger   *logging.Logger
	cfg      Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	state     models.SessionState
	selection *Selection
	bundle    *models.Bundle
	pending   string
}

// New creates a Machine in the idle phase
func New(eng engine.CaptureEngine, notifier Notifier, logger *logging.Logger, cfg Config) *Machine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if notifier == nil {
		notifier = Discard
	}
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	return &Machine{
		engine:   eng,
		notifier: notifier,
		logger:   logger.WithSessionID(id).WithComponent(string(models.SourceSession)),
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		state: models.SessionState{
			SessionID: id,
			Phase:     models.PhaseIdle,
			UpdatedAt: cfg.Now(),
		},
	}
}

// ID returns the session ID
func (m *Machine) ID() string {
	return m.state.SessionID
}

// State returns a copy of the session state
func (m *Machine) State() models.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state
	if m.bundle != nil {
		b := *m.bundle
		st.Bundle = &b
	}
	return st
}

// SelectMode resolves sel and asks the engine to switch to it. The result
// arrives asynchronously as a resolution_changed or error event.
func (m *Machine) SelectMode(ctx context.Context, sel Selection) (models.Bundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.idleLocked("select mode"); err != nil {
		return models.Bundle{}, err
	}
	return m.negotiateLocked(ctx, sel)
}

// Renegotiate re-issues the current selection, e.g. after an engine fault
func (m *Machine) Renegotiate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.selection == nil {
		return models.Precondition("no mode has been selected")
	}
	if err := m.idleLocked("renegotiate"); err != nil {
		return err
	}
	_, err := m.negotiateLocked(ctx, *m.selection)
	return err
}

func (m *Machine) idleLocked(op string) error {
	if m.pending != "" {
		return models.Precondition("cannot %s while %s is outstanding", op, m.pending)
	}
	switch m.state.Phase {
	case models.PhaseIdle, models.PhasePreviewReady:
		return nil
	}
	return models.Precondition("cannot %s in phase %s", op, m.state.Phase)
}

func (m *Machine) negotiateLocked(ctx context.Context, sel Selection) (models.Bundle, error) {
	b, err := m.cfg.Resolver.Resolve(sel.request())
	if err != nil {
		return models.Bundle{}, err
	}
	if b.FellBack {
		m.logger.WithFields(map[string]interface{}{
			"requested_mode":  sel.Mode,
			"requested_label": sel.Label,
			"mode":            b.Mode,
			"label":           b.Label,
		}).Warn("Unsupported mode/label pair, using defaults")
	}
	metrics.RecordModeSelection(string(b.Mode), b.FellBack)

	sel.Mode = b.Mode
	sel.Label = b.Label
	stable := m.state.Phase
	m.setPhaseLocked(models.PhaseChangingResolution)
	m.pending = string(engine.OpChangeResolution)
	m.emitLocked(models.Event{Kind: models.EventBusy, Mode: b.Mode, Message: m.pending})

	p := m.issue(ctx, engine.OpChangeResolution, b.Mode, func(ctx context.Context) <-chan engine.Result {
		return m.engine.ChangeResolution(ctx, b)
	})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.resolutionChanged(sel, b, stable, p.Wait())
	}()
	return b, nil
}

func (m *Machine) resolutionChanged(sel Selection, b models.Bundle, stable models.Phase, r engine.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = ""

	if r.Err != nil {
		m.setPhaseLocked(stable)
		m.failLocked(r.Err, "")
		m.emitLocked(models.Event{Kind: models.EventIdle, Mode: m.state.Mode})
		return
	}

	if err := m.engine.ApplySettings(settingsFor(b.Mode, sel.Preview)); err != nil {
		m.logger.ErrorWithErr("Failed to apply preview settings", err)
		m.failLocked(err, "settings")
	}

	m.selection = &sel
	m.bundle = &b
	m.state.Mode = b.Mode
	m.state.Label = b.Label
	m.setPhaseLocked(models.PhasePreviewReady)
	m.emitLocked(models.Event{Kind: models.EventResolutionChanged, Mode: b.Mode, Message: b.Output.String()})
	m.emitLocked(models.Event{Kind: models.EventIdle, Mode: b.Mode})
}

// settingsFor derives the post-change preview settings. Plane video follows
// on the horizontal axis only.
func settingsFor(mode models.CaptureMode, p models.PreviewSettings) engine.Settings {
	axis := models.FollowBoth
	if mode == models.ModeVideoPlane {
		axis = models.FollowHorizontal
	}
	return engine.Settings{
		Stabilization: p.Stabilization,
		SteadyFollow:  p.SteadyFollow,
		FollowAxis:    axis,
		AntiFlicker:   p.AntiFlicker,
		HDR:           p.HDR,
	}
}

// CapturePhoto takes a still in photo mode. Large photos raise the preview
// first and always restore it afterwards.
func (m *Machine) CapturePhoto(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending != "" {
		return models.Precondition("cannot capture while %s is outstanding", m.pending)
	}
	if m.state.Phase != models.PhasePreviewReady {
		return models.Precondition("cannot capture in phase %s", m.state.Phase)
	}
	if m.bundle == nil || m.bundle.Mode != models.ModePhoto {
		return models.Precondition("cannot capture a photo in mode %s", m.state.Mode)
	}

	b := *m.bundle
	req := engine.PhotoRequest{
		Bundle:   b,
		Dir:      m.cfg.OutputDir,
		FileName: models.MediaFileName(m.cfg.Now(), b.Mode),
	}
	m.setPhaseLocked(models.PhaseCapturing)
	m.pending = string(engine.OpTakePhoto)
	m.emitLocked(models.Event{Kind: models.EventBusy, Mode: b.Mode, Message: m.pending})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		path, err := m.capture(ctx, b, req)
		m.photoTaken(b, path, err)
	}()
	return nil
}

func (m *Machine) capture(ctx context.Context, b models.Bundle, req engine.PhotoRequest) (path string, err error) {
	if b.LargePhoto {
		if r := m.issue(ctx, engine.OpRaisePreview, b.Mode, func(ctx context.Context) <-chan engine.Result {
			return m.engine.RaisePreview(ctx, b)
		}).Wait(); r.Err != nil {
			return "", r.Err
		}
		defer func() {
			r := m.issue(ctx, engine.OpRestorePreview, b.Mode, m.engine.RestorePreview).Wait()
			if r.Err != nil {
				m.logger.ErrorWithErr("Failed to restore preview", r.Err)
				if err == nil {
					err = r.Err
				}
				return
			}
			m.mu.Lock()
			m.emitLocked(models.Event{Kind: models.EventPreviewRestored, Mode: b.Mode})
			m.mu.Unlock()
		}()
	}

	r := m.issue(ctx, engine.OpTakePhoto, b.Mode, func(ctx context.Context) <-chan engine.Result {
		return m.engine.TakePhoto(ctx, req)
	}).Wait()
	return r.Path, r.Err
}

func (m *Machine) photoTaken(b models.Bundle, path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = ""
	m.setPhaseLocked(models.PhasePreviewReady)

	if path != "" {
		metrics.RecordPhoto(b.LargePhoto)
		m.emitLocked(models.Event{Kind: models.EventPhotoTaken, Mode: b.Mode, Path: path})
	}
	if err != nil {
		m.failLocked(err, "")
	}
	m.emitLocked(models.Event{Kind: models.EventIdle, Mode: b.Mode})
}

// Acquire hands the preview to a recording or live controller and returns
// the active bundle. Record and live never overlap.
func (m *Machine) Acquire(a Activity) (models.Bundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.IsRecording || m.state.IsLive {
		return models.Bundle{}, models.Precondition("cannot start %s while %s", a, m.state.Phase)
	}
	if m.pending != "" {
		return models.Bundle{}, models.Precondition("cannot start %s while %s is outstanding", a, m.pending)
	}
	if m.state.Phase != models.PhasePreviewReady || m.bundle == nil {
		return models.Bundle{}, models.Precondition("cannot start %s in phase %s", a, m.state.Phase)
	}

	switch a {
	case ActivityRecording:
		if !m.bundle.Mode.IsVideo() {
			return models.Bundle{}, models.Precondition("mode %s does not record", m.bundle.Mode)
		}
		m.state.IsRecording = true
		m.setPhaseLocked(models.PhaseRecording)
	case ActivityLive:
		if !m.bundle.Mode.IsLive() {
			return models.Bundle{}, models.Precondition("mode %s does not stream", m.bundle.Mode)
		}
		m.state.IsLive = true
		m.setPhaseLocked(models.PhaseLive)
	default:
		return models.Bundle{}, models.Precondition("unknown activity %q", a)
	}
	return *m.bundle, nil
}

// Release returns the preview after Acquire. Releasing an activity that is
// not held is a no-op.
func (m *Machine) Release(a Activity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case a == ActivityRecording && m.state.IsRecording:
		m.state.IsRecording = false
	case a == ActivityLive && m.state.IsLive:
		m.state.IsLive = false
	default:
		return
	}
	m.setPhaseLocked(models.PhasePreviewReady)
}

// SetStitching mirrors the stitch queue's busy flag
func (m *Machine) SetStitching(busy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.IsStitching = busy
	m.state.UpdatedAt = m.cfg.Now()
}

// Close abandons outstanding engine calls and waits for their goroutines
func (m *Machine) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Machine) setPhaseLocked(p models.Phase) {
	if p == m.state.Phase {
		return
	}
	m.logger.LogStateChange(string(models.SourceSession), string(m.state.Phase), string(p))
	m.state.Phase = p
	m.state.UpdatedAt = m.cfg.Now()
}

func (m *Machine) failLocked(err error, phase string) {
	e := models.AsError(err)
	if phase != "" {
		e = models.WithPhase(err, phase)
	}
	metrics.RecordError(string(models.SourceSession), string(e.Kind))
	m.emitLocked(models.Event{Kind: models.EventError, Mode: m.state.Mode, Message: e.Message, Err: e})
}

func (m *Machine) emitLocked(ev models.Event) {
	ev.Source = models.SourceSession
	ev.SessionID = m.state.SessionID
	ev.At = m.cfg.Now()
	m.notifier.Notify(ev)
}

func (m *Machine) issue(ctx context.Context, op engine.Op, mode models.CaptureMode, fn func(context.Context) <-chan engine.Result) *engine.Pending {
	return engine.Issue(ctx, m.ctx, m.logger, op, mode, fn)
}
