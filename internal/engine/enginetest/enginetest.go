// Package enginetest provides scripted collaborators for controller tests.
// Every asynchronous call is handed to the test, which decides its result.
package enginetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/panocam/internal/engine"
	"github.com/therealutkarshpriyadarshi/panocam/pkg/models"
)

// Timeout bounds every wait in this package
const Timeout = 2 * time.Second

// Call is one captured engine call
type Call struct {
	Op     engine.Op
	Ctx    context.Context
	Bundle models.Bundle
	Photo  engine.PhotoRequest
	Record engine.RecordRequest
	result chan engine.Result
}

// Reply completes the call
func (c Call) Reply(r engine.Result) {
	c.result <- r
	close(c.result)
}

// Succeed completes the call with path
func (c Call) Succeed(path string) {
	c.Reply(engine.Result{Path: path})
}

// Fail completes the call with an engine error
func (c Call) Fail(code int, msg string) {
	c.Reply(engine.Result{Err: models.EngineError(code, msg)})
}

// Engine is a scripted engine.CaptureEngine
type Engine struct {
	calls  chan Call
	faults chan error

	mu          sync.Mutex
	settings    []engine.Settings
	settingsErr error
}

// NewEngine creates an Engine
func NewEngine() *Engine {
	return &Engine{calls: make(chan Call, 16), faults: make(chan error, 4)}
}

func (e *Engine) push(ctx context.Context, c Call) <-chan engine.Result {
	c.Ctx = ctx
	c.result = make(chan engine.Result, 1)
	e.calls <- c
	return c.result
}

// ChangeResolution implements engine.CaptureEngine
func (e *Engine) ChangeResolution(ctx context.Context, b models.Bundle) <-chan engine.Result {
	return e.push(ctx, Call{Op: engine.OpChangeResolution, Bundle: b})
}

// ApplySettings implements engine.CaptureEngine
func (e *Engine) ApplySettings(s engine.Settings) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings = append(e.settings, s)
	return e.settingsErr
}

// RaisePreview implements engine.CaptureEngine
func (e *Engine) RaisePreview(ctx context.Context, b models.Bundle) <-chan engine.Result {
	return e.push(ctx, Call{Op: engine.OpRaisePreview, Bundle: b})
}

// TakePhoto implements engine.CaptureEngine
func (e *Engine) TakePhoto(ctx context.Context, req engine.PhotoRequest) <-chan engine.Result {
	return e.push(ctx, Call{Op: engine.OpTakePhoto, Photo: req, Bundle: req.Bundle})
}

// RestorePreview implements engine.CaptureEngine
func (e *Engine) RestorePreview(ctx context.Context) <-chan engine.Result {
	return e.push(ctx, Call{Op: engine.OpRestorePreview})
}

// StartRecord implements engine.CaptureEngine
func (e *Engine) StartRecord(ctx context.Context, req engine.RecordRequest) <-chan engine.Result {
	return e.push(ctx, Call{Op: engine.OpStartRecord, Record: req, Bundle: req.Bundle})
}

// StopRecord implements engine.CaptureEngine
func (e *Engine) StopRecord(ctx context.Context) <-chan engine.Result {
	return e.push(ctx, Call{Op: engine.OpStopRecord})
}

// Faults implements engine.CaptureEngine
func (e *Engine) Faults() <-chan error { return e.faults }

// Fault publishes err on the faults channel
func (e *Engine) Fault(err error) { e.faults <- err }

// FailSettings makes later ApplySettings calls return err
func (e *Engine) FailSettings(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settingsErr = err
}

// Settings returns every applied settings value
func (e *Engine) Settings() []engine.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]engine.Settings(nil), e.settings...)
}

// Expect waits for the next call and checks its op
func (e *Engine) Expect(t testing.TB, op engine.Op) Call {
	t.Helper()
	select {
	case c := <-e.calls:
		if c.Op != op {
			t.Fatalf("expected engine call %s, got %s", op, c.Op)
		}
		return c
	case <-time.After(Timeout):
		t.Fatalf("timed out waiting for engine call %s", op)
		return Call{}
	}
}

// ExpectNone checks that no call arrives within a short grace period
func (e *Engine) ExpectNone(t testing.TB) {
	t.Helper()
	select {
	case c := <-e.calls:
		t.Fatalf("unexpected engine call %s", c.Op)
	case <-time.After(20 * time.Millisecond):
	}
}

// Pusher is a scripted engine.Pusher. Events are sent by the test.
type Pusher struct {
	mu         sync.Mutex
	events     chan engine.PushEvent
	params     []engine.PushParams
	commands   []string
	throughput int64
	prepareErr error
}

// NewPusher creates a Pusher
func NewPusher() *Pusher {
	return &Pusher{}
}

// Prepare implements engine.Pusher
func (p *Pusher) Prepare(ctx context.Context, params engine.PushParams) (<-chan engine.PushEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = append(p.commands, "prepare")
	if p.prepareErr != nil {
		return nil, p.prepareErr
	}
	p.params = append(p.params, params)
	p.events = make(chan engine.PushEvent, 16)
	return p.events, nil
}

func (p *Pusher) command(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = append(p.commands, name)
	if p.events == nil {
		return errors.New("not prepared")
	}
	return nil
}

// StartPush implements engine.Pusher
func (p *Pusher) StartPush() error { return p.command("start") }

// PausePush implements engine.Pusher
func (p *Pusher) PausePush() error { return p.command("pause") }

// ResumePush implements engine.Pusher
func (p *Pusher) ResumePush() error { return p.command("resume") }

// StopPush implements engine.Pusher
func (p *Pusher) StopPush() error { return p.command("stop") }

// CurrentThroughput implements engine.Pusher
func (p *Pusher) CurrentThroughput() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.throughput
}

// SetThroughput sets the value CurrentThroughput reports
func (p *Pusher) SetThroughput(bps int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.throughput = bps
}

// FailPrepare makes later Prepare calls return err
func (p *Pusher) FailPrepare(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prepareErr = err
}

// Emit delivers ev on the current event channel. Stopped and error events
// close it.
func (p *Pusher) Emit(ev engine.PushEvent) {
	p.mu.Lock()
	ch := p.events
	if ev.Kind == engine.PushStopped || ev.Kind == engine.PushError {
		p.events = nil
	}
	p.mu.Unlock()
	if ch == nil {
		return
	}
	ch <- ev
	if ev.Kind == engine.PushStopped || ev.Kind == engine.PushError {
		close(ch)
	}
}

// Commands returns every command issued, in order
func (p *Pusher) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.commands...)
}

// Params returns every PushParams passed to Prepare
func (p *Pusher) Params() []engine.PushParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]engine.PushParams(nil), p.params...)
}

// Recorder is a Notifier that keeps every event
type Recorder struct {
	mu     sync.Mutex
	events []models.Event
	signal chan struct{}
}

// NewRecorder creates a Recorder
func NewRecorder() *Recorder {
	return &Recorder{signal: make(chan struct{}, 1)}
}

// Notify records ev
func (r *Recorder) Notify(ev models.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// Events returns a copy of every event so far
func (r *Recorder) Events() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event(nil), r.events...)
}

// Kinds returns the kinds of every event so far
func (r *Recorder) Kinds() []models.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

// Count returns how many events of kind were seen
func (r *Recorder) Count(kind models.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// Last returns the most recent event of kind
func (r *Recorder) Last(kind models.EventKind) (models.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == kind {
			return r.events[i], true
		}
	}
	return models.Event{}, false
}

// WaitFor blocks until at least n events of kind have arrived and returns
// the latest one
func (r *Recorder) WaitFor(t testing.TB, kind models.EventKind, n int) models.Event {
	t.Helper()
	deadline := time.After(Timeout)
	for r.Count(kind) < n {
		select {
		case <-r.signal:
		case <-deadline:
			t.Fatalf("timed out waiting for %d %s events, have %v", n, kind, r.Kinds())
		}
	}
	ev, _ := r.Last(kind)
	return ev
}

// Reset drops recorded events
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
