package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/panocam/pkg/models"
)

// Op names a simulated capture engine call for fault injection
type Op string

// Op constants
const (
	OpChangeResolution Op = "change_resolution"
	OpRaisePreview     Op = "raise_preview"
	OpTakePhoto        Op = "take_photo"
	OpRestorePreview   Op = "restore_preview"
	OpStartRecord      Op = "start_record"
	OpStopRecord       Op = "stop_record"
	OpPrepare          Op = "prepare"
	OpStitch           Op = "stitch"
)

// SimulatorConfig tunes the simulator
type SimulatorConfig struct {
	Latency    time.Duration
	StitchStep time.Duration
	// StitchIncrement is the progress percentage added every StitchStep
	StitchIncrement float64
	// WriteOutputs creates the stitched output file when a task finishes
	WriteOutputs bool
}

// Simulator is an in-process CaptureEngine, Pusher and StitchWorker. It is
// used when no device bridge is configured.
type Simulator struct {
	cfg SimulatorConfig

	mu        sync.Mutex
	failures  map[Op]error
	faults    chan error
	recording string
	calls     map[Op]int

	push      *simPush
	listener  Listener
	progress  map[string]float64
	stitching string
	stopStep  chan struct{}
	wg        sync.WaitGroup
}

// NewSimulator creates a simulator; zero config values take small defaults
func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.StitchStep <= 0 {
		cfg.StitchStep = 200 * time.Millisecond
	}
	if cfg.StitchIncrement <= 0 {
		cfg.StitchIncrement = 5
	}
	return &Simulator{
		cfg:      cfg,
		failures: make(map[Op]error),
		faults:   make(chan error, 8),
		calls:    make(map[Op]int),
		progress: make(map[string]float64),
	}
}

// FailNext makes the next call of op fail with err
func (s *Simulator) FailNext(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// InjectFault publishes err on the Faults channel
func (s *Simulator) InjectFault(err error) {
	select {
	case s.faults <- err:
	default:
	}
}

// Calls returns how many times op was invoked
func (s *Simulator) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Simulator) take(op Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	err := s.failures[op]
	delete(s.failures, op)
	return err
}

func (s *Simulator) async(ctx context.Context, op Op, fn func() Result) <-chan Result {
	ch := make(chan Result, 1)
	err := s.take(op)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(ch)
		select {
		case <-ctx.Done():
			ch <- Result{Err: ctx.Err()}
			return
		case <-time.After(s.cfg.Latency):
		}
		if err != nil {
			ch <- Result{Err: err}
			return
		}
		ch <- fn()
	}()
	return ch
}

// ChangeResolution implements CaptureEngine
func (s *Simulator) ChangeResolution(ctx context.Context, b models.Bundle) <-chan Result {
	return s.async(ctx, OpChangeResolution, func() Result { return Result{} })
}

// ApplySettings implements CaptureEngine
func (s *Simulator) ApplySettings(Settings) error {
	return nil
}

// RaisePreview implements CaptureEngine
func (s *Simulator) RaisePreview(ctx context.Context, b models.Bundle) <-chan Result {
	return s.async(ctx, OpRaisePreview, func() Result { return Result{} })
}

// TakePhoto implements CaptureEngine
func (s *Simulator) TakePhoto(ctx context.Context, req PhotoRequest) <-chan Result {
	return s.async(ctx, OpTakePhoto, func() Result {
		return Result{Path: filepath.Join(req.Dir, req.FileName+".jpg")}
	})
}

// RestorePreview implements CaptureEngine
func (s *Simulator) RestorePreview(ctx context.Context) <-chan Result {
	return s.async(ctx, OpRestorePreview, func() Result { return Result{} })
}

// StartRecord implements CaptureEngine
func (s *Simulator) StartRecord(ctx context.Context, req RecordRequest) <-chan Result {
	return s.async(ctx, OpStartRecord, func() Result {
		path := filepath.Join(req.Dir, req.FileName+".mp4")
		s.mu.Lock()
		s.recording = path
		s.mu.Unlock()
		return Result{Path: path}
	})
}

// StopRecord implements CaptureEngine
func (s *Simulator) StopRecord(ctx context.Context) <-chan Result {
	return s.async(ctx, OpStopRecord, func() Result {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.recording == "" {
			return Result{Err: models.EngineError(-1, "not recording")}
		}
		path := s.recording
		s.recording = ""
		return Result{Path: path}
	})
}

// Faults implements CaptureEngine
func (s *Simulator) Faults() <-chan error {
	return s.faults
}

type simPush struct {
	params PushParams
	events chan PushEvent
	closed bool
	live   bool
}

func (s *Simulator) emit(p *simPush, ev PushEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.closed {
		return
	}
	switch ev.Kind {
	case PushPrepared, PushResumed:
		p.live = true
	case PushPaused:
		p.live = false
	}
	p.events <- ev
	if ev.Kind == PushStopped || ev.Kind == PushError {
		p.closed = true
		p.live = false
		close(p.events)
		if s.push == p {
			s.push = nil
		}
	}
}

func (s *Simulator) later(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		time.Sleep(s.cfg.Latency)
		fn()
	}()
}

// Prepare implements Pusher
func (s *Simulator) Prepare(ctx context.Context, p PushParams) (<-chan PushEvent, error) {
	if err := s.take(OpPrepare); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.push != nil {
		s.mu.Unlock()
		return nil, errors.New("push already prepared")
	}
	push := &simPush{params: p, events: make(chan PushEvent, 16)}
	s.push = push
	s.mu.Unlock()

	s.emit(push, PushEvent{Kind: PushStart})
	return push.events, nil
}

func (s *Simulator) current() (*simPush, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.push == nil {
		return nil, errors.New("no push prepared")
	}
	return s.push, nil
}

// StartPush implements Pusher
func (s *Simulator) StartPush() error {
	p, err := s.current()
	if err != nil {
		return err
	}
	s.later(func() { s.emit(p, PushEvent{Kind: PushPrepared}) })
	return nil
}

// PausePush implements Pusher
func (s *Simulator) PausePush() error {
	p, err := s.current()
	if err != nil {
		return err
	}
	s.later(func() { s.emit(p, PushEvent{Kind: PushPaused}) })
	return nil
}

// ResumePush implements Pusher
func (s *Simulator) ResumePush() error {
	p, err := s.current()
	if err != nil {
		return err
	}
	s.later(func() { s.emit(p, PushEvent{Kind: PushResumed}) })
	return nil
}

// StopPush implements Pusher
func (s *Simulator) StopPush() error {
	p, err := s.current()
	if err != nil {
		return err
	}
	s.later(func() {
		if p.params.RecordPath != "" {
			name := models.MediaFileName(time.Now(), models.ModeLivePanorama) + ".mp4"
			s.emit(p, PushEvent{Kind: PushPathSuccess, Path: filepath.Join(p.params.RecordPath, name)})
		}
		s.emit(p, PushEvent{Kind: PushStopped})
	})
	return nil
}

// CurrentThroughput implements Pusher
func (s *Simulator) CurrentThroughput() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.push == nil || !s.push.live {
		return 0
	}
	return s.push.params.Bitrate
}

// SetListener implements StitchWorker
func (s *Simulator) SetListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

// Start implements StitchWorker
func (s *Simulator) Start(task models.StitchTask) error {
	if err := s.take(OpStitch); err != nil {
		return err
	}
	s.mu.Lock()
	if s.stitching != "" {
		s.mu.Unlock()
		return fmt.Errorf("worker busy with task %s", s.stitching)
	}
	s.stitching = task.ID
	stop := make(chan struct{})
	s.stopStep = stop
	l := s.listener
	s.mu.Unlock()

	if l != nil {
		l.OnStateChange(task.ID, models.StitchRunning)
	}

	s.wg.Add(1)
	go s.runStitch(task, l, stop)
	return nil
}

func (s *Simulator) runStitch(task models.StitchTask, l Listener, stop chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.StitchStep)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		if s.stopStep != stop {
			s.mu.Unlock()
			return
		}
		p := s.progress[task.ID] + s.cfg.StitchIncrement
		if p > 100 {
			p = 100
		}
		s.progress[task.ID] = p
		s.mu.Unlock()

		if l != nil {
			l.OnProgressChange(task.ID, p)
		}
		if p < 100 {
			continue
		}

		if l != nil {
			l.OnDeleteDeleting(task.ID)
		}
		if s.cfg.WriteOutputs && strings.HasSuffix(task.SourcePath, "_u") {
			_ = os.WriteFile(strings.TrimSuffix(task.SourcePath, "_u")+"_s.mp4", nil, 0o644)
		}
		s.mu.Lock()
		delete(s.progress, task.ID)
		if s.stitching == task.ID {
			s.stitching = ""
			s.stopStep = nil
		}
		s.mu.Unlock()
		if l != nil {
			l.OnDeleteFinish(task.ID)
			l.OnStateChange(task.ID, models.StitchStopped)
		}
		return
	}
}

// Pause implements StitchWorker
func (s *Simulator) Pause(taskID string) error {
	s.mu.Lock()
	if s.stitching != taskID {
		s.mu.Unlock()
		return fmt.Errorf("task %s is not running", taskID)
	}
	close(s.stopStep)
	s.stopStep = nil
	s.stitching = ""
	l := s.listener
	s.mu.Unlock()

	if l != nil {
		l.OnStateChange(taskID, models.StitchPaused)
	}
	return nil
}

// Close stops any running stitch and waits for pending callbacks
func (s *Simulator) Close() {
	s.mu.Lock()
	if s.stopStep != nil {
		close(s.stopStep)
		s.stopStep = nil
		s.stitching = ""
	}
	s.mu.Unlock()
	s.wg.Wait()
}
