// Package tick runs the one-second duration updates used by the recording
// and live controllers.
package tick

import (
	"sync"
	"time"
)

// Interval is the period of a real tick source
const Interval = time.Second

// Source delivers ticks until stopped
type Source interface {
	C() <-chan time.Time
	Stop()
}

type acker interface {
	ack()
}

// SourceFunc creates a fresh Source for each task
type SourceFunc func() Source

type tickerSource struct {
	t *time.Ticker
}

func (s tickerSource) C() <-chan time.Time { return s.t.C }
func (s tickerSource) Stop()               { s.t.Stop() }

// Ticker returns a SourceFunc backed by time.Ticker
func Ticker(d time.Duration) SourceFunc {
	return func() Source {
		return tickerSource{t: time.NewTicker(d)}
	}
}

// Task calls fn once per tick on its own goroutine until Stop
type Task struct {
	src  Source
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Start begins delivering ticks from src to fn
func Start(src Source, fn func(time.Time)) *Task {
	t := &Task{
		src:  src,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go t.run(fn)
	return t
}

func (t *Task) run(fn func(time.Time)) {
	defer close(t.done)
	defer t.src.Stop()
	for {
		select {
		case <-t.stop:
			return
		case now := <-t.src.C():
			select {
			case <-t.stop:
				return
			default:
			}
			fn(now)
			if a, ok := t.src.(acker); ok {
				a.ack()
			}
		}
	}
}

// Stop ends the task. It is safe to call more than once and from inside fn.
func (t *Task) Stop() {
	if t == nil {
		return
	}
	t.once.Do(func() { close(t.stop) })
}

// Wait blocks until the task goroutine has exited
func (t *Task) Wait() {
	if t == nil {
		return
	}
	<-t.done
}

// Done is closed once the task goroutine has exited
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Running filters out tasks whose goroutine has already exited, reusing
// the backing array of tasks
func Running(tasks []*Task) []*Task {
	live := tasks[:0]
	for _, t := range tasks {
		select {
		case <-t.Done():
		default:
			live = append(live, t)
		}
	}
	for i := len(live); i < len(tasks); i++ {
		tasks[i] = nil
	}
	return live
}

// Manual is a Source fired by hand, used by tests and the simulator
type Manual struct {
	ch      chan time.Time
	acked   chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewManual returns a manual source
func NewManual() *Manual {
	return &Manual{
		ch:      make(chan time.Time),
		acked:   make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// C returns the tick channel
func (m *Manual) C() <-chan time.Time { return m.ch }

// Stop marks the source finished; pending and later Fire calls return false
func (m *Manual) Stop() {
	m.once.Do(func() { close(m.stopped) })
}

func (m *Manual) ack() {
	select {
	case m.acked <- struct{}{}:
	default:
	}
}

// Fire delivers one tick and blocks until the task callback has returned.
// It reports false if the task stopped before handling the tick.
func (m *Manual) Fire() bool {
	select {
	case m.ch <- time.Now():
	case <-m.stopped:
		return false
	}
	select {
	case <-m.acked:
		return true
	case <-m.stopped:
		return false
	}
}

// ManualFactory hands out a fresh Manual for every task started with it
type ManualFactory struct {
	sources chan *Manual
}

// NewManualFactory creates a factory that can hold up to 16 unclaimed sources
func NewManualFactory() *ManualFactory {
	return &ManualFactory{sources: make(chan *Manual, 16)}
}

// Func is the SourceFunc to inject into a controller
func (f *ManualFactory) Func() SourceFunc {
	return func() Source {
		m := NewManual()
		f.sources <- m
		return m
	}
}

// Next returns the oldest unclaimed source, waiting up to timeout
func (f *ManualFactory) Next(timeout time.Duration) (*Manual, bool) {
	select {
	case m := <-f.sources:
		return m, true
	case <-time.After(timeout):
		return nil, false
	}
}
