package live

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/therealutkarshpriyadarshi/panocam/internal/engine"
	"github.com/therealutkarshpriyadarshi/panocam/internal/engine/enginetest"
	"github.com/therealutkarshpriyadarshi/panocam/internal/logging"
	"github.com/therealutkarshpriyadarshi/panocam/internal/resolver"
	"github.com/therealutkarshpriyadarshi/panocam/internal/session"
	"github.com/therealutkarshpriyadarshi/panocam/internal/tick"
	"github.com/therealutkarshpriyadarshi/panocam/pkg/models"
)

var fixedNow = time.Date(2024, 1, 31, 9, 45, 12, 0, time.UTC)

type fakeSession struct {
	mu             sync.Mutex
	bundle         models.Bundle
	err            error
	held           bool
	releases       int
	renegotiated   int
	renegotiateErr error
}

func (s *fakeSession) Acquire(a session.Activity) (models.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return models.Bundle{}, s.err
	}
	if s.held {
		return models.Bundle{}, models.Precondition("already held")
	}
	s.held = true
	return s.bundle, nil
}

func (s *fakeSession) Release(a session.Activity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held {
		s.held = false
		s.releases++
	}
}

func (s *fakeSession) Renegotiate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renegotiated++
	return s.renegotiateErr
}

func (s *fakeSession) isHeld() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

type fixture struct {
	ctrl   *Controller
	pusher *enginetest.Pusher
	rec    *enginetest.Recorder
	sess   *fakeSession
	ticks  *tick.ManualFactory
}

func newFixture(t *testing.T, mode models.CaptureMode, cfg Config) *fixture {
	t.Helper()
	b, err := resolver.Resolve(resolver.Request{Mode: mode})
	require.NoError(t, err)

	f := &fixture{
		pusher: enginetest.NewPusher(),
		rec:    enginetest.NewRecorder(),
		sess:   &fakeSession{bundle: b},
		ticks:  tick.NewManualFactory(),
	}
	if cfg.URL == "" {
		cfg.URL = "rtmp://live.example.com/app/key"
	}
	cfg.Ticks = f.ticks.Func()
	cfg.Now = func() time.Time { return fixedNow }
	f.ctrl = New(f.sess, f.pusher, f.rec, logging.NewNop(), cfg)
	return f
}

// goLive starts the push and drives it to the live state
func (f *fixture) goLive(t *testing.T) *tick.Manual {
	t.Helper()
	require.NoError(t, f.ctrl.Start(context.Background()))
	f.pusher.Emit(engine.PushEvent{Kind: engine.PushStart})
	f.rec.WaitFor(t, models.EventLiveStarting, 1)
	f.pusher.Emit(engine.PushEvent{Kind: engine.PushPrepared})
	f.rec.WaitFor(t, models.EventLiveStarted, 1)

	m, ok := f.ticks.Next(enginetest.Timeout)
	require.True(t, ok, "tick not started")
	return m
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"empty", "", true},
		{"http scheme", "http://example.com/live", true},
		{"missing scheme", "example.com/live", true},
		{"rtmp", "rtmp://example.com/live/key", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStartRejectsInvalidURL(t *testing.T) {
	defer goleak.VerifyNone(t)

	for _, url := range []string{"", "srt://example.com/live"} {
		b, err := resolver.Resolve(resolver.Request{Mode: models.ModeLivePanorama})
		require.NoError(t, err)
		sess := &fakeSession{bundle: b}
		pusher := enginetest.NewPusher()
		ctrl := New(sess, pusher, nil, logging.NewNop(), Config{URL: url})

		err = ctrl.Start(context.Background())
		assert.ErrorIs(t, err, models.ErrValidation)
		assert.Empty(t, pusher.Commands(), "no pusher call on invalid url")
		assert.False(t, sess.isHeld())
		assert.Equal(t, models.LiveStatusIdle, ctrl.Status().State)
		ctrl.Close()
	}
}

func TestLiveLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, models.ModeLivePanorama, Config{BitrateMbps: 10})
	defer f.ctrl.Close()

	require.NoError(t, f.ctrl.Start(context.Background()))
	assert.Equal(t, models.LiveStatusStarting, f.ctrl.Status().State)
	assert.True(t, f.sess.isHeld())
	assert.Equal(t, []string{"prepare", "start"}, f.pusher.Commands())

	params := f.pusher.Params()
	require.Len(t, params, 1)
	assert.Equal(t, models.Size{Width: 2160, Height: 1080}, params[0].Size)
	assert.Equal(t, int64(10*1024*1024), params[0].Bitrate)
	assert.True(t, params[0].Panorama)
	assert.Empty(t, params[0].RecordPath)

	f.pusher.Emit(engine.PushEvent{Kind: engine.PushStart})
	f.rec.WaitFor(t, models.EventLiveStarting, 1)
	assert.Equal(t, models.LiveStatusPreparing, f.ctrl.Status().State)

	f.pusher.Emit(engine.PushEvent{Kind: engine.PushPrepared})
	f.rec.WaitFor(t, models.EventLiveStarted, 1)
	assert.Equal(t, models.LiveStatusLive, f.ctrl.Status().State)

	m, ok := f.ticks.Next(enginetest.Timeout)
	require.True(t, ok)

	f.pusher.SetThroughput(3 * 1024 * 1024)
	for i := 0; i < 3; i++ {
		require.True(t, m.Fire())
	}
	ev, ok := f.rec.Last(models.EventLiveTick)
	require.True(t, ok)
	assert.Equal(t, 3, ev.Elapsed)
	assert.Equal(t, "00:00:03", ev.Display)
	assert.Equal(t, int64(3*1024*1024), ev.Throughput)
	assert.Equal(t, "3 Mbps", ev.Message)

	st := f.ctrl.Status()
	require.NotNil(t, st.Session)
	assert.Equal(t, 3, st.Session.ElapsedSeconds)
	assert.Equal(t, "3 Mbps", st.Bitrate)

	require.NoError(t, f.ctrl.Stop())
	assert.False(t, m.Fire(), "tick must stop on stop")
	require.NoError(t, f.ctrl.Stop(), "second stop is a no-op")
	assert.Equal(t, []string{"prepare", "start", "stop"}, f.pusher.Commands())

	f.pusher.Emit(engine.PushEvent{Kind: engine.PushStopped})
	stopped := f.rec.WaitFor(t, models.EventLiveStopped, 1)
	assert.Equal(t, 3, stopped.Elapsed)

	assert.Equal(t, models.LiveStatusIdle, f.ctrl.Status().State)
	assert.Nil(t, f.ctrl.Status().Session)
	assert.False(t, f.sess.isHeld())
	assert.Equal(t, models.EventIdle, f.rec.Kinds()[len(f.rec.Kinds())-1])
}

func TestStoppedTicksAreReleased(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, models.ModeLivePanorama, Config{})
	defer f.ctrl.Close()

	exited := func() bool {
		f.ctrl.mu.Lock()
		defer f.ctrl.mu.Unlock()
		for _, task := range f.ctrl.stale {
			select {
			case <-task.Done():
			default:
				return false
			}
		}
		return true
	}

	for i := 1; i <= 3; i++ {
		require.NoError(t, f.ctrl.Start(context.Background()))
		f.pusher.Emit(engine.PushEvent{Kind: engine.PushStart})
		f.rec.WaitFor(t, models.EventLiveStarting, i)
		f.pusher.Emit(engine.PushEvent{Kind: engine.PushPrepared})
		f.rec.WaitFor(t, models.EventLiveStarted, i)
		_, ok := f.ticks.Next(enginetest.Timeout)
		require.True(t, ok)

		require.NoError(t, f.ctrl.Stop())
		f.pusher.Emit(engine.PushEvent{Kind: engine.PushStopped})
		f.rec.WaitFor(t, models.EventLiveStopped, i)
		require.Eventually(t, exited, enginetest.Timeout, time.Millisecond)
	}

	f.ctrl.mu.Lock()
	defer f.ctrl.mu.Unlock()
	assert.Len(t, f.ctrl.stale, 1, "only the latest stopped tick is kept")
}

func TestRecordWhileLive(t *testing.T) {
	tests := []struct {
		name      string
		mbps      int
		record    bool
		wantPath  string
		wantSplit int
	}{
		{"disabled", 8, false, "", 0},
		{"under ceiling", 8, true, "/dcim/live", 300},
		{"at ceiling", 15, true, "/dcim/live", 300},
		{"over ceiling", 20, true, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, models.ModeLivePanorama, Config{
				BitrateMbps:  tt.mbps,
				Record:       tt.record,
				RecordDir:    "/dcim/live",
				SplitMinutes: 5,
			})
			defer f.ctrl.Close()

			require.NoError(t, f.ctrl.Start(context.Background()))
			params := f.pusher.Params()
			require.Len(t, params, 1)
			assert.Equal(t, tt.wantPath, params[0].RecordPath)
			assert.Equal(t, tt.wantSplit, params[0].SplitSeconds)
			assert.Equal(t, tt.wantPath != "", f.ctrl.Status().Session.RecordWhileLive)
		})
	}
}

func TestScreenLivePushSize(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, models.ModeLiveScreen, Config{AspectRatio: "9:16"})
	defer f.ctrl.Close()

	require.NoError(t, f.ctrl.Start(context.Background()))
	params := f.pusher.Params()
	require.Len(t, params, 1)
	assert.False(t, params[0].Panorama)
	assert.Equal(t, models.Size{Width: 1080, Height: 1920}, params[0].Size)
}

func TestPauseResumeWaitsForPusher(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, models.ModeLivePanorama, Config{})
	defer f.ctrl.Close()

	err := f.ctrl.PauseResume()
	assert.ErrorIs(t, err, models.ErrPrecondition, "not live yet")

	f.goLive(t)

	require.NoError(t, f.ctrl.PauseResume())
	assert.Equal(t, models.LiveStatusLive, f.ctrl.Status().State, "state waits for confirmation")
	assert.ErrorIs(t, f.ctrl.PauseResume(), models.ErrPrecondition, "toggle pending")

	f.pusher.Emit(engine.PushEvent{Kind: engine.PushPaused})
	f.rec.WaitFor(t, models.EventLivePaused, 1)
	assert.Equal(t, models.LiveStatusPaused, f.ctrl.Status().State)

	require.NoError(t, f.ctrl.PauseResume())
	f.pusher.Emit(engine.PushEvent{Kind: engine.PushResumed})
	f.rec.WaitFor(t, models.EventLiveResumed, 1)
	assert.Equal(t, models.LiveStatusLive, f.ctrl.Status().State)

	assert.Equal(t, []string{"prepare", "start", "pause", "resume"}, f.pusher.Commands())
}

func TestPusherPauseIsAuthoritative(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, models.ModeLivePanorama, Config{})
	defer f.ctrl.Close()
	f.goLive(t)

	// The pusher may pause on its own, e.g. on a network stall.
	f.pusher.Emit(engine.PushEvent{Kind: engine.PushPaused})
	f.rec.WaitFor(t, models.EventLivePaused, 1)
	assert.Equal(t, models.LiveStatusPaused, f.ctrl.Status().State)
}

func TestPushError(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, models.ModeLivePanorama, Config{})
	defer f.ctrl.Close()
	m := f.goLive(t)

	f.pusher.Emit(engine.PushEvent{Kind: engine.PushError, Code: 502, Message: "connection reset"})
	ev := f.rec.WaitFor(t, models.EventError, 1)
	require.NotNil(t, ev.Err)
	assert.Equal(t, models.KindEngine, ev.Err.Kind)
	assert.Equal(t, 502, ev.Err.Code)
	assert.Equal(t, "connection reset", ev.Message)

	assert.Equal(t, models.LiveStatusIdle, f.ctrl.Status().State)
	assert.False(t, f.sess.isHeld())
	assert.False(t, m.Fire())
}

func TestSegmentSaved(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, models.ModeLivePanorama, Config{Record: true, RecordDir: "/dcim", SplitMinutes: 1})
	defer f.ctrl.Close()
	f.goLive(t)

	f.pusher.Emit(engine.PushEvent{Kind: engine.PushPathSuccess, Path: "/dcim/240131_094512000_lv.mp4"})
	ev := f.rec.WaitFor(t, models.EventLiveSegmentSaved, 1)
	assert.Equal(t, "/dcim/240131_094512000_lv.mp4", ev.Path)
	assert.Equal(t, models.LiveStatusLive, f.ctrl.Status().State)
}

func TestPrepareFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, models.ModeLivePanorama, Config{})
	defer f.ctrl.Close()
	f.pusher.FailPrepare(errors.New("encoder busy"))

	err := f.ctrl.Start(context.Background())
	assert.ErrorIs(t, err, models.ErrEngine)
	assert.False(t, f.sess.isHeld())
	assert.Equal(t, models.LiveStatusIdle, f.ctrl.Status().State)
}

func TestStartRequiresSession(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, models.ModeLivePanorama, Config{})
	defer f.ctrl.Close()
	f.sess.err = models.Precondition("recording")

	err := f.ctrl.Start(context.Background())
	assert.ErrorIs(t, err, models.ErrPrecondition)
	assert.Empty(t, f.pusher.Commands())
}

func TestStartTwice(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, models.ModeLivePanorama, Config{})
	defer f.ctrl.Close()

	require.NoError(t, f.ctrl.Start(context.Background()))
	assert.ErrorIs(t, f.ctrl.Start(context.Background()), models.ErrPrecondition)
}

func TestHandleFault(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("idle renegotiates", func(t *testing.T) {
		f := newFixture(t, models.ModeLivePanorama, Config{})
		defer f.ctrl.Close()

		require.NoError(t, f.ctrl.HandleFault(context.Background(), errors.New("sensor reset")))
		assert.Equal(t, 1, f.sess.renegotiated)
		assert.Empty(t, f.pusher.Commands())
	})

	t.Run("live stops", func(t *testing.T) {
		f := newFixture(t, models.ModeLivePanorama, Config{})
		defer f.ctrl.Close()
		f.goLive(t)

		require.NoError(t, f.ctrl.HandleFault(context.Background(), errors.New("sensor reset")))
		assert.Equal(t, 0, f.sess.renegotiated)
		assert.Contains(t, f.pusher.Commands(), "stop")

		f.pusher.Emit(engine.PushEvent{Kind: engine.PushStopped})
		f.rec.WaitFor(t, models.EventLiveStopped, 1)
		assert.False(t, f.sess.isHeld())
	})
}

func TestCloseWhileLive(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, models.ModeLivePanorama, Config{})
	f.goLive(t)

	f.ctrl.Close()
	assert.False(t, f.sess.isHeld())
	assert.Equal(t, models.LiveStatusIdle, f.ctrl.Status().State)
}

func TestLiveWithMachine(t *testing.T) {
	defer goleak.VerifyNone(t)

	eng := enginetest.NewEngine()
	rec := enginetest.NewRecorder()
	m := session.New(eng, rec, logging.NewNop(), session.Config{OutputDir: "/dcim"})
	defer m.Close()

	_, err := m.SelectMode(context.Background(), session.Selection{Mode: models.ModeLivePanorama})
	require.NoError(t, err)
	eng.Expect(t, engine.OpChangeResolution).Succeed("")
	rec.WaitFor(t, models.EventResolutionChanged, 1)

	pusher := enginetest.NewPusher()
	ticks := tick.NewManualFactory()
	ctrl := New(m, pusher, rec, logging.NewNop(), Config{URL: "rtmp://example.com/live", Ticks: ticks.Func()})
	defer ctrl.Close()

	require.NoError(t, ctrl.Start(context.Background()))
	assert.True(t, m.State().IsLive)

	_, err = m.SelectMode(context.Background(), session.Selection{Mode: models.ModePhoto})
	assert.ErrorIs(t, err, models.ErrPrecondition, "mode locked while live")

	require.NoError(t, ctrl.Stop())
	pusher.Emit(engine.PushEvent{Kind: engine.PushStopped})
	rec.WaitFor(t, models.EventLiveStopped, 1)
	assert.False(t, m.State().IsLive)
}
