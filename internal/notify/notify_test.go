package notify

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/therealutkarshpriyadarshi/panocam/internal/cache"
	"github.com/therealutkarshpriyadarshi/panocam/internal/logging"
	"github.com/therealutkarshpriyadarshi/panocam/internal/session"
	"github.com/therealutkarshpriyadarshi/panocam/pkg/models"
)

var _ session.Notifier = (*Hub)(nil)

type recordingSink struct {
	mu     sync.Mutex
	events []models.Event
	err    error
}

func (s *recordingSink) Handle(_ context.Context, ev models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) kinds() []models.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.EventKind, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Kind
	}
	return out
}

func TestHub_DeliversInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	first := &recordingSink{err: errors.New("unavailable")}
	second := &recordingSink{}
	hub := NewHub(logging.NewNop(), first, second)

	hub.Notify(models.Event{Kind: models.EventBusy})
	hub.Notify(models.Event{Kind: models.EventPhotoTaken, Path: "/dcim/a_np.jpg"})
	hub.Notify(models.Event{Kind: models.EventIdle})
	hub.Close()

	want := []models.EventKind{models.EventBusy, models.EventPhotoTaken, models.EventIdle}
	assert.Equal(t, want, first.kinds())
	assert.Equal(t, want, second.kinds(), "a failing sink must not stop later sinks")
}

func TestHub_NotifyAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &recordingSink{}
	hub := NewHub(logging.NewNop(), sink)
	hub.Close()
	hub.Close()

	assert.NotPanics(t, func() { hub.Notify(models.Event{Kind: models.EventIdle}) })
	assert.Empty(t, sink.kinds())
}

func TestHub_Recent(t *testing.T) {
	hub := NewHub(logging.NewNop())
	defer hub.Close()

	for i := 0; i < DefaultHistory+5; i++ {
		hub.Notify(models.Event{Kind: models.EventRecordingTick, Elapsed: i})
	}

	all := hub.Recent(0)
	require.Len(t, all, DefaultHistory)
	assert.Equal(t, 5, all[0].Elapsed)

	last := hub.Recent(2)
	require.Len(t, last, 2)
	assert.Equal(t, DefaultHistory+3, last[0].Elapsed)
	assert.Equal(t, DefaultHistory+4, last[1].Elapsed)
}

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Handle(ctx context.Context, _ models.Event) error {
	<-s.release
	return nil
}

func TestHub_NotifyDoesNotBlock(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	hub := NewHub(logging.NewNop(), sink)

	done := make(chan struct{})
	go func() {
		for i := 0; i < DefaultBuffer*2; i++ {
			hub.Notify(models.Event{Kind: models.EventLiveTick})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a slow sink")
	}
	close(sink.release)
	hub.Close()
}

type fakeMediaStore struct {
	records []*models.MediaRecord
}

func (s *fakeMediaStore) CreateMedia(_ context.Context, m *models.MediaRecord) error {
	s.records = append(s.records, m)
	return nil
}

func TestMediaSink(t *testing.T) {
	tests := []struct {
		name     string
		event    models.Event
		wantKind string
	}{
		{"photo", models.Event{Kind: models.EventPhotoTaken, Mode: models.ModePhoto, Path: "/dcim/a_np.jpg"}, models.MediaKindPhoto},
		{"recording", models.Event{Kind: models.EventRecordingSaved, Mode: models.ModeVideoPlane, Path: "/dcim/b_plv.mp4", Elapsed: 12}, models.MediaKindRecording},
		{"live segment", models.Event{Kind: models.EventLiveSegmentSaved, Path: "/dcim/live/c_lv.mp4"}, models.MediaKindLiveSegment},
		{"stitched", models.Event{Kind: models.EventStitchCompleted, TaskID: "t1", Path: "/dcim/d_s.mp4"}, models.MediaKindStitched},
		{"finished without output", models.Event{Kind: models.EventStitchFinished, TaskID: "t2"}, ""},
		{"tick", models.Event{Kind: models.EventRecordingTick, Elapsed: 3}, ""},
		{"photo without path", models.Event{Kind: models.EventPhotoTaken}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeMediaStore{}
			require.NoError(t, MediaSink(store).Handle(context.Background(), tt.event))

			if tt.wantKind == "" {
				assert.Empty(t, store.records)
				return
			}
			require.Len(t, store.records, 1)
			rec := store.records[0]
			assert.Equal(t, tt.wantKind, rec.Kind)
			assert.Equal(t, tt.event.Path, rec.Path)
			assert.Equal(t, tt.event.Mode, rec.Mode)
			if tt.event.TaskID != "" {
				assert.Equal(t, tt.event.TaskID, rec.Metadata["task_id"])
			}
			if tt.event.Elapsed > 0 {
				assert.Equal(t, tt.event.Elapsed, rec.Metadata["elapsed_seconds"])
			}
		})
	}
}

func TestCacheSink(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	c, err := cache.NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	sink := CacheSink(c, time.Minute)

	require.NoError(t, sink.Handle(ctx, models.Event{
		Kind: models.EventLiveTick, SessionID: "s1", Elapsed: 65, Display: "01:05", Throughput: 3 * 1024 * 1024,
	}))
	tel, err := c.GetLiveTelemetry(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, tel)
	assert.Equal(t, 65, tel.ElapsedSeconds)
	assert.Equal(t, "01:05", tel.Display)
	assert.Equal(t, int64(3*1024*1024), tel.CurrentThroughput)

	require.NoError(t, sink.Handle(ctx, models.Event{Kind: models.EventStitchProgress, TaskID: "t1", Progress: 42.5}))
	progress, ok, err := c.GetStitchProgress(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 42.5, progress)

	require.NoError(t, sink.Handle(ctx, models.Event{Kind: models.EventStitchFinished, TaskID: "t1"}))
	progress, _, err = c.GetStitchProgress(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, progress)

	count, err := c.GetStat(ctx, "events:"+string(models.EventStitchProgress))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(&buf, logging.Config{Level: "debug", Format: "json"})
	sink := LogSink(logger)

	require.NoError(t, sink.Handle(context.Background(), models.Event{
		Kind:   models.EventError,
		Source: models.SourceRecording,
		Err:    models.EngineError(-3, "sd card full"),
	}))
	require.NoError(t, sink.Handle(context.Background(), models.Event{Kind: models.EventError}))

	out := buf.String()
	assert.Contains(t, out, `"kind":"error"`)
	assert.Contains(t, out, "sd card full")
	assert.Contains(t, out, `"source":"recording"`)
}
