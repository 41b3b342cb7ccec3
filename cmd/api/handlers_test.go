package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/panocam/internal/config"
	"github.com/therealutkarshpriyadarshi/panocam/internal/database"
	"github.com/therealutkarshpriyadarshi/panocam/internal/engine"
	"github.com/therealutkarshpriyadarshi/panocam/internal/live"
	"github.com/therealutkarshpriyadarshi/panocam/internal/logging"
	"github.com/therealutkarshpriyadarshi/panocam/internal/middleware"
	"github.com/therealutkarshpriyadarshi/panocam/internal/notify"
	"github.com/therealutkarshpriyadarshi/panocam/internal/probe"
	"github.com/therealutkarshpriyadarshi/panocam/internal/recording"
	"github.com/therealutkarshpriyadarshi/panocam/internal/session"
	"github.com/therealutkarshpriyadarshi/panocam/internal/stitch"
	"github.com/therealutkarshpriyadarshi/panocam/pkg/models"
)

const waitFor = 2 * time.Second
const pollEvery = 5 * time.Millisecond

type fakeProber struct {
	info *probe.Info
}

func (p fakeProber) Probe(context.Context, string) (*probe.Info, error) {
	return p.info, nil
}

type fakePublisher struct {
	mu   sync.Mutex
	jobs []*models.StitchJob
	err  error
}

func (p *fakePublisher) PublishJob(_ context.Context, job *models.StitchJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	return p.err
}

type fakeProgress map[string]float64

func (f fakeProgress) GetStitchProgress(_ context.Context, id string) (float64, bool, error) {
	p, ok := f[id]
	return p, ok, nil
}

type fakeMedia struct {
	filter  database.MediaFilter
	records []*models.MediaRecord
}

func (f *fakeMedia) ListMedia(_ context.Context, filter database.MediaFilter) ([]*models.MediaRecord, error) {
	f.filter = filter
	return f.records, nil
}

type fixture struct {
	api    *API
	sim    *engine.Simulator
	router *gin.Engine
	root   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	logger := logging.NewNop()
	sim := engine.NewSimulator(engine.SimulatorConfig{
		StitchStep:      5 * time.Millisecond,
		StitchIncrement: 50,
		WriteOutputs:    true,
	})
	hub := notify.NewHub(logger)

	api := &API{
		logger:    logger,
		prober:    fakeProber{info: &probe.Info{Width: 2880, Height: 2880, Fps: 30}},
		events:    hub,
		defaults:  selectionFromConfig(config.CaptureConfig{Mode: string(models.ModePhoto), PlaneField: 120, LapseMultiplier: 10}),
		stitchCfg: config.StitchConfig{Root: root, Priority: models.StitchPriorityNormal},
		checks:    make(map[string]func(context.Context) error),
	}
	api.session = session.New(sim, hub, logger, session.Config{OutputDir: root})
	api.recording = recording.New(api.session, sim, hub, logger, recording.Config{OutputDir: root})
	api.live = live.New(api.session, sim, hub, logger, live.Config{BitrateMbps: 8, RecordDir: root})
	api.stitch = stitch.New(sim, api.session, hub, logger, stitch.Options{AutoAdvance: true})

	t.Cleanup(func() {
		api.recording.Close()
		api.live.Close()
		api.session.Close()
		sim.Close()
		hub.Close()
	})

	return &fixture{
		api:    api,
		sim:    sim,
		router: setupRouter(api, config.ServerConfig{}, nil, logger),
		root:   root,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) selectMode(t *testing.T, mode models.CaptureMode) {
	t.Helper()
	w := f.do(t, "POST", "/api/v1/session/mode", gin.H{"mode": mode})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.Eventually(t, func() bool {
		return f.api.session.State().Phase == models.PhasePreviewReady
	}, waitFor, pollEvery)
}

func (f *fixture) hasEvent(kind models.EventKind) bool {
	for _, ev := range f.api.events.Recent(0) {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	f.api.checks["redis"] = func(context.Context) error { return errors.New("connection refused") }
	w = f.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode(t, w)
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, "connection refused", body["checks"].(map[string]interface{})["redis"])
}

func TestSelectModeAndCapturePhoto(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/api/v1/photo", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "no preview yet")

	w = f.do(t, "POST", "/api/v1/session/mode", gin.H{"mode": "photo", "label": "12K"})
	require.Equal(t, http.StatusAccepted, w.Code)
	bundle := decode(t, w)["bundle"].(map[string]interface{})
	assert.Equal(t, "12K", bundle["label"])
	assert.Equal(t, true, bundle["large_photo"])

	require.Eventually(t, func() bool {
		return f.api.session.State().Phase == models.PhasePreviewReady
	}, waitFor, pollEvery)

	w = f.do(t, "GET", "/api/v1/session", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "photo", decode(t, w)["mode"])

	w = f.do(t, "POST", "/api/v1/photo", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Eventually(t, func() bool { return f.hasEvent(models.EventPhotoTaken) }, waitFor, pollEvery)
}

func TestSelectModeRequiresMode(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/api/v1/session/mode", gin.H{"label": "8K"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecordToggle(t *testing.T) {
	f := newFixture(t)
	f.selectMode(t, models.ModeVideoPlane)

	w := f.do(t, "POST", "/api/v1/record/toggle", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Eventually(t, func() bool {
		return f.api.recording.Status().State == models.RecordingStatusRecording
	}, waitFor, pollEvery)

	w = f.do(t, "GET", "/api/v1/record", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.RecordingStatusRecording, decode(t, w)["state"])

	w = f.do(t, "POST", "/api/v1/record/toggle", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Eventually(t, func() bool { return f.hasEvent(models.EventRecordingSaved) }, waitFor, pollEvery)
	assert.Equal(t, models.RecordingStatusStopped, f.api.recording.Status().State)
}

func TestRecordToggleInPhotoMode(t *testing.T) {
	f := newFixture(t)
	f.selectMode(t, models.ModePhoto)

	w := f.do(t, "POST", "/api/v1/record/toggle", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	errBody := decode(t, w)["error"].(map[string]interface{})
	assert.Equal(t, string(models.KindPrecondition), errBody["kind"])
}

func TestLiveRejectsInvalidURL(t *testing.T) {
	f := newFixture(t)
	f.selectMode(t, models.ModeLivePanorama)

	w := f.do(t, "POST", "/api/v1/live/start", gin.H{"url": "http://example.com/live"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	errBody := decode(t, w)["error"].(map[string]interface{})
	assert.Equal(t, string(models.KindValidation), errBody["kind"])
	assert.Equal(t, 0, f.sim.Calls(engine.OpPrepare))
}

func TestLiveLifecycle(t *testing.T) {
	f := newFixture(t)
	f.selectMode(t, models.ModeLivePanorama)

	w := f.do(t, "POST", "/api/v1/live/start", gin.H{"url": "rtmp://example.com/live/key", "bitrate_mbps": 10})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.Eventually(t, func() bool {
		return f.api.live.Status().State == models.LiveStatusLive
	}, waitFor, pollEvery)

	w = f.do(t, "POST", "/api/v1/live/toggle-pause", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Eventually(t, func() bool {
		return f.api.live.Status().State == models.LiveStatusPaused
	}, waitFor, pollEvery)

	w = f.do(t, "GET", "/api/v1/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.LiveStatusPaused, decode(t, w)["state"])

	w = f.do(t, "POST", "/api/v1/live/stop", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Eventually(t, func() bool {
		return f.api.live.Status().State == models.LiveStatusIdle
	}, waitFor, pollEvery)
	assert.Eventually(t, func() bool { return f.hasEvent(models.EventLiveStopped) }, waitFor, pollEvery)
}

func makeSource(t *testing.T, root, name string, double bool) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, stitch.LensFile), []byte("lens"), 0o644))
	if double {
		require.NoError(t, os.WriteFile(filepath.Join(dir, stitch.SecondLensFile), []byte("lens"), 0o644))
	}
	return dir
}

func TestListSources(t *testing.T) {
	f := newFixture(t)
	makeSource(t, f.root, "240131_094512037_u", true)
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "other"), 0o755))

	w := f.do(t, "GET", "/api/v1/stitch/sources", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sources := decode(t, w)["sources"].([]interface{})
	require.Len(t, sources, 1)
	assert.Equal(t, filepath.Join(f.root, "240131_094512037_u"), sources[0])
}

func TestStitchJobLocal(t *testing.T) {
	f := newFixture(t)
	dir := makeSource(t, f.root, "240131_094512037_u", true)

	w := f.do(t, "POST", "/api/v1/stitch/jobs", gin.H{"source_path": "240131_094512037_u"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	task := decode(t, w)["task"].(map[string]interface{})
	id := task["id"].(string)
	assert.Equal(t, dir, task["source_path"])
	dims := task["output_dims"].(map[string]interface{})
	assert.Equal(t, 5760.0, dims["width"])
	assert.Equal(t, 2880.0, dims["height"])

	require.Eventually(t, func() bool { return f.hasEvent(models.EventStitchCompleted) }, waitFor, pollEvery)
	assert.FileExists(t, stitch.OutputPath(dir))
	assert.False(t, f.api.session.State().IsStitching)

	w = f.do(t, "GET", "/api/v1/stitch/jobs/"+id+"/progress", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 100.0, decode(t, w)["progress"])
}

func TestStitchJobQueuedBehindRunningTask(t *testing.T) {
	f := newFixture(t)
	slow := engine.NewSimulator(engine.SimulatorConfig{StitchStep: time.Hour})
	f.api.stitch = stitch.New(slow, f.api.session, f.api.events, f.api.logger, stitch.Options{AutoAdvance: true})
	t.Cleanup(slow.Close)

	makeSource(t, f.root, "a_u", false)
	makeSource(t, f.root, "b_u", false)

	w := f.do(t, "POST", "/api/v1/stitch/jobs", gin.H{"source_path": "a_u"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	first := decode(t, w)["task"].(map[string]interface{})
	assert.Equal(t, string(models.StitchRunning), first["state"])

	w = f.do(t, "POST", "/api/v1/stitch/jobs", gin.H{"source_path": "b_u"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	second := decode(t, w)["task"].(map[string]interface{})
	assert.Equal(t, string(models.StitchQueued), second["state"])

	status := f.api.stitch.Status()
	require.NotNil(t, status.Current)
	assert.Equal(t, first["id"], status.Current.ID)
	require.Len(t, status.Queued, 1)
	assert.Equal(t, second["id"], status.Queued[0].ID)
}

func TestStitchJobMissingLensFile(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "empty_u"), 0o755))

	w := f.do(t, "POST", "/api/v1/stitch/jobs", gin.H{"source_path": "empty_u"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, "POST", "/api/v1/stitch/jobs", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStitchJobPublished(t *testing.T) {
	f := newFixture(t)
	pub := &fakePublisher{}
	f.api.jobs = pub

	w := f.do(t, "POST", "/api/v1/stitch/jobs", gin.H{"source_path": "240131_094512037_u", "priority": models.StitchPriorityHigh})
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Len(t, pub.jobs, 1)
	assert.Equal(t, filepath.Join(f.root, "240131_094512037_u"), pub.jobs[0].SourcePath)
	assert.Equal(t, models.StitchPriorityHigh, pub.jobs[0].Priority)
	assert.NotEmpty(t, pub.jobs[0].ID)
	assert.Empty(t, f.api.stitch.Status().Queued, "published jobs are not stitched locally")

	pub.err = errors.New("channel closed")
	w = f.do(t, "POST", "/api/v1/stitch/jobs", gin.H{"source_path": "/abs/x_u"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestStitchProgressFromCache(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "GET", "/api/v1/stitch/jobs/unknown/progress", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.api.progress = fakeProgress{"remote": 35}
	w = f.do(t, "GET", "/api/v1/stitch/jobs/remote/progress", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 35.0, decode(t, w)["progress"])

	w = f.do(t, "GET", "/api/v1/stitch/jobs/unknown/progress", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStitchControl(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/api/v1/stitch/pause", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, "POST", "/api/v1/stitch/start", nil)
	assert.Equal(t, http.StatusAccepted, w.Code, "starting an empty queue is a no-op")

	w = f.do(t, "GET", "/api/v1/stitch", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["busy"])
}

func TestListMedia(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "GET", "/api/v1/media", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	media := &fakeMedia{records: []*models.MediaRecord{
		{ID: "m1", Kind: models.MediaKindRecording, Mode: models.ModeVideoPlane, Path: "/dcim/a_plv.mp4"},
	}}
	f.api.media = media

	w = f.do(t, "GET", "/api/v1/media?kind=recording&mode=video_plane&limit=5&offset=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, database.MediaFilter{Kind: "recording", Mode: models.ModeVideoPlane, Limit: 5, Offset: 10}, media.filter)
	assert.Len(t, decode(t, w)["media"], 1)
}

func TestListEvents(t *testing.T) {
	f := newFixture(t)
	f.selectMode(t, models.ModePhoto)

	w := f.do(t, "GET", "/api/v1/events?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["events"], 1)
}

func TestRouteFault(t *testing.T) {
	t.Run("recording consumes fault", func(t *testing.T) {
		f := newFixture(t)
		f.selectMode(t, models.ModeVideoVlog)
		require.NoError(t, f.api.recording.Toggle(context.Background()))
		require.Eventually(t, func() bool {
			return f.api.recording.Status().State == models.RecordingStatusRecording
		}, waitFor, pollEvery)

		f.api.routeFault(context.Background(), models.EngineError(-5, "sensor overheated"))

		assert.Equal(t, models.RecordingStatusStopped, f.api.recording.Status().State)
		assert.Eventually(t, func() bool { return f.hasEvent(models.EventError) }, waitFor, pollEvery)
	})

	t.Run("idle fault renegotiates", func(t *testing.T) {
		f := newFixture(t)
		f.selectMode(t, models.ModePhoto)
		before := f.sim.Calls(engine.OpChangeResolution)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- f.api.runFaults(ctx, f.sim.Faults()) }()

		f.sim.InjectFault(errors.New("preview lost"))
		assert.Eventually(t, func() bool {
			return f.sim.Calls(engine.OpChangeResolution) == before+1
		}, waitFor, pollEvery)

		cancel()
		assert.NoError(t, <-done)
	})
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t)
	router := setupRouter(f.api, config.ServerConfig{AuthSecret: "secret"}, middleware.NewRateLimiter(100, 100), logging.NewNop())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/session", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := middleware.GenerateToken("secret", "phone-app", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest("GET", "/api/v1/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code, "health is not authenticated")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&models.Error{Kind: models.KindValidation}, http.StatusBadRequest},
		{&models.Error{Kind: models.KindInvalidCombination}, http.StatusBadRequest},
		{models.Precondition("busy"), http.StatusConflict},
		{&models.Error{Kind: models.KindFileMissing}, http.StatusNotFound},
		{models.EngineError(-1, "x"), http.StatusBadGateway},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}

func TestSelectionFromConfig(t *testing.T) {
	sel := selectionFromConfig(config.CaptureConfig{
		Mode:            "video_plane",
		Label:           "4K",
		Encoding:        "h265",
		Pro:             models.ProParameters{ExposureTime: 125, ISO: 400},
		Stabilization:   true,
		AntiFlicker:     "50hz",
		PlaneRatio:      "16:9",
		PlaneField:      100,
		LapseMultiplier: 30,
	})

	assert.Equal(t, models.ModeVideoPlane, sel.Mode)
	assert.Equal(t, models.ResolutionLabel("4K"), sel.Label)
	assert.Equal(t, 400, sel.Pro.ISO)
	assert.Equal(t, "16:9", sel.Extras.AspectRatio)
	assert.Equal(t, 100, sel.Extras.LensField)
	assert.Equal(t, 30, sel.Extras.LapseMultiplier)
	assert.Equal(t, models.EncodingH265, sel.Extras.Encoding)
	assert.True(t, sel.Preview.Stabilization)
	assert.Equal(t, "50hz", sel.Preview.AntiFlicker)
}
