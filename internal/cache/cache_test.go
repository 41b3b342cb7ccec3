package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/therealutkarshpriyadarshi/panocam/pkg/models"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	// Create a mini Redis server for testing
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	cache, err := NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create cache: %v", err)
	}

	return cache, mr
}

func TestNewCache(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	if err := cache.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewCacheUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	host, port := mr.Host(), mr.Server().Addr().Port
	mr.Close()

	if _, err := NewCache(host, port, "", 0); err == nil {
		t.Error("Expected error connecting to a closed server")
	}
}

func TestCache_SessionOperations(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	state := models.SessionState{
		SessionID: "session-1",
		Mode:      models.ModeVideoPlane,
		Label:     models.Label4K,
		Phase:     models.PhasePreviewReady,
	}

	if err := cache.SetSession(ctx, state, time.Minute); err != nil {
		t.Fatalf("SetSession failed: %v", err)
	}

	got, err := cache.GetSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected a cached session")
	}
	if got.Mode != models.ModeVideoPlane || got.Phase != models.PhasePreviewReady {
		t.Errorf("Unexpected session %+v", got)
	}

	// TTL applies
	mr.FastForward(2 * time.Minute)
	got, err = cache.GetSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got != nil {
		t.Error("Expected session to expire")
	}
}

func TestCache_RecordingOperations(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	rec := &models.RecordingSession{ID: "rec-1", Mode: models.ModeVideoTimelapse, ElapsedSeconds: 42, IsTimelapse: true, LapseIntervalSeconds: 10}
	if err := cache.SetRecording(ctx, rec, time.Minute); err != nil {
		t.Fatalf("SetRecording failed: %v", err)
	}

	got, err := cache.GetRecording(ctx, "rec-1")
	if err != nil || got == nil {
		t.Fatalf("GetRecording failed: %v", err)
	}
	if got.EffectiveSeconds() != 4 {
		t.Errorf("Expected 4 effective seconds, got %d", got.EffectiveSeconds())
	}

	missing, err := cache.GetRecording(ctx, "rec-2")
	if err != nil || missing != nil {
		t.Errorf("Expected miss, got %v %v", missing, err)
	}
}

func TestCache_LiveTelemetry(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	tel := models.LiveTelemetry{SessionID: "live-1", ElapsedSeconds: 61, Display: "00:01:01", CurrentThroughput: 8 * 1024 * 1024, Status: models.LiveStatusLive}
	if err := cache.SetLiveTelemetry(ctx, tel, time.Minute); err != nil {
		t.Fatalf("SetLiveTelemetry failed: %v", err)
	}

	got, err := cache.GetLiveTelemetry(ctx, "live-1")
	if err != nil || got == nil {
		t.Fatalf("GetLiveTelemetry failed: %v", err)
	}
	if *got != tel {
		t.Errorf("Expected %+v, got %+v", tel, *got)
	}
}

func TestCache_StitchOperations(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	task := &models.StitchTask{
		ID:         "task-1",
		SourcePath: "/dcim/240131_094512037_u",
		OutputDims: models.Size{Width: 5760, Height: 2880},
		Fps:        30,
		State:      models.StitchRunning,
	}
	if err := cache.SetStitchTask(ctx, task, time.Minute); err != nil {
		t.Fatalf("SetStitchTask failed: %v", err)
	}
	got, err := cache.GetStitchTask(ctx, "task-1")
	if err != nil || got == nil {
		t.Fatalf("GetStitchTask failed: %v", err)
	}
	if got.OutputDims != task.OutputDims || got.State != models.StitchRunning {
		t.Errorf("Unexpected task %+v", got)
	}

	if _, ok, err := cache.GetStitchProgress(ctx, "task-1"); err != nil || ok {
		t.Errorf("Expected progress miss, got ok=%v err=%v", ok, err)
	}
	if err := cache.SetStitchProgress(ctx, "task-1", 62.5, time.Minute); err != nil {
		t.Fatalf("SetStitchProgress failed: %v", err)
	}
	progress, ok, err := cache.GetStitchProgress(ctx, "task-1")
	if err != nil || !ok {
		t.Fatalf("GetStitchProgress failed: ok=%v err=%v", ok, err)
	}
	if progress != 62.5 {
		t.Errorf("Expected progress 62.5, got %f", progress)
	}
}

func TestCache_StatOperations(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	if v, err := cache.GetStat(ctx, "photos"); err != nil || v != 0 {
		t.Errorf("Expected 0 for missing stat, got %d %v", v, err)
	}
	for i := 0; i < 3; i++ {
		if err := cache.IncrementStat(ctx, "photos"); err != nil {
			t.Fatalf("IncrementStat failed: %v", err)
		}
	}
	v, err := cache.GetStat(ctx, "photos")
	if err != nil {
		t.Fatalf("GetStat failed: %v", err)
	}
	if v != 3 {
		t.Errorf("Expected 3, got %d", v)
	}
}

func TestCache_Locking(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	ok, err := cache.AcquireLock(ctx, "stitch:/dcim/a_u", time.Minute)
	if err != nil || !ok {
		t.Fatalf("AcquireLock failed: ok=%v err=%v", ok, err)
	}
	ok, err = cache.AcquireLock(ctx, "stitch:/dcim/a_u", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if ok {
		t.Error("Second lock should fail")
	}
	if err := cache.ReleaseLock(ctx, "stitch:/dcim/a_u"); err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}
	ok, _ = cache.AcquireLock(ctx, "stitch:/dcim/a_u", time.Minute)
	if !ok {
		t.Error("Lock should be available after release")
	}
}

func TestCache_DeletePatternAndExists(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if err := cache.SetStitchProgress(ctx, id, 10, time.Minute); err != nil {
			t.Fatalf("SetStitchProgress failed: %v", err)
		}
	}
	exists, err := cache.Exists(ctx, "stitch:progress:a")
	if err != nil || !exists {
		t.Fatalf("Expected key to exist: %v", err)
	}

	if err := cache.DeletePattern(ctx, "stitch:progress:*"); err != nil {
		t.Fatalf("DeletePattern failed: %v", err)
	}
	exists, _ = cache.Exists(ctx, "stitch:progress:b")
	if exists {
		t.Error("Expected keys to be deleted")
	}
}

func TestCache_GetWithJSONMiss(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	dest := map[string]string{"kept": "yes"}
	if err := cache.GetWithJSON(context.Background(), "missing", &dest); err != nil {
		t.Fatalf("GetWithJSON failed: %v", err)
	}
	if dest["kept"] != "yes" {
		t.Error("Miss should leave dest untouched")
	}
}
