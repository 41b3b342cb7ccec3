package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/panocam/internal/logging"
	"github.com/therealutkarshpriyadarshi/panocam/pkg/models"
)

// LogSink writes every event to the structured log
func LogSink(logger *logging.Logger) Sink {
	logger = logger.WithComponent("events")
	return SinkFunc(func(_ context.Context, ev models.Event) error {
		l := logger.WithFields(map[string]interface{}{
			"kind":   string(ev.Kind),
			"source": string(ev.Source),
		})
		if ev.SessionID != "" {
			l = l.WithSessionID(ev.SessionID)
		}
		if ev.TaskID != "" {
			l = l.WithTaskID(ev.TaskID)
		}
		switch ev.Kind {
		case models.EventError:
			if ev.Err != nil {
				l = l.WithError(ev.Err)
			}
			l.Warn("Event")
		case models.EventRecordingTick, models.EventLiveTick, models.EventStitchProgress:
			l.Debug("Event")
		default:
			l.Info("Event")
		}
		return nil
	})
}

// TelemetryStore is the subset of the cache written by CacheSink
type TelemetryStore interface {
	SetLiveTelemetry(ctx context.Context, t models.LiveTelemetry, ttl time.Duration) error
	SetStitchProgress(ctx context.Context, taskID string, progress float64, ttl time.Duration) error
	IncrementStat(ctx context.Context, stat string) error
}

// CacheSink publishes live telemetry and stitch progress for readers that do
// not hold the controllers, and counts events by kind.
func CacheSink(store TelemetryStore, ttl time.Duration) Sink {
	return SinkFunc(func(ctx context.Context, ev models.Event) error {
		switch ev.Kind {
		case models.EventLiveTick:
			if err := store.SetLiveTelemetry(ctx, models.LiveTelemetry{
				SessionID:         ev.SessionID,
				ElapsedSeconds:    ev.Elapsed,
				Display:           ev.Display,
				CurrentThroughput: ev.Throughput,
				Status:            models.LiveStatusLive,
			}, ttl); err != nil {
				return err
			}
		case models.EventStitchProgress:
			if err := store.SetStitchProgress(ctx, ev.TaskID, ev.Progress, ttl); err != nil {
				return err
			}
		case models.EventStitchCompleted, models.EventStitchFinished:
			if err := store.SetStitchProgress(ctx, ev.TaskID, 100, ttl); err != nil {
				return err
			}
		}
		return store.IncrementStat(ctx, "events:"+string(ev.Kind))
	})
}

// MediaStore is the subset of the repository written by MediaSink
type MediaStore interface {
	CreateMedia(ctx context.Context, m *models.MediaRecord) error
}

// MediaSink records every file produced by a capture or stitch
func MediaSink(store MediaStore) Sink {
	return SinkFunc(func(ctx context.Context, ev models.Event) error {
		kind, ok := mediaKind(ev.Kind)
		if !ok || ev.Path == "" {
			return nil
		}
		rec := &models.MediaRecord{
			Kind:     kind,
			Mode:     ev.Mode,
			Path:     ev.Path,
			Metadata: models.Metadata{"source": string(ev.Source)},
		}
		if ev.SessionID != "" {
			rec.Metadata["session_id"] = ev.SessionID
		}
		if ev.TaskID != "" {
			rec.Metadata["task_id"] = ev.TaskID
		}
		if ev.Elapsed > 0 {
			rec.Metadata["elapsed_seconds"] = ev.Elapsed
		}
		if err := store.CreateMedia(ctx, rec); err != nil {
			return fmt.Errorf("failed to record %s: %w", kind, err)
		}
		return nil
	})
}

func mediaKind(k models.EventKind) (string, bool) {
	switch k {
	case models.EventPhotoTaken:
		return models.MediaKindPhoto, true
	case models.EventRecordingSaved:
		return models.MediaKindRecording, true
	case models.EventLiveSegmentSaved:
		return models.MediaKindLiveSegment, true
	case models.EventStitchCompleted:
		return models.MediaKindStitched, true
	}
	return "", false
}
