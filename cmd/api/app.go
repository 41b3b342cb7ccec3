package main

import (
	"context"
	"time"

	"github.com/therealutkarshpriyadarshi/panocam/internal/config"
	"github.com/therealutkarshpriyadarshi/panocam/internal/database"
	"github.com/therealutkarshpriyadarshi/panocam/internal/live"
	"github.com/therealutkarshpriyadarshi/panocam/internal/logging"
	"github.com/therealutkarshpriyadarshi/panocam/internal/notify"
	"github.com/therealutkarshpriyadarshi/panocam/internal/recording"
	"github.com/therealutkarshpriyadarshi/panocam/internal/resolver"
	"github.com/therealutkarshpriyadarshi/panocam/internal/session"
	"github.com/therealutkarshpriyadarshi/panocam/internal/stitch"
	"github.com/therealutkarshpriyadarshi/panocam/pkg/models"
)

// JobPublisher hands stitch jobs to the worker process
type JobPublisher interface {
	PublishJob(ctx context.Context, job *models.StitchJob) error
}

// ProgressReader reads stitch progress written by the worker process
type ProgressReader interface {
	GetStitchProgress(ctx context.Context, taskID string) (float64, bool, error)
}

// MediaLister lists recorded media
type MediaLister interface {
	ListMedia(ctx context.Context, f database.MediaFilter) ([]*models.MediaRecord, error)
}

// API holds the controllers and the optional infrastructure behind the
// HTTP surface. jobs, progress and media are nil when their backing service
// is disabled.
type API struct {
	logger    *logging.Logger
	session   *session.Machine
	recording *recording.Controller
	live      *live.Controller
	stitch    *stitch.Queue
	prober    stitch.Prober
	events    *notify.Hub
	defaults  session.Selection
	stitchCfg config.StitchConfig

	jobs     JobPublisher
	progress ProgressReader
	media    MediaLister
	checks   map[string]func(context.Context) error
}

// routeFault sends an engine fault to whichever controller owns the preview
func (api *API) routeFault(ctx context.Context, err error) {
	if api.recording.HandleFault(err) {
		return
	}
	if ferr := api.live.HandleFault(ctx, err); ferr != nil {
		api.logger.WithError(err).ErrorWithErr("Failed to recover from engine fault", ferr)
	}
}

// runFaults routes faults until ctx ends or the channel closes
func (api *API) runFaults(ctx context.Context, faults <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-faults:
			if !ok {
				return nil
			}
			api.routeFault(ctx, err)
		}
	}
}

func (api *API) health(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	results := make(map[string]string, len(api.checks))
	healthy := true
	for name, check := range api.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			healthy = false
			continue
		}
		results[name] = "ok"
	}
	return results, healthy
}

// selectionFromConfig builds the startup mode selection
func selectionFromConfig(c config.CaptureConfig) session.Selection {
	return session.Selection{
		Mode:  models.CaptureMode(c.Mode),
		Label: models.ResolutionLabel(c.Label),
		Pro:   c.Pro,
		Extras: resolver.Extras{
			AspectRatio:     c.PlaneRatio,
			LensField:       c.PlaneField,
			LapseMultiplier: c.LapseMultiplier,
			MainLens:        c.MainLens,
			HighFps:         c.HighFps,
			Encoding:        models.Encoding(c.Encoding),
		},
		Preview: models.PreviewSettings{
			Stabilization: c.Stabilization,
			SteadyFollow:  c.SteadyFollow,
			AntiFlicker:   c.AntiFlicker,
			HDR:           c.HDR,
		},
	}
}
