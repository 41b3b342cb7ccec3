// Package engine defines the collaborators the orchestrator drives: the
// capture engine, the live stream pusher and the stitch worker.
package engine

import (
	"context"

	"github.com/therealutkarshpriyadarshi/panocam/pkg/models"
)

// Result is the single completion value of an asynchronous engine call.
// Path is set by calls that produce or name a file.
type Result struct {
	Path string
	Err  error
}

// Settings are applied to the preview after a resolution change
type Settings struct {
	Stabilization bool
	SteadyFollow  bool
	FollowAxis    models.FollowAxis
	AntiFlicker   string
	HDR           bool
}

// PhotoRequest describes one still capture
type PhotoRequest struct {
	Bundle   models.Bundle
	Dir      string
	FileName string
}

// RecordRequest describes one recording
type RecordRequest struct {
	Bundle   models.Bundle
	Dir      string
	FileName string
}

// CaptureEngine performs capture and encoding. Every call returning a channel
// delivers exactly one Result and then closes it.
type CaptureEngine interface {
	ChangeResolution(ctx context.Context, b models.Bundle) <-chan Result
	ApplySettings(s Settings) error
	// RaisePreview temporarily switches the preview to the large-photo tier
	RaisePreview(ctx context.Context, b models.Bundle) <-chan Result
	TakePhoto(ctx context.Context, req PhotoRequest) <-chan Result
	RestorePreview(ctx context.Context) <-chan Result
	// StartRecord resolves when the recording has begun; Path is the file
	StartRecord(ctx context.Context, req RecordRequest) <-chan Result
	StopRecord(ctx context.Context) <-chan Result
	// Faults reports errors raised outside of any call, e.g. a sensor
	// dropping out during preview
	Faults() <-chan error
}

// PushParams configures one live push
type PushParams struct {
	URL          string
	Size         models.Size
	Fps          int
	Bitrate      int64
	Encoding     models.Encoding
	Panorama     bool
	RecordPath   string
	SplitSeconds int
}

// PushEventKind names a pusher callback
type PushEventKind string

// PushEventKind constants
const (
	PushStart       PushEventKind = "start"
	PushPrepared    PushEventKind = "prepared"
	PushPaused      PushEventKind = "paused"
	PushResumed     PushEventKind = "resumed"
	PushStopped     PushEventKind = "stopped"
	PushError       PushEventKind = "error"
	PushPathSuccess PushEventKind = "path_success"
)

// PushEvent is delivered by the pusher on the channel returned from Prepare
type PushEvent struct {
	Kind    PushEventKind
	Code    int
	Message string
	Path    string
}

// Pusher muxes and transmits a live stream. The event channel returned by
// Prepare stays open until the push stops or fails.
type Pusher interface {
	Prepare(ctx context.Context, p PushParams) (<-chan PushEvent, error)
	StartPush() error
	PausePush() error
	ResumePush() error
	StopPush() error
	// CurrentThroughput is the measured output in bits per second
	CurrentThroughput() int64
}

// Listener receives stitch worker callbacks. Calls may arrive on any goroutine.
type Listener interface {
	OnProgressChange(taskID string, percent float64)
	OnStateChange(taskID string, state models.StitchState)
	OnDeleteDeleting(taskID string)
	OnDeleteFinish(taskID string)
}

// StitchWorker blends multi-lens footage. It runs at most one task; calling
// Start with a paused task resumes it from its saved progress.
type StitchWorker interface {
	SetListener(l Listener)
	Start(task models.StitchTask) error
	Pause(taskID string) error
}

// Done returns a closed channel carrying r, for synchronous implementations
func Done(r Result) <-chan Result {
	ch := make(chan Result, 1)
	ch <- r
	close(ch)
	return ch
}
