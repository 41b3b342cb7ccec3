package models

import "time"

// EventKind names a user-visible result of an orchestration step
type EventKind string

// EventKind constants
const (
	EventBusy              EventKind = "busy"
	EventIdle              EventKind = "idle"
	EventResolutionChanged EventKind = "resolution_changed"
	EventPhotoTaken        EventKind = "photo_taken"
	EventPreviewRestored   EventKind = "preview_restored"
	EventRecordingStarted  EventKind = "recording_started"
	EventRecordingTick     EventKind = "recording_tick"
	EventRecordingSaved    EventKind = "recording_saved"
	EventLiveStarting      EventKind = "live_starting"
	EventLiveStarted       EventKind = "live_started"
	EventLiveTick          EventKind = "live_tick"
	EventLivePaused        EventKind = "live_paused"
	EventLiveResumed       EventKind = "live_resumed"
	EventLiveStopped       EventKind = "live_stopped"
	EventLiveSegmentSaved  EventKind = "live_segment_saved"
	EventStitchProgress    EventKind = "stitch_progress"
	EventStitchState       EventKind = "stitch_state"
	EventStitchCompleted   EventKind = "stitch_completed"
	EventStitchFinished    EventKind = "stitch_finished"
	EventError             EventKind = "error"
)

// EventSource names the controller that produced an event
type EventSource string

// EventSource constants
const (
	SourceSession   EventSource = "session"
	SourceRecording EventSource = "recording"
	SourceLive      EventSource = "live"
	SourceStitch    EventSource = "stitch"
)

// Event is delivered to observers for every state change worth showing
type Event struct {
	Kind       EventKind   `json:"kind"`
	Source     EventSource `json:"source"`
	SessionID  string      `json:"session_id,omitempty"`
	TaskID     string      `json:"task_id,omitempty"`
	Mode       CaptureMode `json:"mode,omitempty"`
	Path       string      `json:"path,omitempty"`
	Elapsed    int         `json:"elapsed,omitempty"`
	Display    string      `json:"display,omitempty"`
	Effective  string      `json:"effective,omitempty"`
	Throughput int64       `json:"throughput,omitempty"`
	Progress   float64     `json:"progress,omitempty"`
	State      string      `json:"state,omitempty"`
	Message    string      `json:"message,omitempty"`
	Err        *Error      `json:"error,omitempty"`
	At         time.Time   `json:"at"`
}
