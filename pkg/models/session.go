package models

import "time"

// Phase is the session state machine's current step
type Phase string

// Phase constants
const (
	PhaseIdle               Phase = "idle"
	PhaseChangingResolution Phase = "changing_resolution"
	PhasePreviewReady       Phase = "preview_ready"
	PhaseCapturing          Phase = "capturing"
	PhaseRecording          Phase = "recording"
	PhaseLive               Phase = "live"
)

// SessionState is a read-only snapshot of the active capture session
type SessionState struct {
	SessionID   string          `json:"session_id"`
	Mode        CaptureMode     `json:"mode"`
	Label       ResolutionLabel `json:"label"`
	Phase       Phase           `json:"phase"`
	IsRecording bool            `json:"is_recording"`
	IsLive      bool            `json:"is_live"`
	IsStitching bool            `json:"is_stitching"`
	Bundle      *Bundle         `json:"bundle,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// RecordingSession tracks one video recording from start acknowledgement to stop
type RecordingSession struct {
	ID                   string      `json:"id"`
	Mode                 CaptureMode `json:"mode"`
	FilePath             string      `json:"file_path,omitempty"`
	StartTimestamp       time.Time   `json:"start_timestamp"`
	ElapsedSeconds       int         `json:"elapsed_seconds"`
	IsTimelapse          bool        `json:"is_timelapse"`
	LapseIntervalSeconds int         `json:"lapse_interval_seconds,omitempty"`
}

// EffectiveSeconds is the playback length of a timelapse recorded so far
func (r RecordingSession) EffectiveSeconds() int {
	if !r.IsTimelapse || r.LapseIntervalSeconds <= 0 {
		return r.ElapsedSeconds
	}
	return r.ElapsedSeconds / r.LapseIntervalSeconds
}

// RecordingStatus constants
const (
	RecordingStatusStopped   = "stopped"
	RecordingStatusStarting  = "starting"
	RecordingStatusRecording = "recording"
	RecordingStatusStopping  = "stopping"
)
