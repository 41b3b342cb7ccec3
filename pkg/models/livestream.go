package models

import "time"

// LiveSession represents a live push from prepare to stop
type LiveSession struct {
	ID                string    `json:"id"`
	URL               string    `json:"url"`
	Resolution        Size      `json:"resolution"`
	Fps               int       `json:"fps"`
	Bitrate           int64     `json:"bitrate"` // in bps
	IsPanorama        bool      `json:"is_panorama"`
	RecordWhileLive   bool      `json:"record_while_live"`
	RecordPath        string    `json:"record_path,omitempty"`
	SplitSeconds      int       `json:"split_seconds,omitempty"`
	ElapsedSeconds    int       `json:"elapsed_seconds"`
	CurrentThroughput int64     `json:"current_throughput"` // in bits per second
	StartedAt         time.Time `json:"started_at"`
}

// LiveStatus constants
const (
	LiveStatusIdle      = "idle"      // No push
	LiveStatusStarting  = "starting"  // Prepare issued, pusher not started yet
	LiveStatusPreparing = "preparing" // Pusher started, waiting for prepared
	LiveStatusLive      = "live"      // Currently streaming
	LiveStatusPaused    = "paused"    // Push paused by the caller
)

// MaxRecordWhileLiveBitrate is the highest push bitrate that still allows a
// local recording alongside the stream
const MaxRecordWhileLiveBitrate = 15 * 1024 * 1024

// LiveTelemetry is the per-tick live status published to observers
type LiveTelemetry struct {
	SessionID         string `json:"session_id"`
	ElapsedSeconds    int    `json:"elapsed_seconds"`
	Display           string `json:"display"`
	CurrentThroughput int64  `json:"current_throughput"`
	Status            string `json:"status"`
}
