package models

import "time"

// StitchState is the lifecycle state of a stitch task
type StitchState string

// StitchState constants
const (
	StitchQueued  StitchState = "queued"
	StitchRunning StitchState = "running"
	StitchPaused  StitchState = "paused"
	StitchStopped StitchState = "stopped"
)

// StitchTask converts one unstitched recording directory into a panorama
type StitchTask struct {
	ID              string      `json:"id"`
	SourcePath      string      `json:"source_path"`
	OutputDims      Size        `json:"output_dims"`
	Fps             int         `json:"fps"`
	Bitrate         int         `json:"bitrate"` // 0 lets the worker choose
	DoubleStream    bool        `json:"double_stream"`
	Priority        int         `json:"priority"`
	State           StitchState `json:"state"`
	ProgressPercent float64     `json:"progress_percent"`
	OutputPath      string      `json:"output_path,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// StitchJob is the queue message requesting a stitch of SourcePath
type StitchJob struct {
	ID         string    `json:"id"`
	SourcePath string    `json:"source_path"`
	Priority   int       `json:"priority"`
	Bitrate    int       `json:"bitrate"`
	CreatedAt  time.Time `json:"created_at"`
}

// StitchPriority constants
const (
	StitchPriorityLow    = 0
	StitchPriorityNormal = 5
	StitchPriorityHigh   = 10
)
